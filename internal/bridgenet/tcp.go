package bridgenet

import (
	"fmt"
	"net"

	"github.com/xtaci/smux"

	"mport/internal/conf"
	"mport/internal/flog"
)

// muxStream wraps a smux stream to implement the Stream interface.
type muxStream struct {
	*smux.Stream
}

func (s *muxStream) SID() int {
	return int(s.ID())
}

// muxConn multiplexes streams over a single reliable byte connection.
type muxConn struct {
	conn    net.Conn
	session *smux.Session
}

func newMuxConn(conn net.Conn, server bool) (*muxConn, error) {
	var session *smux.Session
	var err error
	if server {
		session, err = smux.Server(conn, smux.DefaultConfig())
	} else {
		session, err = smux.Client(conn, smux.DefaultConfig())
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create smux session: %w", err)
	}
	return &muxConn{conn: conn, session: session}, nil
}

func (c *muxConn) OpenStream() (Stream, error) {
	strm, err := c.session.OpenStream()
	if err != nil {
		return nil, err
	}
	return &muxStream{strm}, nil
}

func (c *muxConn) AcceptStream() (Stream, error) {
	strm, err := c.session.AcceptStream()
	if err != nil {
		return nil, err
	}
	return &muxStream{strm}, nil
}

func (c *muxConn) Close() error {
	var firstErr error
	if err := c.session.Close(); err != nil {
		firstErr = err
	}
	if err := c.conn.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (c *muxConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *muxConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func dialTCP(cfg *conf.Bridge) (Conn, error) {
	conn, err := net.Dial("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial bridge peer: %w", err)
	}
	flog.Debugf("bridge TCP connection established to %s", cfg.Addr)
	return newMuxConn(conn, false)
}

type tcpListener struct {
	ln net.Listener
}

func (l *tcpListener) Accept() (Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return newMuxConn(conn, true)
}

func (l *tcpListener) Close() error   { return l.ln.Close() }
func (l *tcpListener) Addr() net.Addr { return l.ln.Addr() }

func listenTCP(cfg *conf.Bridge) (Listener, error) {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}
	flog.Debugf("bridge TCP listening on %s", ln.Addr())
	return &tcpListener{ln: ln}, nil
}
