package bridgenet

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"mport/internal/conf"
	"mport/internal/flog"
)

type quicStream struct {
	*quic.Stream
}

func (s *quicStream) SID() int {
	return int(s.StreamID())
}

type quicConn struct {
	conn   *quic.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

func newQUICConn(qconn *quic.Conn) *quicConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &quicConn{conn: qconn, ctx: ctx, cancel: cancel}
}

func (c *quicConn) OpenStream() (Stream, error) {
	ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
	defer cancel()

	stream, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return &quicStream{stream}, nil
}

func (c *quicConn) AcceptStream() (Stream, error) {
	stream, err := c.conn.AcceptStream(c.ctx)
	if err != nil {
		return nil, err
	}
	return &quicStream{stream}, nil
}

func (c *quicConn) Close() error {
	c.cancel()
	return c.conn.CloseWithError(0, "connection closed")
}

func (c *quicConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *quicConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func quicConfig(cfg *conf.QUIC) *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  time.Duration(cfg.IdleTimeout) * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}
}

func dialQUIC(cfg *conf.Bridge) (Conn, error) {
	tlsConfig, err := cfg.QUIC.GenerateTLSConfig("client")
	if err != nil {
		return nil, fmt.Errorf("failed to generate TLS config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	qconn, err := quic.DialAddr(ctx, cfg.Addr, tlsConfig, quicConfig(cfg.QUIC))
	if err != nil {
		return nil, fmt.Errorf("QUIC connection attempt failed: %w", err)
	}

	flog.Debugf("bridge QUIC connection established to %s", cfg.Addr)
	return newQUICConn(qconn), nil
}

type quicListener struct {
	ln *quic.Listener
}

func (l *quicListener) Accept() (Conn, error) {
	qconn, err := l.ln.Accept(context.Background())
	if err != nil {
		return nil, err
	}
	return newQUICConn(qconn), nil
}

func (l *quicListener) Close() error   { return l.ln.Close() }
func (l *quicListener) Addr() net.Addr { return l.ln.Addr() }

func listenQUIC(cfg *conf.Bridge) (Listener, error) {
	tlsConfig, err := cfg.QUIC.GenerateTLSConfig("server")
	if err != nil {
		return nil, fmt.Errorf("failed to generate TLS config: %w", err)
	}

	ln, err := quic.ListenAddr(cfg.Addr, tlsConfig, quicConfig(cfg.QUIC))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}

	flog.Debugf("bridge QUIC listening on %s", ln.Addr())
	return &quicListener{ln: ln}, nil
}
