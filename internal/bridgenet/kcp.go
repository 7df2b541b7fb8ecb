package bridgenet

import (
	"crypto/sha1"
	"fmt"
	"net"

	kcp "github.com/xtaci/kcp-go/v5"
	"golang.org/x/crypto/pbkdf2"

	"mport/internal/conf"
	"mport/internal/flog"
)

func kcpBlockCrypt(cfg *conf.KCP) (kcp.BlockCrypt, error) {
	key := pbkdf2.Key([]byte(cfg.Key), []byte(cfg.Salt), 4096, 32, sha1.New)
	block, err := kcp.NewAESBlockCrypt(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create KCP block crypt: %w", err)
	}
	return block, nil
}

func tuneKCP(sess *kcp.UDPSession, cfg *conf.KCP) {
	sess.SetNoDelay(cfg.NoDelay, cfg.Interval, cfg.Resend, cfg.NoCongestion)
	sess.SetWindowSize(cfg.SndWnd, cfg.RcvWnd)
	sess.SetStreamMode(true)
}

func dialKCP(cfg *conf.Bridge) (Conn, error) {
	block, err := kcpBlockCrypt(cfg.KCP)
	if err != nil {
		return nil, err
	}

	sess, err := kcp.DialWithOptions(cfg.Addr, block, cfg.KCP.DataShards, cfg.KCP.ParityShards)
	if err != nil {
		return nil, fmt.Errorf("failed to dial bridge peer: %w", err)
	}
	tuneKCP(sess, cfg.KCP)

	flog.Debugf("bridge KCP connection established to %s", cfg.Addr)
	return newMuxConn(sess, false)
}

type kcpListener struct {
	ln  *kcp.Listener
	cfg *conf.KCP
}

func (l *kcpListener) Accept() (Conn, error) {
	sess, err := l.ln.AcceptKCP()
	if err != nil {
		return nil, err
	}
	tuneKCP(sess, l.cfg)
	return newMuxConn(sess, true)
}

func (l *kcpListener) Close() error   { return l.ln.Close() }
func (l *kcpListener) Addr() net.Addr { return l.ln.Addr() }

func listenKCP(cfg *conf.Bridge) (Listener, error) {
	block, err := kcpBlockCrypt(cfg.KCP)
	if err != nil {
		return nil, err
	}

	ln, err := kcp.ListenWithOptions(cfg.Addr, block, cfg.KCP.DataShards, cfg.KCP.ParityShards)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}

	flog.Debugf("bridge KCP listening on %s", ln.Addr())
	return &kcpListener{ln: ln, cfg: cfg.KCP}, nil
}
