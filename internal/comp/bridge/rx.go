package bridge

import (
	"fmt"
	"net"
	"sync"

	"mport/internal/bridgenet"
	"mport/internal/bufpool"
	"mport/internal/conf"
	"mport/internal/flog"
	"mport/internal/format"
	"mport/internal/port"
)

const frameDepth = 8

// RX is the receiving half of a bridge: one output port whose buffers
// are filled from the frames arriving on a stream. Enabling the port
// blocks until the TX peer connects.
type RX struct {
	C   *port.Component
	Out *port.Port

	cfg *conf.Bridge

	bufCh   chan *bufpool.Header
	frameCh chan *bridgenet.Frame
	quit    chan struct{}
	done    chan struct{}

	mu   sync.Mutex
	ln   bridgenet.Listener
	conn bridgenet.Conn
	buf  *bufpool.Header  // parked half of a pair
	frm  *bridgenet.Frame // parked half of a pair
}

func NewRX(name string, cfg *conf.Bridge) (*RX, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bridgerx %q needs a bridge configuration", name)
	}
	c, err := port.NewComponent(name)
	if err != nil {
		return nil, err
	}

	ln, err := bridgenet.Listen(cfg)
	if err != nil {
		return nil, err
	}

	rx := &RX{
		C:       c,
		cfg:     cfg,
		ln:      ln,
		bufCh:   make(chan *bufpool.Header, 1024),
		frameCh: make(chan *bridgenet.Frame, frameDepth),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	c.Output = port.AllocPorts(c, 1, port.TypeOutput)
	rx.Out = c.Output[0]
	rx.Out.Hooks.SetFormat = func(p *port.Port) error {
		if p.Format.Encoding == 0 {
			p.Format.Encoding = format.MakeFourCC('B', 'R', 'D', 'G')
		}
		p.BufferNumMin = 1
		p.BufferSizeMin = 1
		return nil
	}
	rx.Out.Hooks.Enable = rx.enable
	rx.Out.Hooks.Disable = rx.disable
	rx.Out.Hooks.Flush = rx.disable
	rx.Out.Hooks.Send = func(p *port.Port, h *bufpool.Header) error {
		rx.bufCh <- h
		return nil
	}

	go rx.run()
	return rx, nil
}

// Addr returns the listener address, useful when the configuration asked
// for an ephemeral port.
func (rx *RX) Addr() net.Addr {
	rx.mu.Lock()
	defer rx.mu.Unlock()
	return rx.ln.Addr()
}

// enable waits for the TX peer and starts the frame reader.
func (rx *RX) enable(p *port.Port, cb port.BHCallback) error {
	rx.mu.Lock()
	defer rx.mu.Unlock()

	if rx.conn != nil {
		return nil
	}

	conn, err := rx.ln.Accept()
	if err != nil {
		return fmt.Errorf("failed to accept bridge peer: %w", err)
	}
	strm, err := conn.AcceptStream()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to accept bridge stream: %w", err)
	}
	rx.conn = conn
	flog.Infof("%s: bridge stream %d open from %s", p.Name(), strm.SID(), conn.RemoteAddr())

	go rx.readLoop(strm)
	return nil
}

// readLoop decodes frames off the stream until it breaks. The channel
// depth is the backpressure: a slow pipeline stalls the transport rather
// than hoarding frames.
func (rx *RX) readLoop(strm bridgenet.Stream) {
	for {
		f := &bridgenet.Frame{}
		if err := f.Read(strm); err != nil {
			flog.Debugf("%s: bridge read ended: %v", rx.Out.Name(), err)
			f = &bridgenet.Frame{Flags: bufpool.FlagEOS}
		}
		select {
		case rx.frameCh <- f:
		case <-rx.quit:
			return
		}
		if f.Flags&bufpool.FlagEOS != 0 && len(f.Payload) == 0 && f.Cmd == 0 {
			return
		}
	}
}

func (rx *RX) disable(p *port.Port) error {
	for {
		select {
		case h := <-rx.bufCh:
			h.Length = 0
			p.BufferHeaderCallback(h)
			continue
		default:
		}
		break
	}
	rx.mu.Lock()
	if rx.buf != nil {
		h := rx.buf
		rx.buf = nil
		rx.mu.Unlock()
		h.Length = 0
		p.BufferHeaderCallback(h)
	} else {
		rx.mu.Unlock()
	}
	return nil
}

// Close tears the transport down and stops the worker. Disable the port
// first.
func (rx *RX) Close() {
	close(rx.quit)
	rx.mu.Lock()
	if rx.conn != nil {
		rx.conn.Close()
		rx.conn = nil
	}
	if rx.ln != nil {
		rx.ln.Close()
		rx.ln = nil
	}
	rx.mu.Unlock()
	<-rx.done
}

func (rx *RX) run() {
	defer close(rx.done)
	for {
		select {
		case <-rx.quit:
			return
		case h := <-rx.bufCh:
			rx.park(h, nil)
		case f := <-rx.frameCh:
			rx.park(nil, f)
		}
	}
}

func (rx *RX) park(h *bufpool.Header, f *bridgenet.Frame) {
	rx.C.ActionLock()
	defer rx.C.ActionUnlock()

	if h != nil && !rx.Out.IsEnabled() {
		h.Length = 0
		rx.Out.BufferHeaderCallback(h)
		return
	}

	rx.mu.Lock()
	if h != nil {
		rx.buf = h
	}
	if f != nil {
		rx.frm = f
	}
	if rx.buf == nil || rx.frm == nil {
		rx.mu.Unlock()
		return
	}
	h, f = rx.buf, rx.frm
	rx.buf, rx.frm = nil, nil
	rx.mu.Unlock()

	rx.deliver(h, f)
}

func (rx *RX) deliver(h *bufpool.Header, f *bridgenet.Frame) {
	n := uint32(len(f.Payload))
	if n > h.AllocSize() {
		flog.Warnf("%s: frame of %d bytes truncated to %d", rx.Out.Name(), n, h.AllocSize())
		n = h.AllocSize()
	}
	copy(h.Data[:n], f.Payload[:n])

	h.Cmd = format.FourCC(f.Cmd)
	h.Offset = 0
	h.Length = n
	h.Flags = f.Flags
	h.PTS = f.PTS
	h.DTS = f.DTS

	rx.Out.BufferHeaderCallback(h)
}
