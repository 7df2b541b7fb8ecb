// Package bridge carries buffers between two pipelines over a bridgenet
// transport: TX frames everything arriving on its input port onto a
// stream, RX fills its output port's buffers from the frames it reads.
package bridge

import (
	"fmt"
	"sync"

	"mport/internal/bridgenet"
	"mport/internal/bufpool"
	"mport/internal/comp"
	"mport/internal/conf"
	"mport/internal/flog"
	"mport/internal/port"
)

// TX is the sending half of a bridge: one input port whose buffers are
// framed onto a stream.
type TX struct {
	C  *port.Component
	In *port.Port

	cfg  *conf.Bridge
	pump *comp.Pump

	mu   sync.Mutex
	conn bridgenet.Conn
	strm bridgenet.Stream
}

func NewTX(name string, cfg *conf.Bridge) (*TX, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bridgetx %q needs a bridge configuration", name)
	}
	c, err := port.NewComponent(name)
	if err != nil {
		return nil, err
	}

	tx := &TX{C: c, cfg: cfg}
	c.Input = port.AllocPorts(c, 1, port.TypeInput)
	tx.In = c.Input[0]
	tx.In.Hooks.SetFormat = func(p *port.Port) error {
		p.BufferNumMin = 1
		p.BufferSizeMin = 1
		return nil
	}
	tx.In.Hooks.Enable = tx.enable
	tx.In.Hooks.Disable = tx.disable
	tx.In.Hooks.Flush = tx.disable
	tx.In.Hooks.Send = func(p *port.Port, h *bufpool.Header) error {
		return tx.pump.Submit(h)
	}
	tx.pump = comp.NewPump(tx.In, tx.process)
	return tx, nil
}

// enable dials the peer and opens the buffer stream.
func (tx *TX) enable(p *port.Port, cb port.BHCallback) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.strm != nil {
		return nil
	}

	conn, err := bridgenet.Dial(tx.cfg)
	if err != nil {
		return err
	}
	strm, err := conn.OpenStream()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open bridge stream: %w", err)
	}
	tx.conn, tx.strm = conn, strm
	flog.Infof("%s: bridge stream %d open to %s", p.Name(), strm.SID(), conn.RemoteAddr())
	return nil
}

func (tx *TX) disable(p *port.Port) error {
	tx.pump.Drain(func(h *bufpool.Header) {
		p.BufferHeaderCallback(h)
	})
	return nil
}

// Close tears the transport down and stops the worker. Disable the port
// first.
func (tx *TX) Close() {
	tx.mu.Lock()
	if tx.conn != nil {
		tx.conn.Close()
		tx.conn, tx.strm = nil, nil
	}
	tx.mu.Unlock()
	tx.pump.Close()
}

func (tx *TX) process(h *bufpool.Header) {
	tx.mu.Lock()
	strm := tx.strm
	tx.mu.Unlock()

	if strm == nil {
		h.Flags |= bufpool.FlagCorrupted
		tx.In.BufferHeaderCallback(h)
		return
	}

	f := bridgenet.Frame{
		Cmd:     uint32(h.Cmd),
		Flags:   h.Flags,
		PTS:     h.PTS,
		DTS:     h.DTS,
		Payload: h.Payload(),
	}
	if err := f.Write(strm); err != nil {
		flog.Errorf("%s: bridge write failed: %v", tx.In.Name(), err)
		tx.C.SendError(err)
	}
	tx.In.BufferHeaderCallback(h)
}
