// Package null is a sink component: it consumes every buffer arriving on
// its input port and hands the header straight back.
package null

import (
	"mport/internal/bufpool"
	"mport/internal/comp"
	"mport/internal/flog"
	"mport/internal/port"
)

// Comp is a sink component with one input port.
type Comp struct {
	C  *port.Component
	In *port.Port

	pump *comp.Pump

	// Consumed counts the data buffers swallowed so far. Read it after
	// disable.
	Consumed int64
}

func New(name string) (*Comp, error) {
	c, err := port.NewComponent(name)
	if err != nil {
		return nil, err
	}

	n := &Comp{C: c}
	c.Input = port.AllocPorts(c, 1, port.TypeInput)
	n.In = c.Input[0]
	n.In.Hooks.SetFormat = func(p *port.Port) error {
		p.BufferNumMin = 1
		p.BufferSizeMin = 1
		return nil
	}
	n.In.Hooks.Enable = func(*port.Port, port.BHCallback) error { return nil }
	n.In.Hooks.Disable = n.disable
	n.In.Hooks.Flush = n.disable
	n.In.Hooks.Send = func(p *port.Port, h *bufpool.Header) error {
		return n.pump.Submit(h)
	}
	n.pump = comp.NewPump(n.In, n.process)
	return n, nil
}

// FromParams builds a sink from pipeline component params.
func FromParams(name string, params map[string]string) (*Comp, error) {
	return New(name)
}

// Close stops the component's worker. Disable the port first.
func (n *Comp) Close() {
	n.pump.Close()
}

func (n *Comp) disable(p *port.Port) error {
	n.pump.Drain(func(h *bufpool.Header) {
		p.BufferHeaderCallback(h)
	})
	return nil
}

func (n *Comp) process(h *bufpool.Header) {
	if h.Cmd == 0 && h.Length > 0 {
		n.Consumed++
		flog.Tracef("%s: consumed %d bytes, pts %d", n.In.Name(), h.Length, h.PTS)
	}
	n.In.BufferHeaderCallback(h)
}
