// Package gen is a source component: it fills every buffer sent to its
// output port with a deterministic counter pattern. Useful as the head of
// a demo pipeline and as a traffic generator in tests.
package gen

import (
	"time"

	"mport/internal/bufpool"
	"mport/internal/comp"
	"mport/internal/flog"
	"mport/internal/format"
	"mport/internal/port"
)

const (
	defaultFrames = 300

	bufferNumMin  = 2
	bufferSizeMin = 64
)

// Comp is a generator component with one output port.
type Comp struct {
	C   *port.Component
	Out *port.Port

	pump   *comp.Pump
	frames int64
	count  int64
}

// New builds a generator producing frames buffers before flagging EOS.
// frames <= 0 selects the default.
func New(name string, frames int) (*Comp, error) {
	c, err := port.NewComponent(name)
	if err != nil {
		return nil, err
	}

	g := &Comp{C: c, frames: int64(frames)}
	if g.frames <= 0 {
		g.frames = defaultFrames
	}

	c.Output = port.AllocPorts(c, 1, port.TypeOutput)
	g.Out = c.Output[0]
	g.Out.Hooks.SetFormat = g.setFormat
	g.Out.Hooks.Enable = func(*port.Port, port.BHCallback) error { return nil }
	g.Out.Hooks.Disable = g.disable
	g.Out.Hooks.Flush = g.flush
	g.Out.Hooks.Send = g.send
	g.pump = comp.NewPump(g.Out, g.process)
	return g, nil
}

// FromParams builds a generator from pipeline component params.
func FromParams(name string, params map[string]string) (*Comp, error) {
	frames, err := comp.ParamInt(params, "frames", defaultFrames)
	if err != nil {
		return nil, err
	}
	return New(name, frames)
}

// Close stops the component's worker. Disable the port first.
func (g *Comp) Close() {
	g.pump.Close()
}

func (g *Comp) setFormat(p *port.Port) error {
	p.Format.Type = format.TypeVideo
	p.BufferNumMin = bufferNumMin
	p.BufferSizeMin = bufferSizeMin
	p.BufferNumRecommended = 4
	if p.BufferSizeRecommended == 0 {
		p.BufferSizeRecommended = 4096
	}
	return nil
}

func (g *Comp) send(p *port.Port, h *bufpool.Header) error {
	return g.pump.Submit(h)
}

func (g *Comp) disable(p *port.Port) error {
	g.pump.Drain(func(h *bufpool.Header) {
		h.Length = 0
		p.BufferHeaderCallback(h)
	})
	g.count = 0
	return nil
}

func (g *Comp) flush(p *port.Port) error {
	g.pump.Drain(func(h *bufpool.Header) {
		h.Length = 0
		p.BufferHeaderCallback(h)
	})
	return nil
}

// process fills one output buffer with the next frame.
func (g *Comp) process(h *bufpool.Header) {
	p := g.Out
	if !p.IsEnabled() {
		h.Length = 0
		p.BufferHeaderCallback(h)
		return
	}

	if g.count >= g.frames {
		// Ease off once the stream has ended; connected pipelines keep
		// recycling buffers until they are torn down.
		time.Sleep(5 * time.Millisecond)
		h.Length = 0
		h.Flags |= bufpool.FlagEOS
		p.BufferHeaderCallback(h)
		return
	}

	n := p.BufferSize
	if n > h.AllocSize() {
		n = h.AllocSize()
	}
	pattern := byte(g.count)
	data := h.Data[:n]
	for i := range data {
		data[i] = pattern
	}

	h.Offset = 0
	h.Length = n
	h.Flags = bufpool.FlagFrameStart | bufpool.FlagFrameEnd
	h.PTS = g.count
	h.DTS = g.count
	g.count++
	if g.count == g.frames {
		h.Flags |= bufpool.FlagEOS
		flog.Debugf("%s: generated last frame %d", p.Name(), g.count)
	}

	p.BufferHeaderCallback(h)
}
