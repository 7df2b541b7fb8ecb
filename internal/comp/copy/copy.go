// Package copy is a filter component: every buffer arriving on its input
// port is copied into the next buffer available on its output port, with
// timing and flags carried across.
package copy

import (
	"sync"

	"mport/internal/bufpool"
	"mport/internal/flog"
	"mport/internal/format"
	"mport/internal/port"
)

const chanDepth = 1024

// Comp is a one-in, one-out copy component.
type Comp struct {
	C   *port.Component
	In  *port.Port
	Out *port.Port

	inCh  chan *bufpool.Header
	outCh chan *bufpool.Header
	quit  chan struct{}
	done  chan struct{}

	// slot parks the half of a pair that arrived first. Guarded by mu,
	// always taken after the component action lock.
	mu  sync.Mutex
	in  *bufpool.Header
	out *bufpool.Header
}

func New(name string) (*Comp, error) {
	c, err := port.NewComponent(name)
	if err != nil {
		return nil, err
	}

	cp := &Comp{
		C:     c,
		inCh:  make(chan *bufpool.Header, chanDepth),
		outCh: make(chan *bufpool.Header, chanDepth),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}

	c.Input = port.AllocPorts(c, 1, port.TypeInput)
	c.Output = port.AllocPorts(c, 1, port.TypeOutput)
	cp.In = c.Input[0]
	cp.Out = c.Output[0]

	cp.In.Hooks.SetFormat = cp.setFormatInput
	cp.In.Hooks.Enable = func(*port.Port, port.BHCallback) error { return nil }
	cp.In.Hooks.Disable = cp.disableInput
	cp.In.Hooks.Flush = cp.disableInput
	cp.In.Hooks.Send = func(p *port.Port, h *bufpool.Header) error {
		cp.inCh <- h
		return nil
	}

	cp.Out.Hooks.SetFormat = cp.setFormatOutput
	cp.Out.Hooks.Enable = func(*port.Port, port.BHCallback) error { return nil }
	cp.Out.Hooks.Disable = cp.disableOutput
	cp.Out.Hooks.Flush = cp.disableOutput
	cp.Out.Hooks.Send = func(p *port.Port, h *bufpool.Header) error {
		cp.outCh <- h
		return nil
	}

	go cp.run()
	return cp, nil
}

// FromParams builds a copy component from pipeline component params.
func FromParams(name string, params map[string]string) (*Comp, error) {
	return New(name)
}

// Close stops the component's worker. Disable both ports first.
func (cp *Comp) Close() {
	close(cp.quit)
	<-cp.done
}

func (cp *Comp) setFormatInput(p *port.Port) error {
	p.BufferNumMin = 1
	p.BufferSizeMin = 1
	// The output mirrors whatever arrives on the input.
	format.Copy(cp.Out.Format, p.Format)
	return nil
}

func (cp *Comp) setFormatOutput(p *port.Port) error {
	p.BufferNumMin = 1
	p.BufferSizeMin = 1
	return nil
}

func (cp *Comp) disableInput(p *port.Port) error {
	for {
		select {
		case h := <-cp.inCh:
			p.BufferHeaderCallback(h)
			continue
		default:
		}
		break
	}
	cp.mu.Lock()
	if cp.in != nil {
		h := cp.in
		cp.in = nil
		cp.mu.Unlock()
		p.BufferHeaderCallback(h)
	} else {
		cp.mu.Unlock()
	}
	return nil
}

func (cp *Comp) disableOutput(p *port.Port) error {
	for {
		select {
		case h := <-cp.outCh:
			h.Length = 0
			p.BufferHeaderCallback(h)
			continue
		default:
		}
		break
	}
	cp.mu.Lock()
	if cp.out != nil {
		h := cp.out
		cp.out = nil
		cp.mu.Unlock()
		h.Length = 0
		p.BufferHeaderCallback(h)
	} else {
		cp.mu.Unlock()
	}
	return nil
}

func (cp *Comp) run() {
	defer close(cp.done)
	for {
		select {
		case <-cp.quit:
			return
		case h := <-cp.inCh:
			cp.park(h, nil)
		case h := <-cp.outCh:
			cp.park(nil, h)
		}
	}
}

// park stores one arriving buffer and processes a pair when complete.
func (cp *Comp) park(in, out *bufpool.Header) {
	cp.C.ActionLock()
	defer cp.C.ActionUnlock()

	// Events pass straight back without consuming an output buffer.
	if in != nil && in.Cmd != 0 {
		cp.In.BufferHeaderCallback(in)
		return
	}

	// A buffer that raced a disable goes straight back instead of
	// parking, or it would never drain.
	if in != nil && !cp.In.IsEnabled() {
		cp.In.BufferHeaderCallback(in)
		return
	}
	if out != nil && !cp.Out.IsEnabled() {
		out.Length = 0
		cp.Out.BufferHeaderCallback(out)
		return
	}

	cp.mu.Lock()
	if in != nil {
		cp.in = in
	}
	if out != nil {
		cp.out = out
	}
	if cp.in == nil || cp.out == nil {
		cp.mu.Unlock()
		return
	}
	in, out = cp.in, cp.out
	cp.in, cp.out = nil, nil
	cp.mu.Unlock()

	cp.process(in, out)
}

func (cp *Comp) process(in, out *bufpool.Header) {
	n := in.Length
	if n > out.AllocSize() {
		flog.Debugf("%s: truncating %d byte payload to %d", cp.Out.Name(), n, out.AllocSize())
		n = out.AllocSize()
	}
	copy(out.Data[:n], in.Payload()[:n])

	out.Offset = 0
	out.Length = n
	out.Flags = in.Flags
	out.PTS = in.PTS
	out.DTS = in.DTS

	cp.In.BufferHeaderCallback(in)
	cp.Out.BufferHeaderCallback(out)
}
