package port

import (
	"mport/internal/bufpool"
	"mport/internal/flog"
	"mport/internal/status"
)

// transitIncrement accounts one more buffer in the component. The 0->1
// transition claims the drain gate.
func (p *Port) transitIncrement() {
	p.transitMu.Lock()
	if p.transitCount == 0 {
		<-p.transitSema
	}
	p.transitCount++
	p.transitMu.Unlock()
}

// transitDecrement accounts one buffer returned. The 1->0 transition
// reopens the drain gate.
func (p *Port) transitDecrement() {
	p.transitMu.Lock()
	p.transitCount--
	if p.transitCount == 0 {
		p.transitSema <- struct{}{}
	}
	count := p.transitCount
	p.transitMu.Unlock()

	if count < 0 {
		flog.Errorf("%s: buffer headers in transit < 0 (%d)", p.name, count)
	}
}

// transitWait blocks until nothing is in transit, leaving the gate
// posted.
func (p *Port) transitWait() {
	<-p.transitSema
	p.transitSema <- struct{}{}
}

// TransitCount returns the number of buffers currently out in the
// component.
func (p *Port) TransitCount() int {
	p.transitMu.Lock()
	defer p.transitMu.Unlock()
	return int(p.transitCount)
}

// SendBuffer hands a buffer header to the port.
func (p *Port) SendBuffer(h *bufpool.Header) error {
	if p == nil || h == nil {
		flog.Errorf("invalid port or buffer")
		return status.ErrInvalid
	}

	if h.Data == nil && p.Capabilities&CapPassthrough == 0 {
		flog.Errorf("%s: received invalid buffer header", p.name)
		return status.ErrInvalid
	}

	if p.Hooks.Send == nil {
		return status.ErrNotImplemented
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	if !p.enabled {
		return status.ErrInvalid
	}

	// Output ports deliver empty buffers to be filled.
	if p.Type == TypeOutput && h.Length != 0 {
		flog.Debugf("%s: given an output buffer with length != 0", p.name)
		h.Length = 0
	}

	p.transitIncrement()
	err := p.Hooks.Send(p, h)
	if err != nil {
		p.transitDecrement()
		flog.Errorf("%s: send failed: %v", p.name, err)
	} else {
		p.statsUpdate(StatsRx)
	}
	return err
}

// Flush discards the buffers held inside the component.
func (p *Port) Flush() error {
	if p == nil {
		return status.ErrInvalid
	}

	flog.Tracef("%s: flush", p.name)

	if p.Hooks.Flush == nil {
		return status.ErrNotImplemented
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	return p.Hooks.Flush(p)
}

// BufferHeaderCallback is how the component returns a buffer. It settles
// the in-transit accounting and forwards to whichever callback is
// currently installed.
func (p *Port) BufferHeaderCallback(h *bufpool.Header) {
	p.transitDecrement()

	if p.collectTxStats {
		p.statsUpdate(StatsTx)
	}

	if cb := p.getCallback(); cb != nil {
		cb(p, h)
	}
}

// EventSend delivers an event buffer through the port's callback. With no
// callback installed the event is lost: logged and released.
func (p *Port) EventSend(h *bufpool.Header) {
	if cb := p.getCallback(); cb != nil {
		cb(p, h)
		return
	}
	flog.Errorf("event lost on port %s (buffer header callback not defined)", p.name)
	h.Release()
}
