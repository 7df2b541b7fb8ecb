package port

import (
	"mport/internal/bufpool"
	"mport/internal/event"
	"mport/internal/flog"
	"mport/internal/format"
	"mport/internal/status"
)

// PayloadAlloc allocates payload memory for the port, through the
// component's allocator when it has one and the heap otherwise. The port
// holds a component reference until the payload is freed again.
func (p *Port) PayloadAlloc(size uint32) ([]byte, error) {
	if p == nil {
		return nil, status.ErrInvalid
	}

	flog.Tracef("%s: payload alloc, size %d", p.name, size)

	if size == 0 {
		return nil, status.ErrInvalid
	}

	var mem []byte
	if p.Hooks.PayloadAlloc == nil {
		// Revert to using the heap.
		mem = make([]byte, size)
	} else {
		p.mu.Lock()
		var err error
		mem, err = p.Hooks.PayloadAlloc(p, size)
		p.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}

	if mem == nil {
		return nil, status.ErrNoMemory
	}

	// Keep the component alive until the payload has been freed.
	p.Component.Acquire()
	return mem, nil
}

// PayloadFree releases payload memory obtained from PayloadAlloc and
// drops the component reference taken with it.
func (p *Port) PayloadFree(payload []byte) {
	if p == nil || payload == nil {
		return
	}

	flog.Tracef("%s: payload free, size %d", p.name, len(payload))

	if p.Hooks.PayloadFree != nil {
		p.mu.Lock()
		p.Hooks.PayloadFree(p, payload)
		p.mu.Unlock()
	}
	p.Component.Release()
}

// EventGet draws an event buffer from the component's event pool and
// initialises it for the given event. Format-changed buffers get their
// payload region reserved and zeroed.
func (p *Port) EventGet(eventID format.FourCC) (*bufpool.Header, error) {
	if p == nil || eventID == 0 {
		return nil, status.ErrInvalid
	}

	flog.Tracef("%s: event get %s", p.name, eventID)

	h := p.Component.EventPool().Queue().Get()
	if h == nil {
		flog.Errorf("%s: no event buffer left for %s", p.name, eventID)
		return nil, status.ErrNoSpace
	}

	h.Cmd = eventID
	h.Offset = 0
	h.Length = 0

	if eventID == event.FormatChanged {
		size := event.FormatChangedSize
		if h.AllocSize() < size {
			flog.Errorf("%s: event buffer for %s is too small (%d/%d)",
				p.name, eventID, h.AllocSize(), size)
			h.Release()
			return nil, status.ErrNoSpace
		}
		region := h.Data[:size]
		for i := range region {
			region[i] = 0
		}
		h.Length = size
	}

	return h, nil
}
