package port

import (
	"mport/internal/bufpool"
	"mport/internal/event"
	"mport/internal/flog"
	"mport/internal/format"
	"mport/internal/status"
)

// connectDefault is installed on every port at alloc time. Reporting
// ErrNotImplemented signals that the core manages the connection; this is
// a sentinel, not a failure.
func connectDefault(p *Port, other *Port) error {
	return status.ErrNotImplemented
}

func setInputOrOutput(p *Port, input, output **Port) {
	switch p.Type {
	case TypeInput:
		*input = p
	case TypeOutput:
		*output = p
	}
}

// Connect links an output port to an input port. If the output's connect
// hook accepts, the component drives the data flow; otherwise the core
// manages it with its own pool and callbacks.
func Connect(p, other *Port) error {
	if p == nil || other == nil {
		flog.Errorf("invalid port")
		return status.ErrInvalid
	}

	flog.Tracef("connecting %s to %s", p.name, other.name)

	if p.Hooks.Connect == nil || other.Hooks.Connect == nil {
		flog.Errorf("at least one connect hook is missing")
		return status.ErrNotImplemented
	}

	var input, output *Port
	setInputOrOutput(p, &input, &output)
	setInputOrOutput(other, &input, &output)

	if input == nil || output == nil {
		flog.Errorf("invalid port types used: %v, %v", p.Type, other.Type)
		return status.ErrInvalid
	}

	// Always lock output then input to avoid deadlock.
	output.mu.Lock()
	defer output.mu.Unlock()
	input.mu.Lock()
	defer input.mu.Unlock()

	if p.connected.Load() != nil || other.connected.Load() != nil {
		problem := p
		if p.connected.Load() == nil {
			problem = other
		}
		flog.Errorf("%s is already connected to %s", problem.name, problem.connected.Load().name)
		return status.ErrAlreadyConnected
	}

	if p.enabled || other.enabled {
		flog.Errorf("neither port is allowed to be enabled already: %v, %v", p.enabled, other.enabled)
		return status.ErrInvalid
	}

	p.connected.Store(other)
	other.connected.Store(p)

	p.coreOwnsConnection = false
	other.coreOwnsConnection = false
	output.allocatePool = false

	// The component takes ownership of the link if its hook accepts.
	if output.Hooks.Connect(p, other) == nil {
		return nil
	}

	p.coreOwnsConnection = true
	other.coreOwnsConnection = true
	output.allocatePool = true
	return nil
}

// Disconnect breaks the connection from either end, disabling the port
// first if needed.
func (p *Port) Disconnect() error {
	if p == nil {
		flog.Errorf("invalid port")
		return status.ErrInvalid
	}

	flog.Tracef("%s: disconnect", p.name)

	p.mu.Lock()
	defer p.mu.Unlock()

	other := p.connected.Load()
	if other == nil {
		flog.Debugf("%s is not connected", p.name)
		return status.ErrNotConnected
	}

	if p.enabled {
		if err := p.disableLocked(); err != nil {
			flog.Errorf("could not disable %s: %v", p.name, err)
			return err
		}
		if p.poolForConnection != nil {
			p.poolForConnection.Destroy()
		}
		p.poolForConnection = nil
	}

	if !p.coreOwnsConnection {
		if err := p.Hooks.Connect(p, nil); err != nil {
			flog.Errorf("disconnection of %s failed: %v", p.name, err)
			return err
		}
	}

	// The peer is disabled too, so clearing its pointer under this lock
	// alone is safe: the symmetric state only changes through connect and
	// disconnect, which need both ports disabled.
	p.connected.Store(nil)
	other.connected.Store(nil)
	return nil
}

// connectedInputCB receives buffers returned on a connected input port
// and releases them back to their pool.
func connectedInputCB(p *Port, h *bufpool.Header) {
	flog.Tracef("%s: buffer returned on connected input, releasing", p.name)
	h.Release()
}

// connectedOutputCB receives buffers produced on a connected output port
// and forwards them to the input peer.
func connectedOutputCB(p *Port, h *bufpool.Header) {
	peer := p.ConnectedPort()

	if h.Cmd != 0 {
		if ev := event.GetFormatChanged(h); ev != nil {
			// Apply the change, then pass the event downstream.
			format.FullCopy(p.Format, &ev.Format)
			err := p.FormatCommit()
			if err != nil {
				flog.Errorf("format commit failed on port %s: %v", p.name, err)
			}
			if err == nil {
				err = peer.SendBuffer(h)
			}
			if err != nil {
				p.Component.SendError(err)
				h.Release()
			}
			return
		}

		// Other events are not forwarded between connected ports.
		h.Release()
		return
	}

	if p.IsEnabled() {
		if err := peer.SendBuffer(h); err != nil {
			flog.Errorf("%s could not send buffer on port %s: %v", p.name, peer.name, err)
			h.Release()
		}
		return
	}

	// The port is disabled, so this is a flushed buffer going back to
	// the pool rather than downstream.
	h.Release()
}

// connectedPoolCB fires when a buffer finishes its journey and re-enters
// the connection pool: recycle it straight into the output port. The pool
// keeps the buffer only when the send failed.
func connectedPoolCB(pool *bufpool.Pool, h *bufpool.Header, userdata any) bool {
	p, ok := userdata.(*Port)
	if !ok {
		return true
	}

	h.Reset()

	// The pool keeps the buffer when the send did not take it.
	return p.SendBuffer(h) != nil
}
