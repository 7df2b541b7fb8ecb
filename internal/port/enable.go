package port

import (
	"mport/internal/bufpool"
	"mport/internal/flog"
	"mport/internal/status"
)

// Enable starts processing on a port. cb receives returned buffer
// headers; it must be nil on a connected port and non-nil otherwise.
func (p *Port) Enable(cb BHCallback) error {
	if p == nil {
		return status.ErrInvalid
	}

	flog.Tracef("%s: enable, buffers (%d/%d/%d,%d/%d/%d)", p.name,
		p.BufferNum, p.BufferNumRecommended, p.BufferNumMin,
		p.BufferSize, p.BufferSizeRecommended, p.BufferSizeMin)

	if p.Hooks.Enable == nil {
		return status.ErrNotImplemented
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enableLocked(cb)
}

func (p *Port) enableLocked(cb BHCallback) error {
	connected := p.connected.Load()

	if p.enabled {
		flog.Debugf("%s: already enabled", p.name)
		return status.ErrInvalid
	}

	// Use the maxima between connected ports for the buffer geometry.
	if connected != nil && p.Type == TypeOutput {
		connected.mu.Lock()
		if connected.BufferNum > p.BufferNum {
			p.BufferNum = connected.BufferNum
		}
		if connected.BufferSize > p.BufferSize {
			p.BufferSize = connected.BufferSize
		}
		connected.mu.Unlock()
	}

	if p.BufferNum < p.BufferNumMin {
		flog.Errorf("%s: buffer_num too small (%d/%d)", p.name, p.BufferNum, p.BufferNumMin)
		return status.ErrInvalid
	}
	if p.BufferSize < p.BufferSizeMin {
		flog.Errorf("%s: buffer_size too small (%d/%d)", p.name, p.BufferSize, p.BufferSizeMin)
		return status.ErrInvalid
	}

	// Exactly one of {connection, callback}.
	if (connected == nil) == (cb == nil) {
		flog.Errorf("%s: connected port %p, callback %p not allowed", p.name, connected, cb)
		return status.ErrInvalid
	}

	p.setCallback(cb)
	if err := p.Hooks.Enable(p, cb); err != nil {
		return err
	}

	p.sendMu.Lock()
	p.enabled = true
	p.sendMu.Unlock()

	if connected != nil {
		if p.Type == TypeInput {
			p.setCallback(connectedInputCB)
			return nil
		}
		return p.enableLockedConnected(connected)
	}
	return nil
}

// enableLockedConnected finishes enabling the output side of a
// connection: it brings the input peer up with matching geometry and,
// when the core owns the connection, creates the pool and primes the
// output. Called with the output lock held.
func (output *Port) enableLockedConnected(input *Port) error {
	var err error

	output.setCallback(connectedOutputCB)

	input.mu.Lock()

	// The peer must be re-enabled if its buffer config needs to change.
	if input.enabled &&
		(input.BufferSize != output.BufferSize || input.BufferNum != output.BufferNum) {
		if err = input.disableLocked(); err != nil {
			goto finish
		}
	}

	input.BufferSize = output.BufferSize
	input.BufferNum = output.BufferNum

	if !input.enabled {
		if err = input.enableLocked(nil); err != nil {
			goto finish
		}
	}

	if output.allocatePool {
		// Decide which port hosts the pool.
		poolPort := input
		if output.Capabilities&CapAllocation != 0 {
			poolPort = output
		}
		bufferSize := poolPort.BufferSize
		// Pass-through ports need no payload memory.
		if output.Capabilities&CapPassthrough != 0 {
			bufferSize = 0
		}
		bufferNum := poolPort.BufferNum

		// Pool creation runs without either port lock held.
		input.mu.Unlock()
		if poolPort == output {
			output.mu.Unlock()
		}

		pool, poolErr := poolPort.poolCreate(int(bufferNum), bufferSize)

		if poolPort == output {
			output.mu.Lock()
		}
		input.mu.Lock()

		if poolErr != nil {
			err = poolErr
			goto finish
		}

		poolPort.poolForConnection = pool
		pool.CallbackSet(connectedPoolCB, output)

		err = output.populateFromPool(pool)
	}

finish:
	// Both locks are held here.
	if err != nil && input.enabled {
		input.disableLocked()
	}

	input.mu.Unlock()

	if err != nil {
		output.disableLocked()
	}
	return err
}

// poolCreate builds a pool whose payload memory comes from the port's
// payload allocator.
func (p *Port) poolCreate(n int, payloadSize uint32) (*bufpool.Pool, error) {
	pool, err := bufpool.NewWithPayload(n, payloadSize,
		func(size uint32) ([]byte, error) { return p.PayloadAlloc(size) },
		func(payload []byte) { p.PayloadFree(payload) })
	if err != nil {
		flog.Errorf("%s: failed to create pool of %dx%d buffers: %v", p.name, n, payloadSize, err)
		return nil, err
	}
	return pool, nil
}

// populateFromPool pulls every buffer out of the pool and sends it into
// the output port.
func (p *Port) populateFromPool(pool *bufpool.Pool) error {
	if p.Hooks.Send == nil {
		return status.ErrNotImplemented
	}

	flog.Tracef("%s: populating from pool of %d buffers", p.name, pool.Size())

	for i := uint32(0); i < p.BufferNum; i++ {
		h := pool.Queue().Get()
		if h == nil {
			flog.Errorf("%s: too few buffers in the pool", p.name)
			return status.ErrNoMemory
		}
		if err := p.SendBuffer(h); err != nil {
			flog.Errorf("%s: failed to send buffer to port: %v", p.name, err)
			h.Release()
			return err
		}
	}
	return nil
}

// Disable stops processing on a port. It returns only once every buffer
// in transit has come back.
func (p *Port) Disable() error {
	if p == nil {
		return status.ErrInvalid
	}

	flog.Tracef("%s: disable", p.name)

	if p.Hooks.Disable == nil {
		return status.ErrNotImplemented
	}

	var pool *bufpool.Pool

	p.mu.Lock()
	err := p.disableLocked()
	if err == nil {
		pool = p.poolForConnection
	}
	p.poolForConnection = nil
	p.mu.Unlock()

	// Ownership left the port under the lock; destruction happens
	// outside it.
	if err == nil && pool != nil {
		pool.Destroy()
	}
	return err
}

func (p *Port) disableLocked() error {
	if !p.enabled {
		flog.Errorf("%s: port is not enabled", p.name)
		return status.ErrInvalid
	}

	// The fence: concurrent senders observe disabled from here on.
	p.sendMu.Lock()
	p.enabled = false
	p.sendMu.Unlock()

	p.Component.ActionLock()

	// Buffers returned during the drain must not be re-sent.
	if p.poolForConnection != nil {
		p.poolForConnection.CallbackSet(nil, nil)
	}

	err := p.Hooks.Disable(p)
	p.Component.ActionUnlock()

	if err != nil {
		flog.Errorf("%s: port could not be disabled: %v", p.name, err)
		p.sendMu.Lock()
		p.enabled = true
		p.sendMu.Unlock()
		return err
	}

	// Wait for all the buffers to have come back from the component.
	flog.Debugf("%s: waiting for %d buffers left in transit", p.name, p.TransitCount())
	p.transitWait()
	flog.Debugf("%s: no buffers left in transit", p.name)

	p.setCallback(nil)

	if peer := p.connected.Load(); peer != nil && p.Type == TypeOutput {
		peer.Disable()
	}
	return nil
}
