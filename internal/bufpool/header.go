// Package bufpool provides reference-counted buffer headers, the queues
// they travel through, and bounded pools with a release callback.
package bufpool

import (
	"sync/atomic"

	"mport/internal/flog"
	"mport/internal/format"
)

// Buffer flags.
const (
	FlagEOS         uint32 = 1 << 0
	FlagFrameStart  uint32 = 1 << 1
	FlagFrameEnd    uint32 = 1 << 2
	FlagKeyframe    uint32 = 1 << 3
	FlagDiscontinue uint32 = 1 << 4
	FlagCorrupted   uint32 = 1 << 5
)

// Header is a reference-counted descriptor for one payload. Whoever holds
// a header owns it until it is sent, returned, or released; the last
// release hands it back to its pool.
type Header struct {
	// Cmd is zero for data buffers and an event fourcc for event buffers.
	Cmd format.FourCC

	// Data is the payload memory; cap(Data) is the allocated size. Nil
	// only on passthrough ports.
	Data []byte

	Offset uint32
	Length uint32
	Flags  uint32
	PTS    int64
	DTS    int64

	// UserData is an opaque client slot, untouched by the core and the
	// pool.
	UserData any

	refs atomic.Int32
	pool *Pool
}

// AllocSize returns the payload capacity in bytes.
func (h *Header) AllocSize() uint32 {
	return uint32(cap(h.Data))
}

// Payload returns the valid region of the data.
func (h *Header) Payload() []byte {
	return h.Data[h.Offset : h.Offset+h.Length]
}

// Reset clears the per-journey fields, leaving the payload memory alone.
func (h *Header) Reset() {
	h.Cmd = 0
	h.Length = 0
	h.Offset = 0
	h.Flags = 0
	h.PTS = 0
	h.DTS = 0
}

// Acquire adds a reference to the header.
func (h *Header) Acquire() {
	h.refs.Add(1)
}

// Refs returns the current reference count.
func (h *Header) Refs() int {
	return int(h.refs.Load())
}

// Release drops one reference. On the last one the owning pool's release
// callback decides whether the header re-enters the pool queue: true
// means keep it in the pool, false means the callback took it out again.
// Without a callback the header always re-enters the queue.
func (h *Header) Release() {
	if left := h.refs.Add(-1); left > 0 {
		return
	} else if left < 0 {
		flog.Errorf("buffer header %p released below zero references", h)
		h.refs.Store(0)
		return
	}

	pool := h.pool
	if pool == nil {
		return
	}

	// Back to one reference for its next journey out of the pool.
	h.refs.Store(1)

	pool.mu.Lock()
	cb, userdata := pool.cb, pool.userdata
	pool.mu.Unlock()

	if cb != nil && !cb(pool, h, userdata) {
		return
	}
	pool.queue.Put(h)
}
