package bufpool

import (
	"sync"

	"mport/internal/status"
)

// ReleaseCB runs when a header drops to its last reference. Returning true
// keeps the header in the pool queue; returning false means the callback
// has taken the header out of the pool again.
type ReleaseCB func(pool *Pool, h *Header, userdata any) bool

// PayloadAlloc and PayloadFree let a pool draw payload memory from a port
// or component instead of the heap.
type (
	PayloadAlloc func(size uint32) ([]byte, error)
	PayloadFree  func(payload []byte)
)

// Pool is a bounded, restartable source of buffer headers. All headers
// start queued; Queue().Get acquires one, the last Release re-queues it.
type Pool struct {
	headers []*Header
	queue   *Queue

	mu       sync.Mutex
	cb       ReleaseCB
	userdata any

	free PayloadFree
}

// New creates a pool of n headers, each with payloadSize bytes of heap
// payload. payloadSize 0 creates headers without payload memory, for
// passthrough use.
func New(n int, payloadSize uint32) (*Pool, error) {
	return NewWithPayload(n, payloadSize, nil, nil)
}

// NewWithPayload creates a pool whose payload memory comes from alloc and
// goes back through free on Destroy. A nil alloc falls back to the heap.
func NewWithPayload(n int, payloadSize uint32, alloc PayloadAlloc, free PayloadFree) (*Pool, error) {
	if n <= 0 {
		return nil, status.ErrInvalid
	}

	// Without an allocator, payloads that fit the frame slab come from
	// it and go back to it on Destroy.
	useSlab := alloc == nil && payloadSize > 0 &&
		Frames != nil && int(payloadSize) <= Frames.defaultSize
	if useSlab && free == nil {
		free = func(b []byte) {
			b = b[:cap(b)]
			Frames.Put(&b)
		}
	}

	p := &Pool{queue: NewQueue(), free: free}
	for i := 0; i < n; i++ {
		h := &Header{pool: p}
		if payloadSize > 0 {
			switch {
			case alloc != nil:
				data, err := alloc(payloadSize)
				if err != nil || data == nil {
					p.destroyPayloads()
					if err == nil {
						err = status.ErrNoMemory
					}
					return nil, err
				}
				h.Data = data[:payloadSize]
			case useSlab:
				h.Data = *Frames.GetN(int(payloadSize))
			default:
				h.Data = make([]byte, payloadSize)
			}
		}
		h.refs.Store(1)
		p.headers = append(p.headers, h)
		p.queue.Put(h)
	}
	return p, nil
}

// Queue exposes the pool's free-header queue.
func (p *Pool) Queue() *Queue {
	return p.queue
}

// Size returns the number of headers owned by the pool.
func (p *Pool) Size() int {
	return len(p.headers)
}

// CallbackSet installs (or clears, with nil) the release callback.
func (p *Pool) CallbackSet(cb ReleaseCB, userdata any) {
	p.mu.Lock()
	p.cb = cb
	p.userdata = userdata
	p.mu.Unlock()
}

// Destroy releases the payload memory and detaches every header from the
// pool. Callers must have drained outstanding headers back first; a
// detached header released afterwards simply never re-enters a queue.
func (p *Pool) Destroy() {
	p.CallbackSet(nil, nil)
	p.destroyPayloads()
	for _, h := range p.headers {
		h.pool = nil
	}
	p.headers = nil
}

func (p *Pool) destroyPayloads() {
	if p.free == nil {
		return
	}
	for _, h := range p.headers {
		if h.Data != nil {
			p.free(h.Data[:cap(h.Data)])
			h.Data = nil
		}
	}
}
