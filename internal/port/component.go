package port

import (
	"sync"
	"sync/atomic"

	"mport/internal/bufpool"
	"mport/internal/event"
	"mport/internal/flog"
)

// Number and size of the event buffers a component keeps aside. The size
// covers a format-changed event, the largest one the core synthesises.
const eventSlots = 4

// Component owns a set of ports and implements their hooks. The core only
// relies on the pieces here: the port arrays, the action lock, the event
// pool and the reference count that keeps the component alive while
// payload memory is out.
type Component struct {
	Name string

	// CollectStats makes the ports record tx statistics as well as rx.
	// Set before any port is allocated.
	CollectStats bool

	Control *Port
	Input   []*Port
	Output  []*Port

	// actionMu serialises the core against the component's processing
	// goroutines.
	actionMu  sync.Mutex
	eventPool *bufpool.Pool
	refs      atomic.Int32
}

// NewComponent creates a component shell with its control port and event
// pool. The caller allocates the input/output ports and installs hooks.
func NewComponent(name string) (*Component, error) {
	c := &Component{Name: name}
	c.refs.Store(1)

	pool, err := bufpool.New(eventSlots, event.FormatChangedSize)
	if err != nil {
		return nil, err
	}
	c.eventPool = pool
	c.Control = Alloc(c, TypeControl)
	return c, nil
}

// ActionLock serialises callers against the component's processing
// goroutines. Components hold it while their workers touch port state.
func (c *Component) ActionLock() { c.actionMu.Lock() }

// ActionUnlock releases the action lock.
func (c *Component) ActionUnlock() { c.actionMu.Unlock() }

// Acquire adds a reference to the component.
func (c *Component) Acquire() { c.refs.Add(1) }

// Release drops a reference.
func (c *Component) Release() {
	if left := c.refs.Add(-1); left < 0 {
		flog.Errorf("component %s released below zero references", c.Name)
	}
}

// Refs returns the current reference count.
func (c *Component) Refs() int { return int(c.refs.Load()) }

// EventPool exposes the component's event buffer pool.
func (c *Component) EventPool() *bufpool.Pool { return c.eventPool }

// SendError delivers an error event to the control port. Event losses are
// logged, not returned.
func (c *Component) SendError(oerr error) {
	if c == nil || c.Control == nil {
		return
	}
	h, err := c.Control.EventGet(event.Error)
	if err != nil {
		flog.Errorf("%s: could not get an event buffer for error %v: %v", c.Name, oerr, err)
		return
	}
	msg := oerr.Error()
	n := copy(h.Data[:cap(h.Data)], msg)
	h.Data = h.Data[:cap(h.Data)]
	h.Offset = 0
	h.Length = uint32(n)
	c.Control.EventSend(h)
}
