// Package comp holds the building blocks shared by the bundled
// components: the parameter helper their constructors use and the buffer
// pump that drives a port's processing from its own goroutine.
package comp

import (
	"fmt"
	"strconv"

	"mport/internal/bufpool"
	"mport/internal/port"
)

// pumpDepth bounds the buffers parked between the send hook and the
// worker. Deeper than any sane port geometry so submits do not overrun;
// Submit never blocks, it fails when the queue is full.
const pumpDepth = 1024

// Pump queues the buffers sent into one port and processes them on a
// dedicated goroutine, under the component's action lock. Components park
// their Send hook on Submit and their Disable/Flush hooks on Drain.
type Pump struct {
	p    *port.Port
	ch   chan *bufpool.Header
	quit chan struct{}
	done chan struct{}
}

// NewPump starts the worker goroutine. fn processes one buffer and is
// responsible for returning it through the port's BufferHeaderCallback.
func NewPump(p *port.Port, fn func(h *bufpool.Header)) *Pump {
	w := &Pump{
		p:    p,
		ch:   make(chan *bufpool.Header, pumpDepth),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go w.run(fn)
	return w
}

func (w *Pump) run(fn func(h *bufpool.Header)) {
	defer close(w.done)
	for {
		select {
		case <-w.quit:
			return
		case h := <-w.ch:
			c := w.p.Component
			c.ActionLock()
			fn(h)
			c.ActionUnlock()
		}
	}
}

// Submit hands a buffer to the worker. It is the body of a Send hook.
func (w *Pump) Submit(h *bufpool.Header) error {
	select {
	case w.ch <- h:
		return nil
	default:
		return fmt.Errorf("%s: pump overrun", w.p.Name())
	}
}

// Drain pulls every parked buffer out of the queue and hands it to fn,
// typically to return it unprocessed. On the disable path the core holds
// the action lock around the hook, which keeps the worker from racing the
// drain; the core's Flush calls its hook without the action lock, so a
// drain from a flush hook can run alongside the worker.
func (w *Pump) Drain(fn func(h *bufpool.Header)) {
	for {
		select {
		case h := <-w.ch:
			fn(h)
		default:
			return
		}
	}
}

// Close stops the worker goroutine. Drain first; parked buffers do not
// survive Close.
func (w *Pump) Close() {
	close(w.quit)
	<-w.done
}

// ParamInt reads an integer component parameter with a default.
func ParamInt(params map[string]string, key string, def int) (int, error) {
	s, ok := params[key]
	if !ok || s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("param %q must be an integer: %v", key, err)
	}
	return v, nil
}
