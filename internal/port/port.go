// Package port implements the component-agnostic core of the runtime: the
// port state machine, the connection subsystem, the in-transit accounting
// that makes disable synchronous, and parameter I/O.
//
// A port is a typed endpoint of a component carrying one elementary
// stream. The component supplies its behaviour through the Hooks vtable;
// the core supplies thread safety, buffer accounting and the plumbing
// between connected ports.
package port

import (
	"fmt"
	"sync"
	"sync/atomic"

	"mport/internal/bufpool"
	"mport/internal/flog"
	"mport/internal/format"
	"mport/internal/status"
)

// Type of a port.
type Type int

const (
	TypeUnknown Type = iota
	TypeControl
	TypeInput
	TypeOutput
)

func (t Type) role() string {
	switch t {
	case TypeControl:
		return "ctr"
	case TypeInput:
		return "in"
	case TypeOutput:
		return "out"
	default:
		return "invalid"
	}
}

// Port capabilities.
const (
	// CapPassthrough marks a port that needs no payload memory (e.g.
	// DMA-backed).
	CapPassthrough uint32 = 1 << 0
	// CapAllocation marks the side that prefers to allocate the pool of
	// a core-managed connection.
	CapAllocation uint32 = 1 << 1
)

// BHCallback receives buffer headers returned by the component.
type BHCallback func(p *Port, h *bufpool.Header)

// Hooks is the component's implementation of a port. Every field is
// optional; a nil hook surfaces as ErrNotImplemented from the operation
// that needs it.
type Hooks struct {
	SetFormat    func(p *Port) error
	Enable       func(p *Port, cb BHCallback) error
	Disable      func(p *Port) error
	Flush        func(p *Port) error
	Send         func(p *Port, h *bufpool.Header) error
	ParameterSet func(p *Port, param *Parameter) error
	ParameterGet func(p *Port, param *Parameter) error

	// Connect is called with the second port on connection and nil on
	// disconnection. Returning nil means the component drives the
	// connection itself; ErrNotImplemented hands it to the core.
	Connect func(p *Port, other *Port) error

	PayloadAlloc func(p *Port, size uint32) ([]byte, error)
	PayloadFree  func(p *Port, payload []byte)
}

// Port is one endpoint of a component.
//
// The geometry fields split three ways: the component publishes minima
// and recommendations from its SetFormat hook, the client adjusts the
// working values, and Enable validates them.
type Port struct {
	Type      Type
	Index     int
	Component *Component

	// Format is owned by the port for its whole life. Component and
	// client code mutate it in place; replacing the pointer is detected
	// and healed by FormatCommit.
	Format *format.Format

	BufferNum            uint32
	BufferNumMin         uint32
	BufferNumRecommended uint32

	BufferSize            uint32
	BufferSizeMin         uint32
	BufferSizeRecommended uint32

	Capabilities uint32

	Hooks Hooks

	// Module is the component's per-port state. The core never reads it.
	Module any

	mu      sync.Mutex // port lock
	sendMu  sync.Mutex // serialises send and enabled observation
	statsMu sync.Mutex

	transitMu    sync.Mutex
	transitCount int32
	transitSema  chan struct{} // one slot, full iff transitCount == 0

	cbMu sync.Mutex // serialises writes; reads go through getCallback
	cb   BHCallback

	enabled bool // guarded by sendMu

	// connected is set under both port locks by Connect (both ports
	// disabled) and cleared on both sides under one port lock by
	// Disconnect; the dataplane callbacks read it lock-free.
	connected          atomic.Pointer[Port]
	coreOwnsConnection bool
	allocatePool       bool
	poolForConnection  *bufpool.Pool

	stats struct {
		rx CoreStats
		tx CoreStats
	}
	collectTxStats bool

	formatPtrCopy *format.Format
	name          string
}

// Alloc creates a port on the given component with its format allocated,
// its synchronisation state initialised and the default connect hook
// installed.
func Alloc(c *Component, typ Type) *Port {
	p := &Port{
		Type:        typ,
		Component:   c,
		Format:      format.New(),
		transitSema: make(chan struct{}, 1),
	}
	p.transitSema <- struct{}{} // posted: nothing in transit
	p.formatPtrCopy = p.Format
	p.Hooks.Connect = connectDefault
	p.collectTxStats = c != nil && c.CollectStats
	p.nameUpdate()
	flog.Tracef("%s: created", p.name)
	return p
}

// Free releases a port. It tolerates nil and asserts the format pointer
// invariant on the way out.
func Free(p *Port) {
	if p == nil {
		return
	}
	flog.Tracef("%s: freeing", p.name)
	if p.Format != p.formatPtrCopy {
		flog.Errorf("%s: port format was overwritten (%p/%p)", p.name, p.Format, p.formatPtrCopy)
	}
	p.Format = nil
	p.formatPtrCopy = nil
	p.Module = nil
}

// AllocPorts creates n ports of one type, numbered 0..n-1.
func AllocPorts(c *Component, n int, typ Type) []*Port {
	ports := make([]*Port, n)
	for i := range ports {
		ports[i] = Alloc(c, typ)
		ports[i].Index = i
		ports[i].nameUpdate()
	}
	return ports
}

// FreePorts frees an array of ports.
func FreePorts(ports []*Port) {
	for _, p := range ports {
		Free(p)
	}
}

// Name returns the port's display name,
// "<component>:<role>:<index>(<fourcc>)" with the encoding omitted when
// none is set.
func (p *Port) Name() string {
	return p.name
}

// nameUpdate rebuilds the name from the current state. Callers serialise
// through the port lock once the port is shared.
func (p *Port) nameUpdate() {
	component := "<none>"
	if p.Component != nil {
		component = p.Component.Name
	}
	name := fmt.Sprintf("%s:%s:%d", component, p.Type.role(), p.Index)
	if p.Format != nil && p.Format.Encoding != 0 {
		name += fmt.Sprintf("(%s)", p.Format.Encoding)
	}
	p.name = name
}

// IsEnabled reports whether the port is enabled, observed under the send
// lock so it is consistent with concurrent senders.
func (p *Port) IsEnabled() bool {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	return p.enabled
}

// ConnectedPort returns the peer of a connected port, or nil.
func (p *Port) ConnectedPort() *Port {
	return p.connected.Load()
}

// checkFormatPtr validates the format pointer invariant, healing the port
// by restoring the recorded pointer on violation.
func (p *Port) checkFormatPtr() error {
	if p.Format == p.formatPtrCopy {
		return nil
	}
	flog.Errorf("%s: port format has been overwritten, resetting %p to %p",
		p.name, p.Format, p.formatPtrCopy)
	p.Format = p.formatPtrCopy
	return status.ErrFault
}

// FormatCommit commits the port format to the component.
func (p *Port) FormatCommit() error {
	if p == nil {
		return status.ErrInvalid
	}
	if err := p.checkFormatPtr(); err != nil {
		return err
	}

	flog.Tracef("%s: committing format %s", p.name, p.Format)

	if p.Hooks.SetFormat == nil {
		flog.Errorf("%s: no component implementation", p.name)
		return status.ErrNotImplemented
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.Hooks.SetFormat(p)
	p.nameUpdate()

	// Make sure the buffer geometry stays sensible.
	p.clampBufferRequirements()
	// The set_format call may have altered the outputs.
	if p.Type == TypeInput && p.Component != nil {
		for _, out := range p.Component.Output {
			out.clampBufferRequirements()
		}
	}
	return err
}

func (p *Port) clampBufferRequirements() {
	if p.BufferSize < p.BufferSizeMin {
		p.BufferSize = p.BufferSizeMin
	}
	if p.BufferNum < p.BufferNumMin {
		p.BufferNum = p.BufferNumMin
	}
}

func (p *Port) setCallback(cb BHCallback) {
	p.cbMu.Lock()
	p.cb = cb
	p.cbMu.Unlock()
}

// getCallback reads the callback slot without the port lock. Writes are
// serialised by the enable/disable critical sections; the send lock
// provides the happens-before edge for the send path.
func (p *Port) getCallback() BHCallback {
	p.cbMu.Lock()
	defer p.cbMu.Unlock()
	return p.cb
}
