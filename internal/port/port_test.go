package port

import (
	"errors"
	"sync"
	"testing"

	"mport/internal/bufpool"
	"mport/internal/event"
	"mport/internal/format"
	"mport/internal/status"
)

// fakeComp drives a port the way a component implementation would: sent
// buffers are held until the test returns them.
type fakeComp struct {
	c *Component

	mu   sync.Mutex
	held []*bufpool.Header

	setFormatCalls int
	setFormatErr   error
	enableErr      error
	disableErr     error
	sendErr        error
	flushCalls     int

	// autoReturn makes the send hook hand every buffer back from its
	// own goroutine, like a free-running component. wg tracks the
	// in-flight returns.
	autoReturn bool
	wg         sync.WaitGroup
}

func newFakeComp(t *testing.T, name string) *fakeComp {
	t.Helper()
	c, err := NewComponent(name)
	if err != nil {
		t.Fatalf("NewComponent(%q): %v", name, err)
	}
	return &fakeComp{c: c}
}

func (f *fakeComp) install(p *Port, numMin, sizeMin uint32) {
	p.Hooks.SetFormat = func(p *Port) error {
		f.setFormatCalls++
		p.BufferNumMin = numMin
		p.BufferSizeMin = sizeMin
		return f.setFormatErr
	}
	p.Hooks.Enable = func(*Port, BHCallback) error { return f.enableErr }
	p.Hooks.Disable = func(*Port) error { return f.disableErr }
	p.Hooks.Flush = func(p *Port) error {
		f.flushCalls++
		f.returnAll(p)
		return nil
	}
	p.Hooks.Send = func(p *Port, h *bufpool.Header) error {
		if f.sendErr != nil {
			return f.sendErr
		}
		if f.autoReturn {
			f.wg.Add(1)
			go func() {
				p.BufferHeaderCallback(h)
				f.wg.Done()
			}()
			return nil
		}
		f.mu.Lock()
		f.held = append(f.held, h)
		f.mu.Unlock()
		return nil
	}
}

// output builds a ready-to-enable output port.
func (f *fakeComp) output(numMin, sizeMin uint32) *Port {
	f.c.Output = append(f.c.Output, Alloc(f.c, TypeOutput))
	p := f.c.Output[len(f.c.Output)-1]
	p.Index = len(f.c.Output) - 1
	f.install(p, numMin, sizeMin)
	p.BufferNumMin = numMin
	p.BufferSizeMin = sizeMin
	p.BufferNum = numMin
	p.BufferSize = sizeMin
	return p
}

func (f *fakeComp) input(numMin, sizeMin uint32) *Port {
	f.c.Input = append(f.c.Input, Alloc(f.c, TypeInput))
	p := f.c.Input[len(f.c.Input)-1]
	p.Index = len(f.c.Input) - 1
	f.install(p, numMin, sizeMin)
	p.BufferNumMin = numMin
	p.BufferSizeMin = sizeMin
	p.BufferNum = numMin
	p.BufferSize = sizeMin
	return p
}

func (f *fakeComp) heldCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.held)
}

// returnOne hands the oldest held buffer back through the core.
func (f *fakeComp) returnOne(p *Port) bool {
	f.mu.Lock()
	if len(f.held) == 0 {
		f.mu.Unlock()
		return false
	}
	h := f.held[0]
	f.held = f.held[1:]
	f.mu.Unlock()
	p.BufferHeaderCallback(h)
	return true
}

func (f *fakeComp) returnAll(p *Port) {
	for f.returnOne(p) {
	}
}

func discardCB(p *Port, h *bufpool.Header) {}

func TestAllocDefaults(t *testing.T) {
	f := newFakeComp(t, "cam")
	p := Alloc(f.c, TypeOutput)

	if p.Format == nil {
		t.Fatal("Alloc left the format nil")
	}
	if p.Format != p.formatPtrCopy {
		t.Error("format pointer copy not recorded")
	}
	if p.Hooks.Connect == nil {
		t.Fatal("default connect hook not installed")
	}
	if err := p.Hooks.Connect(p, nil); !errors.Is(err, status.ErrNotImplemented) {
		t.Errorf("default connect hook returned %v, want ErrNotImplemented", err)
	}
	if p.TransitCount() != 0 {
		t.Errorf("new port has %d buffers in transit", p.TransitCount())
	}
	// The drain gate starts posted.
	done := make(chan struct{})
	go func() {
		p.transitWait()
		close(done)
	}()
	<-done

	Free(p)
}

func TestAllocPortsNumbering(t *testing.T) {
	f := newFakeComp(t, "cam")
	ports := AllocPorts(f.c, 3, TypeInput)
	defer FreePorts(ports)

	for i, p := range ports {
		if p.Index != i {
			t.Errorf("ports[%d].Index = %d", i, p.Index)
		}
		want := "cam:in:" + string(rune('0'+i))
		if p.Name() != want {
			t.Errorf("ports[%d].Name() = %q, want %q", i, p.Name(), want)
		}
	}
}

func TestPortName(t *testing.T) {
	f := newFakeComp(t, "enc")
	p := Alloc(f.c, TypeOutput)
	defer Free(p)

	if p.Name() != "enc:out:0" {
		t.Errorf("Name() = %q, want enc:out:0", p.Name())
	}

	f.install(p, 1, 1)
	p.Format.Encoding = format.MakeFourCC('h', '2', '6', '4')
	if err := p.FormatCommit(); err != nil {
		t.Fatalf("FormatCommit: %v", err)
	}
	if p.Name() != "enc:out:0(h264)" {
		t.Errorf("Name() = %q, want enc:out:0(h264)", p.Name())
	}
}

func TestFormatCommit(t *testing.T) {
	f := newFakeComp(t, "dec")
	p := f.output(3, 512)

	p.BufferNum = 1
	p.BufferSize = 16
	if err := p.FormatCommit(); err != nil {
		t.Fatalf("FormatCommit: %v", err)
	}
	if f.setFormatCalls != 1 {
		t.Errorf("set_format called %d times, want 1", f.setFormatCalls)
	}
	// Geometry is clamped up to the minima published by the hook.
	if p.BufferNum != 3 || p.BufferSize != 512 {
		t.Errorf("geometry not clamped: num %d size %d", p.BufferNum, p.BufferSize)
	}
}

func TestFormatCommitMissingHook(t *testing.T) {
	f := newFakeComp(t, "dec")
	p := Alloc(f.c, TypeInput)
	defer Free(p)

	if err := p.FormatCommit(); !errors.Is(err, status.ErrNotImplemented) {
		t.Errorf("FormatCommit = %v, want ErrNotImplemented", err)
	}
}

func TestFormatCommitClampsOutputsOnInputCommit(t *testing.T) {
	f := newFakeComp(t, "dec")
	in := f.input(1, 1)
	out := f.output(4, 4096)
	out.BufferNum = 0
	out.BufferSize = 0

	if err := in.FormatCommit(); err != nil {
		t.Fatalf("FormatCommit: %v", err)
	}
	if out.BufferNum != 4 || out.BufferSize != 4096 {
		t.Errorf("output not re-clamped: num %d size %d", out.BufferNum, out.BufferSize)
	}
}

func TestFormatPointerClobberHealsAndFaults(t *testing.T) {
	f := newFakeComp(t, "dec")
	p := f.output(1, 1)
	good := p.Format

	p.Format = format.New()
	if err := p.FormatCommit(); !errors.Is(err, status.ErrFault) {
		t.Fatalf("FormatCommit = %v, want ErrFault", err)
	}
	if p.Format != good {
		t.Fatal("format pointer was not restored")
	}

	// The port heals and stays usable.
	if err := p.FormatCommit(); err != nil {
		t.Errorf("FormatCommit after heal = %v", err)
	}
}

func TestEnableContract(t *testing.T) {
	fa := newFakeComp(t, "a")
	fb := newFakeComp(t, "b")
	out := fa.output(1, 64)
	in := fb.input(1, 64)

	// Disconnected port with no callback.
	if err := out.Enable(nil); !errors.Is(err, status.ErrInvalid) {
		t.Errorf("Enable(nil) on disconnected = %v, want ErrInvalid", err)
	}

	if err := Connect(out, in); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// Connected port with a callback.
	if err := out.Enable(discardCB); !errors.Is(err, status.ErrInvalid) {
		t.Errorf("Enable(cb) on connected = %v, want ErrInvalid", err)
	}
}

func TestEnableValidatesGeometry(t *testing.T) {
	f := newFakeComp(t, "a")
	p := f.output(2, 1024)

	p.BufferNum = 1
	if err := p.Enable(discardCB); !errors.Is(err, status.ErrInvalid) {
		t.Errorf("Enable with buffer_num below min = %v, want ErrInvalid", err)
	}
	p.BufferNum = 2
	p.BufferSize = 512
	if err := p.Enable(discardCB); !errors.Is(err, status.ErrInvalid) {
		t.Errorf("Enable with buffer_size below min = %v, want ErrInvalid", err)
	}
}

func TestEnableDisableRoundTrip(t *testing.T) {
	f := newFakeComp(t, "a")
	p := f.output(1, 64)

	if err := p.Enable(discardCB); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if !p.IsEnabled() {
		t.Fatal("port not enabled")
	}
	if err := p.Enable(discardCB); !errors.Is(err, status.ErrInvalid) {
		t.Errorf("double Enable = %v, want ErrInvalid", err)
	}

	if err := p.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if p.IsEnabled() {
		t.Fatal("port still enabled")
	}
	if p.getCallback() != nil {
		t.Error("callback not nulled by disable")
	}
	if err := p.Disable(); !errors.Is(err, status.ErrInvalid) {
		t.Errorf("double Disable = %v, want ErrInvalid", err)
	}
}

func TestDisableRestoresEnabledOnHookFailure(t *testing.T) {
	f := newFakeComp(t, "a")
	p := f.output(1, 64)

	if err := p.Enable(discardCB); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	f.disableErr = errors.New("stuck")
	if err := p.Disable(); err == nil {
		t.Fatal("Disable succeeded despite hook failure")
	}
	if !p.IsEnabled() {
		t.Error("is_enabled not restored after failed disable")
	}

	f.disableErr = nil
	if err := p.Disable(); err != nil {
		t.Fatalf("Disable after clearing error: %v", err)
	}
}

func TestSendToDisabledPort(t *testing.T) {
	f := newFakeComp(t, "a")
	p := f.output(1, 64)

	if err := p.Enable(discardCB); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := p.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}

	h := &bufpool.Header{Data: make([]byte, 64)}
	if err := p.SendBuffer(h); !errors.Is(err, status.ErrInvalid) {
		t.Errorf("SendBuffer on disabled port = %v, want ErrInvalid", err)
	}
	if p.TransitCount() != 0 {
		t.Errorf("transit count changed: %d", p.TransitCount())
	}
}

func TestSendValidation(t *testing.T) {
	f := newFakeComp(t, "a")
	p := f.output(1, 64)
	if err := p.Enable(discardCB); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	defer func() {
		f.returnAll(p)
		p.Disable()
	}()

	// Nil payload is only valid on passthrough ports.
	if err := p.SendBuffer(&bufpool.Header{}); !errors.Is(err, status.ErrInvalid) {
		t.Errorf("SendBuffer with nil data = %v, want ErrInvalid", err)
	}

	// Output buffers are delivered empty.
	h := &bufpool.Header{Data: make([]byte, 64), Length: 13}
	if err := p.SendBuffer(h); err != nil {
		t.Fatalf("SendBuffer: %v", err)
	}
	if h.Length != 0 {
		t.Errorf("output buffer length not reset, got %d", h.Length)
	}
}

func TestSendPassthroughAllowsNilData(t *testing.T) {
	f := newFakeComp(t, "a")
	p := f.output(1, 64)
	p.Capabilities |= CapPassthrough
	if err := p.Enable(discardCB); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := p.SendBuffer(&bufpool.Header{}); err != nil {
		t.Fatalf("SendBuffer on passthrough port: %v", err)
	}
	f.returnAll(p)
	if err := p.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
}

func TestSendFailureUnwindsTransit(t *testing.T) {
	f := newFakeComp(t, "a")
	p := f.output(1, 64)
	if err := p.Enable(discardCB); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	f.sendErr = errors.New("queue full")
	h := &bufpool.Header{Data: make([]byte, 64)}
	if err := p.SendBuffer(h); err == nil {
		t.Fatal("SendBuffer succeeded despite hook failure")
	}
	if p.TransitCount() != 0 {
		t.Errorf("transit not unwound: %d", p.TransitCount())
	}
	f.sendErr = nil
	if err := p.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
}

func TestUnconnectedHappyPath(t *testing.T) {
	f := newFakeComp(t, "cam")
	p := f.output(2, 1024)

	if err := p.FormatCommit(); err != nil {
		t.Fatalf("FormatCommit: %v", err)
	}

	var mu sync.Mutex
	var returns int
	cb := func(p *Port, h *bufpool.Header) {
		mu.Lock()
		returns++
		mu.Unlock()
	}
	if err := p.Enable(cb); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	h1 := &bufpool.Header{Data: make([]byte, 1024)}
	h2 := &bufpool.Header{Data: make([]byte, 1024)}
	if err := p.SendBuffer(h1); err != nil {
		t.Fatalf("SendBuffer: %v", err)
	}
	if got := p.TransitCount(); got != 1 {
		t.Errorf("transit after first send = %d, want 1", got)
	}
	if err := p.SendBuffer(h2); err != nil {
		t.Fatalf("SendBuffer: %v", err)
	}
	if got := p.TransitCount(); got != 2 {
		t.Errorf("transit after second send = %d, want 2", got)
	}

	f.returnOne(p)
	if got := p.TransitCount(); got != 1 {
		t.Errorf("transit after first return = %d, want 1", got)
	}
	f.returnOne(p)
	if got := p.TransitCount(); got != 0 {
		t.Errorf("transit after second return = %d, want 0", got)
	}

	// Everything is back, so disable returns synchronously.
	if err := p.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if returns != 2 {
		t.Errorf("callback fired %d times, want 2", returns)
	}
}

func TestFlush(t *testing.T) {
	f := newFakeComp(t, "a")
	p := f.output(1, 64)
	if err := p.Enable(discardCB); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	h := &bufpool.Header{Data: make([]byte, 64)}
	if err := p.SendBuffer(h); err != nil {
		t.Fatalf("SendBuffer: %v", err)
	}
	if err := p.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if f.flushCalls != 1 {
		t.Errorf("flush hook called %d times, want 1", f.flushCalls)
	}
	if p.TransitCount() != 0 {
		t.Errorf("transit after flush = %d, want 0", p.TransitCount())
	}
	if err := p.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
}

func TestCoreStatistics(t *testing.T) {
	f := newFakeComp(t, "a")
	p := f.output(1, 64)
	if err := p.Enable(discardCB); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	for i := 0; i < 3; i++ {
		h := &bufpool.Header{Data: make([]byte, 64)}
		if err := p.SendBuffer(h); err != nil {
			t.Fatalf("SendBuffer: %v", err)
		}
	}

	sp := &CoreStatsParam{Dir: StatsRx, Reset: true}
	if err := p.ParameterGet(&Parameter{ID: ParamCoreStatistics, Data: sp}); err != nil {
		t.Fatalf("ParameterGet: %v", err)
	}
	if sp.Stats.BufferCount != 3 {
		t.Errorf("rx buffer count = %d, want 3", sp.Stats.BufferCount)
	}

	// The reset flag zeroed the source.
	sp2 := &CoreStatsParam{Dir: StatsRx}
	if err := p.ParameterGet(&Parameter{ID: ParamCoreStatistics, Data: sp2}); err != nil {
		t.Fatalf("ParameterGet: %v", err)
	}
	if sp2.Stats.BufferCount != 0 {
		t.Errorf("rx buffer count after reset = %d, want 0", sp2.Stats.BufferCount)
	}

	f.returnAll(p)
	if err := p.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
}

func TestParameterHookPrecedence(t *testing.T) {
	f := newFakeComp(t, "a")
	p := f.output(1, 64)

	called := 0
	p.Hooks.ParameterGet = func(p *Port, param *Parameter) error {
		called++
		if param.ID == ParamUserBase {
			return nil
		}
		return status.ErrNotImplemented
	}

	// Component parameter handled by the hook.
	if err := p.ParameterGet(&Parameter{ID: ParamUserBase}); err != nil {
		t.Errorf("ParameterGet(user) = %v", err)
	}
	// Core parameter reached through the ErrNotImplemented fallback.
	sp := &CoreStatsParam{}
	if err := p.ParameterGet(&Parameter{ID: ParamCoreStatistics, Data: sp}); err != nil {
		t.Errorf("ParameterGet(core) = %v", err)
	}
	if called != 2 {
		t.Errorf("hook called %d times, want 2", called)
	}
	// Unknown parameter.
	if err := p.ParameterSet(&Parameter{ID: 0x7777}); !errors.Is(err, status.ErrNotImplemented) {
		t.Errorf("ParameterSet(unknown) = %v, want ErrNotImplemented", err)
	}
}

func TestPayloadAllocTracksComponentRefs(t *testing.T) {
	f := newFakeComp(t, "a")
	p := f.output(1, 64)

	refs := f.c.Refs()
	mem, err := p.PayloadAlloc(128)
	if err != nil {
		t.Fatalf("PayloadAlloc: %v", err)
	}
	if len(mem) != 128 {
		t.Errorf("payload length = %d, want 128", len(mem))
	}
	if f.c.Refs() != refs+1 {
		t.Errorf("component refs = %d, want %d", f.c.Refs(), refs+1)
	}
	p.PayloadFree(mem)
	if f.c.Refs() != refs {
		t.Errorf("component refs after free = %d, want %d", f.c.Refs(), refs)
	}

	if _, err := p.PayloadAlloc(0); err == nil {
		t.Error("PayloadAlloc(0) succeeded")
	}
}

func TestPayloadAllocUsesHook(t *testing.T) {
	f := newFakeComp(t, "a")
	p := f.output(1, 64)

	var got uint32
	backing := make([]byte, 4096)
	p.Hooks.PayloadAlloc = func(p *Port, size uint32) ([]byte, error) {
		got = size
		return backing[:size], nil
	}
	freed := false
	p.Hooks.PayloadFree = func(p *Port, payload []byte) { freed = true }

	mem, err := p.PayloadAlloc(256)
	if err != nil {
		t.Fatalf("PayloadAlloc: %v", err)
	}
	if got != 256 || len(mem) != 256 {
		t.Errorf("hook saw size %d, returned %d bytes", got, len(mem))
	}
	p.PayloadFree(mem)
	if !freed {
		t.Error("payload free hook not called")
	}
}

func TestEventGet(t *testing.T) {
	f := newFakeComp(t, "a")
	p := f.output(1, 64)

	h, err := p.EventGet(event.FormatChanged)
	if err != nil {
		t.Fatalf("EventGet: %v", err)
	}
	if h.Cmd != event.FormatChanged {
		t.Errorf("event cmd = %v, want FormatChanged", h.Cmd)
	}
	if h.Length != event.FormatChangedSize {
		t.Errorf("event length = %d, want %d", h.Length, event.FormatChangedSize)
	}
	for i, b := range h.Data[:h.Length] {
		if b != 0 {
			t.Errorf("event region not zeroed at %d", i)
			break
		}
	}
	h.Release()

	// Draining the event pool surfaces as ErrNoSpace.
	var held []*bufpool.Header
	for {
		h, err := p.EventGet(event.EOS)
		if err != nil {
			if !errors.Is(err, status.ErrNoSpace) {
				t.Errorf("exhausted EventGet = %v, want ErrNoSpace", err)
			}
			break
		}
		held = append(held, h)
	}
	for _, h := range held {
		h.Release()
	}
}

func TestEventSendWithoutCallbackReleasesBuffer(t *testing.T) {
	f := newFakeComp(t, "a")
	p := f.output(1, 64)

	pool := f.c.EventPool()
	before := pool.Queue().Len()
	h, err := p.EventGet(event.EOS)
	if err != nil {
		t.Fatalf("EventGet: %v", err)
	}
	p.EventSend(h)
	if got := pool.Queue().Len(); got != before {
		t.Errorf("event buffer not released: queue %d, want %d", got, before)
	}
}
