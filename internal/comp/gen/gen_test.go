package gen

import (
	"testing"
	"time"

	"mport/internal/bufpool"
	"mport/internal/port"
)

func TestGeneratorProducesFramesThenEOS(t *testing.T) {
	g, err := New("src", 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()

	p := g.Out
	if err := p.FormatCommit(); err != nil {
		t.Fatalf("FormatCommit: %v", err)
	}

	returned := make(chan *bufpool.Header, 16)
	cb := func(p *port.Port, h *bufpool.Header) { returned <- h }
	if err := p.Enable(cb); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := p.SendBuffer(&bufpool.Header{Data: make([]byte, p.BufferSize)}); err != nil {
			t.Fatalf("SendBuffer: %v", err)
		}
	}

	frames := 0
	outstanding := 2
	var lastPTS int64 = -1
	for outstanding > 0 {
		var h *bufpool.Header
		select {
		case h = <-returned:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out with %d frames and %d buffers outstanding", frames, outstanding)
		}

		if h.Flags&bufpool.FlagEOS != 0 && h.Length == 0 {
			outstanding--
			continue
		}

		frames++
		if h.PTS <= lastPTS {
			t.Errorf("frames out of order: pts %d after %d", h.PTS, lastPTS)
		}
		lastPTS = h.PTS
		want := byte(h.PTS)
		for _, b := range h.Payload() {
			if b != want {
				t.Fatalf("frame %d has wrong fill byte %#x, want %#x", h.PTS, b, want)
			}
		}

		h.Reset()
		if err := p.SendBuffer(h); err != nil {
			t.Fatalf("SendBuffer (recycle): %v", err)
		}
	}

	if frames != 3 {
		t.Errorf("generated %d frames, want 3", frames)
	}
	if err := p.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
}
