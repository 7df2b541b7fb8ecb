// Package pcapsrc is a source component that replays a pcap capture
// file: each packet becomes one buffer on the output port, stamped with
// its capture time.
package pcapsrc

import (
	"fmt"
	"os"

	"github.com/gopacket/gopacket/pcapgo"

	"mport/internal/bufpool"
	"mport/internal/comp"
	"mport/internal/flog"
	"mport/internal/format"
	"mport/internal/port"
)

// Comp replays one capture file on one output port.
type Comp struct {
	C   *port.Component
	Out *port.Port

	pump   *comp.Pump
	file   *os.File
	reader *pcapgo.Reader
	eof    bool
	sent   int64
}

// New opens the capture file and builds the component.
func New(name, path string) (*Comp, error) {
	if path == "" {
		return nil, fmt.Errorf("pcapsrc %q needs a file param", name)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read pcap header: %w", err)
	}

	c, err := port.NewComponent(name)
	if err != nil {
		f.Close()
		return nil, err
	}

	ps := &Comp{C: c, file: f, reader: r}
	c.Output = port.AllocPorts(c, 1, port.TypeOutput)
	ps.Out = c.Output[0]
	ps.Out.Hooks.SetFormat = ps.setFormat
	ps.Out.Hooks.Enable = func(*port.Port, port.BHCallback) error { return nil }
	ps.Out.Hooks.Disable = ps.disable
	ps.Out.Hooks.Flush = ps.disable
	ps.Out.Hooks.Send = func(p *port.Port, h *bufpool.Header) error {
		return ps.pump.Submit(h)
	}
	ps.pump = comp.NewPump(ps.Out, ps.process)

	flog.Infof("%s: replaying %s, link type %s", name, path, r.LinkType())
	return ps, nil
}

// FromParams builds a capture source from pipeline component params.
func FromParams(name string, params map[string]string) (*Comp, error) {
	return New(name, params["file"])
}

// Close stops the worker and closes the capture file. Disable the port
// first.
func (ps *Comp) Close() {
	ps.pump.Close()
	ps.file.Close()
}

func (ps *Comp) setFormat(p *port.Port) error {
	p.Format.Type = format.TypeUnknown
	if p.Format.Encoding == 0 {
		p.Format.Encoding = format.MakeFourCC('P', 'C', 'A', 'P')
	}
	p.BufferNumMin = 2
	// Big enough for a standard MTU frame; captures with jumbo frames
	// want a larger configured buffer_size.
	p.BufferSizeMin = 2048
	return nil
}

func (ps *Comp) disable(p *port.Port) error {
	ps.pump.Drain(func(h *bufpool.Header) {
		h.Length = 0
		p.BufferHeaderCallback(h)
	})
	return nil
}

func (ps *Comp) process(h *bufpool.Header) {
	p := ps.Out
	if !p.IsEnabled() || ps.eof {
		h.Length = 0
		if ps.eof {
			h.Flags |= bufpool.FlagEOS
		}
		p.BufferHeaderCallback(h)
		return
	}

	data, ci, err := ps.reader.ZeroCopyReadPacketData()
	if err != nil {
		ps.eof = true
		h.Length = 0
		h.Flags |= bufpool.FlagEOS
		p.BufferHeaderCallback(h)
		return
	}

	n := uint32(len(data))
	if n > h.AllocSize() {
		flog.Warnf("%s: packet of %d bytes truncated to %d", p.Name(), n, h.AllocSize())
		n = h.AllocSize()
	}
	copy(h.Data[:n], data[:n])

	h.Offset = 0
	h.Length = n
	h.Flags = bufpool.FlagFrameStart | bufpool.FlagFrameEnd
	h.PTS = ci.Timestamp.UnixMicro()
	h.DTS = h.PTS
	ps.sent++

	p.BufferHeaderCallback(h)
}
