// Package event defines the buffer-borne events the runtime generates and
// the helpers components use to read and write them.
package event

import (
	"bytes"
	"encoding/binary"

	"mport/internal/bufpool"
	"mport/internal/format"
	"mport/internal/status"
)

// Event fourccs, carried in a buffer header's Cmd field. A zero Cmd means
// a data buffer.
var (
	Error            = format.MakeFourCC('E', 'E', 'R', 'R')
	EOS              = format.MakeFourCC('E', 'E', 'O', 'S')
	FormatChanged    = format.MakeFourCC('E', 'F', 'C', 'H')
	ParameterChanged = format.MakeFourCC('E', 'P', 'C', 'H')
)

// formatChangedDesc is the fixed leading region of a format-changed event
// payload. The encoded format and its stream-specific block follow it.
type formatChangedDesc struct {
	BufferNumMin          uint32
	BufferSizeMin         uint32
	BufferNumRecommended  uint32
	BufferSizeRecommended uint32
}

var descSize = binary.Size(formatChangedDesc{})

// FormatChangedSize is the payload capacity a format-changed event buffer
// needs: the descriptor plus one encoded format plus one stream-specific
// block.
var FormatChangedSize = uint32(descSize + format.EncodedSize + format.SpecificEncodedSize)

// FormatChangedPayload is the decoded form of a format-changed event.
type FormatChangedPayload struct {
	BufferNumMin          uint32
	BufferSizeMin         uint32
	BufferNumRecommended  uint32
	BufferSizeRecommended uint32
	Format                format.Format
}

// GetFormatChanged decodes the format-changed payload from an event
// buffer. It returns nil unless the buffer carries a well-formed
// format-changed event.
func GetFormatChanged(h *bufpool.Header) *FormatChangedPayload {
	if h == nil || h.Cmd != FormatChanged {
		return nil
	}
	if h.Length < FormatChangedSize || uint32(len(h.Data)) < h.Offset+h.Length {
		return nil
	}
	data := h.Data[h.Offset:]

	var desc formatChangedDesc
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &desc); err != nil {
		return nil
	}
	ev := &FormatChangedPayload{
		BufferNumMin:          desc.BufferNumMin,
		BufferSizeMin:         desc.BufferSizeMin,
		BufferNumRecommended:  desc.BufferNumRecommended,
		BufferSizeRecommended: desc.BufferSizeRecommended,
	}
	if _, err := ev.Format.Unmarshal(data[descSize:]); err != nil {
		return nil
	}
	return ev
}

// StoreFormatChanged encodes ev into an event buffer obtained for the
// FormatChanged event and sets its length.
func StoreFormatChanged(h *bufpool.Header, ev *FormatChangedPayload) error {
	if h == nil || h.Cmd != FormatChanged {
		return status.ErrInvalid
	}
	if h.AllocSize() < FormatChangedSize {
		return status.ErrNoSpace
	}
	data := h.Data[:FormatChangedSize]

	buf := bytes.NewBuffer(data[:0])
	desc := formatChangedDesc{
		BufferNumMin:          ev.BufferNumMin,
		BufferSizeMin:         ev.BufferSizeMin,
		BufferNumRecommended:  ev.BufferNumRecommended,
		BufferSizeRecommended: ev.BufferSizeRecommended,
	}
	if err := binary.Write(buf, binary.LittleEndian, &desc); err != nil {
		return err
	}
	if _, err := ev.Format.Marshal(data[descSize:]); err != nil {
		return err
	}
	h.Offset = 0
	h.Length = FormatChangedSize
	return nil
}
