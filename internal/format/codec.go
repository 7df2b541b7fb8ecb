package format

import (
	"bytes"
	"encoding/binary"

	"mport/internal/status"
)

// wireFormat is the fixed-size part of a Format as it appears inside event
// buffers and bridge frames. Extradata travels separately when it travels
// at all.
type wireFormat struct {
	Type            uint32
	Encoding        uint32
	EncodingVariant uint32
	Bitrate         uint32
	Flags           uint32
	ExtradataSize   uint32
}

// EncodedSize is the byte size of a marshalled Format without its stream
// specific block.
var EncodedSize = binary.Size(wireFormat{})

// SpecificEncodedSize is the byte size of a marshalled StreamSpecific
// block.
var SpecificEncodedSize = binary.Size(StreamSpecific{})

// Marshal writes the fixed fields of f, then its stream specific block,
// into dst. dst must have room for EncodedSize + SpecificEncodedSize
// bytes; the number written is returned.
func (f *Format) Marshal(dst []byte) (int, error) {
	if len(dst) < EncodedSize+SpecificEncodedSize {
		return 0, status.ErrNoSpace
	}
	buf := bytes.NewBuffer(dst[:0])
	wf := wireFormat{
		Type:            uint32(f.Type),
		Encoding:        uint32(f.Encoding),
		EncodingVariant: uint32(f.EncodingVariant),
		Bitrate:         f.Bitrate,
		Flags:           f.Flags,
		ExtradataSize:   uint32(len(f.Extradata)),
	}
	if err := binary.Write(buf, binary.LittleEndian, &wf); err != nil {
		return 0, err
	}
	if err := binary.Write(buf, binary.LittleEndian, &f.ES); err != nil {
		return 0, err
	}
	return buf.Len(), nil
}

// Unmarshal reads a format previously written by Marshal. The extradata
// size is recorded but the bytes themselves are not part of the fixed
// region, so Extradata comes back nil; the recorded size is read but not
// returned.
func (f *Format) Unmarshal(src []byte) (int, error) {
	if len(src) < EncodedSize+SpecificEncodedSize {
		return 0, status.ErrCorrupt
	}
	var wf wireFormat
	r := bytes.NewReader(src)
	if err := binary.Read(r, binary.LittleEndian, &wf); err != nil {
		return 0, err
	}
	if err := binary.Read(r, binary.LittleEndian, &f.ES); err != nil {
		return 0, err
	}
	f.Type = Type(wf.Type)
	f.Encoding = FourCC(wf.Encoding)
	f.EncodingVariant = FourCC(wf.EncodingVariant)
	f.Bitrate = wf.Bitrate
	f.Flags = wf.Flags
	f.Extradata = nil
	return EncodedSize + SpecificEncodedSize, nil
}
