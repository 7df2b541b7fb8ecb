package bridgenet

import (
	"encoding/gob"
	"io"
)

// Frame is one buffer header crossing the bridge: the journey fields plus
// the payload bytes. Event buffers travel with their Cmd set; the
// receiving side hands them to its output port's buffer header callback
// with that Cmd intact, the same way it delivers data.
type Frame struct {
	Cmd     uint32
	Flags   uint32
	PTS     int64
	DTS     int64
	Payload []byte
}

// Read decodes a frame from the stream.
func (f *Frame) Read(r io.Reader) error {
	dec := gob.NewDecoder(r)
	return dec.Decode(f)
}

// Write encodes a frame onto the stream.
func (f *Frame) Write(w io.Writer) error {
	enc := gob.NewEncoder(w)
	return enc.Encode(f)
}
