// Package format describes an elementary stream flowing through a port.
package format

import "fmt"

// FourCC identifies an encoding or event, four ASCII bytes packed
// little-endian like the rest of the wire data.
type FourCC uint32

func MakeFourCC(a, b, c, d byte) FourCC {
	return FourCC(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

func (f FourCC) String() string {
	if f == 0 {
		return ""
	}
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}

// Type of elementary stream carried by a port.
type Type uint32

const (
	TypeUnknown Type = iota
	TypeControl
	TypeAudio
	TypeVideo
	TypeSubpicture
)

func (t Type) String() string {
	switch t {
	case TypeControl:
		return "control"
	case TypeAudio:
		return "audio"
	case TypeVideo:
		return "video"
	case TypeSubpicture:
		return "subpicture"
	default:
		return "unknown"
	}
}

// Rational is an exact fraction, used for frame rates and aspect ratios.
type Rational struct {
	Num uint32
	Den uint32
}

// VideoSpecific holds the video stream geometry.
type VideoSpecific struct {
	Width      uint32
	Height     uint32
	CropX      uint32
	CropY      uint32
	CropWidth  uint32
	CropHeight uint32
	FrameRate  Rational
	PixelRatio Rational
}

// AudioSpecific holds the audio stream geometry.
type AudioSpecific struct {
	Channels      uint32
	SampleRate    uint32
	BitsPerSample uint32
	BlockAlign    uint32
}

// SubpictureSpecific holds the subpicture display offset.
type SubpictureSpecific struct {
	XOffset uint32
	YOffset uint32
}

// StreamSpecific carries the per-type stream description. Only the block
// matching Format.Type is meaningful; the others stay zero.
type StreamSpecific struct {
	Video      VideoSpecific
	Audio      AudioSpecific
	Subpicture SubpictureSpecific
}

// Flags on a format.
const (
	// FlagFramed is set when the data is already framed (one access unit
	// per buffer).
	FlagFramed uint32 = 1 << 0
)

// Format describes the elementary stream on one port. A port owns exactly
// one Format for its whole life; components mutate it in place and commit
// the change, they never replace the pointer.
type Format struct {
	Type            Type
	Encoding        FourCC
	EncodingVariant FourCC
	Bitrate         uint32
	Flags           uint32
	ES              StreamSpecific
	Extradata       []byte
}

// New returns a zeroed format.
func New() *Format {
	return &Format{}
}

// Copy copies everything but the extradata into dst.
func Copy(dst, src *Format) {
	extradata := dst.Extradata
	*dst = *src
	dst.Extradata = extradata
}

// FullCopy copies the whole format, duplicating the extradata so dst does
// not alias src.
func FullCopy(dst, src *Format) {
	*dst = *src
	if src.Extradata != nil {
		dst.Extradata = make([]byte, len(src.Extradata))
		copy(dst.Extradata, src.Extradata)
	}
}

func (f *Format) String() string {
	return fmt.Sprintf("%s:%s", f.Type, f.Encoding)
}
