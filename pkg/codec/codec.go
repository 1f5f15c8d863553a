// Package codec - video codec capability used by the transcode pipeline.
// Decoding and encoding algorithms live behind these interfaces.
package codec

type FrameType byte

const (
	FrameTypeUnknown FrameType = iota
	FrameTypeIDR
	FrameTypeI
	FrameTypeP
	FrameTypeB
	FrameTypeSkip
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeIDR:
		return "IDR"
	case FrameTypeI:
		return "I"
	case FrameTypeP:
		return "P"
	case FrameTypeB:
		return "B"
	case FrameTypeSkip:
		return "skip"
	}
	return "unknown"
}

// Frame - decoded picture, zero Width means decoder has not enough data yet
type Frame interface {
	Width() int
	Height() int
}

type Decoder interface {
	Decode(b []byte) (Frame, error)
}

// Layer - raw NAL units without start codes or length prefixes
type Layer [][]byte

type CodedFrame interface {
	Type() FrameType
	// Bytes - whole coded frame in the encoder output format
	Bytes() []byte
	Layers() []Layer
}

type Encoder interface {
	Encode(frame Frame) (CodedFrame, error)
	Close() error
}

// EncoderFactory - build encoder for frames with selected geometry
type EncoderFactory func(width, height int) (Encoder, error)
