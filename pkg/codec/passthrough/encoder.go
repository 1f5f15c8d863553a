package passthrough

import (
	"encoding/binary"
	"errors"

	"github.com/rtc2rtmp/rtc2rtmp/pkg/bits"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/codec"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/h264"
)

var (
	ErrClosed           = errors.New("passthrough: encoder closed")
	ErrUnsupportedFrame = errors.New("passthrough: unsupported frame")
)

type Encoder struct {
	width  int
	height int
	closed bool
}

func NewEncoder(width, height int) (codec.Encoder, error) {
	return &Encoder{width: width, height: height}, nil
}

func (e *Encoder) Encode(frame codec.Frame) (codec.CodedFrame, error) {
	if e.closed {
		return nil, ErrClosed
	}

	f, ok := frame.(*Frame)
	if !ok {
		return nil, ErrUnsupportedFrame
	}

	coded := &CodedFrame{layer: f.NALUs}

	for _, nalu := range f.NALUs {
		switch h264.NALUType(nalu) {
		case h264.NALUTypeIFrame:
			coded.frameType = codec.FrameTypeIDR
		case h264.NALUTypePFrame:
			if coded.frameType == codec.FrameTypeUnknown {
				coded.frameType = SliceType(nalu)
			}
		}
	}

	if coded.frameType == codec.FrameTypeUnknown {
		coded.frameType = codec.FrameTypeSkip
	}

	return coded, nil
}

func (e *Encoder) Close() error {
	e.closed = true
	return nil
}

type CodedFrame struct {
	frameType codec.FrameType
	layer     codec.Layer
}

func (c *CodedFrame) Type() codec.FrameType {
	return c.frameType
}

// Bytes - AVCC format, 4 bytes NAL unit length prefix
func (c *CodedFrame) Bytes() []byte {
	size := 0
	for _, nalu := range c.layer {
		size += 4 + len(nalu)
	}

	b := make([]byte, 0, size)
	for _, nalu := range c.layer {
		b = binary.BigEndian.AppendUint32(b, uint32(len(nalu)))
		b = append(b, nalu...)
	}
	return b
}

func (c *CodedFrame) Layers() []codec.Layer {
	return []codec.Layer{c.layer}
}

// SliceType - read slice_type from non-IDR slice header, 7.3.3
func SliceType(nalu []byte) codec.FrameType {
	r := bits.NewReader(h264.RBSP(nalu[1:]))

	_ = r.ReadUEGolomb() // first_mb_in_slice
	sliceType := r.ReadUEGolomb()
	if r.EOF {
		return codec.FrameTypeUnknown
	}

	switch sliceType % 5 {
	case 0, 3: // P, SP
		return codec.FrameTypeP
	case 1:
		return codec.FrameTypeB
	default: // I, SI
		return codec.FrameTypeI
	}
}
