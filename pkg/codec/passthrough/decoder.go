// Package passthrough - bitstream copy codec. Decoder assembles access units
// and reads geometry from SPS, Encoder classifies frames and converts them to AVCC.
package passthrough

import (
	"errors"

	"github.com/rtc2rtmp/rtc2rtmp/pkg/codec"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/h264"
)

var ErrNoNALU = errors.New("passthrough: no NAL units in Annex B data")

// Frame - access unit with geometry of the active SPS
type Frame struct {
	NALUs [][]byte

	width  int
	height int
}

func (f *Frame) Width() int {
	return f.width
}

func (f *Frame) Height() int {
	return f.height
}

type Decoder struct {
	sps     *h264.SPS
	pending [][]byte // non-VCL units waiting for the next slice
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode - b is Annex B data. Parameter sets and SEI are joined with the next slice,
// so the returned frame has zero geometry until a slice arrives after SPS.
func (d *Decoder) Decode(b []byte) (codec.Frame, error) {
	nalus := h264.SplitAnnexB(b)
	if len(nalus) == 0 {
		return nil, ErrNoNALU
	}

	var vcl bool

	for _, nalu := range nalus {
		switch h264.NALUType(nalu) {
		case h264.NALUTypeSPS:
			sps, err := h264.DecodeSPS(nalu)
			if err != nil {
				return nil, err
			}
			d.sps = sps
		case h264.NALUTypePFrame, h264.NALUTypeIFrame:
			vcl = true
		}

		d.pending = append(d.pending, nalu)
	}

	if !vcl {
		return &Frame{}, nil
	}

	if d.sps == nil {
		d.pending = nil // slices can't be decoded without SPS
		return &Frame{}, nil
	}

	frame := &Frame{
		NALUs:  d.pending,
		width:  int(d.sps.Width()),
		height: int(d.sps.Height()),
	}
	d.pending = nil

	return frame, nil
}

// SPS - last received sequence parameter set or nil
func (d *Decoder) SPS() *h264.SPS {
	return d.sps
}
