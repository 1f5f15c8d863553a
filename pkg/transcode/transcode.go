// Package transcode - decode and re-encode H264 units and frame them as FLV video tag bodies
package transcode

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/codec"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/flv"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/h264"
)

var (
	ErrNoConfiguration = errors.New("transcode: data before configuration")
	ErrGeometryChanged = errors.New("transcode: frame geometry changed")
)

type Stats struct {
	Decoded atomic.Uint64
	Encoded atomic.Uint64
	Dropped atomic.Uint64
}

// state - created or *headerReceived
type state interface {
	String() string
}

type created struct{}

func (created) String() string {
	return "created"
}

// headerReceived - encoder exists only together with its geometry
type headerReceived struct {
	encoder codec.Encoder
	width   int
	height  int
}

func (*headerReceived) String() string {
	return "header_received"
}

type Pipeline struct {
	Stats Stats

	decoder    codec.Decoder
	newEncoder codec.EncoderFactory
	log        zerolog.Logger

	state      state
	configured bool
}

func New(decoder codec.Decoder, newEncoder codec.EncoderFactory, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		decoder:    decoder,
		newEncoder: newEncoder,
		log:        log,
		state:      created{},
	}
}

// Run - process units until input is closed (returns nil), the first error or context cancel
func (p *Pipeline) Run(ctx context.Context, in <-chan h264.Unit, out chan<- h264.Unit) error {
	defer p.close()

	for {
		var unit h264.Unit
		var ok bool

		select {
		case unit, ok = <-in:
			if !ok {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}

		data, err := p.handle(unit)
		if err != nil {
			p.log.Error().Err(err).Str("state", p.state.String()).Msg("[transcode] stop")
			return err
		}

		if data == nil {
			continue
		}

		select {
		case out <- data:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Pipeline) handle(unit h264.Unit) (*h264.Data, error) {
	switch unit := unit.(type) {
	case *h264.Configuration:
		return p.handleConfiguration(unit)
	case *h264.Data:
		if !p.configured {
			return nil, ErrNoConfiguration
		}
		return p.handleData(unit)
	}
	return nil, fmt.Errorf("transcode: unsupported unit %T", unit)
}

func (p *Pipeline) handleConfiguration(config *h264.Configuration) (*h264.Data, error) {
	frame, err := p.decoder.Decode(config.Raw)
	if err != nil {
		return nil, fmt.Errorf("transcode: decode configuration: %w", err)
	}

	p.Stats.Decoded.Add(1)
	p.log.Debug().Int("width", frame.Width()).Int("height", frame.Height()).
		Msg("[transcode] configuration")

	p.configured = true

	return h264.NewData(0, flv.SequenceHeader(config.Record)), nil
}

func (p *Pipeline) handleData(data *h264.Data) (*h264.Data, error) {
	frame, err := p.decoder.Decode(data.Payload)
	if err != nil {
		return nil, fmt.Errorf("transcode: decode: %w", err)
	}

	p.Stats.Decoded.Add(1)

	if frame.Width() == 0 {
		p.Stats.Dropped.Add(1)
		return nil, nil // not enough data for picture
	}

	switch s := p.state.(type) {
	case created:
		p.log.Info().Int("width", frame.Width()).Int("height", frame.Height()).
			Msg("[transcode] got video info")

		encoder, err := p.newEncoder(frame.Width(), frame.Height())
		if err != nil {
			return nil, fmt.Errorf("transcode: new encoder: %w", err)
		}

		coded, err := encoder.Encode(frame)
		if err != nil {
			_ = encoder.Close()
			return nil, fmt.Errorf("transcode: encode: %w", err)
		}

		frameType, ok := flvFrameType(coded.Type())
		if !ok {
			_ = encoder.Close()
			p.Stats.Dropped.Add(1)
			return nil, nil
		}

		b := flv.AppendVideoHeader(nil, frameType, flv.PacketTypeNALU, 0)

		if coded.Type() == codec.FrameTypeIDR {
			if layers := coded.Layers(); len(layers) > 0 {
				for _, nalu := range layers[0] {
					b = append(b, nalu...)
				}
			}
		}

		p.Stats.Encoded.Add(1)
		p.state = &headerReceived{encoder: encoder, width: frame.Width(), height: frame.Height()}

		return h264.NewData(data.Timestamp, b), nil

	case *headerReceived:
		if frame.Width() != s.width || frame.Height() != s.height {
			return nil, fmt.Errorf(
				"%w: %dx%d to %dx%d", ErrGeometryChanged, s.width, s.height, frame.Width(), frame.Height(),
			)
		}

		coded, err := s.encoder.Encode(frame)
		if err != nil {
			return nil, fmt.Errorf("transcode: encode: %w", err)
		}

		frameType, ok := flvFrameType(coded.Type())
		if !ok {
			p.Stats.Dropped.Add(1)
			return nil, nil
		}

		payload := coded.Bytes()

		b := make([]byte, 0, flv.VideoHeaderSize+len(payload))
		b = flv.AppendVideoHeader(b, frameType, flv.PacketTypeNALU, 0)
		b = append(b, payload...)

		p.Stats.Encoded.Add(1)

		return h264.NewData(data.Timestamp, b), nil
	}

	return nil, nil
}

func (p *Pipeline) close() {
	if s, ok := p.state.(*headerReceived); ok {
		_ = s.encoder.Close()
	}
}

func flvFrameType(t codec.FrameType) (byte, bool) {
	switch t {
	case codec.FrameTypeIDR, codec.FrameTypeI:
		return flv.FrameTypeKey, true
	case codec.FrameTypeP:
		return flv.FrameTypeInter, true
	}
	return 0, false
}
