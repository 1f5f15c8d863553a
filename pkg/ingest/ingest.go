// Package ingest - converts RTP packets of one H264 WebRTC track to the stream of h264 units
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/rs/zerolog"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/core"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/h264"
)

// TrackReader - implemented by *webrtc.TrackRemote
type TrackReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Depacketizer - implemented by *codecs.H264Packet
type Depacketizer interface {
	Unmarshal(payload []byte) ([]byte, error)
}

// RTCPWriter - implemented by *webrtc.PeerConnection
type RTCPWriter interface {
	WriteRTCP(pkts []rtcp.Packet) error
}

type Config struct {
	Track        TrackReader
	Depacketizer Depacketizer // default Annex B H264 depacketizer
	RTCP         RTCPWriter   // optional, for keyframe requests

	SSRC      uint32
	ClockRate uint32 // default 90000
	Timescale uint32 // timestamp units per second, default 1

	// Fmtp - negotiated codec fmtp line with profile-level-id
	Fmtp string

	PLIInterval time.Duration

	Logger *zerolog.Logger
}

type state byte

const (
	stateWaitKeyframe state = iota
	stateStreaming
)

func (s state) String() string {
	if s == stateStreaming {
		return "streaming"
	}
	return "wait_keyframe"
}

type Stats struct {
	Packets atomic.Uint64
	Dropped atomic.Uint64
	Units   atomic.Uint64
	PLI     atomic.Uint64
}

type Track struct {
	Stats Stats

	track TrackReader
	depay Depacketizer
	rtcp  RTCPWriter
	ssrc  uint32
	fmtp  string
	pli   time.Duration
	log   zerolog.Logger
	state state

	clock   uint64
	scale   uint64
	started bool
	lastTS  uint32
	extTS   int64
}

func New(cfg Config) *Track {
	t := &Track{
		track: cfg.Track,
		depay: cfg.Depacketizer,
		rtcp:  cfg.RTCP,
		ssrc:  cfg.SSRC,
		fmtp:  cfg.Fmtp,
		pli:   cfg.PLIInterval,
		clock: uint64(cfg.ClockRate),
		scale: uint64(cfg.Timescale),
	}

	if t.depay == nil {
		t.depay = &codecs.H264Packet{}
	}
	if t.clock == 0 {
		t.clock = 90000
	}
	if t.scale == 0 {
		t.scale = 1
	}
	if cfg.Logger != nil {
		t.log = cfg.Logger.With().Uint32("ssrc", cfg.SSRC).Logger()
	} else {
		t.log = zerolog.Nop()
	}

	return t
}

// Run - read track until it ends, the first error or context cancel.
// End of track (io.EOF) returns nil.
func (t *Track) Run(ctx context.Context, out chan<- h264.Unit) error {
	if t.rtcp != nil && t.pli > 0 {
		worker := core.NewWorker(0, func() time.Duration {
			t.sendPLI()
			return t.pli
		})
		defer worker.Stop()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		packet, _, err := t.track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				t.log.Debug().Msg("[ingest] track ended")
				return nil
			}
			return fmt.Errorf("ingest: read rtp: %w", err)
		}

		t.Stats.Packets.Add(1)

		unit, err := t.handle(packet)
		if err != nil {
			t.log.Error().Err(err).Str("state", t.state.String()).Msg("[ingest] stop track")
			return err
		}

		if unit == nil {
			continue
		}

		select {
		case out <- unit:
			t.Stats.Units.Add(1)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *Track) handle(packet *rtp.Packet) (h264.Unit, error) {
	switch t.state {
	case stateWaitKeyframe:
		if !IsKeyframe(packet.Payload) {
			t.Stats.Dropped.Add(1)
			return nil, nil
		}

		config, err := t.configuration(packet.Payload)
		if err != nil {
			return nil, err
		}

		t.log.Debug().Int("sps", len(config.Record.SPS)).Int("pps", len(config.Record.PPS)).
			Msg("[ingest] got keyframe")

		t.state = stateStreaming
		return config, nil

	default:
		payload, err := t.depay.Unmarshal(packet.Payload)
		if err != nil {
			return nil, fmt.Errorf("ingest: depacketize: %w", err)
		}

		if len(payload) == 0 {
			return nil, nil // wait for other fragments
		}

		return h264.NewData(t.timestamp(packet.Timestamp), payload), nil
	}
}

func (t *Track) configuration(payload []byte) (*h264.Configuration, error) {
	profile, compat, level, err := h264.ParseProfileLevelID(t.fmtp)
	if err != nil {
		return nil, err
	}

	nalus, err := h264.ParseSTAPA(payload)
	if err != nil {
		return nil, err
	}

	record := h264.NewRecord(profile, level)
	record.ProfileCompatibility = compat

	var raw []byte

	for _, nalu := range nalus {
		switch nalu[0] {
		case h264.SPSHeader:
			record.AddSPS(nalu)
		case h264.PPSHeader:
			record.AddPPS(nalu)
		}

		b, err := t.depay.Unmarshal(nalu)
		if err != nil {
			return nil, fmt.Errorf("ingest: depacketize: %w", err)
		}
		raw = append(raw, b...)
	}

	if err = record.Validate(); err != nil {
		return nil, err
	}

	return h264.NewConfiguration(raw, record), nil
}

// timestamp - extended RTP timestamp converted to Timescale units
func (t *Track) timestamp(ts uint32) uint32 {
	if !t.started {
		t.started = true
		t.extTS = int64(ts)
	} else {
		t.extTS += int64(int32(ts - t.lastTS))
	}
	t.lastTS = ts

	if t.extTS < 0 {
		return 0
	}
	return uint32(uint64(t.extTS) * t.scale / t.clock)
}

func (t *Track) sendPLI() {
	pkts := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: t.ssrc}}
	if err := t.rtcp.WriteRTCP(pkts); err != nil {
		t.log.Warn().Err(err).Msg("[ingest] send PLI")
		return
	}
	t.Stats.PLI.Add(1)
	t.log.Trace().Msg("[ingest] send PLI")
}

// IsKeyframe - payload starts with SPS or STAP-A with SPS as the first unit
func IsKeyframe(payload []byte) bool {
	if len(payload) < 4 {
		return false
	}

	switch payload[0] & h264.NALUTypeMask {
	case h264.NALUTypeSPS:
		return true
	case h264.NALUTypeSTAPA:
		return payload[3]&h264.NALUTypeMask == h264.NALUTypeSPS
	}

	return false
}

// Drain - read and discard packets, for tracks without consumers
func Drain(ctx context.Context, track TrackReader) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, _, err := track.ReadRTP(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
