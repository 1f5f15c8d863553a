package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/core"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/flv"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/h264"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/ingest"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/rtmp"
	"github.com/stretchr/testify/require"
)

const testFmtp = "packetization-mode=1;profile-level-id=640016"

var (
	testPPS    = []byte{0x68, 0xEE, 0x3C, 0xB0}
	testIDR    = []byte{0x65, 0x88, 0x84, 0x00, 0x33}
	testPSlice = []byte{0x41, 0xE0, 0x12}
)

func testSPS(t *testing.T) []byte {
	// 640x360
	b, err := base64.StdEncoding.DecodeString("Z2QAFqwa0BQF/yzcBAQFAAADAAEAAAMAHo8UIqA=")
	require.Nil(t, err)
	return b
}

// track - RTP packets from memory, blocks after the last one until closed when endless
type track struct {
	packets chan *rtp.Packet
	closed  chan struct{}
	once    sync.Once
}

func newTrack(endless bool, packets ...*rtp.Packet) *track {
	t := &track{packets: make(chan *rtp.Packet, len(packets)), closed: make(chan struct{})}
	for _, packet := range packets {
		t.packets <- packet
	}
	if !endless {
		close(t.packets)
	}
	return t
}

func (t *track) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	select {
	case packet, ok := <-t.packets:
		if !ok {
			return nil, nil, io.EOF
		}
		return packet, nil, nil
	case <-t.closed:
		return nil, nil, io.ErrClosedPipe
	}
}

func (t *track) close() {
	t.once.Do(func() { close(t.closed) })
}

func packet(ts uint32, payload []byte) *rtp.Packet {
	return &rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 102, Timestamp: ts, SSRC: 1},
		Payload: payload,
	}
}

// sink - publisher that records the queue output
type sink struct {
	units []*h264.Data
	err   error
	done  chan struct{}
}

func newSink(queue *core.Queue[h264.Unit], err error) *sink {
	s := &sink{err: err, done: make(chan struct{})}
	go func() {
		for unit := range queue.Out() {
			if data, ok := unit.(*h264.Data); ok {
				s.units = append(s.units, data)
			}
			if s.err != nil {
				break // publisher failed on the first unit
			}
		}
		close(s.done)
	}()
	return s
}

func (s *sink) Done() <-chan struct{} {
	return s.done
}

func (s *sink) Wait() error {
	<-s.done
	return s.err
}

// Close - wait for the end of the queue, same as graceful connection close
func (s *sink) Close() error {
	<-s.done
	return nil
}

func (s *sink) State() rtmp.State {
	return rtmp.StatePublishing
}

// stalled - publisher that never gets publishing accepted and never reads the queue
type stalled struct {
	done   chan struct{}
	once   sync.Once
	closed bool
}

func (s *stalled) Done() <-chan struct{} {
	return s.done
}

func (s *stalled) Wait() error {
	<-s.done
	return nil
}

func (s *stalled) Close() error {
	s.once.Do(func() {
		s.closed = true
		close(s.done)
	})
	return nil
}

func (s *stalled) State() rtmp.State {
	return rtmp.StatePublishRequested
}

func testConfig() *Config {
	cfg := &Config{}
	cfg.Transcode.Queue = 4
	return cfg
}

func run(t *testing.T, ctx context.Context, tr *track, s func(*core.Queue[h264.Unit]) *sink) (*sink, error) {
	queue := core.NewQueue[h264.Unit]()
	pub := s(queue)

	video := make(chan ingest.Config, 1)
	video <- ingest.Config{Track: tr, ClockRate: 90000, Timescale: 1000, Fmtp: testFmtp}

	err := runPipeline(ctx, testConfig(), pub, queue, video, tr.close, zerolog.Nop())
	<-pub.Done()
	return pub, err
}

func TestPipeline(t *testing.T) {
	stapa := h264.AppendSTAPA(nil, testSPS(t), testPPS)

	tr := newTrack(false,
		packet(0, testPSlice), // before keyframe
		packet(0, stapa),
		packet(3000, testIDR),
		packet(6000, testPSlice),
		packet(9000, testPSlice),
	)

	pub, err := run(t, context.Background(), tr, func(q *core.Queue[h264.Unit]) *sink {
		return newSink(q, nil)
	})
	require.Nil(t, err)
	require.Len(t, pub.units, 4)

	require.True(t, flv.IsSequenceHeader(pub.units[0].Payload))
	require.Equal(t, byte(flv.PacketTypeSequenceHeader), pub.units[0].Payload[1])

	var timestamps []uint32
	for _, data := range pub.units {
		timestamps = append(timestamps, data.Timestamp)
	}
	require.Equal(t, []uint32{0, 33, 66, 100}, timestamps)

	require.Equal(t, byte(flv.FrameTypeKey), pub.units[1].Payload[0]>>4)
	require.Equal(t, byte(flv.FrameTypeInter), pub.units[2].Payload[0]>>4)

	// RTMP timestamps start from the first frame
	var realigner rtmp.Realigner
	var rtmpTimestamps []uint32
	for _, data := range pub.units {
		if flv.IsSequenceHeader(data.Payload) {
			rtmpTimestamps = append(rtmpTimestamps, realigner.Current())
		} else {
			rtmpTimestamps = append(rtmpTimestamps, realigner.Next(data.Timestamp))
		}
	}
	require.Equal(t, []uint32{0, 0, 33, 67}, rtmpTimestamps)
}

func TestPipelineIngestError(t *testing.T) {
	// SPS size exceeds STAP-A payload
	tr := newTrack(true, packet(0, []byte{0x18, 0x00, 0x20, 0x67, 0x64}))

	pub, err := run(t, context.Background(), tr, func(q *core.Queue[h264.Unit]) *sink {
		return newSink(q, nil)
	})
	require.ErrorIs(t, err, h264.ErrTruncatedSTAPA)
	require.Empty(t, pub.units)
}

func TestPipelinePublisherError(t *testing.T) {
	errPeer := errors.New("peer closed")

	tr := newTrack(true,
		packet(0, h264.AppendSTAPA(nil, testSPS(t), testPPS)),
		packet(3000, testIDR),
	)

	_, err := run(t, context.Background(), tr, func(q *core.Queue[h264.Unit]) *sink {
		return newSink(q, errPeer)
	})
	require.ErrorIs(t, err, errPeer)
}

func TestPipelineCancel(t *testing.T) {
	tr := newTrack(true, packet(0, testPSlice))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := run(t, ctx, tr, func(q *core.Queue[h264.Unit]) *sink {
		return newSink(q, nil)
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestPipelineEndBeforePublishing(t *testing.T) {
	tr := newTrack(false,
		packet(0, h264.AppendSTAPA(nil, testSPS(t), testPPS)),
		packet(3000, testIDR),
	)

	queue := core.NewQueue[h264.Unit]()
	pub := &stalled{done: make(chan struct{})}

	video := make(chan ingest.Config, 1)
	video <- ingest.Config{Track: tr, ClockRate: 90000, Timescale: 1000, Fmtp: testFmtp}

	errs := make(chan error, 1)
	go func() {
		errs <- runPipeline(context.Background(), testConfig(), pub, queue, video, tr.close, zerolog.Nop())
	}()

	select {
	case err := <-errs:
		require.Nil(t, err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "pipeline didn't stop after the end of the track")
	}

	require.True(t, pub.closed)
}

func TestConfigTarget(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		app    string
		stream string

		expectApp    string
		expectStream string
		expectTcURL  string
	}{
		{
			name:         "url",
			url:          "rtmp://localhost/app1/stream1",
			expectApp:    "app1",
			expectStream: "stream1",
			expectTcURL:  "rtmp://localhost/app1",
		},
		{
			name:         "override",
			url:          "rtmp://localhost/app1/stream1",
			app:          "app2",
			stream:       "stream2",
			expectApp:    "app2",
			expectStream: "stream2",
			expectTcURL:  "rtmp://localhost/app2",
		},
		{
			name:         "default",
			url:          "localhost:1935",
			expectApp:    "live",
			expectStream: rtmp.DefaultStream,
			expectTcURL:  "rtmp://localhost:1935/live",
		},
		{
			name:         "app only",
			url:          "rtmp://localhost/app1",
			expectApp:    "app1",
			expectStream: rtmp.DefaultStream,
			expectTcURL:  "rtmp://localhost/app1",
		},
		{
			name:         "override secure",
			url:          "rtmps://example.com:8443/app1/key",
			app:          "app2",
			expectApp:    "app2",
			expectStream: "key",
			expectTcURL:  "rtmps://example.com:8443/app2",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.RTMP.URL = test.url
			cfg.RTMP.App = test.app
			cfg.RTMP.Stream = test.stream

			app, stream, tcURL, err := cfg.target()
			require.Nil(t, err)
			require.Equal(t, test.expectApp, app)
			require.Equal(t, test.expectStream, stream)
			require.Equal(t, test.expectTcURL, tcURL)
		})
	}

	_, _, _, err := (&Config{}).target()
	require.ErrorIs(t, err, ErrNoOutput)
}

func TestLoadConfig(t *testing.T) {
	cfg := LoadConfig()
	require.Equal(t, rtmp.DefaultHandshakeTimeout, cfg.RTMP.HandshakeTimeout)
	require.Equal(t, uint32(320), cfg.RTMP.Width)
	require.Equal(t, uint32(240), cfg.RTMP.Height)
	require.Equal(t, 32, cfg.Transcode.Queue)
}
