package transcode

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/codec"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/h264"
	"github.com/stretchr/testify/require"
)

// test payload: frame type, width, height, body...
type frame struct {
	typ    codec.FrameType
	width  int
	height int
	body   []byte
}

func (f *frame) Width() int  { return f.width }
func (f *frame) Height() int { return f.height }

var errBroken = errors.New("broken")

type decoder struct{}

func (decoder) Decode(b []byte) (codec.Frame, error) {
	if len(b) == 0 {
		return nil, errBroken
	}
	if len(b) < 3 {
		return &frame{}, nil // configuration
	}
	return &frame{typ: codec.FrameType(b[0]), width: int(b[1]), height: int(b[2]), body: b[3:]}, nil
}

type coded struct {
	frame *frame
}

func (c *coded) Type() codec.FrameType { return c.frame.typ }
func (c *coded) Bytes() []byte         { return append([]byte{0, 0, 0, 1}, c.frame.body...) }
func (c *coded) Layers() []codec.Layer {
	return []codec.Layer{{[]byte{0x67, 1}, []byte{0x68, 2}, c.frame.body}}
}

type encoder struct {
	width  int
	height int
	closed bool
}

func (e *encoder) Encode(f codec.Frame) (codec.CodedFrame, error) {
	fr := f.(*frame)
	if fr.typ == codec.FrameTypeUnknown {
		return nil, errBroken
	}
	return &coded{frame: fr}, nil
}

func (e *encoder) Close() error {
	e.closed = true
	return nil
}

type factory struct {
	encoders []*encoder
}

func (f *factory) New(width, height int) (codec.Encoder, error) {
	enc := &encoder{width: width, height: height}
	f.encoders = append(f.encoders, enc)
	return enc, nil
}

var testRecord = func() *h264.Record {
	r := h264.NewRecord(0x42, 0x1F)
	r.AddSPS([]byte{0x67, 0x42, 0xE0, 0x1F})
	r.AddPPS([]byte{0x68, 0xCE})
	return r
}()

func config() h264.Unit {
	return h264.NewConfiguration([]byte{0x67}, testRecord)
}

func data(ts uint32, typ codec.FrameType, width, height byte, body ...byte) h264.Unit {
	return h264.NewData(ts, append([]byte{byte(typ), width, height}, body...))
}

func run(t *testing.T, f *factory, units ...h264.Unit) ([]*h264.Data, error) {
	in := make(chan h264.Unit, len(units))
	for _, unit := range units {
		in <- unit
	}
	close(in)

	out := make(chan h264.Unit, len(units))
	err := New(decoder{}, f.New, zerolog.Nop()).Run(context.Background(), in, out)
	close(out)

	var res []*h264.Data
	for unit := range out {
		res = append(res, unit.(*h264.Data))
	}
	return res, err
}

func TestSequenceHeader(t *testing.T) {
	res, err := run(t, &factory{}, config())
	require.Nil(t, err)
	require.Len(t, res, 1)

	avcc := testRecord.Marshal()
	require.Equal(t, uint32(0), res[0].Timestamp)
	require.Len(t, res[0].Payload, 5+len(avcc))
	require.Equal(t, []byte{0x17, 0, 0, 0, 0}, res[0].Payload[:5])
	require.Equal(t, avcc, res[0].Payload[5:])
}

func TestFrames(t *testing.T) {
	units := []h264.Unit{config()}
	for i := 0; i < 1000; i++ {
		typ := codec.FrameTypeIDR
		if i%2 == 1 {
			typ = codec.FrameTypeP
		}
		units = append(units, data(uint32(i), typ, 32, 24, byte(i)))
	}

	f := &factory{}
	res, err := run(t, f, units...)
	require.Nil(t, err)
	require.Len(t, res, 1001)

	// first frame: header with first layer units
	require.Equal(t, []byte{0x17, 1, 0, 0, 0, 0x67, 1, 0x68, 2, 0}, res[1].Payload)

	for i, packet := range res[1:] {
		require.Equal(t, uint32(i), packet.Timestamp)
		require.Equal(t, byte(7), packet.Payload[0]&0x0F)
		if i%2 == 0 {
			require.Equal(t, byte(1), packet.Payload[0]>>4)
		} else {
			require.Equal(t, byte(2), packet.Payload[0]>>4)
		}
		if i > 0 {
			require.Equal(t, []byte{1, 0, 0, 0, 0, 0, 0, 1, byte(i)}, packet.Payload[1:])
		}
	}

	require.Len(t, f.encoders, 1)
	require.Equal(t, 32, f.encoders[0].width)
	require.Equal(t, 24, f.encoders[0].height)
	require.True(t, f.encoders[0].closed)
}

func TestPFrameFirst(t *testing.T) {
	res, err := run(t, &factory{}, config(), data(0, codec.FrameTypeP, 32, 24, 5))
	require.Nil(t, err)
	require.Len(t, res, 2)

	// inter frame in created state has no layer units
	require.Equal(t, []byte{0x27, 1, 0, 0, 0}, res[1].Payload)
}

func TestUnsupportedFrameType(t *testing.T) {
	f := &factory{}
	res, err := run(t, f,
		config(),
		data(0, codec.FrameTypeB, 32, 24),
		data(1, codec.FrameTypeIDR, 32, 24),
		data(2, codec.FrameTypeSkip, 32, 24),
		data(3, codec.FrameTypeP, 32, 24),
	)
	require.Nil(t, err)
	require.Len(t, res, 3)
	require.Equal(t, uint32(1), res[1].Timestamp)
	require.Equal(t, uint32(3), res[2].Timestamp)

	// encoder of dropped frame is closed, state stays created
	require.Len(t, f.encoders, 2)
	require.True(t, f.encoders[0].closed)
}

func TestZeroWidth(t *testing.T) {
	p := New(decoder{}, (&factory{}).New, zerolog.Nop())

	in := make(chan h264.Unit, 3)
	in <- config()
	in <- h264.NewData(0, []byte{1}) // not enough for picture
	in <- data(1, codec.FrameTypeIDR, 32, 24)
	close(in)

	out := make(chan h264.Unit, 3)
	require.Nil(t, p.Run(context.Background(), in, out))
	require.Len(t, out, 2)
	require.Equal(t, uint64(1), p.Stats.Dropped.Load())
	require.Equal(t, uint64(1), p.Stats.Encoded.Load())
}

func TestErrors(t *testing.T) {
	_, err := run(t, &factory{}, data(0, codec.FrameTypeIDR, 32, 24))
	require.ErrorIs(t, err, ErrNoConfiguration)

	_, err = run(t, &factory{}, config(),
		data(0, codec.FrameTypeIDR, 32, 24),
		data(1, codec.FrameTypeP, 64, 48),
	)
	require.ErrorIs(t, err, ErrGeometryChanged)

	_, err = run(t, &factory{}, config(), h264.NewData(0, nil))
	require.ErrorIs(t, err, errBroken)

	_, err = run(t, &factory{}, config(), data(0, codec.FrameTypeUnknown, 32, 24))
	require.ErrorIs(t, err, errBroken)
}

func TestCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	in := make(chan h264.Unit, 1)
	in <- config()

	done := make(chan error)
	go func() {
		// nobody reads output
		done <- New(decoder{}, (&factory{}).New, zerolog.Nop()).Run(ctx, in, make(chan h264.Unit))
	}()

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
