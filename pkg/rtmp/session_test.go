package rtmp

import (
	"encoding/binary"
	"testing"

	"github.com/rtc2rtmp/rtc2rtmp/pkg/flv"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/flv/amf"
	"github.com/stretchr/testify/require"
)

// peer - scripted server side of the chunk stream
type peer struct {
	rd *chunkReader
	wr *chunkWriter
}

func newPeer() *peer {
	return &peer{rd: newChunkReader(), wr: newChunkWriter()}
}

func (p *peer) command(streamID uint32, items ...any) []byte {
	payload, err := amf.Encode(items...)
	if err != nil {
		panic(err)
	}
	return p.wr.Append(nil, &Message{ChunkStreamID: chunkCommand, TypeID: TypeCommand, StreamID: streamID, Payload: payload})
}

func (p *peer) control(typeID byte, payload ...byte) []byte {
	return p.wr.Append(nil, &Message{ChunkStreamID: chunkControl, TypeID: typeID, Payload: payload})
}

// read - client packets as messages
func (p *peer) read(t *testing.T, results ...Result) []*Message {
	var msgs []*Message
	for _, result := range results {
		packet, ok := result.(*Packet)
		if !ok {
			continue
		}
		res, err := p.rd.Feed(packet.Bytes)
		require.Nil(t, err)
		msgs = append(msgs, res...)
	}
	return msgs
}

func readCommand(t *testing.T, msg *Message) []any {
	require.Equal(t, byte(TypeCommand), msg.TypeID)
	items, err := amf.NewReader(msg.Payload).ReadItems()
	require.Nil(t, err)
	return items
}

func events(results []Result) []EventType {
	var types []EventType
	for _, result := range results {
		if event, ok := result.(*Event); ok {
			types = append(types, event.Type)
		}
	}
	return types
}

func connectedSession(t *testing.T, p *peer) *ClientSession {
	s, results, err := NewClientSession(ClientSessionConfig{TcURL: "rtmp://localhost/live"})
	require.Nil(t, err)
	_ = p.read(t, results...)

	packet, err := s.RequestConnection("live")
	require.Nil(t, err)
	_ = p.read(t, packet)

	results, err = s.HandleInput(p.command(0,
		"_result", 1, map[string]any{"fmsVer": "FMS/3,0,1,123"},
		map[string]any{"code": "NetConnection.Connect.Success"},
	))
	require.Nil(t, err)
	require.Equal(t, []EventType{EventConnectionAccepted}, events(results))

	return s
}

func TestClientSessionConnect(t *testing.T) {
	p := newPeer()

	s, results, err := NewClientSession(ClientSessionConfig{TcURL: "rtmp://localhost/live"})
	require.Nil(t, err)

	msgs := p.read(t, results...)
	require.Len(t, msgs, 1)
	require.Equal(t, byte(TypeSetChunkSize), msgs[0].TypeID)
	require.Equal(t, []byte{0, 0, 0x10, 0}, msgs[0].Payload)

	_, err = s.RequestPublishing("test", PublishLive)
	require.ErrorIs(t, err, ErrWrongState)

	packet, err := s.RequestConnection("live")
	require.Nil(t, err)

	msgs = p.read(t, packet)
	require.Len(t, msgs, 1)
	require.Equal(t, []any{
		"connect", float64(1), map[string]any{
			"app":      "live",
			"type":     "nonprivate",
			"flashVer": "FMLE/3.0 (compatible; FMSc/1.0)",
			"tcUrl":    "rtmp://localhost/live",
		},
	}, readCommand(t, msgs[0]))

	_, err = s.RequestConnection("live")
	require.ErrorIs(t, err, ErrWrongState)

	var b []byte
	b = append(b, p.control(TypeWindowAckSize, 0, 0x26, 0x25, 0xA0)...)
	b = append(b, p.control(TypeSetPeerBandwidth, 0, 0x26, 0x25, 0xA0, 2)...)
	b = append(b, p.control(TypeSetChunkSize, 0, 0, 0x10, 0)...)
	b = append(b, p.command(0,
		"_result", 1, map[string]any{"fmsVer": "FMS/3,0,1,123"},
		map[string]any{"code": "NetConnection.Connect.Success", "description": "Connection succeeded."},
	)...)

	results, err = s.HandleInput(b)
	require.Nil(t, err)
	require.Equal(t, []EventType{
		EventWindowAckSize, EventPeerBandwidth, EventChunkSize, EventConnectionAccepted,
	}, events(results))

	// window ack size reply to peer bandwidth
	msgs = p.read(t, results...)
	require.Len(t, msgs, 1)
	require.Equal(t, byte(TypeWindowAckSize), msgs[0].TypeID)
	require.Equal(t, uint32(DefaultWindowAckSize), binary.BigEndian.Uint32(msgs[0].Payload))
}

func TestClientSessionPublish(t *testing.T) {
	p := newPeer()
	s := connectedSession(t, p)

	_, err := s.PublishVideoData([]byte{0x17}, 0)
	require.ErrorIs(t, err, ErrWrongState)

	packet, err := s.RequestPublishing("gengteng", PublishLive)
	require.Nil(t, err)

	msgs := p.read(t, packet)
	require.Len(t, msgs, 3)
	require.Equal(t, []any{"releaseStream", float64(2), nil, "gengteng"}, readCommand(t, msgs[0]))
	require.Equal(t, []any{"FCPublish", float64(3), nil, "gengteng"}, readCommand(t, msgs[1]))
	require.Equal(t, []any{"createStream", float64(4), nil}, readCommand(t, msgs[2]))

	results, err := s.HandleInput(p.command(0, "_result", 4, nil, 1))
	require.Nil(t, err)

	msgs = p.read(t, results...)
	require.Len(t, msgs, 1)
	require.Equal(t, uint32(1), msgs[0].StreamID)
	require.Equal(t, []any{"publish", float64(5), nil, "gengteng", "live"}, readCommand(t, msgs[0]))
	require.Equal(t, uint32(1), s.StreamID())

	results, err = s.HandleInput(p.command(1, "onStatus", 0, nil, map[string]any{
		"level": "status", "code": "NetStream.Publish.Start", "description": "Start publishing",
	}))
	require.Nil(t, err)
	require.Equal(t, []EventType{EventPublishAccepted}, events(results))

	packet, err = s.PublishMetadata(&flv.Metadata{VideoWidth: 320, VideoHeight: 240, VideoCodecID: "7"})
	require.Nil(t, err)

	msgs = p.read(t, packet)
	require.Len(t, msgs, 1)
	require.Equal(t, byte(TypeData), msgs[0].TypeID)
	require.Equal(t, uint32(1), msgs[0].StreamID)

	packet, err = s.PublishVideoData([]byte{0x27, 1, 0, 0, 0, 0xAA}, 1234)
	require.Nil(t, err)

	msgs = p.read(t, packet)
	require.Len(t, msgs, 1)
	require.Equal(t, &Message{
		ChunkStreamID: chunkMedia,
		TypeID:        TypeVideo,
		StreamID:      1,
		Timestamp:     1234,
		Payload:       []byte{0x27, 1, 0, 0, 0, 0xAA},
	}, msgs[0])
}

func TestClientSessionRejected(t *testing.T) {
	p := newPeer()

	s, _, err := NewClientSession(ClientSessionConfig{})
	require.Nil(t, err)

	_, err = s.RequestConnection("live")
	require.Nil(t, err)

	results, err := s.HandleInput(p.command(0,
		"_error", 1, nil, map[string]any{"code": "NetConnection.Connect.Rejected", "description": "denied"},
	))
	require.Nil(t, err)
	require.Len(t, results, 1)

	event := results[0].(*Event)
	require.Equal(t, EventConnectionRejected, event.Type)
	require.Equal(t, "NetConnection.Connect.Rejected", event.Code)
	require.Equal(t, "denied", event.Description)

	p = newPeer()
	s = connectedSession(t, p)

	_, err = s.RequestPublishing("busy", PublishLive)
	require.Nil(t, err)

	_, err = s.HandleInput(p.command(0, "_result", 4, nil, 1))
	require.Nil(t, err)

	results, err = s.HandleInput(p.command(1, "onStatus", 0, nil, map[string]any{
		"level": "error", "code": "NetStream.Publish.BadName",
	}))
	require.Nil(t, err)
	require.Equal(t, []EventType{EventPublishRejected}, events(results))
}

func TestClientSessionPing(t *testing.T) {
	p := newPeer()
	s := connectedSession(t, p)

	results, err := s.HandleInput(p.control(TypeUserControl, 0, EventPingRequest, 0, 0, 0x12, 0x34))
	require.Nil(t, err)
	require.Equal(t, []EventType{EventPingRequested}, events(results))

	msgs := p.read(t, results...)
	require.Len(t, msgs, 1)
	require.Equal(t, byte(TypeUserControl), msgs[0].TypeID)
	require.Equal(t, []byte{0, EventPingResponse, 0, 0, 0x12, 0x34}, msgs[0].Payload)

	results, err = s.HandleInput(p.control(TypeUserControl, 0, EventStreamBegin, 0, 0, 0, 1))
	require.Nil(t, err)
	require.Equal(t, uint32(1), results[0].(*Event).Value)
}

func TestClientSessionAcknowledgement(t *testing.T) {
	p := newPeer()
	s := connectedSession(t, p)

	results, err := s.HandleInput(p.control(TypeWindowAckSize, 0, 0, 0x03, 0xE8))
	require.Nil(t, err)
	require.Empty(t, p.read(t, results...))

	// about 1065 bytes with chunk headers, window is 1000
	var b []byte
	for i := 0; i < 5; i++ {
		b = append(b, p.wr.Append(nil, &Message{ChunkStreamID: 5, TypeID: TypeAudio, Payload: make([]byte, 200)})...)
	}

	results, err = s.HandleInput(b)
	require.Nil(t, err)

	var unhandled int
	for _, result := range results {
		if _, ok := result.(*UnhandledMessage); ok {
			unhandled++
		}
	}
	require.Equal(t, 5, unhandled)

	msgs := p.read(t, results...)
	require.Len(t, msgs, 1)
	require.Equal(t, byte(TypeAck), msgs[0].TypeID)
	require.Equal(t, s.received, uint64(binary.BigEndian.Uint32(msgs[0].Payload)))
}
