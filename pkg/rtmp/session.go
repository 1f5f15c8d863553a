package rtmp

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/rtc2rtmp/rtc2rtmp/pkg/flv"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/flv/amf"
)

const (
	CommandConnect       = "connect"
	CommandReleaseStream = "releaseStream"
	CommandFCPublish     = "FCPublish"
	CommandCreateStream  = "createStream"
	CommandPublish       = "publish"
	CommandDeleteStream  = "deleteStream"
)

const (
	codeConnectSuccess = "NetConnection.Connect.Success"
	codePublishStart   = "NetStream.Publish.Start"
)

type PublishType string

const (
	PublishLive   PublishType = "live"
	PublishRecord PublishType = "record"
	PublishAppend PublishType = "append"
)

type ClientSessionConfig struct {
	TcURL         string
	FlashVer      string
	ChunkSize     uint32 // outgoing chunk size, default 4096
	WindowAckSize uint32 // our window sent after peer bandwidth, default 2500000
}

// Result - one of *Packet, *Event or *UnhandledMessage
type Result interface {
	result()
}

// Packet - bytes that should be sent to the server
type Packet struct {
	Bytes []byte
}

type EventType byte

const (
	EventConnectionAccepted EventType = iota + 1
	EventConnectionRejected
	EventPublishAccepted
	EventPublishRejected
	EventStatus
	EventStreamBegun
	EventPeerBandwidth
	EventWindowAckSize
	EventChunkSize
	EventPingRequested
)

func (t EventType) String() string {
	switch t {
	case EventConnectionAccepted:
		return "connection_accepted"
	case EventConnectionRejected:
		return "connection_rejected"
	case EventPublishAccepted:
		return "publish_accepted"
	case EventPublishRejected:
		return "publish_rejected"
	case EventStatus:
		return "status"
	case EventStreamBegun:
		return "stream_begin"
	case EventPeerBandwidth:
		return "peer_bandwidth"
	case EventWindowAckSize:
		return "window_ack_size"
	case EventChunkSize:
		return "chunk_size"
	case EventPingRequested:
		return "ping"
	}
	return "unknown"
}

type Event struct {
	Type        EventType
	Code        string
	Description string
	Value       uint32
}

// UnhandledMessage - message that session doesn't know how to handle
type UnhandledMessage struct {
	Message *Message
}

func (*Packet) result()           {}
func (*Event) result()            {}
func (*UnhandledMessage) result() {}

type sessionState byte

const (
	sessionIdle sessionState = iota
	sessionConnecting
	sessionConnected
	sessionPublishRequested
	sessionPublishing
)

// ClientSession - RTMP client session without network IO.
// Input bytes go to HandleInput, output bytes are returned in packets.
type ClientSession struct {
	cfg   ClientSessionConfig
	state sessionState

	rd *chunkReader
	wr *chunkWriter

	txn          float64
	transactions map[float64]string

	stream   string
	publish  PublishType
	streamID uint32

	received   uint64
	acked      uint64
	peerWindow uint32
}

func NewClientSession(cfg ClientSessionConfig) (*ClientSession, []Result, error) {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 4096 // OBS - 4096, Reolink - 4096
	}
	if cfg.ChunkSize > 0x7FFFFFFF {
		return nil, nil, fmt.Errorf("rtmp: wrong chunk size %d", cfg.ChunkSize)
	}
	if cfg.WindowAckSize == 0 {
		cfg.WindowAckSize = DefaultWindowAckSize
	}
	if cfg.FlashVer == "" {
		cfg.FlashVer = "FMLE/3.0 (compatible; FMSc/1.0)"
	}

	s := &ClientSession{
		cfg:          cfg,
		rd:           newChunkReader(),
		wr:           newChunkWriter(),
		transactions: map[float64]string{},
	}

	b := s.control(nil, TypeSetChunkSize, binary.BigEndian.AppendUint32(nil, cfg.ChunkSize))
	s.wr.size = cfg.ChunkSize

	return s, []Result{&Packet{Bytes: b}}, nil
}

func (s *ClientSession) HandleInput(b []byte) ([]Result, error) {
	msgs, err := s.rd.Feed(b)

	var results []Result

	for _, msg := range msgs {
		res, err := s.handleMessage(msg)
		if err != nil {
			return results, err
		}
		results = append(results, res...)
	}

	if err != nil {
		return results, err
	}

	s.received += uint64(len(b))
	if s.peerWindow > 0 && s.received-s.acked >= uint64(s.peerWindow) {
		s.acked = s.received
		ack := binary.BigEndian.AppendUint32(nil, uint32(s.received))
		results = append(results, &Packet{Bytes: s.control(nil, TypeAck, ack)})
	}

	return results, nil
}

func (s *ClientSession) RequestConnection(app string) (*Packet, error) {
	if s.state != sessionIdle {
		return nil, ErrWrongState
	}

	tcURL := s.cfg.TcURL
	if tcURL == "" {
		tcURL = "rtmp://localhost/" + app
	}

	b, err := s.command(nil, 0, CommandConnect, map[string]any{
		"app":      app,
		"type":     "nonprivate",
		"flashVer": s.cfg.FlashVer,
		"tcUrl":    tcURL,
	})
	if err != nil {
		return nil, err
	}

	s.state = sessionConnecting
	return &Packet{Bytes: b}, nil
}

// RequestPublishing - releaseStream, FCPublish and createStream commands,
// publish command is sent after createStream result
func (s *ClientSession) RequestPublishing(stream string, publishType PublishType) (*Packet, error) {
	if s.state != sessionConnected {
		return nil, ErrWrongState
	}

	b, err := s.command(nil, 0, CommandReleaseStream, nil, stream)
	if err != nil {
		return nil, err
	}
	if b, err = s.command(b, 0, CommandFCPublish, nil, stream); err != nil {
		return nil, err
	}
	if b, err = s.command(b, 0, CommandCreateStream, nil); err != nil {
		return nil, err
	}

	s.stream = stream
	s.publish = publishType
	s.state = sessionPublishRequested

	return &Packet{Bytes: b}, nil
}

func (s *ClientSession) PublishMetadata(metadata *flv.Metadata) (*Packet, error) {
	if s.state != sessionPublishing {
		return nil, ErrWrongState
	}

	payload, err := metadata.Marshal()
	if err != nil {
		return nil, err
	}

	b := s.wr.Append(nil, &Message{
		ChunkStreamID: chunkMedia,
		TypeID:        TypeData,
		StreamID:      s.streamID,
		Payload:       payload,
	})
	return &Packet{Bytes: b}, nil
}

// PublishVideoData - data is FLV video tag body
func (s *ClientSession) PublishVideoData(data []byte, timestamp uint32) (*Packet, error) {
	if s.state != sessionPublishing {
		return nil, ErrWrongState
	}

	b := s.wr.Append(nil, &Message{
		ChunkStreamID: chunkMedia,
		TypeID:        TypeVideo,
		StreamID:      s.streamID,
		Timestamp:     timestamp,
		Payload:       data,
	})
	return &Packet{Bytes: b}, nil
}

func (s *ClientSession) StreamID() uint32 {
	return s.streamID
}

func (s *ClientSession) handleMessage(msg *Message) ([]Result, error) {
	switch msg.TypeID {
	case TypeSetChunkSize:
		if len(msg.Payload) < 4 {
			return nil, fmt.Errorf("rtmp: wrong set chunk size %x", msg.Payload)
		}
		value := binary.BigEndian.Uint32(msg.Payload) & 0x7FFFFFFF
		return []Result{&Event{Type: EventChunkSize, Value: value}}, nil

	case TypeAbort, TypeAck:
		return nil, nil

	case TypeWindowAckSize:
		if len(msg.Payload) < 4 {
			return nil, fmt.Errorf("rtmp: wrong window ack size %x", msg.Payload)
		}
		s.peerWindow = binary.BigEndian.Uint32(msg.Payload)
		return []Result{&Event{Type: EventWindowAckSize, Value: s.peerWindow}}, nil

	case TypeSetPeerBandwidth:
		if len(msg.Payload) < 4 {
			return nil, fmt.Errorf("rtmp: wrong peer bandwidth %x", msg.Payload)
		}
		value := binary.BigEndian.Uint32(msg.Payload)
		ack := binary.BigEndian.AppendUint32(nil, s.cfg.WindowAckSize)
		return []Result{
			&Packet{Bytes: s.control(nil, TypeWindowAckSize, ack)},
			&Event{Type: EventPeerBandwidth, Value: value},
		}, nil

	case TypeUserControl:
		return s.handleUserControl(msg)

	case TypeCommand:
		return s.handleCommand(msg)
	}

	return []Result{&UnhandledMessage{Message: msg}}, nil
}

func (s *ClientSession) handleUserControl(msg *Message) ([]Result, error) {
	if len(msg.Payload) < 2 {
		return nil, fmt.Errorf("rtmp: wrong user control %x", msg.Payload)
	}

	switch binary.BigEndian.Uint16(msg.Payload) {
	case EventStreamBegin:
		var id uint32
		if len(msg.Payload) >= 6 {
			id = binary.BigEndian.Uint32(msg.Payload[2:])
		}
		return []Result{&Event{Type: EventStreamBegun, Value: id}}, nil

	case EventPingRequest:
		if len(msg.Payload) < 6 {
			return nil, fmt.Errorf("rtmp: wrong ping request %x", msg.Payload)
		}
		pong := append([]byte{0, EventPingResponse}, msg.Payload[2:6]...)
		return []Result{
			&Packet{Bytes: s.control(nil, TypeUserControl, pong)},
			&Event{Type: EventPingRequested, Value: binary.BigEndian.Uint32(msg.Payload[2:])},
		}, nil
	}

	return nil, nil
}

func (s *ClientSession) handleCommand(msg *Message) ([]Result, error) {
	items, err := amf.NewReader(msg.Payload).ReadItems()
	if err != nil {
		return nil, fmt.Errorf("rtmp: read command: %w", err)
	}

	if len(items) < 2 {
		return []Result{&UnhandledMessage{Message: msg}}, nil
	}

	name, _ := items[0].(string)
	txn, _ := items[1].(float64)

	switch name {
	case "_result", "_error":
		request, ok := s.transactions[txn]
		if !ok {
			return nil, nil
		}
		delete(s.transactions, txn)

		return s.handleResult(request, name == "_result", items)

	case "onStatus":
		return s.handleStatus(items)

	case "onBWDone", "onFCPublish", "_checkbw":
		return nil, nil
	}

	return []Result{&UnhandledMessage{Message: msg}}, nil
}

func (s *ClientSession) handleResult(request string, success bool, items []any) ([]Result, error) {
	switch request {
	case CommandConnect:
		code := getString(items, 3, "code")
		event := &Event{Code: code, Description: getString(items, 3, "description")}

		if success && code == codeConnectSuccess {
			s.state = sessionConnected
			event.Type = EventConnectionAccepted
		} else {
			s.state = sessionIdle
			event.Type = EventConnectionRejected
		}
		return []Result{event}, nil

	case CommandCreateStream:
		if s.state != sessionPublishRequested {
			return nil, nil
		}

		if !success {
			s.state = sessionConnected
			event := &Event{
				Type:        EventPublishRejected,
				Code:        getString(items, 3, "code"),
				Description: getString(items, 3, "description"),
			}
			return []Result{event}, nil
		}

		if len(items) < 4 {
			return nil, fmt.Errorf("%w: %v", ErrResponse, items)
		}

		id, ok := items[3].(float64)
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrResponse, items)
		}
		s.streamID = uint32(id)

		b, err := s.command(nil, s.streamID, CommandPublish, nil, s.stream, string(s.publish))
		if err != nil {
			return nil, err
		}
		return []Result{&Packet{Bytes: b}}, nil
	}

	return nil, nil
}

func (s *ClientSession) handleStatus(items []any) ([]Result, error) {
	event := &Event{
		Type:        EventStatus,
		Code:        getString(items, 3, "code"),
		Description: getString(items, 3, "description"),
	}

	if s.state == sessionPublishRequested && strings.HasPrefix(event.Code, "NetStream.Publish.") {
		if event.Code == codePublishStart {
			s.state = sessionPublishing
			event.Type = EventPublishAccepted
		} else {
			s.state = sessionConnected
			event.Type = EventPublishRejected
		}
	}

	return []Result{event}, nil
}

func (s *ClientSession) control(b []byte, typeID byte, payload []byte) []byte {
	return s.wr.Append(b, &Message{ChunkStreamID: chunkControl, TypeID: typeID, Payload: payload})
}

// command - append command with next transaction ID
func (s *ClientSession) command(b []byte, streamID uint32, name string, items ...any) ([]byte, error) {
	s.txn++
	s.transactions[s.txn] = name

	payload, err := amf.Encode(append([]any{name, s.txn}, items...)...)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		ChunkStreamID: chunkCommand,
		TypeID:        TypeCommand,
		StreamID:      streamID,
		Payload:       payload,
	}
	return s.wr.Append(b, msg), nil
}

func getString(v []any, i int, key string) string {
	if len(v) <= i {
		return ""
	}
	if v, ok := v[i].(map[string]any); ok {
		if s, ok := v[key].(string); ok {
			return s
		}
	}
	return ""
}
