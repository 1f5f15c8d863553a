// Package rtmp - RTMP publishing client: handshake, chunk stream, client session and publish driver.
// RTMP protocol: https://rtmp.veriskope.com/docs/spec/
package rtmp

import (
	"errors"
)

// message type IDs
const (
	TypeSetChunkSize     = 1
	TypeAbort            = 2
	TypeAck              = 3
	TypeUserControl      = 4
	TypeWindowAckSize    = 5
	TypeSetPeerBandwidth = 6
	TypeAudio            = 8
	TypeVideo            = 9
	TypeData             = 18
	TypeCommand          = 20
)

// user control event types
const (
	EventStreamBegin  = 0
	EventStreamEOF    = 1
	EventStreamDry    = 2
	EventPingRequest  = 6
	EventPingResponse = 7
)

// chunk stream IDs, same as OBS
const (
	chunkControl = 2
	chunkCommand = 3
	chunkMedia   = 4
)

const (
	DefaultChunkSize     = 128
	DefaultWindowAckSize = 2500000
	DefaultPort          = "1935"
	DefaultTLSPort       = "443"
)

var (
	ErrClosed           = errors.New("rtmp: connection closed")
	ErrWrongState       = errors.New("rtmp: wrong session state")
	ErrHandshakeVersion = errors.New("rtmp: unsupported handshake version")
	ErrHandshakeDone    = errors.New("rtmp: handshake already completed")
	ErrChunkHeader      = errors.New("rtmp: wrong chunk header")
	ErrResponse         = errors.New("rtmp: wrong response")
)

// State - publish connection state
type State int32

const (
	StateCreated State = iota
	StateHandshaking
	StateConnected
	StatePublishRequested
	StatePublishing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StatePublishRequested:
		return "publish_requested"
	case StatePublishing:
		return "publishing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

func PutUint24(b []byte, v uint32) {
	_ = b[2]
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func Uint24(b []byte) uint32 {
	_ = b[2]
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}
