package rtmp

import (
	"encoding/binary"
	"time"
)

const (
	handshakeVersion = 3
	handshakeSize    = 1536
)

type handshakeStage byte

const (
	stageSendC0C1 handshakeStage = iota
	stageWaitS0S1
	stageWaitS2
	stageDone
)

// Handshake - simple (not digest) client handshake without network IO.
//
//	client -> C0 C1
//	server -> S0 S1 S2
//	client -> C2 (echo of S1)
type Handshake struct {
	stage handshakeStage
	buf   []byte
	epoch time.Time
}

type HandshakeResult struct {
	Done      bool
	Response  []byte // bytes to send to the peer, may be empty
	Remaining []byte // bytes after S2, belong to the chunk stream
}

func NewHandshake() *Handshake {
	return &Handshake{epoch: time.Now()}
}

// C0C1 - version and client time, random part is zeroes
func (h *Handshake) C0C1() []byte {
	b := make([]byte, 1+handshakeSize)
	b[0] = handshakeVersion
	binary.BigEndian.PutUint32(b[1:], h.uptime())
	h.stage = stageWaitS0S1
	return b
}

func (h *Handshake) Process(b []byte) (HandshakeResult, error) {
	var res HandshakeResult

	if h.stage == stageDone {
		return res, ErrHandshakeDone
	}

	h.buf = append(h.buf, b...)

	if h.stage == stageWaitS0S1 || h.stage == stageSendC0C1 {
		if len(h.buf) < 1+handshakeSize {
			return res, nil
		}

		if h.buf[0] != handshakeVersion {
			return res, ErrHandshakeVersion
		}

		// C2: S1 time, our read time, S1 random
		c2 := make([]byte, handshakeSize)
		copy(c2, h.buf[1:1+handshakeSize])
		binary.BigEndian.PutUint32(c2[4:], h.uptime())

		res.Response = c2
		h.buf = h.buf[1+handshakeSize:]
		h.stage = stageWaitS2
	}

	// S2 content is not checked, many servers don't echo C1
	if len(h.buf) < handshakeSize {
		return res, nil
	}

	res.Done = true
	res.Remaining = h.buf[handshakeSize:]
	h.buf = nil
	h.stage = stageDone

	return res, nil
}

func (h *Handshake) uptime() uint32 {
	return uint32(time.Since(h.epoch).Milliseconds())
}
