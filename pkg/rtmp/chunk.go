package rtmp

import (
	"encoding/binary"
	"fmt"
)

// Message - complete RTMP message assembled from chunks
type Message struct {
	ChunkStreamID uint32
	TypeID        byte
	StreamID      uint32
	Timestamp     uint32
	Payload       []byte
}

type chunkHeader struct {
	timestamp uint32 // absolute
	delta     uint32
	length    uint32
	typeID    byte
	streamID  uint32
	extended  bool // timestamp field was 0xFFFFFF
}

type chunkStream struct {
	hdr     chunkHeader
	payload []byte // incomplete message
	started bool
}

// chunkReader - incremental chunk stream parser, input can be split at any byte
type chunkReader struct {
	buf     []byte
	size    uint32
	streams map[uint32]*chunkStream
}

func newChunkReader() *chunkReader {
	return &chunkReader{
		size:    DefaultChunkSize,
		streams: map[uint32]*chunkStream{},
	}
}

func (r *chunkReader) Feed(b []byte) ([]*Message, error) {
	r.buf = append(r.buf, b...)

	var msgs []*Message

	for {
		msg, n, err := r.readChunk(r.buf)
		if err != nil {
			return msgs, err
		}
		if n == 0 {
			break // need more data
		}

		r.buf = r.buf[n:]

		if msg == nil {
			continue
		}

		// must be applied before the next chunk
		if msg.TypeID == TypeSetChunkSize && len(msg.Payload) >= 4 {
			if size := binary.BigEndian.Uint32(msg.Payload) & 0x7FFFFFFF; size > 0 {
				r.size = size
			}
		}

		msgs = append(msgs, msg)
	}

	if len(r.buf) == 0 {
		r.buf = nil // release memory
	}

	return msgs, nil
}

// readChunk - returns consumed size or zero if b has no whole chunk
func (r *chunkReader) readChunk(b []byte) (*Message, int, error) {
	if len(b) < 1 {
		return nil, 0, nil
	}

	format := b[0] >> 6
	csid := uint32(b[0] & 0b111111)
	n := 1

	switch csid {
	case 0:
		if len(b) < 2 {
			return nil, 0, nil
		}
		csid = 64 + uint32(b[1])
		n = 2
	case 1:
		if len(b) < 3 {
			return nil, 0, nil
		}
		csid = 64 + uint32(b[1]) + uint32(b[2])<<8
		n = 3
	}

	cs := r.streams[csid]
	if cs == nil && format != 0 {
		return nil, 0, fmt.Errorf("%w: format %d for new chunk stream %d", ErrChunkHeader, format, csid)
	}

	var hdr chunkHeader
	if cs != nil {
		hdr = cs.hdr
	}

	var field uint32

	switch format {
	case 0:
		if len(b) < n+11 {
			return nil, 0, nil
		}
		field = Uint24(b[n:])
		hdr.length = Uint24(b[n+3:])
		hdr.typeID = b[n+6]
		hdr.streamID = binary.LittleEndian.Uint32(b[n+7:])
		n += 11
	case 1:
		if len(b) < n+7 {
			return nil, 0, nil
		}
		field = Uint24(b[n:])
		hdr.length = Uint24(b[n+3:])
		hdr.typeID = b[n+6]
		n += 7
	case 2:
		if len(b) < n+3 {
			return nil, 0, nil
		}
		field = Uint24(b[n:])
		n += 3
	}

	if format < 3 {
		hdr.extended = field == 0xFFFFFF
	}

	if hdr.extended {
		if len(b) < n+4 {
			return nil, 0, nil
		}
		field = binary.BigEndian.Uint32(b[n:])
		n += 4
	}

	var payload []byte

	// continuation of message
	continued := format == 3 && cs != nil && cs.started

	if continued {
		payload = cs.payload
	} else {
		switch format {
		case 0:
			hdr.timestamp = field
			hdr.delta = 0
		case 1, 2:
			hdr.delta = field
			hdr.timestamp += field
		case 3:
			hdr.timestamp += hdr.delta
		}
	}

	size := min(hdr.length-uint32(len(payload)), r.size)
	if len(b) < n+int(size) {
		return nil, 0, nil
	}

	// commit state only for whole chunk
	if cs == nil {
		cs = &chunkStream{}
		r.streams[csid] = cs
	}

	cs.hdr = hdr
	payload = append(payload, b[n:n+int(size)]...)
	n += int(size)

	if uint32(len(payload)) < hdr.length {
		cs.payload = payload
		cs.started = true
		return nil, n, nil
	}

	cs.payload = nil
	cs.started = false

	msg := &Message{
		ChunkStreamID: csid,
		TypeID:        hdr.typeID,
		StreamID:      hdr.streamID,
		Timestamp:     hdr.timestamp,
		Payload:       payload,
	}
	return msg, n, nil
}

// chunkWriter - split messages to type 0 and type 3 chunks
type chunkWriter struct {
	size uint32
}

func newChunkWriter() *chunkWriter {
	return &chunkWriter{size: DefaultChunkSize}
}

func (w *chunkWriter) Append(b []byte, msg *Message) []byte {
	extended := msg.Timestamp >= 0xFFFFFF

	b = appendBasicHeader(b, 0, msg.ChunkStreamID)

	if extended {
		b = append(b, 0xFF, 0xFF, 0xFF)
	} else {
		b = append(b, byte(msg.Timestamp>>16), byte(msg.Timestamp>>8), byte(msg.Timestamp))
	}

	size := uint32(len(msg.Payload))
	b = append(b, byte(size>>16), byte(size>>8), byte(size), msg.TypeID)
	b = binary.LittleEndian.AppendUint32(b, msg.StreamID)

	if extended {
		b = binary.BigEndian.AppendUint32(b, msg.Timestamp)
	}

	payload := msg.Payload
	for {
		n := min(uint32(len(payload)), w.size)
		b = append(b, payload[:n]...)
		payload = payload[n:]

		if len(payload) == 0 {
			return b
		}

		b = appendBasicHeader(b, 3, msg.ChunkStreamID)
		if extended {
			b = binary.BigEndian.AppendUint32(b, msg.Timestamp)
		}
	}
}

func appendBasicHeader(b []byte, format byte, csid uint32) []byte {
	switch {
	case csid < 64:
		return append(b, format<<6|byte(csid))
	case csid < 64+256:
		return append(b, format<<6, byte(csid-64))
	default:
		csid -= 64
		return append(b, format<<6|1, byte(csid), byte(csid>>8))
	}
}
