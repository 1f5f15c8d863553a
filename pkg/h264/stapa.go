package h264

import (
	"encoding/binary"
	"errors"
)

var (
	ErrNoSTAPA        = errors.New("h264: payload is not STAP-A")
	ErrTruncatedSTAPA = errors.New("h264: STAP-A unit length exceeds payload")
)

// ParseSTAPA - split RTP STAP-A payload (RFC 6184 5.7.1) to NAL units
//
//	STAP-A NAL HDR | NALU 1 Size (16 bit) | NALU 1 | NALU 2 Size | NALU 2 | ...
func ParseSTAPA(payload []byte) ([][]byte, error) {
	if len(payload) == 0 || payload[0]&NALUTypeMask != NALUTypeSTAPA {
		return nil, ErrNoSTAPA
	}

	var nalus [][]byte

	for b := payload[1:]; len(b) > 0; {
		if len(b) < 2 {
			return nil, ErrTruncatedSTAPA
		}

		size := int(binary.BigEndian.Uint16(b))
		b = b[2:]

		if size > len(b) {
			return nil, ErrTruncatedSTAPA
		}

		if size > 0 {
			nalus = append(nalus, b[:size])
		}
		b = b[size:]
	}

	return nalus, nil
}

// AppendSTAPA - build STAP-A payload from NAL units, used by tests and loopback tools
func AppendSTAPA(b []byte, nalus ...[]byte) []byte {
	var nri byte
	for _, nalu := range nalus {
		if n := nalu[0] & 0b0110_0000; n > nri {
			nri = n
		}
	}

	b = append(b, nri|NALUTypeSTAPA)
	for _, nalu := range nalus {
		b = binary.BigEndian.AppendUint16(b, uint16(len(nalu)))
		b = append(b, nalu...)
	}
	return b
}
