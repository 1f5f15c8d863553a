// Package h264 - H.264 bitstream helpers shared by the ingest, transcode and rtmp stages
package h264

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/rtc2rtmp/rtc2rtmp/pkg/core"
)

const (
	NALUTypePFrame = 1  // Coded slice of a non-IDR picture
	NALUTypeIFrame = 5  // Coded slice of an IDR picture
	NALUTypeSEI    = 6  // Supplemental enhancement information (SEI)
	NALUTypeSPS    = 7  // Sequence parameter set
	NALUTypePPS    = 8  // Picture parameter set
	NALUTypeAUD    = 9  // Access unit delimiter
	NALUTypeSTAPA  = 24 // RTP single-time aggregation packet
	NALUTypeFUA    = 28 // RTP fragmentation unit

	NALUTypeMask = 0x1F
)

// first bytes of SPS and PPS with nal_ref_idc=3
const (
	SPSHeader = 0x67
	PPSHeader = 0x68
)

const StartCode = "\x00\x00\x00\x01"

var ErrNoProfileLevelID = errors.New("h264: no profile-level-id")

// NALUType - type of raw NAL unit (without start code or length prefix)
func NALUType(b []byte) byte {
	return b[0] & NALUTypeMask
}

// ParseProfileLevelID - get profile_idc, profile_iop and level_idc from fmtp line
// ex. "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"
func ParseProfileLevelID(fmtp string) (profile, compat, level byte, err error) {
	s := core.Between(fmtp, "profile-level-id=", ";")
	s = strings.TrimSpace(s)
	if len(s) != 6 {
		return 0, 0, 0, ErrNoProfileLevelID
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return 0, 0, 0, errors.Join(ErrNoProfileLevelID, err)
	}

	return b[0], b[1], b[2], nil
}

// SplitAnnexB - split Annex B stream to raw NAL units, supports 3 and 4 bytes start codes
func SplitAnnexB(b []byte) [][]byte {
	var nalus [][]byte

	start := -1
	for i := 0; i+2 < len(b); {
		if b[i] != 0 || b[i+1] != 0 || b[i+2] != 1 {
			i++
			continue
		}

		if start >= 0 {
			nalus = appendNALU(nalus, b[start:i])
		}

		i += 3
		start = i
	}

	if start >= 0 {
		nalus = appendNALU(nalus, b[start:])
	}

	return nalus
}

func appendNALU(nalus [][]byte, nalu []byte) [][]byte {
	// trailing zero is the first byte of the next 4 bytes start code
	nalu = bytes.TrimRight(nalu, "\x00")
	if len(nalu) == 0 {
		return nalus
	}
	return append(nalus, nalu)
}
