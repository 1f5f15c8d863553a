// Package flv - FLV video tag bodies as carried by RTMP video and data messages.
// Spec: https://rtmp.veriskope.com/pdf/video_file_format_spec_v10.pdf
package flv

import (
	"encoding/binary"

	"github.com/rtc2rtmp/rtc2rtmp/pkg/flv/amf"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/h264"
)

const (
	TagAudio = 8
	TagVideo = 9
	TagData  = 18

	CodecAVC = 7
)

const (
	FrameTypeKey   = 1
	FrameTypeInter = 2
)

const (
	PacketTypeSequenceHeader = 0
	PacketTypeNALU           = 1
)

// VideoHeaderSize - frame type and codec byte, packet type and composition time
const VideoHeaderSize = 5

// AppendVideoHeader - frameType<<4|codec, then u32be packetType<<24|compositionTime
func AppendVideoHeader(b []byte, frameType, packetType byte, compositionTime uint32) []byte {
	b = append(b, frameType<<4|CodecAVC)
	return binary.BigEndian.AppendUint32(b, uint32(packetType)<<24|compositionTime&0xFFFFFF)
}

// SequenceHeader - 17 00 00 00 00 and AVC decoder configuration record
func SequenceHeader(record *h264.Record) []byte {
	b := make([]byte, 0, VideoHeaderSize+record.Size())
	b = AppendVideoHeader(b, FrameTypeKey, PacketTypeSequenceHeader, 0)
	return record.AppendTo(b)
}

func IsSequenceHeader(b []byte) bool {
	return len(b) >= VideoHeaderSize && b[0]&0x0F == CodecAVC && b[1] == PacketTypeSequenceHeader
}

func IsKeyframe(b []byte) bool {
	return len(b) > 0 && b[0]>>4 == FrameTypeKey
}

// Metadata - onMetaData properties sent before media
type Metadata struct {
	Encoder      string
	VideoWidth   uint32
	VideoHeight  uint32
	VideoCodecID string
}

// Marshal - @setDataFrame command for data message
func (m *Metadata) Marshal() ([]byte, error) {
	var arr amf.EcmaArray
	if m.Encoder != "" {
		arr = append(arr, amf.Property{Key: "encoder", Value: m.Encoder})
	}
	if m.VideoWidth != 0 {
		arr = append(arr, amf.Property{Key: "width", Value: m.VideoWidth})
	}
	if m.VideoHeight != 0 {
		arr = append(arr, amf.Property{Key: "height", Value: m.VideoHeight})
	}
	if m.VideoCodecID != "" {
		arr = append(arr, amf.Property{Key: "videocodecid", Value: m.VideoCodecID})
	}
	return amf.Encode("@setDataFrame", "onMetaData", arr)
}
