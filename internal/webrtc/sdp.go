package webrtc

import (
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/h264"
)

// FmtpFromSDP - H264 fmtp line for payload type, or the first H264 fmtp with profile-level-id
func FmtpFromSDP(s string, payloadType uint8) string {
	sd := &sdp.SessionDescription{}
	if err := sd.Unmarshal([]byte(s)); err != nil {
		return ""
	}

	if codec, err := sd.GetCodecForPayloadType(payloadType); err == nil {
		if strings.EqualFold(codec.Name, "H264") && hasProfileLevelID(codec.Fmtp) {
			return codec.Fmtp
		}
	}

	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media != "video" {
			continue
		}

		for _, attr := range md.Attributes {
			if attr.Key != "fmtp" {
				continue
			}

			// 102 level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f
			_, fmtp, ok := strings.Cut(attr.Value, " ")
			if ok && hasProfileLevelID(fmtp) {
				return fmtp
			}
		}
	}

	return ""
}

func hasProfileLevelID(fmtp string) bool {
	_, _, _, err := h264.ParseProfileLevelID(fmtp)
	return err == nil
}
