package webrtc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const answerSDP = `v=0
o=- 0 0 IN IP4 127.0.0.1
s=-
t=0 0
m=audio 9 UDP/TLS/RTP/SAVPF 120
c=IN IP4 0.0.0.0
a=rtpmap:120 opus/48000/2
a=fmtp:120 minptime=10;useinbandfec=1
m=video 9 UDP/TLS/RTP/SAVPF 102 106 107
c=IN IP4 0.0.0.0
a=rtpmap:102 H264/90000
a=fmtp:102 level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f
a=rtpmap:106 H264/90000
a=fmtp:106 packetization-mode=1;profile-level-id=640033
a=rtpmap:107 H264/90000
a=fmtp:107 packetization-mode=1
`

func TestFmtpFromSDP(t *testing.T) {
	tests := []struct {
		name        string
		payloadType uint8
		fmtp        string
	}{
		{"payload type", 102, "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"},
		{"second payload type", 106, "packetization-mode=1;profile-level-id=640033"},
		{"without profile", 107, "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"},
		{"unknown payload type", 96, "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"},
		{"audio payload type", 120, "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.fmtp, FmtpFromSDP(answerSDP, test.payloadType))
		})
	}
}

func TestFmtpFromSDPWrong(t *testing.T) {
	require.Empty(t, FmtpFromSDP("", 102))
	require.Empty(t, FmtpFromSDP("wrong", 102))
}
