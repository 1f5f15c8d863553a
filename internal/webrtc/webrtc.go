// Package webrtc - receive-only WebRTC session with play API or WebSocket signaling
package webrtc

import (
	"errors"
	"fmt"
	"time"

	"github.com/pion/interceptor"
	pion "github.com/pion/webrtc/v3"
	"github.com/rtc2rtmp/rtc2rtmp/internal/app"
)

type Config struct {
	// API - play API or WebSocket signaling URL,
	// default https://{host}:{port}/rtc/v1/play/
	API  string `yaml:"api"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	StreamURL string `yaml:"stream_url"` // default webrtc://{host}/live/livestream
	TID       string `yaml:"tid"`

	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	Timeout            time.Duration `yaml:"timeout"`

	ICEServers []pion.ICEServer `yaml:"ice_servers"`

	PLIInterval time.Duration `yaml:"pli_interval"`
	Timescale   uint32        `yaml:"timescale"` // timestamp units per second
}

var ErrNoAPI = errors.New("webrtc: empty play API host")

func LoadConfig() Config {
	var cfg struct {
		Mod Config `yaml:"webrtc"`
	}

	// default config
	cfg.Mod = Config{
		Port:               443,
		InsecureSkipVerify: true,
		Timeout:            10 * time.Second,
		ICEServers: []pion.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		PLIInterval: 3 * time.Second,
		Timescale:   1000,
	}

	app.LoadConfig(&cfg)

	return cfg.Mod
}

func (c *Config) APIURL() (string, error) {
	if c.API != "" {
		return c.API, nil
	}
	if c.Host == "" {
		return "", ErrNoAPI
	}
	return fmt.Sprintf("https://%s:%d/rtc/v1/play/", c.Host, c.Port), nil
}

func (c *Config) Stream() string {
	if c.StreamURL != "" {
		return c.StreamURL
	}
	return "webrtc://" + c.Host + "/live/livestream"
}

const (
	PayloadTypeH264 = 102
	PayloadTypeOpus = 120
)

// NewAPI - H264 video and Opus audio with the default interceptors (NACK, RTCP reports, TWCC)
func NewAPI() (*pion.API, error) {
	// for debug logs add to env: `PION_LOG_DEBUG=all`
	m := &pion.MediaEngine{}
	if err := RegisterCodecs(m); err != nil {
		return nil, err
	}

	i := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, err
	}

	return pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
	), nil
}

func RegisterCodecs(m *pion.MediaEngine) error {
	err := m.RegisterCodec(pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType: pion.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: PayloadTypeOpus,
	}, pion.RTPCodecTypeAudio)
	if err != nil {
		return err
	}

	return m.RegisterCodec(pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:    pion.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			RTCPFeedback: []pion.RTCPFeedback{
				{Type: "goog-remb"},
				{Type: "ccm", Parameter: "fir"},
				{Type: "nack"},
				{Type: "nack", Parameter: "pli"},
			},
		},
		PayloadType: PayloadTypeH264,
	}, pion.RTPCodecTypeVideo)
}
