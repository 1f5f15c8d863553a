package webrtc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	pion "github.com/pion/webrtc/v3"
	"github.com/rs/zerolog"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/core"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/ingest"
)

var ErrConnectionFailed = errors.New("webrtc: connection failed")

// VideoTrack - negotiated H264 track ready for ingestion
type VideoTrack struct {
	Track     *pion.TrackRemote
	PC        *pion.PeerConnection
	SSRC      uint32
	ClockRate uint32
	Fmtp      string
}

// Session - receive-only peer connection with one audio and one video transceiver.
// Audio is drained, the first video track is passed to Video channel.
type Session struct {
	pc  *pion.PeerConnection
	log zerolog.Logger

	video      chan *VideoTrack
	videoTaken atomic.Bool

	mu     sync.Mutex
	answer string

	ws *wsClient

	ctx    context.Context
	cancel context.CancelFunc
	state  core.Waiter
}

// Dial - create peer connection, send complete offer to the signaling server and apply the answer
func Dial(ctx context.Context, api *pion.API, cfg Config, log zerolog.Logger) (*Session, error) {
	apiURL, err := cfg.APIURL()
	if err != nil {
		return nil, err
	}

	pc, err := api.NewPeerConnection(pion.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, err
	}

	s := &Session{
		pc:    pc,
		log:   log,
		video: make(chan *VideoTrack, 1),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if err = s.init(ctx, apiURL, &cfg); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

func (s *Session) init(ctx context.Context, apiURL string, cfg *Config) error {
	s.pc.OnTrack(s.onTrack)

	s.pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		s.log.Info().Str("state", state.String()).Msg("[webrtc] connection state")

		switch state {
		case pion.PeerConnectionStateFailed:
			s.state.Done(ErrConnectionFailed)
		case pion.PeerConnectionStateClosed:
			s.state.Done(nil)
		}
	})

	s.pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		s.log.Debug().Str("state", state.String()).Msg("[webrtc] ice connection state")
	})

	s.pc.OnSignalingStateChange(func(state pion.SignalingState) {
		s.log.Debug().Str("state", state.String()).Msg("[webrtc] signaling state")
	})

	s.pc.OnICECandidate(func(candidate *pion.ICECandidate) {
		if candidate != nil {
			s.log.Trace().Str("candidate", candidate.ToJSON().Candidate).Msg("[webrtc] local")
		}
	})

	// allow us to receive 1 audio track, and 1 video track
	for _, kind := range []pion.RTPCodecType{pion.RTPCodecTypeAudio, pion.RTPCodecTypeVideo} {
		_, err := s.pc.AddTransceiverFromKind(kind, pion.RTPTransceiverInit{
			Direction: pion.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			return err
		}
	}

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return err
	}

	gathered := pion.GatheringCompletePromise(s.pc)

	if err = s.pc.SetLocalDescription(offer); err != nil {
		return err
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	offerSDP := s.pc.LocalDescription().SDP

	var answer string
	var candidates []string

	if isWebSocket(apiURL) {
		if s.ws, err = dialWS(ctx, apiURL, cfg); err != nil {
			return err
		}
		if answer, candidates, err = s.ws.Offer(ctx, offerSDP); err != nil {
			return err
		}
	} else {
		res, err := Play(ctx, newHTTPClient(cfg), &PlayParam{
			API:       apiURL,
			SDP:       offerSDP,
			StreamURL: cfg.Stream(),
			TID:       cfg.TID,
		})
		if err != nil {
			return err
		}

		s.log.Debug().Str("server", res.Server).Str("session", res.SessionID).Msg("[webrtc] play")
		answer = res.SDP
	}

	s.mu.Lock()
	s.answer = answer
	s.mu.Unlock()

	desc := pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: answer}
	if err = s.pc.SetRemoteDescription(desc); err != nil {
		return err
	}

	for _, candidate := range candidates {
		s.addCandidate(candidate)
	}

	if s.ws != nil {
		go func() {
			err := s.ws.Candidates(s.addCandidate)
			s.log.Trace().Err(err).Msg("[webrtc] signaling closed")
		}()
	}

	return nil
}

func (s *Session) addCandidate(candidate string) {
	s.log.Trace().Str("candidate", candidate).Msg("[webrtc] remote")
	if err := s.pc.AddICECandidate(pion.ICECandidateInit{Candidate: candidate}); err != nil {
		s.log.Warn().Err(err).Msg("[webrtc] add candidate")
	}
}

func (s *Session) onTrack(track *pion.TrackRemote, _ *pion.RTPReceiver) {
	codec := track.Codec()

	log := s.log.With().Uint32("ssrc", uint32(track.SSRC())).Logger()
	log.Info().Uint8("payload_type", uint8(track.PayloadType())).Str("codec", codec.MimeType).
		Msg("[webrtc] on track")

	if track.Kind() != pion.RTPCodecTypeVideo || !s.videoTaken.CompareAndSwap(false, true) {
		// audio and extra video tracks are read only for RTCP and buffers
		if err := ingest.Drain(s.ctx, track); err != nil && !errors.Is(err, context.Canceled) {
			log.Debug().Err(err).Msg("[webrtc] drain track")
		}
		return
	}

	fmtp := codec.SDPFmtpLine
	if !hasProfileLevelID(fmtp) {
		s.mu.Lock()
		fmtp = FmtpFromSDP(s.answer, uint8(track.PayloadType()))
		s.mu.Unlock()
	}

	s.video <- &VideoTrack{
		Track:     track,
		PC:        s.pc,
		SSRC:      uint32(track.SSRC()),
		ClockRate: codec.ClockRate,
		Fmtp:      fmtp,
	}
}

// Video - the first negotiated video track
func (s *Session) Video() <-chan *VideoTrack {
	return s.video
}

// Wait - until peer connection failed or closed
func (s *Session) Wait(ctx context.Context) error {
	return s.state.Wait(ctx)
}

func (s *Session) Close() error {
	s.cancel()
	if s.ws != nil {
		_ = s.ws.Close()
	}
	s.state.Done(nil)
	return s.pc.Close()
}
