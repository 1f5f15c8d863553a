// Package bridge - wires WebRTC session, ingestion, transcoding and RTMP publishing
package bridge

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rtc2rtmp/rtc2rtmp/internal/app"
	"github.com/rtc2rtmp/rtc2rtmp/internal/metrics"
	"github.com/rtc2rtmp/rtc2rtmp/internal/webrtc"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/codec/passthrough"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/core"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/flv"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/h264"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/ingest"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/rtmp"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/transcode"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	RTMP struct {
		URL              string        `yaml:"url"`
		App              string        `yaml:"app"`    // default from URL
		Stream           string        `yaml:"stream"` // default from URL or gengteng
		HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
		ChunkSize        uint32        `yaml:"chunk_size"`
		Width            uint32        `yaml:"width"`
		Height           uint32        `yaml:"height"`
	} `yaml:"rtmp"`

	Transcode struct {
		Queue int `yaml:"queue"`
	} `yaml:"transcode"`
}

var ErrNoOutput = errors.New("bridge: empty RTMP url")

func LoadConfig() Config {
	var cfg Config

	// default config
	cfg.RTMP.HandshakeTimeout = rtmp.DefaultHandshakeTimeout
	cfg.RTMP.Width = 320
	cfg.RTMP.Height = 240
	cfg.Transcode.Queue = 32

	app.LoadConfig(&cfg)

	return cfg
}

// target - app, stream and tcUrl, config values override URL values
func (c *Config) target() (app, stream, tcURL string, err error) {
	if c.RTMP.URL == "" {
		return "", "", "", ErrNoOutput
	}

	t, err := rtmp.ParseURL(c.RTMP.URL)
	if err != nil {
		return "", "", "", err
	}

	if app = c.RTMP.App; app == "" {
		if app = t.App; app == "" {
			app = "live"
		}
	}

	if stream = c.RTMP.Stream; stream == "" {
		if stream = t.Stream; stream == "" {
			stream = rtmp.DefaultStream
		}
	}

	// tcUrl path must match the app of the connect command
	tcURL = t.TcURL
	if t.App != "" {
		tcURL = strings.TrimSuffix(tcURL, "/"+t.App)
	}
	tcURL += "/" + app

	return
}

// Run - connect to the RTMP server, start the WebRTC session and publish the first video track
// until the first stage error, context cancel or the end of the track
func Run(ctx context.Context) error {
	cfg := LoadConfig()
	rtcCfg := webrtc.LoadConfig()

	appName, stream, tcURL, err := cfg.target()
	if err != nil {
		return err
	}

	queue := core.NewQueue[h264.Unit]()

	conn, err := rtmp.Connect(ctx, cfg.RTMP.URL, queue.Out(),
		rtmp.WithLogger(app.GetLogger("rtmp")),
		rtmp.WithHandshakeTimeout(cfg.RTMP.HandshakeTimeout),
		rtmp.WithStream(stream),
		rtmp.WithTcURL(tcURL),
		rtmp.WithChunkSize(cfg.RTMP.ChunkSize),
		rtmp.WithMetadata(flv.Metadata{
			Encoder:      app.UserAgent,
			VideoWidth:   cfg.RTMP.Width,
			VideoHeight:  cfg.RTMP.Height,
			VideoCodecID: "7",
		}),
	)
	if err != nil {
		close(queue.In())
		return err
	}

	log := app.GetLogger("bridge")
	log.Info().Str("url", cfg.RTMP.URL).Msg("[rtmp] handshaked")

	if err = metrics.RegisterRTMP(metrics.Registry, &conn.Stats, conn.State); err != nil {
		log.Warn().Err(err).Msg("[metrics] register")
	}

	if err = conn.Publish(appName); err != nil {
		_ = conn.Close()
		close(queue.In())
		return err
	}

	api, err := webrtc.NewAPI()
	if err != nil {
		_ = conn.Close()
		close(queue.In())
		return err
	}

	session, err := webrtc.Dial(ctx, api, rtcCfg, app.GetLogger("webrtc"))
	if err != nil {
		_ = conn.Close()
		close(queue.In())
		return err
	}
	defer session.Close()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	go func() {
		if err := session.Wait(ctx); err != nil {
			cancel(err)
		}
	}()

	video := make(chan ingest.Config, 1)
	go func() {
		select {
		case track := <-session.Video():
			video <- ingestConfig(track, &rtcCfg, app.GetLogger("ingest"))
		case <-ctx.Done():
		}
	}()

	err = runPipeline(ctx, &cfg, conn, queue, video, func() { _ = session.Close() }, log)

	// session failure is the reason of the pipeline cancel
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}

	return err
}

func ingestConfig(track *webrtc.VideoTrack, cfg *webrtc.Config, log zerolog.Logger) ingest.Config {
	return ingest.Config{
		Track:       track.Track,
		RTCP:        track.PC,
		SSRC:        track.SSRC,
		ClockRate:   track.ClockRate,
		Timescale:   cfg.Timescale,
		Fmtp:        track.Fmtp,
		PLIInterval: cfg.PLIInterval,
		Logger:      &log,
	}
}

// publisher - RTMP side of the pipeline, reads the queue output only while publishing
type publisher interface {
	Done() <-chan struct{}
	Wait() error
	Close() error
	State() rtmp.State
}

// runPipeline - ingest (video) → transcode (bounded channel) → rtmp (queue)
func runPipeline(
	ctx context.Context, cfg *Config, conn publisher, queue *core.Queue[h264.Unit],
	video <-chan ingest.Config, stop func(), log zerolog.Logger,
) error {
	g, ctx := errgroup.WithContext(ctx)

	// track reading is unblocked only by closing the source
	defer context.AfterFunc(ctx, stop)()

	raw := make(chan h264.Unit, cfg.Transcode.Queue)

	// closed after ingest and transcode both ended
	upstream := make(chan struct{})

	g.Go(func() error {
		select {
		case <-conn.Done():
			return conn.Wait()
		case <-ctx.Done():
			return conn.Close()
		case <-upstream:
		}

		// queue close is seen by the publisher only in publishing state
		if state := conn.State(); state != rtmp.StatePublishing {
			log.Warn().Str("state", state.String()).Msg("[bridge] track ended before publishing")
			return conn.Close()
		}

		select {
		case <-conn.Done():
			return conn.Wait()
		case <-ctx.Done():
			return conn.Close()
		}
	})

	g.Go(func() error {
		defer close(raw)

		select {
		case track := <-video:
			t := ingest.New(track)
			if err := metrics.RegisterIngest(metrics.Registry, &t.Stats); err != nil {
				log.Warn().Err(err).Msg("[metrics] register")
			}
			return t.Run(ctx, raw)
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	g.Go(func() error {
		defer close(upstream)
		defer close(queue.In())

		pipe := transcode.New(passthrough.NewDecoder(), passthrough.NewEncoder, app.GetLogger("transcode"))
		if err := metrics.RegisterTranscode(metrics.Registry, &pipe.Stats); err != nil {
			log.Warn().Err(err).Msg("[metrics] register")
		}
		return pipe.Run(ctx, raw, queue.In())
	})

	err := g.Wait()

	// release units left after the connection end
	for range queue.Out() {
	}

	if err != nil {
		log.Error().Err(err).Msg("[bridge] stop")
	} else {
		log.Info().Msg("[bridge] stream ended")
	}

	return err
}
