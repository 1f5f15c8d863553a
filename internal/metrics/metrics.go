// Package metrics - Prometheus collectors over the stage counters and the /metrics listener
package metrics

import (
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rtc2rtmp/rtc2rtmp/internal/app"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/ingest"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/rtmp"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/transcode"
)

const namespace = "rtc2rtmp"

var Registry = prometheus.NewRegistry()

var log zerolog.Logger

func Init() {
	var cfg struct {
		Mod struct {
			Listen string `yaml:"listen"`
		} `yaml:"metrics"`
	}

	app.LoadConfig(&cfg)

	log = app.GetLogger("metrics")

	if cfg.Mod.Listen == "" {
		return
	}

	go listen(cfg.Mod.Listen)
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func listen(address string) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		log.Error().Err(err).Msg("[metrics] listen")
		return
	}

	log.Info().Str("addr", ln.Addr().String()).Msg("[metrics] listen")

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(Registry))

	server := http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err = server.Serve(ln); err != nil {
		log.Error().Err(err).Msg("[metrics] serve")
	}
}

func RegisterIngest(reg prometheus.Registerer, stats *ingest.Stats) error {
	return register(reg,
		counter("ingest_packets_total", "RTP packets read from the video track", stats.Packets.Load),
		counter("ingest_dropped_total", "RTP packets dropped before the first keyframe", stats.Dropped.Load),
		counter("ingest_units_total", "H264 units sent to the transcoder", stats.Units.Load),
		counter("ingest_pli_total", "Picture loss indications sent", stats.PLI.Load),
	)
}

func RegisterTranscode(reg prometheus.Registerer, stats *transcode.Stats) error {
	return register(reg,
		counter("transcode_decoded_total", "Frames decoded", stats.Decoded.Load),
		counter("transcode_encoded_total", "Frames encoded and framed as FLV tags", stats.Encoded.Load),
		counter("transcode_dropped_total", "Frames dropped by the transcoder", stats.Dropped.Load),
	)
}

func RegisterRTMP(reg prometheus.Registerer, stats *rtmp.Stats, state func() rtmp.State) error {
	return register(reg,
		counter("rtmp_sent_bytes_total", "Bytes written to the RTMP connection", stats.BytesSent.Load),
		counter("rtmp_received_bytes_total", "Bytes read from the RTMP connection", stats.BytesReceived.Load),
		counter("rtmp_video_packets_total", "Video messages published", stats.VideoPackets.Load),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rtmp_timestamp_milliseconds",
				Help:      "RTMP timestamp of the last published video message",
			},
			func() float64 { return float64(stats.Timestamp.Load()) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rtmp_state",
				Help:      "RTMP connection state: 0 created, 1 handshaking, 2 connected, 3 publish requested, 4 publishing, 5 closed",
			},
			func() float64 { return float64(state()) },
		),
	)
}

func counter(name, help string, load func() uint64) prometheus.Collector {
	return prometheus.NewCounterFunc(
		prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help},
		func() float64 { return float64(load()) },
	)
}

func register(reg prometheus.Registerer, collectors ...prometheus.Collector) error {
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
