package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rtc2rtmp/rtc2rtmp/internal/app"
	"github.com/rtc2rtmp/rtc2rtmp/internal/bridge"
	"github.com/rtc2rtmp/rtc2rtmp/internal/metrics"
)

func main() {
	app.Init()     // init config and logs
	metrics.Init() // optional Prometheus endpoint

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("[main] exit")
		stop()
		os.Exit(1)
	}

	app.Logger.Info().Msg("[main] exit")
}
