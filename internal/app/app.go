package app

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
)

var Version = "0.1.0"
var UserAgent = "rtc2rtmp/" + Version

var ConfigPath string
var Info = map[string]any{
	"version": Version,
}

func Init() {
	version, err := initFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if version {
		var revision string
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, setting := range info.Settings {
				if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
					revision = " (" + setting.Value[:7] + ")"
				}
			}
		}
		fmt.Printf("rtc2rtmp version %s%s %s/%s\n", Version, revision, runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	initLogger()

	platform := fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
	Logger.Info().Str("version", Version).Str("platform", platform).Msg("rtc2rtmp")
	Logger.Debug().Str("version", runtime.Version()).Msg("build")

	if ConfigPath != "" {
		Logger.Info().Str("path", ConfigPath).Msg("config")
	}
}

// initFlags - config files first, command line flags override them
func initFlags(fs *flag.FlagSet, args []string) (version bool, err error) {
	var confs flagConfig
	var output, host, tid, level string
	var port int

	fs.Var(&confs, "config", "rtc2rtmp config (path to file, raw YAML or key=value), support multiple")
	fs.StringVar(&output, "output", "", "RTMP server URL, ex. rtmp://localhost/live")
	fs.StringVar(&output, "o", "", "shorthand for -output")
	fs.StringVar(&host, "host", "", "WebRTC play API host")
	fs.IntVar(&port, "port", 0, "WebRTC play API port (default 443)")
	fs.IntVar(&port, "p", 0, "shorthand for -port")
	fs.StringVar(&tid, "tid", "", "WebRTC play API tid")
	fs.StringVar(&tid, "t", "", "shorthand for -tid")
	fs.StringVar(&level, "log_level", "", "log level: trace, debug, info, warn, error")
	fs.StringVar(&level, "l", "", "shorthand for -log_level")
	fs.BoolVar(&version, "version", false, "Print the version of the application and exit")

	if err = fs.Parse(args); err != nil {
		return
	}

	initConfig(confs)

	if output != "" {
		err = appendConfig("rtmp", "url", output)
	}
	if host != "" && err == nil {
		err = appendConfig("webrtc", "host", host)
	}
	if port != 0 && err == nil {
		err = appendConfig("webrtc", "port", port)
	}
	if tid != "" && err == nil {
		err = appendConfig("webrtc", "tid", tid)
	}
	if level != "" && err == nil {
		// INFO, Debug and so on
		err = appendConfig("log", "level", strings.ToLower(level))
	}

	return
}
