package app

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/rs/zerolog/log"
)

var Version = "0.3.0"
var UserAgent = "onvifrelay/" + Version

var ConfigPath string
var Info = map[string]any{
	"version": Version,
}

// Init load configs and setup logger. Each conf is a path to YAML file,
// raw YAML `{...}` or short `section.key=value` form.
func Init(confs []string) {
	initConfig(confs)
	initLogger()

	log.Logger = Logger

	platform := fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
	Logger.Info().Str("version", Version).Str("platform", platform).Str("revision", revision()).Msg("onvifrelay")
	Logger.Debug().Str("version", runtime.Version()).Msg("build")

	if ConfigPath != "" {
		Logger.Info().Str("path", ConfigPath).Msg("config")
	}
}

func revision() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				if len(setting.Value) > 7 {
					return setting.Value[:7]
				}
				return setting.Value
			}
		}
	}
	return "dev"
}
