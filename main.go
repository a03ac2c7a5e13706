package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/quantem/dectris-go/cmd"
	"github.com/quantem/dectris-go/internal/conf"
	"github.com/quantem/dectris-go/internal/logging"
)

func main() {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	level := logLevel(settings)
	logging.Init(level)

	if settings.Main.Log.Enabled {
		closeLog, err := logging.InitFileOutput(settings.Main.Log.Path, level)
		if err != nil {
			logging.Error("file logging disabled", "error", err, "path", settings.Main.Log.Path)
		} else {
			defer closeLog() //nolint:errcheck
			logging.Info("file logging enabled", "path", settings.Main.Log.Path)
		}
	}

	if err := cmd.RootCommand(settings).Execute(); err != nil {
		logging.HumanReadable().Error("command failed", "error", err)
		os.Exit(1)
	}
}

func logLevel(settings *conf.Settings) slog.Level {
	if settings.Debug {
		return slog.LevelDebug
	}
	switch settings.Main.Log.Level {
	case "trace":
		return logging.LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
