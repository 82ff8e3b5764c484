package cmd

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// global logger for the CLI commands, initialised once
var (
	globalLogger *slog.Logger
	once         sync.Once
)

// Init installs the CLI logger. It writes to stderr so stdout carries only
// command output, and drops timestamps under systemd.
func Init() *slog.Logger {
	once.Do(func() {
		var handler slog.Handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: time.TimeOnly,
		})

		if isRunningUnderSystemd() {
			handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				ReplaceAttr: removeTimeAttr,
				Level:       slog.LevelDebug,
			})
		}

		globalLogger = slog.New(handler)
		slog.SetDefault(globalLogger)
	})

	return globalLogger
}

func isRunningUnderSystemd() bool {
	_, ok := os.LookupEnv("INVOCATION_ID")
	return ok
}

func removeTimeAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && len(groups) == 0 {
		return slog.Attr{}
	}
	return a
}

func init() {
	Init()
}
