package daemon

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
)

// LogFile is where the daemon logs when not in debug mode.
func LogFile(home string) string {
	return filepath.Join(home, "log", "labjudged.log")
}

// InitLogger initializes the global logger. The returned closer releases
// the log file, if one was opened.
func InitLogger(cfg *Config) (io.Closer, error) {
	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}

	if cfg.Debug {
		slog.SetDefault(slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.Kitchen,
		})))
		return io.NopCloser(nil), nil
	}

	logFilePath := LogFile(cfg.Home)
	if err := os.MkdirAll(filepath.Dir(logFilePath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("could not open log file %s: %w", logFilePath, err)
	}
	handler := slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler).With("worker", cfg.Worker))
	return logFile, nil
}
