package app

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger returns the process logger. "json" is for production log
// shipping, "pretty" is the development default with debug records enabled,
// anything else falls back to plain text.
func NewLogger(cfg *Config) *slog.Logger {
	format := ""
	if cfg != nil {
		format = cfg.LogFormat
	}
	return slog.New(newLogHandler(os.Stdout, format))
}

func newLogHandler(w io.Writer, format string) slog.Handler {
	switch format {
	case "json":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{AddSource: true})
	case "pretty":
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	default:
		return slog.NewTextHandler(w, &slog.HandlerOptions{AddSource: true})
	}
}
