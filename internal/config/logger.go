package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

func NewLogger(cfg Log, env Environment) *slog.Logger {
	return newLogger(os.Stdout, cfg, env)
}

func newLogger(w io.Writer, cfg Log, env Environment) *slog.Logger {
	opts := &slog.HandlerOptions{
		AddSource: env.Name == "development",
		Level:     parseLevel(cfg.Level),
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler).With("env", env.Name)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
