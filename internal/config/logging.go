package config

import (
	"io"
	"log/slog"
)

// NewLogger builds the service's JSON logger at the configured level.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: c.LogLevel}))
}
