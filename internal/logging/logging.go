// Package logging installs the process-wide slog default.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init wires the default logger. Every record carries the service name so the
// api and poller binaries stay distinguishable in a shared log stream. format
// selects the handler: "text" for local runs, anything else means JSON.
func Init(service, format string) *slog.Logger {
	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, nil)
	default:
		h = slog.NewJSONHandler(os.Stdout, nil)
	}

	logger := slog.New(h).With("service", service)
	slog.SetDefault(logger)
	return logger
}
