// Package logging builds the process logger: slog output wrapped by
// credential redaction and the warnings/errors toggles.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/hpn/hpn-g-relay/internal/config"
	"github.com/hpn/hpn-g-relay/internal/security"
)

// Setup returns a logger for cfg. The close func releases the output file, if any.
func Setup(cfg config.LoggingConfig) (*slog.Logger, func() error, error) {
	out := io.Writer(os.Stdout)
	closeFn := func() error { return nil }

	if cfg.OutputPath != "" {
		f, err := os.OpenFile(cfg.OutputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, closeFn, fmt.Errorf("open log file %q: %w", cfg.OutputPath, err)
		}
		out = f
		closeFn = f.Close
	}

	return New(out, cfg), closeFn, nil
}

// New builds the handler chain over w.
func New(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var base slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		base = slog.NewTextHandler(w, opts)
	} else {
		base = slog.NewJSONHandler(w, opts)
	}

	var handler slog.Handler = security.NewRedactedHandler(base)
	if !cfg.Warnings || !cfg.Errors {
		handler = &gateHandler{inner: handler, warnings: cfg.Warnings, errors: cfg.Errors}
	}

	return slog.New(handler)
}

// ParseLevel maps a config level to slog.Level. Unknown values mean info.
func ParseLevel(level string) slog.Level {
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

// gateHandler drops warning or error records when they are switched off.
type gateHandler struct {
	inner    slog.Handler
	warnings bool
	errors   bool
}

func (h *gateHandler) allowed(level slog.Level) bool {
	switch {
	case level >= slog.LevelError:
		return h.errors
	case level >= slog.LevelWarn:
		return h.warnings
	default:
		return true
	}
}

func (h *gateHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.allowed(level) && h.inner.Enabled(ctx, level)
}

func (h *gateHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.allowed(r.Level) {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *gateHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &gateHandler{inner: h.inner.WithAttrs(attrs), warnings: h.warnings, errors: h.errors}
}

func (h *gateHandler) WithGroup(name string) slog.Handler {
	return &gateHandler{inner: h.inner.WithGroup(name), warnings: h.warnings, errors: h.errors}
}
