// Package logging provides structured logging for the gateway's processes.
//
// It wraps log/slog with a small Config for the two destinations the
// gateway actually needs: stderr (always on, text or JSON) and an optional
// log file for the hardware profile store's audit trail. There is no
// pluggable exporter here — this process has no enterprise/cloud-export
// surface, unlike the orchestrator this package is modeled on.
package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Level mirrors slog's severity levels so callers configuring Logger don't
// need to import log/slog directly.
type Level int

const (
	LevelDebug Level = iota - 1
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config configures New. The zero value logs Info+ to stderr as text.
type Config struct {
	Level   Level
	Service string
	JSON    bool
	LogDir  string // optional; when set, also writes "{service}_{date}.log"
}

// New builds a *slog.Logger writing to stderr and, if Config.LogDir is set,
// to a dated JSON file under that directory.
func New(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level.toSlogLevel()}

	var stderrHandler slog.Handler
	if cfg.JSON {
		stderrHandler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		stderrHandler = slog.NewTextHandler(os.Stderr, opts)
	}

	handler := stderrHandler
	if cfg.LogDir != "" {
		if dir := expandPath(cfg.LogDir); dir != "" {
			if err := os.MkdirAll(dir, 0o750); err == nil {
				name := cfg.Service
				if name == "" {
					name = "gatewayd"
				}
				path := filepath.Join(dir, name+"_"+time.Now().Format("2006-01-02")+".log")
				if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640); err == nil {
					handler = &multiHandler{handlers: []slog.Handler{stderrHandler, slog.NewJSONHandler(f, opts)}}
				}
			}
		}
	}

	if cfg.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}

	return slog.New(handler)
}

// Default returns an Info-level, text-to-stderr logger for CLI use.
func Default() *slog.Logger {
	return New(Config{Level: LevelInfo, Service: "gatewayd"})
}

// multiHandler fans a record out to every handler, stopping at the first
// write error so a broken file handle never masks stderr output.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, r.Level) {
			if err := hh.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		out[i] = hh.WithAttrs(attrs)
	}
	return &multiHandler{handlers: out}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		out[i] = hh.WithGroup(name)
	}
	return &multiHandler{handlers: out}
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
