// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package vrbridge

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler is a slog.Handler that discards all records. Enabled returns
// false so callers skip formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the package logger.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger sets the logger new sessions start with. By default vrbridge
// produces no log output. Pass nil to restore the silent default.
//
// Log levels used by vrbridge:
//   - [slog.LevelDebug]: per-frame diagnostics (layers bound, blits, commits)
//   - [slog.LevelInfo]: lifecycle (session opened, backend selected, mirror bound)
//   - [slog.LevelWarn]: skipped layers, failed frames
//   - [slog.LevelError]: device loss
//
// Example:
//
//	vrbridge.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
//
// Sessions already open keep their logger; use Session.SetLogger for them.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
}

// Logger returns the package logger. It is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by components that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// propagateLogger passes l to every component that accepts a logger.
func propagateLogger(l *slog.Logger, components ...any) {
	for _, c := range components {
		if ls, ok := c.(loggerSetter); ok {
			ls.SetLogger(l)
		}
	}
}
