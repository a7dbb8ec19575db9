// Package logging provides the dependency-injected structured logging
// convention used across caskdb.
//
// Design principles:
//   - Logging is dependency-injected, never global
//   - Each component scopes its own logger once, at construction time
//   - If no logger is supplied, a discard logger is used
//   - Only lifecycle events are logged; hot paths (Get/Set/Remove, chunk
//     load) never log
//
// Global configuration (output format, destination) belongs only in
// cmd/caskd's main(). Components must never call slog.SetDefault.
package logging

import (
	"context"
	"log/slog"
)

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Discard returns a logger that discards all output.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// Default returns logger if non-nil, otherwise a discard logger. Standard
// pattern for optional logger parameters:
//
//	func New(logger *slog.Logger) *Thing {
//	    logger = logging.Default(logger).With("component", "thing")
//	    return &Thing{logger: logger}
//	}
func Default(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return Discard()
}
