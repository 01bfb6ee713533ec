// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package logger provides a structured logger carried in a context and an
// in-memory buffer of recent log lines.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger is a structured logger with an adjustable level.
type Logger struct {
	*slog.Logger
	Level *slog.LevelVar
}

// New returns a Logger that writes text records to w at the info level.
func New(w io.Writer) *Logger {
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelInfo)
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})),
		Level:  lvl,
	}
}

type ctxKey struct{}

// Put returns a copy of ctx that carries l.
func Put(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// Get returns the Logger stored in ctx. If there is none, it returns a Logger
// that writes to standard error.
func Get(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return New(os.Stderr)
}

// Error logs msg with err at the error level.
func Error(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	Get(ctx).LogAttrs(ctx, slog.LevelError, msg, append([]slog.Attr{slog.Any("err", err)}, attrs...)...)
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return New(io.Discard)
}
