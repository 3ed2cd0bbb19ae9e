package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wordai/api/internal/config"
)

// New creates a zerolog logger from server config.
// Levels: "trace" | "debug" | "info" | "warn" | "error".
// Formats: "json" | "console". Development always logs to the console.
func New(cfg config.ServerConfig) *zerolog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter is New with an explicit sink.
func NewWithWriter(cfg config.ServerConfig, w io.Writer) *zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var base zerolog.Logger
	if strings.ToLower(cfg.LogFormat) == "console" || cfg.IsDevelopment() {
		out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
		base = zerolog.New(out).With().Timestamp().Logger()
	} else {
		base = zerolog.New(w).With().Timestamp().Logger()
	}
	base = base.With().Str("mode", cfg.Mode).Logger()
	return &base
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// Component derives a child logger tagged with a component name.
func Component(base *zerolog.Logger, name string) *zerolog.Logger {
	l := base.With().Str("component", name).Logger()
	return &l
}

type ctxKey string

const (
	ctxRequestID ctxKey = "request_id"
	ctxOwnerID   ctxKey = "owner_id"
	ctxJobID     ctxKey = "job_id"
)

// With attaches request_id, owner_id and job_id from ctx when present.
func With(ctx context.Context, base *zerolog.Logger) *zerolog.Logger {
	l := base.With()
	if v, ok := ctx.Value(ctxRequestID).(string); ok && v != "" {
		l = l.Str("request_id", v)
	}
	if v, ok := ctx.Value(ctxOwnerID).(string); ok && v != "" {
		l = l.Str("owner_id", v)
	}
	if v, ok := ctx.Value(ctxJobID).(string); ok && v != "" {
		l = l.Str("job_id", v)
	}
	logger := l.Logger()
	return &logger
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxRequestID, id)
}

func WithOwnerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxOwnerID, id)
}

func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxJobID, id)
}

// Redact hides a secret for logging, keeping a short preview of long values.
func Redact(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-2:]
}
