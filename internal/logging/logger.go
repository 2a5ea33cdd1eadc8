// Package logging provides structured logging for approvald using zerolog.
//
// Operations log through child loggers tagged with the workflow or document
// they touch, the acting caller and, for HTTP requests, the request id.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide base logger. Init replaces it.
var Logger zerolog.Logger

type requestIDKey struct{}

// Config holds logging configuration.
type Config struct {
	// Level is the minimum level: trace, debug, info, warn, error.
	Level string

	// Format is json or console.
	Format string

	// Output defaults to stderr.
	Output io.Writer

	// EnableCaller adds file:line to each entry.
	EnableCaller bool
}

// DefaultConfig returns console output at info level.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "console",
		Output: os.Stderr,
	}
}

// Init configures the global level and rebuilds Logger.
func Init(cfg Config) {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.EnableCaller {
		ctx = ctx.Caller()
	}
	Logger = ctx.Logger()
}

// parseLevel maps a configured level to zerolog, falling back to info.
// "warning" is accepted for warn.
func parseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return parsed
}

// Component returns a child of Logger tagged with component=name.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithRequestID tags ctx with the id of the request it serves.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID returns the request id carried by ctx.
func RequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}

// FromContext returns base, tagged with the request id when ctx carries one.
func FromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	if id, ok := RequestID(ctx); ok {
		return base.With().Str("request_id", id).Logger()
	}
	return base
}

// WithWorkflow tags logger with a workflow id.
func WithWorkflow(logger zerolog.Logger, workflowID string) zerolog.Logger {
	return logger.With().Str("workflow_id", workflowID).Logger()
}

// WithDocument tags logger with a document id.
func WithDocument(logger zerolog.Logger, documentID string) zerolog.Logger {
	return logger.With().Str("document_id", documentID).Logger()
}

// WithActor tags logger with the acting caller. An empty role is omitted.
func WithActor(logger zerolog.Logger, actorID, role string) zerolog.Logger {
	c := logger.With().Str("actor_id", actorID)
	if role != "" {
		c = c.Str("actor_role", role)
	}
	return c.Logger()
}

func init() {
	Init(DefaultConfig())
}
