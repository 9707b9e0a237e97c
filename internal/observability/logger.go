package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log field names shared by every component.
const (
	FieldRequestID    = "request_id"
	FieldTrackingID   = "tracking_id"
	FieldUserID       = "user_id"
	FieldStage        = "stage"
	FieldItemKey      = "item_key"
	FieldWorkflowID   = "workflow_id"
	FieldRunID        = "workflow_run_id"
	FieldActivityType = "activity_type"
	FieldAttempt      = "attempt"
)

// LoggingConfig selects level, encoding and destination. Level accepts the
// zerolog names plus "warning"; Format is json, console or pretty; Output is
// stdout or stderr.
type LoggingConfig struct {
	Level      string
	Format     string
	Output     string
	AddSource  bool
	TimeFormat string
}

func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{Level: "info", Format: "json", Output: "stdout", TimeFormat: time.RFC3339}
}

// NewLogger builds the process logger. The level is applied globally too,
// so child loggers created later cannot log below it.
func NewLogger(cfg LoggingConfig) zerolog.Logger {
	return newLogger(cfg, outputFor(cfg.Output))
}

func newLogger(cfg LoggingConfig, w io.Writer) zerolog.Logger {
	layout := cfg.TimeFormat
	if layout == "" {
		layout = time.RFC3339
	}
	zerolog.TimeFieldFormat = layout

	if f := strings.ToLower(cfg.Format); f == "console" || f == "pretty" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: layout}
	}

	ctx := zerolog.New(w).With().Timestamp()
	if cfg.AddSource {
		ctx = ctx.Caller()
	}

	lvl := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(lvl)
	return ctx.Logger().Level(lvl)
}

func outputFor(name string) io.Writer {
	if strings.EqualFold(name, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

// parseLevel falls back to info for empty, unknown and disabled levels.
func parseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	switch lvl, err := zerolog.ParseLevel(s); {
	case err != nil, s == "", lvl == zerolog.NoLevel, lvl == zerolog.Disabled:
		return zerolog.InfoLevel
	default:
		return lvl
	}
}

func WithJobContext(l zerolog.Logger, trackingID string) zerolog.Logger {
	return l.With().Str(FieldTrackingID, trackingID).Logger()
}

func WithItemContext(l zerolog.Logger, stage, itemKey string) zerolog.Logger {
	return l.With().Str(FieldStage, stage).Str(FieldItemKey, itemKey).Logger()
}

func WithWorkflowContext(l zerolog.Logger, workflowID, runID string) zerolog.Logger {
	return l.With().Str(FieldWorkflowID, workflowID).Str(FieldRunID, runID).Logger()
}

func WithActivityContext(l zerolog.Logger, activityType string, attempt int) zerolog.Logger {
	return l.With().Str(FieldActivityType, activityType).Int(FieldAttempt, attempt).Logger()
}
