package observability

import (
	"fmt"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/log"
)

// TemporalLogger adapts zerolog to the Temporal SDK's keyvals logger.
type TemporalLogger struct {
	zl zerolog.Logger
}

var (
	_ log.Logger     = (*TemporalLogger)(nil)
	_ log.WithLogger = (*TemporalLogger)(nil)
)

func NewTemporalLogger(logger zerolog.Logger) *TemporalLogger {
	return &TemporalLogger{zl: logger.With().Str("component", "temporal").Logger()}
}

func (l *TemporalLogger) Debug(msg string, keyvals ...any) { l.emit(l.zl.Debug(), msg, keyvals) }
func (l *TemporalLogger) Info(msg string, keyvals ...any)  { l.emit(l.zl.Info(), msg, keyvals) }
func (l *TemporalLogger) Warn(msg string, keyvals ...any)  { l.emit(l.zl.Warn(), msg, keyvals) }
func (l *TemporalLogger) Error(msg string, keyvals ...any) { l.emit(l.zl.Error(), msg, keyvals) }

func (l *TemporalLogger) With(keyvals ...any) log.Logger {
	return &TemporalLogger{zl: l.zl.With().Fields(pairs(keyvals)).Logger()}
}

func (l *TemporalLogger) emit(ev *zerolog.Event, msg string, keyvals []any) {
	ev.Fields(pairs(keyvals)).Msg(msg)
}

// pairs turns alternating key, value arguments into fields. Non-string keys
// are formatted; an unpaired trailing key is ignored.
func pairs(keyvals []any) map[string]any {
	fields := make(map[string]any, len(keyvals)/2)
	for i := 1; i < len(keyvals); i += 2 {
		k, ok := keyvals[i-1].(string)
		if !ok {
			k = fmt.Sprint(keyvals[i-1])
		}
		fields[k] = keyvals[i]
	}
	return fields
}
