package logging

import (
	"fmt"

	"github.com/rs/zerolog"
)

// DispatcherLogger reports dispatcher events through zerolog, tagged with
// component=dispatcher so they can be filtered in Graylog.
type DispatcherLogger struct {
	logger zerolog.Logger
}

// NewDispatcherLogger derives a dispatcher logger from the infrastructure logger.
func NewDispatcherLogger(logger zerolog.Logger) *DispatcherLogger {
	return &DispatcherLogger{logger: logger.With().Str("component", "dispatcher").Logger()}
}

func (l *DispatcherLogger) Debug(msg string, keysAndValues ...any) {
	withPairs(l.logger.Debug(), keysAndValues).Msg(msg)
}

func (l *DispatcherLogger) Info(msg string, keysAndValues ...any) {
	withPairs(l.logger.Info(), keysAndValues).Msg(msg)
}

func (l *DispatcherLogger) Error(msg string, keysAndValues ...any) {
	withPairs(l.logger.Error(), keysAndValues).Msg(msg)
}

// withPairs adds slog-style key/value pairs. Errors use zerolog's error
// field; a non-string key or a dangling value is kept under !BADKEY like slog.
func withPairs(e *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok || i+1 == len(kv) {
			e = e.Interface("!BADKEY", kv[i])
			i--
			continue
		}
		switch v := kv[i+1].(type) {
		case error:
			e = e.AnErr(key, v)
		case fmt.Stringer:
			e = e.Stringer(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	return e
}
