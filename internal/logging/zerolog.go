package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/rs/zerolog"
	"github.com/vanetsim/pseudosim/internal/config"
)

// InfraLogger is the zerolog logger used by the database and influx managers.
// Records also go to Graylog when a GELF writer is attached.
type InfraLogger struct {
	zerolog.Logger
	gelf *gelf.Writer
}

func parseZerologLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewInfraLogger builds a console + file logger, plus GELF when graylog is enabled.
// The context provider, if set on m, is attached to each event by a hook.
func NewInfraLogger(file io.Writer, level string, graylog config.GraylogConfig, m *SlogManager) (*InfraLogger, error) {
	writers := []io.Writer{
		// write console format with colors to console
		zerolog.ConsoleWriter{
			Out:        console,
			TimeFormat: time.RFC3339,
		},
	}
	if file != nil {
		// write console format without colors to file
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        file,
			TimeFormat: time.RFC3339,
			NoColor:    true,
		})
	}

	l := &InfraLogger{}
	if graylog.Enabled {
		w, err := gelf.NewWriter(graylog.Address)
		if err != nil {
			return nil, fmt.Errorf("failed to create GELF writer for %s: %w", graylog.Address, err)
		}
		l.gelf = w
		writers = append(writers, w)
	}

	l.Logger = newZerolog(zerolog.MultiLevelWriter(writers...), level, m)
	return l, nil
}

func newZerolog(w io.Writer, level string, m *SlogManager) zerolog.Logger {
	logger := zerolog.New(w).Level(parseZerologLevel(level)).With().Timestamp().Logger()
	if m == nil {
		return logger
	}
	return logger.Hook(zerolog.HookFunc(func(e *zerolog.Event, _ zerolog.Level, _ string) {
		attrs := m.contextAttrs()
		if len(attrs) == 0 {
			return
		}
		d := zerolog.Dict()
		for _, a := range attrs {
			d.Interface(a.Key, a.Value.Any())
		}
		e.Dict(ContextGroup, d)
	}))
}

// Close releases the GELF connection, if any.
func (l *InfraLogger) Close() error {
	if l.gelf == nil {
		return nil
	}
	return l.gelf.Close()
}
