package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// console receives human-readable logs. Stdout is reserved for command
// output such as run summaries and JSON reports.
var console io.Writer = os.Stderr

// SlogManager owns the simulator's slog logger.
type SlogManager struct {
	logger      *slog.Logger
	logProvider *sdklog.LoggerProvider

	run atomic.Pointer[RunContext]
}

// NewSlogManager creates a manager; Logger returns slog.Default until Setup.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG", "TRACE":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetContext installs the run attributes added to every slog and zerolog
// record. It may be called before or after Setup, and again after a reset.
func (m *SlogManager) SetContext(run RunContext) {
	m.run.Store(&run)
}

func (m *SlogManager) contextAttrs() []slog.Attr {
	if p := m.run.Load(); p != nil && *p != nil {
		return (*p)()
	}
	return nil
}

// Setup (re)builds the logger. The console always gets text output; file, when
// given, gets one JSON object per line for later analysis of a run. If provider
// is nil, OTel logging is disabled.
func (m *SlogManager) Setup(file io.Writer, level string, provider *sdklog.LoggerProvider) {
	lvl := parseLevel(level)
	m.logProvider = provider

	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	sinks := []slog.Handler{slog.NewTextHandler(console, opts)}
	if file != nil {
		sinks = append(sinks, slog.NewJSONHandler(file, opts))
	}
	if provider != nil {
		sinks = append(sinks, otelslog.NewHandler("vanetsim", otelslog.WithLoggerProvider(provider)))
	}

	m.logger = slog.New(newContextHandler(NewMultiHandler(sinks...), m.contextAttrs))
	m.logger.Debug("Logging initialized", "level", lvl.String())
}

// Logger returns the configured logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush forces pending OTel records out.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider == nil {
		return nil
	}
	return m.logProvider.ForceFlush(ctx)
}
