package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanetsim/pseudosim/internal/config"
)

func TestParseZerologLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseZerologLevel("debug"))
	assert.Equal(t, zerolog.TraceLevel, parseZerologLevel("TRACE"))
	assert.Equal(t, zerolog.ErrorLevel, parseZerologLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, parseZerologLevel("bogus"))
}

func TestNewZerolog_HookAddsContext(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.SetContext(func() []slog.Attr { return []slog.Attr{slog.Int64("tick", 7000)} })

	logger := newZerolog(&buf, "info", m)
	logger.Info().Msg("flushed")
	logger.Debug().Msg("filtered")

	out := buf.String()
	assert.Contains(t, out, `"tick":7000`)
	assert.Contains(t, out, "flushed")
	assert.NotContains(t, out, "filtered")
}

func TestNewInfraLogger_WithoutGraylog(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewInfraLogger(&buf, "info", config.GraylogConfig{}, nil)
	require.NoError(t, err)

	l.Info().Str("dialect", "sqlite").Msg("Migrating schema")
	assert.Contains(t, buf.String(), "Migrating schema")
	assert.NoError(t, l.Close())
}
