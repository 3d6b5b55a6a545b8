package otel

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.Nil(t, p.LoggerProvider())
	assert.Equal(t, noop.Meter{}, p.Meter("x"))
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_EnabledWithoutOutputs(t *testing.T) {
	_, err := New(Config{Enabled: true, ServiceName: "vanetsim"})
	assert.Error(t, err)
}

func TestNew_LogWriter(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Config{Enabled: true, ServiceName: "vanetsim", LogWriter: &buf})
	require.NoError(t, err)
	assert.NotNil(t, p.LoggerProvider())
	assert.Equal(t, noop.Meter{}, p.Meter("x"))
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_MetricWriterExportsOnFlush(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Config{Enabled: true, ServiceName: "vanetsim", RunID: "run-1", MetricWriter: &buf})
	require.NoError(t, err)
	assert.Nil(t, p.LoggerProvider())

	counter, err := p.Meter("test").Int64Counter("sim.ticks")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	require.NoError(t, p.Flush(context.Background()))
	assert.Contains(t, buf.String(), "sim.ticks")
	assert.Contains(t, buf.String(), "run-1")
	require.NoError(t, p.Shutdown(context.Background()))
}
