package influx

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanetsim/pseudosim/internal/config"
	"github.com/vanetsim/pseudosim/pkg/core"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
)

func fields(p *influxdb2_write.Point) map[string]any {
	out := make(map[string]any)
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestEstimatorPoint(t *testing.T) {
	snap := core.Snapshot{
		RunID:   "r1",
		Tick:    3000,
		Samples: 12,
		Vehicles: []core.VehicleView{
			{Active: true, State: core.StateActive},
			{Active: true, State: core.StateSilent},
			{Active: false},
		},
		Clusters: []core.TrajectoryCluster{{ID: 1}},
		Stats:    core.EstimatorStats{Fixes: 4, Deferred: 1},
	}
	p := EstimatorPoint(snap, time.Unix(0, 0))

	assert.Equal(t, "estimator", p.Name())
	require.Len(t, p.TagList(), 1)
	assert.Equal(t, "run", p.TagList()[0].Key)
	assert.Equal(t, "r1", p.TagList()[0].Value)

	f := fields(p)
	assert.EqualValues(t, 3000, f["tick"])
	assert.EqualValues(t, 12, f["samples"])
	assert.EqualValues(t, 1, f["clusters"])
	assert.EqualValues(t, 4, f["fixes"])
	assert.EqualValues(t, 1, f["deferred"])
	assert.EqualValues(t, 2, f["vehicles_active"])
	assert.EqualValues(t, 1, f["vehicles_silent"])
	assert.NotContains(t, f, "calibrated_exponent")
}

func TestPerformancePoint(t *testing.T) {
	p := PerformancePoint("r1", 5000, 1500*time.Microsecond, 20*time.Millisecond, 7, time.Unix(0, 0))
	assert.Equal(t, "clock", p.Name())
	f := fields(p)
	assert.InDelta(t, 1.5, f["tick_duration_ms"], 1e-9)
	assert.InDelta(t, 20.0, f["write_duration_ms"], 1e-9)
	assert.EqualValues(t, 7, f["write_queue"])
}

func TestConnect_Disabled(t *testing.T) {
	m := NewManager(config.InfluxConfig{Bucket: "estimator"}, zerolog.Nop(), "")
	assert.Error(t, m.Connect())
	assert.Equal(t, []string{"estimator", PerformanceBucket}, m.BucketNames)
}

func TestWritePoint_NotConnected(t *testing.T) {
	m := NewManager(config.InfluxConfig{Bucket: "estimator"}, zerolog.Nop(), "")
	assert.Error(t, m.WritePoint(context.Background(), "estimator", EstimatorPoint(core.Snapshot{}, time.Now())))
}

func TestBackupWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "influx_backup.log.gz")
	m := NewManager(config.InfluxConfig{
		Enabled:  true,
		Protocol: "http",
		Host:     "127.0.0.1",
		Port:     "1",
		Bucket:   "estimator",
	}, zerolog.Nop(), path)

	require.NoError(t, m.Connect())
	assert.False(t, m.IsValid)

	require.NoError(t, m.OnTick(context.Background(), core.Snapshot{RunID: "r1", Tick: 1000}))
	require.NoError(t, m.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Contains(t, string(data), "estimator,run=r1 ")
	assert.Contains(t, string(data), "tick=1000i")
}
