package postgres

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanetsim/pseudosim/internal/config"
	"github.com/vanetsim/pseudosim/internal/storage"
	"github.com/vanetsim/pseudosim/pkg/core"
)

var _ storage.Backend = (*Backend)(nil)

func unreachable() config.DatabaseConfig {
	return config.DatabaseConfig{Host: "127.0.0.1", Port: "1", Username: "sim", Password: "sim", Database: "sim"}
}

func TestInit_FallsBackToSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fallback.db")
	b := New(Dependencies{Config: unreachable(), FallbackPath: path, DBLogger: zerolog.Nop()})
	require.NoError(t, b.Init())
	assert.True(t, b.Local())

	run := &core.Run{ID: "pg-fallback", TickMs: 1000}
	require.NoError(t, b.StartRun(run))
	require.NoError(t, b.RecordTick(&core.Snapshot{RunID: run.ID, Tick: 1000}))
	require.NoError(t, b.EndRun(&core.Evaluation{}))

	runs, err := b.Recorder().Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)

	require.NoError(t, b.Close())
	assert.FileExists(t, path)
}
