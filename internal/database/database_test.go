package database

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanetsim/pseudosim/internal/model"
)

func TestOpenSqlite_InMemoryIsPrivate(t *testing.T) {
	a, err := OpenSqlite("")
	require.NoError(t, err)
	b, err := OpenSqlite("")
	require.NoError(t, err)

	require.NoError(t, Migrate(a))
	assert.True(t, a.Migrator().HasTable(&model.Run{}))
	assert.False(t, b.Migrator().HasTable(&model.Run{}))
}

func TestDumpMemoryDBToDisk(t *testing.T) {
	db, err := OpenSqlite("")
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	require.NoError(t, db.Create(&model.Run{RunUUID: "dump-test", Seed: 3}).Error)

	path := filepath.Join(t.TempDir(), "dump.db")
	require.NoError(t, DumpMemoryDBToDisk(db, path))
	// a second dump replaces the first
	require.NoError(t, DumpMemoryDBToDisk(db, path))

	disk, err := OpenSqlite(path)
	require.NoError(t, err)
	var run model.Run
	require.NoError(t, disk.Where("run_uuid = ?", "dump-test").First(&run).Error)
	assert.Equal(t, int64(3), run.Seed)
}

func TestDumpMemoryDBToDisk_NoPath(t *testing.T) {
	db, err := OpenSqlite("")
	require.NoError(t, err)
	assert.Error(t, DumpMemoryDBToDisk(db, ""))
}

func TestManagerSetup_NotConnected(t *testing.T) {
	m := NewManager(zerolog.Nop())
	assert.Error(t, m.Setup())
	assert.NoError(t, m.Close())
}

func TestManagerConnectLocal(t *testing.T) {
	m := NewManager(zerolog.Nop())
	require.NoError(t, m.connectLocal())
	assert.True(t, m.IsValid)
	assert.True(t, m.ShouldSaveLocal)
	require.NoError(t, m.Setup())
	assert.True(t, m.DB.Migrator().HasTable(&model.VehicleState{}))
	require.NoError(t, m.Close())
}
