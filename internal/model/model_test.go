package model

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestTableNames(t *testing.T) {
	tests := []struct {
		name     string
		model    interface{ TableName() string }
		expected string
	}{
		{"Run", &Run{}, "runs"},
		{"RSU", &RSU{}, "rsus"},
		{"VehicleState", &VehicleState{}, "vehicle_states"},
		{"EstimatorTick", &EstimatorTick{}, "estimator_ticks"},
		{"Cluster", &Cluster{}, "clusters"},
		{"Performance", &Performance{}, "performances"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.model.TableName())
		})
	}
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(DatabaseModels...))
	return db
}

func TestRunGetOrInsert(t *testing.T) {
	db := openTestDB(t)

	r := &Run{RunUUID: "6f1c3a52-8d1e-4c1b-9a55-0d7b8e4f2a10", Seed: 7}
	created, err := r.GetOrInsert(db)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, r.ID)

	again := &Run{RunUUID: r.RunUUID}
	created, err = again.GetOrInsert(db)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, r.ID, again.ID)
	assert.Equal(t, int64(7), again.Seed)
}
