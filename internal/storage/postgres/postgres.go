// Package postgres records runs into PostgreSQL through the GORM backend.
// When Postgres cannot be reached the database manager falls back to an
// in-memory SQLite database, dumped to FallbackPath on close.
package postgres

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/vanetsim/pseudosim/internal/config"
	"github.com/vanetsim/pseudosim/internal/database"
	"github.com/vanetsim/pseudosim/internal/model"
	gormstorage "github.com/vanetsim/pseudosim/internal/storage/gorm"
	"github.com/vanetsim/pseudosim/pkg/core"

	"github.com/rs/zerolog"
)

// Dependencies holds all dependencies for the Postgres storage backend.
type Dependencies struct {
	Config       config.DatabaseConfig
	FallbackPath string // dump target when running on the SQLite fallback
	Logger       *slog.Logger
	DBLogger     zerolog.Logger
}

// Backend connects through a database.Manager and delegates recording to GORM.
type Backend struct {
	deps    Dependencies
	manager *database.Manager
	gorm    *gormstorage.Backend
}

// New creates a new Postgres storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Backend{
		deps:    deps,
		manager: database.NewManager(deps.DBLogger),
	}
}

// Init connects, migrates and starts the GORM writer.
func (b *Backend) Init() error {
	if err := b.manager.Connect(b.deps.Config); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	b.manager.SqliteFilePath = b.deps.FallbackPath
	if err := b.manager.Setup(); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}
	if b.manager.ShouldSaveLocal {
		b.deps.Logger.Warn("Postgres unavailable, recording to local SQLite", "dumpPath", b.deps.FallbackPath)
	}

	b.gorm = gormstorage.New(gormstorage.Dependencies{DB: b.manager.DB, Logger: b.deps.Logger})
	return b.gorm.Init()
}

// Local reports whether the backend runs on the SQLite fallback.
func (b *Backend) Local() bool {
	return b.manager.ShouldSaveLocal
}

// Close flushes the writer, dumps the fallback database if any, and disconnects.
func (b *Backend) Close() error {
	if b.gorm != nil {
		if err := b.gorm.Close(); err != nil {
			return err
		}
	}
	if b.manager.ShouldSaveLocal && b.manager.SqliteFilePath != "" {
		if err := b.manager.DumpMemoryToDisk(); err != nil {
			b.deps.Logger.Error("Failed to dump fallback database", "error", err)
		}
	}
	return b.manager.Close()
}

// StartRun registers the run.
func (b *Backend) StartRun(run *core.Run) error {
	return b.gorm.StartRun(run)
}

// EndRun stores clusters and the evaluation.
func (b *Backend) EndRun(summary *core.Evaluation) error {
	return b.gorm.EndRun(summary)
}

// RecordTick queues the snapshot rows.
func (b *Backend) RecordTick(snap *core.Snapshot) error {
	return b.gorm.RecordTick(snap)
}

// Recorder exposes the GORM backend for performance rows and queries.
func (b *Backend) Recorder() *gormstorage.Backend {
	return b.gorm
}

// QueueLengths reports rows waiting to be written.
func (b *Backend) QueueLengths() model.WriteQueueLengths {
	if b.gorm == nil {
		return model.WriteQueueLengths{}
	}
	return b.gorm.QueueLengths()
}

// LastWriteDuration reports how long the last flush took.
func (b *Backend) LastWriteDuration() time.Duration {
	if b.gorm == nil {
		return 0
	}
	return b.gorm.LastWriteDuration()
}

// RecordPerformance queues a performance row for the current run.
func (b *Backend) RecordPerformance(p model.Performance) error {
	if b.gorm == nil {
		return gormstorage.ErrNoRun
	}
	return b.gorm.RecordPerformance(p)
}
