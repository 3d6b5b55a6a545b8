// Package sqlitestorage records runs into an in-memory SQLite database with
// periodic disk dumps via VACUUM INTO. It wraps the GORM backend; the only
// SQLite-specific concerns are creating the in-memory DB and the dump loop.
package sqlitestorage

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/vanetsim/pseudosim/internal/config"
	"github.com/vanetsim/pseudosim/internal/database"
	"github.com/vanetsim/pseudosim/pkg/core"
	gormstorage "github.com/vanetsim/pseudosim/internal/storage/gorm"

	"gorm.io/gorm"
)

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	db       *gorm.DB
	cfg      config.SQLiteConfig
	log      *slog.Logger
	stopChan chan struct{}
	done     chan struct{}
}

// New creates a new SQLite storage backend.
func New(cfg config.SQLiteConfig, log *slog.Logger) (*Backend, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := database.OpenSqlite("")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite DB: %w", err)
	}

	return &Backend{
		Backend:  gormstorage.New(gormstorage.Dependencies{DB: db, Logger: log}),
		db:       db,
		cfg:      cfg,
		log:      log,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Init initializes the embedded GORM backend and starts the dump goroutine.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}

	if b.cfg.Path != "" && b.cfg.DumpInterval > 0 {
		go b.dumpLoop()
	} else {
		close(b.done)
	}

	return nil
}

// EndRun finalizes the run and dumps the database so the file is complete.
func (b *Backend) EndRun(summary *core.Evaluation) error {
	if err := b.Backend.EndRun(summary); err != nil {
		return err
	}
	return b.Dump()
}

// Close stops the dump goroutine, closes the GORM backend and writes a last dump.
func (b *Backend) Close() error {
	close(b.stopChan)
	<-b.done
	if err := b.Backend.Close(); err != nil {
		return err
	}
	return b.Dump()
}

// Dump writes the in-memory database to the configured path. Without a path it does nothing.
func (b *Backend) Dump() error {
	if b.cfg.Path == "" {
		return nil
	}
	start := time.Now()
	if err := database.DumpMemoryDBToDisk(b.db, b.cfg.Path); err != nil {
		return err
	}
	b.log.Debug("Dumped to disk", "path", b.cfg.Path, "duration", time.Since(start))
	return nil
}

// ExportedFilePath is the on-disk copy of the database.
func (b *Backend) ExportedFilePath() string {
	return b.cfg.Path
}

// dumpLoop periodically dumps the in-memory SQLite database to disk via VACUUM INTO.
// VACUUM INTO creates a point-in-time snapshot, so no pause mechanism is needed.
func (b *Backend) dumpLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Dump(); err != nil {
				b.log.Error("Error dumping to disk", "error", err)
			}
		}
	}
}
