package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gorm.io/gorm"

	"github.com/vanetsim/pseudosim/internal/config"
	"github.com/vanetsim/pseudosim/internal/database"
	"github.com/vanetsim/pseudosim/internal/monitor"
	gormstorage "github.com/vanetsim/pseudosim/internal/storage/gorm"
	"github.com/vanetsim/pseudosim/pkg/core"
)

// openRecordings opens the database the configured backend records into.
func openRecordings() (*gorm.DB, error) {
	cfg := config.GetStorageConfig()
	switch cfg.Type {
	case "postgres":
		return database.OpenPostgres(config.GetDatabaseConfig().DSN())
	case "sqlite":
		if _, err := os.Stat(cfg.SQLite.Path); err != nil {
			return nil, fmt.Errorf("no SQLite recording at %s: %w", cfg.SQLite.Path, err)
		}
		return database.OpenSqlite(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("storage type %q keeps no queryable runs", cfg.Type)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func listRuns() error {
	db, err := openRecordings()
	if err != nil {
		return err
	}
	runs, err := gormstorage.New(gormstorage.Dependencies{DB: db, Logger: Logger}).Runs()
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	if runs == nil {
		runs = []core.Run{}
	}
	return printJSON(runs)
}

func reportRun(runID string) error {
	db, err := openRecordings()
	if err != nil {
		return err
	}
	clusters, ev, err := gormstorage.New(gormstorage.Dependencies{DB: db, Logger: Logger}).LoadEvaluation(runID)
	if err != nil {
		return err
	}
	return printJSON(struct {
		RunID      string                   `json:"runId"`
		Evaluation core.Evaluation          `json:"evaluation"`
		Clusters   []core.TrajectoryCluster `json:"clusters"`
	}{runID, ev, clusters})
}

func setupDB() error {
	m := database.NewManager(InfraLog.Logger)
	if err := m.Connect(config.GetDatabaseConfig()); err != nil {
		return err
	}
	defer m.Close()
	if err := m.Setup(); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	if !viper.GetBool("db.timescale") {
		return nil
	}
	if m.ShouldSaveLocal {
		return errors.New("hypertables need Postgres, connected to the SQLite fallback")
	}
	return monitor.ValidateHypertables(m.DB, monitor.Hypertables, Logger)
}
