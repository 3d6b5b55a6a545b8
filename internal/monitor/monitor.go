package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vanetsim/pseudosim/internal/influx"
	"github.com/vanetsim/pseudosim/internal/model"
	"github.com/vanetsim/pseudosim/internal/sim"
	"github.com/vanetsim/pseudosim/internal/worker"

	"gorm.io/gorm"
)

// StatusFileName is written to the status directory every interval.
const StatusFileName = "status.txt"

// Hypertables lists the TimescaleDB hypertables and their segment-by columns.
var Hypertables = map[string][]string{
	"performances": {"run_id"},
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Stepper       *sim.Stepper
	WorkerManager *worker.Manager
	Influx        *influx.Manager // optional
	Logger        *slog.Logger
	StatusDir     string
	Interval      time.Duration
}

// Status is the document written to the status file.
type Status struct {
	Run          string                  `json:"run"`
	State        string                  `json:"state"`
	Tick         int64                   `json:"tick"`
	TickDuration string                  `json:"tickDuration"`
	Samples      int                     `json:"samples"`
	Fixes        uint64                  `json:"fixes"`
	PendingTicks int                     `json:"pendingTicks"`
	WriteQueues  model.WriteQueueLengths `json:"writeQueues"`
	LastWrite    string                  `json:"lastWrite"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetProgramStatus returns the current program status as printable lines
// and as a performance row.
func (s *Service) GetProgramStatus(
	status bool,
	writeQueues bool,
	lastWrite bool,
) (output []string, perfModel model.Performance) {
	last := s.deps.Stepper.LastTick()

	var queues model.WriteQueueLengths
	var lastWriteDuration time.Duration
	if stats, ok := s.deps.WorkerManager.WriteStats(); ok {
		queues = stats.QueueLengths()
		lastWriteDuration = stats.LastWriteDuration()
	}

	perf := model.Performance{
		Time:                time.Now(),
		Tick:                int64(last.Tick),
		TickDurationMs:      float32(last.Duration.Microseconds()) / 1000,
		WriteQueueLengths:   queues,
		LastWriteDurationMs: float32(lastWriteDuration.Microseconds()) / 1000,
	}

	if status {
		st := Status{
			Run:          s.deps.WorkerManager.RunID(),
			State:        s.deps.Stepper.State().String(),
			Tick:         int64(last.Tick),
			TickDuration: last.Duration.String(),
			Samples:      last.Samples,
			Fixes:        last.Estimate.Fixes,
			PendingTicks: s.deps.WorkerManager.PendingTicks(),
			WriteQueues:  queues,
			LastWrite:    lastWriteDuration.String(),
		}
		output = append(output, marshal(st))
	}
	if writeQueues {
		output = append(output, marshal(queues))
	}
	if lastWrite {
		output = append(output, marshal(perf.LastWriteDurationMs))
	}

	return output, perf
}

func marshal(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": "%s"}`, err)
	}
	return string(b)
}

// ValidateHypertables converts tables to TimescaleDB hypertables with
// compression. Tables already configured are skipped.
func ValidateHypertables(db *gorm.DB, tables map[string][]string, logger *slog.Logger) error {
	for table, segmentBy := range tables {
		var count int64
		err := db.Raw(`SELECT count(*) FROM timescaledb_information.hypertables WHERE hypertable_name = ?`, table).
			Scan(&count).Error
		if err != nil {
			return fmt.Errorf("querying hypertables: %w", err)
		}
		if count > 0 {
			logger.Debug("Hypertable already configured", "table", table)
			continue
		}

		err = db.Exec(fmt.Sprintf(
			`SELECT create_hypertable('%s', 'time', chunk_time_interval => interval '1 day', if_not_exists => true, migrate_data => true);`,
			table)).Error
		if err != nil {
			return fmt.Errorf("creating hypertable %s: %w", table, err)
		}
		logger.Info("Created hypertable", "table", table)

		err = db.Exec(fmt.Sprintf(
			`ALTER TABLE %s SET (timescaledb.compress, timescaledb.compress_segmentby = '%s');`,
			table, strings.Join(segmentBy, ","))).Error
		if err != nil {
			return fmt.Errorf("enabling compression for %s: %w", table, err)
		}

		err = db.Exec(fmt.Sprintf(
			`SELECT add_compression_policy('%s', compress_after => interval '14 day');`, table)).Error
		if err != nil {
			return fmt.Errorf("setting compress_after for %s: %w", table, err)
		}
		logger.Info("Enabled hypertable compression", "table", table)
	}
	return nil
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	var statusFile *os.File
	if s.deps.StatusDir != "" {
		f, err := os.Create(filepath.Join(s.deps.StatusDir, StatusFileName))
		if err != nil {
			s.deps.Logger.Error("Error creating status file", "error", err)
		} else {
			statusFile = f
		}
	}

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()
		if statusFile != nil {
			defer statusFile.Close()
		}

		s.deps.Logger.Debug("Starting status monitor goroutine", "interval", s.deps.Interval)
		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.sample(statusFile)
			}
		}
	}()

	return nil
}

// sample writes one status snapshot. Nothing is written before the first run.
func (s *Service) sample(statusFile *os.File) {
	runID := s.deps.WorkerManager.RunID()
	if runID == "" {
		return
	}

	statusStr, perf := s.GetProgramStatus(true, false, false)

	if statusFile != nil {
		_ = statusFile.Truncate(0)
		_, _ = statusFile.Seek(0, 0)
		for _, line := range statusStr {
			_, _ = statusFile.WriteString(line + "\n")
		}
	}

	if stats, ok := s.deps.WorkerManager.WriteStats(); ok {
		if err := stats.RecordPerformance(perf); err != nil {
			s.deps.Logger.Error("Error queueing performance row", "error", err)
		}
	}

	if s.deps.Influx != nil {
		q := perf.WriteQueueLengths
		point := influx.PerformancePoint(runID, s.deps.Stepper.LastTick().Tick,
			s.deps.Stepper.LastTick().Duration,
			time.Duration(perf.LastWriteDurationMs*float32(time.Millisecond)),
			q.VehicleStates+q.EstimatorTicks+q.Performances, perf.Time)
		if err := s.deps.Influx.WritePoint(context.Background(), influx.PerformanceBucket, point); err != nil {
			s.deps.Logger.Error("Error writing performance point", "error", err)
		}
	}
}

// Stop stops the status monitor and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	s.isRunning = false
	done := s.done
	s.mu.Unlock()
	<-done
}
