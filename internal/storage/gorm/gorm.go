// Package gormstorage records runs into any GORM database. Per-tick rows are
// queued and written in batches by a background loop; run metadata, RSUs and
// final clusters are written directly.
package gormstorage

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vanetsim/pseudosim/internal/database"
	"github.com/vanetsim/pseudosim/internal/model"
	"github.com/vanetsim/pseudosim/internal/model/convert"
	"github.com/vanetsim/pseudosim/internal/queue"
	"github.com/vanetsim/pseudosim/pkg/core"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNoRun is returned when recording before StartRun.
var ErrNoRun = errors.New("no run started")

const defaultFlushInterval = 2 * time.Second

// Dependencies holds everything the backend needs.
// A nil DB keeps the backend in queue-only mode.
type Dependencies struct {
	DB            *gorm.DB
	Logger        *slog.Logger
	FlushInterval time.Duration
}

type queues struct {
	VehicleStates  *queue.Queue[model.VehicleState]
	EstimatorTicks *queue.Queue[model.EstimatorTick]
	Performances   *queue.Queue[model.Performance]
}

// Backend implements storage.Backend on top of GORM.
type Backend struct {
	db       *gorm.DB
	log      *slog.Logger
	interval time.Duration

	queues   *queues
	stopChan chan struct{}
	done     chan struct{}
	flushMu  sync.Mutex

	mu           sync.Mutex
	run          *model.Run
	rsusWritten  bool
	lastTick     core.SimTime
	lastClusters []core.TrajectoryCluster

	lastWrite atomic.Int64 // ns
}

// New creates a GORM backend. Init must be called before use.
func New(deps Dependencies) *Backend {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	interval := deps.FlushInterval
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	return &Backend{
		db:       deps.DB,
		log:      log,
		interval: interval,
	}
}

// DB returns the underlying database, nil in queue-only mode.
func (b *Backend) DB() *gorm.DB {
	return b.db
}

// Init migrates the schema and starts the write loop.
func (b *Backend) Init() error {
	if b.db != nil {
		if err := database.Migrate(b.db); err != nil {
			return err
		}
	}
	b.queues = &queues{
		VehicleStates:  queue.New[model.VehicleState](),
		EstimatorTicks: queue.New[model.EstimatorTick](),
		Performances:   queue.New[model.Performance](),
	}
	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.writeLoop()
	return nil
}

// Close stops the write loop after a final flush.
func (b *Backend) Close() error {
	if b.stopChan == nil {
		return nil
	}
	close(b.stopChan)
	<-b.done
	b.stopChan = nil
	return b.flush()
}

// StartRun registers a run. A run with an already stored ID is resumed.
func (b *Backend) StartRun(run *core.Run) error {
	m := convert.CoreToRun(*run, time.Now())

	if b.db != nil {
		created, err := m.GetOrInsert(b.db)
		if err != nil {
			return fmt.Errorf("failed to store run %s: %w", run.ID, err)
		}
		b.log.Info("Run registered", "runId", run.ID, "created", created, "dbId", m.ID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.run = &m
	b.rsusWritten = false
	b.lastTick = 0
	b.lastClusters = nil
	return nil
}

// RecordTick queues the public vehicle states and estimator counters of a snapshot.
// RSUs are written once per run and the clusters are kept for EndRun.
func (b *Backend) RecordTick(snap *core.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.run == nil {
		return ErrNoRun
	}
	if snap.RunID != b.run.RunUUID {
		return fmt.Errorf("snapshot of run %s while recording %s", snap.RunID, b.run.RunUUID)
	}

	if !b.rsusWritten && b.db != nil && len(snap.RSUs) > 0 {
		rsus := make([]model.RSU, len(snap.RSUs))
		for i, r := range snap.RSUs {
			row, err := convert.CoreToRSU(b.run.ID, r)
			if err != nil {
				return err
			}
			rsus[i] = row
		}
		if err := b.db.Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).Create(&rsus).Error; err != nil {
			return fmt.Errorf("failed to store RSUs: %w", err)
		}
		b.rsusWritten = true
	}

	now := time.Now()
	states := make([]model.VehicleState, len(snap.Vehicles))
	for i, v := range snap.Vehicles {
		row, err := convert.CoreToVehicleState(b.run.ID, snap.Tick, now, v)
		if err != nil {
			return err
		}
		states[i] = row
	}
	b.queues.VehicleStates.Push(states...)
	b.queues.EstimatorTicks.Push(convert.CoreToEstimatorTick(b.run.ID, now, snap))

	b.lastTick = snap.Tick
	b.lastClusters = snap.Clusters
	return nil
}

// RecordPerformance queues one performance row for the current run.
func (b *Backend) RecordPerformance(p model.Performance) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.run == nil {
		return ErrNoRun
	}
	p.RunID = b.run.ID
	b.queues.Performances.Push(p)
	return nil
}

// EndRun flushes pending rows, stores the final clusters and the evaluation.
func (b *Backend) EndRun(summary *core.Evaluation) error {
	if err := b.flush(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.run == nil {
		return ErrNoRun
	}
	run := b.run
	run.EndTime = convert.EndTime(time.Now())
	if summary != nil {
		run.Evaluation = convert.CoreToEvaluation(*summary)
	}

	if b.db != nil {
		if len(b.lastClusters) > 0 {
			clusters := make([]model.Cluster, len(b.lastClusters))
			for i, c := range b.lastClusters {
				clusters[i] = convert.CoreToCluster(run.ID, b.lastTick, c)
			}
			err := b.db.Omit(clause.Associations).
				Clauses(clause.OnConflict{UpdateAll: true}).
				Create(&clusters).Error
			if err != nil {
				return fmt.Errorf("failed to store clusters: %w", err)
			}
		}
		err := b.db.Model(&model.Run{}).Where("id = ?", run.ID).Updates(map[string]any{
			"end_time":           run.EndTime,
			"eval_vehicles":      run.Evaluation.Vehicles,
			"eval_changes":       run.Evaluation.Changes,
			"eval_clusters":      run.Evaluation.Clusters,
			"eval_correct_links": run.Evaluation.CorrectLinks,
			"eval_false_links":   run.Evaluation.FalseLinks,
			"eval_unresolved":    run.Evaluation.Unresolved,
			"eval_mean_purity":   run.Evaluation.MeanPurity,
			"eval_link_rate":     run.Evaluation.LinkRate,
		}).Error
		if err != nil {
			return fmt.Errorf("failed to finalize run %s: %w", run.RunUUID, err)
		}
	}

	b.log.Info("Run finalized", "runId", run.RunUUID, "clusters", len(b.lastClusters), "linkRate", run.Evaluation.LinkRate)
	b.run = nil
	b.lastClusters = nil
	return nil
}

// QueueLengths reports how many rows wait for the next flush.
func (b *Backend) QueueLengths() model.WriteQueueLengths {
	if b.queues == nil {
		return model.WriteQueueLengths{}
	}
	return model.WriteQueueLengths{
		VehicleStates:  b.queues.VehicleStates.Len(),
		EstimatorTicks: b.queues.EstimatorTicks.Len(),
		Performances:   b.queues.Performances.Len(),
	}
}

// LastWriteDuration is how long the most recent flush took.
func (b *Backend) LastWriteDuration() time.Duration {
	return time.Duration(b.lastWrite.Load())
}

func (b *Backend) writeLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.flush(); err != nil {
				b.log.Error("Failed to write queued rows", "error", err)
			}
		}
	}
}

// flush writes every queued row. Without a DB the queues are kept.
func (b *Backend) flush() error {
	if b.db == nil || b.queues == nil {
		return nil
	}
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	start := time.Now()
	states := b.queues.VehicleStates.Drain()
	ticks := b.queues.EstimatorTicks.Drain()
	perf := b.queues.Performances.Drain()
	if len(states)+len(ticks)+len(perf) == 0 {
		return nil
	}

	err := b.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Omit(clause.Associations)
		if len(states) > 0 {
			if err := tx.CreateInBatches(&states, 2000).Error; err != nil {
				return fmt.Errorf("vehicle states: %w", err)
			}
		}
		if len(ticks) > 0 {
			if err := tx.CreateInBatches(&ticks, 2000).Error; err != nil {
				return fmt.Errorf("estimator ticks: %w", err)
			}
		}
		if len(perf) > 0 {
			if err := tx.CreateInBatches(&perf, 2000).Error; err != nil {
				return fmt.Errorf("performances: %w", err)
			}
		}
		return nil
	})
	b.lastWrite.Store(int64(time.Since(start)))
	if err != nil {
		// keep the rows for the next cycle
		b.queues.VehicleStates.Push(states...)
		b.queues.EstimatorTicks.Push(ticks...)
		b.queues.Performances.Push(perf...)
		return fmt.Errorf("failed to write queued rows: %w", err)
	}
	b.log.Debug("Wrote queued rows", "vehicleStates", len(states), "estimatorTicks", len(ticks), "duration", time.Since(start))
	return nil
}

// Runs lists stored runs, newest first.
func (b *Backend) Runs() ([]core.Run, error) {
	if b.db == nil {
		return nil, nil
	}
	var rows []model.Run
	if err := b.db.Order("start_time DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]core.Run, len(rows))
	for i, r := range rows {
		out[i] = convert.RunToCore(r)
	}
	return out, nil
}

// LoadEvaluation returns the stored clusters and evaluation of a finished run.
func (b *Backend) LoadEvaluation(runID string) ([]core.TrajectoryCluster, core.Evaluation, error) {
	if b.db == nil {
		return nil, core.Evaluation{}, errors.New("no database")
	}
	var run model.Run
	if err := b.db.Where("run_uuid = ?", runID).First(&run).Error; err != nil {
		return nil, core.Evaluation{}, fmt.Errorf("run %s: %w", runID, err)
	}
	var rows []model.Cluster
	if err := b.db.Where("run_id = ?", run.ID).Order("cluster_id").Find(&rows).Error; err != nil {
		return nil, core.Evaluation{}, err
	}
	clusters := make([]core.TrajectoryCluster, len(rows))
	for i, r := range rows {
		c, err := convert.ClusterToCore(r)
		if err != nil {
			return nil, core.Evaluation{}, fmt.Errorf("run %s: %w", runID, err)
		}
		clusters[i] = c
	}
	return clusters, convert.EvaluationToCore(run.Evaluation), nil
}
