package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vanetsim/pseudosim/internal/dispatcher"
	"github.com/vanetsim/pseudosim/internal/model"
	"github.com/vanetsim/pseudosim/internal/sim"
	"github.com/vanetsim/pseudosim/internal/storage"
	"github.com/vanetsim/pseudosim/pkg/core"
)

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	Stepper *sim.Stepper
	Logger  *slog.Logger
	// Context bounds the background clock started by :START:.
	Context context.Context
}

// Manager connects the clock, the dispatcher and the storage backend. It
// turns control commands into clock operations and forwards every tick
// snapshot to the backend through a buffered handler.
type Manager struct {
	deps    Dependencies
	backend storage.Backend
	log     *slog.Logger

	d *dispatcher.Dispatcher

	mu      sync.Mutex
	runID   string // run announced to the backend, empty if none
	pending int    // ticks dispatched but not yet recorded
	drained *sync.Cond
}

// NewManager creates a new worker manager and registers it as a tick observer.
func NewManager(deps Dependencies, backend storage.Backend) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Context == nil {
		deps.Context = context.Background()
	}
	m := &Manager{
		deps:    deps,
		backend: backend,
		log:     deps.Logger,
	}
	m.drained = sync.NewCond(&m.mu)
	deps.Stepper.AddObserver(m)
	return m
}

// WriteStatsProvider is an optional interface for backends that batch their
// writes and keep performance rows.
type WriteStatsProvider interface {
	LastWriteDuration() time.Duration
	QueueLengths() model.WriteQueueLengths
	RecordPerformance(model.Performance) error
}

// WriteStats returns the backend's batching statistics, if it keeps any.
func (m *Manager) WriteStats() (WriteStatsProvider, bool) {
	p, ok := m.backend.(WriteStatsProvider)
	return p, ok
}

// RunID returns the run currently announced to the backend.
func (m *Manager) RunID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runID
}

// PendingTicks returns the number of snapshots waiting for the backend.
func (m *Manager) PendingTicks() int {
	if m.d == nil {
		return 0
	}
	return m.d.QueueLen(CmdTick)
}

// OnTick queues the snapshot for the backend. Ticks are never dropped: the
// handler is registered blocking.
func (m *Manager) OnTick(_ context.Context, snap core.Snapshot) error {
	if m.d == nil {
		return nil
	}
	m.addPending()
	if _, err := m.d.Dispatch(dispatcher.Event{
		Command:   CmdTick,
		Payload:   &snap,
		Timestamp: time.Now(),
	}); err != nil {
		m.donePending()
		return err
	}
	return nil
}

func (m *Manager) addPending() {
	m.mu.Lock()
	m.pending++
	m.mu.Unlock()
}

func (m *Manager) donePending() {
	m.mu.Lock()
	m.pending--
	if m.pending <= 0 {
		m.pending = 0
		m.drained.Broadcast()
	}
	m.mu.Unlock()
}

// waitPending blocks until every dispatched tick has been recorded. Callers
// stop or pause the clock first, otherwise new ticks keep it waiting.
func (m *Manager) waitPending() {
	m.mu.Lock()
	for m.pending > 0 {
		m.drained.Wait()
	}
	m.mu.Unlock()
}

// Evaluation scores the attacker's current clusters against the pseudonym
// registry.
func (m *Manager) Evaluation() core.Evaluation {
	c := m.deps.Stepper.Context()
	var clusters []core.TrajectoryCluster
	if c.Estimator != nil {
		clusters = c.Estimator.Clusters()
	}
	return sim.Evaluate(c.Registry, clusters)
}

// Finish stops the clock, waits for queued ticks and ends the current run.
func (m *Manager) Finish() (core.Evaluation, error) {
	m.deps.Stepper.Stop()
	haltErr := m.deps.Stepper.Wait()
	ev, err := m.endRun()
	if err != nil {
		return ev, err
	}
	return ev, haltErr
}

// ensureRun announces the context's current run to the backend once.
func (m *Manager) ensureRun() error {
	c := m.deps.Stepper.Context()
	id := c.RunID()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runID == id {
		return nil
	}
	run := c.Run()
	if err := m.backend.StartRun(&run); err != nil {
		return fmt.Errorf("starting run %s: %w", id, err)
	}
	m.runID = id
	m.log.Info("run started", "run", id, "vehicles", run.Vehicles, "rsus", run.RSUs, "strategy", run.Strategy)
	return nil
}

// endRun waits for queued ticks, then hands the evaluation to the backend.
func (m *Manager) endRun() (core.Evaluation, error) {
	m.mu.Lock()
	id := m.runID
	m.runID = ""
	m.mu.Unlock()
	if id == "" {
		return core.Evaluation{}, nil
	}

	m.waitPending()
	ev := m.Evaluation()
	if err := m.backend.EndRun(&ev); err != nil {
		return ev, fmt.Errorf("ending run %s: %w", id, err)
	}
	m.log.Info("run ended",
		"run", id,
		"vehicles", ev.Vehicles,
		"changes", ev.Changes,
		"clusters", ev.Clusters,
		"linkRate", ev.LinkRate)
	return ev, nil
}
