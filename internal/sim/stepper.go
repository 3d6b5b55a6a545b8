package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/vanetsim/pseudosim/internal/mobility"
	"github.com/vanetsim/pseudosim/internal/pseudonym"
	"github.com/vanetsim/pseudosim/pkg/core"
)

// neighborhood bounds the leader/follower search of the mobility read phase, in cm.
const neighborhood = 20000.0

var (
	// ErrRunning is returned by operations that need the clock stopped or paused.
	ErrRunning = errors.New("simulation is running")
	// ErrNotRunning is returned when pausing a clock that is not running.
	ErrNotRunning = errors.New("simulation is not running")
	// ErrNotPaused is returned when resuming a clock that is not paused.
	ErrNotPaused = errors.New("simulation is not paused")
)

// State of the simulation clock.
type State uint8

const (
	Stopped State = iota
	Running
	Paused
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

// TickReport summarises one tick.
type TickReport struct {
	Tick     core.SimTime
	Moved    int
	Retired  int
	Events   []pseudonym.Event
	Samples  int
	Forward  int
	Estimate core.EstimatorStats
	Duration time.Duration
}

// Option configures a Stepper.
type Option func(*Stepper)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Stepper) { s.log = l }
}

// WithInterval paces the running clock to one tick per d of wall time. Zero
// runs ticks back to back.
func WithInterval(d time.Duration) Option {
	return func(s *Stepper) { s.interval = d }
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(s *Stepper) { s.observers = append(s.observers, o) }
}

// Stepper advances a Context tick by tick. Start runs the clock in the
// background; Step runs ticks synchronously while it is stopped or paused.
type Stepper struct {
	sim       *Context
	log       *slog.Logger
	interval  time.Duration
	observers []Observer

	// tickMu is held for the whole of a tick; Reset and Resize take it so
	// they never interleave with one.
	tickMu sync.Mutex

	mu      sync.Mutex
	cond    *sync.Cond
	state   State
	err     error
	done    chan struct{}
	quit    chan struct{}
	pending map[core.EntityID]core.ModelKind
	last    TickReport

	ticks    metric.Int64Counter
	duration metric.Float64Histogram
	samples  metric.Int64Counter
	fixes    metric.Int64Counter
	changes  metric.Int64Counter
}

// NewStepper creates a stopped clock over c.
func NewStepper(c *Context, opts ...Option) (*Stepper, error) {
	s := &Stepper{
		sim:     c,
		log:     slog.Default(),
		pending: make(map[core.EntityID]core.ModelKind),
	}
	s.cond = sync.NewCond(&s.mu)
	for _, opt := range opts {
		opt(s)
	}

	m := meter()
	var err error
	if s.ticks, err = m.Int64Counter("sim.ticks", metric.WithDescription("Ticks completed")); err != nil {
		return nil, fmt.Errorf("creating tick counter: %w", err)
	}
	if s.duration, err = m.Float64Histogram("sim.tick.duration",
		metric.WithDescription("Wall time per tick"), metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("creating tick duration histogram: %w", err)
	}
	if s.samples, err = m.Int64Counter("sim.rssi.samples", metric.WithDescription("RSSI samples generated")); err != nil {
		return nil, fmt.Errorf("creating sample counter: %w", err)
	}
	if s.fixes, err = m.Int64Counter("sim.attacker.fixes", metric.WithDescription("Accepted attacker fixes")); err != nil {
		return nil, fmt.Errorf("creating fix counter: %w", err)
	}
	if s.changes, err = m.Int64Counter("sim.pseudonym.changes", metric.WithDescription("Pseudonyms issued")); err != nil {
		return nil, fmt.Errorf("creating change counter: %w", err)
	}
	return s, nil
}

// Context returns the simulation state the clock drives.
func (s *Stepper) Context() *Context { return s.sim }

// AddObserver registers an observer. It must not be called while running.
func (s *Stepper) AddObserver(o Observer) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	s.observers = append(s.observers, o)
}

// State returns the clock state.
func (s *Stepper) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that halted the clock, if any.
func (s *Stepper) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// LastTick returns the report of the most recent tick.
func (s *Stepper) LastTick() TickReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Snapshot returns the view observers received for the most recent tick.
func (s *Stepper) Snapshot() core.Snapshot {
	return s.sim.snapshot(s.LastTick().Samples)
}

// LogAttrs returns the attributes the logging context handler stamps on records.
func (s *Stepper) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.Int64("tick", int64(s.sim.Now())),
		slog.String("state", s.State().String()),
		slog.String("run", s.sim.RunID()),
	}
}

// Start runs the clock in the background until Stop, a failed tick, or ctx
// cancellation. Cancellation takes effect at the next tick boundary.
func (s *Stepper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Stopped {
		s.mu.Unlock()
		return ErrRunning
	}
	s.state = Running
	s.err = nil
	s.done = make(chan struct{})
	s.quit = make(chan struct{})
	go s.loop(ctx, s.done, s.quit)
	s.mu.Unlock()

	s.log.Info("simulation started", "run", s.sim.RunID(), "tick", s.sim.Now())
	return nil
}

func (s *Stepper) loop(ctx context.Context, done, quit chan struct{}) {
	defer close(done)
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.done == done && s.state != Stopped {
			s.state = Stopped
			s.cond.Broadcast()
		}
	})
	defer stop()

	for {
		s.mu.Lock()
		for s.state == Paused {
			s.cond.Wait()
		}
		running := s.state == Running && s.done == done
		s.mu.Unlock()
		if !running || ctx.Err() != nil {
			return
		}

		if _, err := s.tick(ctx); err != nil {
			s.halt(err)
			return
		}

		if s.interval > 0 {
			timer := time.NewTimer(s.interval)
			select {
			case <-timer.C:
			case <-quit:
				timer.Stop()
			case <-ctx.Done():
				timer.Stop()
			}
		}
	}
}

func (s *Stepper) halt(err error) {
	s.mu.Lock()
	s.state = Stopped
	s.err = err
	s.cond.Broadcast()
	s.mu.Unlock()
	s.log.Error("simulation halted", "tick", s.sim.Now(), "error", err)
}

// setState moves the clock from one state to another. The logger may read the
// state, so logging happens after the lock is released.
func (s *Stepper) setState(from, to State, fail error) error {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return fail
	}
	s.state = to
	s.cond.Broadcast()
	s.mu.Unlock()
	s.log.Info("simulation "+to.String(), "tick", s.sim.Now())
	return nil
}

// Pause suspends a running clock at the next tick boundary.
func (s *Stepper) Pause() error {
	return s.setState(Running, Paused, ErrNotRunning)
}

// Resume continues a paused clock.
func (s *Stepper) Resume() error {
	return s.setState(Paused, Running, ErrNotPaused)
}

// Stop ends the background clock after the tick in flight. It does not wait;
// use Wait for that.
func (s *Stepper) Stop() {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return
	}
	s.state = Stopped
	s.cond.Broadcast()
	if s.quit != nil {
		close(s.quit)
		s.quit = nil
	}
	s.mu.Unlock()
	s.log.Info("simulation stopped", "tick", s.sim.Now())
}

// Wait blocks until the background clock has exited and returns the error
// that halted it, if any.
func (s *Stepper) Wait() error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
	return s.Err()
}

// Step runs n ticks in the caller. The clock must be stopped or paused. A
// failed tick halts the clock and is returned.
func (s *Stepper) Step(ctx context.Context, n int) error {
	if s.State() == Running {
		return ErrRunning
	}
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.tick(ctx); err != nil {
			s.halt(err)
			return err
		}
	}
	return nil
}

// SetModel switches a vehicle's mobility model at the next tick boundary.
func (s *Stepper) SetModel(id core.EntityID, kind core.ModelKind) error {
	if !s.sim.Models.Has(kind) {
		return fmt.Errorf("%w: %s", mobility.ErrUnknownModel, kind)
	}
	if _, ok := s.sim.Vehicle(id); !ok {
		return fmt.Errorf("vehicle %d: %w", id, errUnknownVehicle)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[id] = kind
	return nil
}

var errUnknownVehicle = errors.New("unknown vehicle")

// Reset restores the initial scenario once the tick in flight has finished.
// The clock state is kept; a halted clock has its error cleared.
func (s *Stepper) Reset() error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	if err := s.sim.reset(); err != nil {
		return fmt.Errorf("resetting simulation: %w", err)
	}
	s.mu.Lock()
	s.pending = make(map[core.EntityID]core.ModelKind)
	s.err = nil
	s.last = TickReport{}
	s.mu.Unlock()
	s.log.Info("simulation reset", "run", s.sim.RunID())
	return nil
}

// Resize changes the map geometry once the tick in flight has finished.
func (s *Stepper) Resize(width, height, regionW, regionH float64) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	return s.sim.resize(width, height, regionW, regionH)
}

type stepResult struct {
	vehicle *core.Vehicle
	result  mobility.Result
}

// tick runs one full tick: mobility read phase, commit, pseudonym policy,
// RSSI exchange, estimator and observers.
func (s *Stepper) tick(ctx context.Context) (TickReport, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	start := time.Now()
	c := s.sim
	s.applyModels()

	from := c.Now()
	t := from + c.Config.Tick
	report := TickReport{Tick: t}

	results, err := s.readPhase(ctx, from)
	if err != nil {
		return report, fmt.Errorf("tick %d: mobility: %w", t, err)
	}

	if err := s.commit(t, results, &report); err != nil {
		return report, fmt.Errorf("tick %d: %w", t, err)
	}

	res, err := c.Exchange.Run(t, c.Index, c.RSUs())
	if err != nil {
		return report, fmt.Errorf("tick %d: rssi exchange: %w", t, err)
	}
	report.Samples, report.Forward = len(res.Samples), len(res.Forwarded)

	if c.Estimator != nil {
		report.Estimate = c.Estimator.Update(t)
	}

	snap := c.snapshot(report.Samples)
	for _, o := range s.observers {
		if err := o.OnTick(ctx, snap); err != nil {
			s.log.Warn("observer failed", "tick", t, "error", err)
		}
	}

	report.Duration = time.Since(start)
	s.record(ctx, report)
	return report, nil
}

func (s *Stepper) applyModels() {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[core.EntityID]core.ModelKind)
	s.mu.Unlock()

	for id, kind := range pending {
		if v, ok := s.sim.Vehicle(id); ok {
			v.Model = kind
		}
	}
}

// readPhase steps every active vehicle from time from. Regions are processed
// in parallel; nothing is written to the vehicles or the index.
func (s *Stepper) readPhase(ctx context.Context, from core.SimTime) ([][]stepResult, error) {
	c := s.sim
	c.mu.RLock()
	defer c.mu.RUnlock()

	dt := time.Duration(c.Config.Tick) * time.Millisecond
	groups := c.Index.Groups(core.KindVehicle)
	out := make([][]stepResult, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	if c.Config.Workers > 0 {
		g.SetLimit(c.Config.Workers)
	}
	for i, group := range groups {
		i, group := i, group
		g.Go(func() error {
			results := make([]stepResult, 0, len(group))
			for _, ent := range group {
				if err := gctx.Err(); err != nil {
					return err
				}
				v := ent.(*core.Vehicle)
				if !v.Active {
					continue
				}
				model, err := c.Models.For(v.Model)
				if err != nil {
					return fmt.Errorf("vehicle %d: %w", v.ID, err)
				}
				var neighbors []*core.Vehicle
				for _, n := range c.Index.NeighborsWithinRadius(v.Position, neighborhood, core.KindVehicle) {
					neighbors = append(neighbors, n.(*core.Vehicle))
				}
				lane := mobility.BuildLaneContext(v, from, c.Roads, neighbors)
				r, err := model.Step(v, dt, lane)
				if err != nil {
					return fmt.Errorf("vehicle %d: %w", v.ID, err)
				}
				results = append(results, stepResult{vehicle: v, result: r})
			}
			out[i] = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// commit applies the step results in one batch, checks region consistency and
// runs the pseudonym policy for every vehicle in ID order.
func (s *Stepper) commit(t core.SimTime, results [][]stepResult, report *TickReport) error {
	c := s.sim
	c.mu.Lock()
	defer c.mu.Unlock()

	bounds := c.Index.Bounds()
	moves := make(map[core.EntityID]core.Position)
	var retired []*core.Vehicle
	for _, group := range results {
		for _, sr := range group {
			v, r := sr.vehicle, sr.result
			pos := r.Position
			if !bounds.Contains(pos) {
				// vehicles leaving the map stop at its edge
				pos = bounds.Clamp(pos)
				r.Inactive = true
			}
			v.Position, v.Speed, v.Heading, v.Lane = pos, r.Speed, r.Heading, r.Lane
			moves[v.ID] = pos
			if r.Inactive {
				retired = append(retired, v)
			}
		}
	}
	if err := c.Index.MoveBatch(moves); err != nil {
		return fmt.Errorf("committing moves: %w", err)
	}
	if err := c.Index.Verify(); err != nil {
		return fmt.Errorf("region consistency: %w", err)
	}
	c.now = t
	report.Moved = len(moves)

	for _, v := range retired {
		report.Events = append(report.Events, c.Policy.Retire(v, t))
		v.Active = false
		v.Speed = 0
		report.Retired++
	}
	for _, v := range c.vehicles {
		events, err := c.Policy.Evaluate(v, t)
		report.Events = append(report.Events, events...)
		if err != nil {
			return fmt.Errorf("pseudonym policy: %w", err)
		}
	}
	return nil
}

func (s *Stepper) record(ctx context.Context, r TickReport) {
	s.mu.Lock()
	s.last = r
	state := s.state
	s.mu.Unlock()

	attrs := metric.WithAttributes(attribute.String("state", state.String()))
	s.ticks.Add(ctx, 1, attrs)
	s.duration.Record(ctx, float64(r.Duration.Microseconds())/1000, attrs)
	s.samples.Add(ctx, int64(r.Samples))
	s.fixes.Add(ctx, int64(r.Estimate.Fixes))

	var changed int64
	for _, ev := range r.Events {
		if ev.Changed() {
			changed++
		}
	}
	s.changes.Add(ctx, changed)

	s.log.Debug("tick complete",
		"tick", r.Tick,
		"moved", r.Moved,
		"samples", r.Samples,
		"forwarded", r.Forward,
		"fixes", r.Estimate.Fixes,
		"duration", r.Duration)
}
