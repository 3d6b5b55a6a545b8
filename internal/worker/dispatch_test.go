package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vanetsim/pseudosim/internal/config"
	"github.com/vanetsim/pseudosim/internal/dispatcher"
	"github.com/vanetsim/pseudosim/internal/mobility"
	"github.com/vanetsim/pseudosim/internal/sim"
	"github.com/vanetsim/pseudosim/pkg/core"
	"github.com/vanetsim/pseudosim/pkg/streaming"
)

// mockLogger implements dispatcher.Logger for testing
type mockLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *mockLogger) Debug(msg string, keysAndValues ...any) { l.add(msg) }
func (l *mockLogger) Info(msg string, keysAndValues ...any)  { l.add(msg) }
func (l *mockLogger) Error(msg string, keysAndValues ...any) { l.add(msg) }

func (l *mockLogger) add(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

// mockBackend implements storage.Backend for testing
type mockBackend struct {
	mu sync.Mutex

	runs     []string
	ticks    map[string]int
	lastTick core.SimTime
	ended    []core.Evaluation
	endErr   error
}

func newMockBackend() *mockBackend {
	return &mockBackend{ticks: make(map[string]int)}
}

func (b *mockBackend) Init() error  { return nil }
func (b *mockBackend) Close() error { return nil }

func (b *mockBackend) StartRun(run *core.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runs = append(b.runs, run.ID)
	return nil
}

func (b *mockBackend) EndRun(summary *core.Evaluation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ended = append(b.ended, *summary)
	return b.endErr
}

func (b *mockBackend) RecordTick(snap *core.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ticks[snap.RunID]++
	b.lastTick = snap.Tick
	return nil
}

func (b *mockBackend) tickCount(runID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ticks[runID]
}

func testConfig() config.SimulationConfig {
	return config.SimulationConfig{
		Seed:         7,
		Tick:         1000,
		MapWidth:     100000,
		MapHeight:    20000,
		RegionWidth:  10000,
		RegionHeight: 10000,
		Privacy:      config.PrivacyConfig{ChangeInterval: 5000, Lookback: 60000},
		Radio: config.RadioConfig{
			TxPowerDBm:     -40,
			Exponent:       2,
			VehicleRadius:  5000,
			RSURadius:      30000,
			AttackerRadius: 200000,
			Exchange:       config.ExchangeFlags{VehicleToRSU: true},
		},
		Attacker: config.AttackerConfig{
			Enabled:       true,
			Strategy:      core.StrategyTrilateration,
			AllowedError:  60,
			LinkWindow:    10000,
			HistoryWindow: 60000,
		},
		Mobility: config.MobilityConfig{
			DefaultModel:    core.ModelClassic,
			Accel:           200,
			Decel:           400,
			LateralAccel:    300,
			MinGap:          200,
			TimeHeadway:     1500 * time.Millisecond,
			Politeness:      0.2,
			ChangeThreshold: 20,
			SafeDecel:       400,
		},
	}
}

type fixture struct {
	stepper *sim.Stepper
	backend *mockBackend
	d       *dispatcher.Dispatcher
	m       *Manager
}

func newFixture(t *testing.T, opts ...sim.Option) *fixture {
	t.Helper()
	c, err := sim.NewContext(testConfig(), mobility.StraightRoads{Limit: core.KmhToCms(36), Lanes: 1, Width: 350})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	for i, p := range []core.Position{{X: 0, Y: 0}, {X: 100000, Y: 0}, {X: 50000, Y: 20000}} {
		if _, err := c.AddRSU(core.RSU{ID: core.EntityID(100 + i), Position: p, Role: core.RoleAttacker}); err != nil {
			t.Fatalf("AddRSU: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := c.AddVehicle(core.Vehicle{
			ID:       core.EntityID(i + 1),
			Position: core.Position{X: 1000 + float64(i)*20000, Y: 10000},
			Speed:    core.KmhToCms(36),
		}); err != nil {
			t.Fatalf("AddVehicle: %v", err)
		}
	}
	s, err := sim.NewStepper(c, opts...)
	if err != nil {
		t.Fatalf("NewStepper: %v", err)
	}

	d, err := dispatcher.New(&mockLogger{})
	if err != nil {
		t.Fatalf("dispatcher.New: %v", err)
	}
	t.Cleanup(d.Close)

	b := newMockBackend()
	m := NewManager(Dependencies{Stepper: s}, b)
	m.RegisterHandlers(d)
	return &fixture{stepper: s, backend: b, d: d, m: m}
}

func (f *fixture) dispatch(t *testing.T, cmd string, args ...string) any {
	t.Helper()
	res, err := f.d.Dispatch(dispatcher.Event{Command: cmd, Args: args})
	if err != nil {
		t.Fatalf("%s: %v", cmd, err)
	}
	return res
}

func TestRegisterHandlers(t *testing.T) {
	f := newFixture(t)
	for _, cmd := range []string{CmdStart, CmdPause, CmdResume, CmdStep, CmdStop, CmdReset, CmdSnapshot, CmdSetModel, CmdResize, CmdTick} {
		if !f.d.HasHandler(cmd) {
			t.Errorf("handler for %s not registered", cmd)
		}
	}
}

func TestStepAnnouncesRunAndRecordsTicks(t *testing.T) {
	f := newFixture(t)

	res := f.dispatch(t, CmdStep, "5")
	if now, ok := res.(core.SimTime); !ok || now != 5000 {
		t.Fatalf("step result = %v, want 5000", res)
	}
	f.dispatch(t, CmdStep)

	runID := f.stepper.Context().RunID()
	if len(f.backend.runs) != 1 || f.backend.runs[0] != runID {
		t.Fatalf("runs = %v, want [%s]", f.backend.runs, runID)
	}

	res = f.dispatch(t, CmdStop)
	ev, ok := res.(core.Evaluation)
	if !ok {
		t.Fatalf("stop result is %T, want core.Evaluation", res)
	}
	if ev.Vehicles != 2 {
		t.Errorf("evaluated vehicles = %d, want 2", ev.Vehicles)
	}
	if ev.Changes != 2 {
		t.Errorf("pseudonym changes = %d, want 2", ev.Changes)
	}

	if got := f.backend.tickCount(runID); got != 6 {
		t.Errorf("recorded ticks = %d, want 6", got)
	}
	if len(f.backend.ended) != 1 {
		t.Errorf("EndRun called %d times, want 1", len(f.backend.ended))
	}
	if f.m.RunID() != "" {
		t.Errorf("run still announced after stop: %s", f.m.RunID())
	}
}

func TestStepArgs(t *testing.T) {
	f := newFixture(t)
	for _, args := range [][]string{{"x"}, {"0"}, {"-3"}} {
		if _, err := f.d.Dispatch(dispatcher.Event{Command: CmdStep, Args: args}); !errors.Is(err, errArgs) {
			t.Errorf("step %v: err = %v, want errArgs", args, err)
		}
	}
	if len(f.backend.runs) != 0 {
		t.Errorf("invalid step announced a run")
	}
}

func TestStartStopRecordsEveryTick(t *testing.T) {
	f := newFixture(t, sim.WithInterval(time.Millisecond))

	res := f.dispatch(t, CmdStart)
	runID, _ := res.(string)
	if runID == "" || runID != f.stepper.Context().RunID() {
		t.Fatalf("start result = %v", res)
	}

	time.Sleep(30 * time.Millisecond)
	f.dispatch(t, CmdStop)

	want := int(f.stepper.Context().Now() / 1000)
	if want == 0 {
		t.Fatal("clock did not advance")
	}
	if got := f.backend.tickCount(runID); got != want {
		t.Errorf("recorded ticks = %d, want %d", got, want)
	}
	if f.stepper.State() != sim.Stopped {
		t.Errorf("state = %s, want stopped", f.stepper.State())
	}
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t, sim.WithInterval(time.Millisecond))

	if _, err := f.d.Dispatch(dispatcher.Event{Command: CmdPause}); !errors.Is(err, sim.ErrNotRunning) {
		t.Errorf("pause while stopped: err = %v", err)
	}

	f.dispatch(t, CmdStart)
	f.dispatch(t, CmdPause)
	if f.stepper.State() != sim.Paused {
		t.Errorf("state = %s, want paused", f.stepper.State())
	}
	f.dispatch(t, CmdResume)
	if f.stepper.State() != sim.Running {
		t.Errorf("state = %s, want running", f.stepper.State())
	}
	if _, err := f.m.Finish(); err != nil {
		t.Errorf("Finish: %v", err)
	}
}

func TestResetEndsRunAndStartsNext(t *testing.T) {
	f := newFixture(t)

	f.dispatch(t, CmdStep, "3")
	first := f.stepper.Context().RunID()

	res := f.dispatch(t, CmdReset)
	second, _ := res.(string)
	if second == "" || second == first {
		t.Fatalf("reset returned run %q, first was %q", second, first)
	}
	if len(f.backend.ended) != 1 {
		t.Fatalf("EndRun called %d times, want 1", len(f.backend.ended))
	}
	if f.stepper.Context().Now() != 0 {
		t.Errorf("clock not rewound: %d", f.stepper.Context().Now())
	}
	// stopped clock: the next run is announced by the next step
	if len(f.backend.runs) != 1 {
		t.Errorf("runs = %v, want one until the next step", f.backend.runs)
	}

	f.dispatch(t, CmdStep, "2")
	if len(f.backend.runs) != 2 || f.backend.runs[1] != second {
		t.Errorf("runs = %v, want second run %s", f.backend.runs, second)
	}
	f.dispatch(t, CmdStop)
	if got := f.backend.tickCount(first); got != 3 {
		t.Errorf("first run ticks = %d, want 3", got)
	}
	if got := f.backend.tickCount(second); got != 2 {
		t.Errorf("second run ticks = %d, want 2", got)
	}
}

func TestResetWhileRunning(t *testing.T) {
	f := newFixture(t, sim.WithInterval(time.Millisecond))
	f.dispatch(t, CmdStart)

	deadline := time.Now().Add(300 * time.Millisecond)
	resets := 0
	for time.Now().Before(deadline) {
		f.dispatch(t, CmdReset)
		resets++
		if f.stepper.State() != sim.Running {
			t.Fatalf("state after reset = %s, want running", f.stepper.State())
		}
	}
	f.dispatch(t, CmdStop)

	f.backend.mu.Lock()
	ended, runs := len(f.backend.ended), len(f.backend.runs)
	f.backend.mu.Unlock()
	if ended != resets+1 {
		t.Errorf("EndRun called %d times, want %d", ended, resets+1)
	}
	if runs != resets+1 {
		t.Errorf("runs announced = %d, want %d", runs, resets+1)
	}
	// the last run received exactly the ticks of its own clock
	last := f.backend.runs[len(f.backend.runs)-1]
	if want, got := int(f.stepper.Context().Now()/1000), f.backend.tickCount(last); got != want {
		t.Errorf("last run ticks = %d, want %d", got, want)
	}
	if n := f.m.PendingTicks(); n != 0 {
		t.Errorf("PendingTicks after stop = %d, want 0", n)
	}
}

func TestResetWhilePausedKeepsPaused(t *testing.T) {
	f := newFixture(t, sim.WithInterval(time.Millisecond))
	f.dispatch(t, CmdStart)
	f.dispatch(t, CmdPause)

	first := f.m.RunID()
	second, _ := f.dispatch(t, CmdReset).(string)
	if second == "" || second == first {
		t.Fatalf("reset returned run %q, first was %q", second, first)
	}
	if f.stepper.State() != sim.Paused {
		t.Errorf("state = %s, want paused", f.stepper.State())
	}
	if f.m.RunID() != second {
		t.Errorf("announced run = %q, want %q", f.m.RunID(), second)
	}
	if _, err := f.m.Finish(); err != nil {
		t.Errorf("Finish: %v", err)
	}
}

func TestSetModel(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		args []string
		ok   bool
	}{
		{"valid", []string{"1", "idm"}, true},
		{"missing args", []string{"1"}, false},
		{"bad id", []string{"one", "idm"}, false},
		{"unknown model", []string{"1", "teleport"}, false},
		{"unknown vehicle", []string{"99", "classic"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.d.Dispatch(dispatcher.Event{Command: CmdSetModel, Args: tt.args})
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected error")
			}
		})
	}

	f.dispatch(t, CmdStep)
	v, _ := f.stepper.Context().Vehicle(1)
	if v.Model != core.ModelIDM {
		t.Errorf("model = %s, want idm", v.Model)
	}
}

func TestResize(t *testing.T) {
	f := newFixture(t)
	if _, err := f.d.Dispatch(dispatcher.Event{Command: CmdResize, Args: []string{"1", "2"}}); !errors.Is(err, errArgs) {
		t.Errorf("short args: err = %v", err)
	}
	f.dispatch(t, CmdResize, "200000", "40000", "20000", "20000")
	if w := f.stepper.Context().Config.MapWidth; w != 200000 {
		t.Errorf("map width = %g, want 200000", w)
	}
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t)
	f.dispatch(t, CmdStep, "2")

	snap, ok := f.dispatch(t, CmdSnapshot).(core.Snapshot)
	if !ok {
		t.Fatal("snapshot result has wrong type")
	}
	if snap.Tick != 2000 {
		t.Errorf("tick = %d, want 2000", snap.Tick)
	}
	if len(snap.Vehicles) != 2 || len(snap.RSUs) != 3 {
		t.Errorf("snapshot has %d vehicles and %d RSUs", len(snap.Vehicles), len(snap.RSUs))
	}
}

func TestTickPayloadType(t *testing.T) {
	f := newFixture(t)
	f.m.addPending()
	if _, err := f.m.handleTick(dispatcher.Event{Payload: "nope"}); !errors.Is(err, errArgs) {
		t.Errorf("err = %v, want errArgs", err)
	}
}

func TestEndRunError(t *testing.T) {
	f := newFixture(t)
	f.backend.endErr = errors.New("disk full")
	f.dispatch(t, CmdStep)
	if _, err := f.d.Dispatch(dispatcher.Event{Command: CmdStop}); err == nil {
		t.Error("expected EndRun error to surface")
	}
}

func TestCommandFor(t *testing.T) {
	tests := map[string]string{
		"start":     CmdStart,
		"PAUSE":     CmdPause,
		"set_model": CmdSetModel,
		" step ":    CmdStep,
	}
	for in, want := range tests {
		if got := CommandFor(in); got != want {
			t.Errorf("CommandFor(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHandleControl(t *testing.T) {
	f := newFixture(t)
	f.m.HandleControl(streaming.ControlMessage{Type: streaming.TypeControl, Command: "step", Args: []string{"2"}})
	if now := f.stepper.Context().Now(); now != 2000 {
		t.Errorf("now = %d, want 2000", now)
	}

	// ticks are internal and unknown commands are ignored
	f.m.HandleControl(streaming.ControlMessage{Command: "tick"})
	f.m.HandleControl(streaming.ControlMessage{Command: "launch"})
	f.m.Finish()
	if got := f.backend.tickCount(f.backend.runs[0]); got != 2 {
		t.Errorf("recorded ticks = %d, want 2", got)
	}
}

func TestOnTickWithoutDispatcher(t *testing.T) {
	m := &Manager{}
	if err := m.OnTick(context.Background(), core.Snapshot{}); err != nil {
		t.Errorf("OnTick: %v", err)
	}
}

func TestPendingTicks(t *testing.T) {
	if n := (&Manager{}).PendingTicks(); n != 0 {
		t.Errorf("PendingTicks without dispatcher = %d", n)
	}

	f := newFixture(t)
	f.dispatch(t, CmdStep, "4")
	f.dispatch(t, CmdStop)
	// Stop waits for every recorded tick
	if n := f.m.PendingTicks(); n != 0 {
		t.Errorf("PendingTicks after stop = %d, want 0", n)
	}
}
