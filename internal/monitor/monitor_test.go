package monitor

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanetsim/pseudosim/internal/config"
	"github.com/vanetsim/pseudosim/internal/dispatcher"
	"github.com/vanetsim/pseudosim/internal/mobility"
	"github.com/vanetsim/pseudosim/internal/model"
	"github.com/vanetsim/pseudosim/internal/sim"
	"github.com/vanetsim/pseudosim/internal/worker"
	"github.com/vanetsim/pseudosim/pkg/core"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// statsBackend is a storage backend that also reports write statistics.
type statsBackend struct {
	mu    sync.Mutex
	perfs []model.Performance
}

func (b *statsBackend) Init() error                     { return nil }
func (b *statsBackend) Close() error                    { return nil }
func (b *statsBackend) StartRun(*core.Run) error        { return nil }
func (b *statsBackend) EndRun(*core.Evaluation) error   { return nil }
func (b *statsBackend) RecordTick(*core.Snapshot) error { return nil }

func (b *statsBackend) LastWriteDuration() time.Duration { return 40 * time.Millisecond }

func (b *statsBackend) QueueLengths() model.WriteQueueLengths {
	return model.WriteQueueLengths{VehicleStates: 12, EstimatorTicks: 3}
}

func (b *statsBackend) RecordPerformance(p model.Performance) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.perfs = append(b.perfs, p)
	return nil
}

func (b *statsBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.perfs)
}

func setup(t *testing.T) (*sim.Stepper, *worker.Manager, *statsBackend) {
	t.Helper()
	cfg := config.SimulationConfig{
		Seed:         1,
		Tick:         1000,
		MapWidth:     50000,
		MapHeight:    50000,
		RegionWidth:  10000,
		RegionHeight: 10000,
		Radio: config.RadioConfig{
			TxPowerDBm: -40, Exponent: 2,
			VehicleRadius: 5000, RSURadius: 30000, AttackerRadius: 30000,
		},
		Mobility: config.MobilityConfig{DefaultModel: core.ModelClassic, Accel: 200, Decel: 400, LateralAccel: 300},
	}
	c, err := sim.NewContext(cfg, mobility.StraightRoads{Limit: 1000, Lanes: 1, Width: 350})
	require.NoError(t, err)
	_, err = c.AddVehicle(core.Vehicle{ID: 1, Position: core.Position{X: 1000, Y: 1000}, Speed: 1000})
	require.NoError(t, err)
	s, err := sim.NewStepper(c)
	require.NoError(t, err)

	d, err := dispatcher.New(nopLogger{})
	require.NoError(t, err)
	t.Cleanup(d.Close)

	b := &statsBackend{}
	m := worker.NewManager(worker.Dependencies{Stepper: s}, b)
	m.RegisterHandlers(d)
	return s, m, b
}

func TestGetProgramStatus(t *testing.T) {
	s, m, _ := setup(t)
	svc := NewService(Dependencies{Stepper: s, WorkerManager: m})

	_, err := m.Execute(worker.CmdStep, "3")
	require.NoError(t, err)

	out, perf := svc.GetProgramStatus(true, true, true)
	require.Len(t, out, 3)
	assert.Contains(t, out[0], `"state": "stopped"`)
	assert.Contains(t, out[0], `"tick": 3000`)
	assert.Contains(t, out[1], `"vehicleStates": 12`)
	assert.Equal(t, "40", out[2])

	assert.EqualValues(t, 3000, perf.Tick)
	assert.Equal(t, 12, perf.WriteQueueLengths.VehicleStates)
	assert.InDelta(t, 40, perf.LastWriteDurationMs, 1e-6)
}

func TestGetProgramStatus_NoOutput(t *testing.T) {
	s, m, _ := setup(t)
	svc := NewService(Dependencies{Stepper: s, WorkerManager: m})
	out, _ := svc.GetProgramStatus(false, false, false)
	assert.Empty(t, out)
}

func TestStartWritesStatusAndPerformance(t *testing.T) {
	s, m, b := setup(t)
	dir := t.TempDir()
	svc := NewService(Dependencies{Stepper: s, WorkerManager: m, StatusDir: dir, Interval: 5 * time.Millisecond})

	require.NoError(t, svc.Start())
	assert.True(t, svc.IsRunning())

	// nothing is sampled before a run is announced
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, b.count())

	_, err := m.Execute(worker.CmdStep, "1")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return b.count() > 0 }, time.Second, 5*time.Millisecond)

	svc.Stop()
	assert.False(t, svc.IsRunning())
	svc.Stop()

	data, err := os.ReadFile(filepath.Join(dir, StatusFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), m.RunID())
}
