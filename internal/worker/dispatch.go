package worker

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vanetsim/pseudosim/internal/dispatcher"
	"github.com/vanetsim/pseudosim/internal/sim"
	"github.com/vanetsim/pseudosim/pkg/core"
	"github.com/vanetsim/pseudosim/pkg/streaming"
)

// Commands understood by the manager.
const (
	CmdStart    = ":START:"
	CmdPause    = ":PAUSE:"
	CmdResume   = ":RESUME:"
	CmdStep     = ":STEP:"
	CmdStop     = ":STOP:"
	CmdReset    = ":RESET:"
	CmdSnapshot = ":SNAPSHOT:"
	CmdSetModel = ":SET:MODEL:"
	CmdResize   = ":RESIZE:"
	CmdTick     = ":TICK:"
)

// tickBuffer bounds the snapshots waiting for the backend.
const tickBuffer = 1000

var errArgs = errors.New("invalid arguments")

// RegisterHandlers registers all command handlers with the dispatcher.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	m.d = d

	// Clock control - sync, the caller wants the result
	d.Register(CmdStart, m.handleStart, dispatcher.Logged())
	d.Register(CmdPause, m.handlePause, dispatcher.Logged())
	d.Register(CmdResume, m.handleResume, dispatcher.Logged())
	d.Register(CmdStep, m.handleStep, dispatcher.Logged())
	d.Register(CmdStop, m.handleStop, dispatcher.Logged())
	d.Register(CmdReset, m.handleReset, dispatcher.Logged())
	d.Register(CmdSetModel, m.handleSetModel, dispatcher.Logged())
	d.Register(CmdResize, m.handleResize, dispatcher.Logged())
	d.Register(CmdSnapshot, m.handleSnapshot)

	// Tick recording - buffered, blocks the clock rather than dropping
	d.Register(CmdTick, m.handleTick, dispatcher.Buffered(tickBuffer), dispatcher.Blocking())
}

// HandleControl dispatches a command received from a remote renderer.
// "set_model" maps to :SET:MODEL:.
func (m *Manager) HandleControl(msg streaming.ControlMessage) {
	cmd := CommandFor(msg.Command)
	if cmd == CmdTick || !m.d.HasHandler(cmd) {
		m.log.Warn("ignoring unknown control command", "command", msg.Command)
		return
	}
	if _, err := m.Execute(cmd, msg.Args...); err != nil {
		m.log.Error("control command failed", "command", cmd, "error", err)
	}
}

// Execute dispatches a command synchronously and returns its result.
func (m *Manager) Execute(cmd string, args ...string) (any, error) {
	if m.d == nil {
		return nil, errors.New("handlers not registered")
	}
	return m.d.Dispatch(dispatcher.Event{Command: cmd, Args: args, Timestamp: time.Now()})
}

// CommandFor converts a lower-case command name to its dispatcher form.
func CommandFor(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	return ":" + strings.ReplaceAll(name, "_", ":") + ":"
}

func (m *Manager) handleStart(e dispatcher.Event) (any, error) {
	if err := m.ensureRun(); err != nil {
		return nil, err
	}
	if err := m.deps.Stepper.Start(m.deps.Context); err != nil {
		return nil, err
	}
	return m.RunID(), nil
}

func (m *Manager) handlePause(e dispatcher.Event) (any, error) {
	return nil, m.deps.Stepper.Pause()
}

func (m *Manager) handleResume(e dispatcher.Event) (any, error) {
	return nil, m.deps.Stepper.Resume()
}

func (m *Manager) handleStep(e dispatcher.Event) (any, error) {
	n := 1
	if len(e.Args) > 0 {
		v, err := strconv.Atoi(e.Args[0])
		if err != nil || v < 1 {
			return nil, fmt.Errorf("%w: step count %q", errArgs, e.Args[0])
		}
		n = v
	}
	if err := m.ensureRun(); err != nil {
		return nil, err
	}
	if err := m.deps.Stepper.Step(m.deps.Context, n); err != nil {
		return nil, err
	}
	return m.deps.Stepper.Context().Now(), nil
}

func (m *Manager) handleStop(e dispatcher.Event) (any, error) {
	ev, err := m.Finish()
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// handleReset ends the current run before restoring the scenario. A running
// clock is stopped first so no tick lands between the run's end and the reset,
// then restarted on a freshly announced run. A paused clock stays paused.
func (m *Manager) handleReset(e dispatcher.Event) (any, error) {
	s := m.deps.Stepper
	prior := s.State()
	if prior == sim.Running {
		s.Stop()
		if err := s.Wait(); err != nil {
			m.log.Warn("clock halted before reset", "error", err)
		}
	}
	if _, err := m.endRun(); err != nil {
		return nil, err
	}
	if err := s.Reset(); err != nil {
		return nil, err
	}
	if prior != sim.Stopped {
		if err := m.ensureRun(); err != nil {
			return nil, err
		}
	}
	if prior == sim.Running {
		if err := s.Start(m.deps.Context); err != nil {
			return nil, err
		}
	}
	return s.Context().RunID(), nil
}

func (m *Manager) handleSetModel(e dispatcher.Event) (any, error) {
	if len(e.Args) != 2 {
		return nil, fmt.Errorf("%w: want vehicle ID and model, got %d args", errArgs, len(e.Args))
	}
	id, err := strconv.ParseUint(e.Args[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: vehicle ID %q", errArgs, e.Args[0])
	}
	kind, err := core.ParseModelKind(e.Args[1])
	if err != nil {
		return nil, err
	}
	return nil, m.deps.Stepper.SetModel(core.EntityID(id), kind)
}

func (m *Manager) handleResize(e dispatcher.Event) (any, error) {
	if len(e.Args) != 4 {
		return nil, fmt.Errorf("%w: want width, height, region width and region height", errArgs)
	}
	var v [4]float64
	for i, a := range e.Args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", errArgs, a)
		}
		v[i] = f
	}
	return nil, m.deps.Stepper.Resize(v[0], v[1], v[2], v[3])
}

func (m *Manager) handleSnapshot(e dispatcher.Event) (any, error) {
	return m.deps.Stepper.Snapshot(), nil
}

func (m *Manager) handleTick(e dispatcher.Event) (any, error) {
	defer m.donePending()
	snap, ok := e.Payload.(*core.Snapshot)
	if !ok {
		return nil, fmt.Errorf("%w: tick payload is %T", errArgs, e.Payload)
	}
	if err := m.backend.RecordTick(snap); err != nil {
		return nil, fmt.Errorf("recording tick %d: %w", snap.Tick, err)
	}
	return nil, nil
}
