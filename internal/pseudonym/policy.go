// Package pseudonym decides when vehicles go silent and rotate their public identifier.
package pseudonym

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/vanetsim/pseudosim/internal/config"
	"github.com/vanetsim/pseudosim/pkg/core"
)

// maxDrawAttempts bounds the search for an unused pseudonym.
const maxDrawAttempts = 64

// ErrExhausted is returned when no unused pseudonym could be drawn.
var ErrExhausted = errors.New("could not draw an unused pseudonym")

// Reason explains a transition.
type Reason string

const (
	ReasonAdmitted     Reason = "admitted"
	ReasonSilentPeriod Reason = "silent-period"
	ReasonSlowSpeed    Reason = "slow-speed"
	ReasonInterval     Reason = "interval"
	ReasonResumed      Reason = "resumed"
	ReasonRetired      Reason = "retired"
)

// Event records one state transition of a vehicle. Old and New differ only
// when a pseudonym was issued.
type Event struct {
	Vehicle core.EntityID
	Tick    core.SimTime
	From    core.PrivacyState
	To      core.PrivacyState
	Old     core.Pseudonym
	New     core.Pseudonym
	Reason  Reason
}

// Changed reports whether the event issued a new pseudonym.
func (e Event) Changed() bool { return e.Old != e.New }

type vehicleState struct {
	periodic    bool // current silence includes a periodic silent period
	slow        bool
	slowSince   core.SimTime
	lastIssueAt core.SimTime
	issued      bool
}

// Policy is the per-vehicle pseudonym state machine. Evaluate must be called
// once per tick per vehicle, in a stable vehicle order, for draws to be
// reproducible from the seed.
type Policy struct {
	cfg    config.PrivacyConfig
	reg    *Registry
	rng    *rand.Rand
	states map[core.EntityID]*vehicleState
}

// NewPolicy creates a policy drawing pseudonyms from a seeded RNG.
func NewPolicy(cfg config.PrivacyConfig, reg *Registry, seed int64) *Policy {
	return &Policy{
		cfg:    cfg,
		reg:    reg,
		rng:    rand.New(rand.NewSource(seed)),
		states: make(map[core.EntityID]*vehicleState),
	}
}

// Reset reseeds the RNG and forgets per-vehicle state. The registry is reset by its owner.
func (p *Policy) Reset(seed int64) {
	p.rng = rand.New(rand.NewSource(seed))
	p.states = make(map[core.EntityID]*vehicleState)
}

// Registry returns the record store the policy writes to.
func (p *Policy) Registry() *Registry { return p.reg }

// SilentPeriodAt reports whether t falls in a periodic silent period
// [k·frequency, k·frequency+duration), k ≥ 1.
func (p *Policy) SilentPeriodAt(t core.SimTime) bool {
	sp := p.cfg.SilentPeriod
	if !sp.Enabled || sp.Frequency <= 0 || t < sp.Frequency {
		return false
	}
	return t%sp.Frequency < sp.Duration
}

func (p *Policy) state(id core.EntityID) *vehicleState {
	st, ok := p.states[id]
	if !ok {
		st = &vehicleState{}
		p.states[id] = st
	}
	return st
}

// Admit issues the first pseudonym of a vehicle entering the scenario at t.
func (p *Policy) Admit(v *core.Vehicle, t core.SimTime) (Event, error) {
	next, err := p.draw(v.ID, t)
	if err != nil {
		return Event{}, err
	}
	if err := p.reg.Open(v.ID, next, t); err != nil {
		return Event{}, err
	}
	st := p.state(v.ID)
	st.lastIssueAt, st.issued = t, true

	v.Pseudonym = next
	v.State = core.StateActive
	v.LastPseudonymChange = t
	return Event{Vehicle: v.ID, Tick: t, From: core.StateActive, To: core.StateActive, New: next, Reason: ReasonAdmitted}, nil
}

// Retire closes the records of a vehicle leaving the scenario.
func (p *Policy) Retire(v *core.Vehicle, t core.SimTime) Event {
	p.reg.EndSilence(v.ID, t)
	p.reg.Close(v.ID, t)
	delete(p.states, v.ID)
	ev := Event{Vehicle: v.ID, Tick: t, From: v.State, To: core.StateActive, Old: v.Pseudonym, New: v.Pseudonym, Reason: ReasonRetired}
	v.State = core.StateActive
	return ev
}

// Evaluate advances the vehicle's state machine to time t and returns the
// transitions taken. At most one pseudonym is issued per vehicle per tick.
func (p *Policy) Evaluate(v *core.Vehicle, t core.SimTime) ([]Event, error) {
	if !v.Active {
		return nil, nil
	}
	st := p.state(v.ID)

	periodic := p.SilentPeriodAt(t)
	slow := p.cfg.SlowSpeed.Enabled && v.Speed < p.cfg.SlowSpeed.Threshold
	if slow && !st.slow {
		st.slow, st.slowSince = true, t
	}

	var events []Event
	switch v.State {
	case core.StateActive, core.StateChanging:
		if periodic || slow {
			reason := ReasonSlowSpeed
			if periodic {
				reason = ReasonSilentPeriod
			}
			st.periodic = periodic
			p.reg.StartSilence(v.ID, t)
			events = append(events, p.transition(v, t, core.StateSilent, reason))
		}

	case core.StateSilent:
		if periodic {
			st.periodic = true
		}
		if !periodic && !slow {
			change := st.periodic
			if st.slow && t-st.slowSince >= p.cfg.SlowSpeed.PseudonymChangeTime {
				change = true
			}
			p.reg.EndSilence(v.ID, t)
			st.periodic = false

			if change {
				events = append(events, p.transition(v, t, core.StateChanging, ReasonResumed))
				ev, err := p.issue(v, st, t, ReasonResumed)
				if err != nil {
					return events, err
				}
				events = append(events, ev)
			} else {
				events = append(events, p.transition(v, t, core.StateActive, ReasonResumed))
			}
		}
	}
	if !slow {
		st.slow = false
	}

	if v.State == core.StateActive && p.cfg.ChangeInterval > 0 &&
		t-v.LastPseudonymChange >= p.cfg.ChangeInterval && !(st.issued && st.lastIssueAt == t) {
		events = append(events, p.transition(v, t, core.StateChanging, ReasonInterval))
		ev, err := p.issue(v, st, t, ReasonInterval)
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (p *Policy) transition(v *core.Vehicle, t core.SimTime, to core.PrivacyState, reason Reason) Event {
	ev := Event{Vehicle: v.ID, Tick: t, From: v.State, To: to, Old: v.Pseudonym, New: v.Pseudonym, Reason: reason}
	v.State = to
	return ev
}

// issue draws a new pseudonym and moves the vehicle from Changing to Active.
func (p *Policy) issue(v *core.Vehicle, st *vehicleState, t core.SimTime, reason Reason) (Event, error) {
	next, err := p.draw(v.ID, t)
	if err != nil {
		return Event{}, err
	}
	if err := p.reg.Open(v.ID, next, t); err != nil {
		return Event{}, err
	}
	ev := Event{Vehicle: v.ID, Tick: t, From: v.State, To: core.StateActive, Old: v.Pseudonym, New: next, Reason: reason}
	v.Pseudonym = next
	v.State = core.StateActive
	v.LastPseudonymChange = t
	st.lastIssueAt, st.issued = t, true
	return ev, nil
}

// draw picks a non-zero pseudonym not issued to this vehicle within the
// lookback window and not live for any other vehicle.
func (p *Policy) draw(vehicle core.EntityID, t core.SimTime) (core.Pseudonym, error) {
	since := t - p.cfg.Lookback
	for i := 0; i < maxDrawAttempts; i++ {
		cand := core.Pseudonym(p.rng.Uint64())
		if cand == 0 {
			continue
		}
		if p.reg.IssuedSince(vehicle, cand, since) || p.reg.Live(cand, vehicle) {
			continue
		}
		return cand, nil
	}
	return 0, fmt.Errorf("vehicle %d at %d: %w", vehicle, t, ErrExhausted)
}
