package pseudonym

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanetsim/pseudosim/internal/config"
	"github.com/vanetsim/pseudosim/pkg/core"
)

func silentConfig() config.PrivacyConfig {
	return config.PrivacyConfig{
		SilentPeriod: config.SilentPeriodConfig{Enabled: true, Duration: 3000, Frequency: 10000},
		Lookback:     600000,
	}
}

func admitted(t *testing.T, p *Policy, id core.EntityID, speed float64) *core.Vehicle {
	t.Helper()
	v := &core.Vehicle{ID: id, Speed: speed, Active: true}
	_, err := p.Admit(v, 0)
	require.NoError(t, err)
	require.NotZero(t, v.Pseudonym)
	return v
}

func run(t *testing.T, p *Policy, v *core.Vehicle, from, to, step core.SimTime) map[core.SimTime]core.PrivacyState {
	t.Helper()
	states := make(map[core.SimTime]core.PrivacyState)
	for tick := from; tick <= to; tick += step {
		_, err := p.Evaluate(v, tick)
		require.NoError(t, err)
		states[tick] = v.State
	}
	return states
}

func TestSilentPeriod_Scenario(t *testing.T) {
	reg := NewRegistry()
	p := NewPolicy(silentConfig(), reg, 1)
	v := admitted(t, p, 1, 1000)

	states := run(t, p, v, 1000, 29000, 1000)

	for tick, state := range states {
		silent := (tick >= 10000 && tick < 13000) || (tick >= 20000 && tick < 23000)
		if silent {
			assert.Equal(t, core.StateSilent, state, "tick %d", tick)
		} else {
			assert.Equal(t, core.StateActive, state, "tick %d", tick)
		}
	}

	assert.Equal(t, []core.Interval{
		{From: 10000, To: 13000},
		{From: 20000, To: 23000},
	}, reg.SilentIntervals(1))
}

func TestSilentPeriod_ChangesPseudonymOnExpiry(t *testing.T) {
	reg := NewRegistry()
	p := NewPolicy(silentConfig(), reg, 1)
	v := admitted(t, p, 1, 1000)
	first := v.Pseudonym

	run(t, p, v, 1000, 12000, 1000)
	assert.Equal(t, first, v.Pseudonym, "no change while silent")

	events, err := p.Evaluate(v, 13000)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, core.StateSilent, events[0].From)
	assert.Equal(t, core.StateChanging, events[0].To)
	assert.Equal(t, core.StateChanging, events[1].From)
	assert.Equal(t, core.StateActive, events[1].To)
	assert.True(t, events[1].Changed())
	assert.NotEqual(t, first, v.Pseudonym)
	assert.Equal(t, core.SimTime(13000), v.LastPseudonymChange)

	hist := reg.History(1)
	require.Len(t, hist, 2)
	assert.Equal(t, core.PseudonymRecord{Value: first, Vehicle: 1, From: 0, To: 13000}, hist[0])
	assert.True(t, hist[1].Open)
	require.NoError(t, reg.Verify())
}

func TestSlowSpeed_LongStopChangesPseudonym(t *testing.T) {
	cfg := config.PrivacyConfig{
		SlowSpeed: config.SlowSpeedConfig{Enabled: true, Threshold: core.KmhToCms(30), PseudonymChangeTime: 5000},
		Lookback:  600000,
	}
	reg := NewRegistry()
	p := NewPolicy(cfg, reg, 7)
	v := admitted(t, p, 1, core.KmhToCms(50))
	first := v.Pseudonym

	v.Speed = core.KmhToCms(10)
	run(t, p, v, 1000, 6000, 1000)
	assert.Equal(t, core.StateSilent, v.State)

	v.Speed = core.KmhToCms(50)
	events, err := p.Evaluate(v, 7000)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, core.StateActive, v.State)
	assert.NotEqual(t, first, v.Pseudonym)
	assert.Equal(t, []core.Interval{{From: 1000, To: 7000}}, reg.SilentIntervals(1))
}

func TestSlowSpeed_ShortStopKeepsPseudonym(t *testing.T) {
	cfg := config.PrivacyConfig{
		SlowSpeed: config.SlowSpeedConfig{Enabled: true, Threshold: core.KmhToCms(30), PseudonymChangeTime: 5000},
		Lookback:  600000,
	}
	p := NewPolicy(cfg, NewRegistry(), 7)
	v := admitted(t, p, 1, core.KmhToCms(50))
	first := v.Pseudonym

	v.Speed = 0
	run(t, p, v, 1000, 3000, 1000)
	assert.Equal(t, core.StateSilent, v.State)

	v.Speed = core.KmhToCms(50)
	_, err := p.Evaluate(v, 4000)
	require.NoError(t, err)
	assert.Equal(t, core.StateActive, v.State)
	assert.Equal(t, first, v.Pseudonym)
}

func TestFixedInterval(t *testing.T) {
	cfg := config.PrivacyConfig{ChangeInterval: 5000, Lookback: 600000}
	reg := NewRegistry()
	p := NewPolicy(cfg, reg, 3)
	v := admitted(t, p, 1, 1000)

	run(t, p, v, 1000, 20000, 1000)

	hist := reg.History(1)
	require.Len(t, hist, 5)
	for i, rec := range hist {
		assert.Equal(t, core.SimTime(i*5000), rec.From)
	}
	require.NoError(t, reg.Verify())
}

func TestFixedInterval_CoincidesWithSilentExpiry(t *testing.T) {
	cfg := silentConfig()
	cfg.ChangeInterval = 13000
	reg := NewRegistry()
	p := NewPolicy(cfg, reg, 3)
	v := admitted(t, p, 1, 1000)

	run(t, p, v, 1000, 12000, 1000)
	events, err := p.Evaluate(v, 13000)
	require.NoError(t, err)

	issued := 0
	for _, ev := range events {
		if ev.Changed() {
			issued++
		}
	}
	assert.Equal(t, 1, issued, "one pseudonym per tick")
	assert.Len(t, reg.History(1), 2)
}

func TestFixedInterval_DeferredWhileSilent(t *testing.T) {
	cfg := silentConfig()
	cfg.ChangeInterval = 11000
	reg := NewRegistry()
	p := NewPolicy(cfg, reg, 3)
	v := admitted(t, p, 1, 1000)

	run(t, p, v, 1000, 12000, 1000)
	assert.Len(t, reg.History(1), 1, "interval elapsed during silence, change deferred")

	run(t, p, v, 13000, 13000, 1000)
	assert.Len(t, reg.History(1), 2)
}

func TestDraw_UniqueAcrossVehiclesAndLookback(t *testing.T) {
	cfg := config.PrivacyConfig{ChangeInterval: 1000, Lookback: 600000}
	reg := NewRegistry()
	p := NewPolicy(cfg, reg, 99)

	var vehicles []*core.Vehicle
	for id := core.EntityID(1); id <= 5; id++ {
		vehicles = append(vehicles, admitted(t, p, id, 1000))
	}
	for tick := core.SimTime(1000); tick <= 50000; tick += 1000 {
		for _, v := range vehicles {
			_, err := p.Evaluate(v, tick)
			require.NoError(t, err)
		}
	}

	seen := make(map[core.Pseudonym]core.EntityID)
	for _, id := range reg.Vehicles() {
		for _, rec := range reg.History(id) {
			assert.NotZero(t, rec.Value)
			owner, dup := seen[rec.Value]
			assert.False(t, dup, "pseudonym %s issued to %d and %d", rec.Value, owner, id)
			seen[rec.Value] = id
		}
	}
	require.NoError(t, reg.Verify())
}

func TestDeterministicDraws(t *testing.T) {
	draws := func() []core.Pseudonym {
		p := NewPolicy(config.PrivacyConfig{ChangeInterval: 1000, Lookback: 10000}, NewRegistry(), 42)
		v := admitted(t, p, 1, 1000)
		out := []core.Pseudonym{v.Pseudonym}
		for tick := core.SimTime(1000); tick <= 5000; tick += 1000 {
			_, err := p.Evaluate(v, tick)
			require.NoError(t, err)
			out = append(out, v.Pseudonym)
		}
		return out
	}
	assert.Equal(t, draws(), draws())
}

func TestRetire(t *testing.T) {
	reg := NewRegistry()
	p := NewPolicy(silentConfig(), reg, 1)
	v := admitted(t, p, 1, 1000)
	run(t, p, v, 1000, 11000, 1000)

	p.Retire(v, 11500)
	hist := reg.History(1)
	require.Len(t, hist, 1)
	assert.False(t, hist[0].Open)
	assert.Equal(t, core.SimTime(11500), hist[0].To)
	assert.Equal(t, []core.Interval{{From: 10000, To: 11500}}, reg.SilentIntervals(1))

	_, ok := reg.Current(1, 12000)
	assert.False(t, ok)
}

func TestRegistry_OpenRejectsOverlapAndInUse(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Open(1, 0xaa, 1000))

	err := reg.Open(2, 0xaa, 1000)
	assert.True(t, errors.Is(err, ErrInUse))

	err = reg.Open(1, 0xbb, 500)
	assert.True(t, errors.Is(err, ErrOverlap))

	require.NoError(t, reg.Open(1, 0xbb, 2000))
	p, ok := reg.Current(1, 1500)
	require.True(t, ok)
	assert.Equal(t, core.Pseudonym(0xaa), p)

	id, ok := reg.Resolve(0xaa)
	require.True(t, ok)
	assert.Equal(t, core.EntityID(1), id)
	assert.False(t, reg.Live(0xaa, 2), "closed pseudonyms are no longer live")
}
