package mobility

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanetsim/pseudosim/internal/config"
	"github.com/vanetsim/pseudosim/pkg/core"
)

func testConfig() config.MobilityConfig {
	return config.MobilityConfig{
		DefaultModel:    core.ModelClassic,
		Accel:           200,
		Decel:           300,
		LateralAccel:    300,
		MinGap:          200,
		TimeHeadway:     1500 * time.Millisecond,
		Politeness:      0.3,
		ChangeThreshold: 20,
		SafeDecel:       400,
	}
}

func TestClassic_ConstantSpeedEast(t *testing.T) {
	m := NewClassic(testConfig())
	v := &core.Vehicle{ID: 1, Position: core.Position{X: 1000, Y: 1000}, Speed: core.KmhToCms(36), Active: true}
	lane := LaneContext{SpeedLimit: core.KmhToCms(36)}

	for i := 0; i < 10; i++ {
		res, err := m.Step(v, time.Second, lane)
		require.NoError(t, err)
		v.Position, v.Speed, v.Heading = res.Position, res.Speed, res.Heading
	}

	assert.Equal(t, 11000.0, v.Position.X)
	assert.Equal(t, 1000.0, v.Position.Y)
	assert.Equal(t, 1000.0, v.Speed)
}

func TestClassic_AcceleratesTowardLimit(t *testing.T) {
	m := NewClassic(testConfig())
	v := &core.Vehicle{ID: 1, Speed: 0, Active: true}

	res, err := m.Step(v, time.Second, LaneContext{SpeedLimit: 1000})
	require.NoError(t, err)
	assert.Equal(t, 200.0, res.Speed)
	assert.InDelta(t, 100.0, res.Position.X, 1e-9)

	v.Speed = 1100
	res, err = m.Step(v, time.Second, LaneContext{SpeedLimit: 1000})
	require.NoError(t, err)
	assert.Equal(t, 1000.0, res.Speed)
}

func TestClassic_CurvatureCapsSpeed(t *testing.T) {
	m := NewClassic(testConfig())
	v := &core.Vehicle{ID: 1, Speed: 3000, Active: true}

	// sqrt(300 / 0.0003) = 1000 cm/s
	res, err := m.Step(v, 10*time.Second, LaneContext{SpeedLimit: 5000, Curvature: 0.0003})
	require.NoError(t, err)
	assert.InDelta(t, 1000.0, res.Speed, 1e-9)
	assert.Greater(t, res.Heading, 0.0)
}

func TestClassic_RejectsInvalidState(t *testing.T) {
	m := NewClassic(testConfig())
	_, err := m.Step(&core.Vehicle{ID: 3, Speed: math.NaN()}, time.Second, LaneContext{})
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestIDM_FreeRoadApproachesDesiredSpeed(t *testing.T) {
	m := NewIDM(testConfig())
	v := &core.Vehicle{ID: 1, Speed: 0, Active: true}

	for i := 0; i < 120; i++ {
		res, err := m.Step(v, time.Second, LaneContext{SpeedLimit: 2000, LaneCount: 1})
		require.NoError(t, err)
		v.Position, v.Speed = res.Position, res.Speed
	}
	assert.InDelta(t, 2000.0, v.Speed, 50)
	assert.Greater(t, v.Position.X, 0.0)
}

func TestIDM_BrakesBehindSlowLeader(t *testing.T) {
	m := NewIDM(testConfig())
	v := &core.Vehicle{ID: 1, Speed: 2000, Active: true}

	lane := LaneContext{
		SpeedLimit: 2000,
		LaneCount:  1,
		Leader:     Neighbor{Present: true, Gap: 1000, Speed: 0},
	}
	acc := m.Acceleration(v.Speed, 2000, lane.Leader)
	assert.Less(t, acc, 0.0)

	res, err := m.Step(v, time.Second, lane)
	require.NoError(t, err)
	assert.Less(t, res.Speed, v.Speed)
	assert.GreaterOrEqual(t, res.Speed, 0.0)
	assert.Equal(t, 0, res.Lane)
}

func TestIDM_MOBILChangesToFreeLane(t *testing.T) {
	m := NewIDM(testConfig())
	v := &core.Vehicle{ID: 1, Speed: 1500, Active: true}

	lane := LaneContext{
		SpeedLimit: 2000,
		LaneCount:  2,
		LaneWidth:  350,
		Leader:     Neighbor{Present: true, Gap: 1500, Speed: 500},
		Left:       AdjacentLane{Exists: true},
	}
	res, err := m.Step(v, time.Second, lane)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Lane)
	assert.InDelta(t, 350.0, res.Position.Y, 1e-9)
}

func TestIDM_MOBILRespectsSafeDecel(t *testing.T) {
	m := NewIDM(testConfig())
	v := &core.Vehicle{ID: 1, Speed: 500, Active: true}

	lane := LaneContext{
		SpeedLimit: 2000,
		LaneCount:  2,
		LaneWidth:  350,
		Leader:     Neighbor{Present: true, Gap: 1500, Speed: 0},
		Left: AdjacentLane{
			Exists:   true,
			Follower: Neighbor{Present: true, Gap: 300, Speed: 2500},
		},
	}
	res, err := m.Step(v, time.Second, lane)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Lane, "fast follower close behind makes the change unsafe")
}

func TestTrace_InterpolatesAndExhausts(t *testing.T) {
	tr := NewTrace()
	require.NoError(t, tr.SetRoute(1, Route{
		{Position: core.Position{X: 0, Y: 0}, At: 0},
		{Position: core.Position{X: 1000, Y: 0}, At: 1000},
		{Position: core.Position{X: 1000, Y: 2000}, At: 3000},
	}))
	v := &core.Vehicle{ID: 1, Active: true}

	res, err := tr.Step(v, 500*time.Millisecond, LaneContext{Now: 0})
	require.NoError(t, err)
	assert.Equal(t, core.Position{X: 500, Y: 0}, res.Position)
	assert.InDelta(t, 1000.0, res.Speed, 1e-9)
	assert.False(t, res.Inactive)

	res, err = tr.Step(v, time.Second, LaneContext{Now: 1000})
	require.NoError(t, err)
	assert.Equal(t, core.Position{X: 1000, Y: 1000}, res.Position)
	assert.InDelta(t, math.Pi/2, res.Heading, 1e-12)

	res, err = tr.Step(v, time.Second, LaneContext{Now: 2000})
	require.NoError(t, err)
	assert.False(t, res.Inactive, "last point itself is still on the route")

	res, err = tr.Step(v, time.Second, LaneContext{Now: 3000})
	require.NoError(t, err)
	assert.True(t, res.Inactive)
	assert.Equal(t, core.Position{X: 1000, Y: 2000}, res.Position)
}

func TestTrace_Errors(t *testing.T) {
	tr := NewTrace()
	_, err := tr.Step(&core.Vehicle{ID: 9}, time.Second, LaneContext{})
	assert.True(t, errors.Is(err, ErrNoRoute))

	err = tr.SetRoute(2, Route{{At: 10}, {At: 10}})
	assert.Error(t, err)
	assert.Error(t, tr.SetRoute(2, nil))
}

func TestSet_Dispatch(t *testing.T) {
	s := NewSet(testConfig(), nil)

	m, err := s.For(core.ModelClassic)
	require.NoError(t, err)
	assert.Equal(t, core.ModelClassic, m.Kind())

	m, err = s.For(core.ModelIDM)
	require.NoError(t, err)
	assert.Equal(t, core.ModelIDM, m.Kind())

	_, err = s.For(core.ModelTrace)
	assert.True(t, errors.Is(err, ErrUnknownModel))

	s.Register(NewTrace())
	assert.True(t, s.Has(core.ModelTrace))
}

func TestBuildLaneContext(t *testing.T) {
	net := StraightRoads{Limit: 1500, Lanes: 2, Width: 350}
	v := &core.Vehicle{ID: 1, Position: core.Position{X: 1000, Y: 0}, Lane: 0, Active: true}
	others := []*core.Vehicle{
		v,
		{ID: 2, Position: core.Position{X: 1800, Y: 0}, Speed: 900, Lane: 0, Active: true},
		{ID: 3, Position: core.Position{X: 1400, Y: 0}, Speed: 800, Lane: 0, Active: true},
		{ID: 4, Position: core.Position{X: 600, Y: 0}, Speed: 700, Lane: 0, Active: true},
		{ID: 5, Position: core.Position{X: 2000, Y: 350}, Speed: 600, Lane: 1, Active: true},
		{ID: 6, Position: core.Position{X: 900, Y: 0}, Lane: 0, Active: false},
		{ID: 7, Position: core.Position{X: 1100, Y: 0}, Heading: math.Pi, Lane: 0, Active: true},
	}

	ctx := BuildLaneContext(v, 5000, net, others)
	assert.Equal(t, core.SimTime(5000), ctx.Now)
	assert.Equal(t, 1500.0, ctx.SpeedLimit)
	// centre to centre, no vehicle length
	assert.Equal(t, Neighbor{Present: true, Gap: 400, Speed: 800}, ctx.Leader)
	assert.Equal(t, Neighbor{Present: true, Gap: 400, Speed: 700}, ctx.Follower)
	assert.True(t, ctx.Left.Exists)
	assert.Equal(t, Neighbor{Present: true, Gap: 1000, Speed: 600}, ctx.Left.Leader)
	assert.False(t, ctx.Left.Follower.Present)
	assert.False(t, ctx.Right.Exists)
}
