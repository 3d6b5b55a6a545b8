package mobility

import (
	"math"
	"time"

	"github.com/vanetsim/pseudosim/internal/config"
	"github.com/vanetsim/pseudosim/pkg/core"
)

const idmDelta = 4.0

// IDM is the Intelligent Driver Model for longitudinal control combined with
// MOBIL for lane changes. Units are cm and seconds.
type IDM struct {
	Accel           float64 // a, maximum acceleration
	Decel           float64 // b, comfortable deceleration
	LateralAccel    float64
	MinGap          float64 // s0
	TimeHeadway     float64 // T in seconds
	Politeness      float64 // p
	ChangeThreshold float64 // Δa_th
	SafeDecel       float64 // b_safe
}

// NewIDM builds an IDM/MOBIL model from the mobility configuration.
func NewIDM(cfg config.MobilityConfig) *IDM {
	return &IDM{
		Accel:           cfg.Accel,
		Decel:           cfg.Decel,
		LateralAccel:    cfg.LateralAccel,
		MinGap:          cfg.MinGap,
		TimeHeadway:     cfg.TimeHeadway.Seconds(),
		Politeness:      cfg.Politeness,
		ChangeThreshold: cfg.ChangeThreshold,
		SafeDecel:       cfg.SafeDecel,
	}
}

func (m *IDM) Kind() core.ModelKind { return core.ModelIDM }

// Acceleration returns the IDM acceleration of a vehicle at speed v with
// desired speed v0 following leader.
func (m *IDM) Acceleration(v, v0 float64, leader Neighbor) float64 {
	free := 1.0
	if v0 > 0 {
		free = 1 - math.Pow(v/v0, idmDelta)
	}
	if !leader.Present {
		return m.Accel * free
	}
	dv := v - leader.Speed
	sStar := m.MinGap + math.Max(0, v*m.TimeHeadway+v*dv/(2*math.Sqrt(m.Accel*m.Decel)))
	gap := math.Max(leader.Gap, 1)
	return m.Accel * (free - (sStar/gap)*(sStar/gap))
}

func (m *IDM) Step(v *core.Vehicle, dt time.Duration, lane LaneContext) (Result, error) {
	if err := checkVehicle(v); err != nil {
		return Result{}, err
	}
	secs := dt.Seconds()

	v0 := lane.SpeedLimit
	if v0 <= 0 {
		v0 = math.Max(v.Speed, 1)
	}
	v0 = curveLimit(v0, lane.Curvature, m.LateralAccel)

	acc := m.Acceleration(v.Speed, v0, lane.Leader)
	newLane := v.Lane
	if delta, accAfter, ok := m.laneChange(v.Speed, v0, acc, lane); ok {
		newLane += delta
		acc = accAfter
	}

	speed := v.Speed + acc*secs
	dist := v.Speed*secs + 0.5*acc*secs*secs
	if speed < 0 {
		// stopped within the step
		speed = 0
		dist = v.Speed * v.Speed / (2 * -acc)
	}
	dist = math.Max(dist, 0)

	lateral := float64(newLane-v.Lane) * lane.LaneWidth
	return Result{
		Position: advance(v.Position, v.Heading, dist, lateral),
		Speed:    speed,
		Heading:  v.Heading + lane.Curvature*dist,
		Lane:     newLane,
	}, nil
}

// laneChange applies the MOBIL criterion to both adjacent lanes and returns the
// lane delta (+1 left, -1 right) of the better one, with the vehicle's
// acceleration in it. Left wins ties.
func (m *IDM) laneChange(v, v0, acc float64, lane LaneContext) (int, float64, bool) {
	bestDelta, bestAcc, bestGain := 0, 0.0, 0.0
	found := false

	for _, cand := range []struct {
		delta int
		adj   AdjacentLane
	}{{+1, lane.Left}, {-1, lane.Right}} {
		if !cand.adj.Exists {
			continue
		}
		gain, accNew, safe := m.incentive(v, v0, acc, lane, cand.adj)
		if !safe || gain <= m.ChangeThreshold {
			continue
		}
		if !found || gain > bestGain {
			bestDelta, bestAcc, bestGain, found = cand.delta, accNew, gain, true
		}
	}
	return bestDelta, bestAcc, found
}

func (m *IDM) incentive(v, v0, acc float64, lane LaneContext, adj AdjacentLane) (gain, accNew float64, safe bool) {
	// our gap must be positive on both sides
	if adj.Leader.Present && adj.Leader.Gap <= m.MinGap {
		return 0, 0, false
	}
	if adj.Follower.Present && adj.Follower.Gap <= m.MinGap {
		return 0, 0, false
	}

	accNew = m.Acceleration(v, v0, adj.Leader)

	var newFollowerGain float64
	if adj.Follower.Present {
		before := m.Acceleration(adj.Follower.Speed, v0, joinGap(adj.Follower, adj.Leader))
		after := m.Acceleration(adj.Follower.Speed, v0, Neighbor{Present: true, Gap: adj.Follower.Gap, Speed: v})
		if after < -m.SafeDecel {
			return 0, 0, false
		}
		newFollowerGain = after - before
	}

	var oldFollowerGain float64
	if lane.Follower.Present {
		before := m.Acceleration(lane.Follower.Speed, v0, Neighbor{Present: true, Gap: lane.Follower.Gap, Speed: v})
		after := m.Acceleration(lane.Follower.Speed, v0, joinGap(lane.Follower, lane.Leader))
		oldFollowerGain = after - before
	}

	gain = accNew - acc + m.Politeness*(newFollowerGain+oldFollowerGain)
	return gain, accNew, true
}

// joinGap is the leader a follower sees once the vehicle between them is gone.
func joinGap(follower, leader Neighbor) Neighbor {
	if !leader.Present {
		return Neighbor{}
	}
	return Neighbor{Present: true, Gap: follower.Gap + leader.Gap, Speed: leader.Speed}
}
