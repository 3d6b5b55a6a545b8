package mobility

import (
	"math"

	"github.com/vanetsim/pseudosim/pkg/core"
)

// RoadNetwork is the map collaborator: lane topology and limits at a position.
type RoadNetwork interface {
	SpeedLimit(pos core.Position) float64
	Curvature(pos core.Position) float64
	LaneCount(pos core.Position) int
	LaneWidth() float64
}

// StraightRoads is a flat network of straight multi-lane roads with uniform limits.
type StraightRoads struct {
	Limit float64 // cm/s
	Lanes int
	Width float64 // lane width in cm
}

func (s StraightRoads) SpeedLimit(core.Position) float64 { return s.Limit }
func (s StraightRoads) Curvature(core.Position) float64  { return 0 }
func (s StraightRoads) LaneCount(core.Position) int      { return s.Lanes }
func (s StraightRoads) LaneWidth() float64               { return s.Width }

// BuildLaneContext derives a vehicle's surroundings from the road network and
// the neighbours returned by a spatial query. Only vehicles travelling roughly
// the same direction count as leaders or followers.
func BuildLaneContext(v *core.Vehicle, now core.SimTime, net RoadNetwork, neighbors []*core.Vehicle) LaneContext {
	lanes := net.LaneCount(v.Position)
	ctx := LaneContext{
		Now:        now,
		SpeedLimit: net.SpeedLimit(v.Position),
		Curvature:  net.Curvature(v.Position),
		LaneCount:  lanes,
		LaneWidth:  net.LaneWidth(),
		Left:       AdjacentLane{Exists: v.Lane+1 < lanes},
		Right:      AdjacentLane{Exists: v.Lane > 0},
	}

	dir := core.Position{X: math.Cos(v.Heading), Y: math.Sin(v.Heading)}
	for _, o := range neighbors {
		if o.ID == v.ID || !o.Active {
			continue
		}
		if math.Cos(o.Heading-v.Heading) < 0.5 {
			continue
		}
		rel := o.Position.Sub(v.Position)
		along := rel.X*dir.X + rel.Y*dir.Y

		var leader, follower *Neighbor
		switch o.Lane - v.Lane {
		case 0:
			leader, follower = &ctx.Leader, &ctx.Follower
		case 1:
			leader, follower = &ctx.Left.Leader, &ctx.Left.Follower
		case -1:
			leader, follower = &ctx.Right.Leader, &ctx.Right.Follower
		default:
			continue
		}
		if along >= 0 {
			closer(leader, along, o.Speed)
		} else {
			closer(follower, -along, o.Speed)
		}
	}
	return ctx
}

func closer(n *Neighbor, gap, speed float64) {
	if !n.Present || gap < n.Gap {
		*n = Neighbor{Present: true, Gap: gap, Speed: speed}
	}
}
