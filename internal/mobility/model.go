// Package mobility advances vehicles along the road network once per tick.
package mobility

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/vanetsim/pseudosim/internal/config"
	"github.com/vanetsim/pseudosim/pkg/core"
)

var (
	// ErrUnknownModel is returned when no model is registered for a ModelKind.
	ErrUnknownModel = errors.New("unknown mobility model")
	// ErrInvalidState is returned when a vehicle cannot be stepped, e.g. a NaN speed.
	ErrInvalidState = errors.New("invalid vehicle state")
)

// Result is the outcome of one step. Inactive means the vehicle left the
// scenario (trace exhausted) and must not be stepped again.
type Result struct {
	Position core.Position
	Speed    float64
	Heading  float64
	Lane     int
	Inactive bool
}

// Neighbor describes the nearest vehicle ahead of or behind a position in one lane.
// Vehicles are points: Gap is centre to centre along the heading, in cm, and
// the IDM minimum gap stands in for vehicle length.
type Neighbor struct {
	Present bool
	Gap     float64
	Speed   float64
}

// AdjacentLane is the occupancy of a neighbouring lane.
type AdjacentLane struct {
	Exists   bool
	Leader   Neighbor
	Follower Neighbor
}

// LaneContext is everything a model may read about its surroundings for one step.
type LaneContext struct {
	Now        core.SimTime
	SpeedLimit float64 // cm/s, 0 means unrestricted
	Curvature  float64 // 1/cm
	LaneCount  int
	LaneWidth  float64
	Leader     Neighbor
	Follower   Neighbor
	Left       AdjacentLane
	Right      AdjacentLane
}

// Model advances one vehicle by dt. Implementations read the vehicle and the
// lane context and must not write to either.
type Model interface {
	Kind() core.ModelKind
	Step(v *core.Vehicle, dt time.Duration, lane LaneContext) (Result, error)
}

// Set dispatches on ModelKind.
type Set struct {
	models map[core.ModelKind]Model
}

// NewSet registers the classic and IDM/MOBIL models from cfg and the given trace model.
// A nil trace leaves ModelTrace unregistered.
func NewSet(cfg config.MobilityConfig, trace *Trace) *Set {
	s := &Set{models: make(map[core.ModelKind]Model)}
	s.Register(NewClassic(cfg))
	s.Register(NewIDM(cfg))
	if trace != nil {
		s.Register(trace)
	}
	return s
}

// Register adds or replaces the model for its kind.
func (s *Set) Register(m Model) {
	s.models[m.Kind()] = m
}

// For returns the model registered for kind.
func (s *Set) For(kind core.ModelKind) (Model, error) {
	m, ok := s.models[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, kind)
	}
	return m, nil
}

// Has reports whether kind is registered.
func (s *Set) Has(kind core.ModelKind) bool {
	_, ok := s.models[kind]
	return ok
}

func checkVehicle(v *core.Vehicle) error {
	if math.IsNaN(v.Speed) || math.IsInf(v.Speed, 0) || v.Speed < 0 {
		return fmt.Errorf("%w: vehicle %d speed %v", ErrInvalidState, v.ID, v.Speed)
	}
	if math.IsNaN(v.Position.X) || math.IsNaN(v.Position.Y) || math.IsNaN(v.Heading) {
		return fmt.Errorf("%w: vehicle %d has NaN coordinates", ErrInvalidState, v.ID)
	}
	return nil
}

// curveLimit caps target speed so that lateral acceleration stays below aLat.
func curveLimit(target, curvature, aLat float64) float64 {
	if curvature <= 0 || aLat <= 0 {
		return target
	}
	vc := math.Sqrt(aLat / curvature)
	if target <= 0 || vc < target {
		return vc
	}
	return target
}

// advance moves p by dist along heading and shifts it lateral cm to the left.
func advance(p core.Position, heading, dist, lateral float64) core.Position {
	dir := core.Position{X: math.Cos(heading), Y: math.Sin(heading)}
	left := core.Position{X: -dir.Y, Y: dir.X}
	return p.Add(dir.Scale(dist)).Add(left.Scale(lateral))
}
