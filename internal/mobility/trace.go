package mobility

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/vanetsim/pseudosim/pkg/core"
)

// ErrNoRoute is returned when a trace-driven vehicle has no route.
var ErrNoRoute = errors.New("no route for vehicle")

// RoutePoint is one sample of a precomputed route.
type RoutePoint struct {
	Position core.Position `json:"position"`
	At       core.SimTime  `json:"at"`
}

// Route is an ordered sequence of route points with strictly increasing At.
type Route []RoutePoint

// Validate checks ordering.
func (r Route) Validate() error {
	if len(r) == 0 {
		return errors.New("empty route")
	}
	for i := 1; i < len(r); i++ {
		if r[i].At <= r[i-1].At {
			return fmt.Errorf("route point %d at %d not after %d", i, r[i].At, r[i-1].At)
		}
	}
	return nil
}

// At interpolates the route at t. ok is false once t is past the last point.
func (r Route) At(t core.SimTime) (pos core.Position, speed, heading float64, ok bool) {
	last := r[len(r)-1]
	if t > last.At {
		return last.Position, 0, 0, false
	}
	if t <= r[0].At || len(r) == 1 {
		return r[0].Position, 0, r.headingAt(0), true
	}

	i := sort.Search(len(r), func(i int) bool { return r[i].At >= t }) - 1
	a, b := r[i], r[i+1]
	span := b.At - a.At
	f := float64(t-a.At) / float64(span)
	seg := b.Position.Sub(a.Position)

	pos = a.Position.Add(seg.Scale(f))
	speed = seg.Length() / (float64(span) / 1000)
	heading = math.Atan2(seg.Y, seg.X)
	return pos, speed, heading, true
}

func (r Route) headingAt(i int) float64 {
	if i+1 >= len(r) {
		return 0
	}
	seg := r[i+1].Position.Sub(r[i].Position)
	return math.Atan2(seg.Y, seg.X)
}

// Trace replays precomputed routes. Position is a function of elapsed
// simulated time only, so model state never accumulates.
type Trace struct {
	mu     sync.RWMutex
	routes map[core.EntityID]Route
}

// NewTrace creates an empty trace model.
func NewTrace() *Trace {
	return &Trace{routes: make(map[core.EntityID]Route)}
}

// SetRoute assigns a route to a vehicle.
func (t *Trace) SetRoute(id core.EntityID, r Route) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("route for vehicle %d: %w", id, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[id] = r
	return nil
}

// Route returns the route of a vehicle.
func (t *Trace) Route(id core.EntityID) (Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.routes[id]
	return r, ok
}

func (t *Trace) Kind() core.ModelKind { return core.ModelTrace }

// Step places the vehicle where its route is at the end of the step. An
// exhausted route leaves the vehicle at its last point, inactive.
func (t *Trace) Step(v *core.Vehicle, dt time.Duration, lane LaneContext) (Result, error) {
	route, ok := t.Route(v.ID)
	if !ok {
		return Result{}, fmt.Errorf("vehicle %d: %w", v.ID, ErrNoRoute)
	}

	end := lane.Now + core.SimTimeOf(dt)
	pos, speed, heading, ok := route.At(end)
	if !ok {
		return Result{Position: pos, Heading: v.Heading, Lane: v.Lane, Inactive: true}, nil
	}
	return Result{Position: pos, Speed: speed, Heading: heading, Lane: v.Lane}, nil
}
