package sim

import (
	"context"

	"github.com/vanetsim/pseudosim/pkg/core"
)

// Observer receives a read-only snapshot after every tick. Observer errors are
// logged and never halt the clock.
type Observer interface {
	OnTick(ctx context.Context, snap core.Snapshot) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, snap core.Snapshot) error

// OnTick calls f.
func (f ObserverFunc) OnTick(ctx context.Context, snap core.Snapshot) error {
	return f(ctx, snap)
}

// snapshot builds the per-tick view. Physical vehicle IDs stay out of it.
func (c *Context) snapshot(samples int) core.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := core.Snapshot{
		RunID:    c.runID,
		Tick:     c.now,
		Vehicles: make([]core.VehicleView, 0, len(c.vehicles)),
		RSUs:     make([]core.RSUView, 0, len(c.rsus)),
		Samples:  samples,
	}
	for _, v := range c.vehicles {
		snap.Vehicles = append(snap.Vehicles, core.VehicleView{
			Pseudonym: v.Pseudonym,
			Position:  v.Position,
			Speed:     v.Speed,
			Heading:   v.Heading,
			State:     v.State,
			Active:    v.Active,
		})
	}
	for _, r := range c.rsus {
		snap.RSUs = append(snap.RSUs, core.RSUView{ID: r.ID, Position: r.Position, Radius: r.Radius, Role: r.Role})
	}
	if c.Estimator != nil {
		snap.Clusters = c.Estimator.Clusters()
		snap.Stats = c.Estimator.Stats()
	}
	return snap
}
