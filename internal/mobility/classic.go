package mobility

import (
	"math"
	"time"

	"github.com/vanetsim/pseudosim/internal/config"
	"github.com/vanetsim/pseudosim/pkg/core"
)

// Classic is a kinematic model: accelerate or brake toward the speed limit,
// capped by the curvature constraint, and follow the road's curvature.
type Classic struct {
	Accel        float64 // cm/s²
	Decel        float64 // cm/s²
	LateralAccel float64 // cm/s²
}

// NewClassic builds a Classic model from the mobility configuration.
func NewClassic(cfg config.MobilityConfig) *Classic {
	return &Classic{Accel: cfg.Accel, Decel: cfg.Decel, LateralAccel: cfg.LateralAccel}
}

func (c *Classic) Kind() core.ModelKind { return core.ModelClassic }

func (c *Classic) Step(v *core.Vehicle, dt time.Duration, lane LaneContext) (Result, error) {
	if err := checkVehicle(v); err != nil {
		return Result{}, err
	}
	secs := dt.Seconds()

	target := lane.SpeedLimit
	if target <= 0 {
		target = v.Speed
	}
	target = curveLimit(target, lane.Curvature, c.LateralAccel)

	speed := v.Speed
	switch {
	case speed < target:
		speed = math.Min(target, speed+c.Accel*secs)
	case speed > target:
		speed = math.Max(target, speed-c.Decel*secs)
	}

	dist := (v.Speed + speed) / 2 * secs
	return Result{
		Position: advance(v.Position, v.Heading, dist, 0),
		Speed:    speed,
		Heading:  v.Heading + lane.Curvature*dist,
		Lane:     v.Lane,
	}, nil
}
