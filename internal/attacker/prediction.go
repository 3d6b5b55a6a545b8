package attacker

import (
	"math"

	"github.com/vanetsim/pseudosim/pkg/core"
)

// Predict extrapolates a cluster's last fix to t at constant velocity.
func Predict(c *core.TrajectoryCluster, t core.SimTime) (core.Position, bool) {
	last, ok := c.LastFix()
	if !ok {
		return core.Position{}, false
	}
	dt := float64(t-last.Tick) / 1000
	return last.Position.Add(c.Velocity.Scale(dt)), true
}

// RingFix checks a single range against a predicted position. The residual is
// how far the prediction is from the ring of radius r.Distance around the
// observer; the fix is the point of the ring nearest to the prediction.
func RingFix(pred core.Position, r Range) (core.Position, float64) {
	off := pred.Sub(r.Observer)
	dist := off.Length()
	residual := math.Abs(dist - r.Distance)
	if dist == 0 {
		// prediction on the observer: any ring point is equally near
		return r.Observer.Add(core.Position{X: r.Distance}), residual
	}
	return r.Observer.Add(off.Scale(r.Distance / dist)), residual
}

// bestRing returns the ring fix with the smallest residual among ranges.
func bestRing(pred core.Position, ranges []Range) (core.Position, float64) {
	bestPos, best := core.Position{}, math.Inf(1)
	for _, r := range ranges {
		p, res := RingFix(pred, r)
		if res < best {
			bestPos, best = p, res
		}
	}
	return bestPos, best
}
