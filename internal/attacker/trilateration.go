package attacker

import (
	"errors"
	"math"

	"github.com/vanetsim/pseudosim/pkg/core"
)

// ErrDegenerate is returned when observers are collinear or coincide.
var ErrDegenerate = errors.New("degenerate observer geometry")

// Range is a distance estimate from a known observer position.
type Range struct {
	Observer core.Position
	Distance float64
}

// Trilaterate solves for the position best matching ranges in the least-squares
// sense. It subtracts the first range equation from the others to linearise the
// system and solves the 2x2 normal equations. The residual is the RMS range error.
func Trilaterate(ranges []Range) (core.Position, float64, error) {
	if len(ranges) < 3 {
		return core.Position{}, 0, errors.New("trilateration needs at least three ranges")
	}

	r0 := ranges[0]
	var ata00, ata01, ata11, atb0, atb1 float64
	for _, r := range ranges[1:] {
		a0 := 2 * (r.Observer.X - r0.Observer.X)
		a1 := 2 * (r.Observer.Y - r0.Observer.Y)
		b := r0.Distance*r0.Distance - r.Distance*r.Distance +
			r.Observer.X*r.Observer.X - r0.Observer.X*r0.Observer.X +
			r.Observer.Y*r.Observer.Y - r0.Observer.Y*r0.Observer.Y
		ata00 += a0 * a0
		ata01 += a0 * a1
		ata11 += a1 * a1
		atb0 += a0 * b
		atb1 += a1 * b
	}

	det := ata00*ata11 - ata01*ata01
	scale := math.Max(ata00*ata11, 1)
	if math.Abs(det) <= 1e-9*scale {
		return core.Position{}, 0, ErrDegenerate
	}
	p := core.Position{
		X: (ata11*atb0 - ata01*atb1) / det,
		Y: (ata00*atb1 - ata01*atb0) / det,
	}
	return p, rangeResidual(p, ranges), nil
}

func rangeResidual(p core.Position, ranges []Range) float64 {
	var sum float64
	for _, r := range ranges {
		e := p.Distance(r.Observer) - r.Distance
		sum += e * e
	}
	return math.Sqrt(sum / float64(len(ranges)))
}

// WithinBound reports whether estimate lies within bound of reference, bound included.
func WithinBound(estimate, reference core.Position, bound float64) bool {
	return estimate.Distance(reference) <= bound
}
