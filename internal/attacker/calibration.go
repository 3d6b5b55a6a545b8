package attacker

import (
	"math"

	"github.com/vanetsim/pseudosim/internal/rssi"
	"github.com/vanetsim/pseudosim/pkg/core"
)

// calibration fits the path-loss exponent from RSU↔RSU samples, whose
// distances are public. With x = 10·log10(d/d0) and y = tx − rssi the model is
// y = n·x, so the least-squares n is Σxy/Σx².
type calibration struct {
	sxx, sxy float64
	n        uint64
}

func (c *calibration) add(s core.RssiSample, tx float64) bool {
	d := s.ObserverPosition.Distance(s.ObservedPosition)
	if d <= rssi.ReferenceDistance {
		return false
	}
	x := 10 * math.Log10(d/rssi.ReferenceDistance)
	y := tx - s.SignalDBm
	c.sxx += x * x
	c.sxy += x * y
	c.n++
	return true
}

func (c *calibration) exponent() (float64, bool) {
	if c.n == 0 || c.sxx == 0 {
		return 0, false
	}
	n := c.sxy / c.sxx
	if n <= 0 {
		return 0, false
	}
	return n, true
}
