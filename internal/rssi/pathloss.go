// Package rssi models signal-strength observations between RSUs and vehicles.
package rssi

import "math"

// ReferenceDistance d0 of the log-distance model, in cm.
const ReferenceDistance = 100.0

// PathLoss is the log-distance attenuation model
//
//	rssi(d) = TxPowerDBm - 10·n·log10(max(d, d0)/d0)
//
// It is strictly decreasing for d > d0.
type PathLoss struct {
	TxPowerDBm float64
	Exponent   float64
}

// Signal returns the received strength at distance d.
func (m PathLoss) Signal(d float64) float64 {
	d = math.Max(d, ReferenceDistance)
	return m.TxPowerDBm - 10*m.Exponent*math.Log10(d/ReferenceDistance)
}

// Distance inverts Signal. Readings stronger than the reference map to d0.
func (m PathLoss) Distance(rssi float64) float64 {
	if m.Exponent <= 0 {
		return ReferenceDistance
	}
	d := ReferenceDistance * math.Pow(10, (m.TxPowerDBm-rssi)/(10*m.Exponent))
	return math.Max(d, ReferenceDistance)
}

// WithExponent returns a copy of m using exponent n.
func (m PathLoss) WithExponent(n float64) PathLoss {
	m.Exponent = n
	return m
}
