// pkg/core/position.go
package core

import "math"

// Position is a 2D map coordinate in centimetres.
type Position struct {
	X float64 `json:"x"` // easting
	Y float64 `json:"y"` // northing
}

// Add returns p + o.
func (p Position) Add(o Position) Position {
	return Position{X: p.X + o.X, Y: p.Y + o.Y}
}

// Sub returns p - o.
func (p Position) Sub(o Position) Position {
	return Position{X: p.X - o.X, Y: p.Y - o.Y}
}

// Scale multiplies both components by f.
func (p Position) Scale(f float64) Position {
	return Position{X: p.X * f, Y: p.Y * f}
}

// Length returns the euclidean norm of p treated as a vector.
func (p Position) Length() float64 {
	return math.Hypot(p.X, p.Y)
}

// Distance returns the euclidean distance between p and o.
func (p Position) Distance(o Position) float64 {
	return math.Hypot(p.X-o.X, p.Y-o.Y)
}

// Rect is an axis-aligned rectangle in map units.
type Rect struct {
	Min Position `json:"min"`
	Max Position `json:"max"`
}

// NewRect builds a Rect from two opposite corners in any order.
func NewRect(a, b Position) Rect {
	return Rect{
		Min: Position{X: math.Min(a.X, b.X), Y: math.Min(a.Y, b.Y)},
		Max: Position{X: math.Max(a.X, b.X), Y: math.Max(a.Y, b.Y)},
	}
}

// RectAround returns the square of half-side r centred on p.
func RectAround(p Position, r float64) Rect {
	return Rect{
		Min: Position{X: p.X - r, Y: p.Y - r},
		Max: Position{X: p.X + r, Y: p.Y + r},
	}
}

// Width of the rectangle.
func (r Rect) Width() float64 { return r.Max.X - r.Min.X }

// Height of the rectangle.
func (r Rect) Height() float64 { return r.Max.Y - r.Min.Y }

// Contains reports whether p lies inside r, edges included.
func (r Rect) Contains(p Position) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X && p.Y >= r.Min.Y && p.Y <= r.Max.Y
}

// Clamp returns p moved onto the nearest point inside r.
func (r Rect) Clamp(p Position) Position {
	return Position{
		X: math.Max(r.Min.X, math.Min(r.Max.X, p.X)),
		Y: math.Max(r.Min.Y, math.Min(r.Max.Y, p.Y)),
	}
}
