package spatial

import (
	"fmt"
	"math"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/vanetsim/pseudosim/pkg/core"
)

// RegionKey addresses a grid cell by column and row.
type RegionKey struct {
	Col int
	Row int
}

func (k RegionKey) String() string {
	return fmt.Sprintf("(%d,%d)", k.Col, k.Row)
}

// Region is one grid cell. Members are keyed by entity ID; order is irrelevant.
type Region struct {
	Key      RegionKey
	Bounds   core.Rect
	Envelope geom.Envelope
	members  map[core.EntityID]Entity
}

// RegionInfo is a read-only summary of a region.
type RegionInfo struct {
	Key    RegionKey `json:"key"`
	Bounds core.Rect `json:"bounds"`
	Count  int       `json:"count"`
}

func newRegion(key RegionKey, bounds core.Rect) (*Region, error) {
	env, err := envelopeOf(bounds)
	if err != nil {
		return nil, fmt.Errorf("region %s: %w", key, err)
	}
	return &Region{
		Key:      key,
		Bounds:   bounds,
		Envelope: env,
		members:  make(map[core.EntityID]Entity),
	}, nil
}

// envelopeOf fails for non-finite coordinates.
func envelopeOf(r core.Rect) (geom.Envelope, error) {
	return geom.NewEnvelope([]geom.XY{
		{X: r.Min.X, Y: r.Min.Y},
		{X: r.Max.X, Y: r.Max.Y},
	})
}

// grid holds the region layout of a map.
type grid struct {
	bounds  core.Rect
	regionW float64
	regionH float64
	cols    int
	rows    int
	regions []*Region
}

func newGrid(bounds core.Rect, regionW, regionH float64) (*grid, error) {
	if regionW < MinRegionSize || regionH < MinRegionSize {
		return nil, regionTooSmall(regionW, regionH)
	}
	if bounds.Width() <= 0 || bounds.Height() <= 0 {
		return nil, fmt.Errorf("map bounds must have positive size, got %gx%g", bounds.Width(), bounds.Height())
	}

	g := &grid{
		bounds:  bounds,
		regionW: regionW,
		regionH: regionH,
		cols:    int(math.Ceil(bounds.Width() / regionW)),
		rows:    int(math.Ceil(bounds.Height() / regionH)),
	}
	g.regions = make([]*Region, 0, g.cols*g.rows)
	for row := 0; row < g.rows; row++ {
		for col := 0; col < g.cols; col++ {
			minX := bounds.Min.X + float64(col)*regionW
			minY := bounds.Min.Y + float64(row)*regionH
			cell := core.Rect{
				Min: core.Position{X: minX, Y: minY},
				Max: core.Position{
					X: math.Min(minX+regionW, bounds.Max.X),
					Y: math.Min(minY+regionH, bounds.Max.Y),
				},
			}
			reg, err := newRegion(RegionKey{Col: col, Row: row}, cell)
			if err != nil {
				return nil, err
			}
			g.regions = append(g.regions, reg)
		}
	}
	return g, nil
}

// keyOf returns the cell owning pos. Cells are half-open on their max edges,
// except the last column and row which also own the map's max edge.
func (g *grid) keyOf(pos core.Position) (RegionKey, bool) {
	if !g.bounds.Contains(pos) {
		return RegionKey{}, false
	}
	col := int((pos.X - g.bounds.Min.X) / g.regionW)
	row := int((pos.Y - g.bounds.Min.Y) / g.regionH)
	if col >= g.cols {
		col = g.cols - 1
	}
	if row >= g.rows {
		row = g.rows - 1
	}
	return RegionKey{Col: col, Row: row}, true
}

func (g *grid) region(key RegionKey) *Region {
	if key.Col < 0 || key.Row < 0 || key.Col >= g.cols || key.Row >= g.rows {
		return nil
	}
	return g.regions[key.Row*g.cols+key.Col]
}

// span returns the inclusive key range of cells intersecting r, clamped to the map.
func (g *grid) span(r core.Rect) (lo, hi RegionKey, ok bool) {
	clipped := core.Rect{
		Min: g.bounds.Clamp(r.Min),
		Max: g.bounds.Clamp(r.Max),
	}
	if r.Max.X < g.bounds.Min.X || r.Max.Y < g.bounds.Min.Y ||
		r.Min.X > g.bounds.Max.X || r.Min.Y > g.bounds.Max.Y {
		return RegionKey{}, RegionKey{}, false
	}
	lo, _ = g.keyOf(clipped.Min)
	hi, _ = g.keyOf(clipped.Max)
	return lo, hi, true
}
