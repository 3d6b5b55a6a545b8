package geo

import (
	"encoding/json"
	"fmt"

	"github.com/vanetsim/pseudosim/internal/mobility"
	"github.com/vanetsim/pseudosim/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// ParsePolyline parses a JSON array of coordinates into a geom.LineString.
// Input format: "[[x1,y1],[x2,y2],...]"
func ParsePolyline(input string) (geom.LineString, error) {
	coords, err := parseCoords(input)
	if err != nil {
		return geom.LineString{}, err
	}

	flatCoords := make([]float64, 0, len(coords)*2)
	for _, c := range coords {
		flatCoords = append(flatCoords, c.X, c.Y)
	}
	ls, err := geom.NewLineString(geom.NewSequence(flatCoords, geom.DimXY))
	if err != nil {
		return geom.LineString{}, fmt.Errorf("invalid polyline: %w", err)
	}
	return ls, nil
}

// PolylineToRoute drives a polyline in cm at a constant speed in cm/s,
// starting at start.
func PolylineToRoute(input string, speed float64, start core.SimTime) (mobility.Route, error) {
	if speed <= 0 {
		return nil, fmt.Errorf("speed must be positive, got %g", speed)
	}
	coords, err := parseCoords(input)
	if err != nil {
		return nil, err
	}

	route := make(mobility.Route, 0, len(coords))
	at := float64(start)
	for i, c := range coords {
		if i > 0 {
			d := c.Distance(coords[i-1])
			if d == 0 {
				continue
			}
			at += d / speed * 1000
		}
		route = append(route, mobility.RoutePoint{Position: c, At: core.SimTime(at)})
	}
	if err := route.Validate(); err != nil {
		return nil, err
	}
	return route, nil
}

// RouteLineString converts a route to a line string for storage. Routes
// shorter than two points give an empty line string.
func RouteLineString(r mobility.Route) (geom.LineString, error) {
	if len(r) < 2 {
		return geom.LineString{}, nil
	}
	flat := make([]float64, 0, len(r)*2)
	for _, p := range r {
		flat = append(flat, p.Position.X, p.Position.Y)
	}
	return geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
}

func parseCoords(input string) ([]core.Position, error) {
	var coords [][]float64
	if err := json.Unmarshal([]byte(input), &coords); err != nil {
		return nil, fmt.Errorf("failed to parse polyline JSON: %w", err)
	}

	if len(coords) < 2 {
		return nil, fmt.Errorf("polyline must have at least 2 points, got %d", len(coords))
	}

	out := make([]core.Position, len(coords))
	for i, coord := range coords {
		if len(coord) < 2 {
			return nil, fmt.Errorf("coordinate %d has insufficient values", i)
		}
		out[i] = core.Position{X: coord[0], Y: coord[1]}
	}
	return out, nil
}
