// Package geo turns recorded WGS84 traces into simulation routes. Points are
// projected to Web Mercator, scaled to true local distance at the origin's
// latitude and expressed in centimetres relative to the origin.
package geo

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/vanetsim/pseudosim/internal/mobility"
	"github.com/vanetsim/pseudosim/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// TracePoint is one GPS fix of a recorded trace.
type TracePoint struct {
	Lon, Lat float64
	At       core.SimTime
}

// ParseCoord parses "long,lat" or "long,lat,elev". Elevation is ignored.
func ParseCoord(coords string) (lon, lat float64, err error) {
	parts := strings.Split(coords, ",")
	if len(parts) < 2 {
		return 0, 0, ErrInvalidCoordinates
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, ErrInvalidCoordinates
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, ErrInvalidCoordinates
	}
	if lon < -180 || lon > 180 || lat < -85.06 || lat > 85.06 {
		return 0, 0, ErrInvalidCoordinates
	}
	return lon, lat, nil
}

// Coords3857From4326 creates a Web Mercator point from a longitude and latitude
func Coords3857From4326(longitude, latitude float64) (geom.Point, error) {
	x, y, _ := wgs84.EPSG().Transform(4326, 3857)(longitude, latitude, 0)
	return geom.NewPoint(geom.Coordinates{XY: geom.XY{X: x, Y: y}})
}

// Projection maps WGS84 coordinates to simulation positions around an origin.
type Projection struct {
	originX, originY float64
	scale            float64 // Mercator metres to true centimetres
	transform        func(a, b, c float64) (float64, float64, float64)
}

// NewProjection centres a projection on lon/lat.
func NewProjection(lon, lat float64) Projection {
	f := wgs84.EPSG().Transform(4326, 3857)
	x, y, _ := f(lon, lat, 0)
	return Projection{
		originX:   x,
		originY:   y,
		scale:     100 * math.Cos(lat*math.Pi/180),
		transform: f,
	}
}

// Position projects lon/lat into simulation centimetres.
func (p Projection) Position(lon, lat float64) core.Position {
	x, y, _ := p.transform(lon, lat, 0)
	return core.Position{X: (x - p.originX) * p.scale, Y: (y - p.originY) * p.scale}
}

// TraceToRoute converts a trace into a route. The origin is the south-west
// corner of the trace's bounding box, so every position is non-negative.
// offset shifts the whole route, in cm.
func TraceToRoute(points []TracePoint, offset core.Position) (mobility.Route, error) {
	if len(points) == 0 {
		return nil, errors.New("empty trace")
	}
	minLon, minLat := points[0].Lon, points[0].Lat
	for _, pt := range points[1:] {
		minLon = math.Min(minLon, pt.Lon)
		minLat = math.Min(minLat, pt.Lat)
	}
	proj := NewProjection(minLon, minLat)

	route := make(mobility.Route, len(points))
	for i, pt := range points {
		route[i] = mobility.RoutePoint{Position: proj.Position(pt.Lon, pt.Lat).Add(offset), At: pt.At}
	}
	if err := route.Validate(); err != nil {
		return nil, err
	}
	return route, nil
}

// ReadTrace reads "at_ms,lon,lat" CSV records. A header row whose first
// field is not a number is skipped.
func ReadTrace(r io.Reader) ([]TracePoint, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var out []TracePoint
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("trace: %w", err)
		}
		at, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("trace line %d: bad time %q", line, rec[0])
		}
		lon, lat, err := ParseCoord(rec[1] + "," + rec[2])
		if err != nil {
			return nil, fmt.Errorf("trace line %d: %w", line, err)
		}
		out = append(out, TracePoint{Lon: lon, Lat: lat, At: core.SimTime(at)})
	}
	return out, nil
}
