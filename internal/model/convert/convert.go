package convert

import (
	"encoding/json"
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/vanetsim/pseudosim/internal/model"
	"github.com/vanetsim/pseudosim/pkg/core"
)

// pointToPosition converts a geom.Point to a core.Position
func pointToPosition(p geom.Point) core.Position {
	coord, ok := p.Coordinates()
	if !ok {
		return core.Position{}
	}
	return core.Position{X: coord.XY.X, Y: coord.XY.Y}
}

// lineStringToTrack converts a stored track back to positions
func lineStringToTrack(ls geom.LineString) []core.Position {
	seq := ls.Coordinates()
	if seq.Length() == 0 {
		return nil
	}
	track := make([]core.Position, seq.Length())
	for i := 0; i < seq.Length(); i++ {
		pt := seq.GetXY(i)
		track[i] = core.Position{X: pt.X, Y: pt.Y}
	}
	return track
}

// RunToCore converts a GORM Run to a core.Run.
func RunToCore(r model.Run) core.Run {
	return core.Run{
		ID:        r.RunUUID,
		Seed:      r.Seed,
		TickMs:    r.TickMs,
		Strategy:  r.Strategy,
		MapWidth:  r.MapWidth,
		MapHeight: r.MapHeight,
		Vehicles:  r.Vehicles,
		RSUs:      r.RSUs,
	}
}

// EvaluationToCore converts the stored evaluation of a run.
func EvaluationToCore(e model.Evaluation) core.Evaluation {
	return core.Evaluation{
		Vehicles:     e.Vehicles,
		Changes:      e.Changes,
		Clusters:     e.Clusters,
		CorrectLinks: e.CorrectLinks,
		FalseLinks:   e.FalseLinks,
		Unresolved:   e.Unresolved,
		MeanPurity:   e.MeanPurity,
		LinkRate:     e.LinkRate,
	}
}

// VehicleStateToCore converts a GORM VehicleState to a core.VehicleView.
func VehicleStateToCore(s model.VehicleState) (core.VehicleView, error) {
	var p core.Pseudonym
	if err := p.UnmarshalText([]byte(s.Pseudonym)); err != nil {
		return core.VehicleView{}, fmt.Errorf("vehicle state %d: pseudonym %q: %w", s.ID, s.Pseudonym, err)
	}
	return core.VehicleView{
		Pseudonym: p,
		Position:  pointToPosition(s.Position),
		Speed:     s.Speed,
		Heading:   s.Heading,
		Active:    s.Active,
	}, nil
}

// ClusterToCore converts a GORM Cluster to a core.TrajectoryCluster.
// Only fix positions are stored, so restored fixes carry nothing else.
func ClusterToCore(c model.Cluster) (core.TrajectoryCluster, error) {
	var links []core.Link
	if len(c.Links) > 0 {
		if err := json.Unmarshal(c.Links, &links); err != nil {
			return core.TrajectoryCluster{}, fmt.Errorf("cluster %d: links: %w", c.ClusterID, err)
		}
	}
	if len(links) == 0 {
		links = nil
	}

	var fixes []core.Fix
	for _, p := range lineStringToTrack(c.Track) {
		fixes = append(fixes, core.Fix{Position: p})
	}

	return core.TrajectoryCluster{
		ID:       core.ClusterID(c.ClusterID),
		Links:    links,
		Fixes:    fixes,
		Velocity: core.Position{X: c.VelocityX, Y: c.VelocityY},
		Deferred: c.Deferred,
	}, nil
}
