// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/vanetsim/pseudosim/internal/model"
	"github.com/vanetsim/pseudosim/pkg/core"
	"gorm.io/datatypes"
)

// positionToPoint converts a core.Position to a geom.Point
func positionToPoint(p core.Position) (geom.Point, error) {
	return geom.NewPoint(geom.Coordinates{XY: geom.XY{X: p.X, Y: p.Y}})
}

// fixesToLineString converts accepted fixes to a track. Fixes that never
// leave one spot do not make a line, so the track stays empty.
func fixesToLineString(fixes []core.Fix) geom.LineString {
	if len(fixes) < 2 {
		return geom.LineString{}
	}
	coords := make([]float64, 0, len(fixes)*2)
	for _, f := range fixes {
		coords = append(coords, f.Position.X, f.Position.Y)
	}
	ls, err := geom.NewLineString(geom.NewSequence(coords, geom.DimXY), geom.OmitInvalid)
	if err != nil {
		return geom.LineString{}
	}
	return ls
}

// linksToJSON converts cluster links to datatypes.JSON for DB storage.
func linksToJSON(links []core.Link) datatypes.JSON {
	if len(links) == 0 {
		return datatypes.JSON("[]")
	}
	data, _ := json.Marshal(links)
	return datatypes.JSON(data)
}

// CoreToRun converts a core.Run to a GORM model.Run.
func CoreToRun(r core.Run, start time.Time) model.Run {
	return model.Run{
		RunUUID:   r.ID,
		Seed:      r.Seed,
		TickMs:    r.TickMs,
		Strategy:  r.Strategy,
		MapWidth:  r.MapWidth,
		MapHeight: r.MapHeight,
		Vehicles:  r.Vehicles,
		RSUs:      r.RSUs,
		StartTime: start,
	}
}

// CoreToEvaluation converts a core.Evaluation to its embedded GORM form.
func CoreToEvaluation(e core.Evaluation) model.Evaluation {
	return model.Evaluation{
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

// EndTime wraps the wall clock end of a run.
func EndTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// CoreToRSU converts a core.RSUView to a GORM model.RSU.
func CoreToRSU(runID uint, r core.RSUView) (model.RSU, error) {
	pt, err := positionToPoint(r.Position)
	if err != nil {
		return model.RSU{}, fmt.Errorf("rsu %d: %w", r.ID, err)
	}
	return model.RSU{
		RunID:    runID,
		ObjectID: uint64(r.ID),
		Position: pt,
		Radius:   r.Radius,
		Role:     r.Role.String(),
	}, nil
}

// CoreToVehicleState converts one vehicle of a snapshot to a GORM model.VehicleState.
func CoreToVehicleState(runID uint, tick core.SimTime, now time.Time, v core.VehicleView) (model.VehicleState, error) {
	pt, err := positionToPoint(v.Position)
	if err != nil {
		return model.VehicleState{}, fmt.Errorf("vehicle %s at tick %d: %w", v.Pseudonym, tick, err)
	}
	return model.VehicleState{
		Time:      now,
		RunID:     runID,
		Tick:      int64(tick),
		Pseudonym: v.Pseudonym.String(),
		Position:  pt,
		Speed:     v.Speed,
		Heading:   v.Heading,
		State:     v.State.String(),
		Active:    v.Active,
	}, nil
}

// CoreToEstimatorTick converts the estimator part of a snapshot to a GORM model.EstimatorTick.
func CoreToEstimatorTick(runID uint, now time.Time, snap *core.Snapshot) model.EstimatorTick {
	s := snap.Stats
	return model.EstimatorTick{
		Time:               now,
		RunID:              runID,
		Tick:               int64(snap.Tick),
		Samples:            snap.Samples,
		Clusters:           len(snap.Clusters),
		SamplesConsumed:    s.SamplesConsumed,
		CalibrationSamples: s.CalibrationSamples,
		Fixes:              s.Fixes,
		Inconclusive:       s.Inconclusive,
		Deferred:           s.Deferred,
		Merged:             s.Merged,
		ClustersSeeded:     s.ClustersSeeded,
		CalibratedExponent: s.CalibratedExponent,
	}
}

// CoreToCluster converts a core.TrajectoryCluster to a GORM model.Cluster.
func CoreToCluster(runID uint, tick core.SimTime, c core.TrajectoryCluster) model.Cluster {
	return model.Cluster{
		RunID:     runID,
		ClusterID: uint64(c.ID),
		Tick:      int64(tick),
		Links:     linksToJSON(c.Links),
		Track:     fixesToLineString(c.Fixes),
		FirstSeen: int64(c.FirstSeen()),
		LastSeen:  int64(c.LastSeen()),
		VelocityX: c.Velocity.X,
		VelocityY: c.Velocity.Y,
		Deferred:  c.Deferred,
	}
}
