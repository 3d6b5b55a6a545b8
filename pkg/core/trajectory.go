// pkg/core/trajectory.go
package core

import "fmt"

// Strategy selects how the attacker turns samples into positions.
type Strategy uint8

const (
	// StrategyCoarse marks a fix that is only the position of the observer that heard the vehicle.
	StrategyCoarse Strategy = iota
	StrategyTrilateration
	StrategyMovementPrediction
)

func (s Strategy) String() string {
	switch s {
	case StrategyCoarse:
		return "coarse"
	case StrategyTrilateration:
		return "trilateration"
	case StrategyMovementPrediction:
		return "movement-prediction"
	default:
		return fmt.Sprintf("strategy(%d)", uint8(s))
	}
}

// ParseStrategy maps a configuration name to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "trilateration", "multilateration":
		return StrategyTrilateration, nil
	case "movement-prediction", "prediction":
		return StrategyMovementPrediction, nil
	}
	return 0, fmt.Errorf("unknown attacker strategy %q", s)
}

// ClusterID identifies an inferred physical vehicle.
type ClusterID uint64

// Fix is an accepted position estimate.
type Fix struct {
	Tick     SimTime  `json:"tick"`
	Position Position `json:"position"`
	Residual float64  `json:"residual"`
	Strategy Strategy `json:"strategy"`
}

// Link is one pseudonym the attacker attributes to a cluster, with the span it was observed.
type Link struct {
	Pseudonym Pseudonym `json:"pseudonym"`
	From      SimTime   `json:"from"`
	To        SimTime   `json:"to"`
}

// TrajectoryCluster is the attacker's belief that a sequence of pseudonyms belongs
// to one physical vehicle.
type TrajectoryCluster struct {
	ID       ClusterID `json:"id"`
	Links    []Link    `json:"links"`
	Fixes    []Fix     `json:"fixes,omitempty"`
	Velocity Position  `json:"velocity"`
	Deferred bool      `json:"deferred,omitempty"`
}

// LastFix returns the most recent fix, if any.
func (c *TrajectoryCluster) LastFix() (Fix, bool) {
	if len(c.Fixes) == 0 {
		return Fix{}, false
	}
	return c.Fixes[len(c.Fixes)-1], true
}

// Current returns the most recently linked pseudonym.
func (c *TrajectoryCluster) Current() Pseudonym {
	if len(c.Links) == 0 {
		return 0
	}
	return c.Links[len(c.Links)-1].Pseudonym
}

// FirstSeen returns the first observation tick of the cluster.
func (c *TrajectoryCluster) FirstSeen() SimTime {
	if len(c.Links) == 0 {
		return 0
	}
	return c.Links[0].From
}

// LastSeen returns the last observation tick of the cluster.
func (c *TrajectoryCluster) LastSeen() SimTime {
	if len(c.Links) == 0 {
		return 0
	}
	return c.Links[len(c.Links)-1].To
}

// EstimatorStats counts estimator outcomes.
type EstimatorStats struct {
	SamplesConsumed    uint64  `json:"samplesConsumed"`
	CalibrationSamples uint64  `json:"calibrationSamples"`
	Fixes              uint64  `json:"fixes"`
	Inconclusive       uint64  `json:"inconclusive"`
	Deferred           uint64  `json:"deferred"`
	Merged             uint64  `json:"merged"`
	ClustersSeeded     uint64  `json:"clustersSeeded"`
	CalibratedExponent float64 `json:"calibratedExponent"`
}
