// pkg/core/snapshot.go
package core

// VehicleView is what the rendering side may see of a vehicle.
// The physical ID is deliberately absent.
type VehicleView struct {
	Pseudonym Pseudonym    `json:"pseudonym"`
	Position  Position     `json:"position"`
	Speed     float64      `json:"speed"`
	Heading   float64      `json:"heading"`
	State     PrivacyState `json:"state"`
	Active    bool         `json:"active"`
}

// RSUView is the public view of an RSU.
type RSUView struct {
	ID       EntityID `json:"id"`
	Position Position `json:"position"`
	Radius   float64  `json:"radius"`
	Role     RSURole  `json:"role"`
}

// Snapshot is the read-only per-tick state handed to reporting collaborators.
type Snapshot struct {
	RunID    string              `json:"runId"`
	Tick     SimTime             `json:"tick"`
	Vehicles []VehicleView       `json:"vehicles"`
	RSUs     []RSUView           `json:"rsus"`
	Clusters []TrajectoryCluster `json:"clusters"`
	Samples  int                 `json:"samples"`
	Stats    EstimatorStats      `json:"stats"`
}

// Run describes one simulation run for recording backends.
type Run struct {
	ID        string  `json:"id"`
	Seed      int64   `json:"seed"`
	TickMs    int64   `json:"tickMs"`
	Strategy  string  `json:"strategy"`
	MapWidth  float64 `json:"mapWidth"`
	MapHeight float64 `json:"mapHeight"`
	Vehicles  int     `json:"vehicles"`
	RSUs      int     `json:"rsus"`
}

// Evaluation scores the attacker's clusters against ground truth.
type Evaluation struct {
	Vehicles     int     `json:"vehicles"`
	Changes      int     `json:"changes"`      // pseudonym changes that actually happened
	Clusters     int     `json:"clusters"`
	CorrectLinks int     `json:"correctLinks"` // consecutive pseudonyms linked and held by one vehicle
	FalseLinks   int     `json:"falseLinks"`   // consecutive pseudonyms linked across vehicles
	Unresolved   int     `json:"unresolved"`   // linked pseudonyms the registry never issued
	MeanPurity   float64 `json:"meanPurity"`
	LinkRate     float64 `json:"linkRate"` // CorrectLinks / Changes
}
