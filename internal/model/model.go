package model

import (
	"database/sql"
	"errors"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []any{
	&Run{},
	&RSU{},
	&VehicleState{},
	&EstimatorTick{},
	&Cluster{},
	&Performance{},
}

////////////////////////
// SYSTEM MODELS
////////////////////////

// Performance is the model for recorder performance metrics
type Performance struct {
	Time                time.Time         `json:"time" gorm:"type:timestamptz;index:idx_time"`
	RunID               uint              `json:"runId" gorm:"index:idx_performance_run_id"`
	Run                 Run               `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	Tick                int64             `json:"tick"`
	TickDurationMs      float32           `json:"tickDurationMs"`
	WriteQueueLengths   WriteQueueLengths `json:"writeQueueLengths" gorm:"embedded;embeddedPrefix:writequeue_"`
	LastWriteDurationMs float32           `json:"lastWriteDurationMs"`
}

func (*Performance) TableName() string {
	return "performances"
}

// WriteQueueLengths is the model for the write queue lengths
type WriteQueueLengths struct {
	VehicleStates  int `json:"vehicleStates"`
	EstimatorTicks int `json:"estimatorTicks"`
	Performances   int `json:"performances"`
}

////////////////////////
// RECORDING MODELS
////////////////////////

// Run is one simulation run. RunUUID is the identifier the simulation hands out;
// a reset starts a new run.
type Run struct {
	gorm.Model
	RunUUID    string       `json:"runId" gorm:"size:36;uniqueIndex:idx_run_uuid"`
	Seed       int64        `json:"seed"`
	TickMs     int64        `json:"tickMs"`
	Strategy   string       `json:"strategy" gorm:"size:32"`
	MapWidth   float64      `json:"mapWidth"`  // cm
	MapHeight  float64      `json:"mapHeight"` // cm
	Vehicles   int          `json:"vehicles"`
	RSUs       int          `json:"rsus"`
	StartTime  time.Time    `json:"startTime" gorm:"type:timestamptz;index:idx_run_start"`
	EndTime    sql.NullTime `json:"endTime" gorm:"type:timestamptz"`
	Evaluation Evaluation   `json:"evaluation" gorm:"embedded;embeddedPrefix:eval_"`

	VehicleStates  []VehicleState  `json:"-"`
	EstimatorTicks []EstimatorTick `json:"-"`
	Clusters       []Cluster       `json:"-"`
}

func (*Run) TableName() string {
	return "runs"
}

// GetOrInsert loads the run with the same RunUUID, inserting r if none exists.
func (r *Run) GetOrInsert(db *gorm.DB) (
	created bool,
	err error,
) {
	var existing Run
	err = db.Where("run_uuid = ?", r.RunUUID).First(&existing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = db.Create(r).Error
			return true, err
		}
		return false, err
	}
	// overwrite with db record if found
	*r = existing
	return false, nil
}

// Evaluation is the privacy score stored with a finished run
type Evaluation struct {
	Vehicles     int     `json:"vehicles"`
	Changes      int     `json:"changes"`
	Clusters     int     `json:"clusters"`
	CorrectLinks int     `json:"correctLinks"`
	FalseLinks   int     `json:"falseLinks"`
	Unresolved   int     `json:"unresolved"`
	MeanPurity   float64 `json:"meanPurity"`
	LinkRate     float64 `json:"linkRate"`
}

// RSU is a fixed roadside unit of a run
type RSU struct {
	RunID    uint       `json:"runId" gorm:"primaryKey;autoIncrement:false"`
	ObjectID uint64     `json:"rsuId" gorm:"primaryKey;autoIncrement:false"`
	Run      Run        `json:"-" gorm:"foreignkey:RunID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Position geom.Point `json:"position"`
	Radius   float64    `json:"radius"`                  // cm
	Role     string     `json:"role" gorm:"size:16"`     // benign or attacker
}

func (*RSU) TableName() string {
	return "rsus"
}

// VehicleState is the public view of one vehicle at one tick.
// Physical identities are never stored.
type VehicleState struct {
	ID        uint       `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time  `json:"time" gorm:"type:timestamptz;"` // wall clock when the state was recorded
	RunID     uint       `json:"runId" gorm:"index:idx_vehiclestate_run_id"`
	Run       Run        `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	Tick      int64      `json:"tick" gorm:"index:idx_vehiclestate_tick"`
	Pseudonym string     `json:"pseudonym" gorm:"size:16;index:idx_vehiclestate_pseudonym"` // hex
	Position  geom.Point `json:"position"`
	Speed     float64    `json:"speed"`   // cm/s
	Heading   float64    `json:"heading"` // radians
	State     string     `json:"state" gorm:"size:16"`
	Active    bool       `json:"active"`
}

func (*VehicleState) TableName() string {
	return "vehicle_states"
}

// EstimatorTick holds the attacker counters after one tick
type EstimatorTick struct {
	ID                 uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time               time.Time `json:"time" gorm:"type:timestamptz;"`
	RunID              uint      `json:"runId" gorm:"index:idx_estimatortick_run_id"`
	Run                Run       `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	Tick               int64     `json:"tick" gorm:"index:idx_estimatortick_tick"`
	Samples            int       `json:"samples"`
	Clusters           int       `json:"clusters"`
	SamplesConsumed    uint64    `json:"samplesConsumed"`
	CalibrationSamples uint64    `json:"calibrationSamples"`
	Fixes              uint64    `json:"fixes"`
	Inconclusive       uint64    `json:"inconclusive"`
	Deferred           uint64    `json:"deferred"`
	Merged             uint64    `json:"merged"`
	ClustersSeeded     uint64    `json:"clustersSeeded"`
	CalibratedExponent float64   `json:"calibratedExponent"`
}

func (*EstimatorTick) TableName() string {
	return "estimator_ticks"
}

// Cluster is the attacker's final belief about one physical vehicle
type Cluster struct {
	RunID     uint            `json:"runId" gorm:"primaryKey;autoIncrement:false"`
	ClusterID uint64          `json:"clusterId" gorm:"primaryKey;autoIncrement:false"`
	Run       Run             `json:"-" gorm:"foreignkey:RunID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Tick      int64           `json:"tick"`                                 // tick the cluster was last written
	Links     datatypes.JSON  `json:"links" gorm:"type:jsonb;default:'[]'"` // ordered pseudonym links
	Track     geom.LineString `json:"track"`                                // accepted fixes in order
	FirstSeen int64           `json:"firstSeen"`
	LastSeen  int64           `json:"lastSeen"`
	VelocityX float64         `json:"velocityX"`
	VelocityY float64         `json:"velocityY"`
	Deferred  bool            `json:"deferred"`
}

func (*Cluster) TableName() string {
	return "clusters"
}
