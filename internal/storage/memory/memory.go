package memory

import (
	"errors"
	"sync"
	"time"

	"github.com/vanetsim/pseudosim/internal/config"
	"github.com/vanetsim/pseudosim/pkg/core"
)

// ErrNoRun is returned when recording before StartRun.
var ErrNoRun = errors.New("no run started")

// TrackRecord groups every public position a pseudonym was seen at
type TrackRecord struct {
	Pseudonym core.Pseudonym
	States    []TrackState
}

// TrackState is one tick of a pseudonym's public track
type TrackState struct {
	Tick     core.SimTime
	Position core.Position
	Speed    float64
	State    core.PrivacyState
	Active   bool
}

// Backend stores run data in memory and exports to JSON
type Backend struct {
	cfg       config.MemoryConfig
	run       *core.Run
	startTime time.Time

	tracks   map[core.Pseudonym]*TrackRecord
	order    []core.Pseudonym // first-seen order of tracks
	rsus     []core.RSUView
	ticks    []TickStats
	clusters []core.TrajectoryCluster
	endTick  core.SimTime
	summary  *core.Evaluation

	lastExportPath string
	mu             sync.RWMutex
}

// TickStats is the per-tick estimator record kept for the export
type TickStats struct {
	Tick     core.SimTime        `json:"tick"`
	Samples  int                 `json:"samples"`
	Clusters int                 `json:"clusters"`
	Stats    core.EstimatorStats `json:"stats"`
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:    cfg,
		tracks: make(map[core.Pseudonym]*TrackRecord),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartRun begins recording a new run
func (b *Backend) StartRun(run *core.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := *run
	b.run = &r
	b.startTime = time.Now()

	// Reset all collections
	b.tracks = make(map[core.Pseudonym]*TrackRecord)
	b.order = nil
	b.rsus = nil
	b.ticks = nil
	b.clusters = nil
	b.endTick = 0
	b.summary = nil

	return nil
}

// EndRun finalizes and exports the run data
func (b *Backend) EndRun(summary *core.Evaluation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.run == nil {
		return ErrNoRun
	}
	if summary != nil {
		s := *summary
		b.summary = &s
	}
	return b.exportJSON()
}

// RecordTick appends the public state of one tick
func (b *Backend) RecordTick(snap *core.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.run == nil {
		return ErrNoRun
	}

	if b.rsus == nil {
		b.rsus = append([]core.RSUView{}, snap.RSUs...)
	}
	for _, v := range snap.Vehicles {
		rec, ok := b.tracks[v.Pseudonym]
		if !ok {
			rec = &TrackRecord{Pseudonym: v.Pseudonym}
			b.tracks[v.Pseudonym] = rec
			b.order = append(b.order, v.Pseudonym)
		}
		rec.States = append(rec.States, TrackState{
			Tick:     snap.Tick,
			Position: v.Position,
			Speed:    v.Speed,
			State:    v.State,
			Active:   v.Active,
		})
	}
	b.ticks = append(b.ticks, TickStats{
		Tick:     snap.Tick,
		Samples:  snap.Samples,
		Clusters: len(snap.Clusters),
		Stats:    snap.Stats,
	})
	b.clusters = snap.Clusters
	b.endTick = snap.Tick
	return nil
}

// GetTrack returns the recorded track of a pseudonym
func (b *Backend) GetTrack(p core.Pseudonym) (*TrackRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.tracks[p]
	return rec, ok
}

// TickCount returns how many ticks were recorded for the current run
func (b *Backend) TickCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.ticks)
}

// ExportedFilePath returns the path of the last exported file
func (b *Backend) ExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}
