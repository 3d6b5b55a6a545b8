package storage

import "github.com/vanetsim/pseudosim/pkg/core"

// Backend is the interface all run recording implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Run management
	StartRun(run *core.Run) error
	EndRun(summary *core.Evaluation) error

	// State recording
	RecordTick(snap *core.Snapshot) error
}

// Exporter is an optional interface for backends that produce a file
// once a run has ended.
type Exporter interface {
	ExportedFilePath() string
}
