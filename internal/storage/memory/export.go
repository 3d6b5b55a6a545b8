package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vanetsim/pseudosim/pkg/core"
)

// RunExport is the root JSON structure
type RunExport struct {
	Run        core.Run                 `json:"run"`
	StartTime  time.Time                `json:"startTime"`
	EndTick    core.SimTime             `json:"endTick"`
	Evaluation *core.Evaluation         `json:"evaluation,omitempty"`
	RSUs       []core.RSUView           `json:"rsus"`
	Tracks     []TrackJSON              `json:"tracks"`
	Ticks      []TickStats              `json:"ticks"`
	Clusters   []core.TrajectoryCluster `json:"clusters"`
}

// TrackJSON is the public track of one pseudonym
type TrackJSON struct {
	Pseudonym core.Pseudonym `json:"pseudonym"`
	FirstTick core.SimTime   `json:"firstTick"`
	LastTick  core.SimTime   `json:"lastTick"`
	// Positions rows are [tick, [x, y], speed, state, active]
	Positions [][]any `json:"positions"`
}

// exportJSON writes the run data to a JSON file, gzipped if configured
func (b *Backend) exportJSON() error {
	export := b.buildExport()

	timestamp := b.startTime.Format("20060102_150405")
	var filename string
	if b.cfg.CompressOutput {
		filename = fmt.Sprintf("run_%s_%s.json.gz", b.run.ID, timestamp)
	} else {
		filename = fmt.Sprintf("run_%s_%s.json", b.run.ID, timestamp)
	}

	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	// Ensure output directory exists
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// Write file
	if b.cfg.CompressOutput {
		if err := b.writeGzipJSON(outputPath, export); err != nil {
			return err
		}
	} else {
		if err := b.writeJSON(outputPath, export); err != nil {
			return err
		}
	}

	b.lastExportPath = outputPath
	return nil
}

func (b *Backend) buildExport() RunExport {
	export := RunExport{
		Run:        *b.run,
		StartTime:  b.startTime.UTC(),
		EndTick:    b.endTick,
		Evaluation: b.summary,
		RSUs:       b.rsus,
		Tracks:     make([]TrackJSON, 0, len(b.order)),
		Ticks:      b.ticks,
		Clusters:   b.clusters,
	}
	if export.RSUs == nil {
		export.RSUs = []core.RSUView{}
	}
	if export.Ticks == nil {
		export.Ticks = []TickStats{}
	}
	if export.Clusters == nil {
		export.Clusters = []core.TrajectoryCluster{}
	}

	for _, p := range b.order {
		record := b.tracks[p]
		track := TrackJSON{
			Pseudonym: p,
			Positions: make([][]any, 0, len(record.States)),
		}
		for i, state := range record.States {
			if i == 0 {
				track.FirstTick = state.Tick
			}
			track.LastTick = state.Tick
			track.Positions = append(track.Positions, []any{
				state.Tick,
				[]float64{state.Position.X, state.Position.Y},
				state.Speed,
				state.State.String(),
				boolToInt(state.Active),
			})
		}
		export.Tracks = append(export.Tracks, track)
	}

	return export
}

func (b *Backend) writeJSON(path string, data RunExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	return encoder.Encode(data)
}

func (b *Backend) writeGzipJSON(path string, data RunExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	defer gzWriter.Close()

	encoder := json.NewEncoder(gzWriter)
	return encoder.Encode(data)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
