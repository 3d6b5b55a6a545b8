package memory

import (
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vanetsim/pseudosim/internal/config"
	"github.com/vanetsim/pseudosim/pkg/core"
)

func TestBoolToInt(t *testing.T) {
	tests := []struct {
		input    bool
		expected int
	}{
		{true, 1},
		{false, 0},
	}

	for _, tt := range tests {
		result := boolToInt(tt.input)
		if result != tt.expected {
			t.Errorf("boolToInt(%v) = %d, want %d", tt.input, result, tt.expected)
		}
	}
}

func recordedBackend(cfg config.MemoryConfig) *Backend {
	b := New(cfg)
	_ = b.StartRun(testRun())
	_ = b.RecordTick(snapshot(1000,
		core.VehicleView{Pseudonym: 0xa1, Position: core.Position{X: 1000, Y: 350}, Speed: 1000, Active: true}))
	s := snapshot(2000,
		core.VehicleView{Pseudonym: 0xa1, Position: core.Position{X: 2000, Y: 350}, Speed: 1000, State: core.StateSilent, Active: true})
	s.Clusters = []core.TrajectoryCluster{{ID: 1, Links: []core.Link{{Pseudonym: 0xa1, From: 1000, To: 1000}}}}
	_ = b.RecordTick(s)
	return b
}

func TestBuildExport(t *testing.T) {
	b := recordedBackend(config.MemoryConfig{})
	b.summary = &core.Evaluation{Vehicles: 1}

	export := b.buildExport()

	if export.Run.ID != "run-1" {
		t.Errorf("expected run-1, got %s", export.Run.ID)
	}
	if export.EndTick != 2000 {
		t.Errorf("expected EndTick=2000, got %d", export.EndTick)
	}
	if len(export.Tracks) != 1 {
		t.Fatalf("expected 1 track, got %d", len(export.Tracks))
	}
	track := export.Tracks[0]
	if track.FirstTick != 1000 || track.LastTick != 2000 {
		t.Errorf("expected track span 1000..2000, got %d..%d", track.FirstTick, track.LastTick)
	}
	// [tick, [x, y], speed, state, active]
	row := track.Positions[1]
	if row[0] != core.SimTime(2000) {
		t.Errorf("expected tick 2000, got %v", row[0])
	}
	if pos := row[1].([]float64); pos[0] != 2000 || pos[1] != 350 {
		t.Errorf("expected [2000 350], got %v", pos)
	}
	if row[3] != "silent" {
		t.Errorf("expected state silent, got %v", row[3])
	}
	if row[4] != 1 {
		t.Errorf("expected active=1, got %v", row[4])
	}
	if len(export.Ticks) != 2 || export.Ticks[1].Clusters != 1 {
		t.Errorf("unexpected tick stats: %+v", export.Ticks)
	}
	if len(export.RSUs) != 1 {
		t.Errorf("expected 1 RSU, got %d", len(export.RSUs))
	}
	if export.Evaluation == nil || export.Evaluation.Vehicles != 1 {
		t.Errorf("expected evaluation, got %+v", export.Evaluation)
	}
}

func TestExportJSON(t *testing.T) {
	dir := t.TempDir()
	b := recordedBackend(config.MemoryConfig{OutputDir: dir})

	if err := b.EndRun(&core.Evaluation{Vehicles: 1}); err != nil {
		t.Fatalf("EndRun failed: %v", err)
	}

	path := b.ExportedFilePath()
	if !strings.HasSuffix(path, ".json") || !strings.HasPrefix(filepath.Base(path), "run_run-1_") {
		t.Errorf("unexpected export path %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read export: %v", err)
	}
	var export map[string]any
	if err := json.Unmarshal(data, &export); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	tracks := export["tracks"].([]any)
	if got := tracks[0].(map[string]any)["pseudonym"]; got != "00000000000000a1" {
		t.Errorf("expected hex pseudonym, got %v", got)
	}
	if _, ok := export["evaluation"]; !ok {
		t.Error("expected evaluation in export")
	}
}

func TestExportGzipJSON(t *testing.T) {
	dir := t.TempDir()
	b := recordedBackend(config.MemoryConfig{OutputDir: dir, CompressOutput: true})

	if err := b.EndRun(nil); err != nil {
		t.Fatalf("EndRun failed: %v", err)
	}

	path := b.ExportedFilePath()
	if !strings.HasSuffix(path, ".json.gz") {
		t.Errorf("expected .json.gz, got %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open export: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("not gzip: %v", err)
	}
	defer gz.Close()

	var export RunExport
	if err := json.NewDecoder(gz).Decode(&export); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if export.Run.Seed != 7 {
		t.Errorf("expected seed 7, got %d", export.Run.Seed)
	}
	if export.Evaluation != nil {
		t.Error("expected no evaluation")
	}
	if len(export.Clusters) != 1 {
		t.Errorf("expected 1 cluster, got %d", len(export.Clusters))
	}
}

func TestExportCreatesOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "runs")
	b := recordedBackend(config.MemoryConfig{OutputDir: dir})

	if err := b.EndRun(nil); err != nil {
		t.Fatalf("EndRun failed: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("output dir not created: %v", err)
	}
}

func TestEmptyExport(t *testing.T) {
	b := New(config.MemoryConfig{})
	_ = b.StartRun(testRun())

	export := b.buildExport()
	if export.Tracks == nil || export.Ticks == nil || export.Clusters == nil || export.RSUs == nil {
		t.Error("expected empty slices, not nil, so JSON renders []")
	}
}
