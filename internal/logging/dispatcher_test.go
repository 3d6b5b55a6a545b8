package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output %q: %v", buf.String(), err)
	}
	return entry
}

func TestDispatcherLogger_Levels(t *testing.T) {
	tests := []struct {
		name  string
		log   func(*DispatcherLogger)
		level string
	}{
		{"debug", func(l *DispatcherLogger) { l.Debug("event dispatched", "command", ":STEP:") }, "debug"},
		{"info", func(l *DispatcherLogger) { l.Info("event dispatched", "command", ":STEP:") }, "info"},
		{"error", func(l *DispatcherLogger) { l.Error("event dispatched", "command", ":STEP:") }, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(NewDispatcherLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))

			entry := decode(t, &buf)
			if entry["level"] != tt.level {
				t.Errorf("expected level %q, got %v", tt.level, entry["level"])
			}
			if entry["message"] != "event dispatched" {
				t.Errorf("expected message 'event dispatched', got %v", entry["message"])
			}
			if entry["command"] != ":STEP:" {
				t.Errorf("expected command=:STEP:, got %v", entry["command"])
			}
			if entry["component"] != "dispatcher" {
				t.Errorf("expected component=dispatcher, got %v", entry["component"])
			}
		})
	}
}

func TestDispatcherLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf).Level(zerolog.InfoLevel))

	dl.Debug("should not appear", "key", "value")

	if buf.Len() != 0 {
		t.Errorf("expected no output for debug at info level, got %q", buf.String())
	}
}

func TestDispatcherLogger_ValueTypes(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf))

	dl.Error("handler failed",
		"error", errors.New("queue full"),
		"duration", 1500*time.Millisecond,
		"queued", 42,
	)

	entry := decode(t, &buf)
	if entry["error"] != "queue full" {
		t.Errorf("expected error='queue full', got %v", entry["error"])
	}
	if entry["duration"] != "1.5s" {
		t.Errorf("expected duration='1.5s', got %v", entry["duration"])
	}
	if entry["queued"] != float64(42) {
		t.Errorf("expected queued=42, got %v", entry["queued"])
	}
}

func TestDispatcherLogger_BadPairs(t *testing.T) {
	tests := []struct {
		name string
		kv   []any
		want map[string]any
	}{
		{"dangling value", []any{"command", ":STOP:", "orphan"}, map[string]any{"command": ":STOP:", "!BADKEY": "orphan"}},
		{"non-string key", []any{42, "command", ":STOP:"}, map[string]any{"command": ":STOP:", "!BADKEY": float64(42)}},
		{"empty", nil, map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			NewDispatcherLogger(zerolog.New(&buf)).Info("msg", tt.kv...)

			entry := decode(t, &buf)
			for k, v := range tt.want {
				if entry[k] != v {
					t.Errorf("expected %s=%v, got %v", k, v, entry[k])
				}
			}
		})
	}
}
