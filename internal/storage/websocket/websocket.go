package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/vanetsim/pseudosim/pkg/core"
	"github.com/vanetsim/pseudosim/pkg/streaming"
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string
	// OnControl receives commands the renderer sends back. Optional.
	OnControl func(streaming.ControlMessage)
	Logger    *slog.Logger
}

// Backend streams snapshots over WebSocket to a live renderer.
// It implements storage.Backend but not storage.Exporter.
type Backend struct {
	conn    *connection
	cfg     Config
	runID   atomic.Value // string
	dropped atomic.Uint64
}

// New creates a new WebSocket storage backend.
func New(cfg Config) *Backend {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		conn: newConnection(logger, cfg.OnControl),
		cfg:  cfg,
	}
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	return b.conn.close()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := streaming.Envelope{Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// StartRun sends the run description and waits for server ack.
func (b *Backend) StartRun(run *core.Run) error {
	data, err := marshalEnvelope(streaming.TypeStartRun, streaming.StartRunPayload{Run: run})
	if err != nil {
		return err
	}

	b.conn.startRun(data)
	b.runID.Store(run.ID)

	return b.conn.sendAndWait(data, streaming.TypeStartRun, ackTimeout)
}

// EndRun sends end_run with the evaluation and waits for server ack.
func (b *Backend) EndRun(summary *core.Evaluation) error {
	runID, _ := b.runID.Load().(string)
	data, err := marshalEnvelope(streaming.TypeEndRun, streaming.EndRunPayload{RunID: runID, Evaluation: summary})
	if err != nil {
		return err
	}
	err = b.conn.sendAndWait(data, streaming.TypeEndRun, ackTimeout)
	b.conn.endRun()
	return err
}

// RecordTick streams the snapshot fire-and-forget. A full send queue drops
// the tick; renderers only need the latest state, which is also kept for
// replay after a reconnect.
func (b *Backend) RecordTick(snap *core.Snapshot) error {
	data, err := marshalEnvelope(streaming.TypeTick, snap)
	if err != nil {
		return err
	}
	b.conn.latestTick(data)
	if !b.conn.send(data) {
		b.dropped.Add(1)
	}
	return nil
}

// Dropped is the number of ticks lost to a full send buffer.
func (b *Backend) Dropped() uint64 {
	return b.dropped.Load()
}
