// Package streaming defines the JSON messages exchanged with a live renderer.
package streaming

import (
	"encoding/json"

	"github.com/vanetsim/pseudosim/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	TypeStartRun = "start_run"
	TypeEndRun   = "end_run"
	TypeTick     = "tick"
	TypeAck      = "ack"
	TypeControl  = "control"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// ControlMessage is a command the renderer sends back, e.g. pause or step.
type ControlMessage struct {
	Type    string   `json:"type"` // always "control"
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// StartRunPayload describes the run about to stream.
type StartRunPayload struct {
	Run *core.Run `json:"run"`
}

// EndRunPayload closes a run with its privacy evaluation, if any.
type EndRunPayload struct {
	RunID      string           `json:"runId"`
	Evaluation *core.Evaluation `json:"evaluation,omitempty"`
}
