package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/vanetsim/pseudosim/pkg/streaming"
)

const (
	sendQueue    = 10_000
	ackQueue     = 16
	controlQueue = 64
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
	ackTimeout   = 10 * time.Second
	pingPeriod   = 20 * time.Second
	pongWait     = pingPeriod * 3 / 2
)

// inbound is any message the renderer sends; acks and controls share the type field.
type inbound struct {
	Type    string   `json:"type"`
	For     string   `json:"for"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// replay holds what a renderer needs after a reconnect: the start_run of the
// current run and the latest tick, so it can draw the present state at once.
type replay struct {
	start []byte
	tick  []byte
}

// connection owns one renderer socket. A single goroutine writes; another
// reads acks and controls. Controls run on their own goroutine so a handler
// waiting on an ack (stop ends the run) cannot block the reader.
type connection struct {
	mu     sync.Mutex
	conn   *ws.Conn
	replay replay
	closed bool

	out      chan []byte
	acks     chan streaming.AckMessage
	controls chan streaming.ControlMessage
	done     chan struct{}

	wsURL  string
	secret string

	onControl func(streaming.ControlMessage)
	logger    *slog.Logger
}

func newConnection(logger *slog.Logger, onControl func(streaming.ControlMessage)) *connection {
	c := &connection{
		out:       make(chan []byte, sendQueue),
		acks:      make(chan streaming.AckMessage, ackQueue),
		controls:  make(chan streaming.ControlMessage, controlQueue),
		done:      make(chan struct{}),
		onControl: onControl,
		logger:    logger,
	}
	go c.controlLoop()
	return c
}

// dial connects and starts the read and write loops.
func (c *connection) dial(rawURL, secret string) error {
	c.wsURL = rawURL
	c.secret = secret

	conn, err := c.open()
	if err != nil {
		return err
	}
	c.attach(conn)
	return nil
}

// open dials once, passing the API secret as a query parameter.
func (c *connection) open() (*ws.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if c.secret != "" {
		q := u.Query()
		q.Set("secret", c.secret)
		u.RawQuery = q.Encode()
	}

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return conn, nil
}

func (c *connection) attach(conn *ws.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	go c.writeLoop(conn)
	go c.readLoop(conn)
}

func (c *connection) current() *ws.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// writeLoop sends queued messages and keepalive pings on conn until it fails
// or the connection shuts down.
func (c *connection) writeLoop(conn *ws.Conn) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		var err error
		select {
		case <-c.done:
			return
		case data := <-c.out:
			err = write(conn, ws.TextMessage, data)
		case <-ping.C:
			err = write(conn, ws.PingMessage, nil)
		}
		if err != nil {
			c.logger.Warn("WebSocket write error", "error", err)
			go c.reconnect(conn)
			return
		}
	}
}

func write(conn *ws.Conn, kind int, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(kind, data)
}

// readLoop routes acks to waiting senders and controls to controlLoop.
func (c *connection) readLoop(conn *ws.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("WebSocket read error", "error", err)
			go c.reconnect(conn)
			return
		}

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Debug("Unparseable message received", "raw", string(message))
			continue
		}

		switch msg.Type {
		case streaming.TypeAck:
			select {
			case c.acks <- streaming.AckMessage{Type: msg.Type, For: msg.For}:
			default:
				c.logger.Debug("Ack queue full, dropping", "for", msg.For)
			}
		case streaming.TypeControl:
			select {
			case c.controls <- streaming.ControlMessage{Type: msg.Type, Command: msg.Command, Args: msg.Args}:
			default:
				c.logger.Warn("Control queue full, dropping", "command", msg.Command)
			}
		default:
			c.logger.Debug("Ignoring message", "type", msg.Type)
		}
	}
}

// controlLoop runs control callbacks one at a time, in arrival order.
func (c *connection) controlLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.controls:
			if c.onControl != nil {
				c.onControl(msg)
			}
		}
	}
}

// reconnect replaces a failed socket. Both loops may report the same failure;
// only the first call for a given socket acts. On success the current run's
// start_run and latest tick are replayed before normal traffic resumes.
func (c *connection) reconnect(failed *ws.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != failed {
		c.mu.Unlock()
		return
	}
	_ = c.conn.Close()
	c.conn = nil
	c.mu.Unlock()

	backoff := time.Second
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		c.logger.Info("Reconnecting to WebSocket", "attempt", attempt)
		conn, err := c.open()
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		c.mu.Lock()
		r := c.replay
		c.mu.Unlock()
		if err := replayRun(conn, r); err != nil {
			c.logger.Warn("Failed to replay run after reconnect", "error", err)
			_ = conn.Close()
			continue
		}

		c.logger.Info("WebSocket reconnected", "attempt", attempt)
		c.attach(conn)
		return
	}

	c.logger.Error("WebSocket reconnect failed after max attempts", "maxAttempts", maxReconnect)
}

func replayRun(conn *ws.Conn, r replay) error {
	for _, data := range [][]byte{r.start, r.tick} {
		if data == nil {
			continue
		}
		if err := write(conn, ws.TextMessage, data); err != nil {
			return err
		}
	}
	return nil
}

// startRun remembers the run announcement for replay and forgets the
// previous run's last tick.
func (c *connection) startRun(data []byte) {
	c.mu.Lock()
	c.replay = replay{start: data}
	c.mu.Unlock()
}

func (c *connection) latestTick(data []byte) {
	c.mu.Lock()
	if c.replay.start != nil {
		c.replay.tick = data
	}
	c.mu.Unlock()
}

func (c *connection) endRun() {
	c.mu.Lock()
	c.replay = replay{}
	c.mu.Unlock()
}

// send queues data without blocking and reports whether it was accepted.
func (c *connection) send(data []byte) bool {
	select {
	case c.out <- data:
		return true
	default:
		return false
	}
}

// sendAndWait queues data and waits for the renderer's ack of ackFor.
func (c *connection) sendAndWait(data []byte, ackFor string, timeout time.Duration) error {
	if !c.send(data) {
		return fmt.Errorf("send queue full, %q not sent", ackFor)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-c.acks:
			if ack.For == ackFor {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", ackFor)
		case <-c.done:
			return fmt.Errorf("connection closed while waiting for ack of %q", ackFor)
		}
	}
}

// close sends a close frame and stops every loop.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = write(conn, ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
	return conn.Close()
}
