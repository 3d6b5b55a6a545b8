// Package dispatcher routes simulation control commands and tick records to
// registered handlers, either inline or through per-command queues.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrClosed is returned for events sent to a queued handler after Close.
var ErrClosed = errors.New("dispatcher closed")

// Event is one command. Args carries textual parameters from the CLI or a
// renderer; Payload carries typed data such as a tick snapshot.
type Event struct {
	Command   string
	Args      []string
	Payload   any
	Timestamp time.Time
}

// HandlerFunc processes an event and returns a result.
type HandlerFunc func(Event) (any, error)

// Logger is the logging surface the dispatcher needs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type queue struct {
	events chan Event
}

// Dispatcher routes events to registered handlers. Handlers are registered
// before the first Dispatch.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	logger   Logger

	queued    metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter
	handled   metric.Float64Histogram
	waited    metric.Float64Histogram

	mu     sync.RWMutex
	queues map[string]*queue
	closed bool
	wg     sync.WaitGroup
}

// New creates a Dispatcher reporting to the global OTel meter, which is a
// no-op until a provider is installed.
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		queues:   make(map[string]*queue),
		logger:   logger,
	}
	if err := d.instrument(meter()); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dispatcher) instrument(m metric.Meter) error {
	var err error
	if d.queued, err = m.Int64ObservableGauge("dispatcher.queue.size",
		metric.WithDescription("Events waiting in a command queue")); err != nil {
		return fmt.Errorf("creating queue size gauge: %w", err)
	}
	if _, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		d.mu.RLock()
		defer d.mu.RUnlock()
		for cmd, q := range d.queues {
			o.ObserveInt64(d.queued, int64(len(q.events)), metric.WithAttributes(attribute.String("command", cmd)))
		}
		return nil
	}, d.queued); err != nil {
		return fmt.Errorf("registering queue callback: %w", err)
	}
	if d.processed, err = m.Int64Counter("dispatcher.events.processed",
		metric.WithDescription("Queued events handled")); err != nil {
		return fmt.Errorf("creating processed counter: %w", err)
	}
	if d.dropped, err = m.Int64Counter("dispatcher.events.dropped",
		metric.WithDescription("Events dropped because a non-blocking queue was full")); err != nil {
		return fmt.Errorf("creating dropped counter: %w", err)
	}
	if d.handled, err = m.Float64Histogram("dispatcher.event.duration",
		metric.WithDescription("Time spent in a handler"), metric.WithUnit("s")); err != nil {
		return fmt.Errorf("creating duration histogram: %w", err)
	}
	if d.waited, err = m.Float64Histogram("dispatcher.event.wait",
		metric.WithDescription("Time a queued event waited before its handler ran"), metric.WithUnit("s")); err != nil {
		return fmt.Errorf("creating wait histogram: %w", err)
	}
	return nil
}

// Register adds the handler for command. Logging wraps the queue, so a
// logged queued handler logs the enqueue, not the run.
func (d *Dispatcher) Register(command string, h HandlerFunc, opts ...Option) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if o.queue > 0 {
		h = d.enqueue(command, o.queue, o.blocking, h)
	}
	if o.logged {
		h = d.logged(command, h)
	}
	d.handlers[command] = h
}

// Dispatch routes an event to its handler.
func (d *Dispatcher) Dispatch(e Event) (any, error) {
	h, ok := d.handlers[e.Command]
	if !ok {
		return nil, fmt.Errorf("unknown command: %s", e.Command)
	}
	return h(e)
}

// HasHandler reports whether command is registered.
func (d *Dispatcher) HasHandler(command string) bool {
	_, ok := d.handlers[command]
	return ok
}

// QueueLen returns the number of events waiting for command's handler, or 0
// if the handler is not queued.
func (d *Dispatcher) QueueLen(command string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if q, ok := d.queues[command]; ok {
		return len(q.events)
	}
	return 0
}

func (d *Dispatcher) enqueue(command string, size int, blocking bool, h HandlerFunc) HandlerFunc {
	q := &queue{events: make(chan Event, size)}
	d.mu.Lock()
	d.queues[command] = q
	d.mu.Unlock()

	attrs := metric.WithAttributes(attribute.String("command", command))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for e := range q.events {
			ctx := context.Background()
			if !e.Timestamp.IsZero() {
				d.waited.Record(ctx, time.Since(e.Timestamp).Seconds(), attrs)
			}
			start := time.Now()
			if _, err := h(e); err != nil {
				d.logger.Error("queued event failed", "command", command, "error", err)
			}
			d.handled.Record(ctx, time.Since(start).Seconds(), attrs)
			d.processed.Add(ctx, 1, attrs)
		}
	}()

	// Senders hold the read lock so Close cannot close the channel under them.
	return func(e Event) (any, error) {
		d.mu.RLock()
		defer d.mu.RUnlock()
		if d.closed {
			return nil, ErrClosed
		}
		if blocking {
			q.events <- e
			return "queued", nil
		}
		select {
		case q.events <- e:
			return "queued", nil
		default:
			d.dropped.Add(context.Background(), 1, attrs)
			return nil, fmt.Errorf("queue full: %s", command)
		}
	}
}

// Close stops accepting queued events and returns once every queued event
// has been handled.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q.events)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) logged(command string, h HandlerFunc) HandlerFunc {
	return func(e Event) (any, error) {
		start := time.Now()
		d.logger.Debug("handling event", "command", command, "args", e.Args)

		result, err := h(e)
		took := time.Since(start)
		if err != nil {
			d.logger.Error("event failed", "command", command, "duration", took, "error", err)
			return result, err
		}
		d.logger.Debug("event complete", "command", command, "duration", took)
		return result, nil
	}
}
