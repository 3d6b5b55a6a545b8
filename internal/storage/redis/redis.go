// Package redisstorage publishes every snapshot on a Redis channel and keeps
// the latest state of each run under plain keys for late subscribers.
package redisstorage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vanetsim/pseudosim/internal/config"
	"github.com/vanetsim/pseudosim/pkg/core"
	"github.com/vanetsim/pseudosim/pkg/streaming"
)

const (
	defaultChannel = "vanetsim:snapshots"
	runsKey        = "vanetsim:runs"
	keyTTL         = 48 * time.Hour
	opTimeout      = 5 * time.Second
)

// ErrNoRun is returned when recording before StartRun.
var ErrNoRun = errors.New("no run started")

func runKey(id string) string    { return "vanetsim:run:" + id }
func latestKey(id string) string { return "vanetsim:run:" + id + ":latest" }
func evalKey(id string) string   { return "vanetsim:run:" + id + ":evaluation" }

// Backend implements storage.Backend on Redis pub/sub plus keys.
type Backend struct {
	cfg    config.RedisConfig
	log    *slog.Logger
	client *redis.Client

	mu    sync.Mutex
	runID string
}

// New creates a Redis backend. Init connects.
func New(cfg config.RedisConfig, log *slog.Logger) *Backend {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Channel == "" {
		cfg.Channel = defaultChannel
	}
	return &Backend{cfg: cfg, log: log}
}

// Init parses the URL and checks the connection.
func (b *Backend) Init() error {
	opt, err := redis.ParseURL(b.cfg.URL)
	if err != nil {
		return fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis connection failed: %w", err)
	}
	b.client = client
	b.log.Info("Connected to Redis", "addr", opt.Addr, "channel", b.cfg.Channel)
	return nil
}

// Close closes the client.
func (b *Backend) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

// StartRun stores the run description and announces it on the channel.
func (b *Backend) StartRun(run *core.Run) error {
	desc, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	msg, err := envelope(streaming.TypeStartRun, streaming.StartRunPayload{Run: run})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, runKey(run.ID), desc, keyTTL)
		pipe.SAdd(ctx, runsKey, run.ID)
		pipe.Expire(ctx, runsKey, keyTTL)
		pipe.Publish(ctx, b.cfg.Channel, msg)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis start run %s: %w", run.ID, err)
	}

	b.mu.Lock()
	b.runID = run.ID
	b.mu.Unlock()
	return nil
}

// RecordTick publishes the snapshot and replaces the run's latest key.
func (b *Backend) RecordTick(snap *core.Snapshot) error {
	b.mu.Lock()
	runID := b.runID
	b.mu.Unlock()
	if runID == "" {
		return ErrNoRun
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	msg, err := json.Marshal(streaming.Envelope{Type: streaming.TypeTick, Payload: raw})
	if err != nil {
		return fmt.Errorf("marshal tick envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	_, err = b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, latestKey(runID), raw, keyTTL)
		pipe.Publish(ctx, b.cfg.Channel, msg)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis record tick %d: %w", snap.Tick, err)
	}
	return nil
}

// EndRun stores the evaluation and announces the end of the run.
func (b *Backend) EndRun(summary *core.Evaluation) error {
	b.mu.Lock()
	runID := b.runID
	b.runID = ""
	b.mu.Unlock()
	if runID == "" {
		return ErrNoRun
	}

	msg, err := envelope(streaming.TypeEndRun, streaming.EndRunPayload{RunID: runID, Evaluation: summary})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if summary != nil {
			eval, err := json.Marshal(summary)
			if err != nil {
				return err
			}
			pipe.Set(ctx, evalKey(runID), eval, keyTTL)
		}
		pipe.Publish(ctx, b.cfg.Channel, msg)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis end run %s: %w", runID, err)
	}
	return nil
}

// Latest reads the most recent snapshot stored for a run.
func (b *Backend) Latest(ctx context.Context, runID string) (*core.Snapshot, error) {
	raw, err := b.client.Get(ctx, latestKey(runID)).Bytes()
	if err != nil {
		return nil, err
	}
	var snap core.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func envelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(streaming.Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}
