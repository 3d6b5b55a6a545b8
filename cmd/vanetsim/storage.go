package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/vanetsim/pseudosim/internal/config"
	"github.com/vanetsim/pseudosim/internal/storage"
	"github.com/vanetsim/pseudosim/internal/storage/memory"
	pgstorage "github.com/vanetsim/pseudosim/internal/storage/postgres"
	redisstorage "github.com/vanetsim/pseudosim/internal/storage/redis"
	sqlitestorage "github.com/vanetsim/pseudosim/internal/storage/sqlite"
	wsstorage "github.com/vanetsim/pseudosim/internal/storage/websocket"
	"github.com/vanetsim/pseudosim/pkg/streaming"
)

func initStorage() error {
	storageCfg := config.GetStorageConfig()

	backend, err := createStorageBackend(storageCfg)
	if err != nil {
		Logger.Error("Failed to create storage backend", "error", err)
		return err
	}
	storageBackend = backend
	if err := storageBackend.Init(); err != nil {
		Logger.Error("Failed to initialize storage backend", "error", err)
		return err
	}
	Logger.Info("Storage ready", "type", storageCfg.Type)
	return nil
}

func createStorageBackend(storageCfg config.StorageConfig) (storage.Backend, error) {
	switch storageCfg.Type {
	case "postgres":
		fallback := filepath.Join(storageCfg.Memory.OutputDir,
			fmt.Sprintf("%s_%s.db", AppName, SessionStartTime.Format("20060102_150405")))
		Logger.Info("Postgres storage backend initialized")
		return pgstorage.New(pgstorage.Dependencies{
			Config:       config.GetDatabaseConfig(),
			FallbackPath: fallback,
			Logger:       Logger,
			DBLogger:     InfraLog.Logger,
		}), nil

	case "sqlite":
		backend, err := sqlitestorage.New(storageCfg.SQLite, Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		Logger.Info("SQLite storage backend initialized", "path", storageCfg.SQLite.Path)
		return backend, nil

	case "websocket":
		api := config.GetAPIConfig()
		wsURL := httpToWS(api.ServerURL) + "/api"
		Logger.Info("WebSocket storage backend initialized", "url", wsURL)
		return wsstorage.New(wsstorage.Config{
			URL:       wsURL,
			Secret:    api.APIKey,
			OnControl: forwardControl,
			Logger:    Logger,
		}), nil

	case "redis":
		Logger.Info("Redis storage backend initialized", "channel", storageCfg.Redis.Channel)
		return redisstorage.New(storageCfg.Redis, Logger), nil

	default:
		Logger.Info("Memory storage backend initialized")
		return memory.New(storageCfg.Memory), nil
	}
}

// forwardControl hands renderer commands to the worker once it exists.
func forwardControl(msg streaming.ControlMessage) {
	if workerManager == nil {
		Logger.Warn("Dropping control message before worker is ready", "command", msg.Command)
		return
	}
	workerManager.HandleControl(msg)
}

// httpToWS converts an HTTP(S) URL to a WebSocket URL.
func httpToWS(httpURL string) string {
	s := strings.TrimRight(httpURL, "/")
	s = strings.Replace(s, "https://", "wss://", 1)
	s = strings.Replace(s, "http://", "ws://", 1)
	return s
}
