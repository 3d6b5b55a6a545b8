package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/vanetsim/pseudosim/internal/config"
	"github.com/vanetsim/pseudosim/internal/dispatcher"
	"github.com/vanetsim/pseudosim/internal/influx"
	"github.com/vanetsim/pseudosim/internal/logging"
	"github.com/vanetsim/pseudosim/internal/monitor"
	intOtel "github.com/vanetsim/pseudosim/internal/otel"
	"github.com/vanetsim/pseudosim/internal/sim"
	"github.com/vanetsim/pseudosim/internal/storage"
	"github.com/vanetsim/pseudosim/internal/worker"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.1.0"
	BuildDate      string = "unknown"

	AppName string = "vanetsim"
)

// file paths
var (
	// ConfigDir holds vanetsim.cfg.json and the optional .env file.
	ConfigDir string

	LogFilePath     string
	LogFile         *os.File
	MetricsFilePath string
	MetricsFile     *os.File
)

// global variables
var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// InfraLog is the zerolog logger for database, influx and dispatcher output
	InfraLog *logging.InfraLogger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	SessionStartTime time.Time = time.Now()

	// Services
	stepper         *sim.Stepper
	workerManager   *worker.Manager
	monitorService  *monitor.Service
	influxManager   *influx.Manager
	eventDispatcher *dispatcher.Dispatcher

	storageBackend storage.Backend
)

func setup() error {
	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(nil, "info", nil)
	Logger = SlogManager.Logger()

	if err := godotenv.Load(filepath.Join(ConfigDir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		Logger.Warn("Failed to load .env file", "error", err)
	}

	if err := config.Load(ConfigDir); err != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		Logger.Info("Loaded config", "dir", ConfigDir)
	}

	logsDir := viper.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}
	LogFilePath = logging.LogFilePath(logsDir, AppName, SessionStartTime)
	if _, err := os.Stat(LogFilePath); err == nil {
		_ = os.Rename(LogFilePath, LogFilePath+".old")
	}
	var err error
	LogFile, err = os.OpenFile(LogFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", LogFilePath, err)
	}

	// OTel goes to the log file and a metrics file next to it
	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		MetricsFilePath = logging.MetricsFilePath(LogFilePath)
		MetricsFile, err = os.Create(MetricsFilePath)
		if err != nil {
			Logger.Error("Failed to create metrics file", "error", err, "path", MetricsFilePath)
		}
		otelCfgFull := intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    LogFile,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		}
		if MetricsFile != nil {
			otelCfgFull.MetricWriter = MetricsFile
		}
		OTelProvider, err = intOtel.New(otelCfgFull)
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
		} else {
			Logger.Info("OTel provider initialized", "file", LogFilePath, "metrics", MetricsFilePath, "endpoint", otelCfg.Endpoint)
		}
	}

	// Re-setup logging with file output and optional OTel
	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}
	level := viper.GetString("logLevel")
	SlogManager.Setup(LogFile, level, otelLogProvider)
	Logger = SlogManager.Logger()
	Logger.Info("Logging to file", "path", LogFilePath, "version", CurrentVersion, "build", BuildDate)

	InfraLog, err = logging.NewInfraLogger(LogFile, level, config.GetGraylogConfig(), SlogManager)
	if err != nil {
		return fmt.Errorf("setting up infrastructure logger: %w", err)
	}

	eventDispatcher, err = dispatcher.New(logging.NewDispatcherLogger(InfraLog.Logger))
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}
	return nil
}

// shutdown releases everything setup and run created, in reverse order.
func shutdown() {
	if monitorService != nil {
		monitorService.Stop()
	}
	if eventDispatcher != nil {
		eventDispatcher.Close()
	}
	if storageBackend != nil {
		if err := storageBackend.Close(); err != nil {
			Logger.Error("Failed to close storage backend", "error", err)
		}
		if exp, ok := storageBackend.(storage.Exporter); ok && exp.ExportedFilePath() != "" {
			Logger.Info("Run exported", "path", exp.ExportedFilePath())
		}
	}
	if influxManager != nil {
		if err := influxManager.Close(); err != nil {
			Logger.Error("Failed to close InfluxDB manager", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if OTelProvider != nil {
		if err := OTelProvider.Shutdown(ctx); err != nil {
			Logger.Error("Failed to shut down OTel provider", "error", err)
		}
	}
	if InfraLog != nil {
		_ = InfraLog.Close()
	}
	if MetricsFile != nil {
		_ = MetricsFile.Close()
	}
	if LogFile != nil {
		_ = LogFile.Close()
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [-config dir] <command> [args]

Commands:
  run              build the configured scenario, run it and print the evaluation (default)
  runs             list runs recorded in SQLite or Postgres
  report <runID>   print the stored clusters and evaluation of a run
  setupdb          migrate the database and configure hypertables
`, AppName)
}

func main() {
	flag.StringVar(&ConfigDir, "config", ".", "directory containing "+config.FileName)
	flag.Usage = usage
	flag.Parse()

	if err := setup(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	cmd := "run"
	if len(args) > 0 {
		cmd = strings.ToLower(args[0])
	}

	var err error
	switch cmd {
	case "run":
		err = runSimulation(ctx)
	case "runs":
		err = listRuns()
	case "report":
		if len(args) < 2 {
			err = errors.New("no run ID provided")
			break
		}
		err = reportRun(args[1])
	case "setupdb":
		err = setupDB()
	default:
		usage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		Logger.Error("Command failed", "command", cmd, "error", err)
		shutdown()
		os.Exit(1)
	}
}
