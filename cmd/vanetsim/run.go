package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/vanetsim/pseudosim/internal/api"
	"github.com/vanetsim/pseudosim/internal/config"
	"github.com/vanetsim/pseudosim/internal/influx"
	"github.com/vanetsim/pseudosim/internal/monitor"
	"github.com/vanetsim/pseudosim/internal/sim"
	"github.com/vanetsim/pseudosim/internal/storage"
	"github.com/vanetsim/pseudosim/internal/worker"
	"github.com/vanetsim/pseudosim/pkg/core"
)

func runSimulation(ctx context.Context) error {
	simCfg, err := config.GetSimulationConfig()
	if err != nil {
		return err
	}
	sc := config.GetScenarioConfig()

	simContext, err := buildScenario(simCfg, sc)
	if err != nil {
		return fmt.Errorf("building scenario: %w", err)
	}
	stepper, err = sim.NewStepper(simContext, sim.WithLogger(Logger), sim.WithInterval(sc.Interval))
	if err != nil {
		return err
	}
	SlogManager.SetContext(stepper.LogAttrs)

	if err := initStorage(); err != nil {
		return err
	}

	workerManager = worker.NewManager(worker.Dependencies{
		Stepper: stepper,
		Logger:  Logger,
		Context: ctx,
	}, storageBackend)
	Logger.Debug("Registering worker handlers with dispatcher")
	workerManager.RegisterHandlers(eventDispatcher)

	initInflux()

	monitorService = monitor.NewService(monitor.Dependencies{
		Stepper:       stepper,
		WorkerManager: workerManager,
		Influx:        influxManager,
		Logger:        Logger,
		StatusDir:     sc.StatusDir,
	})
	if err := monitorService.Start(); err != nil {
		return err
	}

	Logger.Info("Scenario ready",
		"vehicles", len(simContext.Vehicles()),
		"rsus", len(simContext.RSUs()),
		"ticks", sc.Ticks,
		"storage", config.GetStorageConfig().Type)

	if sc.Interval == 0 {
		// back to back: run the ticks in this goroutine
		if _, err := workerManager.Execute(worker.CmdStep, strconv.Itoa(sc.Ticks)); err != nil {
			return err
		}
	} else if err := runPaced(ctx, simCfg.Tick*core.SimTime(sc.Ticks)); err != nil {
		return err
	}

	res, err := workerManager.Execute(worker.CmdStop)
	if err != nil {
		return err
	}
	ev, _ := res.(core.Evaluation)
	printSummary(ev)
	uploadRun(ev)
	return nil
}

// uploadRun sends the exported file of a finished run to the server when
// api.upload is set. Failures are logged; the run itself succeeded.
func uploadRun(ev core.Evaluation) {
	apiCfg := config.GetAPIConfig()
	if !apiCfg.Upload {
		return
	}
	exp, ok := storageBackend.(storage.Exporter)
	if !ok || exp.ExportedFilePath() == "" {
		Logger.Warn("Upload enabled but the storage backend exported no file", "storage", config.GetStorageConfig().Type)
		return
	}
	client := api.New(apiCfg.ServerURL, apiCfg.APIKey)
	if err := client.Healthcheck(); err != nil {
		Logger.Error("Renderer server unreachable, skipping upload", "error", err)
		return
	}
	simCtx := stepper.Context()
	meta := api.MetadataFor(simCtx.Run(), simCtx.Now(), ev, apiCfg.Tag)
	if err := client.Upload(exp.ExportedFilePath(), meta); err != nil {
		Logger.Error("Failed to upload run", "error", err, "path", exp.ExportedFilePath())
		return
	}
	Logger.Info("Uploaded run", "runId", meta.RunID, "path", exp.ExportedFilePath())
}

// runPaced runs the background clock until end or cancellation.
func runPaced(ctx context.Context, end core.SimTime) error {
	done := make(chan struct{})
	var once sync.Once
	stepper.AddObserver(sim.ObserverFunc(func(_ context.Context, snap core.Snapshot) error {
		if snap.Tick >= end {
			once.Do(func() { close(done) })
		}
		return nil
	}))

	if _, err := workerManager.Execute(worker.CmdStart); err != nil {
		return err
	}
	select {
	case <-done:
	case <-ctx.Done():
		Logger.Info("Interrupted, stopping simulation")
	}
	return nil
}

func initInflux() {
	cfg := config.GetInfluxConfig()
	if !cfg.Enabled {
		return
	}
	backupPath := filepath.Join(viper.GetString("logsDir"),
		fmt.Sprintf("%s_influx_backup_%s.log.gz", AppName, SessionStartTime.Format("20060102_150405")))
	m := influx.NewManager(cfg, InfraLog.Logger, backupPath)
	if err := m.Connect(); err != nil {
		Logger.Error("Failed to set up InfluxDB", "error", err)
		return
	}
	influxManager = m
	stepper.AddObserver(influxManager)
}

func printSummary(ev core.Evaluation) {
	var b strings.Builder
	fmt.Fprintf(&b, "run          %s\n", stepper.Context().RunID())
	fmt.Fprintf(&b, "simulated    %s\n", stepper.Context().Now().Duration())
	fmt.Fprintf(&b, "vehicles     %d\n", ev.Vehicles)
	fmt.Fprintf(&b, "changes      %d\n", ev.Changes)
	fmt.Fprintf(&b, "clusters     %d\n", ev.Clusters)
	fmt.Fprintf(&b, "linked       %d correct, %d false, %d unresolved\n", ev.CorrectLinks, ev.FalseLinks, ev.Unresolved)
	fmt.Fprintf(&b, "link rate    %.3f\n", ev.LinkRate)
	fmt.Fprintf(&b, "purity       %.3f\n", ev.MeanPurity)
	fmt.Print(b.String())
}
