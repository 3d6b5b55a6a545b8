// Package influx writes per-tick estimator and clock series to InfluxDB.
// When InfluxDB is unreachable points go to a gzip line-protocol backup file.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
	"github.com/vanetsim/pseudosim/internal/config"
	"github.com/vanetsim/pseudosim/pkg/core"
)

// PerformanceBucket receives the clock and writer series.
const PerformanceBucket = "sim_performance"

// Manager handles InfluxDB connections and writes.
type Manager struct {
	Client       influxdb2.Client
	Writers      map[string]influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	BucketNames  []string
	Logger       zerolog.Logger
	BackupPath   string

	cfg        config.InfluxConfig
	backupFile *os.File
	backupMu   sync.Mutex
}

// NewManager creates a new InfluxDB manager. Estimator series go to
// cfg.Bucket, clock series to PerformanceBucket.
func NewManager(cfg config.InfluxConfig, log zerolog.Logger, backupPath string) *Manager {
	return &Manager{
		Writers:     make(map[string]influxdb2_api.WriteAPI),
		IsValid:     false,
		BucketNames: []string{cfg.Bucket, PerformanceBucket},
		Logger:      log,
		BackupPath:  backupPath,
		cfg:         cfg,
	}
}

// Connect establishes a connection to InfluxDB.
func (m *Manager) Connect() error {
	if !m.cfg.Enabled {
		return errors.New("influx.enabled is false")
	}

	m.Client = influxdb2.NewClientWithOptions(
		fmt.Sprintf("%s://%s:%s", m.cfg.Protocol, m.cfg.Host, m.cfg.Port),
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetFlushInterval(1000),
	)

	// validate client connection health
	running, err := m.Client.Ping(context.Background())

	if err != nil || !running {
		m.IsValid = false
		// create backup writer
		if m.BackupWriter == nil {
			m.Logger.Info().Str("backupPath", m.BackupPath).
				Msg("Failed to initialize InfluxDB client, writing to backup file")

			file, err := os.OpenFile(m.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("error creating backup file: %v", err)
			}
			m.backupFile = file
			m.BackupWriter = gzip.NewWriter(file)
		}
	} else {
		m.IsValid = true
	}

	if m.IsValid {
		err = m.setupOrganizationAndBuckets()
		if err != nil {
			return err
		}
		m.CreateWriters()
		m.Logger.Info().Msg("InfluxDB client initialized")
	} else {
		m.Logger.Warn().Msg("InfluxDB client failed to initialize, using backup writer")
	}

	return nil
}

func (m *Manager) setupOrganizationAndBuckets() error {
	ctx := context.Background()
	orgName := m.cfg.Org

	// ensure org exists
	_, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Info().Str("org", orgName).Msg("Organization not found, creating")
		_, err = m.Client.OrganizationsAPI().CreateOrganizationWithName(ctx, orgName)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", orgName).Msg("Error creating organization")
			return err
		}
	}

	// get influxOrg
	influxOrg, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Error().Err(err).Str("org", orgName).Msg("Error getting organization")
		return err
	}

	// ensure buckets exist with 90 day retention
	for _, bucket := range m.BucketNames {
		_, err = m.Client.BucketsAPI().FindBucketByName(ctx, bucket)
		if err != nil {
			m.Logger.Info().Str("bucket", bucket).Msg("Bucket not found, creating")

			rule := domain.RetentionRuleTypeExpire
			_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, influxOrg, bucket, domain.RetentionRule{
				Type:         &rule,
				EverySeconds: 60 * 60 * 24 * 90, // 90 days
			})
			if err != nil {
				m.Logger.Error().Err(err).Str("bucket", bucket).Msg("Error creating bucket")
				return err
			}
		}
	}

	return nil
}

// CreateWriters creates write APIs for all configured buckets.
func (m *Manager) CreateWriters() {
	orgName := m.cfg.Org
	for _, bucket := range m.BucketNames {
		m.Logger.Trace().Str("bucket", bucket).Msg("Creating InfluxDB writer")
		m.Writers[bucket] = m.Client.WriteAPI(orgName, bucket)

		errorsCh := m.Writers[bucket].Errors()
		go func(bucketName string, errorsCh <-chan error) {
			for writeErr := range errorsCh {
				m.Logger.Error().Err(writeErr).Str("bucket", bucketName).
					Msg("Error sending data to InfluxDB")
			}
		}(bucket, errorsCh)

		m.Logger.Trace().Str("bucket", bucket).Msg("InfluxDB writer created")
	}

	m.Logger.Debug().Msg("InfluxDB writers initialized")
}

// WritePoint writes a point to InfluxDB or backup file.
func (m *Manager) WritePoint(ctx context.Context, bucket string, point *influxdb2_write.Point) error {
	if m.IsValid {
		if _, ok := m.Writers[bucket]; !ok {
			return fmt.Errorf("influxDB bucket '%s' not registered", bucket)
		}
		m.Writers[bucket].WritePoint(point)
	} else {
		if m.BackupWriter == nil {
			return fmt.Errorf("influxDB client not initialized and backup writer not available")
		}

		lineProtocol := influxdb2_write.PointToLineProtocol(point, time.Duration(1*time.Nanosecond))
		m.backupMu.Lock()
		_, err := m.BackupWriter.Write([]byte(lineProtocol + "\n"))
		m.backupMu.Unlock()
		if err != nil {
			return fmt.Errorf("error writing to InfluxDB backup file: %s", err)
		}
	}

	return nil
}

// OnTick writes the estimator counters of one tick.
func (m *Manager) OnTick(ctx context.Context, snap core.Snapshot) error {
	return m.WritePoint(ctx, m.cfg.Bucket, EstimatorPoint(snap, time.Now()))
}

// EstimatorPoint converts a snapshot's estimator counters to a point tagged
// with the run.
func EstimatorPoint(snap core.Snapshot, ts time.Time) *influxdb2_write.Point {
	st := snap.Stats
	p := influxdb2_write.NewPointWithMeasurement("estimator").
		AddTag("run", snap.RunID).
		AddField("tick", int64(snap.Tick)).
		AddField("samples", snap.Samples).
		AddField("clusters", len(snap.Clusters)).
		AddField("samples_consumed", st.SamplesConsumed).
		AddField("calibration_samples", st.CalibrationSamples).
		AddField("fixes", st.Fixes).
		AddField("inconclusive", st.Inconclusive).
		AddField("deferred", st.Deferred).
		AddField("merged", st.Merged).
		AddField("clusters_seeded", st.ClustersSeeded).
		SetTime(ts)
	if st.CalibratedExponent > 0 {
		p.AddField("calibrated_exponent", st.CalibratedExponent)
	}

	var active, silent int
	for _, v := range snap.Vehicles {
		if !v.Active {
			continue
		}
		active++
		if v.State != core.StateActive {
			silent++
		}
	}
	p.AddField("vehicles_active", active).AddField("vehicles_silent", silent)
	return p
}

// PerformancePoint builds the clock series written by the monitor.
func PerformancePoint(runID string, tick core.SimTime, tickDuration, writeDuration time.Duration, queued int, ts time.Time) *influxdb2_write.Point {
	return influxdb2_write.NewPointWithMeasurement("clock").
		AddTag("run", runID).
		AddField("tick", int64(tick)).
		AddField("tick_duration_ms", float64(tickDuration.Microseconds())/1000).
		AddField("write_duration_ms", float64(writeDuration.Microseconds())/1000).
		AddField("write_queue", queued).
		SetTime(ts)
}

// Close flushes the writers and the backup file.
func (m *Manager) Close() error {
	if m.Client != nil {
		for _, w := range m.Writers {
			w.Flush()
		}
		m.Client.Close()
	}
	m.backupMu.Lock()
	defer m.backupMu.Unlock()
	if m.BackupWriter == nil {
		return nil
	}
	if err := m.BackupWriter.Close(); err != nil {
		return fmt.Errorf("closing InfluxDB backup writer: %w", err)
	}
	m.BackupWriter = nil
	return m.backupFile.Close()
}
