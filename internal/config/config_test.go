package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanetsim/pseudosim/pkg/core"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"simulation": { "seed": 42, "regionWidth": 2500 },
		"db": { "host": "10.0.0.1", "port": "5433" }
	}`)

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, 42, viper.GetInt("simulation.seed"))
	assert.Equal(t, 2500.0, viper.GetFloat64("simulation.regionWidth"))
	assert.Equal(t, "10.0.0.1", viper.GetString("db.host"))
	assert.Equal(t, "5433", viper.GetString("db.port"))
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./simlogs", viper.GetString("logsDir"))
	assert.Equal(t, 1000, viper.GetInt("simulation.tickMs"))
	assert.Equal(t, "trilateration", viper.GetString("attacker.strategy"))
	assert.Equal(t, "memory", viper.GetString("storage.type"))
	assert.Equal(t, "./recordings", viper.GetString("storage.memory.outputDir"))
	assert.Equal(t, true, viper.GetBool("storage.memory.compressOutput"))
	assert.Equal(t, "3m", viper.GetString("storage.sqlite.dumpInterval"))
	assert.Equal(t, false, viper.GetBool("otel.enabled"))
	assert.Equal(t, "vanetsim", viper.GetString("otel.serviceName"))
	assert.Equal(t, "localhost:12201", viper.GetString("graylog.address"))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load("/nonexistent/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("VANETSIM_ATTACKER_ALLOWEDERROR", "60")

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, 60.0, viper.GetFloat64("attacker.allowedError"))
}

func TestGetters(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	viper.Set("testInt", 42)
	viper.Set("testBool", true)

	assert.Equal(t, "testValue", GetString("testKey"))
	assert.Equal(t, 42, GetInt("testInt"))
	assert.Equal(t, true, GetBool("testBool"))
}

func TestGetStorageConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"storage": {
			"type": "sqlite",
			"memory": { "outputDir": "/tmp/out", "compressOutput": false },
			"sqlite": { "dumpInterval": "10m" },
			"redis": { "channel": "snaps" }
		}
	}`)
	require.NoError(t, Load(dir))

	sc := GetStorageConfig()
	assert.Equal(t, "sqlite", sc.Type)
	assert.Equal(t, "/tmp/out", sc.Memory.OutputDir)
	assert.Equal(t, false, sc.Memory.CompressOutput)
	assert.Equal(t, 10*time.Minute, sc.SQLite.DumpInterval)
	assert.Equal(t, "snaps", sc.Redis.Channel)
	assert.Equal(t, "redis://localhost:6379", sc.Redis.URL)
}

func TestGetOTelConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetOTelConfig()
	assert.Equal(t, false, cfg.Enabled)
	assert.Equal(t, 5*time.Second, cfg.BatchTimeout)
	assert.Equal(t, true, cfg.Insecure)
}

func TestGetSimulationConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	LoadDefaults()

	cfg, err := GetSimulationConfig()
	require.NoError(t, err)

	assert.Equal(t, core.SimTime(1000), cfg.Tick)
	assert.Equal(t, core.StrategyTrilateration, cfg.Attacker.Strategy)
	assert.Equal(t, core.ModelClassic, cfg.Mobility.DefaultModel)
	assert.Equal(t, 1500*time.Millisecond, cfg.Mobility.TimeHeadway)
	assert.InDelta(t, core.KmhToCms(30), cfg.Privacy.SlowSpeed.Threshold, 1e-9)
	assert.True(t, cfg.Radio.Exchange.RSUToRSU)
}

func TestGetSimulationConfig_ForcesRSUExchange(t *testing.T) {
	t.Cleanup(viper.Reset)
	LoadDefaults()
	viper.Set("rssi.exchange.rsuRsu", false)

	cfg, err := GetSimulationConfig()
	require.NoError(t, err)
	assert.True(t, cfg.Radio.Exchange.RSUToRSU)
}

func TestGetSimulationConfig_ForcesRSUExchangeVehicleOnly(t *testing.T) {
	t.Cleanup(viper.Reset)
	LoadDefaults()
	viper.Set("rssi.exchange.rsuRsu", false)
	viper.Set("rssi.exchange.vehicleRsu", false)
	viper.Set("rssi.exchange.vehicleVehicle", true)

	cfg, err := GetSimulationConfig()
	require.NoError(t, err)
	assert.True(t, cfg.Radio.Exchange.RSUToRSU)

	cfg.Radio.Exchange.RSUToRSU = false
	var cerr *ConfigurationError
	require.ErrorAs(t, cfg.Validate(), &cerr)
	assert.Equal(t, "rssi.exchange.rsuRsu", cerr.Field)
}

func TestGetSimulationConfig_NoAttackerKeepsRSUExchangeOff(t *testing.T) {
	t.Cleanup(viper.Reset)
	LoadDefaults()
	viper.Set("rssi.exchange.rsuRsu", false)
	viper.Set("attacker.enabled", false)

	cfg, err := GetSimulationConfig()
	require.NoError(t, err)
	assert.False(t, cfg.Radio.Exchange.RSUToRSU)
	assert.NoError(t, cfg.Validate())
}

func TestGetSimulationConfig_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
		field string
	}{
		{"region too small", "simulation.regionWidth", 999.0, "simulation.regionWidth"},
		{"region height too small", "simulation.regionHeight", 10.0, "simulation.regionHeight"},
		{"zero rsu radius", "rsu.radius", 0.0, "rsu.radius"},
		{"negative attacker radius", "rsu.attackerRadius", -5.0, "rsu.attackerRadius"},
		{"zero tick", "simulation.tickMs", 0, "simulation.tickMs"},
		{"bad strategy", "attacker.strategy", "guess", "attacker.strategy"},
		{"bad model", "mobility.defaultModel", "teleport", "mobility.defaultModel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(viper.Reset)
			LoadDefaults()
			viper.Set(tt.key, tt.value)

			_, err := GetSimulationConfig()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))

			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestValidate_SilentPeriodFrequency(t *testing.T) {
	t.Cleanup(viper.Reset)
	LoadDefaults()
	viper.Set("silentPeriod.enabled", true)
	viper.Set("silentPeriod.durationMs", 3000)
	viper.Set("silentPeriod.frequencyMs", 3000)

	_, err := GetSimulationConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "silentPeriod.frequencyMs")
}

func TestGetDatabaseConfig_DSN(t *testing.T) {
	t.Cleanup(viper.Reset)
	LoadDefaults()
	viper.Set("db.host", "db.internal")

	cfg := GetDatabaseConfig()
	assert.Equal(t, "host=db.internal port=5432 user=postgres password=postgres dbname=vanetsim sslmode=disable", cfg.DSN())
}

func TestGetScenarioConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{"scenario": {"vehicles": 8, "intervalMs": 250, "traceFile": "trace.csv"}}`)))

	sc := GetScenarioConfig()
	assert.Equal(t, 8, sc.Vehicles)
	assert.Equal(t, 250*time.Millisecond, sc.Interval)
	assert.Equal(t, "trace.csv", sc.TraceFile)
	assert.Equal(t, 3, sc.AttackerRSUs)
	assert.Equal(t, 300, sc.Ticks)
	assert.Equal(t, 2, sc.Lanes)
}
