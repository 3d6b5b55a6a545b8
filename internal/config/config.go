package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "vanetsim.cfg.json"

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds SQLite storage backend settings
type SQLiteConfig struct {
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
	Path         string        `json:"path" mapstructure:"path"`
}

// RedisConfig holds redis snapshot backend settings
type RedisConfig struct {
	URL     string `json:"url" mapstructure:"url"`
	Channel string `json:"channel" mapstructure:"channel"`
}

// StorageConfig selects and configures the run recording backend
type StorageConfig struct {
	Type   string       `json:"type" mapstructure:"type"`
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`
	SQLite SQLiteConfig `json:"sqlite" mapstructure:"sqlite"`
	Redis  RedisConfig  `json:"redis" mapstructure:"redis"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// InfluxConfig holds InfluxDB settings
type InfluxConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Protocol string `json:"protocol" mapstructure:"protocol"`
	Token    string `json:"token" mapstructure:"token"`
	Org      string `json:"org" mapstructure:"org"`
	Bucket   string `json:"bucket" mapstructure:"bucket"`
}

// GraylogConfig holds GELF log shipping settings
type GraylogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetEnvPrefix("VANETSIM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// LoadDefaults registers default values without reading a file.
// Used by tests and by the CLI when no config file is present.
func LoadDefaults() {
	setDefaults()
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./simlogs")

	viper.SetDefault("simulation.seed", 1)
	viper.SetDefault("simulation.tickMs", 1000)
	viper.SetDefault("simulation.mapWidth", 500000.0)
	viper.SetDefault("simulation.mapHeight", 500000.0)
	viper.SetDefault("simulation.regionWidth", 10000.0)
	viper.SetDefault("simulation.regionHeight", 10000.0)
	viper.SetDefault("simulation.workers", 4)

	viper.SetDefault("silentPeriod.enabled", false)
	viper.SetDefault("silentPeriod.durationMs", 3000)
	viper.SetDefault("silentPeriod.frequencyMs", 10000)

	viper.SetDefault("slowSpeed.enabled", false)
	viper.SetDefault("slowSpeed.thresholdKmh", 30.0)
	viper.SetDefault("slowSpeed.pseudonymChangeTimeMs", 5000)

	viper.SetDefault("pseudonym.changeIntervalMs", 0)
	viper.SetDefault("pseudonym.lookbackMs", 600000)

	viper.SetDefault("rssi.txPowerDBm", -40.0)
	viper.SetDefault("rssi.exponent", 2.0)
	viper.SetDefault("rssi.noiseStdDB", 0.0)
	viper.SetDefault("rssi.vehicleRadius", 25000.0)
	viper.SetDefault("rssi.exchange.rsuRsu", true)
	viper.SetDefault("rssi.exchange.vehicleRsu", true)
	viper.SetDefault("rssi.exchange.vehicleVehicle", false)

	viper.SetDefault("rsu.radius", 50000.0)
	viper.SetDefault("rsu.attackerRadius", 50000.0)

	viper.SetDefault("attacker.enabled", true)
	viper.SetDefault("attacker.strategy", "trilateration")
	viper.SetDefault("attacker.allowedError", 500.0)
	viper.SetDefault("attacker.linkWindowMs", 10000)
	viper.SetDefault("attacker.historyWindowMs", 60000)

	viper.SetDefault("mobility.defaultModel", "classic")
	viper.SetDefault("mobility.accelCmS2", 200.0)
	viper.SetDefault("mobility.decelCmS2", 300.0)
	viper.SetDefault("mobility.lateralAccelCmS2", 300.0)
	viper.SetDefault("mobility.minGapCm", 200.0)
	viper.SetDefault("mobility.timeHeadway", "1500ms")
	viper.SetDefault("mobility.politeness", 0.3)
	viper.SetDefault("mobility.changeThresholdCmS2", 20.0)
	viper.SetDefault("mobility.safeDecelCmS2", 400.0)

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "./recordings")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.sqlite.path", "./recordings/vanetsim.db")
	viper.SetDefault("storage.redis.url", "redis://localhost:6379")
	viper.SetDefault("storage.redis.channel", "vanetsim:snapshots")

	viper.SetDefault("api.serverUrl", "http://localhost:5000")
	viper.SetDefault("api.apiKey", "")
	viper.SetDefault("api.upload", false)
	viper.SetDefault("api.tag", "")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "vanetsim")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "vanetsim")
	viper.SetDefault("influx.bucket", "estimator")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "vanetsim")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	setScenarioDefaults()
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetStorageConfig returns the storage backend configuration.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
			Path:         viper.GetString("storage.sqlite.path"),
		},
		Redis: RedisConfig{
			URL:     viper.GetString("storage.redis.url"),
			Channel: viper.GetString("storage.redis.channel"),
		},
	}
}

// GetOTelConfig returns the OpenTelemetry configuration.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetInfluxConfig returns the InfluxDB configuration.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Protocol: viper.GetString("influx.protocol"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

// GetGraylogConfig returns the GELF configuration.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// DSN returns the Postgres connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=disable`,
		c.Host, c.Port, c.Username, c.Password, c.Database)
}

// APIConfig holds the renderer server settings used by the websocket backend
type APIConfig struct {
	ServerURL string `json:"serverUrl" mapstructure:"serverUrl"`
	APIKey    string `json:"apiKey" mapstructure:"apiKey"`
	// Upload sends the exported run file to the server after a run.
	Upload bool   `json:"upload" mapstructure:"upload"`
	Tag    string `json:"tag" mapstructure:"tag"`
}

// GetDatabaseConfig returns the Postgres configuration.
func GetDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:     viper.GetString("db.host"),
		Port:     viper.GetString("db.port"),
		Username: viper.GetString("db.username"),
		Password: viper.GetString("db.password"),
		Database: viper.GetString("db.database"),
	}
}

// GetAPIConfig returns the renderer server configuration.
func GetAPIConfig() APIConfig {
	return APIConfig{
		ServerURL: viper.GetString("api.serverUrl"),
		APIKey:    viper.GetString("api.apiKey"),
		Upload:    viper.GetBool("api.upload"),
		Tag:       viper.GetString("api.tag"),
	}
}
