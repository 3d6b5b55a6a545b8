package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
	"github.com/vanetsim/pseudosim/pkg/core"
)

// MinRegionSize is the smallest accepted region edge in map units.
const MinRegionSize = 1000.0

// ErrInvalidConfig is matched by every ConfigurationError.
var ErrInvalidConfig = errors.New("invalid configuration")

// ConfigurationError reports a rejected setting. The simulation must not start.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidConfig) match.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func invalid(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// SilentPeriodConfig controls periodic silent periods.
type SilentPeriodConfig struct {
	Enabled   bool
	Duration  core.SimTime
	Frequency core.SimTime
}

// SlowSpeedConfig controls the slow-speed pseudonym change.
type SlowSpeedConfig struct {
	Enabled bool
	// Threshold in cm/s.
	Threshold           float64
	PseudonymChangeTime core.SimTime
}

// PrivacyConfig groups everything the pseudonym policy needs.
type PrivacyConfig struct {
	SilentPeriod   SilentPeriodConfig
	SlowSpeed      SlowSpeedConfig
	ChangeInterval core.SimTime // 0 disables fixed-interval changes
	Lookback       core.SimTime
}

// ExchangeFlags enables the RSSI pair-kinds.
type ExchangeFlags struct {
	RSUToRSU         bool
	VehicleToRSU     bool
	VehicleToVehicle bool
}

// RadioConfig configures the attenuation model and exchanges.
type RadioConfig struct {
	TxPowerDBm     float64
	Exponent       float64
	NoiseStdDB     float64
	VehicleRadius  float64
	RSURadius      float64
	AttackerRadius float64
	Exchange       ExchangeFlags
}

// AttackerConfig configures the estimator.
type AttackerConfig struct {
	Enabled       bool
	Strategy      core.Strategy
	AllowedError  float64
	LinkWindow    core.SimTime
	HistoryWindow core.SimTime
}

// MobilityConfig holds the shared mobility model parameters. Lengths in cm, time in seconds.
type MobilityConfig struct {
	DefaultModel    core.ModelKind
	Accel           float64
	Decel           float64
	LateralAccel    float64
	MinGap          float64
	TimeHeadway     time.Duration
	Politeness      float64
	ChangeThreshold float64
	SafeDecel       float64
}

// SimulationConfig is the full, validated configuration of one simulation context.
type SimulationConfig struct {
	Seed         int64
	Tick         core.SimTime
	MapWidth     float64
	MapHeight    float64
	RegionWidth  float64
	RegionHeight float64
	Workers      int
	Privacy      PrivacyConfig
	Radio        RadioConfig
	Attacker     AttackerConfig
	Mobility     MobilityConfig
}

// Bounds returns the map rectangle.
func (c SimulationConfig) Bounds() core.Rect {
	return core.Rect{Max: core.Position{X: c.MapWidth, Y: c.MapHeight}}
}

// GetSimulationConfig builds and validates the simulation configuration from viper.
func GetSimulationConfig() (SimulationConfig, error) {
	strategy, err := core.ParseStrategy(viper.GetString("attacker.strategy"))
	if err != nil {
		return SimulationConfig{}, invalid("attacker.strategy", "%v", err)
	}
	model, err := core.ParseModelKind(viper.GetString("mobility.defaultModel"))
	if err != nil {
		return SimulationConfig{}, invalid("mobility.defaultModel", "%v", err)
	}

	cfg := SimulationConfig{
		Seed:         viper.GetInt64("simulation.seed"),
		Tick:         core.SimTime(viper.GetInt64("simulation.tickMs")),
		MapWidth:     viper.GetFloat64("simulation.mapWidth"),
		MapHeight:    viper.GetFloat64("simulation.mapHeight"),
		RegionWidth:  viper.GetFloat64("simulation.regionWidth"),
		RegionHeight: viper.GetFloat64("simulation.regionHeight"),
		Workers:      viper.GetInt("simulation.workers"),
		Privacy: PrivacyConfig{
			SilentPeriod: SilentPeriodConfig{
				Enabled:   viper.GetBool("silentPeriod.enabled"),
				Duration:  core.SimTime(viper.GetInt64("silentPeriod.durationMs")),
				Frequency: core.SimTime(viper.GetInt64("silentPeriod.frequencyMs")),
			},
			SlowSpeed: SlowSpeedConfig{
				Enabled:             viper.GetBool("slowSpeed.enabled"),
				Threshold:           core.KmhToCms(viper.GetFloat64("slowSpeed.thresholdKmh")),
				PseudonymChangeTime: core.SimTime(viper.GetInt64("slowSpeed.pseudonymChangeTimeMs")),
			},
			ChangeInterval: core.SimTime(viper.GetInt64("pseudonym.changeIntervalMs")),
			Lookback:       core.SimTime(viper.GetInt64("pseudonym.lookbackMs")),
		},
		Radio: RadioConfig{
			TxPowerDBm:     viper.GetFloat64("rssi.txPowerDBm"),
			Exponent:       viper.GetFloat64("rssi.exponent"),
			NoiseStdDB:     viper.GetFloat64("rssi.noiseStdDB"),
			VehicleRadius:  viper.GetFloat64("rssi.vehicleRadius"),
			RSURadius:      viper.GetFloat64("rsu.radius"),
			AttackerRadius: viper.GetFloat64("rsu.attackerRadius"),
			Exchange: ExchangeFlags{
				RSUToRSU:         viper.GetBool("rssi.exchange.rsuRsu"),
				VehicleToRSU:     viper.GetBool("rssi.exchange.vehicleRsu"),
				VehicleToVehicle: viper.GetBool("rssi.exchange.vehicleVehicle"),
			},
		},
		Attacker: AttackerConfig{
			Enabled:       viper.GetBool("attacker.enabled"),
			Strategy:      strategy,
			AllowedError:  viper.GetFloat64("attacker.allowedError"),
			LinkWindow:    core.SimTime(viper.GetInt64("attacker.linkWindowMs")),
			HistoryWindow: core.SimTime(viper.GetInt64("attacker.historyWindowMs")),
		},
		Mobility: MobilityConfig{
			DefaultModel:    model,
			Accel:           viper.GetFloat64("mobility.accelCmS2"),
			Decel:           viper.GetFloat64("mobility.decelCmS2"),
			LateralAccel:    viper.GetFloat64("mobility.lateralAccelCmS2"),
			MinGap:          viper.GetFloat64("mobility.minGapCm"),
			TimeHeadway:     viper.GetDuration("mobility.timeHeadway"),
			Politeness:      viper.GetFloat64("mobility.politeness"),
			ChangeThreshold: viper.GetFloat64("mobility.changeThresholdCmS2"),
			SafeDecel:       viper.GetFloat64("mobility.safeDecelCmS2"),
		},
	}

	cfg.ApplyExchangeRules()
	if err := cfg.Validate(); err != nil {
		return SimulationConfig{}, err
	}
	return cfg, nil
}

// RSUTechnique reports whether an RSU positioning technique is active. Both
// strategies run on attacker RSUs, whichever exchanges feed them.
func (c SimulationConfig) RSUTechnique() bool {
	return c.Attacker.Enabled
}

// ApplyExchangeRules forces RSU↔RSU exchange on while any RSU-based technique is active.
func (c *SimulationConfig) ApplyExchangeRules() {
	if c.RSUTechnique() {
		c.Radio.Exchange.RSUToRSU = true
	}
}

// Validate rejects configurations the simulation cannot start with.
func (c SimulationConfig) Validate() error {
	switch {
	case c.Tick <= 0:
		return invalid("simulation.tickMs", "must be positive, got %d", c.Tick)
	case c.MapWidth <= 0 || c.MapHeight <= 0:
		return invalid("simulation.mapWidth/mapHeight", "map must have positive size, got %gx%g", c.MapWidth, c.MapHeight)
	case c.RegionWidth < MinRegionSize:
		return invalid("simulation.regionWidth", "must be at least %g, got %g", MinRegionSize, c.RegionWidth)
	case c.RegionHeight < MinRegionSize:
		return invalid("simulation.regionHeight", "must be at least %g, got %g", MinRegionSize, c.RegionHeight)
	case c.Radio.RSURadius <= 0:
		return invalid("rsu.radius", "must be positive, got %g", c.Radio.RSURadius)
	case c.Radio.AttackerRadius <= 0:
		return invalid("rsu.attackerRadius", "must be positive, got %g", c.Radio.AttackerRadius)
	case c.Radio.VehicleRadius <= 0:
		return invalid("rssi.vehicleRadius", "must be positive, got %g", c.Radio.VehicleRadius)
	case c.Radio.Exponent <= 0:
		return invalid("rssi.exponent", "must be positive, got %g", c.Radio.Exponent)
	case c.Radio.NoiseStdDB < 0:
		return invalid("rssi.noiseStdDB", "must not be negative, got %g", c.Radio.NoiseStdDB)
	case c.Attacker.AllowedError < 0:
		return invalid("attacker.allowedError", "must not be negative, got %g", c.Attacker.AllowedError)
	case c.Privacy.Lookback < 0:
		return invalid("pseudonym.lookbackMs", "must not be negative, got %d", c.Privacy.Lookback)
	case c.Privacy.ChangeInterval < 0:
		return invalid("pseudonym.changeIntervalMs", "must not be negative, got %d", c.Privacy.ChangeInterval)
	}

	if sp := c.Privacy.SilentPeriod; sp.Enabled {
		if sp.Duration <= 0 {
			return invalid("silentPeriod.durationMs", "must be positive, got %d", sp.Duration)
		}
		if sp.Frequency <= sp.Duration {
			return invalid("silentPeriod.frequencyMs", "must exceed the duration (%d), got %d", sp.Duration, sp.Frequency)
		}
	}
	if ss := c.Privacy.SlowSpeed; ss.Enabled {
		if ss.Threshold <= 0 {
			return invalid("slowSpeed.thresholdKmh", "must be positive")
		}
		if ss.PseudonymChangeTime < 0 {
			return invalid("slowSpeed.pseudonymChangeTimeMs", "must not be negative, got %d", ss.PseudonymChangeTime)
		}
	}
	if c.RSUTechnique() && !c.Radio.Exchange.RSUToRSU {
		return invalid("rssi.exchange.rsuRsu", "cannot be disabled while an RSU positioning technique is active")
	}
	return nil
}
