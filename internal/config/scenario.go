package config

import (
	"time"

	"github.com/spf13/viper"
)

// ScenarioConfig describes the synthetic straight-road scenario the CLI builds.
type ScenarioConfig struct {
	Vehicles     int           `json:"vehicles" mapstructure:"vehicles"`
	RSUs         int           `json:"rsus" mapstructure:"rsus"`
	AttackerRSUs int           `json:"attackerRSUs" mapstructure:"attackerRSUs"`
	Ticks        int           `json:"ticks" mapstructure:"ticks"`
	SpeedKmh     float64       `json:"speedKmh" mapstructure:"speedKmh"`
	Lanes        int           `json:"lanes" mapstructure:"lanes"`
	LaneWidth    float64       `json:"laneWidth" mapstructure:"laneWidth"`
	Interval     time.Duration `json:"intervalMs" mapstructure:"intervalMs"`
	TraceFile    string        `json:"traceFile" mapstructure:"traceFile"`
	StatusDir    string        `json:"statusDir" mapstructure:"statusDir"`
}

func setScenarioDefaults() {
	viper.SetDefault("scenario.vehicles", 20)
	viper.SetDefault("scenario.rsus", 4)
	viper.SetDefault("scenario.attackerRSUs", 3)
	viper.SetDefault("scenario.ticks", 300)
	viper.SetDefault("scenario.speedKmh", 50.0)
	viper.SetDefault("scenario.lanes", 2)
	viper.SetDefault("scenario.laneWidth", 350.0)
	viper.SetDefault("scenario.intervalMs", 0)
	viper.SetDefault("scenario.traceFile", "")
	viper.SetDefault("scenario.statusDir", "")
	viper.SetDefault("db.timescale", false)
}

// GetScenarioConfig returns the CLI scenario configuration.
func GetScenarioConfig() ScenarioConfig {
	return ScenarioConfig{
		Vehicles:     viper.GetInt("scenario.vehicles"),
		RSUs:         viper.GetInt("scenario.rsus"),
		AttackerRSUs: viper.GetInt("scenario.attackerRSUs"),
		Ticks:        viper.GetInt("scenario.ticks"),
		SpeedKmh:     viper.GetFloat64("scenario.speedKmh"),
		Lanes:        viper.GetInt("scenario.lanes"),
		LaneWidth:    viper.GetFloat64("scenario.laneWidth"),
		Interval:     time.Duration(viper.GetInt64("scenario.intervalMs")) * time.Millisecond,
		TraceFile:    viper.GetString("scenario.traceFile"),
		StatusDir:    viper.GetString("scenario.statusDir"),
	}
}
