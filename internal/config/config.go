// Package config loads settings from an optional YAML file and
// LOADSHIFT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loadshift/loadshift/internal/engine"
	"github.com/loadshift/loadshift/internal/forecast"
)

// Config carries every tunable the CLI and daemon share.
type Config struct {
	DBPath string

	Site    forecast.Site
	System  forecast.SystemConfig
	Scoring engine.ScoringConfig

	ListenAddr   string
	MetricsAddr  string
	PlanInterval time.Duration

	MQTTBroker      string
	MQTTClientID    string
	MQTTTopicPrefix string
}

// Load reads configuration. With an empty path it looks for
// $HOME/.loadshift/config.yaml and falls back to defaults when absent;
// an explicitly named file must exist.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("db.path", "")
	v.SetDefault("site.latitude", 38.58157)
	v.SetDefault("site.longitude", -121.49440)
	v.SetDefault("site.timezone", "America/Los_Angeles")
	v.SetDefault("pv.kwp", 3.0)
	v.SetDefault("pv.inverter_efficiency", 0.9)
	v.SetDefault("carbon.peak_start_hour", 16.0)
	v.SetDefault("carbon.peak_end_hour", 21.0)
	v.SetDefault("carbon.peak_co2", 520.0)
	v.SetDefault("carbon.offpeak_co2", 380.0)
	v.SetDefault("scoring.solar_credit_weight", 0.25)
	v.SetDefault("scoring.default_grid_co2", 400.0)
	v.SetDefault("scoring.baseline_grid_co2", 520.0)
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.metrics_listen", ":9091")
	v.SetDefault("server.plan_interval", "1h")
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "loadshift")
	v.SetDefault("mqtt.topic_prefix", "loadshift")

	v.SetEnvPrefix("LOADSHIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".loadshift"))
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				var notFound viper.ConfigFileNotFoundError
				if !errors.As(err, &notFound) {
					return nil, fmt.Errorf("reading config: %w", err)
				}
			}
		}
	}

	cfg := &Config{
		DBPath: v.GetString("db.path"),
		Site: forecast.Site{
			Latitude:  v.GetFloat64("site.latitude"),
			Longitude: v.GetFloat64("site.longitude"),
			Timezone:  v.GetString("site.timezone"),
		},
		System: forecast.SystemConfig{
			KWp:                v.GetFloat64("pv.kwp"),
			InverterEfficiency: v.GetFloat64("pv.inverter_efficiency"),
			PeakStartHour:      v.GetFloat64("carbon.peak_start_hour"),
			PeakEndHour:        v.GetFloat64("carbon.peak_end_hour"),
			PeakGridCO2:        v.GetFloat64("carbon.peak_co2"),
			OffPeakGridCO2:     v.GetFloat64("carbon.offpeak_co2"),
		},
		Scoring: engine.ScoringConfig{
			SolarCreditWeight: v.GetFloat64("scoring.solar_credit_weight"),
			DefaultGridCO2:    v.GetFloat64("scoring.default_grid_co2"),
			BaselineGridCO2:   v.GetFloat64("scoring.baseline_grid_co2"),
		},
		ListenAddr:      v.GetString("server.listen"),
		MetricsAddr:     v.GetString("server.metrics_listen"),
		PlanInterval:    v.GetDuration("server.plan_interval"),
		MQTTBroker:      v.GetString("mqtt.broker"),
		MQTTClientID:    v.GetString("mqtt.client_id"),
		MQTTTopicPrefix: v.GetString("mqtt.topic_prefix"),
	}

	if cfg.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving database path: %w", err)
		}
		dir := filepath.Join(home, ".loadshift")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
		cfg.DBPath = filepath.Join(dir, "loadshift.db")
	}

	return cfg, nil
}
