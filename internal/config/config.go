// Package config loads console configuration from an optional YAML
// file with environment variable overrides on top.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full console configuration. CLI flags override
// whatever is loaded here.
type Config struct {
	Backend struct {
		// BaseURL is the REST endpoint for jobs and manifests.
		BaseURL string `yaml:"base_url" env:"PITCHSIGHT_BACKEND_URL"`
		// StreamURL is the streaming endpoint; the session id is
		// appended as the final path element.
		StreamURL string `yaml:"stream_url" env:"PITCHSIGHT_STREAM_URL"`
	} `yaml:"backend"`

	Stream struct {
		Width       int     `yaml:"width" env:"PITCHSIGHT_WIDTH"`
		Height      int     `yaml:"height" env:"PITCHSIGHT_HEIGHT"`
		NormalFPS   float64 `yaml:"normal_fps" env:"PITCHSIGHT_NORMAL_FPS"`
		DegradedFPS float64 `yaml:"degraded_fps" env:"PITCHSIGHT_DEGRADED_FPS"`
	} `yaml:"stream"`

	Job struct {
		PollInterval time.Duration `yaml:"poll_interval" env:"PITCHSIGHT_POLL_INTERVAL"`
	} `yaml:"job"`

	Debug struct {
		// Addr serves /metrics and /healthz when non-empty.
		Addr string `yaml:"addr" env:"PITCHSIGHT_DEBUG_ADDR"`
	} `yaml:"debug"`

	Log struct {
		Level string `yaml:"level" env:"PITCHSIGHT_LOG_LEVEL"`
		Color bool   `yaml:"color" env:"PITCHSIGHT_LOG_COLOR"`
	} `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Backend.BaseURL = "http://localhost:8000"
	cfg.Backend.StreamURL = "ws://localhost:8000/stream"
	cfg.Stream.Width = 640
	cfg.Stream.Height = 480
	cfg.Stream.NormalFPS = 15
	cfg.Stream.DegradedFPS = 5
	cfg.Job.PollInterval = 2 * time.Second
	cfg.Log.Level = "info"
	return cfg
}

// Load builds the configuration: defaults, then the YAML file when
// given, then environment overrides. A missing explicit file is an
// error; an empty filename skips the file layer.
func Load(filename string) (*Config, error) {
	cfg := Default()

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", filename, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", filename, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	return cfg, nil
}
