// Copyright 2026 The Statsfs Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes YAML scalars in time.ParseDuration form ("30s",
// "1m30s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the daemon configuration. The config file is optional;
// every field has a default and every field can be overridden by a
// flag. There is no automatic discovery — the file is read only when
// --config names it.
type Config struct {
	// StatsMountpoint is where the stats surface is mounted.
	StatsMountpoint string `yaml:"stats_mountpoint"`

	// MetricsMountpoint is where the metrics surface is mounted.
	MetricsMountpoint string `yaml:"metrics_mountpoint"`

	// MountOptions is the uid=,gid=,mode= option string for the
	// stats surface root.
	MountOptions string `yaml:"mount_options"`

	// RefreshInterval is how often counters are re-read.
	RefreshInterval Duration `yaml:"refresh_interval"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

func defaultConfig() Config {
	return Config{
		StatsMountpoint:   "/run/statsfs",
		MetricsMountpoint: "/run/metricfs",
		RefreshInterval:   Duration(5 * time.Second),
		LogLevel:          "info",
	}
}

// loadConfig reads the YAML file into the defaults. An empty path
// returns the defaults unchanged.
func loadConfig(path string) (Config, error) {
	config := defaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if config.RefreshInterval <= 0 {
		return config, fmt.Errorf("config %s: refresh_interval must be positive", path)
	}
	return config, nil
}

// override applies non-zero flag values on top of the config.
func (c *Config) override(statsMount, metricsMount, mountOptions string, refresh time.Duration, logLevel string) {
	if statsMount != "" {
		c.StatsMountpoint = statsMount
	}
	if metricsMount != "" {
		c.MetricsMountpoint = metricsMount
	}
	if mountOptions != "" {
		c.MountOptions = mountOptions
	}
	if refresh > 0 {
		c.RefreshInterval = Duration(refresh)
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
}
