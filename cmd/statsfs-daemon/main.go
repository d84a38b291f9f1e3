// Copyright 2026 The Statsfs Authors
// SPDX-License-Identifier: Apache-2.0

// statsfs-daemon mounts both telemetry surfaces and feeds them with
// the network-device producer.
//
// The stats surface appears at the stats mountpoint: one directory
// per source, text files per counter, a .schema file per directory.
// The metrics surface appears at the metrics mountpoint with the
// four-file-per-metric layout. Counters are re-read from
// /proc/net/dev on a fixed interval until SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/statsfs-foundation/statsfs/metrics"
	"github.com/statsfs-foundation/statsfs/metrics/metricfuse"
	"github.com/statsfs-foundation/statsfs/producers/netdev"
	"github.com/statsfs-foundation/statsfs/stats/statsfuse"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "statsfs-daemon: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string

	flagSet := pflag.NewFlagSet("statsfs-daemon", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a YAML config file")
	statsMount := flagSet.String("stats-mount", "", "stats surface mountpoint (overrides config)")
	metricsMount := flagSet.String("metrics-mount", "", "metrics surface mountpoint (overrides config)")
	mountOptions := flagSet.String("mount-options", "", "stats mount options: uid=<u>,gid=<g>,mode=<octal>")
	refresh := flagSet.Duration("refresh", 0, "counter refresh interval (overrides config)")
	logLevel := flagSet.String("log-level", "", "log level: debug, info, warn, error")
	procPath := flagSet.String("proc-path", "", "counter table path (default /proc/net/dev)")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	config, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	config.override(*statsMount, *metricsMount, *mountOptions, *refresh, *logLevel)

	level, err := parseLogLevel(config.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Mount both surfaces before wiring producers so a mount
	// failure aborts without leaving half a daemon running.
	statsServer, err := statsfuse.Mount(statsfuse.Options{
		Mountpoint:   config.StatsMountpoint,
		MountOptions: config.MountOptions,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer unmountSurface(logger, "stats", statsServer.Unmount)

	metricsServer, err := metricfuse.Mount(metricfuse.Options{
		Mountpoint: config.MetricsMountpoint,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer unmountSurface(logger, "metrics", metricsServer.Unmount)

	registry, err := metrics.NewRegistry(metricsServer, logger)
	if err != nil {
		return err
	}
	defer registry.Close()

	producer, err := netdev.New(netdev.Options{ProcPath: *procPath, Logger: logger})
	if err != nil {
		return err
	}
	defer producer.Close()

	if err := producer.Source().Register(statsServer); err != nil {
		return err
	}
	if err := producer.RegisterMetrics(registry); err != nil {
		return err
	}

	logger.Info("statsfs-daemon ready",
		"stats_mountpoint", config.StatsMountpoint,
		"metrics_mountpoint", config.MetricsMountpoint,
		"refresh", time.Duration(config.RefreshInterval),
	)

	ticker := time.NewTicker(time.Duration(config.RefreshInterval))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
			if err := producer.Refresh(); err != nil {
				logger.Warn("counter refresh failed", "error", err)
			}
		}
	}
}

func unmountSurface(logger *slog.Logger, surface string, unmount func() error) {
	if err := unmount(); err != nil {
		logger.Warn("unmount failed", "surface", surface, "error", err)
	}
}

func parseLogLevel(name string) (slog.Level, error) {
	switch name {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}
