package main

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/breeze-rmm/swtrack/internal/config"
	"github.com/breeze-rmm/swtrack/internal/health"
	"github.com/breeze-rmm/swtrack/internal/inventory"
	"github.com/breeze-rmm/swtrack/internal/regquery"
	"github.com/breeze-rmm/swtrack/internal/scanner"
	"github.com/breeze-rmm/swtrack/internal/storage"
	"github.com/breeze-rmm/swtrack/internal/tracker"
)

// app is everything a command needs, built from the loaded config.
type app struct {
	store    *inventory.Store
	svc      *tracker.Service
	health   *health.Monitor
	registry *prometheus.Registry
}

func newApp(cfg *config.Config) (*app, error) {
	store, err := inventory.Open(storage.NewFlatFile(cfg.DataFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load inventory: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := scanner.NewMetrics(reg)

	monitor := health.NewMonitor(scanner.Components...)
	monitor.Update(scanner.ComponentStorage, health.Healthy, fmt.Sprintf("%d records loaded from %s", store.Len(), cfg.DataFile))

	runner := scanner.InstrumentRunner(
		regquery.NewExecRunner(time.Duration(cfg.Scan.CommandTimeoutSeconds)*time.Second, cfg.Scan.MaxOutputLines),
		metrics,
	)
	rich := &scanner.RichQuery{
		Runner: runner,
		Paths:  cfg.Scan.PowerShellPaths,
		Script: cfg.Scan.RichQueryScript,
	}
	raw := &scanner.RawEnum{
		Runner:    runner,
		Tool:      cfg.Scan.RegTool,
		Roots:     cfg.Scan.RegistryRoots,
		Prefix:    cfg.Scan.SubkeyPrefix,
		Separator: cfg.Scan.ValueSeparator,
	}
	sc := scanner.New(store, rich, raw, scanner.WithMetrics(metrics), scanner.WithHealth(monitor))

	return &app{
		store:    store,
		svc:      tracker.New(store, sc),
		health:   monitor,
		registry: reg,
	}, nil
}
