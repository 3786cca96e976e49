package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mfaltys/regiond/pkg/config"
	"github.com/mfaltys/regiond/pkg/dispatch"
	fflag "github.com/mfaltys/regiond/pkg/flag"
	"github.com/mfaltys/regiond/pkg/history"
	"github.com/mfaltys/regiond/pkg/probe"
	"github.com/mfaltys/regiond/pkg/region"
	"github.com/mfaltys/regiond/pkg/server"
	"github.com/mfaltys/regiond/pkg/store"
)

func main() {
	configPath := flag.String("config", "", "path to the regiond configuration file")
	flag.Parse()

	logger := logrus.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatalf("Invalid log level %q: %v", cfg.LogLevel, err)
	}
	logger.SetLevel(level)

	registry, err := region.NewRegistry(cfg.RegionsFile)
	if err != nil {
		logger.Fatalf("Failed to load regions: %v", err)
	}
	logger.Infof("Loaded %d regions from %s", registry.Len(), cfg.RegionsFile)

	watcher, err := region.NewWatcher(registry, logger)
	if err != nil {
		logger.Fatalf("Failed to watch regions file: %v", err)
	}
	defer watcher.Stop()

	st, err := store.NewSQLite(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	probers, err := buildProbers(cfg.Probe)
	if err != nil {
		logger.Fatalf("Failed to build probers: %v", err)
	}

	flags := fflag.NewStatic(cfg.Flags, registry)

	dispatcher, err := dispatch.New(registry, flags, st, probers,
		dispatch.WithMaxFanout(cfg.MaxFanout),
		dispatch.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("Failed to build dispatcher: %v", err)
	}

	reducer, err := history.New(st, registry, history.Palette(cfg.Colors))
	if err != nil {
		logger.Fatalf("Failed to build history reducer: %v", err)
	}

	srv, err := server.New(server.Config{
		Listen:            cfg.Listen,
		Regions:           registry,
		Flags:             flags,
		Dispatcher:        dispatcher,
		History:           reducer,
		SweepSchedule:     cfg.SweepSchedule,
		LatencyIterations: cfg.Probe.LatencyIterations,
		LoadConcurrent:    cfg.Probe.LoadConcurrent,
		Logger:            logger,
	})
	if err != nil {
		logger.Fatalf("Failed to build server: %v", err)
	}

	srv.Start()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	logger.Info("regiond is running. Press Ctrl+C to stop.")
	<-stop
	logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Stop(ctx)
}

// buildProbers wires the four probe executors over a shared dialer.
func buildProbers(cfg config.ProbeConfig) (dispatch.Probers, error) {
	dialerOpts := []probe.DialerOption{
		probe.WithDialTimeout(cfg.DialTimeout),
		probe.WithResolveTimeout(cfg.ResolveTimeout),
	}
	if cfg.Resolver != "" {
		dialerOpts = append(dialerOpts, probe.WithResolver(cfg.Resolver))
	}
	dialer, err := probe.NewDialer(dialerOpts...)
	if err != nil {
		return dispatch.Probers{}, err
	}

	connection, err := probe.NewConnection(dialer)
	if err != nil {
		return dispatch.Probers{}, err
	}

	var latencyOpts []probe.LatencyOption
	if cfg.LatencyIterations > 0 {
		latencyOpts = append(latencyOpts, probe.WithIterations(cfg.LatencyIterations))
	}
	latency, err := probe.NewLatency(dialer, latencyOpts...)
	if err != nil {
		return dispatch.Probers{}, err
	}

	var loadOpts []probe.LoadOption
	if cfg.LoadConcurrent > 0 {
		loadOpts = append(loadOpts, probe.WithConcurrent(cfg.LoadConcurrent))
	}
	load, err := probe.NewLoad(dialer, loadOpts...)
	if err != nil {
		return dispatch.Probers{}, err
	}

	health, err := probe.NewHealth(probe.WithHealthTimeout(cfg.HealthTimeout))
	if err != nil {
		return dispatch.Probers{}, err
	}

	return dispatch.Probers{
		Connection: connection,
		Latency:    latency,
		Load:       load,
		Health:     health,
	}, nil
}
