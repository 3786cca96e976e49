// Package server exposes the probe engine over HTTP: per-region check
// endpoints, history and chart queries, a websocket live feed, and
// Prometheus metrics. It also owns the background sweep that tests every
// region on a schedule.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/mfaltys/regiond/pkg/dispatch"
	"github.com/mfaltys/regiond/pkg/flag"
	"github.com/mfaltys/regiond/pkg/history"
	"github.com/mfaltys/regiond/pkg/region"
)

// sweepRequesterKey identifies checks triggered by the background sweep.
const sweepRequesterKey = "scheduler"

// Config assembles the dependencies of a Server.
type Config struct {
	// Listen is the HTTP listen address, e.g. ":1982".
	Listen string

	// Regions is the live region registry.
	Regions *region.Registry

	// Flags gates which regions and features each requester may use.
	Flags flag.Service

	// Dispatcher runs and records probes.
	Dispatcher *dispatch.Dispatcher

	// History answers the read-side queries.
	History *history.Reducer

	// SweepSchedule is a cron expression for the background test-all
	// sweep. Empty disables the sweep.
	SweepSchedule string

	// LatencyIterations and LoadConcurrent are passed through to the
	// dispatcher for the respective check kinds. Zero means the probe
	// executor's default.
	LatencyIterations int
	LoadConcurrent    int

	// Logger is optional; a default logrus logger is used when nil.
	Logger *logrus.Logger
}

// Server is the HTTP front of the engine.
type Server struct {
	listen            string
	regions           *region.Registry
	flags             flag.Service
	dispatcher        *dispatch.Dispatcher
	history           *history.Reducer
	sweepSchedule     string
	latencyIterations int
	loadConcurrent    int

	logger  *logrus.Logger
	metrics *metrics
	hub     *hub
	cron    *cron.Cron
	httpSrv *http.Server
}

// New creates a Server. It does not start listening; call Start.
func New(cfg Config) (*Server, error) {
	if cfg.Regions == nil {
		return nil, fmt.Errorf("server: region registry must not be nil")
	}
	if cfg.Flags == nil {
		return nil, fmt.Errorf("server: flag service must not be nil")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("server: dispatcher must not be nil")
	}
	if cfg.History == nil {
		return nil, fmt.Errorf("server: history reducer must not be nil")
	}
	if cfg.Listen == "" {
		return nil, fmt.Errorf("server: listen address must not be empty")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}

	s := &Server{
		listen:            cfg.Listen,
		regions:           cfg.Regions,
		flags:             cfg.Flags,
		dispatcher:        cfg.Dispatcher,
		history:           cfg.History,
		sweepSchedule:     cfg.SweepSchedule,
		latencyIterations: cfg.LatencyIterations,
		loadConcurrent:    cfg.LoadConcurrent,
		logger:            logger,
		metrics:           newMetrics(),
		hub:               newHub(logger),
	}

	if s.sweepSchedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(s.sweepSchedule, s.sweep); err != nil {
			return nil, fmt.Errorf("server: invalid sweep schedule %q: %w", s.sweepSchedule, err)
		}
		s.cron = c
	}

	// The hub runs from construction so Stop never blocks on an unstarted
	// feed loop.
	go s.hub.run()

	return s, nil
}

// Start begins serving HTTP and kicks off the live feed hub and the
// background sweep. It returns once the listener goroutine is launched.
func (s *Server) Start() {
	if s.cron != nil {
		s.logger.Infof("Starting background sweep on schedule %q...", s.sweepSchedule)
		s.cron.Start()
	}

	s.httpSrv = &http.Server{
		Addr:              s.listen,
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		s.logger.Infof("Starting API server on %s...", s.listen)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatalf("Failed to start API server: %v", err)
		}
	}()
}

// Stop gracefully shuts down the sweep, the live feed, and the HTTP server.
// The context bounds how long in-flight requests may take to drain.
func (s *Server) Stop(ctx context.Context) {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Errorf("HTTP shutdown: %v", err)
		}
	}

	s.hub.stop()
	s.logger.Info("Server stopped.")
}

// sweep runs the connection probe across every enabled region and publishes
// the outcomes to the live feed. Scheduled runs use a fixed requester key so
// flag overrides can target them.
func (s *Server) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	start := time.Now()
	outcomes, err := s.dispatcher.TestAll(ctx, sweepRequesterKey)
	if err != nil {
		s.logger.Errorf("Sweep failed: %v", err)
		return
	}

	for _, oc := range outcomes {
		s.observeOutcome(oc)
		s.publishResult(oc.RegionID, oc.Result)
	}
	s.logger.Infof("Sweep finished: %d regions in %v", len(outcomes), time.Since(start))
}

// observeOutcome feeds one multi-region outcome into the Prometheus metrics.
func (s *Server) observeOutcome(oc dispatch.RegionOutcome) {
	outcome := "failure"
	if oc.Result.Success && oc.RecordErr == nil {
		outcome = "success"
	}
	s.metrics.checksTotal.WithLabelValues(oc.RegionID, string(oc.Result.Kind), outcome).Inc()
}
