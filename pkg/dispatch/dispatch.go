// Package dispatch runs probes against feature-gated regions, records
// every outcome, and orchestrates multi-region fan-out.
//
// The dispatcher is the seam between the HTTP layer and the probe
// executors: it checks the requester's gates, resolves the region, invokes
// the right executor, and persists the result. Gate and configuration
// failures are surfaced as sentinel errors before any probe runs; probe
// failures live inside the returned Result; persistence failures after a
// completed probe come back as a *RecordError carrying the result.
package dispatch

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mfaltys/regiond/pkg/flag"
	"github.com/mfaltys/regiond/pkg/probe"
	"github.com/mfaltys/regiond/pkg/region"
	"github.com/mfaltys/regiond/pkg/store"
)

// RegionSource resolves region ids to regions. *region.Registry satisfies it.
type RegionSource interface {
	Get(id string) (region.Region, bool)
}

// ConnectionProber runs a single reachability probe.
type ConnectionProber interface {
	Run(ctx context.Context, target probe.Target) probe.Result
}

// LatencyProber runs a repeated-attempt latency probe.
type LatencyProber interface {
	Run(ctx context.Context, target probe.Target, iterations int) probe.Result
}

// LoadProber runs a concurrent-connection load probe.
type LoadProber interface {
	Run(ctx context.Context, target probe.Target, concurrent int) probe.Result
}

// HealthProber runs a status-endpoint health probe.
type HealthProber interface {
	Run(ctx context.Context, target probe.Target) probe.Result
}

// Probers bundles the four executors the dispatcher fans work out to.
type Probers struct {
	Connection ConnectionProber
	Latency    LatencyProber
	Load       LoadProber
	Health     HealthProber
}

// DefaultMaxFanout caps how many regions the orchestrator probes at once.
const DefaultMaxFanout = 16

// Dispatcher runs gated probes against single regions and region sets.
type Dispatcher struct {
	regions   RegionSource
	flags     flag.Service
	recorder  *Recorder
	probers   Probers
	maxFanout int64
	logger    *logrus.Logger
}

// Option is a functional option for configuring a Dispatcher.
type Option func(*Dispatcher) error

// WithMaxFanout bounds the orchestrator's concurrent region probes.
func WithMaxFanout(n int) Option {
	return func(d *Dispatcher) error {
		if n < 1 {
			return fmt.Errorf("max fanout must be at least 1, got %d", n)
		}
		d.maxFanout = int64(n)
		return nil
	}
}

// WithLogger sets the dispatcher's logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(d *Dispatcher) error {
		if logger == nil {
			return fmt.Errorf("logger must not be nil")
		}
		d.logger = logger
		return nil
	}
}

// New creates a Dispatcher.
func New(regions RegionSource, flags flag.Service, st store.Store, probers Probers, opts ...Option) (*Dispatcher, error) {
	if regions == nil {
		return nil, fmt.Errorf("dispatch: region source must not be nil")
	}
	if flags == nil {
		return nil, fmt.Errorf("dispatch: flag service must not be nil")
	}
	if probers.Connection == nil || probers.Latency == nil || probers.Load == nil || probers.Health == nil {
		return nil, fmt.Errorf("dispatch: all four probers are required")
	}

	recorder, err := NewRecorder(st)
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		regions:   regions,
		flags:     flags,
		recorder:  recorder,
		probers:   probers,
		maxFanout: DefaultMaxFanout,
		logger:    logrus.New(),
	}

	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, fmt.Errorf("dispatch: %w", err)
		}
	}

	return d, nil
}

// resolve applies the region gate and registry lookup shared by every
// single-region operation. It never runs a probe.
func (d *Dispatcher) resolve(regionID, requesterKey string) (region.Region, error) {
	if !d.flags.RegionEnabled(regionID, requesterKey) {
		return region.Region{}, fmt.Errorf("%w: %s", ErrRegionDisabled, regionID)
	}
	reg, ok := d.regions.Get(regionID)
	if !ok {
		return region.Region{}, fmt.Errorf("%w: %s", ErrUnknownRegion, regionID)
	}
	return reg, nil
}

// finish records a completed probe result. A persistence failure is
// returned as a *RecordError so a successful probe with a failed write is
// never reported as a plain success.
func (d *Dispatcher) finish(ctx context.Context, regionID string, res probe.Result, requesterKey string) (probe.Result, error) {
	if _, err := d.recorder.Record(ctx, regionID, res, requesterKey); err != nil {
		d.logger.Errorf("Failed to record %s check for region %s: %v", res.Kind, regionID, err)
		return res, &RecordError{Result: res, Err: err}
	}
	return res, nil
}

// TestConnection runs a single reachability probe against one region.
func (d *Dispatcher) TestConnection(ctx context.Context, regionID, requesterKey string) (probe.Result, error) {
	reg, err := d.resolve(regionID, requesterKey)
	if err != nil {
		return probe.Result{}, err
	}

	res := d.probers.Connection.Run(ctx, reg.Target())
	return d.finish(ctx, regionID, res, requesterKey)
}

// MeasureLatency runs the latency probe against one region. A non-positive
// iterations falls back to the executor's default.
func (d *Dispatcher) MeasureLatency(ctx context.Context, regionID, requesterKey string, iterations int) (probe.Result, error) {
	reg, err := d.resolve(regionID, requesterKey)
	if err != nil {
		return probe.Result{}, err
	}

	res := d.probers.Latency.Run(ctx, reg.Target(), iterations)
	return d.finish(ctx, regionID, res, requesterKey)
}

// LoadTest runs the load probe against one region. Gated by the load
// testing feature in addition to the region gate.
func (d *Dispatcher) LoadTest(ctx context.Context, regionID, requesterKey string, concurrent int) (probe.Result, error) {
	if !d.flags.FeatureEnabled(flag.FeatureLoadTesting, requesterKey) {
		return probe.Result{}, fmt.Errorf("%w: load testing", ErrFeatureDisabled)
	}

	reg, err := d.resolve(regionID, requesterKey)
	if err != nil {
		return probe.Result{}, err
	}

	res := d.probers.Load.Run(ctx, reg.Target(), concurrent)
	return d.finish(ctx, regionID, res, requesterKey)
}

// HealthCheck runs the health probe against one region. Gated by the
// health checks feature in addition to the region gate.
func (d *Dispatcher) HealthCheck(ctx context.Context, regionID, requesterKey string) (probe.Result, error) {
	if !d.flags.FeatureEnabled(flag.FeatureHealthChecks, requesterKey) {
		return probe.Result{}, fmt.Errorf("%w: health checks", ErrFeatureDisabled)
	}

	reg, err := d.resolve(regionID, requesterKey)
	if err != nil {
		return probe.Result{}, err
	}

	res := d.probers.Health.Run(ctx, reg.Target())
	return d.finish(ctx, regionID, res, requesterKey)
}
