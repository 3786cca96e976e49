package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mfaltys/regiond/pkg/flag"
	"github.com/mfaltys/regiond/pkg/probe"
	"github.com/mfaltys/regiond/pkg/region"
	"github.com/mfaltys/regiond/pkg/store"
)

// fakeFlags is a flag.Service with explicit deny lists.
type fakeFlags struct {
	regions          []string
	disabledRegions  map[string]bool
	disabledFeatures map[flag.Feature]bool
}

func (f *fakeFlags) RegionEnabled(regionID, _ string) bool {
	return !f.disabledRegions[regionID]
}

func (f *fakeFlags) EnabledRegions(_ string) []string {
	out := []string{}
	for _, id := range f.regions {
		if !f.disabledRegions[id] {
			out = append(out, id)
		}
	}
	return out
}

func (f *fakeFlags) FeatureEnabled(feature flag.Feature, _ string) bool {
	return !f.disabledFeatures[feature]
}

// fakeRegions is a RegionSource over a fixed map.
type fakeRegions map[string]region.Region

func (f fakeRegions) Get(id string) (region.Region, bool) {
	r, ok := f[id]
	return r, ok
}

// stubProber counts invocations and returns scripted per-target results.
type stubProber struct {
	kind    probe.Kind
	calls   atomic.Int64
	failFor map[string]bool // endpoint -> fail
}

func (s *stubProber) result(target probe.Target) probe.Result {
	s.calls.Add(1)
	if s.failFor[target.Endpoint] {
		return probe.Result{
			Kind:      s.kind,
			Timestamp: time.Now(),
			Success:   false,
			Err:       errors.New("connection refused"),
		}
	}
	res := probe.Result{
		Kind:      s.kind,
		Timestamp: time.Now(),
		Success:   true,
	}
	switch s.kind {
	case probe.KindConnection:
		res.Connection = &probe.ConnectionMetrics{LatencyMS: 12}
	case probe.KindLatency:
		res.Latency = &probe.LatencyMetrics{AvgMS: 10, MinMS: 5, MaxMS: 15, Attempts: 5, Succeeded: 5}
	case probe.KindLoad:
		res.Load = &probe.LoadMetrics{SuccessfulConnections: 10, AvgLatencyMS: 8}
	case probe.KindHealth:
		res.Health = &probe.HealthMetrics{ActiveConnections: 3, CacheHitRatio: 0.9}
	}
	return res
}

func (s *stubProber) Run(_ context.Context, target probe.Target) probe.Result {
	return s.result(target)
}

// paramProber adapts stubProber for the latency/load signatures and keeps
// the last parameter it was called with.
type paramProber struct {
	stubProber
	lastParam atomic.Int64
}

func (p *paramProber) Run(_ context.Context, target probe.Target, param int) probe.Result {
	p.lastParam.Store(int64(param))
	return p.result(target)
}

type fixture struct {
	dispatcher *Dispatcher
	flags      *fakeFlags
	store      *store.Memory
	conn       *stubProber
	latency    *paramProber
	load       *paramProber
	health     *stubProber
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	regions := fakeRegions{
		"us-east":      {ID: "us-east", Name: "US East", Endpoint: "us-east.example.com:5432"},
		"eu-west":      {ID: "eu-west", Name: "EU West", Endpoint: "eu-west.example.com:5432"},
		"asia-pacific": {ID: "asia-pacific", Name: "Asia Pacific", Endpoint: "ap.example.com:5432"},
	}
	flags := &fakeFlags{
		regions:          []string{"us-east", "eu-west", "asia-pacific"},
		disabledRegions:  map[string]bool{},
		disabledFeatures: map[flag.Feature]bool{},
	}
	mem := store.NewMemory()

	f := &fixture{
		flags:   flags,
		store:   mem,
		conn:    &stubProber{kind: probe.KindConnection, failFor: map[string]bool{}},
		latency: &paramProber{stubProber: stubProber{kind: probe.KindLatency, failFor: map[string]bool{}}},
		load:    &paramProber{stubProber: stubProber{kind: probe.KindLoad, failFor: map[string]bool{}}},
		health:  &stubProber{kind: probe.KindHealth, failFor: map[string]bool{}},
	}

	d, err := New(regions, flags, mem, Probers{
		Connection: f.conn,
		Latency:    f.latency,
		Load:       f.load,
		Health:     f.health,
	})
	if err != nil {
		t.Fatalf("failed to build dispatcher: %v", err)
	}
	f.dispatcher = d
	return f
}

func TestTestConnection_RecordsResult(t *testing.T) {
	f := newFixture(t)

	res, err := f.dispatcher.TestConnection(context.Background(), "us-east", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %v", res.Err)
	}

	recs, err := f.store.QueryRecent(context.Background(), []string{"us-east"}, 10)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.ID == "" {
		t.Error("record should have an id")
	}
	if rec.CheckType != probe.KindConnection {
		t.Errorf("unexpected check type %s", rec.CheckType)
	}
	if rec.RequesterKey != "alice" {
		t.Errorf("unexpected requester key %q", rec.RequesterKey)
	}
	if rec.MetricValue == nil || *rec.MetricValue != 12 {
		t.Errorf("unexpected metric value %v", rec.MetricValue)
	}
}

func TestTestConnection_DisabledRegion(t *testing.T) {
	f := newFixture(t)
	f.flags.disabledRegions["us-east"] = true

	_, err := f.dispatcher.TestConnection(context.Background(), "us-east", "alice")
	if !errors.Is(err, ErrRegionDisabled) {
		t.Fatalf("expected ErrRegionDisabled, got %v", err)
	}
	if f.conn.calls.Load() != 0 {
		t.Error("disabled region must never invoke the prober")
	}
	if f.store.Len() != 0 {
		t.Error("disabled region must not be recorded")
	}
}

func TestTestConnection_UnknownRegion(t *testing.T) {
	f := newFixture(t)

	_, err := f.dispatcher.TestConnection(context.Background(), "mars-north", "alice")
	if !errors.Is(err, ErrUnknownRegion) {
		t.Fatalf("expected ErrUnknownRegion, got %v", err)
	}
	if f.conn.calls.Load() != 0 {
		t.Error("unknown region must never invoke the prober")
	}
}

func TestTestConnection_ProbeFailureIsNotAnError(t *testing.T) {
	f := newFixture(t)
	f.conn.failFor["us-east.example.com:5432"] = true

	res, err := f.dispatcher.TestConnection(context.Background(), "us-east", "alice")
	if err != nil {
		t.Fatalf("probe failure should not be a dispatch error, got %v", err)
	}
	if res.Success {
		t.Error("expected failed result")
	}

	// The failure is still recorded.
	recs, _ := f.store.QueryRecent(context.Background(), []string{"us-east"}, 10)
	if len(recs) != 1 || recs[0].Success {
		t.Errorf("expected one failed record, got %+v", recs)
	}
	if recs[0].MetricValue != nil {
		t.Error("failed record should carry no metric value")
	}
	if recs[0].Error == "" {
		t.Error("failed record should carry the error text")
	}
}

func TestTestConnection_RecordFailure(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("disk full")
	f.store.FailAppends(boom)

	res, err := f.dispatcher.TestConnection(context.Background(), "us-east", "alice")

	var recErr *RecordError
	if !errors.As(err, &recErr) {
		t.Fatalf("expected *RecordError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("record error should wrap the storage error, got %v", err)
	}
	if !recErr.Result.Success {
		t.Error("record error should carry the successful probe result")
	}
	if !res.Success {
		t.Error("returned result should still reflect the probe outcome")
	}
}

func TestMeasureLatency_PassesIterations(t *testing.T) {
	f := newFixture(t)

	if _, err := f.dispatcher.MeasureLatency(context.Background(), "eu-west", "alice", 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.latency.lastParam.Load() != 7 {
		t.Errorf("expected iterations 7, got %d", f.latency.lastParam.Load())
	}
}

func TestLoadTest_FeatureGate(t *testing.T) {
	f := newFixture(t)
	f.flags.disabledFeatures[flag.FeatureLoadTesting] = true

	_, err := f.dispatcher.LoadTest(context.Background(), "us-east", "alice", 10)
	if !errors.Is(err, ErrFeatureDisabled) {
		t.Fatalf("expected ErrFeatureDisabled, got %v", err)
	}
	if f.load.calls.Load() != 0 {
		t.Error("gated feature must never invoke the prober")
	}
}

func TestHealthCheck_FeatureGate(t *testing.T) {
	f := newFixture(t)
	f.flags.disabledFeatures[flag.FeatureHealthChecks] = true

	_, err := f.dispatcher.HealthCheck(context.Background(), "us-east", "alice")
	if !errors.Is(err, ErrFeatureDisabled) {
		t.Fatalf("expected ErrFeatureDisabled, got %v", err)
	}
	if f.health.calls.Load() != 0 {
		t.Error("gated feature must never invoke the prober")
	}
}

func TestHealthCheck_Success(t *testing.T) {
	f := newFixture(t)

	res, err := f.dispatcher.HealthCheck(context.Background(), "asia-pacific", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Health == nil || res.Health.CacheHitRatio != 0.9 {
		t.Errorf("unexpected health metrics %+v", res.Health)
	}

	recs, _ := f.store.QueryRecent(context.Background(), []string{"asia-pacific"}, 10)
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].MetricValue == nil || *recs[0].MetricValue != 0.9 {
		t.Errorf("health record should store the hit ratio, got %v", recs[0].MetricValue)
	}
}
