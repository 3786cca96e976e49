package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/mfaltys/regiond/pkg/flag"
)

func TestTestAll_OneEntryPerRegionInOrder(t *testing.T) {
	f := newFixture(t)

	outcomes, err := f.dispatcher.TestAll(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"us-east", "eu-west", "asia-pacific"}
	if len(outcomes) != len(want) {
		t.Fatalf("expected %d outcomes, got %d", len(want), len(outcomes))
	}
	for i, id := range want {
		if outcomes[i].RegionID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, outcomes[i].RegionID)
		}
		if !outcomes[i].Result.Success {
			t.Errorf("region %s: expected success, got %v", id, outcomes[i].Result.Err)
		}
	}

	if f.store.Len() != 3 {
		t.Errorf("expected 3 records, got %d", f.store.Len())
	}
}

func TestTestAll_FailureIsolation(t *testing.T) {
	f := newFixture(t)
	f.conn.failFor["eu-west.example.com:5432"] = true

	outcomes, err := f.dispatcher.TestAll(context.Background(), "alice")
	if err != nil {
		t.Fatalf("one region's failure must not abort the run: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("expected exactly 3 outcomes, got %d", len(outcomes))
	}

	byRegion := map[string]RegionOutcome{}
	for _, o := range outcomes {
		byRegion[o.RegionID] = o
	}
	if !byRegion["us-east"].Result.Success {
		t.Error("us-east should have succeeded")
	}
	if byRegion["eu-west"].Result.Success {
		t.Error("eu-west should have failed")
	}
	if byRegion["eu-west"].Result.Err == nil {
		t.Error("eu-west outcome should carry the probe error")
	}
	if !byRegion["asia-pacific"].Result.Success {
		t.Error("asia-pacific should have succeeded")
	}

	// Failures are recorded too.
	if f.store.Len() != 3 {
		t.Errorf("expected all 3 outcomes recorded, got %d", f.store.Len())
	}
}

func TestTestAll_EachRegionProbedOnce(t *testing.T) {
	f := newFixture(t)

	if _, err := f.dispatcher.TestAll(context.Background(), "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.conn.calls.Load(); got != 3 {
		t.Errorf("expected exactly 3 probe invocations, got %d", got)
	}
}

func TestTestAll_FeatureGate(t *testing.T) {
	f := newFixture(t)
	f.flags.disabledFeatures[flag.FeatureTestAll] = true

	_, err := f.dispatcher.TestAll(context.Background(), "alice")
	if !errors.Is(err, ErrFeatureDisabled) {
		t.Fatalf("expected ErrFeatureDisabled, got %v", err)
	}
	if f.conn.calls.Load() != 0 {
		t.Error("gated orchestration must never probe")
	}
}

func TestTestAll_NoEnabledRegions(t *testing.T) {
	f := newFixture(t)
	for _, id := range f.flags.regions {
		f.flags.disabledRegions[id] = true
	}

	_, err := f.dispatcher.TestAll(context.Background(), "alice")
	if !errors.Is(err, ErrNoRegions) {
		t.Fatalf("expected ErrNoRegions, got %v", err)
	}
}

func TestTestAll_SkipsDisabledRegions(t *testing.T) {
	f := newFixture(t)
	f.flags.disabledRegions["eu-west"] = true

	outcomes, err := f.dispatcher.TestAll(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	for _, o := range outcomes {
		if o.RegionID == "eu-west" {
			t.Error("disabled region must not be probed")
		}
	}
}

func TestTestAll_UnknownRegionInFlagSet(t *testing.T) {
	f := newFixture(t)
	f.flags.regions = append(f.flags.regions, "ghost-region")

	outcomes, err := f.dispatcher.TestAll(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcomes) != 4 {
		t.Fatalf("expected 4 outcomes, got %d", len(outcomes))
	}

	last := outcomes[3]
	if last.RegionID != "ghost-region" {
		t.Fatalf("expected ghost-region last, got %s", last.RegionID)
	}
	if last.Result.Success {
		t.Error("unknown region outcome should be a failure")
	}
	if !errors.Is(last.Result.Err, ErrUnknownRegion) {
		t.Errorf("expected ErrUnknownRegion in outcome, got %v", last.Result.Err)
	}
}

func TestTestAll_RecordFailureStaysInOutcome(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("disk full")
	f.store.FailAppends(boom)

	outcomes, err := f.dispatcher.TestAll(context.Background(), "alice")
	if err != nil {
		t.Fatalf("record failures must not abort the run: %v", err)
	}
	for _, o := range outcomes {
		if !errors.Is(o.RecordErr, boom) {
			t.Errorf("region %s: expected record error, got %v", o.RegionID, o.RecordErr)
		}
		if !o.Result.Success {
			t.Errorf("region %s: probe outcome should still be success", o.RegionID)
		}
	}
}

func TestTestAll_CancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.dispatcher.TestAll(ctx, "alice"); err == nil {
		t.Error("expected error for cancelled context")
	}
}
