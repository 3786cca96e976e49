package dispatch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mfaltys/regiond/pkg/flag"
	"github.com/mfaltys/regiond/pkg/probe"
)

// RegionOutcome is one region's result within a multi-region run. A failed
// probe or a failed record write stays inside the outcome; neither aborts
// the other regions.
type RegionOutcome struct {
	RegionID  string       `json:"region_id"`
	Result    probe.Result `json:"result"`
	RecordErr error        `json:"-"`
}

// TestAll runs the connection probe concurrently across every region the
// requester is allowed to probe.
//
// Guarantees: the returned slice has exactly one outcome per enabled
// region, in the flag service's region order; each region is probed exactly
// once; one region's failure never suppresses the others. Fan-out is capped
// by the dispatcher's max fanout. Only context cancellation aborts the run,
// in which case outcomes already recorded are kept.
func (d *Dispatcher) TestAll(ctx context.Context, requesterKey string) ([]RegionOutcome, error) {
	if !d.flags.FeatureEnabled(flag.FeatureTestAll, requesterKey) {
		return nil, fmt.Errorf("%w: test all regions", ErrFeatureDisabled)
	}

	ids := d.flags.EnabledRegions(requesterKey)
	if len(ids) == 0 {
		return nil, ErrNoRegions
	}

	return d.probeAll(ctx, ids, requesterKey)
}

// probeAll fans the connection probe out over the given region ids. Each
// goroutine writes only its own slot, so the outcomes need no locking.
func (d *Dispatcher) probeAll(ctx context.Context, ids []string, requesterKey string) ([]RegionOutcome, error) {
	outcomes := make([]RegionOutcome, len(ids))
	sem := semaphore.NewWeighted(d.maxFanout)

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		if err := sem.Acquire(gctx, 1); err != nil {
			g.Wait()
			return nil, fmt.Errorf("dispatch: orchestration cancelled: %w", err)
		}

		g.Go(func() error {
			defer sem.Release(1)

			outcomes[i] = RegionOutcome{RegionID: id}

			reg, ok := d.regions.Get(id)
			if !ok {
				outcomes[i].Result = probe.Result{
					Kind:    probe.KindConnection,
					Success: false,
					Err:     fmt.Errorf("%w: %s", ErrUnknownRegion, id),
				}
				return nil
			}

			res := d.probers.Connection.Run(gctx, reg.Target())
			outcomes[i].Result = res

			if _, err := d.recorder.Record(gctx, id, res, requesterKey); err != nil {
				d.logger.Errorf("Failed to record connection check for region %s: %v", id, err)
				outcomes[i].RecordErr = err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("dispatch: orchestration cancelled: %w", err)
	}
	return outcomes, nil
}
