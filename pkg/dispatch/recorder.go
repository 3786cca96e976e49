package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mfaltys/regiond/pkg/probe"
	"github.com/mfaltys/regiond/pkg/store"
)

// Recorder normalizes probe results into check records and appends them to
// the store. Every probe invocation produces exactly one record; a write
// failure is returned to the caller rather than swallowed.
type Recorder struct {
	store store.Store
}

// NewRecorder creates a Recorder writing to the given store.
func NewRecorder(st store.Store) (*Recorder, error) {
	if st == nil {
		return nil, fmt.Errorf("dispatch: recorder store must not be nil")
	}
	return &Recorder{store: st}, nil
}

// Record persists one probe result for the region, tagged with the
// requester key, and returns the stored record.
func (r *Recorder) Record(ctx context.Context, regionID string, res probe.Result, requesterKey string) (store.CheckRecord, error) {
	rec := store.CheckRecord{
		ID:           uuid.NewString(),
		RegionID:     regionID,
		CheckType:    res.Kind,
		Success:      res.Success,
		Error:        res.ErrorMessage(),
		CheckedAt:    res.Timestamp,
		RequesterKey: requesterKey,
	}

	if v, ok := res.MetricValue(); ok {
		rec.MetricValue = &v
	}

	if err := r.store.AppendCheck(ctx, rec); err != nil {
		return store.CheckRecord{}, err
	}
	return rec, nil
}
