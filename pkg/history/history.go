// Package history reduces persisted check records into the shapes the
// dashboard consumes: recency-ordered lists, per-region summary tiles, and
// capped time series ready for charting.
//
// Every operation is a pure function of its inputs and the record store:
// the reducer keeps no state between calls, so concurrent invocations are
// trivially safe and identical store contents always produce identical
// output.
package history

import (
	"context"
	"fmt"
	"sort"

	"github.com/mfaltys/regiond/pkg/probe"
	"github.com/mfaltys/regiond/pkg/region"
	"github.com/mfaltys/regiond/pkg/store"
)

const (
	// DefaultRecentLimit is the record count for the recent-history list.
	DefaultRecentLimit = 20

	// ChartWindow is how many recent records feed the chart reduction.
	ChartWindow = 100

	// MaxSeriesPoints caps each chart series to its most recent points.
	MaxSeriesPoints = 30
)

// RegionNamer resolves region ids to display metadata. *region.Registry
// satisfies it.
type RegionNamer interface {
	Get(id string) (region.Region, bool)
}

// Querier is the read side of the store the reducer depends on.
type Querier interface {
	QueryRecent(ctx context.Context, regionIDs []string, limit int) ([]store.CheckRecord, error)
	QuerySummary(ctx context.Context, regionID string, checkType probe.Kind) (store.Summary, error)
}

// Reducer answers history queries scoped to a caller-supplied region set.
type Reducer struct {
	querier Querier
	names   RegionNamer
	palette Palette
}

// New creates a Reducer. A nil palette falls back to the neutral color for
// every region.
func New(querier Querier, names RegionNamer, palette Palette) (*Reducer, error) {
	if querier == nil {
		return nil, fmt.Errorf("history: querier must not be nil")
	}
	if names == nil {
		return nil, fmt.Errorf("history: region namer must not be nil")
	}
	return &Reducer{
		querier: querier,
		names:   names,
		palette: palette,
	}, nil
}

// Recent returns the most recent records across the given regions, newest
// first. A non-positive limit falls back to DefaultRecentLimit; an empty
// region set yields an empty slice, never an error.
func (r *Reducer) Recent(ctx context.Context, regionIDs []string, limit int) ([]store.CheckRecord, error) {
	if limit < 1 {
		limit = DefaultRecentLimit
	}
	if len(regionIDs) == 0 {
		return []store.CheckRecord{}, nil
	}
	return r.querier.QueryRecent(ctx, regionIDs, limit)
}

// Summaries returns rolling statistics for every (region, check type) pair
// that has records, in the caller's region order with check types in their
// display order.
func (r *Reducer) Summaries(ctx context.Context, regionIDs []string) ([]store.Summary, error) {
	out := []store.Summary{}
	for _, id := range regionIDs {
		for _, kind := range probe.Kinds {
			sum, err := r.querier.QuerySummary(ctx, id, kind)
			if err != nil {
				return nil, fmt.Errorf("history: summary for %s/%s: %w", id, kind, err)
			}
			if sum.Count == 0 {
				continue
			}
			out = append(out, sum)
		}
	}
	return out, nil
}

// SeriesPoint is one charted sample.
type SeriesPoint struct {
	Time  int64   `json:"x"` // unix milliseconds
	Value float64 `json:"y"`
}

// Series is one region's charted history for a single check kind.
type Series struct {
	RegionID  string        `json:"region_id"`
	Label     string        `json:"label"`
	Points    []SeriesPoint `json:"data"`
	Color     string        `json:"borderColor"`
	FillColor string        `json:"backgroundColor"`
}

// ChartData maps each check kind to its per-region series.
type ChartData map[probe.Kind][]Series

// ChartData reduces the recent record window into chart series: records are
// grouped by (region, check kind), filtered to successes carrying a metric
// value, sorted ascending by check time (record id breaks ties), and capped
// to the MaxSeriesPoints most recent points. Regions appear in the caller's
// order; empty groups produce no series. An empty region set yields a map
// with an empty series list per kind.
func (r *Reducer) ChartData(ctx context.Context, regionIDs []string) (ChartData, error) {
	out := ChartData{}
	for _, kind := range probe.Kinds {
		out[kind] = []Series{}
	}
	if len(regionIDs) == 0 {
		return out, nil
	}

	recs, err := r.querier.QueryRecent(ctx, regionIDs, ChartWindow)
	if err != nil {
		return nil, fmt.Errorf("history: chart window query: %w", err)
	}

	grouped := map[string]map[probe.Kind][]store.CheckRecord{}
	for _, rec := range recs {
		if !rec.Success || rec.MetricValue == nil {
			continue
		}
		byKind, ok := grouped[rec.RegionID]
		if !ok {
			byKind = map[probe.Kind][]store.CheckRecord{}
			grouped[rec.RegionID] = byKind
		}
		byKind[rec.CheckType] = append(byKind[rec.CheckType], rec)
	}

	for _, id := range regionIDs {
		byKind, ok := grouped[id]
		if !ok {
			continue
		}

		label := id
		if reg, ok := r.names.Get(id); ok {
			label = reg.Name
		}
		color := r.palette.Color(id)

		for _, kind := range probe.Kinds {
			samples := byKind[kind]
			if len(samples) == 0 {
				continue
			}

			sort.SliceStable(samples, func(i, j int) bool {
				a, b := samples[i], samples[j]
				if !a.CheckedAt.Equal(b.CheckedAt) {
					return a.CheckedAt.Before(b.CheckedAt)
				}
				return a.ID < b.ID
			})
			if len(samples) > MaxSeriesPoints {
				samples = samples[len(samples)-MaxSeriesPoints:]
			}

			points := make([]SeriesPoint, len(samples))
			for i, rec := range samples {
				points[i] = SeriesPoint{
					Time:  rec.CheckedAt.UnixMilli(),
					Value: *rec.MetricValue,
				}
			}

			out[kind] = append(out[kind], Series{
				RegionID:  id,
				Label:     label,
				Points:    points,
				Color:     color,
				FillColor: Translucent(color),
			})
		}
	}

	return out, nil
}
