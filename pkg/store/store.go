// Package store persists check records and answers the history queries the
// reducer is built on. Records are write-once: the engine appends one record
// per probe invocation and never updates or deletes them.
//
// Two backends are provided: a SQLite backend for the daemon and an
// in-memory backend with the same semantics for tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mfaltys/regiond/pkg/probe"
)

// SummaryWindow bounds how many recent records per region and check type
// feed a summary.
const SummaryWindow = 100

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// CheckRecord is the persisted, immutable outcome of one probe invocation.
type CheckRecord struct {
	// ID uniquely identifies the record (a UUID assigned at append time).
	ID string `json:"id"`

	// RegionID is the probed region.
	RegionID string `json:"region_id"`

	// CheckType is the probe kind that produced this record.
	CheckType probe.Kind `json:"check_type"`

	// Success is the probe outcome.
	Success bool `json:"success"`

	// MetricValue is the single representative numeric signal for charting,
	// nil when the probe failed or produced no usable metric.
	MetricValue *float64 `json:"metric_value"`

	// Error is the captured probe error text, empty on success.
	Error string `json:"error,omitempty"`

	// CheckedAt is when the probe executed.
	CheckedAt time.Time `json:"checked_at"`

	// RequesterKey identifies the caller that triggered the probe. It is
	// used for per-requester flag scoping, not access control.
	RequesterKey string `json:"requester_key"`
}

// Summary aggregates recent records for one region and check type.
type Summary struct {
	RegionID     string     `json:"region_id"`
	CheckType    probe.Kind `json:"check_type"`
	Count        int        `json:"count"`
	SuccessCount int        `json:"success_count"`
	SuccessRate  float64    `json:"success_rate"`
	AvgMetric    float64    `json:"avg_metric"`
	LastChecked  time.Time  `json:"last_checked"`
}

// Store is the persistence contract for check records. Appends must be
// atomic per record so concurrent probes never interleave partial writes.
type Store interface {
	// AppendCheck persists one record. The record's ID must be set.
	AppendCheck(ctx context.Context, rec CheckRecord) error

	// QueryRecent returns up to limit records across the given regions,
	// newest first (checked_at descending, id descending on ties). An
	// empty region set yields an empty result.
	QueryRecent(ctx context.Context, regionIDs []string, limit int) ([]CheckRecord, error)

	// QuerySummary aggregates the most recent SummaryWindow records for
	// one region and check type. A region with no records yields a
	// zero-count Summary, not an error.
	QuerySummary(ctx context.Context, regionID string, checkType probe.Kind) (Summary, error)

	// Close releases the store's resources.
	Close() error
}

// summarize folds a record batch into a Summary. The average covers only
// successful records carrying a metric value.
func summarize(regionID string, checkType probe.Kind, recs []CheckRecord) Summary {
	s := Summary{RegionID: regionID, CheckType: checkType}

	var metricSum float64
	var metricCount int
	for _, rec := range recs {
		s.Count++
		if rec.Success {
			s.SuccessCount++
		}
		if rec.Success && rec.MetricValue != nil {
			metricSum += *rec.MetricValue
			metricCount++
		}
		if rec.CheckedAt.After(s.LastChecked) {
			s.LastChecked = rec.CheckedAt
		}
	}

	if s.Count > 0 {
		s.SuccessRate = float64(s.SuccessCount) / float64(s.Count)
	}
	if metricCount > 0 {
		s.AvgMetric = metricSum / float64(metricCount)
	}
	return s
}
