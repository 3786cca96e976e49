package store

import (
	"context"
	"sort"
	"sync"

	"github.com/mfaltys/regiond/pkg/probe"
)

// Memory implements Store in process memory. It mirrors the SQLite
// backend's query semantics and adds failure injection, which makes it the
// standard test double for persistence failures.
type Memory struct {
	mu        sync.RWMutex
	records   []CheckRecord
	appendErr error
	queryErr  error
	closed    bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// FailAppends makes subsequent AppendCheck calls return err. Pass nil to
// restore normal operation.
func (m *Memory) FailAppends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendErr = err
}

// FailQueries makes subsequent queries return err. Pass nil to restore
// normal operation.
func (m *Memory) FailQueries(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryErr = err
}

// AppendCheck stores one record.
func (m *Memory) AppendCheck(_ context.Context, rec CheckRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.appendErr != nil {
		return m.appendErr
	}
	m.records = append(m.records, rec)
	return nil
}

// QueryRecent returns up to limit records across the given regions, newest
// first.
func (m *Memory) QueryRecent(_ context.Context, regionIDs []string, limit int) ([]CheckRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	if len(regionIDs) == 0 || limit < 1 {
		return []CheckRecord{}, nil
	}

	wanted := make(map[string]struct{}, len(regionIDs))
	for _, id := range regionIDs {
		wanted[id] = struct{}{}
	}

	matched := []CheckRecord{}
	for _, rec := range m.records {
		if _, ok := wanted[rec.RegionID]; ok {
			matched = append(matched, rec)
		}
	}
	sortNewestFirst(matched)

	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// QuerySummary aggregates the most recent SummaryWindow records for one
// region and check type.
func (m *Memory) QuerySummary(_ context.Context, regionID string, checkType probe.Kind) (Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Summary{}, ErrClosed
	}
	if m.queryErr != nil {
		return Summary{}, m.queryErr
	}

	matched := []CheckRecord{}
	for _, rec := range m.records {
		if rec.RegionID == regionID && rec.CheckType == checkType {
			matched = append(matched, rec)
		}
	}
	sortNewestFirst(matched)

	if len(matched) > SummaryWindow {
		matched = matched[:SummaryWindow]
	}
	return summarize(regionID, checkType, matched), nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Close marks the store closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// sortNewestFirst orders records by checked_at descending with id
// descending as the tie-breaker, matching the SQLite backend.
func sortNewestFirst(recs []CheckRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].CheckedAt.Equal(recs[j].CheckedAt) {
			return recs[i].CheckedAt.After(recs[j].CheckedAt)
		}
		return recs[i].ID > recs[j].ID
	})
}
