// Package probe implements the four probe kinds used to test a database
// region: connection, latency, load, and health.
//
// Each prober executes against a Target and returns a Result. Results have
// a uniform shape regardless of kind: a success flag, a timestamp, an
// optional error, and a kind-specific metrics struct that is non-nil only
// when the probe succeeded. Transport and protocol errors are captured into
// the Result's Err field, never raised to the caller.
package probe

import (
	"time"
)

// Kind identifies a probe type. The string values are stable: they are
// persisted in check records and used as chart grouping keys.
type Kind string

const (
	// KindConnection is a single round-trip reachability test.
	KindConnection Kind = "connection"

	// KindLatency measures latency statistics over repeated attempts.
	KindLatency Kind = "latency"

	// KindLoad opens concurrent connections to measure load capacity.
	KindLoad Kind = "load_test"

	// KindHealth queries the region's live status endpoint.
	KindHealth Kind = "health"
)

// Kinds lists all probe kinds in display order.
var Kinds = []Kind{KindConnection, KindLatency, KindLoad, KindHealth}

// Target describes the endpoints of one region under test.
type Target struct {
	// Endpoint is the host:port of the region's database endpoint.
	Endpoint string

	// HealthURL is the URL of the region's status endpoint, used only by
	// the health probe.
	HealthURL string
}

// ConnectionMetrics holds the measurements of a successful connection probe.
type ConnectionMetrics struct {
	LatencyMS float64 `json:"latency_ms"`
}

// LatencyMetrics holds the measurements of a latency probe. Avg, Min and
// Max are computed over the successful attempts only.
type LatencyMetrics struct {
	AvgMS     float64 `json:"avg_latency_ms"`
	MinMS     float64 `json:"min_latency_ms"`
	MaxMS     float64 `json:"max_latency_ms"`
	Attempts  int     `json:"iterations"`
	Succeeded int     `json:"successful_iterations"`
}

// LoadMetrics holds the measurements of a load probe.
type LoadMetrics struct {
	SuccessfulConnections int     `json:"successful_connections"`
	AvgLatencyMS          float64 `json:"avg_latency_ms"`
}

// HealthMetrics holds the measurements of a health probe.
type HealthMetrics struct {
	ActiveConnections int     `json:"active_connections"`
	CacheHitRatio     float64 `json:"cache_hit_ratio"`
}

// Result captures the outcome of a single probe execution. Exactly one of
// the kind-specific metrics fields is non-nil, and only when Success is
// true; a failed probe carries Err and no metrics.
type Result struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Err       error     `json:"-"`

	Connection *ConnectionMetrics `json:"connection,omitempty"`
	Latency    *LatencyMetrics    `json:"latency,omitempty"`
	Load       *LoadMetrics       `json:"load,omitempty"`
	Health     *HealthMetrics     `json:"health,omitempty"`
}

// ErrorMessage returns the captured error text, or "" on success.
func (r Result) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// MetricValue returns the single representative numeric signal for this
// result, used for persistence and charting: latency in milliseconds for
// connection and latency probes, the successful connection count for load
// probes, and the cache hit ratio for health probes. The second return is
// false when the result carries no usable metric.
func (r Result) MetricValue() (float64, bool) {
	if !r.Success {
		return 0, false
	}
	switch r.Kind {
	case KindConnection:
		if r.Connection != nil {
			return r.Connection.LatencyMS, true
		}
	case KindLatency:
		if r.Latency != nil {
			return r.Latency.AvgMS, true
		}
	case KindLoad:
		if r.Load != nil {
			return float64(r.Load.SuccessfulConnections), true
		}
	case KindHealth:
		if r.Health != nil {
			return r.Health.CacheHitRatio, true
		}
	}
	return 0, false
}

// failure builds a failed Result for the given kind with the error captured.
func failure(kind Kind, err error) Result {
	return Result{
		Kind:      kind,
		Timestamp: time.Now(),
		Success:   false,
		Err:       err,
	}
}
