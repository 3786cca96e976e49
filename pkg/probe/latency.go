package probe

import (
	"context"
	"fmt"
	"time"
)

// DefaultIterations is the default number of latency probe attempts.
const DefaultIterations = 5

// Latency measures connection latency statistics over repeated sequential
// attempts against the region endpoint.
//
// Success policy: the probe succeeds when at least one attempt succeeds, and
// the avg/min/max statistics are computed over the successful attempts only.
// The attempt and success counts are reported so callers can tell a clean
// run from a partially failed one.
type Latency struct {
	dialer     EndpointDialer
	iterations int
}

// LatencyOption is a functional option for configuring a Latency probe.
type LatencyOption func(*Latency) error

// WithIterations sets the default attempt count used when Run is called
// with a non-positive iteration count.
func WithIterations(n int) LatencyOption {
	return func(l *Latency) error {
		if n < 1 {
			return fmt.Errorf("iterations must be at least 1, got %d", n)
		}
		l.iterations = n
		return nil
	}
}

// NewLatency creates a Latency probe using the given dialer.
func NewLatency(dialer EndpointDialer, opts ...LatencyOption) (*Latency, error) {
	if dialer == nil {
		return nil, fmt.Errorf("latency: dialer must not be nil")
	}

	l := &Latency{
		dialer:     dialer,
		iterations: DefaultIterations,
	}

	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, fmt.Errorf("latency: %w", err)
		}
	}

	return l, nil
}

// Kind returns KindLatency.
func (l *Latency) Kind() Kind {
	return KindLatency
}

// Run executes iterations sequential connection attempts against the target.
// A non-positive iterations falls back to the configured default. If every
// attempt fails the Result is a failure carrying the last attempt's error.
func (l *Latency) Run(ctx context.Context, target Target, iterations int) Result {
	if iterations < 1 {
		iterations = l.iterations
	}

	var (
		total    time.Duration
		min      time.Duration
		max      time.Duration
		attempts int
		succs    int
		lastErr  error
	)

	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		attempts++

		elapsed, err := l.dialer.Dial(ctx, target.Endpoint)
		if err != nil {
			lastErr = err
			continue
		}

		if succs == 0 || elapsed < min {
			min = elapsed
		}
		if elapsed > max {
			max = elapsed
		}
		total += elapsed
		succs++
	}

	if succs == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("no attempts completed")
		}
		return failure(KindLatency, fmt.Errorf("all %d attempts failed: %w", attempts, lastErr))
	}

	return Result{
		Kind:      KindLatency,
		Timestamp: time.Now(),
		Success:   true,
		Latency: &LatencyMetrics{
			AvgMS:     durationMS(total / time.Duration(succs)),
			MinMS:     durationMS(min),
			MaxMS:     durationMS(max),
			Attempts:  attempts,
			Succeeded: succs,
		},
	}
}
