package probe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultConcurrent is the default number of simultaneous load connections.
const DefaultConcurrent = 10

// Load opens a burst of simultaneous connections against the region
// endpoint and reports how many succeeded and the average latency over the
// successes. Exactly one goroutine per requested connection is started, so
// the fan-out never exceeds the requested count. Attempt starts can
// optionally be paced with a rate limiter to soften the burst.
type Load struct {
	dialer     EndpointDialer
	concurrent int
	limiter    *rate.Limiter
}

// LoadOption is a functional option for configuring a Load probe.
type LoadOption func(*Load) error

// WithConcurrent sets the default connection count used when Run is called
// with a non-positive count.
func WithConcurrent(n int) LoadOption {
	return func(l *Load) error {
		if n < 1 {
			return fmt.Errorf("concurrent must be at least 1, got %d", n)
		}
		l.concurrent = n
		return nil
	}
}

// WithPacing limits the rate at which attempts are started, in attempts per
// second. Without this option attempts start immediately.
func WithPacing(perSecond float64) LoadOption {
	return func(l *Load) error {
		if perSecond <= 0 {
			return fmt.Errorf("pacing rate must be positive, got %v", perSecond)
		}
		l.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		return nil
	}
}

// NewLoad creates a Load probe using the given dialer.
func NewLoad(dialer EndpointDialer, opts ...LoadOption) (*Load, error) {
	if dialer == nil {
		return nil, fmt.Errorf("load: dialer must not be nil")
	}

	l := &Load{
		dialer:     dialer,
		concurrent: DefaultConcurrent,
		limiter:    rate.NewLimiter(rate.Inf, 1),
	}

	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, fmt.Errorf("load: %w", err)
		}
	}

	return l, nil
}

// Kind returns KindLoad.
func (l *Load) Kind() Kind {
	return KindLoad
}

// Run opens concurrent simultaneous connections to the target. A
// non-positive concurrent falls back to the configured default. Each
// attempt is made exactly once; there are no retries. The probe fails only
// when every attempt fails.
func (l *Load) Run(ctx context.Context, target Target, concurrent int) Result {
	if concurrent < 1 {
		concurrent = l.concurrent
	}

	type attempt struct {
		elapsed time.Duration
		err     error
	}

	results := make([]attempt, concurrent)
	var wg sync.WaitGroup

	for i := 0; i < concurrent; i++ {
		if err := l.limiter.Wait(ctx); err != nil {
			results[i] = attempt{err: err}
			continue
		}

		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			elapsed, err := l.dialer.Dial(ctx, target.Endpoint)
			results[slot] = attempt{elapsed: elapsed, err: err}
		}(i)
	}
	wg.Wait()

	var (
		total   time.Duration
		succs   int
		lastErr error
	)
	for _, a := range results {
		if a.err != nil {
			lastErr = a.err
			continue
		}
		total += a.elapsed
		succs++
	}

	if succs == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("no attempts completed")
		}
		return failure(KindLoad, fmt.Errorf("all %d connections failed: %w", concurrent, lastErr))
	}

	return Result{
		Kind:      KindLoad,
		Timestamp: time.Now(),
		Success:   true,
		Load: &LoadMetrics{
			SuccessfulConnections: succs,
			AvgLatencyMS:          durationMS(total / time.Duration(succs)),
		},
	}
}
