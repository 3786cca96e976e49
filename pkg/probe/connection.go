package probe

import (
	"context"
	"fmt"
	"time"
)

// Connection is a single round-trip reachability probe: one TCP dial to the
// region endpoint, reporting the elapsed time on success.
type Connection struct {
	dialer EndpointDialer
}

// NewConnection creates a Connection probe using the given dialer.
func NewConnection(dialer EndpointDialer) (*Connection, error) {
	if dialer == nil {
		return nil, fmt.Errorf("connection: dialer must not be nil")
	}
	return &Connection{dialer: dialer}, nil
}

// Kind returns KindConnection.
func (c *Connection) Kind() Kind {
	return KindConnection
}

// Run executes the probe against the target. Failures of any sort (timeout,
// refused, resolution) are captured into the Result.
func (c *Connection) Run(ctx context.Context, target Target) Result {
	elapsed, err := c.dialer.Dial(ctx, target.Endpoint)
	if err != nil {
		return failure(KindConnection, err)
	}

	return Result{
		Kind:      KindConnection,
		Timestamp: time.Now(),
		Success:   true,
		Connection: &ConnectionMetrics{
			LatencyMS: durationMS(elapsed),
		},
	}
}

// durationMS converts a duration to fractional milliseconds.
func durationMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
