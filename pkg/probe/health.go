package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultHealthTimeout is the default status request timeout.
const DefaultHealthTimeout = 5 * time.Second

// maxHealthBody caps how much of a status response is read.
const maxHealthBody = 1 << 20

// Health queries a region's status endpoint for live health metrics. It is
// a single request/response with no iteration: the endpoint returns a JSON
// body with the active connection count and cache hit ratio.
type Health struct {
	timeout time.Duration
	client  *http.Client
}

// HealthOption is a functional option for configuring a Health probe.
type HealthOption func(*Health) error

// WithHealthTimeout sets the status request timeout.
func WithHealthTimeout(d time.Duration) HealthOption {
	return func(h *Health) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", d)
		}
		h.timeout = d
		return nil
	}
}

// NewHealth creates a Health probe.
func NewHealth(opts ...HealthOption) (*Health, error) {
	h := &Health{
		timeout: DefaultHealthTimeout,
	}

	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, fmt.Errorf("health: %w", err)
		}
	}

	h.client = &http.Client{
		Timeout: h.timeout,
	}

	return h, nil
}

// Kind returns KindHealth.
func (h *Health) Kind() Kind {
	return KindHealth
}

// healthBody is the expected JSON shape of a region status response.
type healthBody struct {
	ActiveConnections int     `json:"active_connections"`
	CacheHitRatio     float64 `json:"cache_hit_ratio"`
}

// Run fetches the target's status endpoint and parses the health metrics.
// Transport errors, non-200 responses, and malformed bodies all become a
// failed Result.
func (h *Health) Run(ctx context.Context, target Target) Result {
	if target.HealthURL == "" {
		return failure(KindHealth, fmt.Errorf("no health endpoint configured"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.HealthURL, nil)
	if err != nil {
		return failure(KindHealth, fmt.Errorf("health request for %s: %w", target.HealthURL, err))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return failure(KindHealth, fmt.Errorf("health request to %s failed: %w", target.HealthURL, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return failure(KindHealth, fmt.Errorf("health endpoint %s returned status %d", target.HealthURL, resp.StatusCode))
	}

	var body healthBody
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxHealthBody))
	if err := dec.Decode(&body); err != nil {
		return failure(KindHealth, fmt.Errorf("health response from %s: %w", target.HealthURL, err))
	}

	return Result{
		Kind:      KindHealth,
		Timestamp: time.Now(),
		Success:   true,
		Health: &HealthMetrics{
			ActiveConnections: body.ActiveConnections,
			CacheHitRatio:     body.CacheHitRatio,
		},
	}
}
