package server

import (
	"net/http"

	"golang.org/x/time/rate"
)

// Shared rate limit across all clients. Generous for dashboards, tight
// enough to keep a misbehaving script from hammering the probe endpoints.
const (
	rateLimitPerSecond = 50
	rateLimitBurst     = 100
)

// handler builds the full HTTP stack: routes plus the middleware chain.
// Tests exercise the same stack without a listening socket.
func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/regions", s.handleRegions)
	mux.HandleFunc("GET /api/regions/summary", s.handleSummary)
	mux.HandleFunc("GET /api/regions/locations", s.handleLocations)

	mux.HandleFunc("POST /api/regions/test-all", s.handleTestAll)
	mux.HandleFunc("POST /api/regions/{id}/test", s.handleTestConnection)
	mux.HandleFunc("POST /api/regions/{id}/latency", s.handleLatency)
	mux.HandleFunc("POST /api/regions/{id}/load-test", s.handleLoadTest)
	mux.HandleFunc("POST /api/regions/{id}/health", s.handleHealth)

	mux.HandleFunc("GET /api/checks/history", s.handleHistory)
	mux.HandleFunc("GET /api/checks/chart-data", s.handleChartData)

	mux.HandleFunc("GET /api/live", s.handleLive)

	mux.Handle("GET /metrics", s.metrics.handler())

	rl := newRateLimitMiddleware(rate.NewLimiter(rate.Limit(rateLimitPerSecond), rateLimitBurst))
	return rl(noCacheMiddleware(securityHeadersMiddleware(mux)))
}
