package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/mfaltys/regiond/pkg/dispatch"
	"github.com/mfaltys/regiond/pkg/probe"
)

// anonymousKey is the requester key used when no identity can be derived
// from the request.
const anonymousKey = "anonymous"

// CheckResponse is the JSON body for a single completed check. A probe
// failure is still a 200 response with Success false and Error set.
type CheckResponse struct {
	RegionID string `json:"region_id"`
	probe.Result
	Error string `json:"error,omitempty"`
}

// TestAllResponse is the JSON body for a multi-region run. Results holds
// one entry per enabled region, in the registry's region order.
type TestAllResponse struct {
	Count   int               `json:"count"`
	Results []RegionCheckItem `json:"results"`
}

// RegionCheckItem is one region's slot in a TestAllResponse. Recorded is
// false when the probe completed but its record could not be persisted.
type RegionCheckItem struct {
	RegionID string `json:"region_id"`
	probe.Result
	Error    string `json:"error,omitempty"`
	Recorded bool   `json:"recorded"`
}

// RegionInfo is one region in the region list response.
type RegionInfo struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Endpoint  string  `json:"endpoint"`
	Enabled   bool    `json:"enabled"`
}

// LocationInfo is one region in the map locations response.
type LocationInfo struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// requesterKey derives the caller identity used for flag scoping: the
// user_key cookie when present, otherwise the remote host, otherwise a
// fixed anonymous key. It is not authentication.
func requesterKey(r *http.Request) string {
	if c, err := r.Cookie("user_key"); err == nil && c.Value != "" {
		return c.Value
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return anonymousKey
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// writeCheckError maps dispatcher errors onto HTTP statuses: gate refusals
// are 403, unknown regions 404, persistence failures after a completed
// probe 502, anything else 500.
func (s *Server) writeCheckError(w http.ResponseWriter, regionID string, err error) {
	var recErr *dispatch.RecordError
	switch {
	case errors.As(err, &recErr):
		writeJSON(w, http.StatusBadGateway, CheckResponse{
			RegionID: regionID,
			Result:   recErr.Result,
			Error:    "check completed but could not be recorded",
		})
	case errors.Is(err, dispatch.ErrRegionDisabled), errors.Is(err, dispatch.ErrFeatureDisabled):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error()})
	case errors.Is(err, dispatch.ErrUnknownRegion):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		s.logger.Errorf("Check for region %s failed: %v", regionID, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// runCheck wraps a single-region dispatcher call with metrics, the live
// feed, and the shared error mapping.
func (s *Server) runCheck(w http.ResponseWriter, r *http.Request, run func(ctx context.Context, regionID, key string) (probe.Result, error)) {
	regionID := r.PathValue("id")
	key := requesterKey(r)

	start := time.Now()
	res, err := run(r.Context(), regionID, key)
	if err != nil {
		var recErr *dispatch.RecordError
		if errors.As(err, &recErr) {
			// The probe itself completed; it still counts.
			s.observeCheck(regionID, recErr.Result, time.Since(start))
			s.publishResult(regionID, recErr.Result)
		}
		s.writeCheckError(w, regionID, err)
		return
	}

	s.observeCheck(regionID, res, time.Since(start))
	s.publishResult(regionID, res)
	writeJSON(w, http.StatusOK, CheckResponse{
		RegionID: regionID,
		Result:   res,
		Error:    res.ErrorMessage(),
	})
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	s.runCheck(w, r, s.dispatcher.TestConnection)
}

func (s *Server) handleLatency(w http.ResponseWriter, r *http.Request) {
	iterations, err := intParam(r, "iterations", s.latencyIterations)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	s.runCheck(w, r, func(ctx context.Context, regionID, key string) (probe.Result, error) {
		return s.dispatcher.MeasureLatency(ctx, regionID, key, iterations)
	})
}

func (s *Server) handleLoadTest(w http.ResponseWriter, r *http.Request) {
	concurrent, err := intParam(r, "concurrent", s.loadConcurrent)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	s.runCheck(w, r, func(ctx context.Context, regionID, key string) (probe.Result, error) {
		return s.dispatcher.LoadTest(ctx, regionID, key, concurrent)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.runCheck(w, r, s.dispatcher.HealthCheck)
}

func (s *Server) handleTestAll(w http.ResponseWriter, r *http.Request) {
	key := requesterKey(r)

	outcomes, err := s.dispatcher.TestAll(r.Context(), key)
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrFeatureDisabled):
			writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error()})
		case errors.Is(err, dispatch.ErrNoRegions):
			writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		default:
			s.logger.Errorf("Test-all for requester %s failed: %v", key, err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		}
		return
	}

	resp := TestAllResponse{Count: len(outcomes), Results: make([]RegionCheckItem, 0, len(outcomes))}
	for _, oc := range outcomes {
		s.observeOutcome(oc)
		s.publishResult(oc.RegionID, oc.Result)
		item := RegionCheckItem{
			RegionID: oc.RegionID,
			Result:   oc.Result,
			Error:    oc.Result.ErrorMessage(),
			Recorded: oc.RecordErr == nil,
		}
		resp.Results = append(resp.Results, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	key := requesterKey(r)

	regions := s.regions.All()
	out := make([]RegionInfo, 0, len(regions))
	for _, reg := range regions {
		out = append(out, RegionInfo{
			ID:        reg.ID,
			Name:      reg.Name,
			Latitude:  reg.Latitude,
			Longitude: reg.Longitude,
			Endpoint:  reg.Endpoint,
			Enabled:   s.flags.RegionEnabled(reg.ID, key),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	regions := s.regions.All()
	out := make([]LocationInfo, 0, len(regions))
	for _, reg := range regions {
		out = append(out, LocationInfo{
			ID:        reg.ID,
			Name:      reg.Name,
			Latitude:  reg.Latitude,
			Longitude: reg.Longitude,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSummary re-probes every enabled region so the dashboard's
// auto-refresh always reflects live state, then serves the aggregated
// summaries. Requesters without the multi-region feature still get the
// stored summaries, just without the refresh.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	key := requesterKey(r)

	outcomes, err := s.dispatcher.TestAll(r.Context(), key)
	switch {
	case err == nil:
		for _, oc := range outcomes {
			s.observeOutcome(oc)
			s.publishResult(oc.RegionID, oc.Result)
		}
	case errors.Is(err, dispatch.ErrFeatureDisabled), errors.Is(err, dispatch.ErrNoRegions):
		// Serve what we have.
	default:
		s.logger.Errorf("Summary refresh failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	summaries, err := s.history.Summaries(r.Context(), s.flags.EnabledRegions(key))
	if err != nil {
		s.logger.Errorf("Summary query failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	key := requesterKey(r)

	limit, err := intParam(r, "limit", 0)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	records, err := s.history.Recent(r.Context(), s.flags.EnabledRegions(key), limit)
	if err != nil {
		s.logger.Errorf("History query failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleChartData(w http.ResponseWriter, r *http.Request) {
	key := requesterKey(r)

	chart, err := s.history.ChartData(r.Context(), s.flags.EnabledRegions(key))
	if err != nil {
		s.logger.Errorf("Chart query failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, chart)
}

// observeCheck feeds one single-region check into the Prometheus metrics.
func (s *Server) observeCheck(regionID string, res probe.Result, elapsed time.Duration) {
	outcome := "failure"
	if res.Success {
		outcome = "success"
	}
	s.metrics.checksTotal.WithLabelValues(regionID, string(res.Kind), outcome).Inc()
	s.metrics.probeDuration.WithLabelValues(string(res.Kind)).Observe(elapsed.Seconds())
}

// intParam parses an optional non-negative integer query parameter.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name + " parameter")
	}
	return n, nil
}
