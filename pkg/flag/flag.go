// Package flag defines the feature-gate contract consumed by the probe
// dispatcher, plus a static implementation backed by configuration.
//
// The engine never runs a probe kind whose gate returns false. Gate
// decisions are scoped to a requester key (the caller identity extracted
// by the HTTP layer) so individual callers can be opted in or out without
// touching the defaults. The policy logic behind a real flag provider is
// out of scope here; anything satisfying Service can be plugged in.
package flag

// Feature names the independently gated engine capabilities.
type Feature string

const (
	// FeatureHealthChecks gates the health probe.
	FeatureHealthChecks Feature = "health_checks"

	// FeatureLoadTesting gates the load probe.
	FeatureLoadTesting Feature = "load_testing"

	// FeatureTestAll gates multi-region orchestration.
	FeatureTestAll Feature = "test_all_regions"
)

// Service is the gate surface the engine consults before probing.
type Service interface {
	// RegionEnabled reports whether the region may be probed by this requester.
	RegionEnabled(regionID, requesterKey string) bool

	// EnabledRegions returns the region ids this requester may probe,
	// filtered from the full region set.
	EnabledRegions(requesterKey string) []string

	// FeatureEnabled reports whether the named feature is on for this requester.
	FeatureEnabled(feature Feature, requesterKey string) bool
}

// RegionLister supplies the region id universe that EnabledRegions filters.
type RegionLister interface {
	IDs() []string
}

// Override adjusts gate decisions for a single requester key.
type Override struct {
	Features map[Feature]bool `yaml:"features,omitempty"`
	Regions  map[string]bool  `yaml:"regions,omitempty"`
}

// Config is the YAML shape of the static gate rules. Features and regions
// absent from the maps fall back to their defaults (features on, regions
// per DisableRegionsByDefault).
type Config struct {
	Features                map[Feature]bool    `yaml:"features,omitempty"`
	Regions                 map[string]bool     `yaml:"regions,omitempty"`
	DisableRegionsByDefault bool                `yaml:"disable_regions_by_default,omitempty"`
	Overrides               map[string]Override `yaml:"overrides,omitempty"`
}

// Static is a Service whose decisions come entirely from configuration.
// It holds no mutable state and is safe for concurrent use.
type Static struct {
	cfg     Config
	regions RegionLister
}

// NewStatic creates a Static gate service over the given region universe.
func NewStatic(cfg Config, regions RegionLister) *Static {
	return &Static{cfg: cfg, regions: regions}
}

// RegionEnabled reports whether the region is enabled for the requester.
// Precedence: requester override, then the region map, then the default.
func (s *Static) RegionEnabled(regionID, requesterKey string) bool {
	if ov, ok := s.cfg.Overrides[requesterKey]; ok {
		if v, ok := ov.Regions[regionID]; ok {
			return v
		}
	}
	if v, ok := s.cfg.Regions[regionID]; ok {
		return v
	}
	return !s.cfg.DisableRegionsByDefault
}

// EnabledRegions filters the region universe down to what the requester
// may probe, preserving the lister's order.
func (s *Static) EnabledRegions(requesterKey string) []string {
	ids := s.regions.IDs()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if s.RegionEnabled(id, requesterKey) {
			out = append(out, id)
		}
	}
	return out
}

// FeatureEnabled reports whether the feature is on for the requester.
// Features default to enabled when not mentioned anywhere.
func (s *Static) FeatureEnabled(feature Feature, requesterKey string) bool {
	if ov, ok := s.cfg.Overrides[requesterKey]; ok {
		if v, ok := ov.Features[feature]; ok {
			return v
		}
	}
	if v, ok := s.cfg.Features[feature]; ok {
		return v
	}
	return true
}
