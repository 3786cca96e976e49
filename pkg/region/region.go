// Package region provides the static registry of database regions under
// test. Regions are reference data loaded from a YAML file: the engine only
// looks them up, never mutates them. The registry supports atomic reloads
// so a file watcher can swap in an edited region set without disturbing
// concurrent readers.
package region

import (
	"fmt"
	"net"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mfaltys/regiond/pkg/probe"
)

// Region is one geographically distinct database endpoint.
type Region struct {
	ID        string  `yaml:"id" json:"id"`
	Name      string  `yaml:"name" json:"name"`
	Latitude  float64 `yaml:"latitude" json:"latitude"`
	Longitude float64 `yaml:"longitude" json:"longitude"`
	Endpoint  string  `yaml:"endpoint" json:"-"`
	HealthURL string  `yaml:"health_url,omitempty" json:"-"`
}

// Target returns the probe target for this region. When no health URL is
// configured one is derived from the endpoint host on the conventional
// status port.
func (r Region) Target() probe.Target {
	health := r.HealthURL
	if health == "" {
		if host, _, err := net.SplitHostPort(r.Endpoint); err == nil {
			health = fmt.Sprintf("http://%s:9187/health", host)
		}
	}
	return probe.Target{
		Endpoint:  r.Endpoint,
		HealthURL: health,
	}
}

// regionsFile is the YAML shape of the registry file.
type regionsFile struct {
	Regions []Region `yaml:"regions"`
}

// Registry is a read-only lookup table of regions, reloadable as a unit.
// It is safe for concurrent use.
type Registry struct {
	path string

	mu      sync.RWMutex
	regions map[string]Region
	order   []string // region IDs sorted for stable All() output
}

// NewRegistry loads the registry from the given YAML file.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the registry file and atomically swaps in the new region
// set. On any error the previous set is kept.
func (r *Registry) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("region: could not read %s: %w", r.path, err)
	}

	var file regionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("region: could not parse %s: %w", r.path, err)
	}
	if len(file.Regions) == 0 {
		return fmt.Errorf("region: %s defines no regions", r.path)
	}

	regions := make(map[string]Region, len(file.Regions))
	for _, reg := range file.Regions {
		if reg.ID == "" {
			return fmt.Errorf("region: %s contains a region without an id", r.path)
		}
		if reg.Endpoint == "" {
			return fmt.Errorf("region: %s missing endpoint for %q", r.path, reg.ID)
		}
		if _, dup := regions[reg.ID]; dup {
			return fmt.Errorf("region: duplicate region id %q in %s", reg.ID, r.path)
		}
		if reg.Name == "" {
			reg.Name = reg.ID
		}
		regions[reg.ID] = reg
	}

	order := make([]string, 0, len(regions))
	for id := range regions {
		order = append(order, id)
	}
	sort.Strings(order)

	r.mu.Lock()
	r.regions = regions
	r.order = order
	r.mu.Unlock()

	return nil
}

// Get looks up a region by id.
func (r *Registry) Get(id string) (Region, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.regions[id]
	return reg, ok
}

// All returns every region sorted by id.
func (r *Registry) All() []Region {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Region, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.regions[id])
	}
	return out
}

// IDs returns every region id sorted lexically.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of regions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.regions)
}
