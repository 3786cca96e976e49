package region

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleRegions = `
regions:
  - id: us-east
    name: US East (N. Virginia)
    latitude: 38.8
    longitude: -77.2
    endpoint: pg-us-east.example.com:5432
  - id: eu-west
    name: EU West (Ireland)
    latitude: 53.3
    longitude: -6.3
    endpoint: pg-eu-west.example.com:5432
    health_url: http://status.eu-west.example.com/health
  - id: asia-pacific
    name: Asia Pacific (Singapore)
    latitude: 1.35
    longitude: 103.8
    endpoint: pg-ap.example.com:5432
`

func writeRegions(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "regions.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write regions file: %v", err)
	}
	return path
}

func TestNewRegistry_LoadsRegions(t *testing.T) {
	r, err := NewRegistry(writeRegions(t, sampleRegions))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if r.Len() != 3 {
		t.Fatalf("expected 3 regions, got %d", r.Len())
	}

	reg, ok := r.Get("us-east")
	if !ok {
		t.Fatal("expected us-east to exist")
	}
	if reg.Name != "US East (N. Virginia)" {
		t.Errorf("unexpected name %q", reg.Name)
	}
	if reg.Endpoint != "pg-us-east.example.com:5432" {
		t.Errorf("unexpected endpoint %q", reg.Endpoint)
	}

	if _, ok := r.Get("mars-north"); ok {
		t.Error("unknown region should not resolve")
	}
}

func TestRegistry_All_SortedByID(t *testing.T) {
	r, err := NewRegistry(writeRegions(t, sampleRegions))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	all := r.All()
	want := []string{"asia-pacific", "eu-west", "us-east"}
	if len(all) != len(want) {
		t.Fatalf("expected %d regions, got %d", len(want), len(all))
	}
	for i, id := range want {
		if all[i].ID != id {
			t.Errorf("position %d: expected %q, got %q", i, id, all[i].ID)
		}
	}
}

func TestRegion_Target_DerivesHealthURL(t *testing.T) {
	r, err := NewRegistry(writeRegions(t, sampleRegions))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	usEast, _ := r.Get("us-east")
	target := usEast.Target()
	if target.HealthURL != "http://pg-us-east.example.com:9187/health" {
		t.Errorf("unexpected derived health URL %q", target.HealthURL)
	}

	euWest, _ := r.Get("eu-west")
	if euWest.Target().HealthURL != "http://status.eu-west.example.com/health" {
		t.Errorf("explicit health URL should win, got %q", euWest.Target().HealthURL)
	}
}

func TestNewRegistry_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty file", "regions: []"},
		{"missing id", "regions:\n  - name: nameless\n    endpoint: a:1"},
		{"missing endpoint", "regions:\n  - id: broken"},
		{"duplicate id", "regions:\n  - id: dup\n    endpoint: a:1\n  - id: dup\n    endpoint: b:2"},
		{"bad yaml", "regions: ["},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(writeRegions(t, tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRegistry_Reload_KeepsOldSetOnError(t *testing.T) {
	path := writeRegions(t, sampleRegions)
	r, err := NewRegistry(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := os.WriteFile(path, []byte("regions: ["), 0644); err != nil {
		t.Fatalf("failed to overwrite regions file: %v", err)
	}

	if err := r.Reload(); err == nil {
		t.Fatal("expected reload error for bad yaml")
	}
	if r.Len() != 3 {
		t.Errorf("failed reload should keep the previous set, got %d regions", r.Len())
	}
}

func TestRegistry_Reload_SwapsSet(t *testing.T) {
	path := writeRegions(t, sampleRegions)
	r, err := NewRegistry(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated := "regions:\n  - id: us-west\n    endpoint: pg-us-west.example.com:5432\n"
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatalf("failed to overwrite regions file: %v", err)
	}

	if err := r.Reload(); err != nil {
		t.Fatalf("unexpected reload error: %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 region after reload, got %d", r.Len())
	}
	if _, ok := r.Get("us-east"); ok {
		t.Error("old region should be gone after reload")
	}
	reg, ok := r.Get("us-west")
	if !ok {
		t.Fatal("expected us-west after reload")
	}
	if reg.Name != "us-west" {
		t.Errorf("missing name should default to id, got %q", reg.Name)
	}
}
