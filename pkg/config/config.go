// Package config loads the daemon configuration from a YAML file. Missing
// values fall back to defaults; durations are written as strings parseable
// by time.ParseDuration (e.g. "5s").
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mfaltys/regiond/pkg/flag"
)

// Defaults applied when the config file omits a value.
const (
	DefaultListen         = ":1982"
	DefaultDatabase       = "./regiond.db"
	DefaultRegionsFile    = "./regions.yaml"
	DefaultLogLevel       = "info"
	DefaultSweepSchedule  = "@every 5m"
	DefaultMaxFanout      = 16
	DefaultDialTimeout    = 5 * time.Second
	DefaultResolveTimeout = 3 * time.Second
	DefaultHealthTimeout  = 5 * time.Second
)

// ProbeConfig holds the probe executor knobs.
type ProbeConfig struct {
	// DialTimeout bounds each connection attempt.
	DialTimeout time.Duration `yaml:"-"`

	// ResolveTimeout bounds endpoint hostname resolution.
	ResolveTimeout time.Duration `yaml:"-"`

	// HealthTimeout bounds each health status request.
	HealthTimeout time.Duration `yaml:"-"`

	// Resolver is an optional DNS server (host:port) used instead of the
	// system resolver when probing.
	Resolver string `yaml:"resolver,omitempty"`

	// LatencyIterations is the number of sequential dials in a latency
	// measurement.
	LatencyIterations int `yaml:"latency_iterations,omitempty"`

	// LoadConcurrent is the number of parallel dials in a load test.
	LoadConcurrent int `yaml:"load_concurrent,omitempty"`

	// Raw duration strings from YAML, parsed into the fields above.
	DialTimeoutStr    string `yaml:"dial_timeout,omitempty"`
	ResolveTimeoutStr string `yaml:"resolve_timeout,omitempty"`
	HealthTimeoutStr  string `yaml:"health_timeout,omitempty"`
}

// Config is the daemon configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// Database is the SQLite file holding check records.
	Database string `yaml:"database"`

	// RegionsFile is the YAML region registry, watched for changes.
	RegionsFile string `yaml:"regions_file"`

	// SweepSchedule is a cron expression for background test-all sweeps.
	// Only the explicit value "off" disables sweeping; omitting the key or
	// leaving it empty keeps the default. Loaded configs carry "" when
	// sweeping is off.
	SweepSchedule string `yaml:"sweep_schedule"`

	// MaxFanout caps concurrent region probes during orchestration.
	MaxFanout int `yaml:"max_fanout"`

	// Probe holds the probe executor knobs.
	Probe ProbeConfig `yaml:"probe"`

	// Flags holds the static feature gate rules.
	Flags flag.Config `yaml:"flags"`

	// Colors maps region ids to chart line colors (CSS rgb() strings).
	Colors map[string]string `yaml:"colors"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen:        DefaultListen,
		LogLevel:      DefaultLogLevel,
		Database:      DefaultDatabase,
		RegionsFile:   DefaultRegionsFile,
		SweepSchedule: DefaultSweepSchedule,
		MaxFanout:     DefaultMaxFanout,
		Probe: ProbeConfig{
			DialTimeout:    DefaultDialTimeout,
			ResolveTimeout: DefaultResolveTimeout,
			HealthTimeout:  DefaultHealthTimeout,
		},
	}
}

// Load reads the configuration from a YAML file. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: could not read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: could not parse %s: %w", path, err)
	}
	if err := cfg.finalize(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// finalize parses duration strings and re-applies defaults for values the
// file blanked out.
func (c *Config) finalize() error {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.RegionsFile == "" {
		c.RegionsFile = DefaultRegionsFile
	}
	switch c.SweepSchedule {
	case "off":
		c.SweepSchedule = ""
	case "":
		c.SweepSchedule = DefaultSweepSchedule
	}
	if c.MaxFanout < 1 {
		c.MaxFanout = DefaultMaxFanout
	}
	if c.Probe.LatencyIterations < 0 {
		return fmt.Errorf("latency_iterations: must not be negative, got %d", c.Probe.LatencyIterations)
	}
	if c.Probe.LoadConcurrent < 0 {
		return fmt.Errorf("load_concurrent: must not be negative, got %d", c.Probe.LoadConcurrent)
	}

	var err error
	if c.Probe.DialTimeout, err = parseDuration(c.Probe.DialTimeoutStr, DefaultDialTimeout); err != nil {
		return fmt.Errorf("dial_timeout: %w", err)
	}
	if c.Probe.ResolveTimeout, err = parseDuration(c.Probe.ResolveTimeoutStr, DefaultResolveTimeout); err != nil {
		return fmt.Errorf("resolve_timeout: %w", err)
	}
	if c.Probe.HealthTimeout, err = parseDuration(c.Probe.HealthTimeoutStr, DefaultHealthTimeout); err != nil {
		return fmt.Errorf("health_timeout: %w", err)
	}
	return nil
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %v", d)
	}
	return d, nil
}
