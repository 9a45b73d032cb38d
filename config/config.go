// Package config handles psabpf configuration.
//
// Configuration is loaded with overlay semantics:
//
//  1. Start with built-in defaults (embedded from default.toml)
//  2. Overlay with config file values (if the file exists)
//  3. CLI flags and environment variables override at runtime
//
// The TOML decoder only sets fields present in the file, leaving the
// rest at their defaults. A config file that exists but does not parse
// is an error.
package config

import (
	_ "embed"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed default.toml
var defaultConfigTOML string

// DefaultConfigPath is where psabpf-ctl looks for its config file.
const DefaultConfigPath = "/etc/psabpf/psabpf.toml"

// Config is the top-level psabpf configuration.
type Config struct {
	BPFFS   BPFFSConfig   `toml:"bpffs"`
	PRE     PREConfig     `toml:"pre"`
	Logging LoggingConfig `toml:"logging"`
	Metrics MetricsConfig `toml:"metrics"`
}

// BPFFSConfig describes where pipelines are pinned.
type BPFFSConfig struct {
	Root           string   `toml:"root"`
	PipelinePrefix string   `toml:"pipeline_prefix"`
	MapsDir        string   `toml:"maps_dir"`
	BTFPrograms    []string `toml:"btf_programs"`
}

// PREConfig names the Packet Replication Engine maps.
type PREConfig struct {
	CloneSessionMap   string `toml:"clone_session_map"`
	MulticastGroupMap string `toml:"multicast_group_map"`
}

// LoggingConfig controls logging behaviour.
type LoggingConfig struct {
	// Level is a log spec (e.g., "info" or "info,pre=debug").
	Level string `toml:"level"`
	// Format is "text" or "json".
	Format string `toml:"format"`
	// Components is an alternative way to give per-component levels.
	Components map[string]string `toml:"components"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Listen    string   `toml:"listen"`
	Pipelines []uint32 `toml:"pipelines"`
}

// ToSpec converts the logging table to a log spec string. Level is
// the base; Components entries not already named in Level are appended.
func (c *LoggingConfig) ToSpec() string {
	if len(c.Components) == 0 {
		return c.Level
	}

	base := c.Level
	if base == "" {
		base = "info"
	}
	parts := []string{base}
	for _, component := range slices.Sorted(maps.Keys(c.Components)) {
		if strings.Contains(base, component+"=") {
			continue
		}
		parts = append(parts, component+"="+c.Components[component])
	}
	return strings.Join(parts, ",")
}

// DefaultConfig returns the configuration embedded in default.toml.
func DefaultConfig() Config {
	var cfg Config
	if _, err := toml.Decode(defaultConfigTOML, &cfg); err != nil {
		// default.toml is embedded at build time; this is unreachable
		// unless the file itself is broken.
		panic(fmt.Sprintf("config: embedded default.toml: %v", err))
	}
	return cfg
}

// Load reads configuration from path with overlay semantics.
//
//   - File missing: returns the defaults (no error)
//   - File exists and valid: overlays file values onto defaults
//   - File exists but invalid: returns an error
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("unknown config keys in %s: %v", path, undecoded)
	}

	return cfg, cfg.Validate()
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.BPFFS.Root == "" || !filepath.IsAbs(c.BPFFS.Root) {
		return fmt.Errorf("bpffs.root must be an absolute path, got %q", c.BPFFS.Root)
	}
	if c.BPFFS.PipelinePrefix == "" {
		return fmt.Errorf("bpffs.pipeline_prefix cannot be empty")
	}
	if strings.ContainsRune(c.BPFFS.PipelinePrefix, '/') || strings.ContainsRune(c.BPFFS.MapsDir, '/') {
		return fmt.Errorf("bpffs.pipeline_prefix and bpffs.maps_dir must be single path components")
	}
	if c.PRE.CloneSessionMap == "" || c.PRE.MulticastGroupMap == "" {
		return fmt.Errorf("pre map names cannot be empty")
	}
	seen := make(map[uint32]bool, len(c.Metrics.Pipelines))
	for _, id := range c.Metrics.Pipelines {
		if seen[id] {
			return fmt.Errorf("metrics.pipelines lists pipeline %d more than once", id)
		}
		seen[id] = true
	}
	return nil
}
