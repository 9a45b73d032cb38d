package logging

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Spec is a base level plus per-component overrides.
//
// Format: "<base-level>[,<component>=<level>]..."
//
// Examples:
//   - "debug"
//   - "warn,pre=debug"
//   - "info,pre=debug,ebpf=trace"
type Spec struct {
	BaseLevel  Level
	Components map[string]Level
}

// ParseSpec parses a log specification string. An empty string yields
// info with no overrides. A bare level is only accepted first.
func ParseSpec(s string) (Spec, error) {
	spec := Spec{
		BaseLevel:  LevelInfo,
		Components: make(map[string]Level),
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return spec, nil
	}

	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		component, levelStr, isPair := strings.Cut(part, "=")
		if !isPair {
			if i != 0 {
				return spec, fmt.Errorf("base level %q must be first in spec", part)
			}
			level, err := ParseLevel(part)
			if err != nil {
				return spec, err
			}
			spec.BaseLevel = level
			continue
		}

		component = strings.TrimSpace(component)
		if component == "" {
			return spec, fmt.Errorf("empty component name in %q", part)
		}
		level, err := ParseLevel(levelStr)
		if err != nil {
			return spec, fmt.Errorf("invalid level for component %q: %w", component, err)
		}
		spec.Components[component] = level
	}

	return spec, nil
}

// LevelFor returns the level of component, or the base level when it
// has no override.
func (s *Spec) LevelFor(component string) Level {
	if level, ok := s.Components[component]; ok {
		return level
	}
	return s.BaseLevel
}

// String returns the spec in parseable form, components sorted.
func (s *Spec) String() string {
	parts := []string{s.BaseLevel.String()}
	for _, component := range slices.Sorted(maps.Keys(s.Components)) {
		parts = append(parts, component+"="+s.Components[component].String())
	}
	return strings.Join(parts, ",")
}
