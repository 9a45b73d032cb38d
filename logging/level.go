// Package logging configures log/slog for psabpf-ctl and the library
// packages: a base level with per-component overrides, selected from
// the command line, the PSABPF_LOG environment variable or the config
// file.
package logging

import (
	"fmt"
	"log/slog"
	"strings"
)

// Level extends slog's levels with trace, below debug.
// Values match slog.Level constants for debug through error.
type Level int

const (
	// LevelTrace is the most verbose level. Map scans log here.
	LevelTrace Level = -8
	// LevelDebug matches slog.LevelDebug.
	LevelDebug Level = -4
	// LevelInfo matches slog.LevelInfo.
	LevelInfo Level = 0
	// LevelWarn matches slog.LevelWarn.
	LevelWarn Level = 4
	// LevelError matches slog.LevelError.
	LevelError Level = 8
)

// ParseLevel parses trace, debug, info, warn or error (case-insensitive).
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error", "err":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %q", s)
	}
}

// ToSlog converts Level to slog.Level.
func (l Level) ToSlog() slog.Level {
	return slog.Level(l)
}

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("Level(%d)", l)
	}
}
