package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// EnvVar names the environment variable holding a log spec.
const EnvVar = "PSABPF_LOG"

// Format is the log output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat parses a format string. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format: %q", s)
	}
}

// Options configures New.
type Options struct {
	// CLISpec comes from --log and wins over everything else.
	CLISpec string
	// EnvSpec comes from PSABPF_LOG.
	EnvSpec string
	// ConfigSpec comes from the [logging] table of the config file.
	ConfigSpec string
	Format     Format
	// Output defaults to os.Stderr so that command output on stdout
	// stays machine readable.
	Output io.Writer
}

// New creates a logger with component-level filtering.
// Precedence: CLISpec > EnvSpec > ConfigSpec > info.
func New(opts Options) (*slog.Logger, error) {
	var specStr string
	switch {
	case opts.CLISpec != "":
		specStr = opts.CLISpec
	case opts.EnvSpec != "":
		specStr = opts.EnvSpec
	case opts.ConfigSpec != "":
		specStr = opts.ConfigSpec
	}

	spec, err := ParseSpec(specStr)
	if err != nil {
		return nil, fmt.Errorf("invalid log spec: %w", err)
	}

	output := opts.Output
	if output == nil {
		output = os.Stderr
	}

	// The filtering handler decides; the inner one accepts everything.
	handlerOpts := &slog.HandlerOptions{Level: LevelTrace.ToSlog()}

	var inner slog.Handler
	switch opts.Format {
	case FormatJSON:
		inner = slog.NewJSONHandler(output, handlerOpts)
	default:
		inner = slog.NewTextHandler(output, handlerOpts)
	}

	return slog.New(NewFilteringHandler(inner, &spec)), nil
}

// FromEnv creates a logger from PSABPF_LOG alone.
func FromEnv() (*slog.Logger, error) {
	return New(Options{EnvSpec: os.Getenv(EnvVar)})
}

// Discard returns a logger that writes nothing.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
