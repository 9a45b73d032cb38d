// Package ebpf provides kernel operations using cilium/ebpf: pinned
// pipeline maps and the BTF carried by a pipeline's pinned programs.
package ebpf

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/cilium/ebpf"
	"golang.org/x/sys/unix"

	"github.com/frobware/go-psabpf"
	"github.com/frobware/go-psabpf/config"
	"github.com/frobware/go-psabpf/interpreter"
	"github.com/frobware/go-psabpf/kernel"
	"github.com/frobware/go-psabpf/logging"
)

// Adapter implements interpreter.MapOpener and interpreter.TypeLoader
// against the pins described by config.Paths.
type Adapter struct {
	logger *slog.Logger
	paths  config.Paths
}

var (
	_ interpreter.MapOpener  = (*Adapter)(nil)
	_ interpreter.TypeLoader = (*Adapter)(nil)
)

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger for kernel operations.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// New creates a kernel adapter resolving pins through paths.
func New(paths config.Paths, opts ...Option) *Adapter {
	a := &Adapter{
		logger: slog.Default(),
		paths:  paths,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(logging.ComponentKey, "ebpf")
	return a
}

// OpenMap opens the pinned map name of pipeline.
func (a *Adapter) OpenMap(ctx context.Context, pipeline psabpf.PipelineID, name string) (interpreter.Map, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := a.paths.Map(pipeline, name).String()
	m, err := ebpf.LoadPinnedMap(path, nil)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("pipeline %s has no map %q: %w", pipeline, name, psabpf.ErrNotFound)
		}
		return nil, &psabpf.MapError{Op: "open", Map: path, Err: err}
	}

	info := kernel.Map{
		Name:       name,
		MapType:    mapType(m.Type()),
		KeySize:    m.KeySize(),
		ValueSize:  m.ValueSize(),
		MaxEntries: m.MaxEntries(),
		PinPath:    path,
	}
	a.logger.Log(ctx, logging.LevelTrace.ToSlog(), "opened map", "pipeline", pipeline, "map", info.String())

	return &pinnedMap{m: m, info: info}, nil
}

func mapType(t ebpf.MapType) kernel.MapType {
	switch t {
	case ebpf.Hash:
		return kernel.MapTypeHash
	case ebpf.Array:
		return kernel.MapTypeArray
	default:
		return kernel.NewMapType(t.String())
	}
}

// translate classifies a cilium/ebpf error. Key-level conditions map
// to their psabpf kind while keeping the original error reachable
// through errors.As(*psabpf.MapError).
func translate(op, name string, err error) error {
	if err == nil {
		return nil
	}
	mapErr := &psabpf.MapError{Op: op, Map: name, Err: err}
	switch {
	case errors.Is(err, ebpf.ErrKeyNotExist):
		return fmt.Errorf("%w: %w", psabpf.ErrNotFound, mapErr)
	case errors.Is(err, ebpf.ErrKeyExist):
		return fmt.Errorf("%w: %w", psabpf.ErrAlreadyExists, mapErr)
	case errors.Is(err, unix.ENOMEM):
		return fmt.Errorf("%w: %w", psabpf.ErrOutOfMemory, mapErr)
	default:
		return mapErr
	}
}
