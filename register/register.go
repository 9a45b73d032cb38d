// Package register reads and writes pipeline-defined key/value maps
// whose layout is only known from the pipeline's BTF.
package register

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/cilium/ebpf/btf"

	"github.com/frobware/go-psabpf"
	"github.com/frobware/go-psabpf/interpreter"
	"github.com/frobware/go-psabpf/kernel"
	"github.com/frobware/go-psabpf/layout"
	"github.com/frobware/go-psabpf/logging"
)

// Register is an open register map and the layout of its entries.
// Either layout may be missing, but not both: a register whose key
// does not parse can still be listed, one whose value does not parse
// can still be read as raw bytes.
type Register struct {
	m      interpreter.Map
	info   kernel.Map
	key    *layout.Descriptors
	value  *layout.Descriptors
	logger *slog.Logger
}

// Option configures Open.
type Option func(*Register)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Register) {
		r.logger = logger
	}
}

// Open binds the register name of pipeline. It fails with
// psabpf.ErrUnsupported if the pipeline has no BTF for the map or
// neither its key nor its value is a flat aggregate, and never leaves
// the map open on failure.
func Open(ctx context.Context, opener interpreter.MapOpener, loader interpreter.TypeLoader, pipeline psabpf.PipelineID, name string, opts ...Option) (*Register, error) {
	r := &Register{logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}

	types, err := loader.LoadTypes(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", name, err)
	}
	def, err := types.MapDefinition(name)
	if err != nil {
		if errors.Is(err, psabpf.ErrNotFound) {
			return nil, fmt.Errorf("register %s: no type information: %w", name, psabpf.ErrUnsupported)
		}
		return nil, fmt.Errorf("register %s: %w", name, err)
	}

	m, err := opener.OpenMap(ctx, pipeline, name)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", name, err)
	}
	info := m.Info()
	if !info.Fits() {
		m.Close()
		return nil, fmt.Errorf("register %s: %w", info, psabpf.ErrOutOfMemory)
	}

	keyDesc, keyErr := describe(def, "key", info.KeySize)
	valueDesc, valueErr := describe(def, "value", info.ValueSize)
	if keyErr != nil && valueErr != nil {
		m.Close()
		return nil, fmt.Errorf("register %s: %w", name, errors.Join(keyErr, valueErr))
	}

	r.m = m
	r.info = info
	r.key = keyDesc
	r.value = valueDesc
	r.logger = r.logger.With(logging.ComponentKey, "register", "pipeline", pipeline, "register", name)
	if keyErr != nil {
		r.logger.DebugContext(ctx, "key layout unavailable", "error", keyErr)
	}
	if valueErr != nil {
		r.logger.DebugContext(ctx, "value layout unavailable", "error", valueErr)
	}
	return r, nil
}

func describe(def *btf.Struct, member string, size uint32) (*layout.Descriptors, error) {
	t, err := layout.MemberType(def, member)
	if err != nil {
		if errors.Is(err, psabpf.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", member, psabpf.ErrUnsupported)
		}
		return nil, err
	}
	return layout.Build(member, t, size)
}

// Close releases the map.
func (r *Register) Close() error { return r.m.Close() }

// Info describes the underlying map.
func (r *Register) Info() kernel.Map { return r.info }

// KeyLayout returns the key descriptors, or nil if the key's type is
// not supported.
func (r *Register) KeyLayout() *layout.Descriptors { return r.key }

// ValueLayout returns the value descriptors, or nil if the value's
// type is not supported.
func (r *Register) ValueLayout() *layout.Descriptors { return r.value }

// NewEntry returns an empty entry to fill with key and value fields.
func (r *Register) NewEntry() *Entry {
	return &Entry{reg: r}
}

func (r *Register) packKey(e *Entry) ([]byte, error) {
	if r.key == nil {
		return nil, fmt.Errorf("register %s: key layout: %w", r.info.Name, psabpf.ErrUnsupported)
	}
	buf := make([]byte, r.info.KeySize)
	if err := layout.Pack(r.key, &e.key, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Get looks up the entry's key. On success the value is available
// through e.Fields. A missing key fails with psabpf.ErrNotFound.
func (r *Register) Get(ctx context.Context, e *Entry) error {
	key, err := r.packKey(e)
	if err != nil {
		return err
	}
	value, err := r.m.Lookup(key)
	if err != nil {
		return err
	}
	e.keyBuf, e.valueBuf = key, value
	r.logger.Log(ctx, logging.LevelTrace.ToSlog(), "read entry")
	return nil
}

// Set writes the entry's value fields under its key.
func (r *Register) Set(ctx context.Context, e *Entry) error {
	key, err := r.packKey(e)
	if err != nil {
		return err
	}
	if r.value == nil {
		return fmt.Errorf("register %s: value layout: %w", r.info.Name, psabpf.ErrUnsupported)
	}
	value := make([]byte, r.info.ValueSize)
	if err := layout.Pack(r.value, &e.value, value); err != nil {
		return err
	}
	if err := r.m.Update(key, value, interpreter.UpdateAny); err != nil {
		return err
	}
	e.keyBuf, e.valueBuf = key, value
	r.logger.DebugContext(ctx, "set entry")
	return nil
}

// Reset writes a zero value under the entry's key. Value fields given
// to the entry are ignored.
func (r *Register) Reset(ctx context.Context, e *Entry) error {
	key, err := r.packKey(e)
	if err != nil {
		return err
	}
	value := make([]byte, r.info.ValueSize)
	if err := r.m.Update(key, value, interpreter.UpdateAny); err != nil {
		return err
	}
	e.keyBuf, e.valueBuf = key, value
	r.logger.DebugContext(ctx, "reset entry")
	return nil
}

// Entries yields every entry of the register in map order. It stops
// after MaxEntries keys; see pre for why enumeration is bounded.
func (r *Register) Entries(ctx context.Context) iter.Seq2[*Entry, error] {
	return func(yield func(*Entry, error) bool) {
		var cursor []byte
		for range uint64(r.info.MaxEntries) + 1 {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			next, ok, err := r.m.NextKey(cursor)
			if err != nil {
				yield(nil, err)
				return
			}
			if !ok {
				return
			}
			cursor = next

			value, err := r.m.Lookup(next)
			if errors.Is(err, psabpf.ErrNotFound) {
				continue
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(&Entry{reg: r, keyBuf: next, valueBuf: value}, nil) {
				return
			}
		}
	}
}
