// Package memory provides an in-process implementation of the
// interpreter interfaces. It behaves like the kernel where the library
// depends on it (update flags, next-key restart, capacity) and adds
// what tests need: seeded enumeration order, handle accounting and
// error injection.
package memory

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/cilium/ebpf/btf"
	"golang.org/x/sys/unix"

	"github.com/frobware/go-psabpf"
	"github.com/frobware/go-psabpf/interpreter"
	"github.com/frobware/go-psabpf/kernel"
)

// Op names a map operation for error injection.
type Op string

const (
	OpLookup  Op = "lookup"
	OpUpdate  Op = "update"
	OpDelete  Op = "delete"
	OpNextKey Op = "next key"
)

// Kernel is a fake set of pinned pipelines.
type Kernel struct {
	mu        sync.Mutex
	rng       *rand.Rand
	pipelines map[psabpf.PipelineID]*pipeline
	opens     int
	closes    int
	openErr   error
}

type pipeline struct {
	maps  map[string]*Map
	types *Types
}

var (
	_ interpreter.MapOpener  = (*Kernel)(nil)
	_ interpreter.TypeLoader = (*Kernel)(nil)
)

// Option configures a Kernel.
type Option func(*Kernel)

// WithSeed fixes the seed that decides where new keys land in
// enumeration order.
func WithSeed(seed uint64) Option {
	return func(k *Kernel) {
		k.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// New creates an empty fake kernel.
func New(opts ...Option) *Kernel {
	k := &Kernel{
		rng:       rand.New(rand.NewPCG(1, 2)),
		pipelines: make(map[psabpf.PipelineID]*pipeline),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

func (k *Kernel) pipeline(id psabpf.PipelineID) *pipeline {
	p, ok := k.pipelines[id]
	if !ok {
		p = &pipeline{maps: make(map[string]*Map)}
		k.pipelines[id] = p
	}
	return p
}

// CreateHash pins an empty hash map in pipeline.
func (k *Kernel) CreateHash(pipeline psabpf.PipelineID, name string, keySize, valueSize, maxEntries uint32) *Map {
	return k.create(pipeline, kernel.Map{
		Name:       name,
		MapType:    kernel.MapTypeHash,
		KeySize:    keySize,
		ValueSize:  valueSize,
		MaxEntries: maxEntries,
	})
}

// CreateArray pins an array map in pipeline. Every index exists from
// the start with a zero value; keys are native-endian u32.
func (k *Kernel) CreateArray(pipeline psabpf.PipelineID, name string, valueSize, maxEntries uint32) *Map {
	m := k.create(pipeline, kernel.Map{
		Name:       name,
		MapType:    kernel.MapTypeArray,
		KeySize:    4,
		ValueSize:  valueSize,
		MaxEntries: maxEntries,
	})
	for i := range maxEntries {
		key := binary.NativeEndian.AppendUint32(nil, i)
		m.keys = append(m.keys, key)
		m.values[string(key)] = make([]byte, valueSize)
	}
	return m
}

func (k *Kernel) create(id psabpf.PipelineID, info kernel.Map) *Map {
	k.mu.Lock()
	defer k.mu.Unlock()

	m := &Map{
		info:     info,
		rng:      rand.New(rand.NewPCG(k.rng.Uint64(), k.rng.Uint64())),
		values:   make(map[string][]byte),
		failures: make(map[Op]error),
	}
	k.pipeline(id).maps[info.Name] = m
	return m
}

// SetTypes attaches BTF to a pipeline.
func (k *Kernel) SetTypes(id psabpf.PipelineID, types *Types) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pipeline(id).types = types
}

// FailOpen makes every OpenMap fail with err until cleared with nil.
func (k *Kernel) FailOpen(err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.openErr = err
}

// OpenHandles returns the number of handles opened and not yet closed.
func (k *Kernel) OpenHandles() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.opens - k.closes
}

// OpenMap implements interpreter.MapOpener.
func (k *Kernel) OpenMap(ctx context.Context, id psabpf.PipelineID, name string) (interpreter.Map, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.openErr != nil {
		return nil, k.openErr
	}
	p, ok := k.pipelines[id]
	if !ok {
		return nil, fmt.Errorf("pipeline %s has no map %q: %w", id, name, psabpf.ErrNotFound)
	}
	m, ok := p.maps[name]
	if !ok {
		return nil, fmt.Errorf("pipeline %s has no map %q: %w", id, name, psabpf.ErrNotFound)
	}
	k.opens++
	return &handle{Map: m, kernel: k}, nil
}

// LoadTypes implements interpreter.TypeLoader.
func (k *Kernel) LoadTypes(ctx context.Context, id psabpf.PipelineID) (interpreter.Types, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	p, ok := k.pipelines[id]
	if !ok || p.types == nil {
		return nil, fmt.Errorf("pipeline %s: no BTF found: %w", id, psabpf.ErrUnsupported)
	}
	return p.types, nil
}

// handle is one open reference to a Map.
type handle struct {
	*Map
	kernel *Kernel
	closed bool
}

func (h *handle) Close() error {
	h.kernel.mu.Lock()
	defer h.kernel.mu.Unlock()
	if h.closed {
		return fs.ErrClosed
	}
	h.closed = true
	h.kernel.closes++
	return nil
}

// Map is the shared state behind every handle on one pinned map.
type Map struct {
	mu       sync.Mutex
	info     kernel.Map
	rng      *rand.Rand
	keys     [][]byte
	values   map[string][]byte
	failures map[Op]error
}

// Inject makes op fail with err until cleared with nil. The error is
// returned as the kernel would, wrapped in a *psabpf.MapError.
func (m *Map) Inject(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Len returns the number of entries.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

// Keys returns a copy of every key in enumeration order.
func (m *Map) Keys() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([][]byte, len(m.keys))
	for i, key := range m.keys {
		keys[i] = bytes.Clone(key)
	}
	return keys
}

func (m *Map) Info() kernel.Map { return m.info }

func (m *Map) check(op Op, key []byte) error {
	if err := m.failures[op]; err != nil {
		return &psabpf.MapError{Op: string(op), Map: m.info.Name, Err: err}
	}
	if key != nil && uint32(len(key)) != m.info.KeySize {
		return fmt.Errorf("map %s: %s: key is %d bytes, want %d: %w", m.info.Name, op, len(key), m.info.KeySize, psabpf.ErrInvalidArgument)
	}
	return nil
}

func (m *Map) errno(op Op, errno unix.Errno) error {
	err := &psabpf.MapError{Op: string(op), Map: m.info.Name, Err: errno}
	switch errno {
	case unix.ENOENT:
		return fmt.Errorf("%w: %w", psabpf.ErrNotFound, err)
	case unix.EEXIST:
		return fmt.Errorf("%w: %w", psabpf.ErrAlreadyExists, err)
	default:
		return err
	}
}

func (m *Map) Lookup(key []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(OpLookup, key); err != nil {
		return nil, err
	}
	value, ok := m.values[string(key)]
	if !ok {
		return nil, m.errno(OpLookup, unix.ENOENT)
	}
	return bytes.Clone(value), nil
}

func (m *Map) Update(key, value []byte, flags interpreter.UpdateFlags) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(OpUpdate, key); err != nil {
		return err
	}
	if uint32(len(value)) != m.info.ValueSize {
		return fmt.Errorf("map %s: update: value is %d bytes, want %d: %w", m.info.Name, len(value), m.info.ValueSize, psabpf.ErrInvalidArgument)
	}

	_, exists := m.values[string(key)]
	switch {
	case flags == interpreter.UpdateNoExist && exists:
		return m.errno(OpUpdate, unix.EEXIST)
	case flags == interpreter.UpdateExist && !exists:
		return m.errno(OpUpdate, unix.ENOENT)
	}

	if !exists {
		if m.info.MapType == kernel.MapTypeArray {
			return m.errno(OpUpdate, unix.E2BIG)
		}
		if uint32(len(m.keys)) >= m.info.MaxEntries {
			return m.errno(OpUpdate, unix.E2BIG)
		}
		// New keys land anywhere in enumeration order, as in a hash table.
		at := m.rng.IntN(len(m.keys) + 1)
		m.keys = slices.Insert(m.keys, at, bytes.Clone(key))
	}
	m.values[string(key)] = bytes.Clone(value)
	return nil
}

func (m *Map) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(OpDelete, key); err != nil {
		return err
	}
	if m.info.MapType == kernel.MapTypeArray {
		return m.errno(OpDelete, unix.EINVAL)
	}
	if _, ok := m.values[string(key)]; !ok {
		return m.errno(OpDelete, unix.ENOENT)
	}
	delete(m.values, string(key))
	m.keys = slices.DeleteFunc(m.keys, func(k []byte) bool { return bytes.Equal(k, key) })
	return nil
}

// NextKey follows BPF_MAP_GET_NEXT_KEY: a nil or absent key restarts
// from the first key.
func (m *Map) NextKey(key []byte) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(OpNextKey, key); err != nil {
		return nil, false, err
	}

	next := 0
	if key != nil {
		if i := slices.IndexFunc(m.keys, func(k []byte) bool { return bytes.Equal(k, key) }); i >= 0 {
			next = i + 1
		}
	}
	if next >= len(m.keys) {
		return nil, false, nil
	}
	return bytes.Clone(m.keys[next]), true, nil
}

// Types is a fake BTF graph holding .maps definitions.
type Types struct {
	defs map[string]*btf.Struct
}

var _ interpreter.Types = (*Types)(nil)

// NewTypes returns an empty type graph.
func NewTypes() *Types {
	return &Types{defs: make(map[string]*btf.Struct)}
}

// DefineMap declares a map whose key and value have the given types,
// the way libbpf's __type(key, ...) and __type(value, ...) do.
func (t *Types) DefineMap(name string, key, value btf.Type) *Types {
	t.defs[name] = &btf.Struct{
		Size: 16,
		Members: []btf.Member{
			{Name: "key", Type: &btf.Pointer{Target: key}, Offset: 0},
			{Name: "value", Type: &btf.Pointer{Target: value}, Offset: 64},
		},
	}
	return t
}

// DefineRaw declares a map with an arbitrary definition struct.
func (t *Types) DefineRaw(name string, def *btf.Struct) *Types {
	t.defs[name] = def
	return t
}

func (t *Types) MapDefinition(name string) (*btf.Struct, error) {
	def, ok := t.defs[name]
	if !ok {
		return nil, fmt.Errorf("map %q not declared in .maps: %w", name, psabpf.ErrNotFound)
	}
	return def, nil
}
