// Package interpreter contains the interfaces through which the
// library reaches the kernel: map handles and BTF type metadata.
// Implementations live in interpreter/ebpf (real kernel) and
// interpreter/memory (in-process fake used by tests).
package interpreter

import (
	"context"
	"io"

	"github.com/cilium/ebpf/btf"

	"github.com/frobware/go-psabpf"
	"github.com/frobware/go-psabpf/kernel"
)

// UpdateFlags selects the semantics of Map.Update.
type UpdateFlags uint8

const (
	// UpdateAny creates a new element or updates an existing one.
	UpdateAny UpdateFlags = iota
	// UpdateNoExist creates a new element only; it fails with
	// psabpf.ErrAlreadyExists if the key is present.
	UpdateNoExist
	// UpdateExist updates an existing element only; it fails with
	// psabpf.ErrNotFound if the key is absent.
	UpdateExist
)

// Map is an open handle on a single kernel map. All operations act on
// raw byte buffers sized exactly to the map's key and value sizes.
//
// Each call is a single-key kernel operation and is atomic with
// respect to concurrent readers. Nothing spans more than one key.
type Map interface {
	io.Closer

	// Info describes the map as reported by the kernel.
	Info() kernel.Map

	// Lookup returns a copy of the value stored under key.
	// Returns an error matching psabpf.ErrNotFound if the key is absent.
	Lookup(key []byte) ([]byte, error)

	// Update stores value under key.
	Update(key, value []byte, flags UpdateFlags) error

	// Delete removes key.
	// Returns an error matching psabpf.ErrNotFound if the key is absent.
	Delete(key []byte) error

	// NextKey returns the key following key in implementation-defined
	// order. A nil key returns the first key. ok is false once the
	// enumeration is exhausted. If key is no longer present the kernel
	// restarts from the first key.
	NextKey(key []byte) (next []byte, ok bool, err error)
}

// MapOpener opens maps belonging to a pipeline by name.
type MapOpener interface {
	// OpenMap returns an error matching psabpf.ErrNotFound if the
	// pipeline has no such map. The caller owns the returned handle.
	OpenMap(ctx context.Context, pipeline psabpf.PipelineID, name string) (Map, error)
}

// Types is the BTF type graph of a loaded pipeline.
type Types interface {
	// MapDefinition returns the struct declared for a map in the
	// .maps section, whose "key" and "value" members describe the
	// layout of the map's entries.
	// Returns an error matching psabpf.ErrNotFound if there is none.
	MapDefinition(name string) (*btf.Struct, error)
}

// TypeLoader loads the type metadata a pipeline was compiled with.
type TypeLoader interface {
	// LoadTypes returns an error matching psabpf.ErrUnsupported when
	// the pipeline carries no BTF.
	LoadTypes(ctx context.Context, pipeline psabpf.PipelineID) (Types, error)
}
