package psabpf

import (
	"errors"
	"fmt"
)

// Error kinds. Every operation in this module fails with an error that
// matches exactly one of these via errors.Is, or with a *MapError that
// carries the kernel's own failure.
var (
	// ErrAlreadyExists is returned when creating an object that is
	// already present.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotFound is returned when an operation references an absent
	// session, group, member or key.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument is returned for malformed caller input, such
	// as a field value whose length disagrees with its descriptor.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnsupported is returned when type metadata is missing or does
	// not describe a flat aggregate.
	ErrUnsupported = errors.New("unsupported type layout")

	// ErrOutOfMemory is returned when a buffer cannot be allocated.
	ErrOutOfMemory = errors.New("out of memory")
)

// MapError is an opaque passthrough of a failure reported by the
// kernel map layer. The wrapped error is preserved so callers can
// still inspect it with errors.Is and errors.As.
type MapError struct {
	Op  string
	Map string
	Err error
}

func (e *MapError) Error() string {
	return fmt.Sprintf("map %s: %s: %v", e.Map, e.Op, e.Err)
}

func (e *MapError) Unwrap() error { return e.Err }

// ErrSessionNotFound is returned when operating on a clone session
// that does not exist.
type ErrSessionNotFound struct {
	ID SessionID
}

func (e ErrSessionNotFound) Error() string {
	return fmt.Sprintf("no such clone session %d", e.ID)
}

func (e ErrSessionNotFound) Is(target error) bool { return target == ErrNotFound }

// ErrSessionExists is returned when creating a clone session that is
// already present.
type ErrSessionExists struct {
	ID SessionID
}

func (e ErrSessionExists) Error() string {
	return fmt.Sprintf("clone session %d already exists", e.ID)
}

func (e ErrSessionExists) Is(target error) bool { return target == ErrAlreadyExists }

// ErrGroupNotFound is returned when operating on a multicast group
// that does not exist.
type ErrGroupNotFound struct {
	ID GroupID
}

func (e ErrGroupNotFound) Error() string {
	return fmt.Sprintf("no such multicast group %d", e.ID)
}

func (e ErrGroupNotFound) Is(target error) bool { return target == ErrNotFound }

// ErrGroupExists is returned when creating a multicast group that is
// already present.
type ErrGroupExists struct {
	ID GroupID
}

func (e ErrGroupExists) Error() string {
	return fmt.Sprintf("multicast group %d already exists", e.ID)
}

func (e ErrGroupExists) Is(target error) bool { return target == ErrAlreadyExists }

// ErrMemberNotFound is returned when deleting or reading a member
// that is not part of an existing session or group.
type ErrMemberNotFound struct {
	Owner    uint32
	Port     uint32
	Instance uint16
}

func (e ErrMemberNotFound) Error() string {
	return fmt.Sprintf("no member (egress-port %d, instance %d) in %d", e.Port, e.Instance, e.Owner)
}

func (e ErrMemberNotFound) Is(target error) bool { return target == ErrNotFound }
