// Package psabpf is the control-plane library for PSA pipelines whose
// fast path runs as eBPF programs. It manipulates pipeline state held
// in kernel maps: generic register cells described by BTF, and the
// Packet Replication Engine (clone sessions and multicast groups).
//
// The root package holds the identifier types and the error taxonomy
// shared by the layout, pre and register packages.
package psabpf

import (
	"fmt"
	"strconv"
	"strings"
)

// PipelineID identifies a loaded pipeline. Its maps are pinned under
// <bpffs>/pipeline<ID>/maps.
type PipelineID uint32

func (id PipelineID) String() string { return strconv.FormatUint(uint64(id), 10) }

// SessionID identifies a clone session.
type SessionID uint32

// GroupID identifies a multicast group.
type GroupID uint32

// ParseID parses a 32-bit identifier, accepting a 0x prefix for hex.
func ParseID(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("id cannot be empty: %w", ErrInvalidArgument)
	}

	var (
		val uint64
		err error
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		val, err = strconv.ParseUint(s[2:], 16, 32)
	} else {
		val, err = strconv.ParseUint(s, 10, 32)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, ErrInvalidArgument)
	}
	return uint32(val), nil
}
