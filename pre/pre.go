// Package pre manages the Packet Replication Engine of a pipeline:
// clone sessions and multicast groups.
//
// Each kind lives in one shared map keyed by (id, egress port,
// instance). A session or group exists while its marker entry does;
// members are independent entries that are only acted on while their
// owner exists. Every mutation is a single-key kernel operation, so the
// fast path sees either the old or the new member, never a mix. Nothing
// spanning several keys (deleting a session with its members, listing)
// is atomic.
package pre

import (
	"log/slog"
)

const (
	// DefaultCloneSessionMap is the map clone sessions are pinned as.
	DefaultCloneSessionMap = "clone_session_tbl"
	// DefaultMulticastGroupMap is the map multicast groups are pinned as.
	DefaultMulticastGroupMap = "multicast_grp_tbl"
)

type options struct {
	logger  *slog.Logger
	mapName string
}

// Option configures a manager.
type Option func(*options)

// WithLogger sets the logger. Mutations log at debug, scans at trace.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMapName overrides the name of the map the manager opens.
func WithMapName(name string) Option {
	return func(o *options) {
		o.mapName = name
	}
}

func buildOptions(defaultMap string, opts []Option) options {
	o := options{
		logger:  slog.Default(),
		mapName: defaultMap,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
