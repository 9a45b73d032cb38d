package pre

import (
	"context"
	"encoding/binary"
	"iter"

	"github.com/frobware/go-psabpf"
	"github.com/frobware/go-psabpf/interpreter"
	"github.com/frobware/go-psabpf/layout"
)

// CloneSessionEntry is one replication target of a clone session.
type CloneSessionEntry struct {
	EgressPort     uint32 `json:"egress_port"`
	Instance       uint16 `json:"instance"`
	ClassOfService uint8  `json:"class_of_service"`
	Truncate       bool   `json:"truncate"`
	// PacketLengthBytes caps the copy's length while Truncate is set.
	PacketLengthBytes uint16 `json:"packet_length_bytes"`
}

// EnableTruncation caps the copy sent to this target at n bytes.
func (e *CloneSessionEntry) EnableTruncation(n uint16) {
	e.Truncate = true
	e.PacketLengthBytes = n
}

// DisableTruncation sends the whole packet again.
func (e *CloneSessionEntry) DisableTruncation() {
	e.Truncate = false
	e.PacketLengthBytes = 0
}

// Truncated reports whether copies to this target are truncated.
func (e CloneSessionEntry) Truncated() bool { return e.Truncate }

// TruncateLength returns the truncation length, 0 when disabled.
func (e CloneSessionEntry) TruncateLength() uint16 {
	if !e.Truncate {
		return 0
	}
	return e.PacketLengthBytes
}

// Fields returns the entry as it is laid out in the map.
func (e CloneSessionEntry) Fields() iter.Seq[layout.View] {
	buf, err := encodeCloneEntry(e)
	if err != nil {
		return func(func(layout.View) bool) {}
	}
	return cloneEntryLayout.All(buf)
}

// The value stored for each clone session member.
var cloneEntryLayout = layout.MustDescriptors("clone_session_entry", 12,
	layout.Field{Name: "egress_port", Kind: layout.KindInteger, Offset: 0, Size: 4},
	layout.Field{Name: "instance", Kind: layout.KindInteger, Offset: 4, Size: 2},
	layout.Field{Name: "class_of_service", Kind: layout.KindInteger, Offset: 6, Size: 1},
	layout.Field{Name: "truncate", Kind: layout.KindBool, Offset: 7, Size: 1},
	layout.Field{Name: "packet_length_bytes", Kind: layout.KindInteger, Offset: 8, Size: 2},
)

func encodeCloneEntry(e CloneSessionEntry) ([]byte, error) {
	var set layout.FieldSet
	set.AppendNamed("egress_port", u32(e.EgressPort))
	set.AppendNamed("instance", u16(e.Instance))
	set.AppendNamed("class_of_service", []byte{e.ClassOfService})
	set.AppendNamed("truncate", boolByte(e.Truncate))
	set.AppendNamed("packet_length_bytes", u16(e.TruncateLength()))

	buf := make([]byte, cloneEntryLayout.Size())
	if err := layout.Pack(cloneEntryLayout, &set, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func decodeCloneEntry(port uint32, instance uint16, value []byte) (CloneSessionEntry, error) {
	e := CloneSessionEntry{EgressPort: port, Instance: instance}
	r, err := layout.NewReader(cloneEntryLayout, value)
	if err != nil {
		return e, err
	}
	for v, ok := r.Next(); ok; v, ok = r.Next() {
		switch v.Name {
		case "class_of_service":
			e.ClassOfService = v.Data[0]
		case "truncate":
			e.Truncate = v.Data[0] != 0
		case "packet_length_bytes":
			e.PacketLengthBytes = binary.NativeEndian.Uint16(v.Data)
		}
	}
	if !e.Truncate {
		e.PacketLengthBytes = 0
	}
	return e, nil
}

var cloneShape = shape[CloneSessionEntry]{
	what:      "clone session",
	valueSize: 12,
	encode:    encodeCloneEntry,
	decode:    decodeCloneEntry,
	target: func(e CloneSessionEntry) (uint32, uint16) {
		return e.EgressPort, e.Instance
	},
	notFound: func(id uint32) error { return psabpf.ErrSessionNotFound{ID: psabpf.SessionID(id)} },
	exists:   func(id uint32) error { return psabpf.ErrSessionExists{ID: psabpf.SessionID(id)} },
}

// CloneSession is a session together with its members.
type CloneSession struct {
	ID      psabpf.SessionID    `json:"id"`
	Entries []CloneSessionEntry `json:"entries"`
}

// CloneSessions manages the clone sessions of one pipeline. It holds
// the session map open until Close.
type CloneSessions struct {
	store *groupedStore[CloneSessionEntry]
}

// OpenCloneSessions opens the clone session map of pipeline.
func OpenCloneSessions(ctx context.Context, opener interpreter.MapOpener, pipeline psabpf.PipelineID, opts ...Option) (*CloneSessions, error) {
	o := buildOptions(DefaultCloneSessionMap, opts)
	store, err := openStore(ctx, opener, pipeline, o.mapName, cloneShape, o.logger)
	if err != nil {
		return nil, err
	}
	return &CloneSessions{store: store}, nil
}

// Close releases the session map.
func (c *CloneSessions) Close() error { return c.store.close() }

// Create makes an empty session. Any members left behind by an
// interrupted Delete of the same id are removed first.
// Fails with psabpf.ErrSessionExists if the session exists.
func (c *CloneSessions) Create(ctx context.Context, id psabpf.SessionID) error {
	return c.store.create(ctx, uint32(id))
}

// Exists reports whether the session exists.
func (c *CloneSessions) Exists(_ context.Context, id psabpf.SessionID) (bool, error) {
	return c.store.exists(uint32(id))
}

// Delete removes the session and then its members.
// Fails with psabpf.ErrSessionNotFound if the session does not exist.
func (c *CloneSessions) Delete(ctx context.Context, id psabpf.SessionID) error {
	return c.store.delete(ctx, uint32(id))
}

// AddMember inserts entry into the session, replacing any member with
// the same egress port and instance.
func (c *CloneSessions) AddMember(ctx context.Context, id psabpf.SessionID, entry CloneSessionEntry) error {
	return c.store.addMember(ctx, uint32(id), entry)
}

// DeleteMember removes the member at (port, instance).
func (c *CloneSessions) DeleteMember(ctx context.Context, id psabpf.SessionID, port uint32, instance uint16) error {
	return c.store.deleteMember(ctx, uint32(id), port, instance)
}

// Member returns the member at (port, instance).
func (c *CloneSessions) Member(_ context.Context, id psabpf.SessionID, port uint32, instance uint16) (CloneSessionEntry, error) {
	return c.store.member(uint32(id), port, instance)
}

// MemberExists reports whether the session has a member at (port, instance).
func (c *CloneSessions) MemberExists(_ context.Context, id psabpf.SessionID, port uint32, instance uint16) (bool, error) {
	return c.store.memberExists(uint32(id), port, instance)
}

// Members yields the members of a session in map order. The first
// value carries psabpf.ErrSessionNotFound if the session is absent.
func (c *CloneSessions) Members(ctx context.Context, id psabpf.SessionID) iter.Seq2[CloneSessionEntry, error] {
	return c.store.members(ctx, uint32(id))
}

// List yields every session with its members, each session once.
func (c *CloneSessions) List(ctx context.Context) iter.Seq2[CloneSession, error] {
	return func(yield func(CloneSession, error) bool) {
		for g, err := range c.store.list(ctx) {
			s := CloneSession{ID: psabpf.SessionID(g.id), Entries: g.members}
			if s.Entries == nil {
				s.Entries = []CloneSessionEntry{}
			}
			if !yield(s, err) || err != nil {
				return
			}
		}
	}
}
