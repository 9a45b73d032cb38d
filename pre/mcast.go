package pre

import (
	"context"
	"iter"

	"github.com/frobware/go-psabpf"
	"github.com/frobware/go-psabpf/interpreter"
	"github.com/frobware/go-psabpf/layout"
)

// MulticastGroupMember is one replication target of a multicast group.
type MulticastGroupMember struct {
	EgressPort uint32 `json:"egress_port"`
	Instance   uint16 `json:"instance"`
}

// Fields returns the member as it is laid out in the map.
func (m MulticastGroupMember) Fields() iter.Seq[layout.View] {
	buf, err := encodeGroupMember(m)
	if err != nil {
		return func(func(layout.View) bool) {}
	}
	return groupMemberLayout.All(buf)
}

var groupMemberLayout = layout.MustDescriptors("multicast_group_member", 8,
	layout.Field{Name: "egress_port", Kind: layout.KindInteger, Offset: 0, Size: 4},
	layout.Field{Name: "instance", Kind: layout.KindInteger, Offset: 4, Size: 2},
)

func encodeGroupMember(m MulticastGroupMember) ([]byte, error) {
	var set layout.FieldSet
	set.AppendNamed("egress_port", u32(m.EgressPort))
	set.AppendNamed("instance", u16(m.Instance))

	buf := make([]byte, groupMemberLayout.Size())
	if err := layout.Pack(groupMemberLayout, &set, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func decodeGroupMember(port uint32, instance uint16, value []byte) (MulticastGroupMember, error) {
	if _, err := layout.NewReader(groupMemberLayout, value); err != nil {
		return MulticastGroupMember{}, err
	}
	return MulticastGroupMember{EgressPort: port, Instance: instance}, nil
}

var groupShape = shape[MulticastGroupMember]{
	what:      "multicast group",
	valueSize: 8,
	encode:    encodeGroupMember,
	decode:    decodeGroupMember,
	target: func(m MulticastGroupMember) (uint32, uint16) {
		return m.EgressPort, m.Instance
	},
	notFound: func(id uint32) error { return psabpf.ErrGroupNotFound{ID: psabpf.GroupID(id)} },
	exists:   func(id uint32) error { return psabpf.ErrGroupExists{ID: psabpf.GroupID(id)} },
}

// MulticastGroup is a group together with its members.
type MulticastGroup struct {
	ID      psabpf.GroupID         `json:"id"`
	Members []MulticastGroupMember `json:"members"`
}

// MulticastGroups manages the multicast groups of one pipeline. It
// holds the group map open until Close.
type MulticastGroups struct {
	store *groupedStore[MulticastGroupMember]
}

// OpenMulticastGroups opens the multicast group map of pipeline.
func OpenMulticastGroups(ctx context.Context, opener interpreter.MapOpener, pipeline psabpf.PipelineID, opts ...Option) (*MulticastGroups, error) {
	o := buildOptions(DefaultMulticastGroupMap, opts)
	store, err := openStore(ctx, opener, pipeline, o.mapName, groupShape, o.logger)
	if err != nil {
		return nil, err
	}
	return &MulticastGroups{store: store}, nil
}

// Close releases the group map.
func (g *MulticastGroups) Close() error { return g.store.close() }

// Create makes an empty group.
// Fails with psabpf.ErrGroupExists if the group exists.
func (g *MulticastGroups) Create(ctx context.Context, id psabpf.GroupID) error {
	return g.store.create(ctx, uint32(id))
}

// Exists reports whether the group exists.
func (g *MulticastGroups) Exists(_ context.Context, id psabpf.GroupID) (bool, error) {
	return g.store.exists(uint32(id))
}

// Delete removes the group and then its members.
func (g *MulticastGroups) Delete(ctx context.Context, id psabpf.GroupID) error {
	return g.store.delete(ctx, uint32(id))
}

// AddMember inserts member into the group. Adding a member that is
// already present succeeds.
func (g *MulticastGroups) AddMember(ctx context.Context, id psabpf.GroupID, member MulticastGroupMember) error {
	return g.store.addMember(ctx, uint32(id), member)
}

// DeleteMember removes the member at (port, instance).
func (g *MulticastGroups) DeleteMember(ctx context.Context, id psabpf.GroupID, port uint32, instance uint16) error {
	return g.store.deleteMember(ctx, uint32(id), port, instance)
}

// MemberExists reports whether the group has a member at (port, instance).
func (g *MulticastGroups) MemberExists(_ context.Context, id psabpf.GroupID, port uint32, instance uint16) (bool, error) {
	return g.store.memberExists(uint32(id), port, instance)
}

// Members yields the members of a group in map order.
func (g *MulticastGroups) Members(ctx context.Context, id psabpf.GroupID) iter.Seq2[MulticastGroupMember, error] {
	return g.store.members(ctx, uint32(id))
}

// List yields every group with its members, each group once.
func (g *MulticastGroups) List(ctx context.Context) iter.Seq2[MulticastGroup, error] {
	return func(yield func(MulticastGroup, error) bool) {
		for grp, err := range g.store.list(ctx) {
			out := MulticastGroup{ID: psabpf.GroupID(grp.id), Members: grp.members}
			if out.Members == nil {
				out.Members = []MulticastGroupMember{}
			}
			if !yield(out, err) || err != nil {
				return
			}
		}
	}
}
