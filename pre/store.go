package pre

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/frobware/go-psabpf"
	"github.com/frobware/go-psabpf/interpreter"
	"github.com/frobware/go-psabpf/kernel"
	"github.com/frobware/go-psabpf/logging"
)

// Both PRE maps are keyed by (owner id, egress port, instance):
//
//	u32 owner @0, u32 egress_port @4, u16 instance @8, 2 bytes padding
//
// The key (owner, markerPort, markerInstance) never names a member. It
// records that the session or group exists, so that one with no
// members is still distinguishable from one that was never created.
const (
	keySize = 12

	markerPort     uint32 = 0xFFFFFFFF
	markerInstance uint16 = 0xFFFF
)

type memberKey struct {
	owner    uint32
	port     uint32
	instance uint16
}

func markerKey(owner uint32) memberKey {
	return memberKey{owner: owner, port: markerPort, instance: markerInstance}
}

func (k memberKey) isMarker() bool {
	return k.port == markerPort && k.instance == markerInstance
}

func (k memberKey) marshal() []byte {
	b := make([]byte, keySize)
	binary.NativeEndian.PutUint32(b[0:4], k.owner)
	binary.NativeEndian.PutUint32(b[4:8], k.port)
	binary.NativeEndian.PutUint16(b[8:10], k.instance)
	return b
}

func parseKey(b []byte) memberKey {
	return memberKey{
		owner:    binary.NativeEndian.Uint32(b[0:4]),
		port:     binary.NativeEndian.Uint32(b[4:8]),
		instance: binary.NativeEndian.Uint16(b[8:10]),
	}
}

// shape adapts the grouped store to one member record type.
type shape[M any] struct {
	// what names the owner in messages: "clone session", "multicast group".
	what      string
	valueSize uint32
	encode    func(M) ([]byte, error)
	decode    func(port uint32, instance uint16, value []byte) (M, error)
	target    func(M) (port uint32, instance uint16)
	notFound  func(id uint32) error
	exists    func(id uint32) error
}

// group is one owner id and its members.
type group[M any] struct {
	id      uint32
	members []M
}

// groupedStore keeps groups of members in a single map keyed by
// (owner, port, instance). The map offers only single-key operations
// and unordered key enumeration, so every multi-key operation here is
// a sequence of independent kernel calls.
type groupedStore[M any] struct {
	m        interpreter.Map
	info     kernel.Map
	pipeline psabpf.PipelineID
	shape    shape[M]
	logger   *slog.Logger
}

func openStore[M any](ctx context.Context, opener interpreter.MapOpener, pipeline psabpf.PipelineID, name string, sh shape[M], logger *slog.Logger) (*groupedStore[M], error) {
	m, err := opener.OpenMap(ctx, pipeline, name)
	if err != nil {
		return nil, fmt.Errorf("open %s map: %w", sh.what, err)
	}

	info := m.Info()
	switch {
	case !info.Fits():
		m.Close()
		return nil, fmt.Errorf("map %s: %w", info, psabpf.ErrOutOfMemory)
	case info.KeySize != keySize || info.ValueSize != sh.valueSize:
		m.Close()
		return nil, fmt.Errorf("map %s: want %d byte keys and %d byte values: %w", info, keySize, sh.valueSize, psabpf.ErrUnsupported)
	}

	return &groupedStore[M]{
		m:        m,
		info:     info,
		pipeline: pipeline,
		shape:    sh,
		logger:   logger.With(logging.ComponentKey, "pre", "pipeline", pipeline, "map", info.Name),
	}, nil
}

func (s *groupedStore[M]) close() error {
	return s.m.Close()
}

func (s *groupedStore[M]) trace(ctx context.Context, msg string, args ...any) {
	s.logger.Log(ctx, logging.LevelTrace.ToSlog(), msg, args...)
}

func (s *groupedStore[M]) exists(id uint32) (bool, error) {
	_, err := s.m.Lookup(markerKey(id).marshal())
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, psabpf.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// mustExist returns the owner's not-found error unless it exists.
func (s *groupedStore[M]) mustExist(id uint32) error {
	ok, err := s.exists(id)
	if err != nil {
		return err
	}
	if !ok {
		return s.shape.notFound(id)
	}
	return nil
}

func (s *groupedStore[M]) create(ctx context.Context, id uint32) error {
	ok, err := s.exists(id)
	if err != nil {
		return err
	}
	if ok {
		return s.shape.exists(id)
	}

	// Members left behind by an interrupted delete must not reappear
	// in the new group.
	if n, err := s.purge(ctx, id); err != nil {
		return fmt.Errorf("%s %d: removing stale members: %w", s.shape.what, id, err)
	} else if n > 0 {
		s.logger.DebugContext(ctx, "removed stale members", "id", id, "count", n)
	}

	err = s.m.Update(markerKey(id).marshal(), make([]byte, s.shape.valueSize), interpreter.UpdateNoExist)
	if errors.Is(err, psabpf.ErrAlreadyExists) {
		return s.shape.exists(id)
	}
	if err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "created", "id", id)
	return nil
}

// delete removes the marker first: from then on the members are
// orphans that every other operation ignores, so a failure while
// removing them is logged rather than returned.
func (s *groupedStore[M]) delete(ctx context.Context, id uint32) error {
	err := s.m.Delete(markerKey(id).marshal())
	if errors.Is(err, psabpf.ErrNotFound) {
		return s.shape.notFound(id)
	}
	if err != nil {
		return err
	}

	n, err := s.purge(ctx, id)
	if err != nil {
		s.logger.WarnContext(ctx, "members left behind after delete", "id", id, "error", err)
	}
	s.logger.DebugContext(ctx, "deleted", "id", id, "members", n)
	return nil
}

// purge deletes every member of id, returning how many it removed.
// Keys are collected before any is deleted because deleting the
// cursor key restarts the kernel's enumeration.
func (s *groupedStore[M]) purge(ctx context.Context, id uint32) (int, error) {
	var doomed []memberKey
	for k, err := range s.keys(ctx) {
		if err != nil {
			return 0, err
		}
		if k.owner == id && !k.isMarker() {
			doomed = append(doomed, k)
		}
	}

	removed := 0
	for _, k := range doomed {
		err := s.m.Delete(k.marshal())
		if errors.Is(err, psabpf.ErrNotFound) {
			continue
		}
		if err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *groupedStore[M]) checkTarget(id, port uint32, instance uint16) error {
	if port == markerPort && instance == markerInstance {
		return fmt.Errorf("%s %d: egress port %#x instance %#x is reserved: %w", s.shape.what, id, port, instance, psabpf.ErrInvalidArgument)
	}
	return nil
}

func (s *groupedStore[M]) addMember(ctx context.Context, id uint32, member M) error {
	port, instance := s.shape.target(member)
	if err := s.checkTarget(id, port, instance); err != nil {
		return err
	}
	value, err := s.shape.encode(member)
	if err != nil {
		return err
	}
	if err := s.mustExist(id); err != nil {
		return err
	}

	key := memberKey{owner: id, port: port, instance: instance}
	if err := s.m.Update(key.marshal(), value, interpreter.UpdateAny); err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "added member", "id", id, "port", port, "instance", instance)
	return nil
}

func (s *groupedStore[M]) deleteMember(ctx context.Context, id, port uint32, instance uint16) error {
	if err := s.checkTarget(id, port, instance); err != nil {
		return err
	}
	if err := s.mustExist(id); err != nil {
		return err
	}

	key := memberKey{owner: id, port: port, instance: instance}
	err := s.m.Delete(key.marshal())
	if errors.Is(err, psabpf.ErrNotFound) {
		return psabpf.ErrMemberNotFound{Owner: id, Port: port, Instance: instance}
	}
	if err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "deleted member", "id", id, "port", port, "instance", instance)
	return nil
}

func (s *groupedStore[M]) member(id, port uint32, instance uint16) (M, error) {
	var zero M
	if err := s.checkTarget(id, port, instance); err != nil {
		return zero, err
	}
	if err := s.mustExist(id); err != nil {
		return zero, err
	}

	value, err := s.m.Lookup(memberKey{owner: id, port: port, instance: instance}.marshal())
	if errors.Is(err, psabpf.ErrNotFound) {
		return zero, psabpf.ErrMemberNotFound{Owner: id, Port: port, Instance: instance}
	}
	if err != nil {
		return zero, err
	}
	return s.shape.decode(port, instance, value)
}

func (s *groupedStore[M]) memberExists(id, port uint32, instance uint16) (bool, error) {
	_, err := s.member(id, port, instance)
	var missing psabpf.ErrMemberNotFound
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &missing):
		return false, nil
	default:
		return false, err
	}
}

// keys enumerates the map from its first key. It gives up after
// MaxEntries keys: a concurrent delete of the cursor key makes the
// kernel restart from the beginning, and without a bound that could
// go on forever.
func (s *groupedStore[M]) keys(ctx context.Context) iter.Seq2[memberKey, error] {
	return func(yield func(memberKey, error) bool) {
		var cursor []byte
		for range uint64(s.info.MaxEntries) + 1 {
			if err := ctx.Err(); err != nil {
				yield(memberKey{}, err)
				return
			}
			next, ok, err := s.m.NextKey(cursor)
			if err != nil {
				yield(memberKey{}, err)
				return
			}
			if !ok {
				return
			}
			cursor = next
			if !yield(parseKey(next), nil) {
				return
			}
		}
	}
}

// members yields the members of one existing group.
func (s *groupedStore[M]) members(ctx context.Context, id uint32) iter.Seq2[M, error] {
	return func(yield func(M, error) bool) {
		var zero M
		if err := s.mustExist(id); err != nil {
			yield(zero, err)
			return
		}
		for k, err := range s.keys(ctx) {
			if err != nil {
				yield(zero, err)
				return
			}
			if k.owner != id || k.isMarker() {
				continue
			}
			m, ok, err := s.load(k)
			if err != nil {
				yield(zero, err)
				return
			}
			if ok && !yield(m, nil) {
				return
			}
		}
	}
}

// load reads one member. ok is false if it vanished since its key was
// enumerated.
func (s *groupedStore[M]) load(k memberKey) (M, bool, error) {
	var zero M
	value, err := s.m.Lookup(k.marshal())
	if errors.Is(err, psabpf.ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	m, err := s.shape.decode(k.port, k.instance, value)
	if err != nil {
		return zero, false, err
	}
	return m, true, nil
}

// collect gathers every member of id in one bounded pass. present
// reports whether id has its existence marker.
func (s *groupedStore[M]) collect(ctx context.Context, id uint32) (g group[M], present bool, err error) {
	g.id = id
	for k, err := range s.keys(ctx) {
		if err != nil {
			return g, false, err
		}
		if k.owner != id {
			continue
		}
		if k.isMarker() {
			present = true
			continue
		}
		m, ok, err := s.load(k)
		if err != nil {
			return g, false, err
		}
		if ok {
			g.members = append(g.members, m)
		}
	}
	return g, present, nil
}

// list yields every group once, with all of its members.
//
// Enumeration order is arbitrary and interleaves owners, so the outer
// scan remembers which owners it has handled. The first key of an
// unseen owner triggers a full collection pass for that owner, after
// which the outer scan resumes from that key. Cost is quadratic in the
// number of keys.
//
// Owners without a marker are orphans of an interrupted delete and are
// skipped. Under concurrent writers the result reflects some state the
// map passed through during the call, not a snapshot.
func (s *groupedStore[M]) list(ctx context.Context) iter.Seq2[group[M], error] {
	return func(yield func(group[M], error) bool) {
		seen := make(map[uint32]struct{})
		var cursor []byte
		for range uint64(s.info.MaxEntries) + 1 {
			if err := ctx.Err(); err != nil {
				yield(group[M]{}, err)
				return
			}
			next, ok, err := s.m.NextKey(cursor)
			if err != nil {
				yield(group[M]{}, err)
				return
			}
			if !ok {
				return
			}
			cursor = next

			id := parseKey(next).owner
			if _, done := seen[id]; done {
				continue
			}
			seen[id] = struct{}{}

			g, present, err := s.collect(ctx, id)
			if err != nil {
				yield(group[M]{}, err)
				return
			}
			if !present {
				s.trace(ctx, "skipping orphaned members", "id", id, "count", len(g.members))
				continue
			}
			s.trace(ctx, "collected", "id", id, "members", len(g.members))
			if !yield(g, nil) {
				return
			}
		}
	}
}
