package register_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/cilium/ebpf/btf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-psabpf"
	"github.com/frobware/go-psabpf/interpreter/memory"
	"github.com/frobware/go-psabpf/layout"
	"github.com/frobware/go-psabpf/logging"
	"github.com/frobware/go-psabpf/register"
)

const pipeline psabpf.PipelineID = 2

var (
	u8  = &btf.Int{Name: "u8", Size: 1}
	u16 = &btf.Int{Name: "u16", Size: 2}
	u32 = &btf.Int{Name: "u32", Size: 4}
	u64 = &btf.Int{Name: "u64", Size: 8}
)

// struct flow_key { u32 src; u16 port; u8 proto; u8 pad; }
var flowKey = &btf.Struct{Name: "flow_key", Size: 8, Members: []btf.Member{
	{Name: "src", Type: u32, Offset: 0},
	{Name: "port", Type: u16, Offset: 32},
	{Name: "proto", Type: u8, Offset: 48},
	{Name: "pad", Type: u8, Offset: 56},
}}

// struct counters { u64 packets; u64 bytes; }
var counters = &btf.Struct{Name: "counters", Size: 16, Members: []btf.Member{
	{Name: "packets", Type: u64, Offset: 0},
	{Name: "bytes", Type: u64, Offset: 64},
}}

var withUnion = &btf.Struct{Name: "bad", Size: 16, Members: []btf.Member{
	{Name: "u", Type: &btf.Union{Name: "either", Size: 16, Members: []btf.Member{
		{Name: "a", Type: u64},
		{Name: "b", Type: u32},
	}}},
}}

func u32b(v uint32) []byte { return binary.NativeEndian.AppendUint32(nil, v) }
func u16b(v uint16) []byte { return binary.NativeEndian.AppendUint16(nil, v) }
func u64b(v uint64) []byte { return binary.NativeEndian.AppendUint64(nil, v) }

func open(t *testing.T, k *memory.Kernel, name string) *register.Register {
	t.Helper()
	r, err := register.Open(context.Background(), k, k, pipeline, name, register.WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, r.Close())
		assert.Zero(t, k.OpenHandles())
	})
	return r
}

func flowKernel() (*memory.Kernel, *memory.Map) {
	k := memory.New()
	m := k.CreateHash(pipeline, "flows", 8, 16, 64)
	k.SetTypes(pipeline, memory.NewTypes().DefineMap("flows", flowKey, counters))
	return k, m
}

func setFlowKey(e *register.Entry, src uint32, port uint16) {
	e.SetKey(u32b(src))
	e.SetKey(u16b(port))
	e.SetKey([]byte{6})
	e.SetKey([]byte{0})
}

func TestOpen_Layouts(t *testing.T) {
	k, _ := flowKernel()
	r := open(t, k, "flows")

	require.NotNil(t, r.KeyLayout())
	require.NotNil(t, r.ValueLayout())
	assert.Equal(t, 4, r.KeyLayout().Len())
	assert.Equal(t, []layout.Field{
		{Name: "packets", Kind: layout.KindInteger, Offset: 0, Size: 8},
		{Name: "bytes", Kind: layout.KindInteger, Offset: 8, Size: 8},
	}, r.ValueLayout().Fields())
	assert.Equal(t, "flows", r.Info().Name)
}

func TestSetGet(t *testing.T) {
	k, m := flowKernel()
	r := open(t, k, "flows")
	ctx := context.Background()

	e := r.NewEntry()
	setFlowKey(e, 0x0a000001, 80)
	e.SetValue(u64b(3))
	e.SetValue(u64b(1500))
	require.NoError(t, r.Set(ctx, e))
	assert.Equal(t, 1, m.Len())

	got := r.NewEntry()
	got.SetKeyNamed("port", u16b(80))
	got.SetKeyNamed("src", u32b(0x0a000001))
	got.SetKeyNamed("pad", []byte{0})
	got.SetKeyNamed("proto", []byte{6})
	require.NoError(t, r.Get(ctx, got))

	values := map[string]string{}
	for v := range got.Fields() {
		values[v.Name] = v.String()
	}
	assert.Equal(t, map[string]string{"packets": "3", "bytes": "1500"}, values)

	var keyNames []string
	for v := range got.KeyFields() {
		keyNames = append(keyNames, v.Name)
	}
	assert.Equal(t, []string{"src", "port", "proto", "pad"}, keyNames)
	assert.Len(t, got.Key(), 8)
	assert.Len(t, got.Value(), 16)
}

func TestGet_Missing(t *testing.T) {
	k, _ := flowKernel()
	r := open(t, k, "flows")

	e := r.NewEntry()
	setFlowKey(e, 1, 1)
	err := r.Get(context.Background(), e)
	assert.ErrorIs(t, err, psabpf.ErrNotFound)

	var n int
	for range e.Fields() {
		n++
	}
	assert.Zero(t, n, "no value before a successful read")
}

func TestGet_KeyErrors(t *testing.T) {
	k, m := flowKernel()
	r := open(t, k, "flows")
	ctx := context.Background()

	short := r.NewEntry()
	short.SetKey(u32b(1))
	assert.ErrorIs(t, r.Get(ctx, short), layout.ErrIncomplete)

	wrong := r.NewEntry()
	wrong.SetKey(u16b(1))
	wrong.SetKey(u16b(1))
	wrong.SetKey([]byte{6})
	wrong.SetKey([]byte{0})
	assert.ErrorIs(t, r.Get(ctx, wrong), layout.ErrLengthMismatch)

	badValue := r.NewEntry()
	setFlowKey(badValue, 1, 1)
	badValue.SetValue(u32b(1))
	assert.ErrorIs(t, r.Set(ctx, badValue), psabpf.ErrInvalidArgument)
	assert.Zero(t, m.Len(), "rejected writes leave the map alone")
}

func TestReset(t *testing.T) {
	k, _ := flowKernel()
	r := open(t, k, "flows")
	ctx := context.Background()

	e := r.NewEntry()
	setFlowKey(e, 9, 9)
	e.SetValue(u64b(10))
	e.SetValue(u64b(20))
	require.NoError(t, r.Set(ctx, e))

	reset := r.NewEntry()
	setFlowKey(reset, 9, 9)
	require.NoError(t, r.Reset(ctx, reset))

	got := r.NewEntry()
	setFlowKey(got, 9, 9)
	require.NoError(t, r.Get(ctx, got))
	assert.Equal(t, make([]byte, 16), got.Value())
}

func TestEntries_Array(t *testing.T) {
	k := memory.New(memory.WithSeed(3))
	m := k.CreateArray(pipeline, "reg_counter", 8, 4)
	k.SetTypes(pipeline, memory.NewTypes().DefineMap("reg_counter", u32, u64))
	r := open(t, k, "reg_counter")
	ctx := context.Background()

	require.NoError(t, m.Update(u32b(2), u64b(77), 0))

	got := map[string]string{}
	for e, err := range r.Entries(ctx) {
		require.NoError(t, err)
		var key, value string
		for v := range e.KeyFields() {
			key = v.String()
		}
		for v := range e.Fields() {
			assert.Equal(t, "value", v.Name)
			value = v.String()
		}
		got[key] = value
	}
	assert.Equal(t, map[string]string{"0": "0", "1": "0", "2": "77", "3": "0"}, got)

	// Scalar keys are packed as a single field named "key".
	e := r.NewEntry()
	e.SetKeyNamed("key", u32b(2))
	require.NoError(t, r.Get(ctx, e))
	assert.Equal(t, u64b(77), e.Value())
}

func TestOpen_ValueLayoutOnly(t *testing.T) {
	k := memory.New()
	k.CreateHash(pipeline, "odd", 16, 16, 8)
	k.SetTypes(pipeline, memory.NewTypes().DefineMap("odd", withUnion, counters))
	r := open(t, k, "odd")

	assert.Nil(t, r.KeyLayout())
	assert.NotNil(t, r.ValueLayout())

	e := r.NewEntry()
	e.SetKey(make([]byte, 16))
	assert.ErrorIs(t, r.Get(context.Background(), e), psabpf.ErrUnsupported)
}

func TestOpen_KeyLayoutOnly(t *testing.T) {
	k := memory.New()
	m := k.CreateHash(pipeline, "raw", 8, 16, 8)
	k.SetTypes(pipeline, memory.NewTypes().DefineMap("raw", flowKey, withUnion))
	r := open(t, k, "raw")
	ctx := context.Background()

	assert.Nil(t, r.ValueLayout())

	key := r.NewEntry()
	setFlowKey(key, 1, 2)
	assert.ErrorIs(t, r.Set(ctx, key), psabpf.ErrUnsupported)
	require.NoError(t, r.Reset(ctx, key))
	assert.Equal(t, 1, m.Len())

	got := r.NewEntry()
	setFlowKey(got, 1, 2)
	require.NoError(t, r.Get(ctx, got))
	var views []layout.View
	for v := range got.Fields() {
		views = append(views, v)
	}
	require.Len(t, views, 1, "unparsed values are shown whole")
	assert.Equal(t, "value", views[0].Name)
	assert.Len(t, views[0].Data, 16)
}

func TestOpen_Unsupported(t *testing.T) {
	ctx := context.Background()

	t.Run("nested union in key and value", func(t *testing.T) {
		k := memory.New()
		k.CreateHash(pipeline, "bad", 16, 16, 8)
		k.SetTypes(pipeline, memory.NewTypes().DefineMap("bad", withUnion, withUnion))

		_, err := register.Open(ctx, k, k, pipeline, "bad")
		assert.ErrorIs(t, err, psabpf.ErrUnsupported)
		assert.Zero(t, k.OpenHandles(), "no open map handle")
	})

	t.Run("no BTF", func(t *testing.T) {
		k := memory.New()
		k.CreateHash(pipeline, "flows", 8, 16, 8)

		_, err := register.Open(ctx, k, k, pipeline, "flows")
		assert.ErrorIs(t, err, psabpf.ErrUnsupported)
		assert.Zero(t, k.OpenHandles())
	})

	t.Run("map missing from BTF", func(t *testing.T) {
		k, _ := flowKernel()
		k.CreateHash(pipeline, "other", 8, 16, 8)

		_, err := register.Open(ctx, k, k, pipeline, "other")
		assert.ErrorIs(t, err, psabpf.ErrUnsupported)
	})

	t.Run("definition without key or value", func(t *testing.T) {
		k := memory.New()
		k.CreateHash(pipeline, "empty", 8, 16, 8)
		k.SetTypes(pipeline, memory.NewTypes().DefineRaw("empty", &btf.Struct{Size: 8, Members: []btf.Member{
			{Name: "max_entries", Type: &btf.Pointer{Target: u32}},
		}}))

		_, err := register.Open(ctx, k, k, pipeline, "empty")
		assert.ErrorIs(t, err, psabpf.ErrUnsupported)
		assert.Zero(t, k.OpenHandles())
	})

	t.Run("sizes disagree with BTF", func(t *testing.T) {
		k := memory.New()
		k.CreateHash(pipeline, "flows", 12, 24, 8)
		k.SetTypes(pipeline, memory.NewTypes().DefineMap("flows", flowKey, counters))

		_, err := register.Open(ctx, k, k, pipeline, "flows")
		assert.ErrorIs(t, err, psabpf.ErrUnsupported)
		assert.Zero(t, k.OpenHandles())
	})
}

func TestOpen_MapErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("not pinned", func(t *testing.T) {
		k := memory.New()
		k.SetTypes(pipeline, memory.NewTypes().DefineMap("flows", flowKey, counters))

		_, err := register.Open(ctx, k, k, pipeline, "flows")
		assert.ErrorIs(t, err, psabpf.ErrNotFound)
	})

	t.Run("too large to buffer", func(t *testing.T) {
		huge := &btf.Array{Index: u32, Type: u8, Nelems: 5 << 20}
		k := memory.New()
		k.CreateHash(pipeline, "huge", 4, 5<<20, 1)
		k.SetTypes(pipeline, memory.NewTypes().DefineMap("huge", u32, huge))

		_, err := register.Open(ctx, k, k, pipeline, "huge")
		assert.ErrorIs(t, err, psabpf.ErrOutOfMemory)
		assert.Zero(t, k.OpenHandles())
	})
}
