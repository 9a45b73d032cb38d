package layout_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-psabpf"
	"github.com/frobware/go-psabpf/layout"
)

func le32(v uint32) []byte { return binary.NativeEndian.AppendUint32(nil, v) }
func le16(v uint16) []byte { return binary.NativeEndian.AppendUint16(nil, v) }

func keyDescriptors(t *testing.T) *layout.Descriptors {
	t.Helper()
	d, err := layout.Build("key", keyStruct(), 12)
	require.NoError(t, err)
	return d
}

func TestPack_RoundTrip(t *testing.T) {
	d := keyDescriptors(t)
	values := [][]byte{le32(0xdeadbeef), {1, 2, 3, 4, 5, 6}, le16(443)}

	var set layout.FieldSet
	for _, v := range values {
		set.Append(v)
	}
	buf := make([]byte, d.Size())
	require.NoError(t, layout.Pack(d, &set, buf))

	var got [][]byte
	for v := range d.All(buf) {
		got = append(got, v.Data)
	}
	assert.Equal(t, values, got)
}

func TestPack_PaddingKeepsContent(t *testing.T) {
	d, err := layout.Build("value", valueStruct(), 16)
	require.NoError(t, err)

	buf := bytes.Repeat([]byte{0xff}, 16)
	var set layout.FieldSet
	set.Append([]byte{64})
	set.Append([]byte{1})
	set.Append(le32(1))
	set.Append(make([]byte, 8))
	require.NoError(t, layout.Pack(d, &set, buf))

	assert.Equal(t, []byte{64, 1, 0xff, 0xff}, buf[:4], "padding after hdr is left alone")
}

func TestPack_Errors(t *testing.T) {
	d := keyDescriptors(t)

	tests := []struct {
		name   string
		values [][]byte
		bufLen int
		want   error
	}{
		{
			name:   "length mismatch",
			values: [][]byte{le32(1), {1, 2, 3}, le16(2)},
			bufLen: 12,
			want:   layout.ErrLengthMismatch,
		},
		{
			name:   "incomplete",
			values: [][]byte{le32(1), {1, 2, 3, 4, 5, 6}},
			bufLen: 12,
			want:   layout.ErrIncomplete,
		},
		{
			name:   "too many values",
			values: [][]byte{le32(1), {1, 2, 3, 4, 5, 6}, le16(2), le16(3)},
			bufLen: 12,
			want:   psabpf.ErrInvalidArgument,
		},
		{
			name:   "wrong buffer size",
			values: [][]byte{le32(1), {1, 2, 3, 4, 5, 6}, le16(2)},
			bufLen: 8,
			want:   psabpf.ErrInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var set layout.FieldSet
			for _, v := range tt.values {
				set.Append(v)
			}
			buf := make([]byte, tt.bufLen)
			err := layout.Pack(d, &set, buf)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, psabpf.ErrInvalidArgument)
			assert.Equal(t, make([]byte, tt.bufLen), buf, "failed pack must not write")
		})
	}
}

func TestPack_Named(t *testing.T) {
	d := keyDescriptors(t)

	var set layout.FieldSet
	set.AppendNamed("port", le16(8080))
	set.AppendNamed("id", le32(7))
	set.AppendNamed("mac", []byte{0xa, 0xb, 0xc, 0xd, 0xe, 0xf})

	buf := make([]byte, 12)
	require.NoError(t, layout.Pack(d, &set, buf))
	assert.Equal(t, le32(7), buf[0:4])
	assert.Equal(t, []byte{0xa, 0xb, 0xc, 0xd, 0xe, 0xf}, buf[4:10])
	assert.Equal(t, le16(8080), buf[10:12])
}

func TestPack_NamedErrors(t *testing.T) {
	d := keyDescriptors(t)
	buf := make([]byte, 12)

	var unknown layout.FieldSet
	unknown.AppendNamed("id", le32(1))
	unknown.AppendNamed("vlan", le16(1))
	unknown.AppendNamed("mac", make([]byte, 6))
	assert.ErrorIs(t, layout.Pack(d, &unknown, buf), psabpf.ErrInvalidArgument)

	var twice layout.FieldSet
	twice.AppendNamed("id", le32(1))
	twice.AppendNamed("id", le32(2))
	assert.ErrorIs(t, layout.Pack(d, &twice, buf), psabpf.ErrInvalidArgument)

	var missing layout.FieldSet
	missing.AppendNamed("id", le32(1))
	missing.AppendNamed("port", le16(1))
	assert.ErrorIs(t, layout.Pack(d, &missing, buf), layout.ErrIncomplete)

	var mixed layout.FieldSet
	mixed.Append(le32(1))
	mixed.AppendNamed("port", le16(1))
	mixed.AppendNamed("mac", make([]byte, 6))
	assert.ErrorIs(t, layout.Pack(d, &mixed, buf), psabpf.ErrInvalidArgument)

	var short layout.FieldSet
	short.AppendNamed("id", le32(1))
	short.AppendNamed("port", []byte{1})
	short.AppendNamed("mac", make([]byte, 6))
	assert.ErrorIs(t, layout.Pack(d, &short, buf), layout.ErrLengthMismatch)

	var empty layout.FieldSet
	empty.AppendNamed("id", nil)
	empty.AppendNamed("port", le16(1))
	empty.AppendNamed("mac", make([]byte, 6))
	err := layout.Pack(d, &empty, buf)
	assert.ErrorIs(t, err, layout.ErrLengthMismatch)
	assert.NotErrorIs(t, err, layout.ErrIncomplete)

	assert.Equal(t, make([]byte, 12), buf)
}

func TestFieldSet_Reset(t *testing.T) {
	var set layout.FieldSet
	set.AppendNamed("id", le32(1))
	set.Reset()
	assert.Zero(t, set.Len())

	set.Append(le32(1))
	set.Append(make([]byte, 6))
	set.Append(le16(1))
	require.NoError(t, layout.Pack(keyDescriptors(t), &set, make([]byte, 12)))
}

func TestReader(t *testing.T) {
	d := keyDescriptors(t)
	buf := make([]byte, 12)
	copy(buf, le32(42))

	r, err := layout.NewReader(d, buf)
	require.NoError(t, err)

	var first []string
	for v, ok := r.Next(); ok; v, ok = r.Next() {
		first = append(first, v.Name)
	}
	assert.Equal(t, []string{"id", "mac", "port"}, first)

	_, ok := r.Next()
	assert.False(t, ok, "exhausted reader stays exhausted")

	r.Reset()
	v, ok := r.Next()
	require.True(t, ok)
	assert.Equal(t, "id", v.Name)
	assert.Equal(t, layout.KindInteger, v.Kind)
	assert.Len(t, v.Data, 4)

	// Views alias the buffer.
	copy(buf, le32(43))
	n, ok := v.Uint()
	require.True(t, ok)
	assert.Equal(t, uint64(43), n)

	_, err = layout.NewReader(d, buf[:4])
	assert.ErrorIs(t, err, psabpf.ErrInvalidArgument)

	var zero layout.Reader
	_, ok = zero.Next()
	assert.False(t, ok)
}

func TestAll_StopsEarly(t *testing.T) {
	d := keyDescriptors(t)
	count := 0
	for range d.All(make([]byte, 12)) {
		count++
		break
	}
	assert.Equal(t, 1, count)

	for range d.All(make([]byte, 3)) {
		t.Fatal("short buffer yields nothing")
	}
}

func TestView_String(t *testing.T) {
	tests := []struct {
		view layout.View
		want string
	}{
		{layout.View{Kind: layout.KindInteger, Data: le32(1234)}, "1234"},
		{layout.View{Kind: layout.KindInteger, Data: le16(7)}, "7"},
		{layout.View{Kind: layout.KindEnum, Data: le32(2)}, "2"},
		{layout.View{Kind: layout.KindBool, Data: []byte{1}}, "true"},
		{layout.View{Kind: layout.KindBool, Data: []byte{0}}, "false"},
		{layout.View{Kind: layout.KindInteger, Data: []byte{0xde, 0xad, 0xbe, 0xef, 0, 1}}, "0xdeadbeef0001"},
		{layout.View{Kind: layout.KindStruct, Data: []byte{1, 2}}, "0x0102"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.view.String())
		})
	}
}
