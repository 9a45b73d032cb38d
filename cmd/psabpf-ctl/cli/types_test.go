package cli_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-psabpf"
	"github.com/frobware/go-psabpf/cmd/psabpf-ctl/cli"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		input string
		want  uint32
	}{
		{"0", 0},
		{"10", 10},
		{"0x10", 16},
		{"0XfF", 255},
		{" 7 ", 7},
		{"4294967295", 0xffffffff},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			id, err := cli.ParseID(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, id.Value)
		})
	}

	for _, bad := range []string{"", "  ", "-1", "4294967296", "0x", "ten"} {
		t.Run("invalid/"+bad, func(t *testing.T) {
			_, err := cli.ParseID(bad)
			assert.ErrorIs(t, err, psabpf.ErrInvalidArgument)
		})
	}
}

func TestParsePort(t *testing.T) {
	links := map[string]int{"eth0": 2, "veth-a": 17}
	lookup := func(name string) (int, error) {
		if idx, ok := links[name]; ok {
			return idx, nil
		}
		return 0, errors.New("Link not found")
	}

	p, err := cli.ParsePort("5", lookup)
	require.NoError(t, err)
	assert.Equal(t, cli.Port{Value: 5}, p)

	p, err = cli.ParsePort("eth0", lookup)
	require.NoError(t, err)
	assert.Equal(t, cli.Port{Value: 2, Name: "eth0"}, p)

	p, err = cli.ParsePort(" veth-a ", lookup)
	require.NoError(t, err)
	assert.Equal(t, uint32(17), p.Value)

	_, err = cli.ParsePort("nope0", lookup)
	assert.ErrorIs(t, err, psabpf.ErrInvalidArgument)
	assert.ErrorContains(t, err, "Link not found")

	_, err = cli.ParsePort("", lookup)
	assert.ErrorIs(t, err, psabpf.ErrInvalidArgument)

	_, err = cli.ParsePort("lo", func(string) (int, error) { return 0, nil })
	assert.ErrorIs(t, err, psabpf.ErrInvalidArgument)
}

func TestParseFieldValue(t *testing.T) {
	tests := []struct {
		input string
		want  cli.FieldValue
	}{
		{"5", cli.FieldValue{Value: "5"}},
		{"0xdead", cli.FieldValue{Value: "0xdead"}},
		{"bytes=1500", cli.FieldValue{Name: "bytes", Value: "1500"}},
		{" src = 0x0a000001 ", cli.FieldValue{Name: "src", Value: "0x0a000001"}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			fv, err := cli.ParseFieldValue(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, fv)
		})
	}

	for _, bad := range []string{"", "=5", "name="} {
		t.Run("invalid/"+bad, func(t *testing.T) {
			_, err := cli.ParseFieldValue(bad)
			assert.ErrorIs(t, err, psabpf.ErrInvalidArgument)
		})
	}
}

func TestFieldValueEncode(t *testing.T) {
	tests := []struct {
		value string
		size  uint32
		want  []byte
	}{
		{"255", 1, []byte{0xff}},
		{"0x1234", 2, binary.NativeEndian.AppendUint16(nil, 0x1234)},
		{"7", 4, binary.NativeEndian.AppendUint32(nil, 7)},
		{"1500", 8, binary.NativeEndian.AppendUint64(nil, 1500)},
		{"0x000102030405060708090a0b0c0d0e0f", 16, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			b, err := cli.FieldValue{Value: tt.value}.Encode(tt.size)
			require.NoError(t, err)
			assert.Equal(t, tt.want, b)
		})
	}

	invalid := []struct {
		value string
		size  uint32
	}{
		{"256", 1},
		{"65536", 2},
		{"0x100000000", 4},
		{"abc", 4},
		{"5", 16},
		{"0xzz0102030405060708090a0b0c0d0e0f", 16},
	}
	for _, tt := range invalid {
		t.Run("invalid/"+tt.value, func(t *testing.T) {
			_, err := cli.FieldValue{Value: tt.value}.Encode(tt.size)
			assert.ErrorIs(t, err, psabpf.ErrInvalidArgument)
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{psabpf.ErrSessionExists{ID: 1}, 17},
		{psabpf.ErrGroupNotFound{ID: 1}, 2},
		{psabpf.ErrInvalidArgument, 22},
		{psabpf.ErrUnsupported, 95},
		{psabpf.ErrOutOfMemory, 12},
		{&psabpf.MapError{Op: "update", Map: "m", Err: errors.New("boom")}, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cli.ExitCode(tt.err), "%v", tt.err)
	}
}
