package kernel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/frobware/go-psabpf/kernel"
)

func TestMap_Fits(t *testing.T) {
	m := kernel.Map{Name: "reg", MapType: kernel.MapTypeArray, KeySize: 4, ValueSize: 8, MaxEntries: 16}
	assert.True(t, m.Fits())

	m.ValueSize = kernel.MaxBufferSize + 1
	assert.False(t, m.Fits())
}

func TestMap_String(t *testing.T) {
	m := kernel.Map{Name: "clone_session_tbl", MapType: kernel.MapTypeHash, KeySize: 12, ValueSize: 12, MaxEntries: 1024}
	assert.Equal(t, "clone_session_tbl (hash, key 12B, value 12B, max 1024)", m.String())
}

func TestNewMapType(t *testing.T) {
	assert.Equal(t, kernel.MapTypeHash, kernel.NewMapType("Hash"))
	assert.Equal(t, "percpuarray", kernel.NewMapType("PerCPUArray").String())
}
