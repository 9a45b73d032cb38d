// Package kernel contains types describing BPF objects as observed
// from the kernel. They are plain data, populated when a map is
// opened, and never written back.
package kernel

import "fmt"

// Map describes an opened BPF map.
type Map struct {
	Name       string  `json:"name"`
	MapType    MapType `json:"map_type"`
	KeySize    uint32  `json:"key_size"`
	ValueSize  uint32  `json:"value_size"`
	MaxEntries uint32  `json:"max_entries"`

	// PinPath is where the map was opened from, empty for maps that
	// were not pinned.
	PinPath string `json:"pin_path,omitempty"`
}

func (m Map) String() string {
	return fmt.Sprintf("%s (%s, key %dB, value %dB, max %d)", m.Name, m.MapType, m.KeySize, m.ValueSize, m.MaxEntries)
}

// MaxBufferSize is the largest key or value the kernel will copy in a
// single map syscall.
const MaxBufferSize = 4 << 20

// Fits reports whether the map's key and value sizes can be buffered.
func (m Map) Fits() bool {
	return m.KeySize <= MaxBufferSize && m.ValueSize <= MaxBufferSize
}
