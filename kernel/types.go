package kernel

import "strings"

// MapType represents a kernel BPF map type.
// Always lowercase. Use NewMapType to construct.
type MapType string

// Map types the PSA pipeline declares.
const (
	MapTypeHash  MapType = "hash"
	MapTypeArray MapType = "array"
)

// NewMapType creates a MapType from a string, normalising to lowercase.
func NewMapType(s string) MapType {
	return MapType(strings.ToLower(s))
}

func (t MapType) String() string { return string(t) }

