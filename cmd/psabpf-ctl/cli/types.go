package cli

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/vishvananda/netlink"

	"github.com/frobware/go-psabpf"
)

// ID wraps a 32-bit pipeline, session or group id with hex support.
type ID struct {
	Value uint32
}

// ParseID parses an id from string, supporting hex (0x) prefix.
func ParseID(s string) (ID, error) {
	v, err := psabpf.ParseID(s)
	if err != nil {
		return ID{}, err
	}
	return ID{Value: v}, nil
}

// Port is an egress port. Operators may name an interface instead of
// giving its index.
type Port struct {
	Value uint32
	// Name is the interface name the port was resolved from, if any.
	Name string
}

// ParsePort parses a numeric port or resolves an interface name to
// its ifindex through lookup.
func ParsePort(s string, lookup func(name string) (int, error)) (Port, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Port{}, fmt.Errorf("port cannot be empty: %w", psabpf.ErrInvalidArgument)
	}

	if v, err := psabpf.ParseID(s); err == nil {
		return Port{Value: v}, nil
	}

	idx, err := lookup(s)
	if err != nil {
		return Port{}, fmt.Errorf("interface %q: %w: %w", s, psabpf.ErrInvalidArgument, err)
	}
	if idx <= 0 {
		return Port{}, fmt.Errorf("interface %q has no index: %w", s, psabpf.ErrInvalidArgument)
	}
	return Port{Value: uint32(idx), Name: s}, nil
}

func linkIndex(name string) (int, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return 0, err
	}
	return link.Attrs().Index, nil
}

// FieldValue is a struct field value given on the command line, either
// positional (VALUE) or named (NAME=VALUE).
type FieldValue struct {
	Name  string
	Value string
}

// ParseFieldValue parses VALUE or NAME=VALUE.
func ParseFieldValue(s string) (FieldValue, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return FieldValue{}, fmt.Errorf("field value cannot be empty: %w", psabpf.ErrInvalidArgument)
	}

	name, value, named := strings.Cut(s, "=")
	if !named {
		return FieldValue{Value: s}, nil
	}

	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)
	if name == "" {
		return FieldValue{}, fmt.Errorf("invalid format %q: name cannot be empty: %w", s, psabpf.ErrInvalidArgument)
	}
	if value == "" {
		return FieldValue{}, fmt.Errorf("invalid format %q: value cannot be empty: %w", s, psabpf.ErrInvalidArgument)
	}
	return FieldValue{Name: name, Value: value}, nil
}

// Encode converts the value into a field of size bytes. Decimal and
// short hex values are stored as native-endian integers; a hex string
// of exactly 2*size digits is taken as the raw bytes.
func (f FieldValue) Encode(size uint32) ([]byte, error) {
	s := f.Value
	if digits, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok && uint32(len(digits)) == 2*size && size > 8 {
		b, err := hex.DecodeString(digits)
		if err != nil {
			return nil, fmt.Errorf("invalid hex %q: %w", s, psabpf.ErrInvalidArgument)
		}
		return b, nil
	}

	var (
		v   uint64
		err error
	)
	if digits, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		v, err = strconv.ParseUint(digits, 16, 64)
	} else {
		v, err = strconv.ParseUint(s, 10, 64)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid number %q: %w", s, psabpf.ErrInvalidArgument)
	}

	switch size {
	case 1:
		if v > 0xff {
			break
		}
		return []byte{byte(v)}, nil
	case 2:
		if v > 0xffff {
			break
		}
		return binary.NativeEndian.AppendUint16(nil, uint16(v)), nil
	case 4:
		if v > 0xffffffff {
			break
		}
		return binary.NativeEndian.AppendUint32(nil, uint32(v)), nil
	case 8:
		return binary.NativeEndian.AppendUint64(nil, v), nil
	default:
		return nil, fmt.Errorf("field of %d bytes needs a 0x value of %d hex digits: %w", size, 2*size, psabpf.ErrInvalidArgument)
	}
	return nil, fmt.Errorf("%s does not fit in %d bytes: %w", s, size, psabpf.ErrInvalidArgument)
}
