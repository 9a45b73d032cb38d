// Package layout turns BTF type information into descriptor sets: the
// named byte ranges of a key or value buffer whose shape is only known
// once a pipeline has been loaded. Pack writes caller-supplied field
// values into such a buffer; Reader walks a buffer back out as named
// views.
package layout

import (
	"fmt"
	"slices"

	"github.com/cilium/ebpf/btf"

	"github.com/frobware/go-psabpf"
)

// Kind is the coarse type of a field.
type Kind uint8

const (
	KindInteger Kind = iota
	KindBool
	KindEnum
	KindStruct
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindBool:
		return "bool"
	case KindEnum:
		return "enum"
	case KindStruct:
		return "struct"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// MarshalText renders the kind by name in JSON output.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Field is one named byte range of a buffer.
type Field struct {
	Name   string `json:"name"`
	Kind   Kind   `json:"kind"`
	Offset uint32 `json:"offset"`
	Size   uint32 `json:"size"`
}

// Descriptors is the ordered field set of one buffer shape. Nested
// structs are flattened into dotted names ("hdr.ttl"). Fields are in
// layout order; padding between them is not described.
// Descriptors is immutable once built.
type Descriptors struct {
	name   string
	size   uint32
	fields []Field
}

// NewDescriptors builds a descriptor set from fields known up front.
// Fields must not overlap or extend past size.
func NewDescriptors(name string, size uint32, fields ...Field) (*Descriptors, error) {
	d := &Descriptors{name: name, size: size, fields: slices.Clone(fields)}
	slices.SortStableFunc(d.fields, func(a, b Field) int { return int(a.Offset) - int(b.Offset) })

	var end uint32
	for _, f := range d.fields {
		if f.Size == 0 || f.Offset < end || f.Offset+f.Size > size {
			return nil, fmt.Errorf("%s: field %q [%d,%d) does not fit: %w", name, f.Name, f.Offset, f.Offset+f.Size, psabpf.ErrInvalidArgument)
		}
		end = f.Offset + f.Size
	}
	return d, nil
}

// MustDescriptors is NewDescriptors for static layouts.
func MustDescriptors(name string, size uint32, fields ...Field) *Descriptors {
	d, err := NewDescriptors(name, size, fields...)
	if err != nil {
		panic(err)
	}
	return d
}

// Name is the name the set was built for.
func (d *Descriptors) Name() string { return d.name }

// Size is the length of the buffer the set describes.
func (d *Descriptors) Size() uint32 { return d.size }

// Len returns the number of fields.
func (d *Descriptors) Len() int { return len(d.fields) }

// Fields returns a copy of the fields in layout order.
func (d *Descriptors) Fields() []Field { return slices.Clone(d.fields) }

// Field returns the i'th field.
func (d *Descriptors) Field(i int) Field { return d.fields[i] }

// Lookup returns the field called name.
func (d *Descriptors) Lookup(name string) (Field, bool) {
	i := slices.IndexFunc(d.fields, func(f Field) bool { return f.Name == name })
	if i < 0 {
		return Field{}, false
	}
	return d.fields[i], true
}

// Build walks t and returns the descriptor set of a buffer of size
// bytes holding it. t is normally a struct; an integer, enum or array
// root produces a single field called name.
//
// Unions, pointers, bitfields and zero-length arrays anywhere in t
// fail with psabpf.ErrUnsupported, as does a size that disagrees with
// the type.
func Build(name string, t btf.Type, size uint32) (*Descriptors, error) {
	root := btf.UnderlyingType(t)

	typeSize, err := btf.Sizeof(root)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", name, err, psabpf.ErrUnsupported)
	}
	if uint32(typeSize) != size {
		return nil, fmt.Errorf("%s: type is %d bytes, buffer is %d: %w", name, typeSize, size, psabpf.ErrUnsupported)
	}

	b := builder{name: name, size: size}
	if s, ok := root.(*btf.Struct); ok {
		if err := b.walk(s, 0, ""); err != nil {
			return nil, err
		}
	} else if err := b.add(name, root, 0); err != nil {
		return nil, err
	}

	if len(b.fields) == 0 {
		return nil, fmt.Errorf("%s: no named fields: %w", name, psabpf.ErrUnsupported)
	}
	return &Descriptors{name: name, size: size, fields: b.fields}, nil
}

type builder struct {
	name   string
	size   uint32
	fields []Field
}

func (b *builder) unsupported(field, format string, args ...any) error {
	return fmt.Errorf("%s: field %q: %s: %w", b.name, field, fmt.Sprintf(format, args...), psabpf.ErrUnsupported)
}

func (b *builder) walk(s *btf.Struct, base uint32, prefix string) error {
	for _, m := range s.Members {
		name := prefix + m.Name
		if m.BitfieldSize != 0 {
			return b.unsupported(name, "bitfield")
		}
		if m.Offset%8 != 0 {
			return b.unsupported(name, "not byte aligned")
		}
		offset := base + uint32(m.Offset)/8

		if nested, ok := btf.UnderlyingType(m.Type).(*btf.Struct); ok {
			// Anonymous members flatten into their parent's namespace.
			sub := prefix
			if m.Name != "" {
				sub = name + "."
			}
			if err := b.walk(nested, offset, sub); err != nil {
				return err
			}
			continue
		}

		if m.Name == "" {
			name = prefix + "<anonymous>"
			if err := b.add(name, m.Type, offset); err != nil {
				return err
			}
			return b.unsupported(name, "unnamed member")
		}
		if err := b.add(name, m.Type, offset); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) add(name string, t btf.Type, offset uint32) error {
	t = btf.UnderlyingType(t)

	var kind Kind
	switch v := t.(type) {
	case *btf.Int:
		kind = KindInteger
		if v.Encoding == btf.Bool {
			kind = KindBool
		}
	case *btf.Enum:
		kind = KindEnum
	case *btf.Array:
		if v.Nelems == 0 {
			return b.unsupported(name, "flexible array")
		}
		switch elem := btf.UnderlyingType(v.Type).(type) {
		case *btf.Int, *btf.Enum, *btf.Array:
			kind = KindInteger
		case *btf.Struct:
			kind = KindStruct
		default:
			return b.unsupported(name, "array of %T", elem)
		}
	case *btf.Union:
		return b.unsupported(name, "union")
	case *btf.Pointer:
		return b.unsupported(name, "pointer")
	default:
		return b.unsupported(name, "%T", t)
	}

	size, err := btf.Sizeof(t)
	if err != nil {
		return b.unsupported(name, "%v", err)
	}
	if size <= 0 || offset+uint32(size) > b.size {
		return b.unsupported(name, "[%d,%d) outside %d byte buffer", offset, offset+uint32(size), b.size)
	}

	b.fields = append(b.fields, Field{Name: name, Kind: kind, Offset: offset, Size: uint32(size)})
	return nil
}

// MemberType returns the type of the member called name in container,
// looking through the pointer libbpf wraps around __type() members.
// Fails with psabpf.ErrNotFound if there is no such member.
func MemberType(container btf.Type, name string) (btf.Type, error) {
	var members []btf.Member
	switch c := btf.UnderlyingType(container).(type) {
	case *btf.Struct:
		members = c.Members
	case *btf.Union:
		members = c.Members
	default:
		return nil, fmt.Errorf("%s is not a composite type: %w", container, psabpf.ErrUnsupported)
	}

	for _, m := range members {
		if m.Name != name {
			continue
		}
		if ptr, ok := btf.UnderlyingType(m.Type).(*btf.Pointer); ok {
			return ptr.Target, nil
		}
		return m.Type, nil
	}
	return nil, fmt.Errorf("no member %q: %w", name, psabpf.ErrNotFound)
}
