package layout

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"iter"
	"strconv"

	"github.com/frobware/go-psabpf"
)

var (
	// ErrLengthMismatch means a value's length disagrees with its field.
	ErrLengthMismatch = fmt.Errorf("field length mismatch: %w", psabpf.ErrInvalidArgument)

	// ErrIncomplete means fewer values were supplied than there are fields.
	ErrIncomplete = fmt.Errorf("incomplete field set: %w", psabpf.ErrInvalidArgument)
)

// FieldSet collects the values to pack into a buffer.
//
// Values appended with Append are consumed positionally, in layout
// order, not in any order a user might naturally type them.
// AppendNamed values are matched to fields by name instead and may be
// given in any order. A set must not mix the two.
type FieldSet struct {
	values []fieldValue
	named  int
}

type fieldValue struct {
	name string
	data []byte
}

// Append adds the value of the next field in layout order.
func (s *FieldSet) Append(data []byte) {
	s.values = append(s.values, fieldValue{data: data})
}

// AppendNamed adds the value of the field called name.
func (s *FieldSet) AppendNamed(name string, data []byte) {
	s.values = append(s.values, fieldValue{name: name, data: data})
	s.named++
}

// Len returns the number of values.
func (s *FieldSet) Len() int { return len(s.values) }

// Reset empties the set.
func (s *FieldSet) Reset() {
	s.values = s.values[:0]
	s.named = 0
}

// Pack writes set into out according to d. Bytes not covered by a
// field keep their previous content. Every value is checked before any
// byte is written, so a failed Pack leaves out untouched.
func Pack(d *Descriptors, set *FieldSet, out []byte) error {
	if uint32(len(out)) != d.size {
		return fmt.Errorf("%s: buffer is %d bytes, want %d: %w", d.name, len(out), d.size, psabpf.ErrInvalidArgument)
	}

	ordered, err := order(d, set)
	if err != nil {
		return err
	}
	for i, f := range d.fields {
		copy(out[f.Offset:f.Offset+f.Size], ordered[i])
	}
	return nil
}

// order returns set's values in layout order, validated.
func order(d *Descriptors, set *FieldSet) ([][]byte, error) {
	ordered := make([][]byte, len(d.fields))

	switch {
	case set.named == 0:
		if len(set.values) < len(d.fields) {
			return nil, fmt.Errorf("%s: %d of %d fields given: %w", d.name, len(set.values), len(d.fields), ErrIncomplete)
		}
		if len(set.values) > len(d.fields) {
			return nil, fmt.Errorf("%s: %d values given for %d fields: %w", d.name, len(set.values), len(d.fields), psabpf.ErrInvalidArgument)
		}
		for i, v := range set.values {
			ordered[i] = v.data
		}

	case set.named == len(set.values):
		given := make([]bool, len(d.fields))
		for _, v := range set.values {
			i := -1
			for j, f := range d.fields {
				if f.Name == v.name {
					i = j
					break
				}
			}
			if i < 0 {
				return nil, fmt.Errorf("%s: no field %q: %w", d.name, v.name, psabpf.ErrInvalidArgument)
			}
			if given[i] {
				return nil, fmt.Errorf("%s: field %q given twice: %w", d.name, v.name, psabpf.ErrInvalidArgument)
			}
			given[i] = true
			ordered[i] = v.data
		}
		for i, f := range d.fields {
			if !given[i] {
				return nil, fmt.Errorf("%s: field %q not given: %w", d.name, f.Name, ErrIncomplete)
			}
		}

	default:
		return nil, fmt.Errorf("%s: named and positional values mixed: %w", d.name, psabpf.ErrInvalidArgument)
	}

	for i, f := range d.fields {
		if uint32(len(ordered[i])) != f.Size {
			return nil, fmt.Errorf("%s: field %q is %d bytes, got %d: %w", d.name, f.Name, f.Size, len(ordered[i]), ErrLengthMismatch)
		}
	}
	return ordered, nil
}

// View is one field of a buffer. Data aliases the buffer the view was
// read from and is only valid while that buffer is.
type View struct {
	Name string
	Kind Kind
	Data []byte
}

// Uint decodes a native-endian integer of 1, 2, 4 or 8 bytes.
func (v View) Uint() (uint64, bool) {
	switch len(v.Data) {
	case 1:
		return uint64(v.Data[0]), true
	case 2:
		return uint64(binary.NativeEndian.Uint16(v.Data)), true
	case 4:
		return uint64(binary.NativeEndian.Uint32(v.Data)), true
	case 8:
		return binary.NativeEndian.Uint64(v.Data), true
	}
	return 0, false
}

// String renders integers and enums in decimal, booleans as
// true/false and anything else as 0x-prefixed bytes in memory order.
func (v View) String() string {
	if v.Kind == KindBool && len(v.Data) == 1 {
		return strconv.FormatBool(v.Data[0] != 0)
	}
	if v.Kind == KindInteger || v.Kind == KindEnum {
		if n, ok := v.Uint(); ok {
			return strconv.FormatUint(n, 10)
		}
	}
	return "0x" + hex.EncodeToString(v.Data)
}

// Reader walks the fields of a buffer one at a time. The zero Reader
// yields nothing.
type Reader struct {
	d      *Descriptors
	buf    []byte
	cursor int
}

// NewReader returns a Reader over buf, which must be d.Size() bytes.
func NewReader(d *Descriptors, buf []byte) (*Reader, error) {
	if uint32(len(buf)) != d.size {
		return nil, fmt.Errorf("%s: buffer is %d bytes, want %d: %w", d.name, len(buf), d.size, psabpf.ErrInvalidArgument)
	}
	return &Reader{d: d, buf: buf}, nil
}

// Next returns the next field, or false once every field was returned.
func (r *Reader) Next() (View, bool) {
	if r.d == nil || r.cursor >= len(r.d.fields) {
		return View{}, false
	}
	f := r.d.fields[r.cursor]
	r.cursor++
	end := f.Offset + f.Size
	return View{Name: f.Name, Kind: f.Kind, Data: r.buf[f.Offset:end:end]}, true
}

// Reset rewinds the reader to the first field.
func (r *Reader) Reset() { r.cursor = 0 }

// All returns an iterator over every field of buf. It yields nothing
// if buf is not d.Size() bytes.
func (d *Descriptors) All(buf []byte) iter.Seq[View] {
	return func(yield func(View) bool) {
		r, err := NewReader(d, buf)
		if err != nil {
			return
		}
		for {
			v, ok := r.Next()
			if !ok || !yield(v) {
				return
			}
		}
	}
}
