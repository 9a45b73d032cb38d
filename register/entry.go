package register

import (
	"iter"

	"github.com/frobware/go-psabpf/layout"
)

// Entry is one register cell. Key fields are supplied before Get, Set
// or Reset; value fields before Set. Fields given with SetKey or
// SetValue are consumed in layout order, those given by name in any
// order.
type Entry struct {
	reg      *Register
	key      layout.FieldSet
	value    layout.FieldSet
	keyBuf   []byte
	valueBuf []byte
}

// SetKey appends the next key field in layout order.
func (e *Entry) SetKey(data []byte) { e.key.Append(data) }

// SetKeyNamed supplies the key field called name.
func (e *Entry) SetKeyNamed(name string, data []byte) { e.key.AppendNamed(name, data) }

// SetValue appends the next value field in layout order.
func (e *Entry) SetValue(data []byte) { e.value.Append(data) }

// SetValueNamed supplies the value field called name.
func (e *Entry) SetValueNamed(name string, data []byte) { e.value.AppendNamed(name, data) }

// Key returns the packed key, nil before the entry was read or written.
func (e *Entry) Key() []byte { return e.keyBuf }

// Value returns the raw value, nil before the entry was read or written.
func (e *Entry) Value() []byte { return e.valueBuf }

// KeyFields yields the fields of the packed key.
func (e *Entry) KeyFields() iter.Seq[layout.View] {
	return views("key", e.reg.key, e.keyBuf)
}

// Fields yields the fields of the value. The views alias the entry's
// buffer and are only valid until the entry is used again.
func (e *Entry) Fields() iter.Seq[layout.View] {
	return views("value", e.reg.value, e.valueBuf)
}

// views walks buf with d, or yields buf whole when there is no layout.
func views(name string, d *layout.Descriptors, buf []byte) iter.Seq[layout.View] {
	if buf == nil {
		return func(func(layout.View) bool) {}
	}
	if d == nil {
		return func(yield func(layout.View) bool) {
			yield(layout.View{Name: name, Kind: layout.KindStruct, Data: buf})
		}
	}
	return d.All(buf)
}
