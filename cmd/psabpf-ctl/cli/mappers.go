package cli

import (
	"reflect"

	"github.com/alecthomas/kong"
)

// idMapper creates a Kong mapper for ID.
func idMapper() kong.MapperFunc {
	return func(ctx *kong.DecodeContext, target reflect.Value) error {
		var s string
		if err := ctx.Scan.PopValueInto("id", &s); err != nil {
			return err
		}
		id, err := ParseID(s)
		if err != nil {
			return err
		}
		target.Set(reflect.ValueOf(id))
		return nil
	}
}

// portMapper creates a Kong mapper for Port that resolves interface
// names with lookup.
func portMapper(lookup func(string) (int, error)) kong.MapperFunc {
	return func(ctx *kong.DecodeContext, target reflect.Value) error {
		var s string
		if err := ctx.Scan.PopValueInto("port", &s); err != nil {
			return err
		}
		p, err := ParsePort(s, lookup)
		if err != nil {
			return err
		}
		target.Set(reflect.ValueOf(p))
		return nil
	}
}

// fieldValueMapper creates a Kong mapper for FieldValue.
func fieldValueMapper() kong.MapperFunc {
	return func(ctx *kong.DecodeContext, target reflect.Value) error {
		var s string
		if err := ctx.Scan.PopValueInto("[name=]value", &s); err != nil {
			return err
		}
		fv, err := ParseFieldValue(s)
		if err != nil {
			return err
		}
		target.Set(reflect.ValueOf(fv))
		return nil
	}
}
