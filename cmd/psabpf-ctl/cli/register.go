package cli

import (
	"context"
	"fmt"

	"github.com/frobware/go-psabpf"
	"github.com/frobware/go-psabpf/layout"
	"github.com/frobware/go-psabpf/register"
)

// RegisterCmd groups the register commands.
type RegisterCmd struct {
	Get   RegisterGetCmd   `cmd:"" help:"Show one register cell, or every cell."`
	Set   RegisterSetCmd   `cmd:"" help:"Write a register cell."`
	Reset RegisterResetCmd `cmd:"" help:"Zero a register cell."`
}

// KeyFlags select a register cell by its key fields.
type KeyFlags struct {
	Key []FieldValue `name:"key" short:"k" sep:"none" help:"Key field as [NAME=]VALUE; repeat in layout order."`
}

func (c *CLI) openRegister(ctx context.Context, name string) (*register.Register, error) {
	rt, err := c.NewRuntime()
	if err != nil {
		return nil, err
	}
	return register.Open(ctx, rt.Kernel, rt.Kernel, rt.Pipeline, name, register.WithLogger(rt.Logger))
}

// fill supplies values to an entry's key or value field set. Sizes
// come from d, matched by name or by position.
func fill(d *layout.Descriptors, what string, values []FieldValue, positional func([]byte), named func(string, []byte)) error {
	if d == nil {
		return fmt.Errorf("%s layout: %w", what, psabpf.ErrUnsupported)
	}
	for i, v := range values {
		var f layout.Field
		if v.Name != "" {
			var ok bool
			if f, ok = d.Lookup(v.Name); !ok {
				return fmt.Errorf("%s has no field %q: %w", what, v.Name, psabpf.ErrInvalidArgument)
			}
		} else {
			if i >= d.Len() {
				return fmt.Errorf("%s has %d fields, got more: %w", what, d.Len(), psabpf.ErrInvalidArgument)
			}
			f = d.Field(i)
		}

		data, err := v.Encode(f.Size)
		if err != nil {
			return fmt.Errorf("%s field %s: %w", what, f.Name, err)
		}
		if v.Name != "" {
			named(v.Name, data)
		} else {
			positional(data)
		}
	}
	return nil
}

func keyed(r *register.Register, key []FieldValue) (*register.Entry, error) {
	e := r.NewEntry()
	if err := fill(r.KeyLayout(), "key", key, e.SetKey, e.SetKeyNamed); err != nil {
		return nil, err
	}
	return e, nil
}

// RegisterGetCmd reads register cells.
type RegisterGetCmd struct {
	OutputFlags
	Name string `arg:"" name:"name" help:"Register map name."`
	KeyFlags
}

// Run executes the get command.
func (c *RegisterGetCmd) Run(cli *CLI, ctx context.Context) error {
	r, err := cli.openRegister(ctx, c.Name)
	if err != nil {
		return err
	}
	defer r.Close()

	var entries []*register.Entry
	if len(c.Key) == 0 {
		for e, err := range r.Entries(ctx) {
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}
	} else {
		e, err := keyed(r, c.Key)
		if err != nil {
			return err
		}
		if err := r.Get(ctx, e); err != nil {
			return err
		}
		entries = append(entries, e)
	}

	output, err := FormatRegister(c.Name, entries, &c.OutputFlags)
	if err != nil {
		return fmt.Errorf("format: %w", err)
	}
	return cli.PrintOut(output)
}

// RegisterSetCmd writes a register cell.
type RegisterSetCmd struct {
	Name string `arg:"" name:"name" help:"Register map name."`
	KeyFlags
	Value []FieldValue `name:"value" short:"v" sep:"none" required:"" help:"Value field as [NAME=]VALUE; repeat in layout order."`
}

// Run executes the set command.
func (c *RegisterSetCmd) Run(cli *CLI, ctx context.Context) error {
	r, err := cli.openRegister(ctx, c.Name)
	if err != nil {
		return err
	}
	defer r.Close()

	e, err := keyed(r, c.Key)
	if err != nil {
		return err
	}
	if err := fill(r.ValueLayout(), "value", c.Value, e.SetValue, e.SetValueNamed); err != nil {
		return err
	}
	return r.Set(ctx, e)
}

// RegisterResetCmd zeroes a register cell.
type RegisterResetCmd struct {
	Name string `arg:"" name:"name" help:"Register map name."`
	KeyFlags
}

// Run executes the reset command.
func (c *RegisterResetCmd) Run(cli *CLI, ctx context.Context) error {
	r, err := cli.openRegister(ctx, c.Name)
	if err != nil {
		return err
	}
	defer r.Close()

	e, err := keyed(r, c.Key)
	if err != nil {
		return err
	}
	return r.Reset(ctx, e)
}
