package ebpf

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/btf"

	"github.com/frobware/go-psabpf"
	"github.com/frobware/go-psabpf/interpreter"
	"github.com/frobware/go-psabpf/logging"
)

// LoadTypes returns the BTF of the first configured pinned program of
// pipeline that carries any. The pipeline's .maps section in that BTF
// declares every map's key and value types.
func (a *Adapter) LoadTypes(ctx context.Context, pipeline psabpf.PipelineID) (interpreter.Types, error) {
	for _, path := range a.paths.BTFPrograms(pipeline) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		spec, err := programBTF(path.String())
		if errors.Is(err, fs.ErrNotExist) {
			a.logger.Log(ctx, logging.LevelTrace.ToSlog(), "no pinned program", "pipeline", pipeline, "path", path)
			continue
		}
		if err != nil {
			return nil, err
		}
		if spec == nil {
			continue
		}

		a.logger.DebugContext(ctx, "loaded BTF", "pipeline", pipeline, "program", path)
		return &types{spec: spec}, nil
	}
	return nil, fmt.Errorf("pipeline %s: no BTF found: %w", pipeline, psabpf.ErrUnsupported)
}

// programBTF returns the BTF attached to a pinned program, or nil if it
// was loaded without any.
func programBTF(path string) (*btf.Spec, error) {
	prog, err := ebpf.LoadPinnedProgram(path, nil)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, &psabpf.MapError{Op: "load program", Map: path, Err: err}
	}
	defer prog.Close()

	info, err := prog.Info()
	if err != nil {
		return nil, fmt.Errorf("get info for program %s: %w", path, err)
	}
	id, ok := info.BTFID()
	if !ok {
		return nil, nil
	}

	handle, err := btf.NewHandleFromID(id)
	if err != nil {
		return nil, fmt.Errorf("BTF %d of program %s: %w", id, path, err)
	}
	defer handle.Close()

	spec, err := handle.Spec(nil)
	if err != nil {
		return nil, fmt.Errorf("parse BTF %d of program %s: %w", id, path, err)
	}
	return spec, nil
}

// types implements interpreter.Types over a *btf.Spec.
type types struct {
	spec *btf.Spec
	maps *btf.Datasec
}

// MapDefinition looks up name among the variables of the .maps section.
func (t *types) MapDefinition(name string) (*btf.Struct, error) {
	if t.maps == nil {
		var ds *btf.Datasec
		if err := t.spec.TypeByName(".maps", &ds); err != nil {
			if errors.Is(err, btf.ErrNotFound) {
				return nil, fmt.Errorf("no .maps section: %w", psabpf.ErrNotFound)
			}
			return nil, err
		}
		t.maps = ds
	}
	return FindMapDefinition(t.maps, name)
}

// FindMapDefinition returns the struct type of the .maps variable name.
func FindMapDefinition(maps *btf.Datasec, name string) (*btf.Struct, error) {
	for _, vsi := range maps.Vars {
		v, ok := vsi.Type.(*btf.Var)
		if !ok || v.Name != name {
			continue
		}
		def, ok := btf.UnderlyingType(v.Type).(*btf.Struct)
		if !ok {
			return nil, fmt.Errorf("map %q is declared as %T: %w", name, v.Type, psabpf.ErrUnsupported)
		}
		return def, nil
	}
	return nil, fmt.Errorf("map %q not declared in .maps: %w", name, psabpf.ErrNotFound)
}
