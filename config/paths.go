package config

import (
	"github.com/frobware/go-psabpf"
	"github.com/frobware/go-psabpf/bpffs"
)

// Paths derives pin paths for pipelines from the [bpffs] table:
//
//	{root}/{prefix}{id}/{maps_dir}/{map}
//	{root}/{prefix}{id}/{program}
//
// Paths is immutable after construction.
type Paths struct {
	layout      bpffs.Layout
	btfPrograms []string
}

// NewPaths returns the pin layout described by cfg.
func NewPaths(cfg BPFFSConfig) Paths {
	return Paths{
		layout: bpffs.Layout{
			Root:           bpffs.Root(cfg.Root),
			PipelinePrefix: cfg.PipelinePrefix,
			MapsDir:        cfg.MapsDir,
		},
		btfPrograms: append([]string(nil), cfg.BTFPrograms...),
	}
}

// Layout returns the bpffs layout, for scanning.
func (p Paths) Layout() bpffs.Layout { return p.layout }

// Root returns the bpffs root.
func (p Paths) Root() bpffs.Root { return p.layout.Root }

// Map returns the pin path of a pipeline's map.
func (p Paths) Map(pipeline psabpf.PipelineID, name string) bpffs.MapPath {
	return p.layout.MapPath(uint32(pipeline), name)
}

// BTFPrograms returns the pinned programs that may carry the
// pipeline's BTF, in the order they should be tried.
func (p Paths) BTFPrograms(pipeline psabpf.PipelineID) []bpffs.ProgramPath {
	paths := make([]bpffs.ProgramPath, 0, len(p.btfPrograms))
	for _, name := range p.btfPrograms {
		paths = append(paths, p.layout.ProgramPath(uint32(pipeline), name))
	}
	return paths
}
