package bpffs

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// Layout holds the naming conventions of pipeline pins.
// This avoids importing the config package, preventing import cycles.
type Layout struct {
	// Root is the bpffs mount point (e.g., /sys/fs/bpf).
	Root Root
	// PipelinePrefix prefixes the numeric pipeline id.
	PipelinePrefix string
	// MapsDir is the per-pipeline directory holding map pins.
	MapsDir string
}

// PipelineDir returns {root}/{prefix}{id}.
func (l Layout) PipelineDir(id uint32) string {
	return filepath.Join(l.Root.String(), l.PipelinePrefix+strconv.FormatUint(uint64(id), 10))
}

// MapPath returns {root}/{prefix}{id}/{maps}/{name}.
func (l Layout) MapPath(id uint32, name string) MapPath {
	return MapPath(filepath.Join(l.PipelineDir(id), l.MapsDir, name))
}

// ProgramPath returns {root}/{prefix}{id}/{name}.
func (l Layout) ProgramPath(id uint32, name string) ProgramPath {
	return ProgramPath(filepath.Join(l.PipelineDir(id), name))
}

// Scanner provides read-only access to the pipelines pinned on a bpffs.
type Scanner struct {
	layout      Layout
	onMalformed func(path string, err error)
}

// NewScanner creates a Scanner for the given layout.
func NewScanner(layout Layout) *Scanner {
	return &Scanner{layout: layout}
}

// WithOnMalformed sets a callback for unparseable filesystem entries.
// The callback receives the path and the parse error. Returns the
// Scanner for chaining.
func (s *Scanner) WithOnMalformed(f func(path string, err error)) *Scanner {
	s.onMalformed = f
	return s
}

func (s *Scanner) reportMalformed(path string, err error) {
	if s.onMalformed != nil {
		s.onMalformed(path, err)
	}
}

// PipelinePin is a pipeline directory: {root}/{prefix}{id}.
type PipelinePin struct {
	Path string
	ID   uint32
}

// Pipelines returns an iterator over pinned pipelines, in ascending
// id order. Errors are yielded only for failures that prevent
// enumeration; malformed entries are skipped and reported via
// OnMalformed.
func (s *Scanner) Pipelines(ctx context.Context) iter.Seq2[PipelinePin, error] {
	return func(yield func(PipelinePin, error) bool) {
		root := s.layout.Root.String()
		entries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				return
			}
			yield(PipelinePin{}, fmt.Errorf("read dir %s: %w", root, err))
			return
		}

		var pins []PipelinePin
		for _, entry := range entries {
			name := entry.Name()
			if !entry.IsDir() || !strings.HasPrefix(name, s.layout.PipelinePrefix) {
				continue
			}
			path := filepath.Join(root, name)
			id, err := strconv.ParseUint(strings.TrimPrefix(name, s.layout.PipelinePrefix), 10, 32)
			if err != nil {
				s.reportMalformed(path, err)
				continue
			}
			pins = append(pins, PipelinePin{Path: path, ID: uint32(id)})
		}
		slices.SortFunc(pins, func(a, b PipelinePin) int {
			return int(int64(a.ID) - int64(b.ID))
		})

		for _, pin := range pins {
			if ctx.Err() != nil {
				yield(PipelinePin{}, ctx.Err())
				return
			}
			if !yield(pin, nil) {
				return
			}
		}
	}
}

// MapNames returns the names of the maps pinned for a pipeline,
// sorted. A pipeline without a maps directory has no maps.
func (s *Scanner) MapNames(id uint32) ([]string, error) {
	dir := filepath.Join(s.layout.PipelineDir(id), s.layout.MapsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	slices.Sort(names)
	return names, nil
}

// PathExists checks if a path exists on the filesystem.
func (s *Scanner) PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
