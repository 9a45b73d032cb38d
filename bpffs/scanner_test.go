package bpffs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLayout(t *testing.T) Layout {
	return Layout{
		Root:           Root(t.TempDir()),
		PipelinePrefix: "pipeline",
		MapsDir:        "maps",
	}
}

func mkPipeline(t *testing.T, l Layout, id uint32, maps ...string) {
	t.Helper()
	dir := filepath.Join(l.PipelineDir(id), l.MapsDir)
	require.NoError(t, os.MkdirAll(dir, 0755))
	for _, name := range maps {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
}

func TestLayout_Paths(t *testing.T) {
	l := Layout{Root: "/sys/fs/bpf", PipelinePrefix: "pipeline", MapsDir: "maps"}

	assert.Equal(t, "/sys/fs/bpf/pipeline7", l.PipelineDir(7))
	assert.Equal(t, MapPath("/sys/fs/bpf/pipeline7/maps/clone_session_tbl"), l.MapPath(7, "clone_session_tbl"))
	assert.Equal(t, ProgramPath("/sys/fs/bpf/pipeline7/classifier_tc-ingress"), l.ProgramPath(7, "classifier_tc-ingress"))
}

func TestScanner_Pipelines(t *testing.T) {
	l := testLayout(t)
	mkPipeline(t, l, 10)
	mkPipeline(t, l, 2)
	mkPipeline(t, l, 1)
	// Non-pipeline entries are ignored.
	require.NoError(t, os.MkdirAll(filepath.Join(l.Root.String(), "globals"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(l.Root.String(), "pipeline3"), nil, 0644))

	var ids []uint32
	for pin, err := range NewScanner(l).Pipelines(context.Background()) {
		require.NoError(t, err)
		assert.Equal(t, l.PipelineDir(pin.ID), pin.Path)
		ids = append(ids, pin.ID)
	}

	assert.Equal(t, []uint32{1, 2, 10}, ids)
}

func TestScanner_Pipelines_MalformedSkipped(t *testing.T) {
	l := testLayout(t)
	mkPipeline(t, l, 4)
	bad := filepath.Join(l.Root.String(), "pipelineX")
	require.NoError(t, os.MkdirAll(bad, 0755))

	var malformed []string
	scanner := NewScanner(l).WithOnMalformed(func(path string, err error) {
		malformed = append(malformed, path)
	})

	var ids []uint32
	for pin, err := range scanner.Pipelines(context.Background()) {
		require.NoError(t, err)
		ids = append(ids, pin.ID)
	}

	assert.Equal(t, []uint32{4}, ids)
	assert.Equal(t, []string{bad}, malformed)
}

func TestScanner_Pipelines_MissingRoot(t *testing.T) {
	l := Layout{Root: Root(filepath.Join(t.TempDir(), "absent")), PipelinePrefix: "pipeline", MapsDir: "maps"}

	count := 0
	for _, err := range NewScanner(l).Pipelines(context.Background()) {
		require.NoError(t, err)
		count++
	}
	assert.Zero(t, count)
}

func TestScanner_Pipelines_Cancelled(t *testing.T) {
	l := testLayout(t)
	mkPipeline(t, l, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var gotErr error
	for _, err := range NewScanner(l).Pipelines(ctx) {
		gotErr = err
	}
	assert.ErrorIs(t, gotErr, context.Canceled)
}

func TestScanner_MapNames(t *testing.T) {
	l := testLayout(t)
	mkPipeline(t, l, 1, "multicast_grp_tbl", "clone_session_tbl", "reg_counter")

	names, err := NewScanner(l).MapNames(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"clone_session_tbl", "multicast_grp_tbl", "reg_counter"}, names)

	names, err = NewScanner(l).MapNames(99)
	require.NoError(t, err)
	assert.Empty(t, names)
}
