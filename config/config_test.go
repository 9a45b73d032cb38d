package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-psabpf/bpffs"
	"github.com/frobware/go-psabpf/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "psabpf.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.Equal(t, "/sys/fs/bpf", cfg.BPFFS.Root)
	assert.Equal(t, "pipeline", cfg.BPFFS.PipelinePrefix)
	assert.Equal(t, "maps", cfg.BPFFS.MapsDir)
	assert.Equal(t, []string{"classifier_tc-ingress", "xdp_ingress_xdp-ingress", "classifier_tc-egress"}, cfg.BPFFS.BTFPrograms)
	assert.Equal(t, "clone_session_tbl", cfg.PRE.CloneSessionMap)
	assert.Equal(t, "multicast_grp_tbl", cfg.PRE.MulticastGroupMap)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "127.0.0.1:9435", cfg.Metrics.Listen)
	assert.Empty(t, cfg.Metrics.Pipelines)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func TestLoad_Overlay(t *testing.T) {
	path := writeConfig(t, `
[bpffs]
root = "/run/psa/bpf"

[pre]
clone_session_map = "clone_tbl"

[metrics]
pipelines = [1, 7]
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/run/psa/bpf", cfg.BPFFS.Root)
	assert.Equal(t, "pipeline", cfg.BPFFS.PipelinePrefix, "unset keys keep defaults")
	assert.Equal(t, "clone_tbl", cfg.PRE.CloneSessionMap)
	assert.Equal(t, "multicast_grp_tbl", cfg.PRE.MulticastGroupMap)
	assert.Equal(t, []uint32{1, 7}, cfg.Metrics.Pipelines)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", "[bpffs\nroot=", "failed to parse"},
		{"unknown key", "[bpffs]\nmount = \"/x\"\n", "unknown config keys"},
		{"relative root", "[bpffs]\nroot = \"bpf\"\n", "absolute path"},
		{"empty map name", "[pre]\nclone_session_map = \"\"\n", "cannot be empty"},
		{"nested prefix", "[bpffs]\npipeline_prefix = \"a/b\"\n", "single path components"},
		{"repeated pipeline", "[metrics]\npipelines = [1, 7, 1]\n", "more than once"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoggingConfig_ToSpec(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LoggingConfig
		want string
	}{
		{"level only", config.LoggingConfig{Level: "debug"}, "debug"},
		{"empty", config.LoggingConfig{}, ""},
		{
			name: "components appended sorted",
			cfg:  config.LoggingConfig{Level: "warn", Components: map[string]string{"register": "trace", "pre": "debug"}},
			want: "warn,pre=debug,register=trace",
		},
		{
			name: "level override wins",
			cfg:  config.LoggingConfig{Level: "warn,pre=error", Components: map[string]string{"pre": "debug"}},
			want: "warn,pre=error",
		},
		{
			name: "components without level",
			cfg:  config.LoggingConfig{Components: map[string]string{"ebpf": "trace"}},
			want: "info,ebpf=trace",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.ToSpec())
		})
	}
}

func TestPaths(t *testing.T) {
	paths := config.NewPaths(config.DefaultConfig().BPFFS)

	assert.Equal(t, bpffs.Root("/sys/fs/bpf"), paths.Root())
	assert.Equal(t, bpffs.MapPath("/sys/fs/bpf/pipeline3/maps/clone_session_tbl"), paths.Map(3, "clone_session_tbl"))
	assert.Equal(t, []bpffs.ProgramPath{
		"/sys/fs/bpf/pipeline3/classifier_tc-ingress",
		"/sys/fs/bpf/pipeline3/xdp_ingress_xdp-ingress",
		"/sys/fs/bpf/pipeline3/classifier_tc-egress",
	}, paths.BTFPrograms(3))
	assert.Equal(t, "/sys/fs/bpf/pipeline3", paths.Layout().PipelineDir(3))
}
