package cli

import (
	"context"
	"log/slog"

	"github.com/frobware/go-psabpf"
	"github.com/frobware/go-psabpf/bpffs"
	"github.com/frobware/go-psabpf/config"
	"github.com/frobware/go-psabpf/metrics"
)

// MetricsCmd groups the exporter commands.
type MetricsCmd struct {
	Serve MetricsServeCmd `cmd:"" help:"Serve PRE metrics over HTTP."`
}

// MetricsServeCmd runs the Prometheus exporter until interrupted.
type MetricsServeCmd struct {
	Listen string `name:"listen" help:"Listen address; overrides [metrics] listen."`
}

// Run executes the serve command.
func (c *MetricsServeCmd) Run(cli *CLI, ctx context.Context) error {
	rt, err := cli.NewRuntime()
	if err != nil {
		return err
	}

	listen := rt.Config.Metrics.Listen
	if c.Listen != "" {
		listen = c.Listen
	}

	collector := metrics.NewCollector(rt.Kernel, pipelineSource(rt.Config, rt.Logger),
		metrics.WithLogger(rt.Logger),
		metrics.WithMapNames(rt.Config.PRE.CloneSessionMap, rt.Config.PRE.MulticastGroupMap))

	return metrics.Serve(ctx, listen, metrics.Handler(collector), rt.Logger)
}

// pipelineSource reports on the configured pipelines, or on every
// pipeline found on the bpffs when none are configured.
func pipelineSource(cfg config.Config, logger *slog.Logger) metrics.Pipelines {
	if len(cfg.Metrics.Pipelines) > 0 {
		ids := make([]psabpf.PipelineID, 0, len(cfg.Metrics.Pipelines))
		for _, id := range cfg.Metrics.Pipelines {
			ids = append(ids, psabpf.PipelineID(id))
		}
		return metrics.StaticPipelines(ids...)
	}

	scanner := bpffs.NewScanner(config.NewPaths(cfg.BPFFS).Layout()).
		WithOnMalformed(func(path string, err error) {
			logger.Warn("skipping malformed pipeline directory", "path", path, "error", err)
		})
	return metrics.ScannedPipelines(scanner)
}
