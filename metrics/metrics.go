// Package metrics exports Packet Replication Engine state to
// Prometheus. Maps are read on every scrape; nothing is cached.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/frobware/go-psabpf"
	"github.com/frobware/go-psabpf/bpffs"
	"github.com/frobware/go-psabpf/interpreter"
	"github.com/frobware/go-psabpf/logging"
	"github.com/frobware/go-psabpf/pre"
)

// Pipelines returns the pipelines to report on.
type Pipelines func(ctx context.Context) ([]psabpf.PipelineID, error)

// StaticPipelines always reports on ids.
func StaticPipelines(ids ...psabpf.PipelineID) Pipelines {
	return func(context.Context) ([]psabpf.PipelineID, error) {
		return ids, nil
	}
}

// ScannedPipelines reports on every pipeline pinned under the
// scanner's bpffs root at scrape time.
func ScannedPipelines(scanner *bpffs.Scanner) Pipelines {
	return func(ctx context.Context) ([]psabpf.PipelineID, error) {
		var ids []psabpf.PipelineID
		for pin, err := range scanner.Pipelines(ctx) {
			if err != nil {
				return nil, err
			}
			ids = append(ids, psabpf.PipelineID(pin.ID))
		}
		return ids, nil
	}
}

// Collector implements prometheus.Collector over the PRE maps of a
// set of pipelines.
type Collector struct {
	opener    interpreter.MapOpener
	pipelines Pipelines
	logger    *slog.Logger
	timeout   time.Duration
	cloneMap  string
	groupMap  string

	cloneSessions         *prometheus.Desc
	cloneSessionMembers   *prometheus.Desc
	multicastGroups       *prometheus.Desc
	multicastGroupMembers *prometheus.Desc
	scrapeError           *prometheus.Desc
}

// Option configures a Collector.
type Option func(*Collector)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) {
		c.logger = logger
	}
}

// WithMapNames overrides the PRE map names.
func WithMapNames(cloneSessions, multicastGroups string) Option {
	return func(c *Collector) {
		c.cloneMap = cloneSessions
		c.groupMap = multicastGroups
	}
}

// WithTimeout bounds a single scrape.
func WithTimeout(d time.Duration) Option {
	return func(c *Collector) {
		c.timeout = d
	}
}

// NewCollector returns a collector reading through opener.
func NewCollector(opener interpreter.MapOpener, pipelines Pipelines, opts ...Option) *Collector {
	c := &Collector{
		opener:    opener,
		pipelines: pipelines,
		logger:    slog.Default(),
		timeout:   10 * time.Second,
		cloneMap:  pre.DefaultCloneSessionMap,
		groupMap:  pre.DefaultMulticastGroupMap,

		cloneSessions: prometheus.NewDesc(
			"psabpf_clone_sessions",
			"Number of clone sessions.",
			[]string{"pipeline"}, nil,
		),
		cloneSessionMembers: prometheus.NewDesc(
			"psabpf_clone_session_members",
			"Number of clone session members across all sessions.",
			[]string{"pipeline"}, nil,
		),
		multicastGroups: prometheus.NewDesc(
			"psabpf_multicast_groups",
			"Number of multicast groups.",
			[]string{"pipeline"}, nil,
		),
		multicastGroupMembers: prometheus.NewDesc(
			"psabpf_multicast_group_members",
			"Number of multicast group members across all groups.",
			[]string{"pipeline"}, nil,
		),
		scrapeError: prometheus.NewDesc(
			"psabpf_scrape_error",
			"1 if the last scrape of a map failed.",
			[]string{"pipeline", "map"}, nil,
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logging.ComponentKey, "metrics")
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cloneSessions
	ch <- c.cloneSessionMembers
	ch <- c.multicastGroups
	ch <- c.multicastGroupMembers
	ch <- c.scrapeError
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	ids, err := c.pipelines(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "listing pipelines failed", "error", err)
		return
	}

	// A repeated id would emit duplicate series and fail the whole gather.
	for _, id := range slices.Compact(slices.Sorted(slices.Values(ids))) {
		label := id.String()

		sessions, members, err := c.countCloneSessions(ctx, id)
		c.report(ctx, ch, label, c.cloneMap, err)
		if err == nil {
			ch <- prometheus.MustNewConstMetric(c.cloneSessions, prometheus.GaugeValue, float64(sessions), label)
			ch <- prometheus.MustNewConstMetric(c.cloneSessionMembers, prometheus.GaugeValue, float64(members), label)
		}

		groups, members, err := c.countMulticastGroups(ctx, id)
		c.report(ctx, ch, label, c.groupMap, err)
		if err == nil {
			ch <- prometheus.MustNewConstMetric(c.multicastGroups, prometheus.GaugeValue, float64(groups), label)
			ch <- prometheus.MustNewConstMetric(c.multicastGroupMembers, prometheus.GaugeValue, float64(members), label)
		}
	}
}

func (c *Collector) report(ctx context.Context, ch chan<- prometheus.Metric, pipeline, mapName string, err error) {
	value := 0.0
	if err != nil {
		value = 1
		c.logger.WarnContext(ctx, "scrape failed", "pipeline", pipeline, "map", mapName, "error", err)
	}
	ch <- prometheus.MustNewConstMetric(c.scrapeError, prometheus.GaugeValue, value, pipeline, mapName)
}

func (c *Collector) countCloneSessions(ctx context.Context, id psabpf.PipelineID) (sessions, members int, err error) {
	cs, err := pre.OpenCloneSessions(ctx, c.opener, id, pre.WithMapName(c.cloneMap), pre.WithLogger(c.logger))
	if err != nil {
		return 0, 0, err
	}
	defer cs.Close()

	for s, err := range cs.List(ctx) {
		if err != nil {
			return 0, 0, err
		}
		sessions++
		members += len(s.Entries)
	}
	return sessions, members, nil
}

func (c *Collector) countMulticastGroups(ctx context.Context, id psabpf.PipelineID) (groups, members int, err error) {
	mg, err := pre.OpenMulticastGroups(ctx, c.opener, id, pre.WithMapName(c.groupMap), pre.WithLogger(c.logger))
	if err != nil {
		return 0, 0, err
	}
	defer mg.Close()

	for g, err := range mg.List(ctx) {
		if err != nil {
			return 0, 0, err
		}
		groups++
		members += len(g.Members)
	}
	return groups, members, nil
}

// Handler serves the collector's metrics from an isolated registry.
func Handler(c *Collector) http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(c)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux
}

// Serve listens on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "serving metrics", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
