// Package cli provides the Kong-based command-line interface for psabpf-ctl.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"

	"github.com/alecthomas/kong"
	"golang.org/x/sys/unix"

	"github.com/frobware/go-psabpf"
	"github.com/frobware/go-psabpf/bpffs"
	"github.com/frobware/go-psabpf/config"
	"github.com/frobware/go-psabpf/interpreter"
	"github.com/frobware/go-psabpf/interpreter/ebpf"
	"github.com/frobware/go-psabpf/logging"
)

// Kernel is what commands need from the kernel: pinned maps and the
// BTF they were declared with.
type Kernel interface {
	interpreter.MapOpener
	interpreter.TypeLoader
}

// CLI is the root command structure for psabpf-ctl.
type CLI struct {
	Pipe   ID     `name:"pipe" short:"p" help:"Pipeline id (supports hex with 0x prefix)." default:"1"`
	Config string `name:"config" help:"Config file path." default:"${default_config_path}"`
	Log    string `name:"log" help:"Log spec (e.g., 'info,pre=debug')." env:"PSABPF_LOG"`

	CloneSession   CloneSessionCmd   `cmd:"" name:"clone-session" help:"Manage clone sessions."`
	MulticastGroup MulticastGroupCmd `cmd:"" name:"multicast-group" help:"Manage multicast groups."`
	Register       RegisterCmd       `cmd:"" help:"Read and write registers."`
	Metrics        MetricsCmd        `cmd:"" help:"Prometheus exporter."`

	// Out receives command output. Defaults to os.Stdout.
	Out io.Writer `kong:"-"`
	// Kernel replaces the pinned-map backend, for tests.
	Kernel Kernel `kong:"-"`
}

// KongOptions returns the Kong configuration options for the CLI.
func KongOptions() []kong.Option {
	return []kong.Option{
		kong.Name("psabpf-ctl"),
		kong.Description("Control plane for PSA eBPF pipelines."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.TypeMapper(reflect.TypeOf(ID{}), idMapper()),
		kong.TypeMapper(reflect.TypeOf(Port{}), portMapper(linkIndex)),
		kong.TypeMapper(reflect.TypeOf(FieldValue{}), fieldValueMapper()),
		kong.Vars{
			"default_config_path": config.DefaultConfigPath,
		},
	}
}

// Run parses args and executes the selected command.
func Run(ctx context.Context, c *CLI, args []string) error {
	parser, err := kong.New(c, KongOptions()...)
	if err != nil {
		return fmt.Errorf("create parser: %w", err)
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	kctx.BindTo(ctx, (*context.Context)(nil))
	return kctx.Run(c)
}

// LoadConfig loads the configuration from the config file path.
func (c *CLI) LoadConfig() (config.Config, error) {
	return config.Load(c.Config)
}

// Logger creates a logger for CLI commands. Output goes to stderr;
// stdout carries command output only.
func (c *CLI) Logger(cfg config.Config) (*slog.Logger, error) {
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	return logging.New(logging.Options{
		CLISpec:    c.Log,
		ConfigSpec: cfg.Logging.ToSpec(),
		Format:     format,
		Output:     os.Stderr,
	})
}

// Runtime is what a command needs to reach a pipeline.
type Runtime struct {
	Config   config.Config
	Logger   *slog.Logger
	Kernel   Kernel
	Pipeline psabpf.PipelineID
}

// NewRuntime loads the configuration and opens the kernel backend.
// Without an injected Kernel the configured bpffs root must be mounted.
func (c *CLI) NewRuntime() (*Runtime, error) {
	cfg, err := c.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := c.Logger(cfg)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	k := c.Kernel
	if k == nil {
		paths := config.NewPaths(cfg.BPFFS)
		if err := bpffs.CheckMounted(paths.Root()); err != nil {
			return nil, err
		}
		k = ebpf.New(paths, ebpf.WithLogger(logger))
	}

	return &Runtime{
		Config:   cfg,
		Logger:   logger,
		Kernel:   k,
		Pipeline: psabpf.PipelineID(c.Pipe.Value),
	}, nil
}

func (c *CLI) out() io.Writer {
	if c.Out == nil {
		return os.Stdout
	}
	return c.Out
}

// WriteOut writes b to the output, treating a short write as an error.
func (c *CLI) WriteOut(b []byte) error {
	n, err := c.out().Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return io.ErrShortWrite
	}
	return nil
}

// PrintOut writes s to the output.
func (c *CLI) PrintOut(s string) error {
	return c.WriteOut([]byte(s))
}

// PrintOutf formats and writes to the output.
func (c *CLI) PrintOutf(format string, args ...any) error {
	return c.PrintOut(fmt.Sprintf(format, args...))
}

// ExitCode maps an error to the process exit status: the errno that
// corresponds to its kind, or 1.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, psabpf.ErrAlreadyExists):
		return int(unix.EEXIST)
	case errors.Is(err, psabpf.ErrNotFound):
		return int(unix.ENOENT)
	case errors.Is(err, psabpf.ErrInvalidArgument):
		return int(unix.EINVAL)
	case errors.Is(err, psabpf.ErrUnsupported):
		return int(unix.EOPNOTSUPP)
	case errors.Is(err, psabpf.ErrOutOfMemory):
		return int(unix.ENOMEM)
	default:
		return 1
	}
}
