// psabpf-ctl manipulates the Packet Replication Engine and registers of
// PSA pipelines pinned on the BPF filesystem.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/frobware/go-psabpf/cmd/psabpf-ctl/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := &cli.CLI{Out: os.Stdout}
	if err := cli.Run(ctx, c, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "psabpf-ctl: %v\n", err)
		cancel()
		os.Exit(cli.ExitCode(err))
	}
}
