// delayctl is a command line client for delayd.
//
//	delayctl [--api-url URL] [--json] <command> [flags]
//
// Commands:
//
//	add    schedule a job (--at or --in, --message, --id)
//	ls     list pending jobs
//	get    show a job
//	rm     cancel a job
//	clear  cancel every job
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"delayd/internal/cli"
)

// version is set with ldflags at build time.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cli.NewRootCmd(version, os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
