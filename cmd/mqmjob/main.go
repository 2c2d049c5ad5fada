// Package main provides the CLI for the mqmjob Slurm job launcher.
package main

import (
	"context"
	"errors"
	"os"

	"github.com/leapstack-labs/mqmjob/internal/cli"
	"github.com/leapstack-labs/mqmjob/internal/launcher"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:]))
}

// run executes the CLI and returns the process exit status. A failed
// pipeline passes its own status through so the scheduler records it.
func run(ctx context.Context, args []string) int {
	err := cli.Execute(ctx, args)
	if err == nil {
		return 0
	}
	var exitErr *launcher.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}
