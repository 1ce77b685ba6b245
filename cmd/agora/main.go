// Package main provides the agora CLI entrypoint.
//
// Usage:
//
//	agora <command> [options]
//
// Exit codes, shared by run, check, and inspect:
//   - 0: success
//   - 1: checked violation (an invariant failure, a query error)
//   - 2: configuration error (bad YAML, a missing checkpoint root)
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/agora/cli/cmd"
	"github.com/justapithecus/agora/types"
)

// commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "agora",
		Usage:          "Agent economy kernel CLI",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.RunCommand(),
			cmd.CheckCommand(),
			cmd.InspectCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		// This branch handles unexpected errors that weren't wrapped.
		os.Exit(1)
	}
}

// exitErrHandler preserves the exit code carried by a cli.ExitCoder
// (run, check, and inspect all signal configuration errors and checked
// violations this way) instead of collapsing every failure to 1.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N"; skip printing
		// that placeholder so only real messages reach stderr.
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
