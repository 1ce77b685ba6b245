package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/agora/config"
	"github.com/justapithecus/agora/kernel"
)

// CheckCommand validates a config file and, with --all, the checkpoint
// dataset it points at, against kernel invariants. It never writes a
// checkpoint: --all restores into a throwaway World and discards it.
// Building that World does open an event log, as kernel.Build always
// does.
func CheckCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Validate configuration and checkpoint invariants",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Path to a YAML config file", Required: true},
			&cli.BoolFlag{Name: "strict", Usage: "Treat soft warnings as violations"},
			&cli.BoolFlag{Name: "all", Usage: "Also validate the checkpoint dataset referenced by the config"},
		},
		Action: checkAction,
	}
}

func checkAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("config error: %v", err), exitConfigError)
	}

	kcfg := cfg.ToKernelConfig("check")
	w, err := kernel.Build(kcfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("config error: %v", err), exitConfigError)
	}
	defer w.Close()

	if !c.Bool("all") {
		fmt.Println("config OK")
		return nil
	}
	if kcfg.CheckpointRoot == "" {
		return cli.Exit("--all requires checkpoint_root in the config file", exitConfigError)
	}
	if err := w.Restore(context.Background()); err != nil {
		return cli.Exit(fmt.Sprintf("checkpoint error: %v", err), exitConfigError)
	}

	violations := w.CheckInvariants(c.Bool("strict"))
	if len(violations) > 0 {
		for _, v := range violations {
			fmt.Println(v)
		}
		return cli.Exit(fmt.Sprintf("%d invariant violation(s)", len(violations)), exitCheckedViolation)
	}
	fmt.Println("checkpoint OK")
	return nil
}
