package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/agora/config"
	"github.com/justapithecus/agora/kernel"
)

// InspectCommand answers one read-only kernel query against a
// restored checkpoint, printing the result as JSON.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Run a read-only query against a checkpointed kernel",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Path to a YAML config file", Required: true},
			&cli.StringFlag{Name: "query", Usage: "Query type (artifacts, artifact, principals, balances, mint, events, ...)", Required: true},
			&cli.StringFlag{Name: "params", Usage: "Query params as a JSON object"},
		},
		Action: inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("config error: %v", err), exitConfigError)
	}
	if cfg.CheckpointRoot == "" {
		return cli.Exit("inspect requires checkpoint_root in the config file", exitConfigError)
	}

	w, err := kernel.Build(cfg.ToKernelConfig("inspect"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("config error: %v", err), exitConfigError)
	}
	defer w.Close()

	if err := w.Restore(context.Background()); err != nil {
		return cli.Exit(fmt.Sprintf("checkpoint error: %v", err), exitConfigError)
	}

	params := map[string]any{}
	if raw := c.String("params"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			return cli.Exit(fmt.Sprintf("invalid --params JSON: %v", err), exitConfigError)
		}
	}

	result, err := w.Query(c.String("query"), params)
	if err != nil {
		return cli.Exit(fmt.Sprintf("query error: %v", err), exitCheckedViolation)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to encode result: %v", err), exitConfigError)
	}
	fmt.Println(string(out))
	return nil
}
