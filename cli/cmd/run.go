package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/agora/config"
	"github.com/justapithecus/agora/delegation"
	"github.com/justapithecus/agora/kernel"
	"github.com/justapithecus/agora/store/seed"
)

// Exit codes shared by run, check, and inspect.
const (
	exitSuccess          = 0
	exitCheckedViolation = 1
	exitConfigError      = 2
)

// RunCommand builds a World from a config file (optionally restoring a
// prior checkpoint), then idles until the configured duration elapses
// or the process receives an interrupt, checkpointing before exit.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run a kernel session",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Path to a YAML config file"},
			&cli.DurationFlag{Name: "duration", Usage: "How long to run before checkpointing and exiting (0 = until interrupted)"},
			&cli.StringFlag{Name: "run-id", Usage: "Run identifier (defaults to a generated UUID)"},
			&cli.BoolFlag{Name: "restore", Usage: "Restore from the checkpoint dataset before running"},
			&cli.StringFlag{Name: "seed", Usage: "Path to a TOML manifest of starting artifacts (ignored with --restore)"},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg := &config.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("failed to load config: %v", err), exitConfigError)
		}
		cfg = loaded
	}

	runID := c.String("run-id")
	if runID == "" {
		runID = uuid.NewString()
	}
	if d := c.Duration("duration"); d > 0 {
		cfg.RunDuration = config.Duration{Duration: d}
	}

	kcfg := cfg.ToKernelConfig(runID)
	if c.Bool("restore") && kcfg.CheckpointRoot == "" {
		return cli.Exit("--restore requires checkpoint_root in the config file", exitConfigError)
	}

	if cfg.Delegation.Backend == "redis" {
		if cfg.Delegation.RedisURL == "" {
			return cli.Exit("delegation.backend=redis requires delegation.redis_url", exitConfigError)
		}
		backend, err := delegation.NewRedisWindowBackend(cfg.Delegation.RedisURL, runID)
		if err != nil {
			return cli.Exit(fmt.Sprintf("failed to connect to delegation redis: %v", err), exitConfigError)
		}
		kcfg.DelegationWindow = backend
	}

	w, err := kernel.Build(kcfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to build kernel: %v", err), exitConfigError)
	}
	defer w.Close()

	if c.Bool("restore") {
		if err := w.Restore(context.Background()); err != nil {
			return cli.Exit(fmt.Sprintf("failed to restore checkpoint: %v", err), exitConfigError)
		}
	} else if path := c.String("seed"); path != "" {
		manifest, err := seed.Load(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("failed to load seed manifest: %v", err), exitConfigError)
		}
		if _, err := w.ApplySeed(manifest); err != nil {
			return cli.Exit(fmt.Sprintf("failed to apply seed manifest: %v", err), exitConfigError)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var timeout <-chan time.Time
	if cfg.RunDuration.Duration > 0 {
		timer := time.NewTimer(cfg.RunDuration.Duration)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-sigCh:
	case <-timeout:
	}

	if kcfg.CheckpointRoot != "" {
		if err := w.Checkpoint(context.Background()); err != nil {
			return cli.Exit(fmt.Sprintf("checkpoint failed: %v", err), exitConfigError)
		}
	}
	return nil
}
