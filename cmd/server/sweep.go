package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ashureev/goally/internal/scheduler"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one missed-task and session-cleanup pass, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSweep(cmd.Context())
		},
	}
}

func runSweep(ctx context.Context) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger, false)
	if err != nil {
		logger.Error("Failed to initialize services", "error", err)
		return err
	}
	defer a.Close()

	res, err := scheduler.NewSweeper(a.scheduler, a.repo, cfg.SessionTTL, cfg.SweepInterval).SweepOnce(ctx)
	if err != nil {
		logger.Error("Sweep failed", "error", err)
		return err
	}
	logger.Info("Sweep complete",
		"users", res.Users,
		"rescheduled", res.Rescheduled,
		"reminders", res.Reminders,
		"sessions_removed", res.SessionsRemoved)
	return nil
}
