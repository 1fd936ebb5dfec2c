package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/consbridge/consbridge/internal/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run all pullers on their configured intervals",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, log, pool, err := setup(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		e := buildETL(cfg, pool, log)
		sched := scheduler.New(pool, cfg, e, log)

		log.Info().Msg("scheduler starting")
		return sched.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}
