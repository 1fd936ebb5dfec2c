package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var etlMode string

var etlCmd = &cobra.Command{
	Use:   "etl [entity]",
	Short: "Run one puller once and exit",
	Long: `Run a single pull for one entity and exit. Entities:
consultations, bulk, calls, redates, ratings, closings, users.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, log, pool, err := setup(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		e := buildETL(cfg, pool, log)

		var run func(context.Context) error
		switch args[0] {
		case "consultations":
			run = func(ctx context.Context) error { return e.RunConsultations(ctx, etlMode) }
		case "bulk":
			run = e.RunBulk
		case "calls":
			run = e.RunCalls
		case "redates":
			run = e.RunRedates
		case "ratings":
			run = e.RunRatings
		case "closings":
			run = e.RunClosings
		case "users":
			run = e.RunUsers
		default:
			return fmt.Errorf("unknown entity %q", args[0])
		}
		return run(ctx)
	},
}

func init() {
	etlCmd.Flags().StringVar(&etlMode, "mode", "", "consultations mode: incremental or open_update (default from ETL_MODE)")
	rootCmd.AddCommand(etlCmd)
}
