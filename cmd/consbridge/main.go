package main

import (
	"context"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/consbridge/consbridge/internal/chat"
	"github.com/consbridge/consbridge/internal/config"
	"github.com/consbridge/consbridge/internal/db"
	"github.com/consbridge/consbridge/internal/etl"
	"github.com/consbridge/consbridge/internal/odata"
	"github.com/consbridge/consbridge/internal/store"
)

var rootCmd = &cobra.Command{
	Use:           "consbridge",
	Short:         "Bidirectional ERP/CHAT consultation sync",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads config, builds the logger and connects the database. Every
// command starts here.
func setup(ctx context.Context) (*config.Config, zerolog.Logger, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().
		Timestamp().Str("service", "consbridge").Logger()
	if cfg.Dev() {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, log, nil, err
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, log, nil, err
	}

	return cfg, log, pool, nil
}

// buildETL wires the puller stack on top of an open pool.
func buildETL(cfg *config.Config, pool *pgxpool.Pool, log zerolog.Logger) *etl.ETL {
	st := &store.Store{Pool: pool}
	od := odata.New(cfg.ODataURL, cfg.ODataUser, cfg.ODataPassword, log)
	ch := chat.New(cfg.ChatURL, cfg.ChatAccountID, cfg.ChatToken, log)
	return etl.New(cfg, st, od, ch, log)
}
