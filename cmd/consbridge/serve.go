package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/consbridge/consbridge/internal/notify"
	"github.com/consbridge/consbridge/internal/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook receiver and internal API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, log, pool, err := setup(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		e := buildETL(cfg, pool, log)
		writer := webhook.NewWriter(log)

		srv := &webhook.Server{
			Cfg:   cfg,
			Store: e.Store,
			Chat:  e.Chat,
			OData: e.OData,
			Notifier: &notify.Notifier{
				Store:        e.Store,
				Chat:         e.Chat,
				Log:          log,
				SendWaitTime: cfg.SendQueueWaitTimeMessage,
			},
			Writer: writer,
			Log:    log,
		}

		httpServer := &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      srv.Routes(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		}

		errc := make(chan error, 1)
		go func() {
			log.Info().Str("addr", cfg.HTTPAddr).Msg("starting http server")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()

		select {
		case err := <-errc:
			writer.Close()
			return err
		case <-ctx.Done():
		}

		log.Info().Msg("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown failed")
		}
		// Drain pending ERP writes before closing the pool.
		writer.Close()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
