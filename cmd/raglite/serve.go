package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/raglite/internal/server"
	"github.com/hyperjump/raglite/internal/watcher"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	var (
		host  string
		port  int
		inbox string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, ingestion workers and inbox watcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if inbox != "" {
				cfg.Watch.Inbox = inbox
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := initializeComponents(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer c.Close()

			if cfg.Watch.Inbox != "" {
				w := watcher.New(cfg.Watch.Inbox, cfg.Watch.Extensions, c.Uploader, watcher.WithLogger(logger))
				if err := w.Start(ctx); err != nil {
					return fmt.Errorf("failed to start inbox watcher: %w", err)
				}
				defer w.Stop()
			}

			srv := server.NewServer(c.Engine, c.Uploader, c.Pipeline, c.Storage, c.Metrics, cfg, logger)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("Shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				logger.Error("server shutdown failed", zap.Error(err))
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Listen host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides config)")
	cmd.Flags().StringVar(&inbox, "inbox", "", "Inbox directory to watch (overrides config)")
	return cmd
}
