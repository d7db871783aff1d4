package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpAdapter "github.com/aretw0/latch/pkg/adapters/http"
	"github.com/aretw0/latch/pkg/observability"
	"github.com/aretw0/latch/pkg/session"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP control API",
	Long:  `Exposes login attempts over a JSON API, with Prometheus metrics at /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := openStack(cmd)
		if err != nil {
			return err
		}
		defer stack.Close()

		addr, _ := cmd.Flags().GetString("listen")
		if addr == "" {
			cfg, _ := loadConfig(cmd)
			addr = cfg.Listen
		}
		idle, _ := cmd.Flags().GetDuration("idle-timeout")

		manager := stack.Client.Manager()
		handler := httpAdapter.NewHandler(manager,
			httpAdapter.WithLogger(stack.Logger),
			httpAdapter.WithMetricsHandler(observability.Handler(stack.Registry)),
		)

		srv := &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if idle > 0 {
			go prune(ctx, manager, idle, stack.Logger)
		}

		serverErrors := make(chan error, 1)
		go func() {
			slog.Info("latch HTTP API listening", "address", addr)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				stack.Logger.Warn("Graceful shutdown did not complete", "error", err)
				return srv.Close()
			}
			stack.Logger.Info("latch HTTP API stopped gracefully")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("listen", "l", "", "Address to listen on (defaults to the config value)")
	serveCmd.Flags().Duration("idle-timeout", 15*time.Minute, "Drop attempts idle for longer than this")
}

func prune(ctx context.Context, manager *session.Manager, idle time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(idle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := manager.Prune(idle); n > 0 {
				logger.Info("Pruned idle attempts", "count", n)
			}
		}
	}
}
