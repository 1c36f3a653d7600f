package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-engine/internal/api"
	"github.com/sells-group/lead-engine/internal/live"
)

var (
	servePort    int
	serveSegment string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Session.Bootstrap(ctx); err != nil {
			return eris.Wrap(err, "bootstrap")
		}
		if serveSegment != "" {
			if err := env.Session.SwitchSegment(ctx, serveSegment); err != nil {
				zap.L().Warn("initial segment load failed", zap.String("segment", serveSegment), zap.Error(err))
			}
		}

		bus := live.NewBus(live.DefaultBuffer)
		defer bus.Close()
		go func() {
			if err := live.NewSubscriber(env.Session.Live()).Run(ctx, bus); err != nil && ctx.Err() == nil {
				zap.L().Error("live subscriber stopped", zap.Error(err))
			}
		}()

		handler := api.NewServer(env.Session, bus,
			api.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
			api.WithPendingStore(env.KV),
		).Router()

		return startServer(ctx, handler, resolvePort(servePort, cfg.Server.Port))
	},
}

// resolvePort prefers the --port flag over the configured port.
func resolvePort(flag, configured int) int {
	if flag != 0 {
		return flag
	}
	return configured
}

// startServer serves handler until ctx is done, then shuts down gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().StringVar(&serveSegment, "segment", "", "loan type to load at startup")
	rootCmd.AddCommand(serveCmd)
}
