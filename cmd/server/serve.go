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

	"github.com/warp/peopleops/api"
	"github.com/warp/peopleops/importer"
	"github.com/warp/peopleops/store/sqlite"
)

var (
	servePort int
	serveDB   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the recalculation scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		dbPath := serveDB
		if dbPath == "" {
			dbPath = cfg.Store.Path
		}
		store, err := sqlite.New(dbPath)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer store.Close()

		im := importer.New(store, importer.WithConcurrency(cfg.Import.Concurrency))
		handler := api.NewHandler(store, im, clock)
		router := api.NewRouter(handler, cfg.Server.AllowedOrigins...)

		scheduler := api.NewRecalculationScheduler(store, clock)
		scheduler.Enabled = cfg.Scheduler.Enabled
		if cfg.Scheduler.Interval > 0 {
			scheduler.CheckInterval = cfg.Scheduler.Interval
		}
		scheduler.Start()
		defer scheduler.Stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Error("forced shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.String("db", dbPath))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		zap.L().Info("server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().StringVar(&serveDB, "db", "", `SQLite path, ":memory:" for in-memory (default from config)`)
	rootCmd.AddCommand(serveCmd)
}
