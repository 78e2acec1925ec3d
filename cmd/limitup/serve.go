package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"limitup/internal/httpapi"
	"limitup/internal/store"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve stored runs, signals and cached bars over HTTP",
	Long: `serve exposes a read-only JSON API:

  GET /api/runs?limit=N
  GET /api/runs/{id}
  GET /api/runs/{id}/trades
  GET /api/runs/{id}/equity
  GET /api/signals/{strategy}?limit=N
  GET /api/bars/{symbol}?days=N&end=YYYY-MM-DD`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8081", "listen address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	rs, err := openRunStore()
	if err != nil {
		return err
	}
	defer rs.Close()

	srv := httpapi.NewServer(rs, store.NewParquetStore(cfg.Storage.DataDir), cfg.Universe.Market, logger)
	httpServer := &http.Server{
		Addr:              serveAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("results server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-cmd.Context().Done():
	}
	logger.Info("shutting down results server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
