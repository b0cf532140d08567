package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/tamperguard/collector"
	"github.com/hazyhaar/tamperguard/dbopen"
)

var collectorFlags struct {
	addr        string
	dbPath      string
	busyTimeout int
	trustProxy  bool
}

var collectorCmd = &cobra.Command{
	Use:   "collector",
	Short: "Run the tamper event collector",
	Long: `Run the HTTP service engines report to.

Endpoints:
  POST /tamper/report-tampering   store one event
  GET  /tamper/events             list events (limit, offset, type, tamper_type)
  GET  /tamper/events/{id}        one event
  GET  /health`,
	RunE: runCollector,
}

func init() {
	rootCmd.AddCommand(collectorCmd)

	collectorCmd.Flags().StringVar(&collectorFlags.addr, "addr", getEnv("TAMPERGUARD_COLLECTOR_ADDR", ":8087"), "listen address")
	collectorCmd.Flags().StringVar(&collectorFlags.dbPath, "db", getEnv("TAMPERGUARD_COLLECTOR_DB", "data/tamper.db"), "SQLite database path")
	collectorCmd.Flags().IntVar(&collectorFlags.busyTimeout, "busy-timeout", 10_000, "SQLite busy timeout in milliseconds")
	collectorCmd.Flags().BoolVar(&collectorFlags.trustProxy, "trust-proxy", getEnv("TAMPERGUARD_TRUST_PROXY", "") == "true", "take client addresses from X-Forwarded-For (only behind a reverse proxy)")
}

func runCollector(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := dbopen.Open(collectorFlags.dbPath, dbopen.WithMkdirAll(), dbopen.WithBusyTimeout(collectorFlags.busyTimeout))
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := collector.NewStore(db)
	if err != nil {
		return err
	}
	srv, err := collector.New(collector.Config{Store: store, Logger: logger, TrustProxy: collectorFlags.trustProxy})
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              collectorFlags.addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("collector listening", "addr", collectorFlags.addr, "db", collectorFlags.dbPath)
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("collector shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
