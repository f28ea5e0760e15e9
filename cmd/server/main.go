/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the credit ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load config (defaults, YAML, .env, LEDGER_* env, flags)
  3. Initialize logger and SQLite store
  4. Build engines: credits.Engine, incentive.Scheduler
  5. Configure HTTP router and start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config path (default: config.yaml, optional)
  -port    HTTP server port (overrides config)
  -db      SQLite database path (overrides config)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  ./server -db="./data/credits.db"
  ./server -db=":memory:" -port=3000
  LEDGER_LOG_PRETTY=true ./server

SEE ALSO:
  - config/config.go: Configuration sources
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/credit-ledger/api"
	"github.com/warp/credit-ledger/config"
	"github.com/warp/credit-ledger/credits"
	"github.com/warp/credit-ledger/incentive"
	"github.com/warp/credit-ledger/ledger"
	"github.com/warp/credit-ledger/logger"
	"github.com/warp/credit-ledger/store/sqlite"
)

func main() {
	configPath := flag.String("config", "config.yaml", "YAML config path")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("invalid config")
	}

	log := logger.NewWithConfig(cfg.Log)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	ids, err := ledger.NewTransNoGenerator(cfg.IDs.Node)
	if err != nil {
		return err
	}
	engineCfg, err := cfg.Credits.Engine()
	if err != nil {
		return err
	}

	engine := credits.New(store,
		credits.WithConfig(engineCfg),
		credits.WithTransNoGenerator(ids),
		credits.WithLogger(log),
	)
	scheduler := incentive.New(engine,
		incentive.WithSchedule(cfg.Incentive),
		incentive.WithLogger(log),
	)

	handler := api.NewHandler(engine, scheduler, store, log)
	router := api.NewRouter(handler, cfg.Server.AllowedOrigins)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("db", cfg.Database.Path).
			Int64("node", cfg.IDs.Node).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
