/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the cash register server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load config
  2. Open the ledger store (memory, sqlite or postgres)
  3. Wire event sinks (log, optional Kafka)
  4. Create the register and API handler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (optional)
  -port    HTTP server port, overrides config
  -db      SQLite database path, overrides config
           Use ":memory:" for in-memory database
  -driver  memory | sqlite | postgres, overrides config

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Flush event sinks
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/cashbox.db"

  # Run against Postgres
  CASHBOX_DATABASE_DSN=postgres://... ./server -driver=postgres

ENVIRONMENT:
  CASHBOX_* variables and .env, see config/config.go.

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/store.go: Backend selection
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/cashbox/api"
	"github.com/warp/cashbox/cash"
	"github.com/warp/cashbox/config"
	"github.com/warp/cashbox/events"
	"github.com/warp/cashbox/events/kafka"
	"github.com/warp/cashbox/logger"
	"github.com/warp/cashbox/store"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	driver := flag.String("driver", "", "Store driver: memory, sqlite, postgres")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *driver != "" {
		cfg.Driver = *driver
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Initialize store
	backend, err := store.Open(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to initialize %s store: %v", cfg.Driver, err)
	}
	defer backend.Close()

	// Event sinks
	sinks := events.Fanout{events.LogSink{}}
	if cfg.Kafka.Enabled() {
		sinks = append(sinks, kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		logger.Info("kafka events enabled", logger.Fields{"brokers": cfg.Kafka.Brokers, "topic": cfg.Kafka.Topic})
	}
	defer sinks.Close()

	// Initialize handler
	reg := cash.NewRegister(backend,
		cash.WithSink(sinks),
		cash.WithOpTimeout(cfg.OpTimeout),
	)
	handler := api.NewHandler(reg)
	handler.Store = backend

	// Create router
	router := api.NewRouter(handler, cfg.AllowedOrigins...)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d (driver=%s)", cfg.Port, cfg.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
