/*
main.go - Application entry point

PURPOSE:
  Starts the medventory development backend: the REST API the issue and
  receipt screens talk to. Handles configuration, dependency injection,
  and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Initialize SQLite store
  3. Connect to Redis for the request lock, if configured
  4. Create API handler with dependencies, optionally load demo data
  5. Start the lot expiry scheduler
  6. Start server with graceful shutdown

CONFIGURATION:
  See config/config.go for every variable and flag.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the expiry scheduler
  4. Close Redis and database connections
  5. Exit

EXAMPLES:
  # Run with file database and demo data
  ./server -db="./data/medventory.db" -seed

  # Run with in-memory database
  ./server -db=":memory:" -seed

  # Several backends sharing one database, serialized through Redis
  MEDVENTORY_REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hmu/medventory/api"
	"github.com/hmu/medventory/config"
	"github.com/hmu/medventory/factory"
	"github.com/hmu/medventory/store/redis"
	"github.com/hmu/medventory/store/sqlite"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Initialize handler
	handler := api.NewHandler(store)

	classifier, err := factory.ParseClassifier(cfg.Classifier)
	if err != nil {
		log.Fatalf("Invalid classifier: %v", err)
	}
	handler.Classify = classifier

	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := redis.Connect(ctx, cfg.RedisAddr)
		cancel()
		if err != nil {
			log.Fatalf("Failed to connect to Redis at %s: %v", cfg.RedisAddr, err)
		}
		defer client.Close()
		handler.Locker = redis.NewLocker(client)
		log.Printf("Request lock: Redis at %s", cfg.RedisAddr)
	} else {
		log.Println("Request lock: in-process (set MEDVENTORY_REDIS_ADDR to share it)")
	}

	if cfg.Seed {
		if err := handler.LoadScenario(context.Background(), api.DefaultScenario); err != nil {
			log.Fatalf("Failed to load demo data: %v", err)
		}
		log.Printf("Loaded demo scenario %q", api.DefaultScenario)
	}

	scheduler := api.NewExpiryScheduler(store)
	scheduler.CheckInterval = cfg.ExpiryInterval
	scheduler.Start()
	defer scheduler.Stop()

	// Create router
	router := api.NewRouter(handler, cfg.AllowedOrigins)

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
		log.Printf("Server starting on http://localhost:%d", cfg.Port)
		log.Printf("API available at http://localhost:%d/api", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
