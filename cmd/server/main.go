/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Payroll Engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present), parse command-line flags
  2. Initialize SQLite store
  3. Optionally seed an unconfigured store from a bundle
  4. Create API handler and router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: payroll.db)
           Use ":memory:" for in-memory database
  -seed    YAML or JSON configuration bundle applied at startup when
           the store has never been configured

ENVIRONMENT (overrides flag defaults, not explicit flags):
  PAYROLL_PORT          HTTP server port
  PAYROLL_DB            SQLite database path
  PAYROLL_CORS_ORIGINS  Comma-separated allowed origins

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database and the standard configuration
  ./server -db="./data/payroll.db" -seed=./config/payroll.yaml

  # Run with in-memory database
  ./server -db=":memory:"

SEE ALSO:
  - api/server.go: Router configuration
  - factory/bundle.go: Seed bundle format
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/store/sqlite"
)

func main() {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to read .env: %v", err)
	}

	// Flags
	port := flag.Int("port", envInt("PAYROLL_PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envString("PAYROLL_DB", "payroll.db"), "SQLite database path")
	seed := flag.String("seed", "", "configuration bundle (YAML or JSON) to apply at startup")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Initialize handler
	handler := api.NewHandler(store)

	if *seed != "" {
		if err := applySeed(context.Background(), handler, *seed); err != nil {
			log.Fatalf("Failed to apply seed bundle: %v", err)
		}
	}

	// Create router
	router := api.NewRouter(handler, corsOrigins())

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
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
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// applySeed loads the bundle into a store that has never been written.
// A configured store is left as it is so edits made through the API
// survive restarts.
func applySeed(ctx context.Context, h *api.Handler, path string) error {
	b, err := factory.LoadFile(path)
	if err != nil {
		return err
	}
	version, err := h.Store.ConfigVersion(ctx)
	if err != nil {
		return err
	}
	if version > 0 {
		log.Printf("Skipping seed %q: store already configured (version %d)", b.Name, version)
		return nil
	}
	res, err := b.Apply(ctx, h.Manager)
	if err != nil {
		return err
	}
	log.Printf("Seeded %q: %d brackets, %d rates, %d rules, %d parameters, %d templates",
		res.Bundle, res.TaxBrackets, res.InsuranceRates, res.CalculationRules, res.SystemParameters, res.SalaryTemplates)
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Warning: ignoring %s=%q: %v", key, v, err)
		return def
	}
	return n
}

func corsOrigins() []string {
	raw := os.Getenv("PAYROLL_CORS_ORIGINS")
	if raw == "" {
		return nil
	}
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
