package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/leadclean/internal/api"
	"github.com/ignite/leadclean/internal/cleaner"
	"github.com/ignite/leadclean/internal/config"
	"github.com/ignite/leadclean/internal/credit"
	"github.com/ignite/leadclean/internal/payments"
	"github.com/ignite/leadclean/internal/verifier"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

// buildLedger selects the credit ledger backend from configuration.
func buildLedger(cfg *config.Config, redisClient *redis.Client) (credit.Ledger, error) {
	creditCfg := credit.Config{
		AccountCredits: cfg.Ledger.AccountCredits,
		IPCredits:      cfg.Ledger.IPCredits,
	}

	switch cfg.Ledger.Backend {
	case "postgres":
		if cfg.Ledger.DatabaseURL == "" {
			return nil, fmt.Errorf("ledger backend is postgres but no database_url is set")
		}
		db, err := sql.Open("postgres", cfg.Ledger.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		ledger := credit.NewPostgresLedger(db, creditCfg)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ledger.InitSchema(ctx); err != nil {
			return nil, fmt.Errorf("init ledger schema: %w", err)
		}
		return ledger, nil
	case "redis", "":
		return credit.NewRedisLedger(redisClient, creditCfg), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}
}

func main() {
	// Load configuration
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Verification.BaseURL == "" {
		log.Fatal("verification.base_url (or VERIFY_API_URL) is required")
	}

	// Pre-flight check: verify the target port is available
	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	// Redis backs the credit ledger (default backend) and session progress
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatalf("Redis unreachable at %s: %v", cfg.Redis.Addr, err)
	}
	pingCancel()

	ledger, err := buildLedger(cfg, redisClient)
	if err != nil {
		log.Fatalf("Failed to initialize credit ledger: %v", err)
	}
	log.Printf("Credit ledger backend: %s (account grant %d, ip grant %d)",
		cfg.Ledger.Backend, cfg.Ledger.AccountCredits, cfg.Ledger.IPCredits)

	// Verification oracle client
	verifyClient := verifier.NewClient(verifier.Config{
		BaseURL:    cfg.Verification.BaseURL,
		Timeout:    time.Duration(cfg.Verification.TimeoutSeconds) * time.Second,
		MaxRetries: cfg.Verification.MaxRetries,
		RetryDelay: time.Duration(cfg.Verification.RetryDelayMS) * time.Millisecond,
		BatchSize:  cfg.Verification.BatchSize,
		BatchDelay: time.Duration(cfg.Verification.BatchDelayMS) * time.Millisecond,
	})

	cleanSvc := cleaner.New(verifyClient, ledger, cleaner.GatePolicy(cfg.Verification.GatePolicy))

	// Payment processor client for credit top-ups
	checkoutClient := payments.NewClient(payments.Config{
		BaseURL:        cfg.Checkout.BaseURL,
		SecretKey:      cfg.Checkout.SecretKey,
		WebhookSecret:  cfg.Checkout.WebhookSecret,
		PricePerCredit: cfg.Checkout.PricePerCredit,
		TimeoutSeconds: cfg.Checkout.TimeoutSeconds,
	})

	server := api.NewServer(cfg, cleanSvc, ledger, checkoutClient, redisClient)

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", host, port)
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if err := redisClient.Close(); err != nil {
		log.Printf("Redis close error: %v", err)
	}

	log.Println("Server stopped")
}
