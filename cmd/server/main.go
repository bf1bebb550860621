package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/meridian/cohort-scheduler/internal/api"
	"github.com/meridian/cohort-scheduler/internal/config"
	"github.com/meridian/cohort-scheduler/internal/pkg/logger"
	"github.com/meridian/cohort-scheduler/internal/provider"
	"github.com/meridian/cohort-scheduler/internal/repository/postgres"
	"github.com/meridian/cohort-scheduler/internal/service/catalog"
	"github.com/meridian/cohort-scheduler/internal/service/delivery"
	"github.com/meridian/cohort-scheduler/internal/service/scheduling"
	"github.com/meridian/cohort-scheduler/internal/worker"
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

func main() {
	log.Println("Starting Cohort Scheduler API server...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.RedactPII != nil {
		logger.SetRedactPII(*cfg.Logging.RedactPII)
	}

	// Pre-flight: verify the target port is available.
	host := cfg.Server.GetHost()
	if err := checkPortAvailable(host, cfg.Server.Port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}
	log.Printf("Pre-flight check passed: port %d is available", cfg.Server.Port)

	if cfg.Database.URL == "" {
		log.Fatal("database.url is required (or set DATABASE_URL)")
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime())

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("Failed to ping database: %v", err)
	}
	pingCancel()
	log.Println("Connected to database")

	redisClient := connectRedis(cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
	}

	prov, err := provider.NewSES(context.Background(),
		cfg.Provider.SES.Region,
		cfg.Provider.SES.AccessKey,
		cfg.Provider.SES.SecretKey,
		cfg.Provider.SES.Timeout())
	if err != nil {
		log.Fatalf("Failed to initialize SES provider: %v", err)
	}
	renderer := provider.NewRenderer()

	catalogSvc := catalog.NewService(postgres.NewCatalogRepo(db))
	schedulingSvc := scheduling.NewService(postgres.NewSchedulingRepo(db))
	deliverySvc := delivery.NewService(postgres.NewDeliveryRepo(db), prov, renderer, delivery.Config{
		Sender: delivery.SenderIdentity{
			FromEmail: cfg.Provider.Sender.FromEmail,
			FromName:  cfg.Provider.Sender.FromName,
			ReplyTo:   cfg.Provider.Sender.ReplyTo,
		},
		MaxAttempts: cfg.Scheduler.MaxEnqueueAttempts,
		RetryBase:   cfg.Scheduler.RetryBase(),
		RetryMax:    cfg.Scheduler.RetryMax(),
	})

	handlers := api.NewHandlers(catalogSvc, schedulingSvc, deliverySvc, renderer)
	healthChecker := api.NewHealthChecker(db, redisClient)

	// The API binary hosts the SNS callback endpoint; staged events are
	// applied by the reconciler in the worker binary.
	receiver := worker.NewWebhookReceiver(deliverySvc)

	server := api.NewServer(cfg.Server, handlers, healthChecker, receiver)

	go func() {
		log.Printf("Listening on %s:%d", host, cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

// connectRedis dials Redis when enabled. A failed connection is not fatal:
// the sweep workers fall back to PostgreSQL advisory locks.
func connectRedis(cfg config.RedisConfig) *redis.Client {
	if !cfg.Enabled {
		log.Println("Redis disabled - sweep locks use PG advisory locks")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("Warning: Redis connection failed (%s): %v - falling back to PG advisory locks", cfg.Addr, err)
		client.Close()
		return nil
	}
	log.Printf("Redis connected: %s (distributed locking enabled)", cfg.Addr)
	return client
}
