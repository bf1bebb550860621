package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/meridian/cohort-scheduler/internal/config"
	"github.com/meridian/cohort-scheduler/internal/pkg/logger"
	"github.com/meridian/cohort-scheduler/internal/provider"
	"github.com/meridian/cohort-scheduler/internal/repository/postgres"
	"github.com/meridian/cohort-scheduler/internal/service/delivery"
	"github.com/meridian/cohort-scheduler/internal/service/scheduling"
	"github.com/meridian/cohort-scheduler/internal/worker"
)

func main() {
	log.Println("Starting Cohort Scheduler workers...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.RedactPII != nil {
		logger.SetRedactPII(*cfg.Logging.RedactPII)
	}

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

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel = context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("Warning: Redis connection failed (%s): %v - falling back to PG advisory locks", cfg.Redis.Addr, err)
			redisClient.Close()
			redisClient = nil
		} else {
			log.Printf("Redis connected: %s (distributed locking enabled)", cfg.Redis.Addr)
		}
		pingCancel()
	} else {
		log.Println("Redis disabled - sweep locks use PG advisory locks")
	}
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

	// Stage activation sweep: flips pending stages whose start date has
	// arrived in each user's zone and materializes their instances.
	activation := worker.NewActivationWorker(schedulingSvc, db, cfg.Scheduler.ActivationInterval())
	if redisClient != nil {
		activation.SetRedisClient(redisClient)
	}
	activation.SetLockTTL(cfg.Scheduler.LockTTL())
	if err := activation.Start(); err != nil {
		log.Fatalf("Failed to start activation worker: %v", err)
	}

	// Dispatcher pool: claims due send instances and hands them to SES.
	pool := worker.NewDispatcherPool(deliverySvc, cfg.Scheduler.DispatchWorkers)
	pool.SetBatchSize(cfg.Scheduler.DispatchBatchSize)
	pool.SetPollInterval(cfg.Scheduler.DispatchInterval())
	pool.Start()

	// Reconciler: applies staged provider events to delivery state.
	reconciler := worker.NewReconciler(deliverySvc, db, cfg.Scheduler.ReconcileInterval())
	if redisClient != nil {
		reconciler.SetRedisClient(redisClient)
	}
	reconciler.SetLockTTL(cfg.Scheduler.LockTTL())
	if err := reconciler.Start(); err != nil {
		log.Fatalf("Failed to start reconciler: %v", err)
	}

	// Completion auditor: promotes finished stages and enrollments on a cron
	// cadence.
	auditor := worker.NewCompletionAuditor(schedulingSvc, db, cfg.Scheduler.AuditCron)
	if redisClient != nil {
		auditor.SetRedisClient(redisClient)
	}
	auditor.SetLockTTL(cfg.Scheduler.LockTTL())
	if err := auditor.Start(); err != nil {
		log.Fatalf("Failed to start completion auditor: %v", err)
	}

	// Periodic stats heartbeat.
	statsCtx, statsCancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-statsCtx.Done():
				return
			case <-ticker.C:
				log.Printf("[Stats] activation=%v dispatcher=%v reconciler=%v auditor=%v",
					activation.Stats(), pool.Stats(), reconciler.Stats(), auditor.Stats())
			}
		}
	}()

	log.Println("Workers running...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down workers...")
	statsCancel()
	auditor.Stop()
	reconciler.Stop()
	pool.Stop()
	activation.Stop()
	log.Println("Workers stopped")
}
