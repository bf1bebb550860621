package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridian/cohort-scheduler/internal/pkg/distlock"
	"github.com/meridian/cohort-scheduler/internal/service/scheduling"
)

// =============================================================================
// STAGE ACTIVATION WORKER
// =============================================================================
// Polls for pending subgroup assignments whose start date has arrived in the
// user's timezone, flips them active, and materializes their action
// instances. Runs under a distributed lock so only one replica sweeps at a
// time; the pending→active flip is a compare-and-set, so an overlapping
// sweep after a lock expiry still activates each stage exactly once.

const (
	// DefaultActivationInterval is how often to sweep for due stages.
	DefaultActivationInterval = time.Minute

	// DefaultActivationBatch caps how many due stages one pass examines.
	DefaultActivationBatch = 500

	activationLockKey = "sweep:stage-activation"
)

// ActivationWorker periodically promotes due stage assignments.
type ActivationWorker struct {
	sched       *scheduling.Service
	db          *sql.DB
	redisClient *redis.Client // optional; nil falls back to PG advisory locks
	interval    time.Duration
	batchSize   int
	lockTTL     time.Duration

	// Stats
	stagesActivated int64
	passes          int64
	errors          int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewActivationWorker creates a stage activation worker. The db handle is
// only used for advisory locking when no Redis client is set.
func NewActivationWorker(sched *scheduling.Service, db *sql.DB, interval time.Duration) *ActivationWorker {
	if interval <= 0 {
		interval = DefaultActivationInterval
	}
	return &ActivationWorker{
		sched:     sched,
		db:        db,
		interval:  interval,
		batchSize: DefaultActivationBatch,
		lockTTL:   5 * time.Minute,
	}
}

// SetRedisClient switches the sweep lock to Redis. Without one, the worker
// uses PostgreSQL advisory locks.
func (w *ActivationWorker) SetRedisClient(client *redis.Client) {
	w.redisClient = client
}

// SetLockTTL overrides how long the sweep lock is held at most.
func (w *ActivationWorker) SetLockTTL(ttl time.Duration) {
	if ttl > 0 {
		w.lockTTL = ttl
	}
}

// Start begins the sweep loop.
func (w *ActivationWorker) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("activation worker already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.mu.Unlock()

	log.Printf("[ActivationWorker] Starting with sweep interval: %v", w.interval)

	w.wg.Add(1)
	go w.sweepLoop()
	return nil
}

// Stop gracefully stops the worker.
func (w *ActivationWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
	log.Printf("[ActivationWorker] Stopped. Activated: %d stages over %d passes",
		atomic.LoadInt64(&w.stagesActivated), atomic.LoadInt64(&w.passes))
}

// Stats returns current counters.
func (w *ActivationWorker) Stats() map[string]int64 {
	return map[string]int64{
		"stages_activated": atomic.LoadInt64(&w.stagesActivated),
		"passes":           atomic.LoadInt64(&w.passes),
		"errors":           atomic.LoadInt64(&w.errors),
	}
}

func (w *ActivationWorker) sweepLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.runPass()
		}
	}
}

func (w *ActivationWorker) runPass() {
	ctx, cancel := context.WithTimeout(w.ctx, w.interval)
	defer cancel()

	lock := distlock.NewLock(w.redisClient, w.db, activationLockKey, w.lockTTL)
	ran, err := distlock.WithLock(ctx, lock, func(ctx context.Context) error {
		n, err := w.sched.ActivateDue(ctx, w.batchSize)
		if n > 0 {
			atomic.AddInt64(&w.stagesActivated, int64(n))
			log.Printf("[ActivationWorker] Activated %d stages", n)
		}
		return err
	})
	if err != nil {
		atomic.AddInt64(&w.errors, 1)
		log.Printf("[ActivationWorker] Sweep error: %v", err)
		return
	}
	if !ran {
		return // another replica holds the sweep lock
	}
	atomic.AddInt64(&w.passes, 1)
}
