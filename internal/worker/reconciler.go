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
	"github.com/meridian/cohort-scheduler/internal/service/delivery"
)

// =============================================================================
// EVENT RECONCILER WORKER
// =============================================================================
// Drains the staged provider events and folds them into delivery records and
// instance statuses. Applying is idempotent and ordered by staging id, so a
// replayed or re-claimed event is a no-op; events with no matching delivery
// record yet (arrived before the enqueue write committed) stay staged for
// the next pass.

const (
	// DefaultReconcileInterval is how often staged events are drained.
	DefaultReconcileInterval = 15 * time.Second

	// DefaultReconcileBatch caps how many staged events one pass applies.
	DefaultReconcileBatch = 1000

	reconcileLockKey = "sweep:event-reconcile"
)

// Reconciler periodically applies staged provider events.
type Reconciler struct {
	del         *delivery.Service
	db          *sql.DB
	redisClient *redis.Client
	interval    time.Duration
	batchSize   int
	lockTTL     time.Duration

	// Stats
	eventsApplied  int64
	eventsDeferred int64
	errors         int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewReconciler creates an event reconciler.
func NewReconciler(del *delivery.Service, db *sql.DB, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	return &Reconciler{
		del:       del,
		db:        db,
		interval:  interval,
		batchSize: DefaultReconcileBatch,
		lockTTL:   5 * time.Minute,
	}
}

// SetRedisClient switches the pass lock to Redis.
func (r *Reconciler) SetRedisClient(client *redis.Client) {
	r.redisClient = client
}

// SetLockTTL overrides the pass lock TTL.
func (r *Reconciler) SetLockTTL(ttl time.Duration) {
	if ttl > 0 {
		r.lockTTL = ttl
	}
}

// Start begins the reconcile loop.
func (r *Reconciler) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("reconciler already running")
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.mu.Unlock()

	log.Printf("[Reconciler] Starting with interval: %v", r.interval)

	r.wg.Add(1)
	go r.loop()
	return nil
}

// Stop gracefully stops the reconciler.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	log.Printf("[Reconciler] Stopped. Applied: %d events, deferred: %d",
		atomic.LoadInt64(&r.eventsApplied), atomic.LoadInt64(&r.eventsDeferred))
}

// Stats returns current counters.
func (r *Reconciler) Stats() map[string]int64 {
	return map[string]int64{
		"events_applied":  atomic.LoadInt64(&r.eventsApplied),
		"events_deferred": atomic.LoadInt64(&r.eventsDeferred),
		"errors":          atomic.LoadInt64(&r.errors),
	}
}

func (r *Reconciler) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.runPass()
		}
	}
}

func (r *Reconciler) runPass() {
	ctx, cancel := context.WithTimeout(r.ctx, r.interval)
	defer cancel()

	lock := distlock.NewLock(r.redisClient, r.db, reconcileLockKey, r.lockTTL)
	_, err := distlock.WithLock(ctx, lock, func(ctx context.Context) error {
		applied, deferred, err := r.del.ReconcileStaged(ctx, r.batchSize)
		if applied > 0 || deferred > 0 {
			atomic.AddInt64(&r.eventsApplied, int64(applied))
			atomic.AddInt64(&r.eventsDeferred, int64(deferred))
			log.Printf("[Reconciler] Applied %d events, deferred %d", applied, deferred)
		}
		return err
	})
	if err != nil {
		atomic.AddInt64(&r.errors, 1)
		log.Printf("[Reconciler] Pass error: %v", err)
	}
}
