package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/meridian/cohort-scheduler/internal/pkg/distlock"
	"github.com/meridian/cohort-scheduler/internal/service/scheduling"
)

// =============================================================================
// COMPLETION AUDITOR
// =============================================================================
// Cron-scheduled promotion of finished work: stage assignments whose
// instances are all done (or that a later sibling has started past) become
// completed, then enrollments whose stages are all completed follow. The
// job runs under the sweep lock; the underlying transitions are
// compare-and-sets, so a duplicate run promotes nothing twice.

const (
	// DefaultAuditBatch caps how many rows one audit promotes per kind.
	DefaultAuditBatch = 500

	auditLockKey = "sweep:completion-audit"
)

// CompletionAuditor runs the completion audit on a cron schedule.
type CompletionAuditor struct {
	sched       *scheduling.Service
	db          *sql.DB
	redisClient *redis.Client
	spec        string
	batchSize   int
	lockTTL     time.Duration
	cron        *cron.Cron

	// Stats
	stagesCompleted      int64
	enrollmentsCompleted int64
	errors               int64
}

// NewCompletionAuditor creates an auditor with the given cron expression
// (standard five-field specs and descriptors like "@every 10m").
func NewCompletionAuditor(sched *scheduling.Service, db *sql.DB, spec string) *CompletionAuditor {
	if spec == "" {
		spec = "@every 10m"
	}
	return &CompletionAuditor{
		sched:     sched,
		db:        db,
		spec:      spec,
		batchSize: DefaultAuditBatch,
		lockTTL:   5 * time.Minute,
	}
}

// SetRedisClient switches the audit lock to Redis.
func (a *CompletionAuditor) SetRedisClient(client *redis.Client) {
	a.redisClient = client
}

// SetLockTTL overrides the audit lock TTL.
func (a *CompletionAuditor) SetLockTTL(ttl time.Duration) {
	if ttl > 0 {
		a.lockTTL = ttl
	}
}

// Start schedules the audit job.
func (a *CompletionAuditor) Start() error {
	if a.cron != nil {
		return fmt.Errorf("completion auditor already running")
	}
	c := cron.New()
	if _, err := c.AddFunc(a.spec, a.runOnce); err != nil {
		return fmt.Errorf("schedule completion audit %q: %w", a.spec, err)
	}
	a.cron = c
	c.Start()
	log.Printf("[CompletionAuditor] Scheduled with spec %q", a.spec)
	return nil
}

// Stop halts the schedule and waits for a running audit to finish.
func (a *CompletionAuditor) Stop() {
	if a.cron == nil {
		return
	}
	<-a.cron.Stop().Done()
	a.cron = nil
	log.Printf("[CompletionAuditor] Stopped. Completed: %d stages, %d enrollments",
		atomic.LoadInt64(&a.stagesCompleted), atomic.LoadInt64(&a.enrollmentsCompleted))
}

// Stats returns current counters.
func (a *CompletionAuditor) Stats() map[string]int64 {
	return map[string]int64{
		"stages_completed":      atomic.LoadInt64(&a.stagesCompleted),
		"enrollments_completed": atomic.LoadInt64(&a.enrollmentsCompleted),
		"errors":                atomic.LoadInt64(&a.errors),
	}
}

func (a *CompletionAuditor) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), a.lockTTL)
	defer cancel()

	lock := distlock.NewLock(a.redisClient, a.db, auditLockKey, a.lockTTL)
	_, err := distlock.WithLock(ctx, lock, func(ctx context.Context) error {
		stages, enrollments, err := a.sched.AuditCompletions(ctx, a.batchSize)
		atomic.AddInt64(&a.stagesCompleted, int64(stages))
		atomic.AddInt64(&a.enrollmentsCompleted, int64(enrollments))
		if stages > 0 || enrollments > 0 {
			log.Printf("[CompletionAuditor] Completed %d stages, %d enrollments", stages, enrollments)
		}
		return err
	})
	if err != nil {
		atomic.AddInt64(&a.errors, 1)
		log.Printf("[CompletionAuditor] Audit error: %v", err)
	}
}
