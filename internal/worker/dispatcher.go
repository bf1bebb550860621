package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/meridian/cohort-scheduler/internal/service/delivery"
)

// =============================================================================
// DELIVERY DISPATCHER POOL
// =============================================================================
// A pool of dispatchers that claim due send_message instances and hand them
// to the provider. Claims are leased (FOR UPDATE SKIP LOCKED + a pushed-out
// next_attempt_at), so concurrent dispatchers never fight over a row and a
// crashed dispatcher's claims become due again when the lease runs out.

const (
	// DefaultDispatchWorkers is the pool size when none is configured.
	DefaultDispatchWorkers = 4

	// DefaultDispatchBatch is how many instances one claim pulls.
	DefaultDispatchBatch = 100

	// DefaultDispatchInterval is how long an idle dispatcher waits before
	// polling again.
	DefaultDispatchInterval = 15 * time.Second
)

// DispatcherPool runs concurrent delivery dispatchers.
type DispatcherPool struct {
	del          *delivery.Service
	workerID     string
	numWorkers   int
	batchSize    int
	pollInterval time.Duration

	// Stats
	enqueued int64
	retries  int64
	failed   int64
	skipped  int64
	errors   int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewDispatcherPool creates a dispatcher pool over the delivery service.
func NewDispatcherPool(del *delivery.Service, numWorkers int) *DispatcherPool {
	if numWorkers <= 0 {
		numWorkers = DefaultDispatchWorkers
	}
	return &DispatcherPool{
		del:          del,
		workerID:     fmt.Sprintf("dispatcher-%s", uuid.New().String()[:8]),
		numWorkers:   numWorkers,
		batchSize:    DefaultDispatchBatch,
		pollInterval: DefaultDispatchInterval,
	}
}

// SetBatchSize overrides how many instances each claim pulls.
func (p *DispatcherPool) SetBatchSize(n int) {
	if n > 0 {
		p.batchSize = n
	}
}

// SetPollInterval overrides the idle poll cadence.
func (p *DispatcherPool) SetPollInterval(d time.Duration) {
	if d > 0 {
		p.pollInterval = d
	}
}

// Start launches the dispatcher goroutines.
func (p *DispatcherPool) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	log.Printf("[DispatcherPool] Starting %d dispatchers (batch_size=%d, id=%s)",
		p.numWorkers, p.batchSize, p.workerID)

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.dispatcher(i)
	}
}

// Stop gracefully stops the pool. In-flight dispatches finish; unclaimed
// rows stay due for the next pool.
func (p *DispatcherPool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	log.Printf("[DispatcherPool] Stopped. Enqueued: %d, retries: %d, failed: %d, skipped: %d",
		atomic.LoadInt64(&p.enqueued), atomic.LoadInt64(&p.retries),
		atomic.LoadInt64(&p.failed), atomic.LoadInt64(&p.skipped))
}

// Stats returns current counters.
func (p *DispatcherPool) Stats() map[string]int64 {
	return map[string]int64{
		"enqueued":        atomic.LoadInt64(&p.enqueued),
		"retry_scheduled": atomic.LoadInt64(&p.retries),
		"failed":          atomic.LoadInt64(&p.failed),
		"skipped":         atomic.LoadInt64(&p.skipped),
		"errors":          atomic.LoadInt64(&p.errors),
	}
}

func (p *DispatcherPool) dispatcher(num int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
			processed, err := p.dispatchBatch()
			if err != nil {
				atomic.AddInt64(&p.errors, 1)
				log.Printf("[DispatcherPool] Dispatcher %d: claim error: %v", num, err)
				p.sleep(time.Second)
				continue
			}
			if processed == 0 {
				p.sleep(p.pollInterval)
			}
		}
	}
}

// sleep waits without holding up shutdown.
func (p *DispatcherPool) sleep(d time.Duration) {
	select {
	case <-p.ctx.Done():
	case <-time.After(d):
	}
}

func (p *DispatcherPool) dispatchBatch() (int, error) {
	ctx, cancel := context.WithTimeout(p.ctx, time.Minute)
	defer cancel()

	items, err := p.del.ClaimDue(ctx, p.batchSize)
	if err != nil {
		return 0, err
	}

	for _, item := range items {
		outcome, err := p.del.Dispatch(ctx, item)
		if err != nil {
			atomic.AddInt64(&p.errors, 1)
			log.Printf("[DispatcherPool] Dispatch %s failed: %v", item.Instance.ID, err)
			continue
		}
		switch outcome {
		case delivery.OutcomeEnqueued:
			atomic.AddInt64(&p.enqueued, 1)
		case delivery.OutcomeRetryScheduled:
			atomic.AddInt64(&p.retries, 1)
		case delivery.OutcomeFailed:
			atomic.AddInt64(&p.failed, 1)
		case delivery.OutcomeSkipped:
			atomic.AddInt64(&p.skipped, 1)
		}
	}
	return len(items), nil
}
