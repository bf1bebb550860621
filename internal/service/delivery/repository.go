package delivery

import (
	"context"
	"time"

	"github.com/meridian/cohort-scheduler/internal/domain"
)

// DispatchItem is one claimed send_message instance joined with everything
// dispatch needs: the recipient and the template content.
type DispatchItem struct {
	Instance domain.ActionInstance
	User     domain.User
	Template domain.ActionTemplate
}

// Repository is the persistence boundary for the delivery service.
type Repository interface {
	// ClaimDue atomically claims up to limit pending send_message
	// instances whose next attempt time is at or before now and whose
	// enrollment is active, pushing each claimed row's next attempt time
	// out by lease so concurrent dispatchers skip it. A dispatcher that
	// dies mid-flight loses nothing: the row resurfaces after the lease.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]DispatchItem, error)

	// MarkEnqueued flips a pending instance to enqueued and inserts its
	// delivery record in one transaction. Returns ErrNotFound when the
	// instance is no longer pending.
	MarkEnqueued(ctx context.Context, instanceID string, attempts int, rec *domain.DeliveryRecord) error

	// ScheduleRetry records a failed enqueue attempt: bumps the attempt
	// count, stores the error, and sets the next attempt time. The
	// instance stays pending. Returns ErrNotFound when it is not pending.
	ScheduleRetry(ctx context.Context, instanceID string, attempts int, nextAttemptAt time.Time, lastError string) error

	// MarkFailedToEnqueue moves a pending instance to the terminal
	// failed_to_enqueue status with its final attempt count and error.
	// Returns ErrNotFound when the instance is not pending.
	MarkFailedToEnqueue(ctx context.Context, instanceID string, attempts int, lastError string) error

	// GetInstance returns an action instance by ID, or ErrNotFound.
	GetInstance(ctx context.Context, id string) (*domain.ActionInstance, error)

	// TransitionInstance moves an instance from one status to another as
	// a single compare-and-set. Returns ErrNotFound when no row with the
	// given ID currently holds the from status.
	TransitionInstance(ctx context.Context, id string, from, to domain.ActionInstanceStatus) error

	// SupersedeInstance cancels a failed instance and inserts its
	// replacement in one transaction, so no moment exists where both are
	// live. Returns ErrNotFound when the old instance is no longer in a
	// failed status.
	SupersedeInstance(ctx context.Context, oldID string, replacement *domain.ActionInstance) error

	// RecordByCorrelation returns the delivery record a provider event
	// refers to, or ErrNotFound.
	RecordByCorrelation(ctx context.Context, provider, correlationID string) (*domain.DeliveryRecord, error)

	// RecordEventTimestamp stamps the record's column for the event type,
	// first occurrence wins: an already-set timestamp is never
	// overwritten. For failed events reason lands in failure_reason under
	// the same rule.
	RecordEventTimestamp(ctx context.Context, recordID string, event domain.DeliveryEventType, at time.Time, reason string) error

	// StageEvent appends a raw provider event to the staging table.
	StageEvent(ctx context.Context, ev *domain.DeliveryEvent) error

	// UnprocessedEvents returns staged events not yet applied, oldest
	// first.
	UnprocessedEvents(ctx context.Context, limit int) ([]domain.DeliveryEvent, error)

	// MarkEventProcessed flags a staged event as applied.
	MarkEventProcessed(ctx context.Context, id int64) error

	// InstancesByStatus returns instances currently in the given status,
	// oldest first. Operator surface for inspecting failed work.
	InstancesByStatus(ctx context.Context, status domain.ActionInstanceStatus, limit int) ([]domain.ActionInstance, error)
}
