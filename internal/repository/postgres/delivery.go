package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/meridian/cohort-scheduler/internal/domain"
	"github.com/meridian/cohort-scheduler/internal/service/delivery"
)

// DeliveryRepo implements delivery.Repository against PostgreSQL.
type DeliveryRepo struct{ db *sql.DB }

var _ delivery.Repository = (*DeliveryRepo)(nil)

// NewDeliveryRepo creates a Postgres-backed delivery repository.
func NewDeliveryRepo(db *sql.DB) *DeliveryRepo { return &DeliveryRepo{db: db} }

// ClaimDue claims due rows by pushing next_attempt_at out by the lease
// inside the same statement that selects them. SKIP LOCKED keeps concurrent
// dispatchers from blocking on each other's claims; a dispatcher that dies
// holding a claim forfeits nothing because the row is due again once the
// lease runs out.
func (r *DeliveryRepo) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]delivery.DispatchItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		WITH claimed AS (
		    UPDATE sched_action_instances
		    SET next_attempt_at = $2, updated_at = NOW()
		    WHERE id IN (
		        SELECT i.id
		        FROM sched_action_instances i
		        JOIN sched_subgroup_assignments sa ON sa.id = i.subgroup_assignment_id
		        JOIN sched_group_assignments ga ON ga.id = sa.group_assignment_id
		        WHERE i.status = 'pending'
		          AND i.action_type = 'send_message'
		          AND i.next_attempt_at IS NOT NULL
		          AND i.next_attempt_at <= $1
		          AND ga.status = 'active'
		        ORDER BY i.next_attempt_at
		        LIMIT $3
		        FOR UPDATE OF i SKIP LOCKED
		    )
		    RETURNING id, user_id, action_template_id, subgroup_assignment_id, action_type,
		              action_datetime, status, attempts, next_attempt_at, last_error, created_at, updated_at
		)
		SELECT c.id, c.user_id, c.action_template_id, c.subgroup_assignment_id, c.action_type,
		       c.action_datetime, c.status, c.attempts, c.next_attempt_at, c.last_error,
		       c.created_at, c.updated_at,
		       u.id, u.email, u.first_name, u.last_name, u.timezone, u.created_at, u.updated_at,
		       t.id, t.subgroup_id, t.name, t.action_type, t.action_datetime_days_offset,
		       t.time_of_day_local, t.subject, t.body, t.status, t.created_at, t.updated_at
		FROM claimed c
		JOIN sched_users u ON u.id = c.user_id
		JOIN sched_action_templates t ON t.id = c.action_template_id
		ORDER BY c.action_datetime
	`, now, now.Add(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("claim due instances: %w", err)
	}
	defer rows.Close()

	var out []delivery.DispatchItem
	for rows.Next() {
		var item delivery.DispatchItem
		var next sql.NullTime
		var tod string
		if err := rows.Scan(
			&item.Instance.ID, &item.Instance.UserID, &item.Instance.ActionTemplateID,
			&item.Instance.SubGroupAssignmentID, &item.Instance.ActionType,
			&item.Instance.ActionDatetime, &item.Instance.Status, &item.Instance.Attempts,
			&next, &item.Instance.LastError, &item.Instance.CreatedAt, &item.Instance.UpdatedAt,
			&item.User.ID, &item.User.Email, &item.User.FirstName, &item.User.LastName,
			&item.User.Timezone, &item.User.CreatedAt, &item.User.UpdatedAt,
			&item.Template.ID, &item.Template.SubGroupID, &item.Template.Name,
			&item.Template.ActionType, &item.Template.ActionDatetimeDaysOffset,
			&tod, &item.Template.Subject, &item.Template.Body, &item.Template.Status,
			&item.Template.CreatedAt, &item.Template.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan claimed item: %w", err)
		}
		if next.Valid {
			t := next.Time
			item.Instance.NextAttemptAt = &t
		}
		parsed, err := domain.ParseTimeOfDay(tod)
		if err != nil {
			return nil, fmt.Errorf("stored time_of_day_local %q: %w", tod, err)
		}
		item.Template.TimeOfDayLocal = parsed
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *DeliveryRepo) MarkEnqueued(ctx context.Context, instanceID string, attempts int, rec *domain.DeliveryRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark enqueued: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE sched_action_instances
		SET status = 'enqueued', attempts = $1, next_attempt_at = NULL, last_error = '', updated_at = NOW()
		WHERE id = $2 AND status = 'pending'
	`, attempts, instanceID)
	if err != nil {
		return fmt.Errorf("mark enqueued: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return delivery.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sched_delivery_records
			(id, action_instance_id, provider, correlation_id, enqueued_at, scheduled_at,
			 failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, '', NOW(), NOW())
	`, rec.ID, rec.ActionInstanceID, rec.Provider, rec.CorrelationID,
		rec.EnqueuedAt, rec.ScheduledAt); err != nil {
		return fmt.Errorf("insert delivery record: %w", err)
	}
	return tx.Commit()
}

func (r *DeliveryRepo) ScheduleRetry(ctx context.Context, instanceID string, attempts int, nextAttemptAt time.Time, lastError string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sched_action_instances
		SET attempts = $1, next_attempt_at = $2, last_error = $3, updated_at = NOW()
		WHERE id = $4 AND status = 'pending'
	`, attempts, nextAttemptAt, lastError, instanceID)
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return delivery.ErrNotFound
	}
	return nil
}

func (r *DeliveryRepo) MarkFailedToEnqueue(ctx context.Context, instanceID string, attempts int, lastError string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sched_action_instances
		SET status = 'failed_to_enqueue', attempts = $1, next_attempt_at = NULL, last_error = $2, updated_at = NOW()
		WHERE id = $3 AND status = 'pending'
	`, attempts, lastError, instanceID)
	if err != nil {
		return fmt.Errorf("mark failed to enqueue: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return delivery.ErrNotFound
	}
	return nil
}

func (r *DeliveryRepo) GetInstance(ctx context.Context, id string) (*domain.ActionInstance, error) {
	inst, err := scanInstance(r.db.QueryRowContext(ctx, `
		SELECT id, user_id, action_template_id, subgroup_assignment_id, action_type,
		       action_datetime, status, attempts, next_attempt_at, last_error, created_at, updated_at
		FROM sched_action_instances
		WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, delivery.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return inst, nil
}

func (r *DeliveryRepo) TransitionInstance(ctx context.Context, id string, from, to domain.ActionInstanceStatus) error {
	q := `
		UPDATE sched_action_instances SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`
	if to == domain.ActionCanceled {
		q = `
		UPDATE sched_action_instances SET status = $1, next_attempt_at = NULL, updated_at = NOW()
		WHERE id = $2 AND status = $3`
	}
	res, err := r.db.ExecContext(ctx, q, to, id, from)
	if err != nil {
		return fmt.Errorf("transition instance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return delivery.ErrNotFound
	}
	return nil
}

func (r *DeliveryRepo) SupersedeInstance(ctx context.Context, oldID string, replacement *domain.ActionInstance) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin supersede instance: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE sched_action_instances
		SET status = 'canceled', next_attempt_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status IN ('failed_to_enqueue', 'failed_to_send')
	`, oldID)
	if err != nil {
		return fmt.Errorf("cancel failed instance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return delivery.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sched_action_instances
			(id, user_id, action_template_id, subgroup_assignment_id, action_type,
			 action_datetime, status, attempts, next_attempt_at, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '', NOW(), NOW())
	`, replacement.ID, replacement.UserID, replacement.ActionTemplateID,
		replacement.SubGroupAssignmentID, replacement.ActionType, replacement.ActionDatetime,
		replacement.Status, replacement.Attempts, replacement.NextAttemptAt); err != nil {
		return fmt.Errorf("insert replacement instance: %w", err)
	}
	return tx.Commit()
}

func (r *DeliveryRepo) RecordByCorrelation(ctx context.Context, provider, correlationID string) (*domain.DeliveryRecord, error) {
	rec := &domain.DeliveryRecord{}
	var sent, delivered, opened, clicked, failed sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT id, action_instance_id, provider, correlation_id, enqueued_at, scheduled_at,
		       sent_at, delivered_at, opened_at, clicked_at, failed_at, failure_reason,
		       created_at, updated_at
		FROM sched_delivery_records
		WHERE provider = $1 AND correlation_id = $2
	`, provider, correlationID).Scan(
		&rec.ID, &rec.ActionInstanceID, &rec.Provider, &rec.CorrelationID,
		&rec.EnqueuedAt, &rec.ScheduledAt,
		&sent, &delivered, &opened, &clicked, &failed, &rec.FailureReason,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, delivery.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("record by correlation: %w", err)
	}
	rec.SentAt = nullTimePtr(sent)
	rec.DeliveredAt = nullTimePtr(delivered)
	rec.OpenedAt = nullTimePtr(opened)
	rec.ClickedAt = nullTimePtr(clicked)
	rec.FailedAt = nullTimePtr(failed)
	return rec, nil
}

// RecordEventTimestamp writes the event's column with COALESCE so the first
// observed occurrence wins; replays never move the timestamp.
func (r *DeliveryRepo) RecordEventTimestamp(ctx context.Context, recordID string, event domain.DeliveryEventType, at time.Time, reason string) error {
	var res sql.Result
	var err error
	switch event {
	case domain.DeliveryEventSent:
		res, err = r.db.ExecContext(ctx, `
			UPDATE sched_delivery_records SET sent_at = COALESCE(sent_at, $1), updated_at = NOW() WHERE id = $2
		`, at, recordID)
	case domain.DeliveryEventDelivered:
		res, err = r.db.ExecContext(ctx, `
			UPDATE sched_delivery_records SET delivered_at = COALESCE(delivered_at, $1), updated_at = NOW() WHERE id = $2
		`, at, recordID)
	case domain.DeliveryEventOpened:
		res, err = r.db.ExecContext(ctx, `
			UPDATE sched_delivery_records SET opened_at = COALESCE(opened_at, $1), updated_at = NOW() WHERE id = $2
		`, at, recordID)
	case domain.DeliveryEventClicked:
		res, err = r.db.ExecContext(ctx, `
			UPDATE sched_delivery_records SET clicked_at = COALESCE(clicked_at, $1), updated_at = NOW() WHERE id = $2
		`, at, recordID)
	case domain.DeliveryEventFailed:
		res, err = r.db.ExecContext(ctx, `
			UPDATE sched_delivery_records
			SET failed_at = COALESCE(failed_at, $1),
			    failure_reason = CASE WHEN failure_reason = '' THEN $2 ELSE failure_reason END,
			    updated_at = NOW()
			WHERE id = $3
		`, at, reason, recordID)
	default:
		return fmt.Errorf("unknown delivery event type %q", event)
	}
	if err != nil {
		return fmt.Errorf("record %s timestamp: %w", event, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return delivery.ErrNotFound
	}
	return nil
}

func (r *DeliveryRepo) StageEvent(ctx context.Context, ev *domain.DeliveryEvent) error {
	payload := string(ev.Payload)
	if payload == "" {
		payload = "{}"
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sched_delivery_events
			(provider, correlation_id, event_type, event_timestamp, payload, received_at, processed)
		VALUES ($1, $2, $3, $4, $5, $6, false)
		RETURNING id
	`, ev.Provider, ev.CorrelationID, ev.EventType, ev.EventTimestamp, payload, ev.ReceivedAt).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("stage event: %w", err)
	}
	return nil
}

func (r *DeliveryRepo) UnprocessedEvents(ctx context.Context, limit int) ([]domain.DeliveryEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, provider, correlation_id, event_type, event_timestamp, payload,
		       received_at, processed, processed_at
		FROM sched_delivery_events
		WHERE processed = false
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("unprocessed events: %w", err)
	}
	defer rows.Close()

	var out []domain.DeliveryEvent
	for rows.Next() {
		var ev domain.DeliveryEvent
		var payload []byte
		var processedAt sql.NullTime
		if err := rows.Scan(&ev.ID, &ev.Provider, &ev.CorrelationID, &ev.EventType,
			&ev.EventTimestamp, &payload, &ev.ReceivedAt, &ev.Processed, &processedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Payload = payload
		ev.ProcessedAt = nullTimePtr(processedAt)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *DeliveryRepo) MarkEventProcessed(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sched_delivery_events SET processed = true, processed_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return delivery.ErrNotFound
	}
	return nil
}

func (r *DeliveryRepo) InstancesByStatus(ctx context.Context, status domain.ActionInstanceStatus, limit int) ([]domain.ActionInstance, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, action_template_id, subgroup_assignment_id, action_type,
		       action_datetime, status, attempts, next_attempt_at, last_error, created_at, updated_at
		FROM sched_action_instances
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("instances by status: %w", err)
	}
	defer rows.Close()

	var out []domain.ActionInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		out = append(out, *inst)
	}
	return out, rows.Err()
}
