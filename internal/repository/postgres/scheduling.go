package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/meridian/cohort-scheduler/internal/domain"
	"github.com/meridian/cohort-scheduler/internal/service/scheduling"
)

// SchedulingRepo implements scheduling.Repository against PostgreSQL.
//
// Uniqueness invariants (one live enrollment per user and group, one
// non-canceled stage row per user and subgroup, one non-canceled instance
// per user and template) are partial unique indexes; concurrent writers
// race at the index, not in application code.
type SchedulingRepo struct{ db *sql.DB }

var _ scheduling.Repository = (*SchedulingRepo)(nil)

// NewSchedulingRepo creates a Postgres-backed scheduling repository.
func NewSchedulingRepo(db *sql.DB) *SchedulingRepo { return &SchedulingRepo{db: db} }

func (r *SchedulingRepo) CreateUser(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sched_users (id, email, first_name, last_name, timezone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
	`, u.ID, u.Email, u.FirstName, u.LastName, u.Timezone)
	if uniqueViolation(err, "sched_users_email_idx") {
		return scheduling.ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *SchedulingRepo) GetUser(ctx context.Context, id string) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `
		SELECT id, email, first_name, last_name, timezone, created_at, updated_at
		FROM sched_users
		WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, scheduling.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *SchedulingRepo) UpdateUserTimezone(ctx context.Context, id, timezone string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sched_users SET timezone = $1, updated_at = NOW() WHERE id = $2
	`, timezone, id)
	if err != nil {
		return fmt.Errorf("update user timezone: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return scheduling.ErrNotFound
	}
	return nil
}

func (r *SchedulingRepo) ActiveGroup(ctx context.Context, name string) (*domain.Group, error) {
	g, err := scanGroup(r.db.QueryRowContext(ctx, `
		SELECT id, name, display_name, description, version, status, superseded_by,
		       created_at, updated_at
		FROM sched_groups
		WHERE name = $1 AND status = 'active'
	`, name))
	if err == sql.ErrNoRows {
		return nil, scheduling.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("active group: %w", err)
	}
	return g, nil
}

func (r *SchedulingRepo) ActiveStages(ctx context.Context, groupID string) ([]domain.SubGroup, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, group_id, name, assignment_order, start_date_days_offset,
		       start_date_day_of_week, status, created_at, updated_at
		FROM sched_subgroups
		WHERE group_id = $1 AND status = 'active'
		ORDER BY assignment_order
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("active stages: %w", err)
	}
	defer rows.Close()

	var out []domain.SubGroup
	for rows.Next() {
		sg, err := scanSubGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		out = append(out, *sg)
	}
	return out, rows.Err()
}

func (r *SchedulingRepo) StageTemplates(ctx context.Context, subGroupID string) ([]domain.ActionTemplate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, subgroup_id, name, action_type, action_datetime_days_offset,
		       time_of_day_local, subject, body, status, created_at, updated_at
		FROM sched_action_templates
		WHERE subgroup_id = $1 AND status = 'active'
		ORDER BY action_datetime_days_offset, time_of_day_local
	`, subGroupID)
	if err != nil {
		return nil, fmt.Errorf("stage templates: %w", err)
	}
	defer rows.Close()

	var out []domain.ActionTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *SchedulingRepo) CreateGroupAssignment(ctx context.Context, ga *domain.GroupAssignment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sched_group_assignments (id, user_id, group_id, start_date, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
	`, ga.ID, ga.UserID, ga.GroupID, ga.StartDate, ga.Status)
	if uniqueViolation(err, "sched_group_assignments_live_idx") {
		return scheduling.ErrAlreadyEnrolled
	}
	if fkViolation(err) {
		return scheduling.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("create group assignment: %w", err)
	}
	return nil
}

func (r *SchedulingRepo) GetGroupAssignment(ctx context.Context, id string) (*domain.GroupAssignment, error) {
	ga, err := scanGroupAssignment(r.db.QueryRowContext(ctx, `
		SELECT id, user_id, group_id, start_date, status, created_at, updated_at
		FROM sched_group_assignments
		WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, scheduling.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group assignment: %w", err)
	}
	return ga, nil
}

func (r *SchedulingRepo) ListGroupAssignments(ctx context.Context, userID string) ([]domain.GroupAssignment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, group_id, start_date, status, created_at, updated_at
		FROM sched_group_assignments
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list group assignments: %w", err)
	}
	defer rows.Close()

	var out []domain.GroupAssignment
	for rows.Next() {
		ga, err := scanGroupAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group assignment: %w", err)
		}
		out = append(out, *ga)
	}
	return out, rows.Err()
}

func (r *SchedulingRepo) TransitionGroupAssignment(ctx context.Context, id string, from, to domain.GroupAssignmentStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sched_group_assignments SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return fmt.Errorf("transition group assignment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return scheduling.ErrNotFound
	}
	return nil
}

// CancelGroupAssignmentCascade cancels the enrollment, its unfinished stage
// rows, and their undispatched instances in one transaction. Instances go
// first while the stage rows still identify which children belong to
// unfinished stages.
func (r *SchedulingRepo) CancelGroupAssignmentCascade(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cancel cascade: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE sched_group_assignments SET status = 'canceled', updated_at = NOW()
		WHERE id = $1 AND status IN ('active', 'paused')
	`, id)
	if err != nil {
		return fmt.Errorf("cancel enrollment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return scheduling.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sched_action_instances SET status = 'canceled', next_attempt_at = NULL, updated_at = NOW()
		WHERE status IN ('pending', 'enqueued')
		  AND subgroup_assignment_id IN (
		      SELECT id FROM sched_subgroup_assignments
		      WHERE group_assignment_id = $1 AND status IN ('pending', 'active')
		  )
	`, id); err != nil {
		return fmt.Errorf("cancel instances: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sched_subgroup_assignments SET status = 'canceled', updated_at = NOW()
		WHERE group_assignment_id = $1 AND status IN ('pending', 'active')
	`, id); err != nil {
		return fmt.Errorf("cancel stage assignments: %w", err)
	}
	return tx.Commit()
}

// CreateSubGroupAssignments inserts the chain with ON CONFLICT DO NOTHING;
// any row the live-stage index rejects is replaced in the result by the
// surviving row, so re-enrollment after a partial cancel converges instead
// of failing.
func (r *SchedulingRepo) CreateSubGroupAssignments(ctx context.Context, assigns []*domain.SubGroupAssignment) ([]domain.SubGroupAssignment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create stage assignments: %w", err)
	}
	defer tx.Rollback()

	out := make([]domain.SubGroupAssignment, 0, len(assigns))
	for _, a := range assigns {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO sched_subgroup_assignments
				(id, user_id, subgroup_id, group_assignment_id, start_date, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
			ON CONFLICT DO NOTHING
		`, a.ID, a.UserID, a.SubGroupID, a.GroupAssignmentID, a.StartDate, a.Status)
		if err != nil {
			return nil, fmt.Errorf("insert stage assignment: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			inserted, err := scanStageAssignment(tx.QueryRowContext(ctx, `
				SELECT id, user_id, subgroup_id, group_assignment_id, start_date, status, created_at, updated_at
				FROM sched_subgroup_assignments WHERE id = $1
			`, a.ID))
			if err != nil {
				return nil, fmt.Errorf("read back stage assignment: %w", err)
			}
			out = append(out, *inserted)
			continue
		}

		surviving, err := scanStageAssignment(tx.QueryRowContext(ctx, `
			SELECT id, user_id, subgroup_id, group_assignment_id, start_date, status, created_at, updated_at
			FROM sched_subgroup_assignments
			WHERE user_id = $1 AND subgroup_id = $2 AND status <> 'canceled'
		`, a.UserID, a.SubGroupID))
		if err != nil {
			return nil, fmt.Errorf("load surviving stage assignment: %w", err)
		}
		out = append(out, *surviving)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit stage assignments: %w", err)
	}
	return out, nil
}

func (r *SchedulingRepo) ListStageAssignments(ctx context.Context, groupAssignmentID string) ([]domain.SubGroupAssignment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, subgroup_id, group_assignment_id, start_date, status, created_at, updated_at
		FROM sched_subgroup_assignments
		WHERE group_assignment_id = $1
		ORDER BY start_date, created_at
	`, groupAssignmentID)
	if err != nil {
		return nil, fmt.Errorf("list stage assignments: %w", err)
	}
	defer rows.Close()

	var out []domain.SubGroupAssignment
	for rows.Next() {
		sa, err := scanStageAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stage assignment: %w", err)
		}
		out = append(out, *sa)
	}
	return out, rows.Err()
}

func (r *SchedulingRepo) TransitionSubGroupAssignment(ctx context.Context, id string, from, to domain.SubGroupAssignmentStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sched_subgroup_assignments SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return fmt.Errorf("transition stage assignment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return scheduling.ErrNotFound
	}
	return nil
}

func (r *SchedulingRepo) DueStages(ctx context.Context, latest time.Time, limit int) ([]scheduling.DueStage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sa.id, sa.user_id, sa.subgroup_id, sa.group_assignment_id, sa.start_date,
		       sa.status, sa.created_at, sa.updated_at,
		       u.id, u.email, u.first_name, u.last_name, u.timezone, u.created_at, u.updated_at
		FROM sched_subgroup_assignments sa
		JOIN sched_group_assignments ga ON ga.id = sa.group_assignment_id
		JOIN sched_users u ON u.id = sa.user_id
		WHERE sa.status = 'pending' AND sa.start_date <= $1 AND ga.status = 'active'
		ORDER BY sa.start_date
		LIMIT $2
	`, latest, limit)
	if err != nil {
		return nil, fmt.Errorf("due stages: %w", err)
	}
	defer rows.Close()

	var out []scheduling.DueStage
	for rows.Next() {
		var d scheduling.DueStage
		if err := rows.Scan(
			&d.Stage.ID, &d.Stage.UserID, &d.Stage.SubGroupID, &d.Stage.GroupAssignmentID,
			&d.Stage.StartDate, &d.Stage.Status, &d.Stage.CreatedAt, &d.Stage.UpdatedAt,
			&d.User.ID, &d.User.Email, &d.User.FirstName, &d.User.LastName,
			&d.User.Timezone, &d.User.CreatedAt, &d.User.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan due stage: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CreateActionInstances mirrors CreateSubGroupAssignments: the live-instance
// index arbitrates duplicate materialization and the caller gets whichever
// row won.
func (r *SchedulingRepo) CreateActionInstances(ctx context.Context, instances []*domain.ActionInstance) ([]domain.ActionInstance, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create instances: %w", err)
	}
	defer tx.Rollback()

	out := make([]domain.ActionInstance, 0, len(instances))
	for _, inst := range instances {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO sched_action_instances
				(id, user_id, action_template_id, subgroup_assignment_id, action_type,
				 action_datetime, status, attempts, next_attempt_at, last_error, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '', NOW(), NOW())
			ON CONFLICT DO NOTHING
		`, inst.ID, inst.UserID, inst.ActionTemplateID, inst.SubGroupAssignmentID,
			inst.ActionType, inst.ActionDatetime, inst.Status, inst.Attempts, inst.NextAttemptAt)
		if err != nil {
			return nil, fmt.Errorf("insert instance: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			inserted, err := scanInstance(tx.QueryRowContext(ctx, `
				SELECT id, user_id, action_template_id, subgroup_assignment_id, action_type,
				       action_datetime, status, attempts, next_attempt_at, last_error, created_at, updated_at
				FROM sched_action_instances WHERE id = $1
			`, inst.ID))
			if err != nil {
				return nil, fmt.Errorf("read back instance: %w", err)
			}
			out = append(out, *inserted)
			continue
		}

		surviving, err := scanInstance(tx.QueryRowContext(ctx, `
			SELECT id, user_id, action_template_id, subgroup_assignment_id, action_type,
			       action_datetime, status, attempts, next_attempt_at, last_error, created_at, updated_at
			FROM sched_action_instances
			WHERE user_id = $1 AND action_template_id = $2 AND status <> 'canceled'
		`, inst.UserID, inst.ActionTemplateID))
		if err != nil {
			return nil, fmt.Errorf("load surviving instance: %w", err)
		}
		out = append(out, *surviving)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit instances: %w", err)
	}
	return out, nil
}

func (r *SchedulingRepo) UserTimeline(ctx context.Context, userID string) ([]scheduling.TimelineEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT i.id, i.user_id, i.action_template_id, i.subgroup_assignment_id, i.action_type,
		       i.action_datetime, i.status, i.attempts, i.next_attempt_at, i.last_error,
		       i.created_at, i.updated_at,
		       r.id, r.provider, r.correlation_id, r.enqueued_at, r.scheduled_at,
		       r.sent_at, r.delivered_at, r.opened_at, r.clicked_at, r.failed_at,
		       r.failure_reason, r.created_at, r.updated_at
		FROM sched_action_instances i
		LEFT JOIN sched_delivery_records r ON r.action_instance_id = i.id
		WHERE i.user_id = $1
		ORDER BY i.action_datetime, i.created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("user timeline: %w", err)
	}
	defer rows.Close()

	var out []scheduling.TimelineEntry
	for rows.Next() {
		var e scheduling.TimelineEntry
		var next sql.NullTime
		var recID, recProvider, recCorr, recReason sql.NullString
		var recEnqueued, recScheduled, recSent, recDelivered, recOpened, recClicked, recFailed sql.NullTime
		var recCreated, recUpdated sql.NullTime
		if err := rows.Scan(
			&e.Instance.ID, &e.Instance.UserID, &e.Instance.ActionTemplateID,
			&e.Instance.SubGroupAssignmentID, &e.Instance.ActionType, &e.Instance.ActionDatetime,
			&e.Instance.Status, &e.Instance.Attempts, &next, &e.Instance.LastError,
			&e.Instance.CreatedAt, &e.Instance.UpdatedAt,
			&recID, &recProvider, &recCorr, &recEnqueued, &recScheduled,
			&recSent, &recDelivered, &recOpened, &recClicked, &recFailed,
			&recReason, &recCreated, &recUpdated,
		); err != nil {
			return nil, fmt.Errorf("scan timeline entry: %w", err)
		}
		if next.Valid {
			t := next.Time
			e.Instance.NextAttemptAt = &t
		}
		if recID.Valid {
			e.Delivery = &domain.DeliveryRecord{
				ID:               recID.String,
				ActionInstanceID: e.Instance.ID,
				Provider:         recProvider.String,
				CorrelationID:    recCorr.String,
				EnqueuedAt:       recEnqueued.Time,
				ScheduledAt:      recScheduled.Time,
				SentAt:           nullTimePtr(recSent),
				DeliveredAt:      nullTimePtr(recDelivered),
				OpenedAt:         nullTimePtr(recOpened),
				ClickedAt:        nullTimePtr(recClicked),
				FailedAt:         nullTimePtr(recFailed),
				FailureReason:    recReason.String,
				CreatedAt:        recCreated.Time,
				UpdatedAt:        recUpdated.Time,
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SchedulingRepo) ClaimDueDisplays(ctx context.Context, userID string, now time.Time) ([]domain.ActionInstance, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE sched_action_instances
		SET status = 'displayed', updated_at = NOW()
		WHERE id IN (
		    SELECT id FROM sched_action_instances
		    WHERE user_id = $1 AND action_type = 'display_information'
		      AND status = 'pending' AND action_datetime <= $2
		    FOR UPDATE SKIP LOCKED
		)
		RETURNING id, user_id, action_template_id, subgroup_assignment_id, action_type,
		          action_datetime, status, attempts, next_attempt_at, last_error, created_at, updated_at
	`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("claim due displays: %w", err)
	}
	defer rows.Close()

	var out []domain.ActionInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed display: %w", err)
		}
		out = append(out, *inst)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// UPDATE ... RETURNING has no defined row order.
	sort.Slice(out, func(i, j int) bool { return out[i].ActionDatetime.Before(out[j].ActionDatetime) })
	return out, nil
}

func (r *SchedulingRepo) CompletableStages(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sa.id
		FROM sched_subgroup_assignments sa
		JOIN sched_subgroups own ON own.id = sa.subgroup_id
		WHERE sa.status = 'active'
		  AND (
		      NOT EXISTS (
		          SELECT 1 FROM sched_action_instances i
		          WHERE i.subgroup_assignment_id = sa.id
		            AND i.status IN ('pending', 'enqueued')
		      )
		      OR EXISTS (
		          SELECT 1
		          FROM sched_subgroup_assignments sib
		          JOIN sched_subgroups sg ON sg.id = sib.subgroup_id
		          WHERE sib.group_assignment_id = sa.group_assignment_id
		            AND sib.id <> sa.id
		            AND sib.status IN ('active', 'completed')
		            AND sg.assignment_order > own.assignment_order
		      )
		  )
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("completable stages: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (r *SchedulingRepo) CompletableEnrollments(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ga.id
		FROM sched_group_assignments ga
		WHERE ga.status = 'active'
		  AND EXISTS (
		      SELECT 1 FROM sched_subgroup_assignments sa
		      WHERE sa.group_assignment_id = ga.id AND sa.status <> 'canceled'
		  )
		  AND NOT EXISTS (
		      SELECT 1 FROM sched_subgroup_assignments sa
		      WHERE sa.group_assignment_id = ga.id
		        AND sa.status NOT IN ('completed', 'canceled')
		  )
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("completable enrollments: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func scanUser(s rowScanner) (*domain.User, error) {
	u := &domain.User{}
	if err := s.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Timezone,
		&u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return u, nil
}

func scanGroupAssignment(s rowScanner) (*domain.GroupAssignment, error) {
	ga := &domain.GroupAssignment{}
	if err := s.Scan(&ga.ID, &ga.UserID, &ga.GroupID, &ga.StartDate, &ga.Status,
		&ga.CreatedAt, &ga.UpdatedAt); err != nil {
		return nil, err
	}
	return ga, nil
}

func scanStageAssignment(s rowScanner) (*domain.SubGroupAssignment, error) {
	sa := &domain.SubGroupAssignment{}
	if err := s.Scan(&sa.ID, &sa.UserID, &sa.SubGroupID, &sa.GroupAssignmentID,
		&sa.StartDate, &sa.Status, &sa.CreatedAt, &sa.UpdatedAt); err != nil {
		return nil, err
	}
	return sa, nil
}

func scanInstance(s rowScanner) (*domain.ActionInstance, error) {
	inst := &domain.ActionInstance{}
	var next sql.NullTime
	if err := s.Scan(&inst.ID, &inst.UserID, &inst.ActionTemplateID, &inst.SubGroupAssignmentID,
		&inst.ActionType, &inst.ActionDatetime, &inst.Status, &inst.Attempts,
		&next, &inst.LastError, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
		return nil, err
	}
	if next.Valid {
		t := next.Time
		inst.NextAttemptAt = &t
	}
	return inst, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	cp := t.Time
	return &cp
}
