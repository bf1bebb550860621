package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/meridian/cohort-scheduler/internal/domain"
	"github.com/meridian/cohort-scheduler/internal/service/catalog"
)

// CatalogRepo implements catalog.Repository against PostgreSQL.
type CatalogRepo struct{ db *sql.DB }

var _ catalog.Repository = (*CatalogRepo)(nil)

// NewCatalogRepo creates a Postgres-backed catalog repository.
func NewCatalogRepo(db *sql.DB) *CatalogRepo { return &CatalogRepo{db: db} }

func (r *CatalogRepo) CreateGroup(ctx context.Context, g *domain.Group) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sched_groups
			(id, name, display_name, description, version, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	`, g.ID, g.Name, g.DisplayName, g.Description, g.Version, g.Status)
	if uniqueViolation(err, "sched_groups_active_name_idx") {
		return catalog.ErrNameTaken
	}
	if err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	return nil
}

func (r *CatalogRepo) GetGroup(ctx context.Context, id string) (*domain.Group, error) {
	g, err := scanGroup(r.db.QueryRowContext(ctx, `
		SELECT id, name, display_name, description, version, status, superseded_by,
		       created_at, updated_at
		FROM sched_groups
		WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	return g, nil
}

func (r *CatalogRepo) ActiveGroupByName(ctx context.Context, name string) (*domain.Group, error) {
	g, err := scanGroup(r.db.QueryRowContext(ctx, `
		SELECT id, name, display_name, description, version, status, superseded_by,
		       created_at, updated_at
		FROM sched_groups
		WHERE name = $1 AND status = 'active'
	`, name))
	if err == sql.ErrNoRows {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("active group by name: %w", err)
	}
	return g, nil
}

// SupersedeGroup retires the old version before inserting the replacement;
// the reverse order would trip the one-active-name index.
func (r *CatalogRepo) SupersedeGroup(ctx context.Context, oldID string, replacement *domain.Group) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin supersede: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE sched_groups
		SET status = 'inactive', superseded_by = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'active'
	`, replacement.ID, oldID)
	if err != nil {
		return fmt.Errorf("retire group version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return catalog.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sched_groups
			(id, name, display_name, description, version, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	`, replacement.ID, replacement.Name, replacement.DisplayName, replacement.Description,
		replacement.Version, replacement.Status); err != nil {
		return fmt.Errorf("insert replacement version: %w", err)
	}
	return tx.Commit()
}

func (r *CatalogRepo) ListGroupVersions(ctx context.Context, name string) ([]domain.Group, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, display_name, description, version, status, superseded_by,
		       created_at, updated_at
		FROM sched_groups
		WHERE name = $1
		ORDER BY version DESC
	`, name)
	if err != nil {
		return nil, fmt.Errorf("list group versions: %w", err)
	}
	defer rows.Close()

	var out []domain.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func (r *CatalogRepo) CreateSubGroup(ctx context.Context, sg *domain.SubGroup) error {
	var dow interface{}
	if sg.StartDateDayOfWeek != nil {
		dow = int(*sg.StartDateDayOfWeek)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sched_subgroups
			(id, group_id, name, assignment_order, start_date_days_offset,
			 start_date_day_of_week, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`, sg.ID, sg.GroupID, sg.Name, sg.AssignmentOrder, sg.StartDateDaysOffset, dow, sg.Status)
	if uniqueViolation(err, "sched_subgroups_active_order_idx") {
		return catalog.ErrOrderTaken
	}
	if fkViolation(err) {
		return catalog.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("create subgroup: %w", err)
	}
	return nil
}

func (r *CatalogRepo) GetSubGroup(ctx context.Context, id string) (*domain.SubGroup, error) {
	sg, err := scanSubGroup(r.db.QueryRowContext(ctx, `
		SELECT id, group_id, name, assignment_order, start_date_days_offset,
		       start_date_day_of_week, status, created_at, updated_at
		FROM sched_subgroups
		WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subgroup: %w", err)
	}
	return sg, nil
}

func (r *CatalogRepo) ListActiveSubGroups(ctx context.Context, groupID string) ([]domain.SubGroup, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, group_id, name, assignment_order, start_date_days_offset,
		       start_date_day_of_week, status, created_at, updated_at
		FROM sched_subgroups
		WHERE group_id = $1 AND status = 'active'
		ORDER BY assignment_order
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list subgroups: %w", err)
	}
	defer rows.Close()

	var out []domain.SubGroup
	for rows.Next() {
		sg, err := scanSubGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subgroup: %w", err)
		}
		out = append(out, *sg)
	}
	return out, rows.Err()
}

func (r *CatalogRepo) DeactivateSubGroup(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sched_subgroups SET status = 'inactive', updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("deactivate subgroup: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (r *CatalogRepo) CreateActionTemplate(ctx context.Context, t *domain.ActionTemplate) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sched_action_templates
			(id, subgroup_id, name, action_type, action_datetime_days_offset,
			 time_of_day_local, subject, body, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	`, t.ID, t.SubGroupID, t.Name, t.ActionType, t.ActionDatetimeDaysOffset,
		t.TimeOfDayLocal.String(), t.Subject, t.Body, t.Status)
	if fkViolation(err) {
		return catalog.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("create action template: %w", err)
	}
	return nil
}

func (r *CatalogRepo) GetActionTemplate(ctx context.Context, id string) (*domain.ActionTemplate, error) {
	t, err := scanTemplate(r.db.QueryRowContext(ctx, `
		SELECT id, subgroup_id, name, action_type, action_datetime_days_offset,
		       time_of_day_local, subject, body, status, created_at, updated_at
		FROM sched_action_templates
		WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get action template: %w", err)
	}
	return t, nil
}

func (r *CatalogRepo) ListActiveTemplates(ctx context.Context, subGroupID string) ([]domain.ActionTemplate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, subgroup_id, name, action_type, action_datetime_days_offset,
		       time_of_day_local, subject, body, status, created_at, updated_at
		FROM sched_action_templates
		WHERE subgroup_id = $1 AND status = 'active'
		ORDER BY action_datetime_days_offset, time_of_day_local
	`, subGroupID)
	if err != nil {
		return nil, fmt.Errorf("list action templates: %w", err)
	}
	defer rows.Close()

	var out []domain.ActionTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action template: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *CatalogRepo) DeactivateActionTemplate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sched_action_templates SET status = 'inactive', updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("deactivate action template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func scanGroup(s rowScanner) (*domain.Group, error) {
	g := &domain.Group{}
	var superseded sql.NullString
	if err := s.Scan(&g.ID, &g.Name, &g.DisplayName, &g.Description, &g.Version,
		&g.Status, &superseded, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	if superseded.Valid {
		g.SupersededBy = &superseded.String
	}
	return g, nil
}

func scanSubGroup(s rowScanner) (*domain.SubGroup, error) {
	sg := &domain.SubGroup{}
	var dow sql.NullInt64
	if err := s.Scan(&sg.ID, &sg.GroupID, &sg.Name, &sg.AssignmentOrder,
		&sg.StartDateDaysOffset, &dow, &sg.Status, &sg.CreatedAt, &sg.UpdatedAt); err != nil {
		return nil, err
	}
	if dow.Valid {
		wd := time.Weekday(dow.Int64)
		sg.StartDateDayOfWeek = &wd
	}
	return sg, nil
}

func scanTemplate(s rowScanner) (*domain.ActionTemplate, error) {
	t := &domain.ActionTemplate{}
	var tod string
	if err := s.Scan(&t.ID, &t.SubGroupID, &t.Name, &t.ActionType,
		&t.ActionDatetimeDaysOffset, &tod, &t.Subject, &t.Body, &t.Status,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	parsed, err := domain.ParseTimeOfDay(tod)
	if err != nil {
		return nil, fmt.Errorf("stored time_of_day_local %q: %w", tod, err)
	}
	t.TimeOfDayLocal = parsed
	return t, nil
}
