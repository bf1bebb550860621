package domain

import "time"

// GroupStatus enumerates the lifecycle states of a group version.
type GroupStatus string

const (
	GroupActive   GroupStatus = "active"
	GroupInactive GroupStatus = "inactive"
)

// Group is one immutable version of a named cohort. Only one version per
// name may be active. Superseding a group inserts a new row and marks the
// old one inactive with a back-reference; existing rows are never edited,
// so users enrolled under an old version keep its display text.
type Group struct {
	ID           string      `json:"id" db:"id"`
	Name         string      `json:"name" db:"name"`
	DisplayName  string      `json:"display_name" db:"display_name"`
	Description  string      `json:"description" db:"description"`
	Version      int         `json:"version" db:"version"`
	Status       GroupStatus `json:"status" db:"status"`
	SupersededBy *string     `json:"superseded_by" db:"superseded_by"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
}

// SubGroupStatus enumerates the lifecycle states of a subgroup.
type SubGroupStatus string

const (
	SubGroupActive   SubGroupStatus = "active"
	SubGroupInactive SubGroupStatus = "inactive"
)

// SubGroup is an ordered stage within a group ("Week 2"). AssignmentOrder
// defines the resolution sequence and must be positive and unique among the
// active subgroups of a group. StartDateDaysOffset counts from the previous
// stage's resolved start date (or the enrollment start for the first
// stage); StartDateDayOfWeek optionally snaps the result forward to a
// weekday (time.Weekday numbering, Sunday=0).
type SubGroup struct {
	ID                  string         `json:"id" db:"id"`
	GroupID             string         `json:"group_id" db:"group_id"`
	Name                string         `json:"name" db:"name"`
	AssignmentOrder     int            `json:"assignment_order" db:"assignment_order"`
	StartDateDaysOffset int            `json:"start_date_days_offset" db:"start_date_days_offset"`
	StartDateDayOfWeek  *time.Weekday  `json:"start_date_day_of_week" db:"start_date_day_of_week"`
	Status              SubGroupStatus `json:"status" db:"status"`
	CreatedAt           time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at" db:"updated_at"`
}
