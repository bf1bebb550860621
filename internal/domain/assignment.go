package domain

import "time"

// GroupAssignmentStatus enumerates the lifecycle states of an enrollment.
type GroupAssignmentStatus string

const (
	GroupAssignmentActive    GroupAssignmentStatus = "active"
	GroupAssignmentPaused    GroupAssignmentStatus = "paused"
	GroupAssignmentCompleted GroupAssignmentStatus = "completed"
	GroupAssignmentCanceled  GroupAssignmentStatus = "canceled"
)

// GroupAssignment is a user's enrollment in a group. At most one assignment
// per (user, group) may be active or paused at a time; that invariant is a
// partial unique index in the store, not an application check.
//
// StartDate is a civil date stored at midnight UTC. It anchors the first
// subgroup's start date computation.
type GroupAssignment struct {
	ID        string                `json:"id" db:"id"`
	UserID    string                `json:"user_id" db:"user_id"`
	GroupID   string                `json:"group_id" db:"group_id"`
	StartDate time.Time             `json:"start_date" db:"start_date"`
	Status    GroupAssignmentStatus `json:"status" db:"status"`
	CreatedAt time.Time             `json:"created_at" db:"created_at"`
	UpdatedAt time.Time             `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the enrollment is in a final state.
func (a *GroupAssignment) IsTerminal() bool {
	return a.Status == GroupAssignmentCompleted || a.Status == GroupAssignmentCanceled
}

// SubGroupAssignmentStatus enumerates the lifecycle states of a stage
// assignment.
type SubGroupAssignmentStatus string

const (
	SubGroupAssignmentPending   SubGroupAssignmentStatus = "pending"
	SubGroupAssignmentActive    SubGroupAssignmentStatus = "active"
	SubGroupAssignmentCompleted SubGroupAssignmentStatus = "completed"
	SubGroupAssignmentCanceled  SubGroupAssignmentStatus = "canceled"
)

// SubGroupAssignment is a user's resolved instance of one stage, carrying
// the start date computed by the resolver. At most one non-canceled row per
// (user, subgroup) exists at a time; a canceled row frees the slot.
type SubGroupAssignment struct {
	ID                string                   `json:"id" db:"id"`
	UserID            string                   `json:"user_id" db:"user_id"`
	SubGroupID        string                   `json:"subgroup_id" db:"subgroup_id"`
	GroupAssignmentID string                   `json:"group_assignment_id" db:"group_assignment_id"`
	StartDate         time.Time                `json:"start_date" db:"start_date"`
	Status            SubGroupAssignmentStatus `json:"status" db:"status"`
	CreatedAt         time.Time                `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time                `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the stage assignment is in a final state.
func (a *SubGroupAssignment) IsTerminal() bool {
	return a.Status == SubGroupAssignmentCompleted || a.Status == SubGroupAssignmentCanceled
}
