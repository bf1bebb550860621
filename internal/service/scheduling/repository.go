package scheduling

import (
	"context"
	"time"

	"github.com/meridian/cohort-scheduler/internal/domain"
)

// DueStage is a pending stage assignment joined with its user, produced by
// the activation sweep query. StartDate has already passed the coarse UTC
// bound; the service re-checks it against the user's local calendar day.
type DueStage struct {
	Stage domain.SubGroupAssignment
	User  domain.User
}

// TimelineEntry is one action instance on a user's timeline, joined with
// its delivery record when one exists.
type TimelineEntry struct {
	Instance domain.ActionInstance  `json:"instance"`
	Delivery *domain.DeliveryRecord `json:"delivery,omitempty"`
}

// Repository is the persistence boundary for the scheduling service.
type Repository interface {
	// CreateUser persists a new user. Returns ErrEmailTaken when the
	// email address is already registered.
	CreateUser(ctx context.Context, u *domain.User) error

	// GetUser returns a user by ID, or ErrNotFound.
	GetUser(ctx context.Context, id string) (*domain.User, error)

	// UpdateUserTimezone changes a user's timezone. Returns ErrNotFound
	// when the user does not exist. Existing action instances keep their
	// already-computed instants; only future materialization sees the
	// new zone.
	UpdateUserTimezone(ctx context.Context, id, timezone string) error

	// ActiveGroup returns the single active group with the given name,
	// or ErrNotFound.
	ActiveGroup(ctx context.Context, name string) (*domain.Group, error)

	// ActiveStages returns the active subgroups of a group ordered by
	// assignment order ascending.
	ActiveStages(ctx context.Context, groupID string) ([]domain.SubGroup, error)

	// StageTemplates returns the active action templates of a subgroup
	// ordered by day offset ascending.
	StageTemplates(ctx context.Context, subGroupID string) ([]domain.ActionTemplate, error)

	// CreateGroupAssignment persists a new enrollment. Returns
	// ErrAlreadyEnrolled when the user already holds an active or paused
	// enrollment in the same group.
	CreateGroupAssignment(ctx context.Context, ga *domain.GroupAssignment) error

	// GetGroupAssignment returns an enrollment by ID, or ErrNotFound.
	GetGroupAssignment(ctx context.Context, id string) (*domain.GroupAssignment, error)

	// ListGroupAssignments returns all of a user's enrollments, newest
	// first.
	ListGroupAssignments(ctx context.Context, userID string) ([]domain.GroupAssignment, error)

	// TransitionGroupAssignment moves an enrollment from one status to
	// another as a single compare-and-set. Returns ErrNotFound when no
	// row with the given ID currently holds the from status.
	TransitionGroupAssignment(ctx context.Context, id string, from, to domain.GroupAssignmentStatus) error

	// CancelGroupAssignmentCascade cancels an enrollment together with
	// its pending and active stage assignments and their pending and
	// enqueued action instances, in one transaction. Completed and
	// terminal children are left untouched. Returns ErrNotFound when the
	// enrollment is not active or paused.
	CancelGroupAssignmentCascade(ctx context.Context, id string) error

	// CreateSubGroupAssignments persists a resolved stage chain in one
	// transaction. Rows that collide with an existing non-canceled
	// assignment for the same user and subgroup are skipped and the
	// existing row is returned in their place, so the result always
	// reflects what the store actually holds.
	CreateSubGroupAssignments(ctx context.Context, assigns []*domain.SubGroupAssignment) ([]domain.SubGroupAssignment, error)

	// ListStageAssignments returns the stage assignments of an enrollment
	// ordered by start date ascending.
	ListStageAssignments(ctx context.Context, groupAssignmentID string) ([]domain.SubGroupAssignment, error)

	// TransitionSubGroupAssignment moves a stage assignment from one
	// status to another as a single compare-and-set. Returns ErrNotFound
	// when no row with the given ID currently holds the from status.
	TransitionSubGroupAssignment(ctx context.Context, id string, from, to domain.SubGroupAssignmentStatus) error

	// DueStages returns pending stage assignments with a start date at or
	// before latest whose parent enrollment is active, each joined with
	// its user, oldest start date first.
	DueStages(ctx context.Context, latest time.Time, limit int) ([]DueStage, error)

	// CreateActionInstances persists materialized instances in one
	// transaction. Rows that collide with an existing non-canceled
	// instance for the same user and template are skipped and the
	// existing row is returned in their place.
	CreateActionInstances(ctx context.Context, instances []*domain.ActionInstance) ([]domain.ActionInstance, error)

	// UserTimeline returns every action instance for a user ordered by
	// action datetime ascending, joined with delivery records where they
	// exist.
	UserTimeline(ctx context.Context, userID string) ([]TimelineEntry, error)

	// ClaimDueDisplays atomically marks the user's pending display
	// instances whose action datetime is at or before now as displayed
	// and returns them. A concurrent reader never receives the same
	// instance twice.
	ClaimDueDisplays(ctx context.Context, userID string, now time.Time) ([]domain.ActionInstance, error)

	// CompletableStages returns IDs of active stage assignments whose
	// work is finished: every instance is done (not pending or enqueued)
	// or a later-ordered sibling stage has already started.
	CompletableStages(ctx context.Context, limit int) ([]string, error)

	// CompletableEnrollments returns IDs of active enrollments whose
	// non-canceled stage assignments are all completed.
	CompletableEnrollments(ctx context.Context, limit int) ([]string, error)
}
