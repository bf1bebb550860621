package catalog

import (
	"context"

	"github.com/meridian/cohort-scheduler/internal/domain"
)

// Repository abstracts hierarchy storage. Uniqueness rules (one active
// group per name, one assignment order per active group) are store-level
// constraints; implementations surface violations as ErrNameTaken and
// ErrOrderTaken rather than racing check-then-insert.
type Repository interface {
	// CreateGroup inserts a new group version. Returns ErrNameTaken when an
	// active group with the same name exists.
	CreateGroup(ctx context.Context, g *domain.Group) error

	// GetGroup returns any group version by id, active or not.
	GetGroup(ctx context.Context, id string) (*domain.Group, error)

	// ActiveGroupByName returns the single active version of a named group.
	ActiveGroupByName(ctx context.Context, name string) (*domain.Group, error)

	// SupersedeGroup atomically inserts the replacement version and marks
	// the old version inactive with a back-reference to the new one.
	SupersedeGroup(ctx context.Context, oldID string, replacement *domain.Group) error

	// ListGroupVersions returns every version of a named group, newest
	// first.
	ListGroupVersions(ctx context.Context, name string) ([]domain.Group, error)

	// CreateSubGroup inserts a subgroup. Returns ErrOrderTaken when the
	// assignment order is already used by an active subgroup of the group.
	CreateSubGroup(ctx context.Context, sg *domain.SubGroup) error

	// GetSubGroup returns a subgroup by id.
	GetSubGroup(ctx context.Context, id string) (*domain.SubGroup, error)

	// ListActiveSubGroups returns the active subgroups of a group ordered
	// by assignment_order ascending.
	ListActiveSubGroups(ctx context.Context, groupID string) ([]domain.SubGroup, error)

	// DeactivateSubGroup marks a subgroup inactive.
	DeactivateSubGroup(ctx context.Context, id string) error

	// CreateActionTemplate inserts a template.
	CreateActionTemplate(ctx context.Context, t *domain.ActionTemplate) error

	// GetActionTemplate returns a template by id.
	GetActionTemplate(ctx context.Context, id string) (*domain.ActionTemplate, error)

	// ListActiveTemplates returns the active templates of a subgroup
	// ordered by action_datetime_days_offset ascending.
	ListActiveTemplates(ctx context.Context, subGroupID string) ([]domain.ActionTemplate, error)

	// DeactivateActionTemplate marks a template inactive.
	DeactivateActionTemplate(ctx context.Context, id string) error
}
