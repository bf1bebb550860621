package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridian/cohort-scheduler/internal/domain"
)

// Service implements hierarchy authoring and read access. All public
// methods are safe for concurrent use if the underlying repository is
// concurrency-safe.
type Service struct {
	repo Repository
}

// NewService creates a catalog service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// GroupInput carries the author-supplied fields of a group version.
type GroupInput struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
}

// SubGroupInput carries the author-supplied fields of a subgroup.
type SubGroupInput struct {
	GroupID             string `json:"group_id"`
	Name                string `json:"name"`
	AssignmentOrder     int    `json:"assignment_order"`
	StartDateDaysOffset int    `json:"start_date_days_offset"`
	StartDateDayOfWeek  *int   `json:"start_date_day_of_week"`
}

// TemplateInput carries the author-supplied fields of an action template.
type TemplateInput struct {
	SubGroupID               string `json:"subgroup_id"`
	Name                     string `json:"name"`
	ActionType               string `json:"action_type"`
	ActionDatetimeDaysOffset int    `json:"action_datetime_days_offset"`
	TimeOfDayLocal           string `json:"time_of_day_local"`
	Subject                  string `json:"subject"`
	Body                     string `json:"body"`
}

// CreateGroup validates and inserts version 1 of a new group.
func (s *Service) CreateGroup(ctx context.Context, input GroupInput) (*domain.Group, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if input.DisplayName == "" {
		input.DisplayName = input.Name
	}

	g := &domain.Group{
		ID:          uuid.New().String(),
		Name:        input.Name,
		DisplayName: input.DisplayName,
		Description: input.Description,
		Version:     1,
		Status:      domain.GroupActive,
	}
	if err := s.repo.CreateGroup(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// SupersedeGroup replaces the active version of a named group with a new
// one. The old row is never edited beyond status and the back-reference;
// users enrolled under it keep its display text.
func (s *Service) SupersedeGroup(ctx context.Context, name string, input GroupInput) (*domain.Group, error) {
	old, err := s.repo.ActiveGroupByName(ctx, name)
	if err != nil {
		return nil, err
	}

	if input.DisplayName == "" {
		input.DisplayName = old.DisplayName
	}
	replacement := &domain.Group{
		ID:          uuid.New().String(),
		Name:        old.Name,
		DisplayName: input.DisplayName,
		Description: input.Description,
		Version:     old.Version + 1,
		Status:      domain.GroupActive,
	}
	if err := s.repo.SupersedeGroup(ctx, old.ID, replacement); err != nil {
		return nil, err
	}
	return replacement, nil
}

// GetGroup returns any group version by id.
func (s *Service) GetGroup(ctx context.Context, id string) (*domain.Group, error) {
	return s.repo.GetGroup(ctx, id)
}

// ActiveGroupByName returns the single active version of a named group.
func (s *Service) ActiveGroupByName(ctx context.Context, name string) (*domain.Group, error) {
	return s.repo.ActiveGroupByName(ctx, name)
}

// ListGroupVersions returns every version of a named group, newest first.
func (s *Service) ListGroupVersions(ctx context.Context, name string) ([]domain.Group, error) {
	return s.repo.ListGroupVersions(ctx, name)
}

// AddSubGroup validates and inserts a subgroup into a group.
func (s *Service) AddSubGroup(ctx context.Context, input SubGroupInput) (*domain.SubGroup, error) {
	if input.GroupID == "" {
		return nil, fmt.Errorf("%w: group_id is required", ErrValidation)
	}
	if input.AssignmentOrder <= 0 {
		return nil, fmt.Errorf("%w: assignment_order must be positive", ErrValidation)
	}
	if input.StartDateDaysOffset < 0 {
		return nil, fmt.Errorf("%w: start_date_days_offset must not be negative", ErrValidation)
	}
	var dow *time.Weekday
	if input.StartDateDayOfWeek != nil {
		d := *input.StartDateDayOfWeek
		if d < 0 || d > 6 {
			return nil, fmt.Errorf("%w: start_date_day_of_week must be 0 (Sunday) through 6 (Saturday)", ErrValidation)
		}
		wd := time.Weekday(d)
		dow = &wd
	}

	if _, err := s.repo.GetGroup(ctx, input.GroupID); err != nil {
		return nil, err
	}

	sg := &domain.SubGroup{
		ID:                  uuid.New().String(),
		GroupID:             input.GroupID,
		Name:                input.Name,
		AssignmentOrder:     input.AssignmentOrder,
		StartDateDaysOffset: input.StartDateDaysOffset,
		StartDateDayOfWeek:  dow,
		Status:              domain.SubGroupActive,
	}
	if err := s.repo.CreateSubGroup(ctx, sg); err != nil {
		return nil, err
	}
	return sg, nil
}

// ListActiveSubGroups returns the active stages of a group in resolution
// order.
func (s *Service) ListActiveSubGroups(ctx context.Context, groupID string) ([]domain.SubGroup, error) {
	return s.repo.ListActiveSubGroups(ctx, groupID)
}

// DeactivateSubGroup retires a stage. Existing assignments are untouched;
// the resolver simply stops seeing it.
func (s *Service) DeactivateSubGroup(ctx context.Context, id string) error {
	return s.repo.DeactivateSubGroup(ctx, id)
}

// AddActionTemplate validates and inserts a template into a subgroup.
// send_message templates must carry both subject and body.
func (s *Service) AddActionTemplate(ctx context.Context, input TemplateInput) (*domain.ActionTemplate, error) {
	if input.SubGroupID == "" {
		return nil, fmt.Errorf("%w: subgroup_id is required", ErrValidation)
	}
	actionType := domain.ActionType(input.ActionType)
	if actionType != domain.ActionDisplayInformation && actionType != domain.ActionSendMessage {
		return nil, fmt.Errorf("%w: unknown action_type %q", ErrValidation, input.ActionType)
	}
	if input.ActionDatetimeDaysOffset < 0 {
		return nil, fmt.Errorf("%w: action_datetime_days_offset must not be negative", ErrValidation)
	}
	tod, err := domain.ParseTimeOfDay(input.TimeOfDayLocal)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if actionType == domain.ActionSendMessage && (input.Subject == "" || input.Body == "") {
		return nil, fmt.Errorf("%w: send_message templates require subject and body", ErrValidation)
	}

	if _, err := s.repo.GetSubGroup(ctx, input.SubGroupID); err != nil {
		return nil, err
	}

	t := &domain.ActionTemplate{
		ID:                       uuid.New().String(),
		SubGroupID:               input.SubGroupID,
		Name:                     input.Name,
		ActionType:               actionType,
		ActionDatetimeDaysOffset: input.ActionDatetimeDaysOffset,
		TimeOfDayLocal:           tod,
		Subject:                  input.Subject,
		Body:                     input.Body,
		Status:                   domain.ActionTemplateActive,
	}
	if err := s.repo.CreateActionTemplate(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ListActiveTemplates returns the active templates of a subgroup ordered by
// day offset.
func (s *Service) ListActiveTemplates(ctx context.Context, subGroupID string) ([]domain.ActionTemplate, error) {
	return s.repo.ListActiveTemplates(ctx, subGroupID)
}

// DeactivateActionTemplate retires a template. Instances already
// materialized from it are untouched.
func (s *Service) DeactivateActionTemplate(ctx context.Context, id string) error {
	return s.repo.DeactivateActionTemplate(ctx, id)
}
