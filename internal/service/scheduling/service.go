package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridian/cohort-scheduler/internal/daterule"
	"github.com/meridian/cohort-scheduler/internal/domain"
	"github.com/meridian/cohort-scheduler/internal/pkg/logger"
)

// Service coordinates enrollments, stage resolution, instance
// materialization, and the activation and completion sweeps.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a scheduling service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

// SetClock replaces the service's time source. Intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// CreateUserInput carries the fields needed to register a user.
type CreateUserInput struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Timezone  string `json:"timezone"`
}

// CreateUser registers a new user after validating the email and timezone.
func (s *Service) CreateUser(ctx context.Context, input CreateUserInput) (*domain.User, error) {
	email := strings.TrimSpace(strings.ToLower(input.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email %q", ErrValidation, input.Email)
	}
	if input.Timezone == "" {
		input.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(input.Timezone); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, input.Timezone)
	}

	user := &domain.User{
		ID:        uuid.New().String(),
		Email:     email,
		FirstName: strings.TrimSpace(input.FirstName),
		LastName:  strings.TrimSpace(input.LastName),
		Timezone:  input.Timezone,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	logger.Info("user created", "user_id", user.ID, "timezone", user.Timezone)
	return user, nil
}

// GetUser returns a user by ID.
func (s *Service) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return s.repo.GetUser(ctx, id)
}

// UpdateUserTimezone changes a user's timezone after validating it against
// the IANA database. Instances already materialized keep their instants.
func (s *Service) UpdateUserTimezone(ctx context.Context, id, timezone string) error {
	if _, err := time.LoadLocation(timezone); err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownTimezone, timezone)
	}
	if err := s.repo.UpdateUserTimezone(ctx, id, timezone); err != nil {
		return fmt.Errorf("update timezone: %w", err)
	}
	logger.Info("user timezone updated", "user_id", id, "timezone", timezone)
	return nil
}

// EnrollInput carries the fields needed to enroll a user into a group.
// StartDate anchors the first stage; only its calendar date is used.
type EnrollInput struct {
	UserID    string    `json:"user_id"`
	GroupName string    `json:"group_name"`
	StartDate time.Time `json:"start_date"`
}

// Enrollment is the result of a successful enroll call: the enrollment
// row, the resolved stage chain, and the instances materialized for the
// stages that started immediately.
type Enrollment struct {
	Assignment domain.GroupAssignment      `json:"assignment"`
	Stages     []domain.SubGroupAssignment `json:"stages"`
	Instances  []domain.ActionInstance     `json:"instances"`
}

// Enroll creates an enrollment for the user in the named group's active
// version, resolves the full stage chain, and materializes instances for
// every stage whose start date has already arrived in the user's zone.
// Returns ErrAlreadyEnrolled when the user holds an active or paused
// enrollment in the same group.
func (s *Service) Enroll(ctx context.Context, input EnrollInput) (*Enrollment, error) {
	if input.UserID == "" || input.GroupName == "" {
		return nil, fmt.Errorf("%w: user_id and group_name are required", ErrValidation)
	}
	if input.StartDate.IsZero() {
		return nil, fmt.Errorf("%w: start_date is required", ErrValidation)
	}

	user, err := s.repo.GetUser(ctx, input.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	group, err := s.repo.ActiveGroup(ctx, input.GroupName)
	if err != nil {
		return nil, fmt.Errorf("load group %q: %w", input.GroupName, err)
	}

	ga := &domain.GroupAssignment{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		GroupID:   group.ID,
		StartDate: daterule.DateOnly(input.StartDate),
		Status:    domain.GroupAssignmentActive,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.CreateGroupAssignment(ctx, ga); err != nil {
		return nil, fmt.Errorf("create enrollment: %w", err)
	}

	stages, err := s.Resolve(ctx, user, ga)
	if err != nil {
		// No stage rows were written. Cancel the enrollment so the user
		// is not stuck holding a live row that blocks re-enrolling once
		// the chain is fixed.
		if cerr := s.repo.TransitionGroupAssignment(ctx, ga.ID,
			domain.GroupAssignmentActive, domain.GroupAssignmentCanceled); cerr != nil {
			logger.Error("failed to roll back enrollment after resolution failure",
				"group_assignment_id", ga.ID, "error", cerr.Error())
		}
		return nil, fmt.Errorf("resolve stages for enrollment %s: %w", ga.ID, err)
	}

	var instances []domain.ActionInstance
	for i := range stages {
		if stages[i].Status != domain.SubGroupAssignmentActive {
			continue
		}
		created, err := s.Materialize(ctx, user, &stages[i])
		if err != nil {
			return nil, fmt.Errorf("materialize stage %s: %w", stages[i].ID, err)
		}
		instances = append(instances, created...)
	}

	logger.Info("user enrolled",
		"user_id", user.ID,
		"group", group.Name,
		"group_version", group.Version,
		"stages", len(stages),
		"instances", len(instances))

	return &Enrollment{Assignment: *ga, Stages: stages, Instances: instances}, nil
}

// GetAssignment returns an enrollment by ID.
func (s *Service) GetAssignment(ctx context.Context, id string) (*domain.GroupAssignment, error) {
	return s.repo.GetGroupAssignment(ctx, id)
}

// Assignments returns all enrollments for a user, newest first.
func (s *Service) Assignments(ctx context.Context, userID string) ([]domain.GroupAssignment, error) {
	return s.repo.ListGroupAssignments(ctx, userID)
}

// StageAssignments returns the stage chain of an enrollment ordered by
// start date.
func (s *Service) StageAssignments(ctx context.Context, groupAssignmentID string) ([]domain.SubGroupAssignment, error) {
	return s.repo.ListStageAssignments(ctx, groupAssignmentID)
}

// Pause suspends an active enrollment. Stage and instance rows keep their
// statuses; the activation sweep and dispatcher both skip work whose
// enrollment is not active.
func (s *Service) Pause(ctx context.Context, id string) (*domain.GroupAssignment, error) {
	return s.transitionAssignment(ctx, id, domain.GroupAssignmentPaused)
}

// Resume reactivates a paused enrollment. Stages whose start date passed
// while paused are picked up by the next activation sweep.
func (s *Service) Resume(ctx context.Context, id string) (*domain.GroupAssignment, error) {
	return s.transitionAssignment(ctx, id, domain.GroupAssignmentActive)
}

// Cancel terminates an enrollment and cascades to its unfinished children:
// pending and active stage assignments are canceled, along with their
// pending and enqueued instances. Completed work is left as history.
func (s *Service) Cancel(ctx context.Context, id string) error {
	ga, err := s.repo.GetGroupAssignment(ctx, id)
	if err != nil {
		return err
	}
	if !domain.CanTransitionGroupAssignment(ga.Status, domain.GroupAssignmentCanceled) {
		return fmt.Errorf("%w: enrollment %s is %s", ErrInvalidTransition, id, ga.Status)
	}
	if err := s.repo.CancelGroupAssignmentCascade(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: enrollment %s changed state concurrently", ErrInvalidTransition, id)
		}
		return fmt.Errorf("cancel enrollment %s: %w", id, err)
	}
	logger.Info("enrollment canceled", "group_assignment_id", id, "user_id", ga.UserID)
	return nil
}

func (s *Service) transitionAssignment(ctx context.Context, id string, to domain.GroupAssignmentStatus) (*domain.GroupAssignment, error) {
	ga, err := s.repo.GetGroupAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransitionGroupAssignment(ga.Status, to) {
		return nil, fmt.Errorf("%w: enrollment %s is %s, cannot become %s", ErrInvalidTransition, id, ga.Status, to)
	}
	if err := s.repo.TransitionGroupAssignment(ctx, id, ga.Status, to); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: enrollment %s changed state concurrently", ErrInvalidTransition, id)
		}
		return nil, fmt.Errorf("transition enrollment %s: %w", id, err)
	}
	ga.Status = to
	logger.Info("enrollment transitioned", "group_assignment_id", id, "status", to)
	return ga, nil
}

// Timeline returns every action instance for a user in action datetime
// order, joined with delivery records where present.
func (s *Service) Timeline(ctx context.Context, userID string) ([]TimelineEntry, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.repo.UserTimeline(ctx, userID)
}

// DueDisplays returns the user's display instances whose time has arrived,
// marking each displayed so repeat polls do not surface it again.
func (s *Service) DueDisplays(ctx context.Context, userID string) ([]domain.ActionInstance, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.repo.ClaimDueDisplays(ctx, userID, s.now().UTC())
}

// todayIn returns the civil date of now in the named zone. Falls back to
// the UTC date when the zone cannot be loaded so sweeps keep moving.
func (s *Service) todayIn(now time.Time, zone string) time.Time {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		logger.Warn("unresolvable timezone, using UTC calendar day", "timezone", zone)
		return daterule.DateOnly(now.UTC())
	}
	return daterule.DateOnly(now.In(loc))
}
