package scheduling

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/meridian/cohort-scheduler/internal/daterule"
	"github.com/meridian/cohort-scheduler/internal/domain"
)

// Resolve walks the group's active stage chain in assignment order and
// creates one stage assignment per stage. Each stage's start date derives
// from the previous stage's resolved start (the enrollment start date for
// the first stage), so a weekday snap on one stage shifts everything after
// it. Stages whose start date has already arrived in the user's zone are
// created active; the rest are created pending for the activation sweep.
//
// Validation failures abort the whole pass with ErrValidation before any
// row is written. Collisions with existing non-canceled stage assignments
// are benign: the surviving rows come back in the returned chain.
func (s *Service) Resolve(ctx context.Context, user *domain.User, ga *domain.GroupAssignment) ([]domain.SubGroupAssignment, error) {
	stages, err := s.repo.ActiveStages(ctx, ga.GroupID)
	if err != nil {
		return nil, fmt.Errorf("load stages: %w", err)
	}
	if err := validateChainOrder(stages); err != nil {
		return nil, err
	}

	now := s.now()
	today := s.todayIn(now, user.Timezone)

	anchor := daterule.DateOnly(ga.StartDate)
	assigns := make([]*domain.SubGroupAssignment, 0, len(stages))
	for i := range stages {
		sg := &stages[i]
		start, err := daterule.Resolve(anchor, sg.StartDateDaysOffset, sg.StartDateDayOfWeek)
		if err != nil {
			return nil, fmt.Errorf("%w: subgroup %s (order %d): %v", ErrValidation, sg.ID, sg.AssignmentOrder, err)
		}

		status := domain.SubGroupAssignmentPending
		if !start.After(today) {
			status = domain.SubGroupAssignmentActive
		}
		assigns = append(assigns, &domain.SubGroupAssignment{
			ID:                uuid.New().String(),
			UserID:            user.ID,
			SubGroupID:        sg.ID,
			GroupAssignmentID: ga.ID,
			StartDate:         start,
			Status:            status,
			CreatedAt:         now.UTC(),
		})

		// The next stage counts from this stage's resolved start, not
		// from its raw offset, so snaps compound down the chain.
		anchor = start
	}

	created, err := s.repo.CreateSubGroupAssignments(ctx, assigns)
	if err != nil {
		return nil, fmt.Errorf("persist stage chain: %w", err)
	}
	return created, nil
}

// validateChainOrder rejects chains with non-positive or duplicate
// assignment orders before anything is written.
func validateChainOrder(stages []domain.SubGroup) error {
	seen := make(map[int]string, len(stages))
	for _, sg := range stages {
		if sg.AssignmentOrder <= 0 {
			return fmt.Errorf("%w: subgroup %s has non-positive assignment order %d", ErrValidation, sg.ID, sg.AssignmentOrder)
		}
		if prev, dup := seen[sg.AssignmentOrder]; dup {
			return fmt.Errorf("%w: subgroups %s and %s share assignment order %d", ErrValidation, prev, sg.ID, sg.AssignmentOrder)
		}
		seen[sg.AssignmentOrder] = sg.ID
	}
	return nil
}
