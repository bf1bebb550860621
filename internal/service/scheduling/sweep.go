package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/meridian/cohort-scheduler/internal/daterule"
	"github.com/meridian/cohort-scheduler/internal/domain"
	"github.com/meridian/cohort-scheduler/internal/pkg/logger"
)

// ActivateDue flips pending stage assignments whose start date has arrived
// in their user's timezone to active and materializes their instances.
// Returns the number of stages activated in this pass.
//
// The store query uses a coarse UTC bound one day ahead so no zone on
// earth is missed; the per-user local date check here is the real gate.
// The pending-to-active flip is a compare-and-set, so overlapping sweeps
// activate each stage once; materialization is idempotent regardless.
func (s *Service) ActivateDue(ctx context.Context, limit int) (int, error) {
	now := s.now()
	latest := daterule.DateOnly(now.UTC()).AddDate(0, 0, 1)

	due, err := s.repo.DueStages(ctx, latest, limit)
	if err != nil {
		return 0, fmt.Errorf("list due stages: %w", err)
	}

	activated := 0
	for i := range due {
		stage := due[i].Stage
		user := due[i].User

		today := s.todayIn(now, user.Timezone)
		if stage.StartDate.After(today) {
			continue // not yet today in the user's zone
		}

		err := s.repo.TransitionSubGroupAssignment(ctx, stage.ID,
			domain.SubGroupAssignmentPending, domain.SubGroupAssignmentActive)
		if errors.Is(err, ErrNotFound) {
			continue // another sweep won the flip, or the stage was canceled
		}
		if err != nil {
			return activated, fmt.Errorf("activate stage %s: %w", stage.ID, err)
		}

		stage.Status = domain.SubGroupAssignmentActive
		created, err := s.Materialize(ctx, &user, &stage)
		if err != nil {
			// The stage is active but its instances did not land; surface
			// loudly. Uniqueness makes a manual re-materialization safe.
			logger.Error("materialization failed after activation",
				"subgroup_assignment_id", stage.ID,
				"user_id", user.ID,
				"error", err.Error())
			continue
		}

		activated++
		logger.Info("stage activated",
			"subgroup_assignment_id", stage.ID,
			"user_id", user.ID,
			"start_date", stage.StartDate.Format("2006-01-02"),
			"instances", len(created))
	}
	return activated, nil
}

// AuditCompletions promotes finished work to completed: first active stage
// assignments with no outstanding instances (or an already-started later
// sibling), then active enrollments whose stages are all done. Returns the
// counts promoted in this pass.
func (s *Service) AuditCompletions(ctx context.Context, limit int) (stages, enrollments int, err error) {
	stageIDs, err := s.repo.CompletableStages(ctx, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("list completable stages: %w", err)
	}
	for _, id := range stageIDs {
		err := s.repo.TransitionSubGroupAssignment(ctx, id,
			domain.SubGroupAssignmentActive, domain.SubGroupAssignmentCompleted)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return stages, 0, fmt.Errorf("complete stage %s: %w", id, err)
		}
		stages++
	}

	enrollIDs, err := s.repo.CompletableEnrollments(ctx, limit)
	if err != nil {
		return stages, 0, fmt.Errorf("list completable enrollments: %w", err)
	}
	for _, id := range enrollIDs {
		err := s.repo.TransitionGroupAssignment(ctx, id,
			domain.GroupAssignmentActive, domain.GroupAssignmentCompleted)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return stages, enrollments, fmt.Errorf("complete enrollment %s: %w", id, err)
		}
		enrollments++
	}

	if stages > 0 || enrollments > 0 {
		logger.Info("completion audit pass", "stages_completed", stages, "enrollments_completed", enrollments)
	}
	return stages, enrollments, nil
}
