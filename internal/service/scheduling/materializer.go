package scheduling

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/meridian/cohort-scheduler/internal/daterule"
	"github.com/meridian/cohort-scheduler/internal/domain"
	"github.com/meridian/cohort-scheduler/internal/pkg/logger"
	"github.com/meridian/cohort-scheduler/internal/pkg/tzlocal"
)

// Materialize turns the stage's active templates into per-user action
// instances pinned to absolute instants in the user's timezone.
//
// A template that cannot be materialized (bad offset, missing message
// content, unresolvable zone) is logged and skipped; its siblings still
// materialize. Collisions with existing non-canceled instances for the
// same user and template are benign and resolve to the existing row.
func (s *Service) Materialize(ctx context.Context, user *domain.User, stage *domain.SubGroupAssignment) ([]domain.ActionInstance, error) {
	templates, err := s.repo.StageTemplates(ctx, stage.SubGroupID)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	now := s.now().UTC()
	start := daterule.DateOnly(stage.StartDate)
	instances := make([]*domain.ActionInstance, 0, len(templates))
	for i := range templates {
		t := &templates[i]
		if err := materializable(t); err != nil {
			logger.Warn("skipping template",
				"template_id", t.ID,
				"template", t.Name,
				"user_id", user.ID,
				"reason", err.Error())
			continue
		}

		localDate := start.AddDate(0, 0, t.ActionDatetimeDaysOffset)
		at, err := tzlocal.Instant(localDate, t.TimeOfDayLocal.Hour, t.TimeOfDayLocal.Minute, user.Timezone)
		if err != nil {
			// A bad zone blocks this instance only, never the stage.
			logger.Error("timezone resolution failed, skipping instance",
				"user_id", user.ID,
				"template_id", t.ID,
				"timezone", user.Timezone,
				"error", err.Error())
			continue
		}

		inst := &domain.ActionInstance{
			ID:                   uuid.New().String(),
			UserID:               user.ID,
			ActionTemplateID:     t.ID,
			SubGroupAssignmentID: stage.ID,
			ActionType:           t.ActionType,
			ActionDatetime:       at,
			Status:               domain.ActionPending,
			CreatedAt:            now,
		}
		if t.ActionType == domain.ActionSendMessage {
			next := at
			inst.NextAttemptAt = &next
		}
		instances = append(instances, inst)
	}

	created, err := s.repo.CreateActionInstances(ctx, instances)
	if err != nil {
		return nil, fmt.Errorf("persist instances: %w", err)
	}
	return created, nil
}

// materializable rejects templates that cannot produce a valid instance.
// The catalog validates these at authoring time; this guard covers rows
// written before a rule existed.
func materializable(t *domain.ActionTemplate) error {
	if t.ActionDatetimeDaysOffset < 0 {
		return fmt.Errorf("negative day offset %d", t.ActionDatetimeDaysOffset)
	}
	if t.ActionType == domain.ActionSendMessage && (t.Subject == "" || t.Body == "") {
		return fmt.Errorf("send_message template missing subject or body")
	}
	return nil
}
