package memory

import (
	"context"
	"sort"
	"time"

	"github.com/meridian/cohort-scheduler/internal/domain"
	"github.com/meridian/cohort-scheduler/internal/service/scheduling"
)

var _ scheduling.Repository = (*Store)(nil)

// CreateUser inserts a user, rejecting duplicate email addresses.
func (s *Store) CreateUser(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == u.Email {
			return scheduling.ErrEmailTaken
		}
	}
	cp := *u
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = nowUTC()
	}
	cp.UpdatedAt = cp.CreatedAt
	s.users[cp.ID] = &cp
	return nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, scheduling.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// UpdateUserTimezone changes a user's timezone.
func (s *Store) UpdateUserTimezone(_ context.Context, id, timezone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return scheduling.ErrNotFound
	}
	u.Timezone = timezone
	u.UpdatedAt = nowUTC()
	return nil
}

// ActiveGroup returns the active version of a named group.
func (s *Store) ActiveGroup(_ context.Context, name string) (*domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, err := s.activeGroupLocked(name)
	if err != nil {
		return nil, scheduling.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

// ActiveStages returns a group's active subgroups in assignment order.
func (s *Store) ActiveStages(_ context.Context, groupID string) ([]domain.SubGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeSubGroupsLocked(groupID), nil
}

// StageTemplates returns a subgroup's active templates in offset order.
func (s *Store) StageTemplates(_ context.Context, subGroupID string) ([]domain.ActionTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeTemplatesLocked(subGroupID), nil
}

// CreateGroupAssignment inserts an enrollment, rejecting a second live one
// for the same user and group.
func (s *Store) CreateGroupAssignment(_ context.Context, ga *domain.GroupAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.enrollments {
		if existing.UserID == ga.UserID && existing.GroupID == ga.GroupID &&
			(existing.Status == domain.GroupAssignmentActive || existing.Status == domain.GroupAssignmentPaused) {
			return scheduling.ErrAlreadyEnrolled
		}
	}
	cp := *ga
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = nowUTC()
	}
	cp.UpdatedAt = cp.CreatedAt
	s.enrollments[cp.ID] = &cp
	return nil
}

// GetGroupAssignment returns an enrollment by id.
func (s *Store) GetGroupAssignment(_ context.Context, id string) (*domain.GroupAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ga, ok := s.enrollments[id]
	if !ok {
		return nil, scheduling.ErrNotFound
	}
	cp := *ga
	return &cp, nil
}

// ListGroupAssignments returns a user's enrollments, newest first.
func (s *Store) ListGroupAssignments(_ context.Context, userID string) ([]domain.GroupAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.GroupAssignment
	for _, ga := range s.enrollments {
		if ga.UserID == userID {
			out = append(out, *ga)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// TransitionGroupAssignment compare-and-sets an enrollment status.
func (s *Store) TransitionGroupAssignment(_ context.Context, id string, from, to domain.GroupAssignmentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ga, ok := s.enrollments[id]
	if !ok || ga.Status != from {
		return scheduling.ErrNotFound
	}
	ga.Status = to
	ga.UpdatedAt = nowUTC()
	return nil
}

// CancelGroupAssignmentCascade cancels an enrollment and its unfinished
// children in one locked span.
func (s *Store) CancelGroupAssignmentCascade(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ga, ok := s.enrollments[id]
	if !ok || (ga.Status != domain.GroupAssignmentActive && ga.Status != domain.GroupAssignmentPaused) {
		return scheduling.ErrNotFound
	}

	now := nowUTC()
	ga.Status = domain.GroupAssignmentCanceled
	ga.UpdatedAt = now

	for _, stage := range s.stages {
		if stage.GroupAssignmentID != id {
			continue
		}
		if stage.Status != domain.SubGroupAssignmentPending && stage.Status != domain.SubGroupAssignmentActive {
			continue
		}
		stage.Status = domain.SubGroupAssignmentCanceled
		stage.UpdatedAt = now

		for _, inst := range s.instances {
			if inst.SubGroupAssignmentID != stage.ID {
				continue
			}
			if inst.Status != domain.ActionPending && inst.Status != domain.ActionEnqueued {
				continue
			}
			inst.Status = domain.ActionCanceled
			inst.NextAttemptAt = nil
			inst.UpdatedAt = now
		}
	}
	return nil
}

// CreateSubGroupAssignments inserts a stage chain, keeping any existing
// non-canceled row per (user, subgroup) in place of the new one.
func (s *Store) CreateSubGroupAssignments(_ context.Context, assigns []*domain.SubGroupAssignment) ([]domain.SubGroupAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.SubGroupAssignment, 0, len(assigns))
	for _, a := range assigns {
		if existing := s.liveStageLocked(a.UserID, a.SubGroupID); existing != nil {
			out = append(out, *existing)
			continue
		}
		cp := *a
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = nowUTC()
		}
		cp.UpdatedAt = cp.CreatedAt
		s.stages[cp.ID] = &cp
		out = append(out, cp)
	}
	return out, nil
}

func (s *Store) liveStageLocked(userID, subGroupID string) *domain.SubGroupAssignment {
	for _, st := range s.stages {
		if st.UserID == userID && st.SubGroupID == subGroupID && st.Status != domain.SubGroupAssignmentCanceled {
			return st
		}
	}
	return nil
}

// ListStageAssignments returns an enrollment's stages by start date.
func (s *Store) ListStageAssignments(_ context.Context, groupAssignmentID string) ([]domain.SubGroupAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.SubGroupAssignment
	for _, st := range s.stages {
		if st.GroupAssignmentID == groupAssignmentID {
			out = append(out, *st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.Before(out[j].StartDate)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// TransitionSubGroupAssignment compare-and-sets a stage status.
func (s *Store) TransitionSubGroupAssignment(_ context.Context, id string, from, to domain.SubGroupAssignmentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stages[id]
	if !ok || st.Status != from {
		return scheduling.ErrNotFound
	}
	st.Status = to
	st.UpdatedAt = nowUTC()
	return nil
}

// DueStages returns pending stages due by latest under an active
// enrollment, joined with their users.
func (s *Store) DueStages(_ context.Context, latest time.Time, limit int) ([]scheduling.DueStage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []scheduling.DueStage
	for _, st := range s.stages {
		if st.Status != domain.SubGroupAssignmentPending || st.StartDate.After(latest) {
			continue
		}
		ga, ok := s.enrollments[st.GroupAssignmentID]
		if !ok || ga.Status != domain.GroupAssignmentActive {
			continue
		}
		u, ok := s.users[st.UserID]
		if !ok {
			continue
		}
		out = append(out, scheduling.DueStage{Stage: *st, User: *u})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage.StartDate.Before(out[j].Stage.StartDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateActionInstances inserts materialized instances, keeping any
// existing non-canceled row per (user, template) in place of the new one.
func (s *Store) CreateActionInstances(_ context.Context, instances []*domain.ActionInstance) ([]domain.ActionInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.ActionInstance, 0, len(instances))
	for _, inst := range instances {
		if existing := s.liveInstanceLocked(inst.UserID, inst.ActionTemplateID); existing != nil {
			out = append(out, *existing)
			continue
		}
		cp := *inst
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = nowUTC()
		}
		cp.UpdatedAt = cp.CreatedAt
		s.instances[cp.ID] = &cp
		out = append(out, cp)
	}
	return out, nil
}

func (s *Store) liveInstanceLocked(userID, templateID string) *domain.ActionInstance {
	for _, inst := range s.instances {
		if inst.UserID == userID && inst.ActionTemplateID == templateID && inst.Status != domain.ActionCanceled {
			return inst
		}
	}
	return nil
}

// UserTimeline returns a user's instances by action time, joined with
// delivery records.
func (s *Store) UserTimeline(_ context.Context, userID string) ([]scheduling.TimelineEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []scheduling.TimelineEntry
	for _, inst := range s.instances {
		if inst.UserID != userID {
			continue
		}
		entry := scheduling.TimelineEntry{Instance: *inst}
		for _, rec := range s.records {
			if rec.ActionInstanceID == inst.ID {
				cp := *rec
				entry.Delivery = &cp
				break
			}
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Instance.ActionDatetime.Equal(out[j].Instance.ActionDatetime) {
			return out[i].Instance.ActionDatetime.Before(out[j].Instance.ActionDatetime)
		}
		return out[i].Instance.CreatedAt.Before(out[j].Instance.CreatedAt)
	})
	return out, nil
}

// ClaimDueDisplays flips the user's due pending display instances to
// displayed and returns them.
func (s *Store) ClaimDueDisplays(_ context.Context, userID string, now time.Time) ([]domain.ActionInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ActionInstance
	for _, inst := range s.instances {
		if inst.UserID != userID ||
			inst.ActionType != domain.ActionDisplayInformation ||
			inst.Status != domain.ActionPending ||
			inst.ActionDatetime.After(now) {
			continue
		}
		inst.Status = domain.ActionDisplayed
		inst.UpdatedAt = nowUTC()
		out = append(out, *inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActionDatetime.Before(out[j].ActionDatetime) })
	return out, nil
}

// CompletableStages returns active stages with no outstanding work or an
// already-started later sibling.
func (s *Store) CompletableStages(_ context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for id, st := range s.stages {
		if st.Status != domain.SubGroupAssignmentActive {
			continue
		}
		if s.stageWorkDoneLocked(st) || s.laterSiblingStartedLocked(st) {
			out = append(out, id)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) stageWorkDoneLocked(st *domain.SubGroupAssignment) bool {
	for _, inst := range s.instances {
		if inst.SubGroupAssignmentID != st.ID {
			continue
		}
		if !inst.IsDone() {
			return false
		}
	}
	return true
}

func (s *Store) laterSiblingStartedLocked(st *domain.SubGroupAssignment) bool {
	self, ok := s.subgroups[st.SubGroupID]
	if !ok {
		return false
	}
	for _, sibling := range s.stages {
		if sibling.GroupAssignmentID != st.GroupAssignmentID || sibling.ID == st.ID {
			continue
		}
		if sibling.Status != domain.SubGroupAssignmentActive && sibling.Status != domain.SubGroupAssignmentCompleted {
			continue
		}
		sg, ok := s.subgroups[sibling.SubGroupID]
		if ok && sg.AssignmentOrder > self.AssignmentOrder {
			return true
		}
	}
	return false
}

// CompletableEnrollments returns active enrollments whose non-canceled
// stages all completed. An enrollment with no stages at all is left alone.
func (s *Store) CompletableEnrollments(_ context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for id, ga := range s.enrollments {
		if ga.Status != domain.GroupAssignmentActive {
			continue
		}
		total, completed := 0, 0
		for _, st := range s.stages {
			if st.GroupAssignmentID != id || st.Status == domain.SubGroupAssignmentCanceled {
				continue
			}
			total++
			if st.Status == domain.SubGroupAssignmentCompleted {
				completed++
			}
		}
		if total > 0 && total == completed {
			out = append(out, id)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	sort.Strings(out)
	return out, nil
}
