package memory

import (
	"context"
	"sort"
	"time"

	"github.com/meridian/cohort-scheduler/internal/domain"
	"github.com/meridian/cohort-scheduler/internal/service/delivery"
)

var _ delivery.Repository = (*Store)(nil)

// ClaimDue claims due send_message instances under active enrollments,
// pushing each claimed row's next attempt time out by lease.
func (s *Store) ClaimDue(_ context.Context, now time.Time, lease time.Duration, limit int) ([]delivery.DispatchItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*domain.ActionInstance
	for _, inst := range s.instances {
		if inst.ActionType != domain.ActionSendMessage ||
			inst.Status != domain.ActionPending ||
			inst.NextAttemptAt == nil ||
			inst.NextAttemptAt.After(now) {
			continue
		}
		stage, ok := s.stages[inst.SubGroupAssignmentID]
		if !ok {
			continue
		}
		ga, ok := s.enrollments[stage.GroupAssignmentID]
		if !ok || ga.Status != domain.GroupAssignmentActive {
			continue
		}
		candidates = append(candidates, inst)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].NextAttemptAt.Before(*candidates[j].NextAttemptAt)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	items := make([]delivery.DispatchItem, 0, len(candidates))
	for _, inst := range candidates {
		u, ok := s.users[inst.UserID]
		if !ok {
			continue
		}
		t, ok := s.templates[inst.ActionTemplateID]
		if !ok {
			continue
		}

		leased := now.Add(lease)
		inst.NextAttemptAt = &leased
		inst.UpdatedAt = nowUTC()

		cp := *inst
		items = append(items, delivery.DispatchItem{Instance: cp, User: *u, Template: *t})
	}
	return items, nil
}

// MarkEnqueued flips a pending instance to enqueued and stores its
// delivery record in one locked span.
func (s *Store) MarkEnqueued(_ context.Context, instanceID string, attempts int, rec *domain.DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[instanceID]
	if !ok || inst.Status != domain.ActionPending {
		return delivery.ErrNotFound
	}
	inst.Status = domain.ActionEnqueued
	inst.Attempts = attempts
	inst.NextAttemptAt = nil
	inst.LastError = ""
	inst.UpdatedAt = nowUTC()

	cp := *rec
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = nowUTC()
	}
	cp.UpdatedAt = cp.CreatedAt
	s.records[cp.ID] = &cp
	return nil
}

// ScheduleRetry records a failed attempt and reschedules the instance.
func (s *Store) ScheduleRetry(_ context.Context, instanceID string, attempts int, nextAttemptAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[instanceID]
	if !ok || inst.Status != domain.ActionPending {
		return delivery.ErrNotFound
	}
	inst.Attempts = attempts
	inst.NextAttemptAt = &nextAttemptAt
	inst.LastError = lastError
	inst.UpdatedAt = nowUTC()
	return nil
}

// MarkFailedToEnqueue moves a pending instance to its terminal failure.
func (s *Store) MarkFailedToEnqueue(_ context.Context, instanceID string, attempts int, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[instanceID]
	if !ok || inst.Status != domain.ActionPending {
		return delivery.ErrNotFound
	}
	inst.Status = domain.ActionFailedToEnqueue
	inst.Attempts = attempts
	inst.NextAttemptAt = nil
	inst.LastError = lastError
	inst.UpdatedAt = nowUTC()
	return nil
}

// GetInstance returns an action instance by id.
func (s *Store) GetInstance(_ context.Context, id string) (*domain.ActionInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, delivery.ErrNotFound
	}
	cp := *inst
	return &cp, nil
}

// TransitionInstance compare-and-sets an instance status.
func (s *Store) TransitionInstance(_ context.Context, id string, from, to domain.ActionInstanceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok || inst.Status != from {
		return delivery.ErrNotFound
	}
	inst.Status = to
	if to == domain.ActionCanceled {
		inst.NextAttemptAt = nil
	}
	inst.UpdatedAt = nowUTC()
	return nil
}

// SupersedeInstance cancels a failed instance and inserts its replacement
// in one locked span.
func (s *Store) SupersedeInstance(_ context.Context, oldID string, replacement *domain.ActionInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.instances[oldID]
	if !ok || (old.Status != domain.ActionFailedToEnqueue && old.Status != domain.ActionFailedToSend) {
		return delivery.ErrNotFound
	}
	old.Status = domain.ActionCanceled
	old.NextAttemptAt = nil
	old.UpdatedAt = nowUTC()

	cp := *replacement
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = nowUTC()
	}
	cp.UpdatedAt = cp.CreatedAt
	s.instances[cp.ID] = &cp
	return nil
}

// RecordByCorrelation returns the delivery record carrying a provider
// correlation id.
func (s *Store) RecordByCorrelation(_ context.Context, provider, correlationID string) (*domain.DeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		if rec.Provider == provider && rec.CorrelationID == correlationID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, delivery.ErrNotFound
}

// RecordEventTimestamp stamps the record column for the event type, first
// occurrence wins.
func (s *Store) RecordEventTimestamp(_ context.Context, recordID string, event domain.DeliveryEventType, at time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recordID]
	if !ok {
		return delivery.ErrNotFound
	}

	set := func(dst **time.Time) {
		if *dst == nil {
			cp := at
			*dst = &cp
		}
	}
	switch event {
	case domain.DeliveryEventSent:
		set(&rec.SentAt)
	case domain.DeliveryEventDelivered:
		set(&rec.DeliveredAt)
	case domain.DeliveryEventOpened:
		set(&rec.OpenedAt)
	case domain.DeliveryEventClicked:
		set(&rec.ClickedAt)
	case domain.DeliveryEventFailed:
		set(&rec.FailedAt)
		if rec.FailureReason == "" {
			rec.FailureReason = reason
		}
	}
	rec.UpdatedAt = nowUTC()
	return nil
}

// StageEvent appends a provider event to the staging log.
func (s *Store) StageEvent(_ context.Context, ev *domain.DeliveryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.eventSeq++
	cp := *ev
	cp.ID = s.eventSeq
	if cp.ReceivedAt.IsZero() {
		cp.ReceivedAt = nowUTC()
	}
	s.events = append(s.events, &cp)
	return nil
}

// UnprocessedEvents returns staged events not yet applied, oldest first.
func (s *Store) UnprocessedEvents(_ context.Context, limit int) ([]domain.DeliveryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.DeliveryEvent
	for _, ev := range s.events {
		if ev.Processed {
			continue
		}
		out = append(out, *ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MarkEventProcessed flags a staged event as applied.
func (s *Store) MarkEventProcessed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range s.events {
		if ev.ID == id {
			now := nowUTC()
			ev.Processed = true
			ev.ProcessedAt = &now
			return nil
		}
	}
	return delivery.ErrNotFound
}

// InstancesByStatus returns instances in the given status, oldest first.
func (s *Store) InstancesByStatus(_ context.Context, status domain.ActionInstanceStatus, limit int) ([]domain.ActionInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ActionInstance
	for _, inst := range s.instances {
		if inst.Status == status {
			out = append(out, *inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
