package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridian/cohort-scheduler/internal/domain"
	"github.com/meridian/cohort-scheduler/internal/pkg/logger"
	"github.com/meridian/cohort-scheduler/internal/provider"
)

// Renderer substitutes user variables into template subject and body text.
type Renderer interface {
	Render(tpl string, vars map[string]interface{}) (string, error)
}

// SenderIdentity is stamped on every outgoing message.
type SenderIdentity struct {
	FromEmail string
	FromName  string
	ReplyTo   string
}

// Config tunes the dispatch retry policy.
type Config struct {
	Sender      SenderIdentity
	MaxAttempts int           // enqueue attempts before failed_to_enqueue
	RetryBase   time.Duration // first retry delay; doubles per attempt
	RetryMax    time.Duration // backoff cap
	ClaimLease  time.Duration // how long a claimed row is invisible to other dispatchers
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 30 * time.Second
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 15 * time.Minute
	}
	if c.ClaimLease <= 0 {
		c.ClaimLease = 2 * time.Minute
	}
}

// Outcome reports what a single dispatch did, for worker stats.
type Outcome string

const (
	OutcomeEnqueued       Outcome = "enqueued"
	OutcomeRetryScheduled Outcome = "retry_scheduled"
	OutcomeFailed         Outcome = "failed_to_enqueue"
	OutcomeSkipped        Outcome = "skipped"
)

// Service coordinates message dispatch and provider event reconciliation.
type Service struct {
	repo     Repository
	provider provider.Provider
	renderer Renderer
	cfg      Config
	now      func() time.Time
}

// NewService creates a delivery service. Zero-valued Config fields fall
// back to production defaults.
func NewService(repo Repository, prov provider.Provider, renderer Renderer, cfg Config) *Service {
	cfg.applyDefaults()
	return &Service{
		repo:     repo,
		provider: prov,
		renderer: renderer,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock replaces the service's time source. Intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// ClaimDue leases up to limit due send_message instances for this
// dispatcher. Claimed rows stay invisible to other dispatchers for the
// configured lease.
func (s *Service) ClaimDue(ctx context.Context, limit int) ([]DispatchItem, error) {
	return s.repo.ClaimDue(ctx, s.now().UTC(), s.cfg.ClaimLease, limit)
}

// Dispatch renders and hands one claimed instance to the provider.
//
// Provider failure below the attempt ceiling schedules a retry with
// jittered exponential backoff; at the ceiling the instance goes terminal
// failed_to_enqueue. Success flips the instance to enqueued and writes the
// delivery record carrying the provider correlation id in one transaction.
// The returned error is reserved for store failures; provider failures are
// policy, reported through the Outcome.
func (s *Service) Dispatch(ctx context.Context, item DispatchItem) (Outcome, error) {
	subject, body := s.renderContent(item)

	corrID, provErr := s.provider.Schedule(ctx, provider.Message{
		To:          item.User.Email,
		ToName:      item.User.FirstName + " " + item.User.LastName,
		FromEmail:   s.cfg.Sender.FromEmail,
		FromName:    s.cfg.Sender.FromName,
		ReplyTo:     s.cfg.Sender.ReplyTo,
		Subject:     subject,
		BodyHTML:    body,
		ScheduledAt: item.Instance.ActionDatetime,
	})

	now := s.now().UTC()
	if provErr != nil {
		attempts := item.Instance.Attempts + 1
		if attempts >= s.cfg.MaxAttempts {
			if err := s.repo.MarkFailedToEnqueue(ctx, item.Instance.ID, attempts, provErr.Error()); err != nil && !errors.Is(err, ErrNotFound) {
				return "", fmt.Errorf("mark failed_to_enqueue %s: %w", item.Instance.ID, err)
			}
			logger.Error("enqueue failed permanently",
				"action_instance_id", item.Instance.ID,
				"attempts", attempts,
				"error", provErr.Error())
			return OutcomeFailed, nil
		}

		next := now.Add(retryDelay(attempts, s.cfg.RetryBase, s.cfg.RetryMax))
		if err := s.repo.ScheduleRetry(ctx, item.Instance.ID, attempts, next, provErr.Error()); err != nil && !errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("schedule retry %s: %w", item.Instance.ID, err)
		}
		logger.Warn("enqueue failed, retry scheduled",
			"action_instance_id", item.Instance.ID,
			"attempt", attempts,
			"next_attempt_at", next.Format(time.RFC3339),
			"error", provErr.Error())
		return OutcomeRetryScheduled, nil
	}

	rec := &domain.DeliveryRecord{
		ID:               uuid.New().String(),
		ActionInstanceID: item.Instance.ID,
		Provider:         s.provider.Name(),
		CorrelationID:    corrID,
		EnqueuedAt:       now,
		ScheduledAt:      item.Instance.ActionDatetime,
		CreatedAt:        now,
	}
	if err := s.repo.MarkEnqueued(ctx, item.Instance.ID, item.Instance.Attempts+1, rec); err != nil {
		if errors.Is(err, ErrNotFound) {
			// The instance left pending while the provider call was in
			// flight (canceled). The provider-side message is orphaned;
			// log it so an operator can suppress it upstream.
			logger.Warn("instance changed state mid-dispatch, provider message orphaned",
				"action_instance_id", item.Instance.ID,
				"correlation_id", corrID)
			return OutcomeSkipped, nil
		}
		return "", fmt.Errorf("mark enqueued %s: %w", item.Instance.ID, err)
	}
	return OutcomeEnqueued, nil
}

// renderContent substitutes recipient variables into the template. Render
// failures fall back to the raw template text: a broken variable must not
// cost the user the message.
func (s *Service) renderContent(item DispatchItem) (subject, body string) {
	vars := templateVars(item)

	subject, err := s.renderer.Render(item.Template.Subject, vars)
	if err != nil {
		logger.Warn("subject render failed, using raw template",
			"template_id", item.Template.ID, "error", err.Error())
		subject = item.Template.Subject
	}
	body, err = s.renderer.Render(item.Template.Body, vars)
	if err != nil {
		logger.Warn("body render failed, using raw template",
			"template_id", item.Template.ID, "error", err.Error())
		body = item.Template.Body
	}
	return subject, body
}

func templateVars(item DispatchItem) map[string]interface{} {
	when := item.Instance.ActionDatetime
	if loc, err := time.LoadLocation(item.User.Timezone); err == nil {
		when = when.In(loc)
	}
	return map[string]interface{}{
		"first_name":  item.User.FirstName,
		"last_name":   item.User.LastName,
		"email":       item.User.Email,
		"action_name": item.Template.Name,
		"action_date": when.Format("January 2, 2006"),
		"action_time": when.Format("3:04 PM"),
	}
}

// StageEvent appends a raw provider callback to the staging table. The
// receiver calls this for every parseable event and answers the provider
// immediately; matching against delivery records happens later, in
// ReconcileStaged.
func (s *Service) StageEvent(ctx context.Context, ev *domain.DeliveryEvent) error {
	if ev.CorrelationID == "" {
		return fmt.Errorf("%w: correlation id is required", ErrValidation)
	}
	if ev.Provider == "" {
		ev.Provider = s.provider.Name()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = s.now().UTC()
	}
	if ev.EventTimestamp.IsZero() {
		ev.EventTimestamp = ev.ReceivedAt
	}
	return s.repo.StageEvent(ctx, ev)
}

// ApplyEvent folds one provider event into the delivery record and the
// instance status. Record timestamps are first-occurrence-wins and status
// only moves up the delivery rank, so replays and out-of-order arrivals
// are no-ops. Returns ErrUnmatchedEvent when no delivery record carries
// the event's correlation id yet.
func (s *Service) ApplyEvent(ctx context.Context, ev *domain.DeliveryEvent) error {
	rec, err := s.repo.RecordByCorrelation(ctx, ev.Provider, ev.CorrelationID)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %s %s", ErrUnmatchedEvent, ev.Provider, ev.CorrelationID)
	}
	if err != nil {
		return fmt.Errorf("lookup record for %s: %w", ev.CorrelationID, err)
	}

	reason := ""
	if ev.EventType == domain.DeliveryEventFailed {
		reason = failureReason(ev.Payload)
	}
	if err := s.repo.RecordEventTimestamp(ctx, rec.ID, ev.EventType, ev.EventTimestamp, reason); err != nil {
		return fmt.Errorf("record %s timestamp: %w", ev.EventType, err)
	}

	implied, ok := ev.EventType.InstanceStatus()
	if !ok {
		return nil
	}
	inst, err := s.repo.GetInstance(ctx, rec.ActionInstanceID)
	if err != nil {
		return fmt.Errorf("load instance %s: %w", rec.ActionInstanceID, err)
	}

	if implied == domain.ActionFailedToSend {
		if !domain.CanTransitionActionInstance(inst.Status, implied) {
			return nil // already terminal or advanced past the failure
		}
	} else {
		if domain.DeliveryRank(implied) <= domain.DeliveryRank(inst.Status) {
			return nil // replay or weaker signal; timestamps already kept it
		}
		if !domain.CanTransitionActionInstance(inst.Status, implied) {
			return nil
		}
	}

	err = s.repo.TransitionInstance(ctx, inst.ID, inst.Status, implied)
	if errors.Is(err, ErrNotFound) {
		return nil // a concurrent reconciler moved it first
	}
	if err != nil {
		return fmt.Errorf("advance instance %s to %s: %w", inst.ID, implied, err)
	}
	return nil
}

// ReconcileStaged applies staged events oldest first. Unmatched events
// stay staged for the next pass; everything applied gets flagged
// processed. Returns the applied and deferred counts.
func (s *Service) ReconcileStaged(ctx context.Context, limit int) (applied, deferred int, err error) {
	events, err := s.repo.UnprocessedEvents(ctx, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("list staged events: %w", err)
	}

	for i := range events {
		ev := &events[i]
		if err := s.ApplyEvent(ctx, ev); err != nil {
			if errors.Is(err, ErrUnmatchedEvent) {
				deferred++
				continue
			}
			logger.Error("event apply failed",
				"event_id", ev.ID,
				"event_type", string(ev.EventType),
				"error", err.Error())
			continue
		}
		if err := s.repo.MarkEventProcessed(ctx, ev.ID); err != nil {
			// Applying is idempotent, so a re-apply on the next pass is
			// harmless. Just surface the store hiccup.
			logger.Warn("event applied but not marked processed", "event_id", ev.ID, "error", err.Error())
			continue
		}
		applied++
	}
	return applied, deferred, nil
}

// Redrive gives a failed instance another run: the failed row is canceled
// and a fresh pending row with a reset attempt counter replaces it, in one
// transaction. Only failed_to_enqueue and failed_to_send instances
// qualify.
func (s *Service) Redrive(ctx context.Context, instanceID string) (*domain.ActionInstance, error) {
	inst, err := s.repo.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != domain.ActionFailedToEnqueue && inst.Status != domain.ActionFailedToSend {
		return nil, fmt.Errorf("%w: instance %s is %s", ErrNotRedrivable, instanceID, inst.Status)
	}

	now := s.now().UTC()
	next := inst.ActionDatetime
	if next.Before(now) {
		next = now
	}
	fresh := &domain.ActionInstance{
		ID:                   uuid.New().String(),
		UserID:               inst.UserID,
		ActionTemplateID:     inst.ActionTemplateID,
		SubGroupAssignmentID: inst.SubGroupAssignmentID,
		ActionType:           inst.ActionType,
		ActionDatetime:       inst.ActionDatetime,
		Status:               domain.ActionPending,
		NextAttemptAt:        &next,
		CreatedAt:            now,
	}
	if err := s.repo.SupersedeInstance(ctx, inst.ID, fresh); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: instance %s changed state concurrently", ErrNotRedrivable, instanceID)
		}
		return nil, fmt.Errorf("supersede instance %s: %w", instanceID, err)
	}

	logger.Info("instance redriven",
		"failed_instance_id", inst.ID,
		"fresh_instance_id", fresh.ID,
		"user_id", inst.UserID)
	return fresh, nil
}

// CancelInstance cancels a single pending or enqueued instance. An
// enqueued instance's provider-side message is not recalled; a later
// provider event for it is ignored by the transition guards.
func (s *Service) CancelInstance(ctx context.Context, instanceID string) error {
	inst, err := s.repo.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if !domain.CanTransitionActionInstance(inst.Status, domain.ActionCanceled) {
		return fmt.Errorf("%w: instance %s is %s", ErrInvalidTransition, instanceID, inst.Status)
	}
	err = s.repo.TransitionInstance(ctx, inst.ID, inst.Status, domain.ActionCanceled)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: instance %s changed state concurrently", ErrInvalidTransition, instanceID)
	}
	if err != nil {
		return fmt.Errorf("cancel instance %s: %w", instanceID, err)
	}
	logger.Info("instance canceled", "action_instance_id", instanceID)
	return nil
}

// FailedInstances lists instances in the given failed status for operator
// inspection ahead of a redrive.
func (s *Service) FailedInstances(ctx context.Context, status domain.ActionInstanceStatus, limit int) ([]domain.ActionInstance, error) {
	if status != domain.ActionFailedToEnqueue && status != domain.ActionFailedToSend {
		return nil, fmt.Errorf("%w: %s is not a failed status", ErrValidation, status)
	}
	return s.repo.InstancesByStatus(ctx, status, limit)
}

// failureReason pulls a human-readable reason out of a failed event's raw
// payload. SES bounce notifications carry a diagnostic code per recipient;
// generic providers use a flat reason or error field.
func failureReason(payload json.RawMessage) string {
	if len(payload) == 0 {
		return "provider reported failure"
	}
	var body struct {
		Reason string `json:"reason"`
		Error  string `json:"error"`
		Bounce struct {
			BounceType        string `json:"bounceType"`
			BouncedRecipients []struct {
				DiagnosticCode string `json:"diagnosticCode"`
			} `json:"bouncedRecipients"`
		} `json:"bounce"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return "provider reported failure"
	}
	switch {
	case body.Reason != "":
		return body.Reason
	case body.Error != "":
		return body.Error
	case len(body.Bounce.BouncedRecipients) > 0 && body.Bounce.BouncedRecipients[0].DiagnosticCode != "":
		return body.Bounce.BouncedRecipients[0].DiagnosticCode
	case body.Bounce.BounceType != "":
		return "bounce: " + body.Bounce.BounceType
	}
	return "provider reported failure"
}
