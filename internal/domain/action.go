package domain

import (
	"fmt"
	"time"
)

// ActionType enumerates what kind of action a template produces.
type ActionType string

const (
	ActionDisplayInformation ActionType = "display_information"
	ActionSendMessage        ActionType = "send_message"
)

// TimeOfDay is a local wall-clock reading with minute precision, stored as
// "HH:MM". It has no date and no zone; the materializer combines it with a
// start date and the user's timezone to produce an absolute instant.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// ParseTimeOfDay parses "HH:MM" (24-hour clock).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var t TimeOfDay
	if _, err := fmt.Sscanf(s, "%d:%d", &t.Hour, &t.Minute); err != nil {
		return TimeOfDay{}, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
		return TimeOfDay{}, fmt.Errorf("time of day %q out of range", s)
	}
	return t, nil
}

// String renders the reading as "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ActionTemplateStatus enumerates the lifecycle states of a template.
type ActionTemplateStatus string

const (
	ActionTemplateActive   ActionTemplateStatus = "active"
	ActionTemplateInactive ActionTemplateStatus = "inactive"
)

// ActionTemplate configures one action within a subgroup.
// ActionDatetimeDaysOffset counts from the owning stage assignment's start
// date; TimeOfDayLocal is the wall-clock reading in the user's timezone.
// Subject and Body are mandatory for send_message templates.
type ActionTemplate struct {
	ID                       string               `json:"id" db:"id"`
	SubGroupID               string               `json:"subgroup_id" db:"subgroup_id"`
	Name                     string               `json:"name" db:"name"`
	ActionType               ActionType           `json:"action_type" db:"action_type"`
	ActionDatetimeDaysOffset int                  `json:"action_datetime_days_offset" db:"action_datetime_days_offset"`
	TimeOfDayLocal           TimeOfDay            `json:"time_of_day_local" db:"time_of_day_local"`
	Subject                  string               `json:"subject" db:"subject"`
	Body                     string               `json:"body" db:"body"`
	Status                   ActionTemplateStatus `json:"status" db:"status"`
	CreatedAt                time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt                time.Time            `json:"updated_at" db:"updated_at"`
}

// ActionInstanceStatus enumerates the lifecycle of a materialized action.
//
// display_information instances use pending and displayed only (plus
// canceled). send_message instances walk the delivery chain.
type ActionInstanceStatus string

const (
	ActionPending         ActionInstanceStatus = "pending"
	ActionDisplayed       ActionInstanceStatus = "displayed"
	ActionEnqueued        ActionInstanceStatus = "enqueued"
	ActionSent            ActionInstanceStatus = "sent"
	ActionDelivered       ActionInstanceStatus = "delivered"
	ActionOpened          ActionInstanceStatus = "opened"
	ActionClicked         ActionInstanceStatus = "clicked"
	ActionFailedToEnqueue ActionInstanceStatus = "failed_to_enqueue"
	ActionFailedToSend    ActionInstanceStatus = "failed_to_send"
	ActionCanceled        ActionInstanceStatus = "canceled"
)

// ActionInstance is the per-user materialized occurrence of a template,
// pinned to an absolute instant. At most one non-canceled row per
// (user, template) exists; the store enforces that with a partial unique
// index so concurrent materializers converge on one row.
//
// Attempts and NextAttemptAt drive the bounded enqueue retry loop; both are
// meaningful only while Status is pending.
type ActionInstance struct {
	ID                   string               `json:"id" db:"id"`
	UserID               string               `json:"user_id" db:"user_id"`
	ActionTemplateID     string               `json:"action_template_id" db:"action_template_id"`
	SubGroupAssignmentID string               `json:"subgroup_assignment_id" db:"subgroup_assignment_id"`
	ActionType           ActionType           `json:"action_type" db:"action_type"`
	ActionDatetime       time.Time            `json:"action_datetime" db:"action_datetime"`
	Status               ActionInstanceStatus `json:"status" db:"status"`
	Attempts             int                  `json:"attempts" db:"attempts"`
	NextAttemptAt        *time.Time           `json:"next_attempt_at" db:"next_attempt_at"`
	LastError            string               `json:"last_error" db:"last_error"`
	CreatedAt            time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the instance is in a final state.
func (i *ActionInstance) IsTerminal() bool {
	switch i.Status {
	case ActionDisplayed, ActionClicked, ActionFailedToEnqueue, ActionFailedToSend, ActionCanceled:
		return true
	}
	return false
}

// IsDone reports whether the instance no longer needs scheduling work:
// the message reached the provider (sent or any later observational state)
// or the instance is terminal. Pending and enqueued instances are not done.
func (i *ActionInstance) IsDone() bool {
	switch i.Status {
	case ActionSent, ActionDelivered, ActionOpened:
		return true
	}
	return i.IsTerminal()
}
