package domain

import (
	"encoding/json"
	"time"
)

// DeliveryRecord correlates one enqueued send_message instance with the
// external delivery provider. Created on the pending->enqueued transition
// and updated only by reconciled provider events. Timestamps are
// first-occurrence-wins: a replayed event never overwrites an earlier one.
type DeliveryRecord struct {
	ID               string     `json:"id" db:"id"`
	ActionInstanceID string     `json:"action_instance_id" db:"action_instance_id"`
	Provider         string     `json:"provider" db:"provider"`
	CorrelationID    string     `json:"correlation_id" db:"correlation_id"`
	EnqueuedAt       time.Time  `json:"enqueued_at" db:"enqueued_at"`
	ScheduledAt      time.Time  `json:"scheduled_at" db:"scheduled_at"`
	SentAt           *time.Time `json:"sent_at" db:"sent_at"`
	DeliveredAt      *time.Time `json:"delivered_at" db:"delivered_at"`
	OpenedAt         *time.Time `json:"opened_at" db:"opened_at"`
	ClickedAt        *time.Time `json:"clicked_at" db:"clicked_at"`
	FailedAt         *time.Time `json:"failed_at" db:"failed_at"`
	FailureReason    string     `json:"failure_reason" db:"failure_reason"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// DeliveryEventType enumerates provider callback kinds.
type DeliveryEventType string

const (
	DeliveryEventSent      DeliveryEventType = "sent"
	DeliveryEventDelivered DeliveryEventType = "delivered"
	DeliveryEventOpened    DeliveryEventType = "opened"
	DeliveryEventClicked   DeliveryEventType = "clicked"
	DeliveryEventFailed    DeliveryEventType = "failed"
)

// DeliveryEvent is a raw provider callback staged by the webhook receiver.
// The reconciler consumes staged events in arrival order; events whose
// correlation id has no DeliveryRecord yet stay unprocessed and are picked
// up again on a later pass, which is how callbacks that outrun the local
// enqueued write are tolerated.
type DeliveryEvent struct {
	ID             int64             `json:"id" db:"id"`
	Provider       string            `json:"provider" db:"provider"`
	CorrelationID  string            `json:"correlation_id" db:"correlation_id"`
	EventType      DeliveryEventType `json:"event_type" db:"event_type"`
	EventTimestamp time.Time         `json:"event_timestamp" db:"event_timestamp"`
	Payload        json.RawMessage   `json:"payload" db:"payload"`
	ReceivedAt     time.Time         `json:"received_at" db:"received_at"`
	Processed      bool              `json:"processed" db:"processed"`
	ProcessedAt    *time.Time        `json:"processed_at" db:"processed_at"`
}
