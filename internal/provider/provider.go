// Package provider adapts external message delivery providers behind a
// narrow scheduling contract and renders outgoing content.
package provider

import (
	"context"
	"time"
)

// Message is a fully rendered message ready to hand to a provider.
type Message struct {
	To          string
	ToName      string
	FromEmail   string
	FromName    string
	ReplyTo     string
	Subject     string
	BodyHTML    string
	ScheduledAt time.Time
}

// Provider schedules messages with an external delivery provider.
// Schedule returns the provider's correlation id for the message; every
// later callback about the message carries the same id.
type Provider interface {
	Name() string
	Schedule(ctx context.Context, msg Message) (string, error)
}
