package auth

import (
	"context"
	"time"
)

// Security event types.
const (
	EventAccountLocked     = "account.locked"
	EventSessionsRevoked   = "sessions.revoked_all"
	EventUserDeactivated   = "user.deactivated"
	EventServiceRegistered = "service.registered"
)

// Event is a security-relevant state change.
type Event struct {
	Type       string            `json:"type"`
	UserID     int64             `json:"user_id,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// EventPublisher delivers events. Delivery is best-effort.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }
