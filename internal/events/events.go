// Package events emits domain events to RabbitMQ for the reporting and
// notification services. Publishing is fire-and-forget from the agent's
// point of view.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Meta identifies and timestamps one event.
type Meta struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Producer string    `json:"producer,omitempty"`
	Time     time.Time `json:"time"`
}

// Event is the wire envelope for one domain event. Type doubles as the
// routing key, e.g. "payment.created".
type Event struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// New builds an event envelope with a fresh id and the current time.
func New(eventType string, data any) Event {
	return Event{
		Meta: Meta{
			ID:       uuid.NewString(),
			Type:     eventType,
			Producer: "prestabot",
			Time:     time.Now().UTC(),
		},
		Data: data,
	}
}
