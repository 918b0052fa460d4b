package notify

import (
	"time"

	"smsrelay/models"
)

// EventType identifies a presentation-layer notification.
type EventType string

const (
	// EventSMSReceived carries newly mirrored messages.
	EventSMSReceived EventType = "sms.received"
	// EventConnectionChanged carries the latest connection status.
	EventConnectionChanged EventType = "connection.changed"
	// EventTest is emitted on demand to check alert delivery.
	EventTest EventType = "notification.test"
)

// Event is one notification pushed to presentation clients.
type Event struct {
	Type     EventType        `json:"type"`
	Messages []models.Message `json:"messages,omitempty"`
	Status   *models.Status   `json:"status,omitempty"`
	// Sound and Desktop mirror the alert preferences at publish time.
	Sound   bool      `json:"sound"`
	Desktop bool      `json:"desktop"`
	Time    time.Time `json:"time"`
}

// Publisher accepts events for delivery. Publish must not block.
type Publisher interface {
	Publish(event Event)
}

// Discard drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(Event) {}
