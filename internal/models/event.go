package models

import (
	"time"

	"github.com/google/uuid"
)

// EventLog represents an event log entry
type EventLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	Gateway string  `json:"gateway" db:"gateway"`
	EntryID *uint32 `json:"entryId,omitempty" db:"entry_id"`

	Type        EventType  `json:"type" db:"type"`
	Level       EventLevel `json:"level" db:"level"`
	Code        string     `json:"code" db:"code"`
	Description string     `json:"description" db:"description"`

	Details Variables `json:"details,omitempty" db:"details"`
}

// EventType represents event types
type EventType string

const (
	// Relay events
	EventTypeQueued         EventType = "QUEUED"
	EventTypeQueueFull      EventType = "QUEUE_FULL"
	EventTypeDelivered      EventType = "DELIVERED"
	EventTypeRetry          EventType = "RETRY"
	EventTypeDeliveryFailed EventType = "DELIVERY_FAILED"
	EventTypeExpired        EventType = "EXPIRED"
	EventTypeDownlink       EventType = "DOWNLINK"
	EventTypeTranslation    EventType = "TRANSLATION"

	// Gateway events
	EventTypeJoin      EventType = "JOIN"
	EventTypePassStart EventType = "PASS_START"
	EventTypePassEnd   EventType = "PASS_END"
	EventTypeError     EventType = "ERROR"
)

// EventLevel represents event severity levels
type EventLevel string

const (
	EventLevelDebug   EventLevel = "DEBUG"
	EventLevelInfo    EventLevel = "INFO"
	EventLevelWarning EventLevel = "WARNING"
	EventLevelError   EventLevel = "ERROR"
	EventLevelFatal   EventLevel = "FATAL"
)
