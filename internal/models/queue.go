package models

import "time"

// QueuedMessage is a persisted store-and-forward queue entry
type QueuedMessage struct {
	Gateway    string        `json:"gateway" db:"gateway"`
	Position   int           `json:"position" db:"position"`
	EntryID    uint32        `json:"entryId" db:"entry_id"`
	Priority   uint8         `json:"priority" db:"priority"`
	EnqueuedAt time.Time     `json:"enqueuedAt" db:"enqueued_at"`
	TTL        time.Duration `json:"ttl" db:"ttl_ms"`
	Retries    uint8         `json:"retries" db:"retries"`
	Payload    []byte        `json:"payload" db:"payload"`
}
