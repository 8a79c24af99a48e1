package gateway

import (
	"time"

	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/relay"
)

// DefaultQueueCapacity is the number of entries held awaiting a pass
const DefaultQueueCapacity = 64

// Entry is a serialized satellite frame awaiting transmission
type Entry struct {
	// ID is source XOR timestamp, for diagnostics only; it is not unique
	ID         uint32
	Priority   relay.Priority
	EnqueuedAt time.Time
	TTL        time.Duration
	Retries    uint8
	Payload    []byte
}

// Expired reports whether the entry's age exceeds its TTL
func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.EnqueuedAt) > e.TTL
}

// TTLTable maps priorities to time-to-live
type TTLTable map[relay.Priority]time.Duration

// DefaultTTLs returns the stock TTL table
func DefaultTTLs() TTLTable {
	return TTLTable{
		relay.PriorityEmergency: 24 * time.Hour,
		relay.PriorityHigh:      12 * time.Hour,
		relay.PriorityNormal:    6 * time.Hour,
		relay.PriorityLow:       2 * time.Hour,
	}
}

// For returns the TTL for p, falling back to the normal priority TTL
func (t TTLTable) For(p relay.Priority) time.Duration {
	if ttl, ok := t[p]; ok {
		return ttl
	}
	return t[relay.PriorityNormal]
}

// Queue is a bounded, order-preserving message queue. It is not safe for
// concurrent use; the gateway loop owns it.
type Queue struct {
	entries  []Entry
	capacity int
}

// NewQueue creates a queue holding up to capacity entries
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{entries: make([]Entry, 0, capacity), capacity: capacity}
}

// Len returns the number of queued entries
func (q *Queue) Len() int { return len(q.entries) }

// Cap returns the queue capacity
func (q *Queue) Cap() int { return q.capacity }

// Full reports whether the queue is at capacity
func (q *Queue) Full() bool { return len(q.entries) >= q.capacity }

// Push appends e at the back
func (q *Queue) Push(e Entry) error {
	if q.Full() {
		return ErrQueueFull
	}
	q.entries = append(q.entries, e)
	return nil
}

// highestPriorityIndex returns the first entry with the lowest priority value, or -1
func (q *Queue) highestPriorityIndex() int {
	best := -1
	for i := range q.entries {
		if best < 0 || q.entries[i].Priority < q.entries[best].Priority {
			best = i
		}
	}
	return best
}

// PeekHighestPriority returns the entry DequeueHighestPriority would remove
func (q *Queue) PeekHighestPriority() (Entry, bool) {
	i := q.highestPriorityIndex()
	if i < 0 {
		return Entry{}, false
	}
	return q.entries[i], true
}

// DequeueHighestPriority removes and returns the most urgent entry
func (q *Queue) DequeueHighestPriority() (Entry, bool) {
	i := q.highestPriorityIndex()
	if i < 0 {
		return Entry{}, false
	}
	return q.removeAt(i), true
}

func (q *Queue) removeAt(i int) Entry {
	e := q.entries[i]
	copy(q.entries[i:], q.entries[i+1:])
	q.entries[len(q.entries)-1] = Entry{}
	q.entries = q.entries[:len(q.entries)-1]
	return e
}

// PurgeExpired removes expired entries and returns them in queue order
func (q *Queue) PurgeExpired(now time.Time) []Entry {
	var expired []Entry
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.Expired(now) {
			expired = append(expired, e)
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(q.entries); i++ {
		q.entries[i] = Entry{}
	}
	q.entries = kept
	return expired
}

// Entries returns a copy of the queue contents in order
func (q *Queue) Entries() []Entry {
	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out
}

// CountByPriority returns the number of entries at each priority
func (q *Queue) CountByPriority() map[relay.Priority]int {
	counts := make(map[relay.Priority]int)
	for _, e := range q.entries {
		counts[e.Priority]++
	}
	return counts
}
