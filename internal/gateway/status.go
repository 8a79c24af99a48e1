package gateway

import (
	"time"

	"github.com/google/uuid"
)

// Stats are cumulative counters since start
type Stats struct {
	Received          uint64 `json:"received"`
	Ignored           uint64 `json:"ignored"`
	ReceiveErrors     uint64 `json:"receiveErrors"`
	TranslationErrors uint64 `json:"translationErrors"`
	Injected          uint64 `json:"injected"`
	Queued            uint64 `json:"queued"`
	QueueFull         uint64 `json:"queueFull"`
	Delivered         uint64 `json:"delivered"`
	Retried           uint64 `json:"retried"`
	DeliveryFailed    uint64 `json:"deliveryFailed"`
	Expired           uint64 `json:"expired"`
	DutyCycleDeferred uint64 `json:"dutyCycleDeferred"`
	JoinAttempts      uint64 `json:"joinAttempts"`
	JoinFailures      uint64 `json:"joinFailures"`
	Downlinks         uint64 `json:"downlinks"`
	DownlinkErrors    uint64 `json:"downlinkErrors"`
	Passes            uint64 `json:"passes"`
}

// EntryStatus describes one queued entry
type EntryStatus struct {
	ID         uint32    `json:"id"`
	Priority   string    `json:"priority"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	AgeSeconds int64     `json:"ageSeconds"`
	TTLSeconds int64     `json:"ttlSeconds"`
	Retries    uint8     `json:"retries"`
	Size       int       `json:"size"`
}

// Status is a point-in-time view of the gateway, safe to read from other goroutines
type Status struct {
	Gateway    string    `json:"gateway"`
	InstanceID uuid.UUID `json:"instanceId"`
	Started    bool      `json:"started"`
	Joined     bool      `json:"joined"`

	QueueDepth      int            `json:"queueDepth"`
	QueueCapacity   int            `json:"queueCapacity"`
	QueueByPriority map[string]int `json:"queueByPriority"`
	Entries         []EntryStatus  `json:"entries"`

	AirtimeUsedMs      uint32 `json:"airtimeUsedMs"`
	AirtimeRemainingMs uint32 `json:"airtimeRemainingMs"`

	PassState         string     `json:"passState"`
	NextPass          time.Time  `json:"nextPass"`
	LastPass          *time.Time `json:"lastPass,omitempty"`
	NextPassInSeconds int64      `json:"nextPassInSeconds"`

	LastRSSI int16   `json:"lastRssi"`
	LastSNR  float32 `json:"lastSnr"`

	Stats     Stats     `json:"stats"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (g *Gateway) snapshot(now time.Time) Status {
	entries := g.queue.Entries()
	summaries := make([]EntryStatus, len(entries))
	for i, e := range entries {
		summaries[i] = EntryStatus{
			ID:         e.ID,
			Priority:   e.Priority.String(),
			EnqueuedAt: e.EnqueuedAt,
			AgeSeconds: int64(now.Sub(e.EnqueuedAt) / time.Second),
			TTLSeconds: int64(e.TTL / time.Second),
			Retries:    e.Retries,
			Size:       len(e.Payload),
		}
	}

	byPriority := make(map[string]int)
	for p, n := range g.queue.CountByPriority() {
		byPriority[p.String()] = n
	}

	s := Status{
		Gateway:            g.cfg.Name,
		InstanceID:         g.instanceID,
		Started:            g.started,
		Joined:             g.network.IsJoined(),
		QueueDepth:         g.queue.Len(),
		QueueCapacity:      g.queue.Cap(),
		QueueByPriority:    byPriority,
		Entries:            summaries,
		AirtimeUsedMs:      g.network.AirtimeUsed(),
		AirtimeRemainingMs: g.network.AirtimeRemaining(),
		PassState:          g.pass.State().String(),
		NextPass:           g.pass.Next(),
		NextPassInSeconds:  int64(g.pass.UntilNext(now) / time.Second),
		LastRSSI:           g.lastRSSI,
		LastSNR:            g.lastSNR,
		Stats:              g.stats,
		UpdatedAt:          now,
	}
	if last := g.pass.Last(); !last.IsZero() {
		s.LastPass = &last
	}
	return s
}

func (g *Gateway) publishStatus(now time.Time) {
	s := g.snapshot(now)

	g.statusMu.Lock()
	g.status = s
	g.statusMu.Unlock()
}

// Status returns the snapshot published after the most recent tick
func (g *Gateway) Status() Status {
	g.statusMu.RLock()
	defer g.statusMu.RUnlock()
	return g.status
}
