package gateway

import "time"

// PassState is the satellite pass window state
type PassState int

const (
	PassIdle PassState = iota
	PassActive
)

// String returns the state name
func (s PassState) String() string {
	if s == PassActive {
		return "active"
	}
	return "idle"
}

// PassConfig configures pass prediction
type PassConfig struct {
	Interval  time.Duration
	Duration  time.Duration
	WakeEarly time.Duration
}

// DefaultPassConfig returns a fixed-interval schedule of 10 minute passes every 90 minutes
func DefaultPassConfig() PassConfig {
	return PassConfig{
		Interval:  90 * time.Minute,
		Duration:  10 * time.Minute,
		WakeEarly: time.Minute,
	}
}

// PassWindow predicts satellite passes on a fixed interval
type PassWindow struct {
	cfg   PassConfig
	state PassState
	next  time.Time
	last  time.Time
}

// NewPassWindow schedules the first pass one interval after start
func NewPassWindow(start time.Time, cfg PassConfig) *PassWindow {
	return &PassWindow{cfg: cfg, next: start.Add(cfg.Interval)}
}

// Open moves Idle to Active once now reaches the wake-early point. It
// reports whether a transition happened.
func (w *PassWindow) Open(now time.Time) bool {
	if w.state != PassIdle || now.Before(w.next.Add(-w.cfg.WakeEarly)) {
		return false
	}
	w.state = PassActive
	return true
}

// Close moves Active to Idle once the pass duration has elapsed and
// schedules the next pass. It reports whether a transition happened.
func (w *PassWindow) Close(now time.Time) bool {
	if w.state != PassActive || now.Before(w.next.Add(w.cfg.Duration)) {
		return false
	}
	w.state = PassIdle
	w.last = w.next
	w.next = now.Add(w.cfg.Interval)
	return true
}

// State returns the current state
func (w *PassWindow) State() PassState { return w.state }

// Active reports whether a pass is in progress
func (w *PassWindow) Active() bool { return w.state == PassActive }

// Next returns the predicted start of the next (or current) pass
func (w *PassWindow) Next() time.Time { return w.next }

// Last returns the start of the most recent completed pass
func (w *PassWindow) Last() time.Time { return w.last }

// UntilNext returns the time until the next pass, zero once it has started
func (w *PassWindow) UntilNext(now time.Time) time.Duration {
	if d := w.next.Sub(now); d > 0 {
		return d
	}
	return 0
}
