package lorawan

import "time"

// Default 1% budget over one hour
const (
	DefaultDutyCycleLimit  = 36 * time.Second
	DefaultDutyCycleWindow = time.Hour
)

// DutyCycle tracks transmit airtime against a rolling fixed window.
// It is not safe for concurrent use.
type DutyCycle struct {
	limitMs     uint32
	window      time.Duration
	usedMs      uint32
	windowStart time.Time
	now         func() time.Time
}

// NewDutyCycle returns a budget of limit per window, starting now
func NewDutyCycle(limit, window time.Duration, now func() time.Time) *DutyCycle {
	if now == nil {
		now = time.Now
	}
	return &DutyCycle{
		limitMs:     uint32(limit.Milliseconds()),
		window:      window,
		windowStart: now(),
		now:         now,
	}
}

func (d *DutyCycle) resetIfElapsed() {
	now := d.now()
	if now.Sub(d.windowStart) >= d.window {
		d.usedMs = 0
		d.windowStart = now
	}
}

// CanTransmit reports whether estimatedMs fits in the remaining budget
func (d *DutyCycle) CanTransmit(estimatedMs uint32) bool {
	d.resetIfElapsed()
	return uint64(d.usedMs)+uint64(estimatedMs) <= uint64(d.limitMs)
}

// Consume records airtime spent. It does not enforce the limit.
func (d *DutyCycle) Consume(ms uint32) {
	d.resetIfElapsed()
	d.usedMs += ms
}

// Used returns airtime spent in the current window
func (d *DutyCycle) Used() uint32 {
	d.resetIfElapsed()
	return d.usedMs
}

// Remaining returns the unused budget in the current window
func (d *DutyCycle) Remaining() uint32 {
	d.resetIfElapsed()
	if d.usedMs >= d.limitMs {
		return 0
	}
	return d.limitMs - d.usedMs
}

// WindowStart returns when the current window began
func (d *DutyCycle) WindowStart() time.Time {
	return d.windowStart
}
