package radio

import (
	"sync"
)

// Frame is a received mesh frame with the reception metadata the driver
// reported alongside it
type Frame struct {
	Data    []byte
	RSSI    int16
	SNR     float32
	Channel uint8
}

// FrameBuffer holds received frames between a driver's reader and the
// gateway loop. When full the oldest frame is dropped.
type FrameBuffer struct {
	mu      sync.Mutex
	frames  []Frame
	size    int
	dropped uint64
	signal  *Signal
}

// NewFrameBuffer creates a buffer holding up to size frames
func NewFrameBuffer(size int) *FrameBuffer {
	if size < 1 {
		size = 1
	}
	return &FrameBuffer{size: size, signal: NewSignal()}
}

// Push stores a frame without metadata and raises the pending signal
func (b *FrameBuffer) Push(data []byte) {
	b.PushFrame(Frame{Data: data})
}

// PushFrame stores f and raises the pending signal
func (b *FrameBuffer) PushFrame(f Frame) {
	b.mu.Lock()
	if len(b.frames) >= b.size {
		b.frames[0] = Frame{}
		b.frames = b.frames[1:]
		b.dropped++
	}
	b.frames = append(b.frames, f)
	b.mu.Unlock()

	b.signal.Raise()
}

// Pop removes the oldest frame and returns its bytes
func (b *FrameBuffer) Pop() ([]byte, bool) {
	f, ok := b.PopFrame()
	return f.Data, ok
}

// PopFrame removes the oldest frame. The signal is raised again while frames remain.
func (b *FrameBuffer) PopFrame() (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.frames) == 0 {
		return Frame{}, false
	}
	f := b.frames[0]
	b.frames[0] = Frame{}
	b.frames = b.frames[1:]
	if len(b.frames) > 0 {
		b.signal.Raise()
	}
	return f, true
}

// Len returns the number of buffered frames
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Dropped returns how many frames were discarded on overflow
func (b *FrameBuffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Signal returns the pending-packet signal
func (b *FrameBuffer) Signal() *Signal {
	return b.signal
}
