// Package radio defines the transceiver contracts the gateway schedules against.
package radio

import (
	"errors"

	"github.com/DarrenEdwards111/MeshXT-Satellite/pkg/meshtastic"
)

// Transceiver errors
var (
	ErrNotJoined       = errors.New("network not joined")
	ErrDutyCycle       = errors.New("duty cycle budget exhausted")
	ErrPayloadTooLarge = errors.New("payload exceeds data rate limit")
)

// Downlink is a message received from the satellite network
type Downlink struct {
	Payload []byte
	Port    uint8
}

// MeshTransceiver is the local mesh radio
type MeshTransceiver interface {
	Begin() error
	// Available consumes the pending-packet signal
	Available() bool
	// Receive returns the next packet, or nil when none is buffered
	Receive() (*meshtastic.Packet, error)
	Transmit(frame []byte) error
	SignalQuality() (rssi int16, snr float32)
}

// NetworkTransceiver is the satellite uplink. Implementations own the duty-cycle budget.
type NetworkTransceiver interface {
	Begin() error
	Join() error
	IsJoined() bool
	Send(payload []byte, port uint8) error
	CanTransmit(estimatedMs uint32) bool
	AirtimeUsed() uint32
	AirtimeRemaining() uint32
	// PendingDownlink returns a buffered downlink, if any
	PendingDownlink() (*Downlink, bool)
}

// Signal is a single-slot pending flag. Raise never blocks.
type Signal struct {
	ch chan struct{}
}

// NewSignal creates a lowered signal
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Raise sets the flag
func (s *Signal) Raise() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Take clears the flag and reports whether it was set
func (s *Signal) Take() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// C exposes the flag for select loops
func (s *Signal) C() <-chan struct{} {
	return s.ch
}
