package gateway

import "errors"

// Scheduler errors
var (
	ErrQueueFull        = errors.New("queue full")
	ErrDeliveryFailed   = errors.New("delivery failed")
	ErrJoinFailed       = errors.New("join failed")
	ErrTransceiverFault = errors.New("transceiver fault")
	ErrInjectBusy       = errors.New("injection backlog full")
)
