package natslink

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/radio"
	"github.com/DarrenEdwards111/MeshXT-Satellite/pkg/meshtastic"
)

const meshBacklog = 32

// Mesh implements radio.MeshTransceiver on the mesh.rx and mesh.tx subjects
type Mesh struct {
	nc       Conn
	subjects Subjects
	rx       *radio.FrameBuffer
	sub      *nats.Subscription

	mu   sync.Mutex
	rssi int16
	snr  float32
}

// NewMesh creates a NATS mesh transceiver
func NewMesh(nc Conn, subjects Subjects) *Mesh {
	return &Mesh{
		nc:       nc,
		subjects: subjects,
		rx:       radio.NewFrameBuffer(meshBacklog),
	}
}

// Begin subscribes to received frames
func (m *Mesh) Begin() error {
	sub, err := m.nc.Subscribe(m.subjects.MeshRx(), m.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe mesh rx: %w", err)
	}
	m.sub = sub

	log.Info().
		Str("subject", m.subjects.MeshRx()).
		Msg("NATS mesh transceiver started")
	return nil
}

// handleFrame handles frames published by the radio bridge
func (m *Mesh) handleFrame(msg *nats.Msg) {
	log.Debug().
		Str("subject", msg.Subject).
		Int("size", len(msg.Data)).
		Msg("Received mesh frame")

	f := radio.Frame{Data: append([]byte(nil), msg.Data...)}
	if msg.Header != nil {
		if v, err := strconv.ParseInt(msg.Header.Get(HeaderRSSI), 10, 16); err == nil {
			f.RSSI = int16(v)
		}
		if v, err := strconv.ParseFloat(msg.Header.Get(HeaderSNR), 32); err == nil {
			f.SNR = float32(v)
		}
		if v, err := strconv.ParseUint(msg.Header.Get(HeaderChannel), 10, 8); err == nil {
			f.Channel = uint8(v)
		}
	}
	m.rx.PushFrame(f)
}

func (m *Mesh) Available() bool { return m.rx.Signal().Take() }

func (m *Mesh) Receive() (*meshtastic.Packet, error) {
	f, ok := m.rx.PopFrame()
	if !ok {
		return nil, nil
	}

	m.mu.Lock()
	m.rssi, m.snr = f.RSSI, f.SNR
	m.mu.Unlock()

	p, err := meshtastic.Decode(f.Data)
	if err != nil {
		return nil, err
	}
	p.RSSI, p.SNR, p.Channel = f.RSSI, f.SNR, f.Channel
	return p, nil
}

func (m *Mesh) Transmit(frame []byte) error {
	if err := m.nc.Publish(m.subjects.MeshTx(), frame); err != nil {
		return fmt.Errorf("publish mesh tx: %w", err)
	}
	return nil
}

// SignalQuality returns the values reported with the last received frame
func (m *Mesh) SignalQuality() (int16, float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rssi, m.snr
}

// Dropped returns how many frames were discarded because the backlog was full
func (m *Mesh) Dropped() uint64 {
	return m.rx.Dropped()
}

// Close removes the subscription
func (m *Mesh) Close() error {
	if m.sub == nil {
		return nil
	}
	return m.sub.Unsubscribe()
}
