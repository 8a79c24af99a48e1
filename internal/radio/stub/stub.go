// Package stub provides in-memory transceivers for tests and dry runs.
package stub

import (
	"errors"
	"sync"
	"time"

	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/radio"
	"github.com/DarrenEdwards111/MeshXT-Satellite/pkg/lorawan"
	"github.com/DarrenEdwards111/MeshXT-Satellite/pkg/meshtastic"
)

// ErrInjected is returned by operations configured to fail
var ErrInjected = errors.New("stub: injected failure")

// Mesh implements radio.MeshTransceiver in memory
type Mesh struct {
	BeginErr    error
	TransmitErr error
	RSSI        int16
	SNR         float32

	rx *radio.FrameBuffer

	mu    sync.Mutex
	txLog [][]byte
}

// NewMesh creates a mesh stub
func NewMesh() *Mesh {
	return &Mesh{rx: radio.NewFrameBuffer(64)}
}

func (m *Mesh) Begin() error { return m.BeginErr }

func (m *Mesh) Available() bool { return m.rx.Signal().Take() }

func (m *Mesh) Receive() (*meshtastic.Packet, error) {
	frame, ok := m.rx.Pop()
	if !ok {
		return nil, nil
	}
	p, err := meshtastic.Decode(frame)
	if err != nil {
		return nil, err
	}
	p.RSSI, p.SNR = m.RSSI, m.SNR
	return p, nil
}

func (m *Mesh) Transmit(frame []byte) error {
	if m.TransmitErr != nil {
		return m.TransmitErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txLog = append(m.txLog, append([]byte(nil), frame...))
	return nil
}

func (m *Mesh) SignalQuality() (int16, float32) { return m.RSSI, m.SNR }

// InjectRx queues a raw frame as if received over the air
func (m *Mesh) InjectRx(frame []byte) {
	m.rx.Push(append([]byte(nil), frame...))
}

// InjectPacket encodes and queues p
func (m *Mesh) InjectPacket(p *meshtastic.Packet) error {
	frame, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	m.InjectRx(frame)
	return nil
}

// TxLog returns copies of transmitted frames
func (m *Mesh) TxLog() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.txLog))
	for i, f := range m.txLog {
		out[i] = append([]byte(nil), f...)
	}
	return out
}

// Uplink is a payload accepted by Network.Send
type Uplink struct {
	Payload []byte
	Port    uint8
}

// Network implements radio.NetworkTransceiver in memory with a real duty-cycle budget
type Network struct {
	BeginErr error
	// JoinFailures is the number of Join calls that fail before one succeeds
	JoinFailures int
	// SendFailures is the number of Send calls that fail before sends succeed
	SendFailures int
	// DataRate is used to charge airtime for each send
	DataRate lorawan.DataRate
	// MaxPayloadSize rejects larger sends with radio.ErrPayloadTooLarge when set
	MaxPayloadSize int

	budget *lorawan.DutyCycle

	mu        sync.Mutex
	joined    bool
	joinCalls int
	sendCalls int
	sent      []Uplink
	downlinks []radio.Downlink
}

// NewNetwork creates a network stub with the given budget and clock
func NewNetwork(limit, window time.Duration, now func() time.Time) *Network {
	return &Network{
		DataRate: lorawan.DataRate{SpreadFactor: 9, Bandwidth: 125},
		budget:   lorawan.NewDutyCycle(limit, window, now),
	}
}

func (n *Network) Begin() error { return n.BeginErr }

func (n *Network) Join() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.joinCalls++
	if n.joinCalls <= n.JoinFailures {
		return ErrInjected
	}
	n.joined = true
	return nil
}

func (n *Network) IsJoined() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.joined
}

func (n *Network) Send(payload []byte, port uint8) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.joined {
		return radio.ErrNotJoined
	}
	n.sendCalls++
	if n.sendCalls <= n.SendFailures {
		return ErrInjected
	}
	if n.MaxPayloadSize > 0 && len(payload) > n.MaxPayloadSize {
		return radio.ErrPayloadTooLarge
	}

	est := lorawan.EstimateAirtime(len(payload), n.DataRate)
	if !n.budget.CanTransmit(est) {
		return radio.ErrDutyCycle
	}
	n.budget.Consume(est)
	n.sent = append(n.sent, Uplink{Payload: append([]byte(nil), payload...), Port: port})
	return nil
}

func (n *Network) CanTransmit(estimatedMs uint32) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.budget.CanTransmit(estimatedMs)
}

func (n *Network) AirtimeUsed() uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.budget.Used()
}

func (n *Network) AirtimeRemaining() uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.budget.Remaining()
}

func (n *Network) PendingDownlink() (*radio.Downlink, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.downlinks) == 0 {
		return nil, false
	}
	d := n.downlinks[0]
	n.downlinks = n.downlinks[1:]
	return &d, true
}

// InjectDownlink queues a downlink
func (n *Network) InjectDownlink(payload []byte, port uint8) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.downlinks = append(n.downlinks, radio.Downlink{Payload: append([]byte(nil), payload...), Port: port})
}

// Sent returns accepted uplinks
func (n *Network) Sent() []Uplink {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Uplink(nil), n.sent...)
}

// JoinCalls returns how many times Join was called
func (n *Network) JoinCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.joinCalls
}

// SendCalls returns how many times Send passed the join check
func (n *Network) SendCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sendCalls
}
