package natslink

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/DarrenEdwards111/MeshXT-Satellite/internal/radio"
	"github.com/DarrenEdwards111/MeshXT-Satellite/pkg/lorawan"
)

// ErrJoinRejected is returned when the ground segment refuses a join
var ErrJoinRejected = errors.New("join rejected")

// NetworkConfig configures a Network
type NetworkConfig struct {
	DevEUI         lorawan.EUI64
	JoinEUI        lorawan.EUI64
	DataRate       lorawan.DataRate
	MaxPayloadSize int
	DutyCycleLimit time.Duration
	DutyWindow     time.Duration
	JoinTimeout    time.Duration
	Clock          func() time.Time
}

// JoinRequest is published on the join subject
type JoinRequest struct {
	DevEUI  lorawan.EUI64 `json:"devEUI"`
	JoinEUI lorawan.EUI64 `json:"joinEUI"`
}

// JoinReply is the ground segment's answer to a JoinRequest
type JoinReply struct {
	Accepted bool            `json:"accepted"`
	DevAddr  lorawan.DevAddr `json:"devAddr"`
	Reason   string          `json:"reason,omitempty"`
}

// UplinkMessage is published for every accepted Send
type UplinkMessage struct {
	DevEUI    lorawan.EUI64 `json:"devEUI"`
	DevAddr   string        `json:"devAddr"`
	FPort     uint8         `json:"fPort"`
	Data      []byte        `json:"data"`
	AirtimeMs uint32        `json:"airtimeMs"`
	Time      time.Time     `json:"time"`
}

// DownlinkMessage is received on the downlink subject
type DownlinkMessage struct {
	FPort uint8  `json:"fPort"`
	Data  []byte `json:"data"`
}

// Network implements radio.NetworkTransceiver against a NATS ground segment
type Network struct {
	nc       Conn
	subjects Subjects
	cfg      NetworkConfig
	sub      *nats.Subscription

	mu        sync.Mutex
	budget    *lorawan.DutyCycle
	joined    bool
	devAddr   lorawan.DevAddr
	downlinks chan radio.Downlink
}

// NewNetwork creates a NATS network transceiver
func NewNetwork(nc Conn, subjects Subjects, cfg NetworkConfig) *Network {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.JoinTimeout == 0 {
		cfg.JoinTimeout = 10 * time.Second
	}
	if cfg.DutyCycleLimit == 0 {
		cfg.DutyCycleLimit = lorawan.DefaultDutyCycleLimit
	}
	if cfg.DutyWindow == 0 {
		cfg.DutyWindow = lorawan.DefaultDutyCycleWindow
	}

	return &Network{
		nc:        nc,
		subjects:  subjects,
		cfg:       cfg,
		budget:    lorawan.NewDutyCycle(cfg.DutyCycleLimit, cfg.DutyWindow, cfg.Clock),
		downlinks: make(chan radio.Downlink, 1),
	}
}

// Begin subscribes to downlinks
func (n *Network) Begin() error {
	sub, err := n.nc.Subscribe(n.subjects.Downlink(), n.handleDownlink)
	if err != nil {
		return fmt.Errorf("subscribe downlink: %w", err)
	}
	n.sub = sub

	log.Info().
		Str("subject", n.subjects.Downlink()).
		Msg("NATS network transceiver started")
	return nil
}

// Join performs one join request/reply exchange
func (n *Network) Join() error {
	data, err := json.Marshal(JoinRequest{DevEUI: n.cfg.DevEUI, JoinEUI: n.cfg.JoinEUI})
	if err != nil {
		return fmt.Errorf("marshal join request: %w", err)
	}

	msg, err := n.nc.Request(n.subjects.Join(), data, n.cfg.JoinTimeout)
	if err != nil {
		return fmt.Errorf("join request: %w", err)
	}

	var reply JoinReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("unmarshal join reply: %w", err)
	}
	if !reply.Accepted {
		return fmt.Errorf("%w: %s", ErrJoinRejected, reply.Reason)
	}

	n.mu.Lock()
	n.joined = true
	n.devAddr = reply.DevAddr
	n.mu.Unlock()

	log.Info().
		Str("devEUI", n.cfg.DevEUI.String()).
		Str("devAddr", reply.DevAddr.String()).
		Msg("Joined satellite network")
	return nil
}

func (n *Network) IsJoined() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.joined
}

// Send publishes one uplink and charges its airtime to the budget
func (n *Network) Send(payload []byte, port uint8) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.joined {
		return radio.ErrNotJoined
	}
	if n.cfg.MaxPayloadSize > 0 && len(payload) > n.cfg.MaxPayloadSize {
		return fmt.Errorf("%d bytes at SF%d: %w", len(payload), n.cfg.DataRate.SpreadFactor, radio.ErrPayloadTooLarge)
	}

	airtime := lorawan.EstimateAirtime(len(payload), n.cfg.DataRate)
	if !n.budget.CanTransmit(airtime) {
		return radio.ErrDutyCycle
	}

	data, err := json.Marshal(UplinkMessage{
		DevEUI:    n.cfg.DevEUI,
		DevAddr:   n.devAddr.String(),
		FPort:     port,
		Data:      payload,
		AirtimeMs: airtime,
		Time:      n.cfg.Clock().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal uplink: %w", err)
	}

	msg := nats.NewMsg(n.subjects.Uplink())
	msg.Data = data
	msg.Header.Set("Fport", strconv.Itoa(int(port)))
	if err := n.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish uplink: %w", err)
	}

	n.budget.Consume(airtime)
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

// handleDownlink buffers one downlink; later arrivals are dropped until it is taken
func (n *Network) handleDownlink(msg *nats.Msg) {
	var dl DownlinkMessage
	if err := json.Unmarshal(msg.Data, &dl); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal downlink")
		return
	}

	select {
	case n.downlinks <- radio.Downlink{Payload: dl.Data, Port: dl.FPort}:
		log.Debug().
			Uint8("fPort", dl.FPort).
			Int("size", len(dl.Data)).
			Msg("Received downlink")
	default:
		log.Warn().Msg("Downlink dropped, previous downlink not yet delivered")
	}
}

func (n *Network) PendingDownlink() (*radio.Downlink, bool) {
	select {
	case dl := <-n.downlinks:
		return &dl, true
	default:
		return nil, false
	}
}

// Close removes the subscription
func (n *Network) Close() error {
	if n.sub == nil {
		return nil
	}
	return n.sub.Unsubscribe()
}
