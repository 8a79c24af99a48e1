// Package natslink carries mesh frames and satellite uplinks over NATS, for
// gateways whose radios are bridged by a separate process or for a
// simulated ground segment.
package natslink

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Conn is the subset of *nats.Conn used by this package
type Conn interface {
	Publish(subject string, data []byte) error
	PublishMsg(msg *nats.Msg) error
	Request(subject string, data []byte, timeout time.Duration) (*nats.Msg, error)
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Subjects names the subjects for one gateway
type Subjects struct {
	prefix string
}

// NewSubjects returns subjects rooted at meshxt.<gatewayID>
func NewSubjects(gatewayID string) Subjects {
	return Subjects{prefix: fmt.Sprintf("meshxt.%s", gatewayID)}
}

// MeshRx carries frames heard by the mesh radio
func (s Subjects) MeshRx() string { return s.prefix + ".mesh.rx" }

// MeshTx carries frames to broadcast on the mesh
func (s Subjects) MeshTx() string { return s.prefix + ".mesh.tx" }

// Uplink carries satellite uplinks
func (s Subjects) Uplink() string { return s.prefix + ".uplink" }

// Downlink carries satellite downlinks
func (s Subjects) Downlink() string { return s.prefix + ".downlink" }

// Join is the join request/reply subject
func (s Subjects) Join() string { return s.prefix + ".join" }

// Status carries periodic gateway status
func (s Subjects) Status() string { return s.prefix + ".status" }

// Message headers
const (
	HeaderRSSI    = "Meshxt-Rssi"
	HeaderSNR     = "Meshxt-Snr"
	HeaderChannel = "Meshxt-Channel"
)
