package relay

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/DarrenEdwards111/MeshXT-Satellite/pkg/meshtastic"
	"github.com/DarrenEdwards111/MeshXT-Satellite/pkg/meshxt"
)

// Config configures a Translator
type Config struct {
	// Compression enables MeshXT compression of plain payloads
	Compression bool
	Clock       func() time.Time
}

// Translator converts between mesh packets and satellite frames
type Translator struct {
	compression bool
	clock       func() time.Time

	mu       sync.Mutex
	packetID uint32
}

// NewTranslator creates a translator
func NewTranslator(cfg Config) *Translator {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Translator{
		compression: cfg.Compression,
		clock:       clock,
		packetID:    uint32(clock().UnixNano() >> 10),
	}
}

// Classify assigns a priority to an inbound mesh packet
func Classify(p *meshtastic.Packet) Priority {
	if !p.IsMeshXT() && len(p.Payload) >= 3 && bytes.EqualFold(p.Payload[:3], []byte("SOS")) {
		return PriorityEmergency
	}
	if p.Port == meshtastic.PortPosition {
		return PriorityHigh
	}
	return PriorityNormal
}

// ToRelay builds a satellite packet from a mesh packet
func (t *Translator) ToRelay(p *meshtastic.Packet) (*Packet, error) {
	out := &Packet{
		Version:   Version,
		SourceID:  p.Source,
		DestID:    p.Dest,
		Channel:   p.Channel,
		Timestamp: uint32(t.clock().Unix()),
		Priority:  Classify(p),
	}

	payload, err := t.encodePayload(p)
	if err != nil {
		return nil, err
	}
	out.Payload = payload
	return out, nil
}

func (t *Translator) encodePayload(p *meshtastic.Packet) ([]byte, error) {
	if p.IsMeshXT() {
		if len(p.Payload) > MaxPayloadSize {
			return nil, fmt.Errorf("meshxt payload %d bytes exceeds %d: %w", len(p.Payload), MaxPayloadSize, meshxt.ErrTranslation)
		}
		return append([]byte(nil), p.Payload...), nil
	}

	if t.compression && len(p.Payload) > 0 {
		if _, compressed, err := meshxt.Compress(p.Payload); err == nil && len(compressed) <= MaxPayloadSize {
			return compressed, nil
		}
	}

	if len(p.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload %d bytes exceeds %d: %w", len(p.Payload), MaxPayloadSize, meshxt.ErrTranslation)
	}
	return append([]byte(nil), p.Payload...), nil
}

// ToMesh builds a mesh packet from a satellite packet, assigning a fresh packet id
func (t *Translator) ToMesh(p *Packet) *meshtastic.Packet {
	port := meshtastic.PortTextMessage
	if meshxt.HasMagic(p.Payload) {
		port = meshtastic.PortPrivateApp
	}

	return &meshtastic.Packet{
		Dest:    p.DestID,
		Source:  p.SourceID,
		ID:      t.nextPacketID(),
		Port:    port,
		Channel: p.Channel,
		Payload: append([]byte(nil), p.Payload...),
	}
}

func (t *Translator) nextPacketID() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.packetID++
	return t.packetID
}
