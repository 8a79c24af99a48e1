package relay

import (
	"encoding/binary"
	"fmt"

	"github.com/DarrenEdwards111/MeshXT-Satellite/pkg/meshtastic"
	"github.com/DarrenEdwards111/MeshXT-Satellite/pkg/meshxt"
)

// Satellite frame layout
const (
	Version        = 1
	HeaderSize     = 14
	MaxFrameSize   = 128
	MaxPayloadSize = MaxFrameSize - HeaderSize
)

// Priority orders queued messages; lower values are sent first
type Priority uint8

const (
	PriorityEmergency Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

// String returns the priority name
func (p Priority) String() string {
	switch p {
	case PriorityEmergency:
		return "emergency"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("Priority(%d)", uint8(p))
	}
}

// ParsePriority parses a priority name
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "emergency":
		return PriorityEmergency, nil
	case "high":
		return PriorityHigh, nil
	case "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

// Packet is a mesh message in satellite frame form. Priority is carried
// alongside the frame, not inside it.
type Packet struct {
	Version   uint8
	SourceID  meshtastic.NodeID
	DestID    meshtastic.NodeID
	Channel   uint8
	Timestamp uint32
	Priority  Priority
	Payload   []byte
}

// MarshalBinary implements encoding.BinaryMarshaler
func (p *Packet) MarshalBinary() ([]byte, error) {
	if HeaderSize+len(p.Payload) > MaxFrameSize {
		return nil, fmt.Errorf("frame size %d exceeds %d: %w", HeaderSize+len(p.Payload), MaxFrameSize, meshxt.ErrTranslation)
	}

	out := make([]byte, HeaderSize, HeaderSize+len(p.Payload))
	out[0] = p.Version
	binary.BigEndian.PutUint32(out[1:5], uint32(p.SourceID))
	binary.BigEndian.PutUint32(out[5:9], uint32(p.DestID))
	out[9] = p.Channel
	binary.BigEndian.PutUint32(out[10:14], p.Timestamp)

	return append(out, p.Payload...), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (p *Packet) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("frame %d bytes, need %d: %w", len(data), HeaderSize, meshxt.ErrInvalidInput)
	}
	if data[0] != Version {
		return fmt.Errorf("frame version %d: %w", data[0], meshxt.ErrUnsupportedVersion)
	}
	if len(data)-HeaderSize > MaxPayloadSize {
		return fmt.Errorf("frame payload %d bytes exceeds %d: %w", len(data)-HeaderSize, MaxPayloadSize, meshxt.ErrInvalidInput)
	}

	p.Version = data[0]
	p.SourceID = meshtastic.NodeID(binary.BigEndian.Uint32(data[1:5]))
	p.DestID = meshtastic.NodeID(binary.BigEndian.Uint32(data[5:9]))
	p.Channel = data[9]
	p.Timestamp = binary.BigEndian.Uint32(data[10:14])
	p.Payload = append([]byte(nil), data[HeaderSize:]...)
	return nil
}

// Serialize encodes p as a satellite frame
func Serialize(p *Packet) ([]byte, error) {
	return p.MarshalBinary()
}

// Deserialize decodes a satellite frame
func Deserialize(data []byte) (*Packet, error) {
	p := &Packet{}
	if err := p.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	p.Priority = PriorityNormal
	return p, nil
}
