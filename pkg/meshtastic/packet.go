package meshtastic

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/DarrenEdwards111/MeshXT-Satellite/pkg/meshxt"
)

// NodeID is a 32-bit mesh node identifier
type NodeID uint32

// Broadcast is the all-nodes destination
const Broadcast NodeID = 0xFFFFFFFF

// String returns the conventional !xxxxxxxx node notation
func (n NodeID) String() string {
	return fmt.Sprintf("!%08x", uint32(n))
}

// ParseNodeID accepts !xxxxxxxx, 0x-prefixed or bare hex
func ParseNodeID(s string) (NodeID, error) {
	h := strings.TrimPrefix(strings.TrimPrefix(s, "!"), "0x")
	if h == "" || len(h) > 8 {
		return 0, fmt.Errorf("node id %q: %w", s, meshxt.ErrInvalidInput)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("node id %q: %w", s, meshxt.ErrInvalidInput)
	}
	return NodeID(v), nil
}

// Port is the application port carried in the one-byte wire field
type Port uint8

// Application ports. PortPrivateApp is 256 in the Meshtastic enum; the
// wire field is one byte so it travels as 0xFF.
const (
	PortUnknown     Port = 0
	PortTextMessage Port = 1
	PortPosition    Port = 3
	PortNodeInfo    Port = 4
	PortPrivateApp  Port = 0xFF
)

// String returns the port name
func (p Port) String() string {
	switch p {
	case PortUnknown:
		return "UNKNOWN_APP"
	case PortTextMessage:
		return "TEXT_MESSAGE_APP"
	case PortPosition:
		return "POSITION_APP"
	case PortNodeInfo:
		return "NODEINFO_APP"
	case PortPrivateApp:
		return "PRIVATE_APP"
	default:
		return fmt.Sprintf("PORT_%d", uint8(p))
	}
}

// Framing limits
const (
	AddressHeaderSize = 13 // dest, source, id, flags
	HeaderSize        = AddressHeaderSize + 1
	MaxFrameSize      = 256
	MaxPayloadSize    = meshxt.MaxPacketSize
)

// Packet is a decoded mesh packet. Channel, RSSI and SNR come from the
// receiving radio, not from the frame.
type Packet struct {
	Dest    NodeID
	Source  NodeID
	ID      uint32
	Flags   uint8
	Port    Port
	Channel uint8
	Payload []byte
	RSSI    int16
	SNR     float32
}

// IsMeshXT reports whether the payload is a MeshXT packet on the private-app port
func (p *Packet) IsMeshXT() bool {
	return p.Port == PortPrivateApp && meshxt.HasMagic(p.Payload)
}

// MarshalBinary implements encoding.BinaryMarshaler
func (p *Packet) MarshalBinary() ([]byte, error) {
	if len(p.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload %d bytes exceeds %d: %w", len(p.Payload), MaxPayloadSize, meshxt.ErrInvalidInput)
	}

	out := make([]byte, HeaderSize, HeaderSize+len(p.Payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(p.Dest))
	binary.BigEndian.PutUint32(out[4:8], uint32(p.Source))
	binary.BigEndian.PutUint32(out[8:12], p.ID)
	out[12] = p.Flags
	out[13] = uint8(p.Port)

	return append(out, p.Payload...), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. A frame that ends
// after the flags byte decodes with PortUnknown and no payload.
func (p *Packet) UnmarshalBinary(data []byte) error {
	if len(data) < AddressHeaderSize {
		return fmt.Errorf("mesh frame %d bytes, need %d: %w", len(data), AddressHeaderSize, meshxt.ErrInvalidInput)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("mesh frame %d bytes exceeds %d: %w", len(data), MaxFrameSize, meshxt.ErrInvalidInput)
	}

	p.Dest = NodeID(binary.BigEndian.Uint32(data[0:4]))
	p.Source = NodeID(binary.BigEndian.Uint32(data[4:8]))
	p.ID = binary.BigEndian.Uint32(data[8:12])
	p.Flags = data[12]
	p.Port = PortUnknown
	p.Payload = nil

	if len(data) > AddressHeaderSize {
		p.Port = Port(data[13])
		payload := data[HeaderSize:]
		if len(payload) > MaxPayloadSize {
			return fmt.Errorf("payload %d bytes exceeds %d: %w", len(payload), MaxPayloadSize, meshxt.ErrInvalidInput)
		}
		p.Payload = append([]byte(nil), payload...)
	}

	return nil
}

// Decode parses a raw mesh frame
func Decode(data []byte) (*Packet, error) {
	p := &Packet{}
	if err := p.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return p, nil
}
