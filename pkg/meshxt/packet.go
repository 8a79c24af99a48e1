package meshxt

import (
	"fmt"
)

// Packet framing constants
const (
	Version       = 1
	HeaderSize    = 2
	MaxPacketSize = 237
)

// Compression identifies the payload compression scheme
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionDictionary
	CompressionCodebook // reserved
)

// String returns the compression name
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionDictionary:
		return "dictionary"
	case CompressionCodebook:
		return "codebook"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// FECLevel identifies the parity strength
type FECLevel uint8

const (
	FECNone FECLevel = iota
	FECLow
	FECMedium
	FECHigh
)

// String returns the level name
func (l FECLevel) String() string {
	switch l {
	case FECNone:
		return "none"
	case FECLow:
		return "low"
	case FECMedium:
		return "medium"
	case FECHigh:
		return "high"
	default:
		return fmt.Sprintf("FECLevel(%d)", uint8(l))
	}
}

// NSymForLevel returns the parity symbol count for a FEC level
func NSymForLevel(level FECLevel) (int, bool) {
	switch level {
	case FECNone:
		return 0, true
	case FECLow:
		return NSymLow, true
	case FECMedium:
		return NSymMedium, true
	case FECHigh:
		return NSymHigh, true
	default:
		return 0, false
	}
}

// Header is the nibble-packed 2-byte packet header
type Header struct {
	Version     uint8
	Compression Compression
	FEC         FECLevel
	Flags       uint8
}

// MarshalBinary implements encoding.BinaryMarshaler
func (h Header) MarshalBinary() ([]byte, error) {
	if h.Version > 0x0F || h.Compression > 0x0F || h.FEC > 0x0F || h.Flags > 0x0F {
		return nil, fmt.Errorf("header field exceeds 4 bits: %w", ErrInvalidInput)
	}
	return []byte{
		h.Version<<4 | uint8(h.Compression),
		uint8(h.FEC)<<4 | h.Flags,
	}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("header needs %d bytes, got %d: %w", HeaderSize, len(data), ErrInvalidInput)
	}
	h.Version = data[0] >> 4
	h.Compression = Compression(data[0] & 0x0F)
	h.FEC = FECLevel(data[1] >> 4)
	h.Flags = data[1] & 0x0F
	return nil
}

// Parsed is the result of ParsePacket
type Parsed struct {
	Header      Header
	Message     []byte
	PayloadSize int
	PacketSize  int
}

// CreatePacket compresses msg, adds parity and prepends the header
func CreatePacket(msg []byte, compression Compression, fec FECLevel) ([]byte, error) {
	var body []byte

	switch compression {
	case CompressionNone:
		body = msg
	case CompressionDictionary:
		_, compressed, err := Compress(msg)
		if err != nil {
			return nil, fmt.Errorf("compress message: %w", err)
		}
		body = compressed
	default:
		return nil, fmt.Errorf("compression %s: %w", compression, ErrInvalidInput)
	}

	nsym, ok := NSymForLevel(fec)
	if !ok {
		return nil, fmt.Errorf("fec level %s: %w", fec, ErrInvalidInput)
	}
	if nsym > 0 {
		if HeaderSize+len(body)+nsym > MaxPacketSize {
			return nil, fmt.Errorf("packet size %d exceeds %d: %w", HeaderSize+len(body)+nsym, MaxPacketSize, ErrTranslation)
		}
		encoded, err := EncodeFEC(body, nsym)
		if err != nil {
			return nil, fmt.Errorf("encode fec: %w", err)
		}
		body = encoded
	}

	if HeaderSize+len(body) > MaxPacketSize {
		return nil, fmt.Errorf("packet size %d exceeds %d: %w", HeaderSize+len(body), MaxPacketSize, ErrTranslation)
	}

	header, err := Header{Version: Version, Compression: compression, FEC: fec}.MarshalBinary()
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, HeaderSize+len(body))
	out = append(out, header...)
	return append(out, body...), nil
}

// ParsePacket validates the header, verifies parity and decompresses the payload
func ParsePacket(packet []byte) (*Parsed, error) {
	var h Header
	if err := h.UnmarshalBinary(packet); err != nil {
		return nil, err
	}
	if h.Version != Version {
		return nil, fmt.Errorf("packet version %d: %w", h.Version, ErrUnsupportedVersion)
	}

	payload := packet[HeaderSize:]

	nsym, ok := NSymForLevel(h.FEC)
	if !ok {
		return nil, fmt.Errorf("fec level %s: %w", h.FEC, ErrInvalidInput)
	}
	if nsym > 0 {
		decoded, err := DecodeFEC(payload, nsym)
		if err != nil {
			return nil, fmt.Errorf("decode fec: %w", err)
		}
		payload = decoded
	}

	var msg []byte
	switch h.Compression {
	case CompressionNone:
		msg = append([]byte(nil), payload...)
	case CompressionDictionary:
		decompressed, err := Decompress(payload)
		if err != nil {
			return nil, fmt.Errorf("decompress payload: %w", err)
		}
		msg = decompressed
	default:
		return nil, fmt.Errorf("compression %s: %w", h.Compression, ErrInvalidInput)
	}

	return &Parsed{
		Header:      h,
		Message:     msg,
		PayloadSize: len(payload),
		PacketSize:  len(packet),
	}, nil
}
