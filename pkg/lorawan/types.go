package lorawan

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// EUI64 represents an 8-byte Extended Unique Identifier
type EUI64 [8]byte

// ParseEUI64 parses a 16 character hex string
func ParseEUI64(s string) (EUI64, error) {
	var e EUI64
	if err := decodeHex(e[:], s); err != nil {
		return e, fmt.Errorf("parse EUI64: %w", err)
	}
	return e, nil
}

// String returns hex string representation
func (e EUI64) String() string {
	return hex.EncodeToString(e[:])
}

// IsZero reports whether all bytes are zero
func (e EUI64) IsZero() bool {
	return e == EUI64{}
}

// MarshalJSON implements json.Marshaler
func (e EUI64) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (e *EUI64) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := ParseEUI64(s)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// DevAddr represents a 4-byte device address
type DevAddr [4]byte

// ParseDevAddr parses an 8 character hex string
func ParseDevAddr(s string) (DevAddr, error) {
	var d DevAddr
	if err := decodeHex(d[:], s); err != nil {
		return d, fmt.Errorf("parse DevAddr: %w", err)
	}
	return d, nil
}

// String returns hex string representation
func (d DevAddr) String() string {
	return hex.EncodeToString(d[:])
}

// MarshalJSON implements json.Marshaler
func (d DevAddr) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (d *DevAddr) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := ParseDevAddr(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func decodeHex(dst []byte, s string) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != len(dst) {
		return fmt.Errorf("invalid length %d, expected %d bytes", len(b), len(dst))
	}
	copy(dst, b)
	return nil
}
