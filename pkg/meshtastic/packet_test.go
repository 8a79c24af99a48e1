package meshtastic

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DarrenEdwards111/MeshXT-Satellite/pkg/meshxt"
)

func TestPacket_Binary(t *testing.T) {
	p := &Packet{
		Dest:    Broadcast,
		Source:  0x11223344,
		ID:      0xdeadbeef,
		Flags:   0x03,
		Port:    PortTextMessage,
		Payload: []byte("hi"),
	}

	b, err := p.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0xFF, 0xFF, 0xFF, 0xFF,
		0x11, 0x22, 0x33, 0x44,
		0xde, 0xad, 0xbe, 0xef,
		0x03, 0x01, 'h', 'i',
	}, b)

	got, err := Decode(b)
	require.NoError(t, err)
	if diff := cmp.Diff(p, got); diff != "" {
		t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_HeaderOnly(t *testing.T) {
	got, err := Decode(make([]byte, AddressHeaderSize))
	require.NoError(t, err)
	assert.Equal(t, PortUnknown, got.Port)
	assert.Empty(t, got.Payload)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode(make([]byte, AddressHeaderSize-1))
	assert.ErrorIs(t, err, meshxt.ErrInvalidInput)

	_, err = Decode(make([]byte, MaxFrameSize+1))
	assert.ErrorIs(t, err, meshxt.ErrInvalidInput)

	_, err = Decode(make([]byte, HeaderSize+MaxPayloadSize+1))
	assert.ErrorIs(t, err, meshxt.ErrInvalidInput)
}

func TestPacket_IsMeshXT(t *testing.T) {
	tests := []struct {
		name string
		p    Packet
		want bool
	}{
		{"private app with magic", Packet{Port: PortPrivateApp, Payload: []byte{0x4D, 0x58, 0x01}}, true},
		{"private app without magic", Packet{Port: PortPrivateApp, Payload: []byte("hello")}, false},
		{"text with magic", Packet{Port: PortTextMessage, Payload: []byte{0x4D, 0x58, 0x01}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.IsMeshXT())
		})
	}
}

func TestNodeID_String(t *testing.T) {
	assert.Equal(t, "!0000abcd", NodeID(0xabcd).String())
}

func TestParseNodeID(t *testing.T) {
	for _, s := range []string{"!0000abcd", "0x0000abcd", "abcd"} {
		id, err := ParseNodeID(s)
		require.NoError(t, err, s)
		assert.Equal(t, NodeID(0xABCD), id, s)
	}

	for _, s := range []string{"", "!", "!123456789", "zz"} {
		_, err := ParseNodeID(s)
		assert.ErrorIs(t, err, meshxt.ErrInvalidInput, s)
	}
}
