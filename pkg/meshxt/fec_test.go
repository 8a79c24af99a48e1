package meshxt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGFTables(t *testing.T) {
	initTables()

	assert.Equal(t, byte(1), gfExp[0])
	assert.Equal(t, byte(2), gfExp[1])
	assert.Equal(t, byte(0x1D), gfExp[8])
	assert.Equal(t, gfExp[10], gfExp[10+maxCodeword])

	for a := 1; a < 256; a++ {
		assert.Equal(t, byte(a), gfExp[gfLog[a]])
	}
}

func TestEncodeFEC_Length(t *testing.T) {
	msg := []byte("MESHXT SATELLITE!")
	require.Len(t, msg, 17)

	for _, nsym := range []int{NSymLow, NSymMedium, NSymHigh} {
		out, err := EncodeFEC(msg, nsym)
		require.NoError(t, err)
		assert.Len(t, out, len(msg)+nsym)
		assert.Equal(t, msg, out[:len(msg)])
	}
}

func TestDecodeFEC_Clean(t *testing.T) {
	msg := []byte("MESHXT SATELLITE!")

	for _, nsym := range []int{NSymLow, NSymMedium, NSymHigh} {
		encoded, err := EncodeFEC(msg, nsym)
		require.NoError(t, err)

		decoded, err := DecodeFEC(encoded, nsym)
		require.NoError(t, err)
		assert.Equal(t, msg, decoded)
	}
}

func TestDecodeFEC_DetectsSingleError(t *testing.T) {
	msg := []byte("MESHXT SATELLITE!")
	encoded, err := EncodeFEC(msg, NSymLow)
	require.NoError(t, err)

	for i := range encoded {
		corrupted := append([]byte(nil), encoded...)
		corrupted[i] ^= 0x5A

		_, err := DecodeFEC(corrupted, NSymLow)
		assert.ErrorIs(t, err, ErrUncorrectable, "corrupted byte %d", i)
	}
}

func TestEncodeFEC_Invalid(t *testing.T) {
	_, err := EncodeFEC([]byte("abc"), 4)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = EncodeFEC(make([]byte, 240), NSymLow)
	assert.ErrorIs(t, err, ErrInvalidInput)

	out, err := EncodeFEC(make([]byte, 239), NSymLow)
	require.NoError(t, err)
	assert.Len(t, out, maxCodeword)
}

func TestDecodeFEC_Invalid(t *testing.T) {
	_, err := DecodeFEC(make([]byte, 20), 8)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = DecodeFEC(make([]byte, 10), NSymLow)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCorrectionCapacity(t *testing.T) {
	assert.Equal(t, 8, CorrectionCapacity(NSymLow))
	assert.Equal(t, 16, CorrectionCapacity(NSymMedium))
	assert.Equal(t, 32, CorrectionCapacity(NSymHigh))
}
