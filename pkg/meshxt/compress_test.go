package meshxt

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompress_Dictionary(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []byte
	}{
		{
			name:  "repeated sos",
			input: "SOS SOS SOS",
			want:  []byte{Magic0, Magic1, markerDictionary, 0xFF, 0x01, ' ', 0xFF, 0x01, ' ', 0xFF, 0x01},
		},
		{
			name:  "adjacent words",
			input: "SOSSOS",
			want:  []byte{Magic0, Magic1, markerDictionary, 0xFF, 0x01, 0xFF, 0x01},
		},
		{
			name:  "longest word wins",
			input: "NORTH",
			want:  []byte{Magic0, Magic1, markerDictionary, 0xFF, 0x14},
		},
		{
			name:  "lowercase",
			input: "help camp",
			want:  []byte{Magic0, Magic1, markerDictionary, 0xFF, 0x02 | caseLower, ' ', 0xFF, 0x0D | caseLower},
		},
		{
			name:  "capitalized",
			input: "Water Storm",
			want:  []byte{Magic0, Magic1, markerDictionary, 0xFF, 0x0E | caseTitle, ' ', 0xFF, 0x12 | caseTitle},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, got, err := Compress([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, ModeDictionary, mode)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Compress() mismatch (-want +got):\n%s", diff)
			}

			back, err := Decompress(got)
			require.NoError(t, err)
			assert.Equal(t, tt.input, string(back))
		})
	}
}

func TestCompress_NoMidWordMatch(t *testing.T) {
	mode, got, err := Compress([]byte("BOSS"))
	require.NoError(t, err)
	assert.Equal(t, ModeRaw, mode)
	assert.Equal(t, []byte{Magic0, Magic1, 'B', 'O', 'S', 'S'}, got)
}

func TestCompress_MixedCaseCopiedLiterally(t *testing.T) {
	input := []byte("sOs hElP")
	_, got, err := Compress(input)
	require.NoError(t, err)

	back, err := Decompress(got)
	require.NoError(t, err)
	assert.Equal(t, input, back)
}

func TestCompress_RLE(t *testing.T) {
	mode, got, err := Compress(bytes.Repeat([]byte{'A'}, 10))
	require.NoError(t, err)
	assert.Equal(t, ModeRLE, mode)
	assert.Equal(t, []byte{Magic0, Magic1, markerRLE, rleEscape, 10, 'A'}, got)

	back, err := Decompress(got)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{'A'}, 10), back)
}

func TestCompress_RLELongRunSplits(t *testing.T) {
	input := bytes.Repeat([]byte{0x00}, 300)
	mode, got, err := Compress(input)
	require.NoError(t, err)
	assert.Equal(t, ModeRLE, mode)
	assert.Equal(t, []byte{Magic0, Magic1, markerRLE, rleEscape, 255, 0x00, rleEscape, 45, 0x00}, got)
}

func TestCompress_RawMarkerCollision(t *testing.T) {
	for _, first := range []byte{markerDictionary, markerRLE, markerRaw} {
		input := []byte{first, 0x01, 0x02}
		mode, got, err := Compress(input)
		require.NoError(t, err)
		assert.Equal(t, ModeRaw, mode)
		assert.Equal(t, []byte{Magic0, Magic1, markerRaw, first, 0x01, 0x02}, got)

		back, err := Decompress(got)
		require.NoError(t, err)
		assert.Equal(t, input, back)
	}
}

func TestCompress_Empty(t *testing.T) {
	_, _, err := Compress(nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCompress_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []byte{0xFE, 0xFF, 0xD0, 0xE0, 0xC0, 0x00, 'S', 'O', 's', 'o', ' ', 'N'}

	for n := 1; n <= MaxPacketSize; n++ {
		random := make([]byte, n)
		rng.Read(random)

		narrow := make([]byte, n)
		for i := range narrow {
			narrow[i] = alphabet[rng.Intn(len(alphabet))]
		}

		for _, input := range [][]byte{random, narrow, bytes.Repeat([]byte{0xFE}, n), bytes.Repeat([]byte{0xFF}, n)} {
			_, compressed, err := Compress(input)
			require.NoError(t, err)
			require.True(t, HasMagic(compressed))

			back, err := Decompress(compressed)
			require.NoError(t, err, "input %x", input)
			require.Equal(t, input, back, "input %x", input)
		}
	}
}

func TestDecompress_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"no magic", []byte{0x00, 0x01, 0x02}},
		{"magic only", []byte{Magic0, Magic1}},
		{"truncated dictionary escape", []byte{Magic0, Magic1, markerDictionary, 'A', 0xFF}},
		{"unknown dictionary code", []byte{Magic0, Magic1, markerDictionary, 0xFF, 0x7F}},
		{"both case flags", []byte{Magic0, Magic1, markerDictionary, 0xFF, 0xC1}},
		{"truncated run", []byte{Magic0, Magic1, markerRLE, rleEscape, 0x05}},
		{"zero run", []byte{Magic0, Magic1, markerRLE, rleEscape, 0x00, 'A'}},
		{"empty raw", []byte{Magic0, Magic1, markerRaw}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decompress(tt.data)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestHasMagic(t *testing.T) {
	assert.True(t, HasMagic([]byte{0x4D, 0x58}))
	assert.True(t, HasMagic([]byte{0x4D, 0x58, 0x00}))
	assert.False(t, HasMagic([]byte{0x4D}))
	assert.False(t, HasMagic([]byte("hello")))
}
