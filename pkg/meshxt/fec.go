package meshxt

import (
	"fmt"
	"sync"
)

// Reed-Solomon parameters over GF(2^8)
const (
	primitivePoly = 0x11D
	maxCodeword   = 255

	NSymLow    = 16
	NSymMedium = 32
	NSymHigh   = 64
)

var (
	gfExp    [512]byte
	gfLog    [256]byte
	gfTables sync.Once
)

func initTables() {
	gfTables.Do(func() {
		x := 1
		for i := 0; i < maxCodeword; i++ {
			gfExp[i] = byte(x)
			gfLog[x] = byte(i)
			x <<= 1
			if x&0x100 != 0 {
				x ^= primitivePoly
			}
		}
		for i := maxCodeword; i < len(gfExp); i++ {
			gfExp[i] = gfExp[i-maxCodeword]
		}
	})
}

func gfMul(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	return gfExp[int(gfLog[a])+int(gfLog[b])]
}

func validNSym(nsym int) bool {
	return nsym == NSymLow || nsym == NSymMedium || nsym == NSymHigh
}

// CorrectionCapacity returns the number of symbol errors nsym parity symbols could correct.
// DecodeFEC only detects errors.
func CorrectionCapacity(nsym int) int {
	return nsym / 2
}

// generator returns the coefficients of prod(x - a^i) for i in [0, nsym), lowest degree first.
func generator(nsym int) []byte {
	gen := make([]byte, nsym+1)
	gen[0] = 1
	for i := 0; i < nsym; i++ {
		root := gfExp[i]
		for j := i + 1; j > 0; j-- {
			gen[j] = gen[j-1] ^ gfMul(gen[j], root)
		}
		gen[0] = gfMul(gen[0], root)
	}
	return gen
}

// EncodeFEC appends nsym Reed-Solomon parity symbols to msg
func EncodeFEC(msg []byte, nsym int) ([]byte, error) {
	if !validNSym(nsym) {
		return nil, fmt.Errorf("parity symbols %d: %w", nsym, ErrInvalidInput)
	}
	if len(msg)+nsym > maxCodeword {
		return nil, fmt.Errorf("codeword length %d exceeds %d: %w", len(msg)+nsym, maxCodeword, ErrInvalidInput)
	}

	initTables()
	gen := generator(nsym)

	parity := make([]byte, nsym)
	for _, b := range msg {
		feedback := b ^ parity[0]
		for j := 0; j < nsym-1; j++ {
			parity[j] = parity[j+1] ^ gfMul(gen[nsym-1-j], feedback)
		}
		parity[nsym-1] = gfMul(gen[0], feedback)
	}

	out := make([]byte, 0, len(msg)+nsym)
	out = append(out, msg...)
	return append(out, parity...), nil
}

// DecodeFEC verifies the codeword and strips its parity. Any nonzero
// syndrome fails with ErrUncorrectable.
func DecodeFEC(received []byte, nsym int) ([]byte, error) {
	if !validNSym(nsym) {
		return nil, fmt.Errorf("parity symbols %d: %w", nsym, ErrInvalidInput)
	}
	if len(received) < nsym || len(received) > maxCodeword {
		return nil, fmt.Errorf("codeword length %d: %w", len(received), ErrInvalidInput)
	}

	initTables()

	for i := 0; i < nsym; i++ {
		root := gfExp[i]
		var s byte
		for _, b := range received {
			s = gfMul(s, root) ^ b
		}
		if s != 0 {
			return nil, fmt.Errorf("syndrome %d nonzero: %w", i, ErrUncorrectable)
		}
	}

	return append([]byte(nil), received[:len(received)-nsym]...), nil
}
