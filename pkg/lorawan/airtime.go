package lorawan

import "math"

// Modem parameters assumed by EstimateAirtime
const (
	PreambleSymbols = 8
	CodingRate      = 1 // 4/5
)

// EstimateAirtime returns a conservative on-air time in milliseconds for a
// payload of payloadLen bytes with explicit header, CRC on and low data rate
// optimisation enabled.
func EstimateAirtime(payloadLen int, dr DataRate) uint32 {
	sf := dr.SpreadFactor
	bw := dr.Bandwidth
	if sf < 6 || bw <= 0 {
		return 0
	}

	symbolMs := float64(uint(1)<<uint(sf)) / float64(bw)
	preambleMs := (PreambleSymbols + 4.25) * symbolMs

	num := float64(8*payloadLen - 4*sf + 28 + 16)
	den := float64(4 * (sf - 2))
	payloadSymbols := 8 + math.Max(math.Ceil(num/den)*(CodingRate+4), 0)

	return uint32(math.Ceil(preambleMs + payloadSymbols*symbolMs))
}
