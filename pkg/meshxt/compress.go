package meshxt

import (
	"fmt"
)

// MeshXT magic prefix carried by every compressed payload
const (
	Magic0    = 0x4D
	Magic1    = 0x58
	MagicSize = 2
)

const (
	markerDictionary = 0xD0
	markerRLE        = 0xE0
	markerRaw        = 0xC0

	dictEscape = 0xFF
	rleEscape  = 0xFE

	minRun = 3
	maxRun = 255
)

// Case flags OR'ed into a dictionary code
const (
	caseUpper = 0x00
	caseTitle = 0x40
	caseLower = 0x80
	caseMask  = 0xC0
)

// Mode identifies the body encoding chosen by Compress
type Mode uint8

const (
	ModeRaw Mode = iota
	ModeDictionary
	ModeRLE
)

// String returns the mode name
func (m Mode) String() string {
	switch m {
	case ModeRaw:
		return "raw"
	case ModeDictionary:
		return "dictionary"
	case ModeRLE:
		return "rle"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

type dictEntry struct {
	word string
	code byte
}

// Common mesh message words. Order and codes are part of the wire format.
var dictionary = []dictEntry{
	{"SOS", 0x01},
	{"HELP", 0x02},
	{"OK", 0x03},
	{"YES", 0x04},
	{"NO", 0x05},
	{"POSITION", 0x06},
	{"BATTERY", 0x07},
	{"LOW", 0x08},
	{"CHECK", 0x09},
	{"SAFE", 0x0A},
	{"MOVING", 0x0B},
	{"STOPPED", 0x0C},
	{"CAMP", 0x0D},
	{"WATER", 0x0E},
	{"EMERGENCY", 0x0F},
	{"WEATHER", 0x10},
	{"CLEAR", 0x11},
	{"STORM", 0x12},
	{"TRAIL", 0x13},
	{"NORTH", 0x14},
	{"SOUTH", 0x15},
	{"EAST", 0x16},
	{"WEST", 0x17},
	{"COPY", 0x18},
	{"ROGER", 0x19},
	{"OVER", 0x1A},
	{"OUT", 0x1B},
}

// HasMagic reports whether b starts with the MeshXT magic
func HasMagic(b []byte) bool {
	return len(b) >= MagicSize && b[0] == Magic0 && b[1] == Magic1
}

// Compress encodes input with the first scheme that shrinks it,
// falling back to raw storage. The result always starts with the magic.
func Compress(input []byte) (Mode, []byte, error) {
	if len(input) == 0 {
		return ModeRaw, nil, fmt.Errorf("compress empty input: %w", ErrInvalidInput)
	}

	if body := dictionaryEncode(input); len(body) < len(input) {
		return ModeDictionary, withMagic(body), nil
	}

	if body := rleEncode(input); len(body) < len(input) {
		return ModeRLE, withMagic(body), nil
	}

	return ModeRaw, withMagic(rawEncode(input)), nil
}

// Decompress reverses Compress
func Decompress(data []byte) ([]byte, error) {
	if !HasMagic(data) {
		return nil, fmt.Errorf("missing magic: %w", ErrInvalidInput)
	}

	body := data[MagicSize:]
	if len(body) == 0 {
		return nil, fmt.Errorf("empty body: %w", ErrInvalidInput)
	}

	switch body[0] {
	case markerDictionary:
		return dictionaryDecode(body[1:])
	case markerRLE:
		return rleDecode(body[1:])
	case markerRaw:
		if len(body) == 1 {
			return nil, fmt.Errorf("empty raw body: %w", ErrInvalidInput)
		}
		return append([]byte(nil), body[1:]...), nil
	default:
		return append([]byte(nil), body...), nil
	}
}

func withMagic(body []byte) []byte {
	out := make([]byte, 0, MagicSize+len(body))
	out = append(out, Magic0, Magic1)
	return append(out, body...)
}

func rawEncode(input []byte) []byte {
	switch input[0] {
	case markerDictionary, markerRLE, markerRaw:
		return append([]byte{markerRaw}, input...)
	}
	return input
}

func dictionaryEncode(input []byte) []byte {
	out := make([]byte, 0, len(input)+1)
	out = append(out, markerDictionary)

	for i := 0; i < len(input); {
		if entry, flag, ok := matchWord(input[i:]); ok {
			out = append(out, dictEscape, entry.code|flag)
			i += len(entry.word)
			continue
		}

		if input[i] == dictEscape {
			out = append(out, dictEscape, dictEscape)
		} else {
			out = append(out, input[i])
		}
		i++
	}

	return out
}

// matchWord finds the longest dictionary word at the start of b whose
// casing can be restored from a case flag.
func matchWord(b []byte) (dictEntry, byte, bool) {
	var (
		best     dictEntry
		bestFlag byte
		found    bool
	)

	for _, entry := range dictionary {
		if len(entry.word) > len(b) || (found && len(entry.word) <= len(best.word)) {
			continue
		}
		flag, ok := caseOf(b[:len(entry.word)], entry.word)
		if !ok {
			continue
		}
		best, bestFlag, found = entry, flag, true
	}

	return best, bestFlag, found
}

func caseOf(candidate []byte, word string) (byte, bool) {
	upper, lower, title := true, true, true

	for i := 0; i < len(word); i++ {
		c := candidate[i]
		switch {
		case c == word[i]:
			lower = false
			if i > 0 {
				title = false
			}
		case c == word[i]+('a'-'A'):
			upper = false
			if i == 0 {
				title = false
			}
		default:
			return 0, false
		}
	}

	switch {
	case upper:
		return caseUpper, true
	case lower:
		return caseLower, true
	case title:
		return caseTitle, true
	}
	return 0, false
}

func applyCase(word string, flag byte) []byte {
	out := []byte(word)
	for i := range out {
		if flag == caseLower || (flag == caseTitle && i > 0) {
			out[i] += 'a' - 'A'
		}
	}
	return out
}

func lookupWord(code byte) (string, bool) {
	for _, entry := range dictionary {
		if entry.code == code {
			return entry.word, true
		}
	}
	return "", false
}

func dictionaryDecode(body []byte) ([]byte, error) {
	out := make([]byte, 0, len(body)*2)

	for i := 0; i < len(body); i++ {
		if body[i] != dictEscape {
			out = append(out, body[i])
			continue
		}

		if i+1 >= len(body) {
			return nil, fmt.Errorf("truncated dictionary escape at %d: %w", i, ErrInvalidInput)
		}
		i++

		code := body[i]
		if code == dictEscape {
			out = append(out, dictEscape)
			continue
		}

		flag := code & caseMask
		if flag == caseMask {
			return nil, fmt.Errorf("invalid case flag in code 0x%02x: %w", code, ErrInvalidInput)
		}
		word, ok := lookupWord(code &^ caseMask)
		if !ok {
			return nil, fmt.Errorf("unknown dictionary code 0x%02x: %w", code, ErrInvalidInput)
		}
		out = append(out, applyCase(word, flag)...)
	}

	return out, nil
}

func rleEncode(input []byte) []byte {
	out := make([]byte, 0, len(input)+1)
	out = append(out, markerRLE)

	for i := 0; i < len(input); {
		b := input[i]
		n := 1
		for i+n < len(input) && input[i+n] == b && n < maxRun {
			n++
		}

		if n >= minRun || b == rleEscape {
			out = append(out, rleEscape, byte(n), b)
		} else {
			for j := 0; j < n; j++ {
				out = append(out, b)
			}
		}
		i += n
	}

	return out
}

func rleDecode(body []byte) ([]byte, error) {
	out := make([]byte, 0, len(body)*2)

	for i := 0; i < len(body); i++ {
		if body[i] != rleEscape {
			out = append(out, body[i])
			continue
		}

		if i+2 >= len(body) {
			return nil, fmt.Errorf("truncated run token at %d: %w", i, ErrInvalidInput)
		}
		count, b := int(body[i+1]), body[i+2]
		if count == 0 {
			return nil, fmt.Errorf("zero-length run at %d: %w", i, ErrInvalidInput)
		}
		for j := 0; j < count; j++ {
			out = append(out, b)
		}
		i += 2
	}

	return out, nil
}
