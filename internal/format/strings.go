package format

import (
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// String decoding is lossy by policy: malformed sequences become U+FFFD and
// the lossy return reports that substitution happened, so callers can attach
// a diagnostic without failing the record.

// DecodeUTF16LE decodes UTF-16LE bytes. An odd trailing byte and unpaired
// surrogates are replaced with U+FFFD and flagged lossy.
func DecodeUTF16LE(b []byte) (string, bool) {
	// Fast path: pure ASCII with zero high bytes, the common case for
	// uncompressed names in western-locale hives.
	ascii := true
	for i := 0; i+1 < len(b); i += 2 {
		if b[i] > 0x7F || b[i+1] != 0 {
			ascii = false
			break
		}
	}
	if ascii && len(b)%2 == 0 {
		out := make([]byte, len(b)/2)
		for i := range out {
			out[i] = b[i*2]
		}
		return string(out), false
	}

	lossy := len(b)%2 != 0
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		units = append(units, uint16(b[i])|uint16(b[i+1])<<8)
	}

	var sb []rune
	for i := 0; i < len(units); i++ {
		u := units[i]
		switch {
		case u >= 0xD800 && u < 0xDC00: // high surrogate
			if i+1 < len(units) && units[i+1] >= 0xDC00 && units[i+1] < 0xE000 {
				sb = append(sb, utf16.DecodeRune(rune(u), rune(units[i+1])))
				i++
			} else {
				sb = append(sb, utf8.RuneError)
				lossy = true
			}
		case u >= 0xDC00 && u < 0xE000: // stray low surrogate
			sb = append(sb, utf8.RuneError)
			lossy = true
		default:
			sb = append(sb, rune(u))
		}
	}
	return string(sb), lossy
}

// DecodeWindows1252 decodes the 8-bit "compressed" name form. Windows-1252
// has a handful of unmapped code points (0x81, 0x8D, ...); those decode to
// U+FFFD and flag the result lossy.
func DecodeWindows1252(b []byte) (string, bool) {
	// Fast path: ASCII maps to itself.
	ascii := true
	for _, c := range b {
		if c > 0x7F {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b), false
	}

	dec := charmap.Windows1252
	lossy := false
	out := make([]rune, len(b))
	for i, c := range b {
		r := dec.DecodeByte(c)
		if r == utf8.RuneError {
			lossy = true
		}
		out[i] = r
	}
	return string(out), lossy
}
