package propcodec

import (
	"fmt"
	"unicode/utf16"
	"unicode/utf8"
)

// encodeUTF16LE converts a Go (UTF-8) string to null-terminated UTF-16LE
// bytes, the wire form the codec always uses for Unicode properties
// regardless of internal storage (spec §9 design notes).
func encodeUTF16LE(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 0, len(units)*2+2)
	for _, u := range units {
		out = append(out, byte(u), byte(u>>8))
	}
	out = append(out, 0, 0)
	return out
}

// decodeUTF16LE parses null-terminated UTF-16LE bytes (terminator included
// in the input) back to a Go string.
func decodeUTF16LE(b []byte) (string, error) {
	if len(b) < 2 || len(b)%2 != 0 {
		return "", errBadUnicode(len(b))
	}
	n := len(b)/2 - 1 // drop the terminating code unit
	units := make([]uint16, n)
	for i := 0; i < n; i++ {
		units[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
	}
	runes := utf16.Decode(units)
	var buf []byte
	tmp := make([]byte, utf8.UTFMax)
	for _, r := range runes {
		m := utf8.EncodeRune(tmp, r)
		buf = append(buf, tmp[:m]...)
	}
	return string(buf), nil
}

func errBadUnicode(n int) error {
	return fmt.Errorf("propcodec: unicode payload length must be a non-zero even number of bytes including terminator, got %d", n)
}
