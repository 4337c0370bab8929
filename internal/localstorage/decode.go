package localstorage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

var (
	// ErrEmptyValue is returned for NULL or zero-length values
	ErrEmptyValue = errors.New("value is empty")
	// ErrInvalidUTF16 is returned for values that are not valid UTF-16LE text
	ErrInvalidUTF16 = errors.New("value is not valid UTF-16LE text")
)

var utf16LE = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// DecodeUTF16LE decodes a local-storage value blob. Odd-length input and
// unpaired surrogates are rejected rather than replaced, so a corrupt value
// is never migrated as mojibake.
func DecodeUTF16LE(b []byte) (string, error) {
	if len(b) == 0 {
		return "", ErrEmptyValue
	}
	if len(b)%2 != 0 {
		return "", fmt.Errorf("%w: odd length %d", ErrInvalidUTF16, len(b))
	}
	if i := unpairedSurrogate(b); i >= 0 {
		return "", fmt.Errorf("%w: unpaired surrogate at byte %d", ErrInvalidUTF16, i)
	}
	out, err := utf16LE.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidUTF16, err)
	}
	return string(out), nil
}

// EncodeUTF16LE encodes s the way WebKit stores local-storage values.
func EncodeUTF16LE(s string) []byte {
	out, err := utf16LE.NewEncoder().Bytes([]byte(s))
	if err != nil {
		// only reachable for invalid UTF-8, which the encoder replaces
		return nil
	}
	return out
}

// unpairedSurrogate returns the byte offset of the first unpaired surrogate
// code unit, or -1.
func unpairedSurrogate(b []byte) int {
	for i := 0; i+1 < len(b); i += 2 {
		u := binary.LittleEndian.Uint16(b[i:])
		switch {
		case u >= 0xD800 && u <= 0xDBFF:
			if i+3 >= len(b) {
				return i
			}
			next := binary.LittleEndian.Uint16(b[i+2:])
			if next < 0xDC00 || next > 0xDFFF {
				return i
			}
			i += 2
		case u >= 0xDC00 && u <= 0xDFFF:
			return i
		}
	}
	return -1
}
