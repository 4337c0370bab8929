package convert

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/nativestorage/nativestorage/internal/types"
)

// ErrConversionFailed is returned for keys whose type cannot be resolved
var ErrConversionFailed = errors.New("failed to convert migration data")

// Convert turns raw into the canonical value for t.
//
// String and OpaqueJSONString values are stored as the raw text. The
// app-storage blob is already serialized by the web app, so it is kept as
// an opaque string rather than being re-encoded.
func Convert(raw string, t TargetType) (types.Value, error) {
	switch t {
	case String, OpaqueJSONString:
		return types.StringValue(raw), nil
	case Boolean:
		return types.BoolValue(ParseBool(raw)), nil
	case Number:
		return types.DoubleValue(ParseNumber(raw)), nil
	}
	return types.Value{}, fmt.Errorf("%w: type %s", ErrConversionFailed, t)
}

// ConvertKey resolves the type for key and converts raw.
func ConvertKey(key, raw string) (types.Value, TargetType, error) {
	t := Resolve(key)
	v, err := Convert(raw, t)
	if err != nil {
		return types.Value{}, t, fmt.Errorf("key %q: %w", key, err)
	}
	return v, t, nil
}

// ParseBool uses the permissive numeric-string convention: leading
// whitespace, one optional sign and leading zeros are skipped, and the
// value is true when the next character is y, Y, t, T or a digit 1-9.
// Everything else is false.
func ParseBool(s string) bool {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	if s != "" && (s[0] == '+' || s[0] == '-') {
		s = s[1:]
	}
	s = strings.TrimLeft(s, "0")
	if s == "" {
		return false
	}
	switch c := s[0]; {
	case c == 'y' || c == 'Y' || c == 't' || c == 'T':
		return true
	default:
		return c >= '1' && c <= '9'
	}
}

// ParseNumber parses the longest leading decimal number in s, ignoring
// leading whitespace and trailing garbage. It never fails; unparsable
// input yields 0. Parsing does not depend on the process locale.
func ParseNumber(s string) float64 {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	end := numericPrefixLen(s)
	if end == 0 {
		return 0
	}
	f, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		// out of range values come back as ±Inf with ErrRange
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
			return f
		}
		return 0
	}
	return f
}

// numericPrefixLen returns the length of the longest prefix of s matching
// [+-]?digits[.digits]([eE][+-]?digits)?
func numericPrefixLen(s string) int {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		j := i + 1
		frac := 0
		for j < len(s) && isDigit(s[j]) {
			j++
			frac++
		}
		if digits > 0 || frac > 0 {
			i = j
			digits += frac
		}
	}
	if digits == 0 {
		return 0
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		exp := 0
		for j < len(s) && isDigit(s[j]) {
			j++
			exp++
		}
		if exp > 0 {
			i = j
		}
	}
	return i
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
