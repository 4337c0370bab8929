// Package types defines the core data types shared by the migrator and the
// destination store.
package types

import (
	"fmt"
	"strconv"
)

// Kind identifies the concrete type held by a Value
type Kind string

// Kind constants
const (
	KindString Kind = "string"
	KindBool   Kind = "bool"
	KindInt    Kind = "int"
	KindDouble Kind = "double"
)

// IsValid reports whether k is one of the known kinds
func (k Kind) IsValid() bool {
	switch k {
	case KindString, KindBool, KindInt, KindDouble:
		return true
	}
	return false
}

// Value is a typed destination value. Exactly one of the payload fields is
// meaningful, selected by Kind.
type Value struct {
	Kind  Kind
	Str   string
	Bool  bool
	Int   int64
	Float float64
}

// StringValue returns a string Value
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// BoolValue returns a boolean Value
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// IntValue returns an integer Value
func IntValue(i int64) Value { return Value{Kind: KindInt, Int: i} }

// DoubleValue returns a double Value
func DoubleValue(f float64) Value { return Value{Kind: KindDouble, Float: f} }

// Interface returns the payload as a plain Go value.
func (v Value) Interface() interface{} {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindDouble:
		return v.Float
	}
	return nil
}

// String renders the payload for display.
func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindDouble:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	}
	return fmt.Sprintf("<invalid kind %q>", string(v.Kind))
}

// Record is a legacy local-storage row that passed the prefix filter and
// whose value decoded as text.
type Record struct {
	Key   string
	Value string
}
