// Package convert maps legacy local-storage keys to value types and turns
// decoded text into typed destination values.
package convert

import "strings"

// TargetType is the semantic type a migrated key is stored as
type TargetType int

// TargetType constants
const (
	Unknown TargetType = iota
	String
	Boolean
	Number
	OpaqueJSONString
)

func (t TargetType) String() string {
	switch t {
	case String:
		return "string"
	case Boolean:
		return "boolean"
	case Number:
		return "number"
	case OpaqueJSONString:
		return "opaque-json-string"
	}
	return "unknown"
}

// Rule maps a key substring to a target type
type Rule struct {
	Substring string
	Type      TargetType
}

// Rules is evaluated in order and the first matching substring wins, so
// entries must not be reordered.
var Rules = []Rule{
	{"username", String},
	{"user-changed", Boolean},
	{"automatic-download", Boolean},
	{"app-paused-timestamp", Number},
	{"last-activity-timestamp", Number},
	{"app-storage", OpaqueJSONString},
	{"notification-prompt-request", Boolean},
	{"notification-prompt-response", Boolean},
	{"rma-cognito-device-key", String},
}

// Resolve returns the target type for key. Keys that match no rule resolve
// to Unknown.
func Resolve(key string) TargetType {
	for _, r := range Rules {
		if strings.Contains(key, r.Substring) {
			return r.Type
		}
	}
	return Unknown
}
