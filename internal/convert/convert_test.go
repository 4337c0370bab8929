package convert

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nativestorage/nativestorage/internal/types"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		key      string
		expected TargetType
	}{
		{"rapid-username", String},
		{"rapid-user-changed", Boolean},
		{"rapid-automatic-download", Boolean},
		{"rapid-app-paused-timestamp", Number},
		{"rapid-last-activity-timestamp", Number},
		{"rapid-app-storage", OpaqueJSONString},
		{"rapid-notification-prompt-request", Boolean},
		{"rapid-notification-prompt-response", Boolean},
		{"rapid-rma-cognito-device-key", String},
		// substring containment, not exact match
		{"rapid-username-v2", String},
		{"rapid-42-app-storage-backup", OpaqueJSONString},
		{"rapid-unknown-thing", Unknown},
		{"rapid-", Unknown},
		{"", Unknown},
	}

	for _, tt := range tests {
		if got := Resolve(tt.key); got != tt.expected {
			t.Errorf("Resolve(%q) = %s, want %s", tt.key, got, tt.expected)
		}
	}
}

func TestResolveFirstMatchWins(t *testing.T) {
	// contains both "username" and "user-changed"; username comes first
	if got := Resolve("rapid-username-user-changed"); got != String {
		t.Errorf("Resolve = %s, want string", got)
	}
	if got := Resolve("rapid-app-paused-timestamp-app-storage"); got != Number {
		t.Errorf("Resolve = %s, want number", got)
	}
}

func TestRulesOrder(t *testing.T) {
	want := []string{
		"username",
		"user-changed",
		"automatic-download",
		"app-paused-timestamp",
		"last-activity-timestamp",
		"app-storage",
		"notification-prompt-request",
		"notification-prompt-response",
		"rma-cognito-device-key",
	}
	var got []string
	for _, r := range Rules {
		got = append(got, r.Substring)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Rules order mismatch (-want +got):\n%s", diff)
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"true", true},
		{"TRUE", true},
		{"yes", true},
		{"Y", true},
		{"1", true},
		{"  1", true},
		{"-1", true},
		{"+007", true},
		{"42", true},
		{"+y", true},
		{"-T", true},
		{"00t", true},
		{"  +0Yes", true},
		{"+-1", false},
		{"0x1", false},
		{"+", false},
		{"false", false},
		{"no", false},
		{"0", false},
		{"000", false},
		{"-0", false},
		{"", false},
		{"   ", false},
		{"null", false},
		{"0.5", false},
	}

	for _, tt := range tests {
		if got := ParseBool(tt.input); got != tt.expected {
			t.Errorf("ParseBool(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
	}{
		{"1700000000000", 1700000000000},
		{"3.25", 3.25},
		{"-2.5", -2.5},
		{"  12", 12},
		{"12abc", 12},
		{"1e3", 1000},
		{"1e", 1},
		{"1.", 1},
		{".5", 0.5},
		{"abc", 0},
		{"", 0},
		{"-", 0},
		{".", 0},
		// comma is not a decimal separator regardless of locale
		{"3,14", 3},
	}

	for _, tt := range tests {
		if got := ParseNumber(tt.input); got != tt.expected {
			t.Errorf("ParseNumber(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestParseNumberOverflow(t *testing.T) {
	if got := ParseNumber("1e999"); !math.IsInf(got, 1) {
		t.Errorf("ParseNumber(1e999) = %v, want +Inf", got)
	}
}

func TestConvert(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		typ      TargetType
		expected types.Value
	}{
		{"string verbatim", "alice", String, types.StringValue("alice")},
		{"string keeps quotes", `"alice"`, String, types.StringValue(`"alice"`)},
		{"opaque json", `{"a":1}`, OpaqueJSONString, types.StringValue(`{"a":1}`)},
		{"boolean", "true", Boolean, types.BoolValue(true)},
		{"boolean garbage", "maybe", Boolean, types.BoolValue(false)},
		{"number", "1700000000000", Number, types.DoubleValue(1700000000000)},
		{"number garbage", "soon", Number, types.DoubleValue(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Convert(tt.raw, tt.typ)
			if err != nil {
				t.Fatalf("Convert failed: %v", err)
			}
			if diff := cmp.Diff(tt.expected, got); diff != "" {
				t.Errorf("Convert mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestConvertUnknownFails(t *testing.T) {
	_, err := Convert("x", Unknown)
	if !errors.Is(err, ErrConversionFailed) {
		t.Fatalf("expected ErrConversionFailed, got %v", err)
	}
}

func TestConvertKey(t *testing.T) {
	v, typ, err := ConvertKey("rapid-user-changed", "true")
	if err != nil {
		t.Fatalf("ConvertKey failed: %v", err)
	}
	if typ != Boolean || v != types.BoolValue(true) {
		t.Errorf("ConvertKey = (%v, %s), want (true, boolean)", v, typ)
	}

	_, typ, err = ConvertKey("rapid-unknown-thing", "x")
	if !errors.Is(err, ErrConversionFailed) {
		t.Fatalf("expected ErrConversionFailed, got %v", err)
	}
	if typ != Unknown {
		t.Errorf("type = %s, want unknown", typ)
	}
}
