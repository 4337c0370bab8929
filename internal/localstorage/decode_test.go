package localstorage

import (
	"errors"
	"testing"
)

func TestDecodeUTF16LE(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		want    string
		wantErr error
	}{
		{"ascii", []byte{'a', 0, 'b', 0}, "ab", nil},
		{"latin", []byte{0xe9, 0x00}, "é", nil},
		{"surrogate pair", []byte{0x3d, 0xd8, 0x4b, 0xdc}, "👋", nil},
		{"empty", nil, "", ErrEmptyValue},
		{"odd length", []byte{'a', 0, 'b'}, "", ErrInvalidUTF16},
		{"lone high surrogate", []byte{0x3d, 0xd8, 'a', 0}, "", ErrInvalidUTF16},
		{"trailing high surrogate", []byte{'a', 0, 0x3d, 0xd8}, "", ErrInvalidUTF16},
		{"lone low surrogate", []byte{0x4b, 0xdc}, "", ErrInvalidUTF16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeUTF16LE(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeUTF16LE failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("DecodeUTF16LE = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, s := range []string{"alice", `{"a":[1,2]}`, "1700000000000", "日本語 ✓ 👋"} {
		got, err := DecodeUTF16LE(EncodeUTF16LE(s))
		if err != nil {
			t.Fatalf("round trip of %q failed: %v", s, err)
		}
		if got != s {
			t.Errorf("round trip = %q, want %q", got, s)
		}
	}
}
