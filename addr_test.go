package blescard

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func TestNewAddr(t *testing.T) {
	a := NewAddr(" C0:FF:EE:00:11:22")
	if a.String() != "c0:ff:ee:00:11:22" {
		t.Fatalf("got %q", a.String())
	}
	if diff := cmp.Diff([]byte{0xC0, 0xFF, 0xEE, 0x00, 0x11, 0x22}, a.Bytes()); diff != "" {
		t.Fatalf("bytes mismatch (-want +got):\n%s", diff)
	}
	if NewAddr("not-an-address").Bytes() != nil {
		t.Fatal("expected nil bytes")
	}
}

func TestParseAddr(t *testing.T) {
	tests := []struct {
		in    string
		want  string
		bytes []byte
	}{
		{"D4:F5:13:00:00:01", "d4:f5:13:00:00:01", []byte{0xD4, 0xF5, 0x13, 0x00, 0x00, 0x01}},
		{"d4-f5-13-00-00-01", "d4:f5:13:00:00:01", []byte{0xD4, 0xF5, 0x13, 0x00, 0x00, 0x01}},
		{"D4F513000001", "d4:f5:13:00:00:01", []byte{0xD4, 0xF5, 0x13, 0x00, 0x00, 0x01}},
		{
			"6E400001-B5A3-F393-E0A9-E50E24DCCA9E",
			"6e400001-b5a3-f393-e0a9-e50e24dcca9e",
			[]byte{0x6E, 0x40, 0x00, 0x01, 0xB5, 0xA3, 0xF3, 0x93, 0xE0, 0xA9, 0xE5, 0x0E, 0x24, 0xDC, 0xCA, 0x9E},
		},
	}
	for _, tt := range tests {
		a, err := ParseAddr(tt.in)
		if err != nil {
			t.Fatalf("%s: %v", tt.in, err)
		}
		if a.String() != tt.want {
			t.Errorf("%s: got %q, want %q", tt.in, a.String(), tt.want)
		}
		if diff := cmp.Diff(tt.bytes, a.Bytes()); diff != "" {
			t.Errorf("%s: bytes mismatch (-want +got):\n%s", tt.in, diff)
		}
	}

	for _, in := range []string{"", "d4:f5:13", "d4:f5:13:00:00:01:02", "zz:f5:13:00:00:01"} {
		if _, err := ParseAddr(in); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("%q: expected invalid parameter, got %v", in, err)
		}
	}
}

func TestParseAddrMatchesCacheKey(t *testing.T) {
	a, err := ParseAddr("D4-F5-13-00-00-01")
	if err != nil {
		t.Fatalf("ParseAddr: %v", err)
	}
	if a.String() != NewAddr("D4:F5:13:00:00:01").String() {
		t.Fatalf("expected the same cache key, got %q", a.String())
	}
}
