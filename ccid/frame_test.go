package ccid

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCommandHeaderRoundTrip(t *testing.T) {
	tests := []CommandHeader{
		{Command: PowerOn, Slot: 0, Sequence: 0},
		{Command: XfrBlock, Length: 5, Slot: 1, Sequence: 255},
		{Command: Escape, Length: 0x7FFFFFFF, Slot: 7, Sequence: 128, Params: [3]byte{1, 2, 3}},
		{Command: XfrBlock, Length: 24, Encrypted: true, Slot: 2, Sequence: 9},
		{Command: GetSlotStatus, Length: 0, Encrypted: true},
	}

	for _, h := range tests {
		got, err := DecodeCommandHeader(h.Bytes())
		if err != nil {
			t.Fatalf("decode %+v: %v", h, err)
		}
		if diff := cmp.Diff(h, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestResponseHeaderRoundTrip(t *testing.T) {
	tests := []ResponseHeader{
		{Code: DataBlock, Length: 19, Slot: 0, Sequence: 3},
		{Code: SlotStatus, Slot: 2, Sequence: 200, SlotStatus: 0x42, SlotError: 0xFE},
		{Code: EscapeResponse, Length: 32, Encrypted: true, Sequence: 255, RFU: 0x01},
	}

	for _, h := range tests {
		got, err := DecodeResponseHeader(h.Bytes())
		if err != nil {
			t.Fatalf("decode %+v: %v", h, err)
		}
		if diff := cmp.Diff(h, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestEncryptedBitIndependentOfLength(t *testing.T) {
	h := CommandHeader{Command: XfrBlock, Length: 0x10, Encrypted: true}
	b := h.Bytes()
	want := []byte{0x6F, 0x10, 0x00, 0x00, 0x80, 0, 0, 0, 0, 0}
	if !bytes.Equal(b, want) {
		t.Fatalf("got % X, want % X", b, want)
	}

	h.Encrypted = false
	if b := h.Bytes(); b[4] != 0x00 || b[1] != 0x10 {
		t.Fatalf("length bytes % X", b[1:5])
	}
}

func TestDecodeResponseHeaderErrors(t *testing.T) {
	if _, err := DecodeResponseHeader([]byte{0x80, 0, 0}); !errors.Is(err, ErrShortHeader) {
		t.Fatalf("short header: got %v", err)
	}
	if _, err := DecodeResponseHeader([]byte{0x82, 0, 0, 0, 0, 0, 0, 0, 0, 0}); !errors.Is(err, ErrUnknownResponse) {
		t.Fatalf("unknown code: got %v", err)
	}
}

func TestParseResponse(t *testing.T) {
	h := ResponseHeader{Code: DataBlock, Length: 4, Sequence: 1}
	full := append(h.Bytes(), 0x3B, 0x00, 0x90, 0x00)

	f, err := ParseResponse(full)
	if err != nil {
		t.Fatal(err)
	}
	if f.Long || !f.Complete() {
		t.Fatalf("expected complete frame, got %v", f)
	}
	if !bytes.Equal(f.Payload, []byte{0x3B, 0x00, 0x90, 0x00}) {
		t.Fatalf("payload % X", f.Payload)
	}

	f, err = ParseResponse(full[:12])
	if err != nil {
		t.Fatal(err)
	}
	if !f.Long || f.Complete() || len(f.Payload) != 2 {
		t.Fatalf("expected long frame with 2 bytes, got %v", f)
	}
}

func TestParseResponseIgnoresTrailingBytes(t *testing.T) {
	h := ResponseHeader{Code: SlotStatus}
	f, err := ParseResponse(append(h.Bytes(), 0xAA, 0xBB))
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Payload) != 0 || !f.Complete() {
		t.Fatalf("got %v", f)
	}
}

func TestNewCommandCopiesPayload(t *testing.T) {
	p := []byte{0x00, 0xA4, 0x04, 0x00}
	f := NewCommand(XfrBlock, 1, 7, p)
	p[0] = 0xFF

	want := []byte{0x6F, 0x04, 0x00, 0x00, 0x00, 0x01, 0x07, 0x00, 0x00, 0x00, 0x00, 0xA4, 0x04, 0x00}
	if got := f.Bytes(); !bytes.Equal(got, want) {
		t.Fatalf("got % X, want % X", got, want)
	}
}

func TestSlotState(t *testing.T) {
	s := DecodeSlotState(0x42)
	if s.Icc != IccAbsent || s.Command != CommandFailed {
		t.Fatalf("got %+v", s)
	}
	if s.String() != "icc absent, command failed" {
		t.Fatalf("got %q", s.String())
	}
}

func TestSlotErrorString(t *testing.T) {
	tests := []struct {
		e    SlotError
		want string
	}{
		{ErrIccMute, "ICC_MUTE"},
		{ErrCmdSlotBusy, "CMD_SLOT_BUSY"},
		{ErrBadAtrTCK, "BAD_ATR_TCK"},
		{SlotError(0x10), "0x10"},
	}
	for _, tt := range tests {
		if got := tt.e.String(); got != tt.want {
			t.Errorf("%02X: got %q, want %q", byte(tt.e), got, tt.want)
		}
	}
}
