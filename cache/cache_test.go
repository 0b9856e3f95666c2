package cache

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rigado/blescard"
)

func TestDeviceCache_Store(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "test.cache"))
	addr := blescard.NewAddr("12:34:56:78:90:ab")

	rec := blescard.DeviceRecord{
		Profile:   "D600",
		SlotNames: []string{"Contactless", "Contact", "SAM"},
		Info: blescard.DeviceInfo{
			VendorName:   "SpringCard",
			SerialNumber: "0A1B2C3D",
			PnPID:        []byte{0x01, 0x33, 0x00, 0x01, 0x06, 0x00, 0x01},
			BatteryLevel: 42,
		},
		KeyCheckValue: "7df76b",
	}

	err := c.Store(addr, rec, false)
	if err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}

	loaded, err := c.Load(addr)
	if err != nil {
		t.Fatalf("expected to find address in cache but did not: %s", err)
	}

	if diff := cmp.Diff(rec, loaded); diff != "" {
		t.Fatalf("stored and loaded records differ (-want +got):\n%s", diff)
	}

	if err := c.Store(addr, rec, false); err == nil {
		t.Fatalf("expected an error when storing twice without replace")
	}
	rec.SlotNames = rec.SlotNames[:1]
	if err := c.Store(addr, rec, true); err != nil {
		t.Fatalf("expected replace to succeed: %s", err)
	}
	if loaded, _ := c.Load(addr); len(loaded.SlotNames) != 1 {
		t.Fatalf("expected the replaced record, got %+v", loaded)
	}
}

func TestDeviceCache_Clear(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "test.cache"))
	addr := blescard.NewAddr("12:34:56:78:90:ab")

	if _, err := c.Load(addr); err == nil {
		t.Fatalf("expected a miss on an empty cache")
	}
	if err := c.Store(addr, blescard.DeviceRecord{Profile: "PUCK bonded"}, false); err != nil {
		t.Fatalf("Store: %s", err)
	}
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear: %s", err)
	}
	if _, err := c.Load(addr); err == nil {
		t.Fatalf("expected a miss after Clear")
	}
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear on a missing file: %s", err)
	}
}
