// Package parser decodes the SIG characteristic values a reader exposes next to
// its card service.
package parser

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

var EmptyOrNilValue = errors.New("nil/empty value")

// https://www.bluetooth.com/specifications/assigned-numbers/ (PnP ID vendor id source)
var vendorSources = map[byte]string{
	0x01: "bluetooth",
	0x02: "usb",
}

// PnPID is the Device Information PnP ID characteristic (0x2A50).
type PnPID struct {
	VendorIDSource byte
	VendorID       uint16
	ProductID      uint16
	ProductVersion uint16
}

func (p PnPID) String() string {
	src, ok := vendorSources[p.VendorIDSource]
	if !ok {
		src = fmt.Sprintf("source(%d)", p.VendorIDSource)
	}
	return fmt.Sprintf("%s:%04x:%04x v%x.%02x", src, p.VendorID, p.ProductID, p.ProductVersion>>8, p.ProductVersion&0xff)
}

// ParsePnPID decodes a PnP ID value, little endian as all SIG values.
func ParsePnPID(b []byte) (PnPID, error) {
	if len(b) == 0 {
		return PnPID{}, EmptyOrNilValue
	}
	if len(b) < 7 {
		return PnPID{}, fmt.Errorf("pnp id: want 7 bytes, have %v", len(b))
	}
	return PnPID{
		VendorIDSource: b[0],
		VendorID:       binary.LittleEndian.Uint16(b[1:]),
		ProductID:      binary.LittleEndian.Uint16(b[3:]),
		ProductVersion: binary.LittleEndian.Uint16(b[5:]),
	}, nil
}

var keys = struct {
	present     string
	discharging string
	charging    string
	level       string
}{
	present:     "present",
	discharging: "discharging",
	charging:    "charging",
	level:       "level",
}

type fieldRecord struct {
	shift  uint
	values [4]string
}

// Battery Power State (0x2A1A) packs four 2 bit fields.
var powerStateDecodeMap = map[string]fieldRecord{
	keys.present:     {0, [4]string{"unknown", "not supported", "not present", "present"}},
	keys.discharging: {2, [4]string{"unknown", "not supported", "not discharging", "discharging"}},
	keys.charging:    {4, [4]string{"unknown", "not chargeable", "not charging", "charging"}},
	keys.level:       {6, [4]string{"unknown", "not supported", "good", "critically low"}},
}

// ParsePowerState decodes a Battery Power State value into its named fields.
func ParsePowerState(v byte) map[string]string {
	m := make(map[string]string, len(powerStateDecodeMap))
	for k, dec := range powerStateDecodeMap {
		m[k] = dec.values[(v>>dec.shift)&0x03]
	}
	return m
}

// PowerStateField returns the raw 2 bit value of one field of a Battery Power State.
func PowerStateField(v byte, key string) (byte, error) {
	dec, ok := powerStateDecodeMap[key]
	if !ok {
		return 0, fmt.Errorf("unknown power state field %q", key)
	}
	return (v >> dec.shift) & 0x03, nil
}
