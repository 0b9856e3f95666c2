package blescard

import (
	"strings"

	"github.com/google/uuid"
)

// DeviceInfo holds the standard characteristics read during discovery.
type DeviceInfo struct {
	VendorName       string `json:"vendorName,omitempty"`
	ProductName      string `json:"productName,omitempty"`
	SerialNumber     string `json:"serialNumber,omitempty"`
	FirmwareRevision string `json:"firmwareRevision,omitempty"`
	HardwareRevision string `json:"hardwareRevision,omitempty"`
	SoftwareRevision string `json:"softwareRevision,omitempty"`
	PnPID            []byte `json:"pnpId,omitempty"`
	BatteryLevel     int    `json:"batteryLevel"`
	PowerState       byte   `json:"powerState"`
}

func (d *DeviceInfo) set(char uuid.UUID, v []byte) {
	str := strings.TrimRight(string(v), "\x00")
	switch char {
	case CharManufacturerName:
		d.VendorName = str
	case CharModelNumber:
		d.ProductName = str
	case CharSerialNumber:
		d.SerialNumber = str
	case CharFirmwareRevision:
		d.FirmwareRevision = str
	case CharHardwareRevision:
		d.HardwareRevision = str
	case CharSoftwareRevision:
		d.SoftwareRevision = str
	case CharPnPID:
		d.PnPID = append([]byte(nil), v...)
	case CharBatteryLevel:
		if len(v) > 0 {
			d.BatteryLevel = int(v[0])
		}
	case CharBatteryPowerState:
		if len(v) > 0 {
			d.PowerState = v[0]
		}
	}
}

// PowerInfo is reported by Session.PowerInfo.
type PowerInfo struct {
	HasPowerState   bool
	PowerState      byte
	HasBatteryLevel bool
	BatteryLevel    int
}

// ExternalPower reports whether the battery power state announces a connected
// external source (bits 2-3 of the Battery Power State value).
func (p PowerInfo) ExternalPower() bool {
	return p.HasPowerState && (p.PowerState>>2)&0x03 == 0x03
}

// Charging reports the charging state field (bits 4-5).
func (p PowerInfo) Charging() bool {
	return p.HasPowerState && (p.PowerState>>4)&0x03 == 0x03
}
