package blescard

import (
	"github.com/google/uuid"
)

// Profile describes the GATT layout of one reader family.
type Profile struct {
	Name    string
	Service uuid.UUID
	// PCToRDR receives command frames (write).
	PCToRDR uuid.UUID
	// RDRToPC delivers response frames (notify).
	RDRToPC uuid.UUID
	// Status carries the low power flag and slot codes (read and notify).
	Status uuid.UUID
	Bonded bool
}

// Profiles is the table of known readers, matched in order against discovered services.
var Profiles = []Profile{
	{
		Name:    "D600",
		Service: uuid.MustParse("6CB501B7-96F6-4EEF-ACB1-D7535F153CF0"),
		PCToRDR: uuid.MustParse("91ACE9FD-EDD6-40B1-BA77-050A78CF9BC0"),
		RDRToPC: uuid.MustParse("94EDE62E-0808-46F8-91EC-AC0272D67796"),
		Status:  uuid.MustParse("7C334BC2-1812-4C7E-A81D-591F92933C37"),
	},
	{
		Name:    "PUCK unbonded",
		Service: uuid.MustParse("F91C914F-367C-4108-AC3E-3D30CFDD0A1A"),
		PCToRDR: uuid.MustParse("281EBED4-86C4-4253-84F1-57FB9AB2F72C"),
		RDRToPC: uuid.MustParse("811DC7A6-A573-4E15-89CC-7EFACAE04E3C"),
		Status:  uuid.MustParse("EAB75CAB-C7DC-4DB9-874C-4AD8EE0F180F"),
	},
	{
		Name:    "PUCK bonded",
		Service: uuid.MustParse("7F20CDC5-A9FC-4C70-9292-3ACF9DE71F73"),
		PCToRDR: uuid.MustParse("CD5BCE75-65FC-4747-AB9A-FF82BFDFA7FB"),
		RDRToPC: uuid.MustParse("94EDE62E-0808-46F8-91EC-AC0272D67796"),
		Status:  uuid.MustParse("DC2AA4CA-76A9-43F9-9FE5-127652837EF5"),
		Bonded:  true,
	},
}

// ProfileByName returns the profile with the given name.
func ProfileByName(name string) (Profile, bool) {
	for _, p := range Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// ServiceUUIDs returns the primary service of every known profile, for scan filters.
func ServiceUUIDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(Profiles))
	for _, p := range Profiles {
		out = append(out, p.Service)
	}
	return out
}

// MatchProfile picks the first known profile whose service was discovered.
// It fails with MissingService when none is present and MissingCharacteristic
// when the service lacks one of the three mandatory characteristics.
func MatchProfile(services map[uuid.UUID][]uuid.UUID) (Profile, error) {
	for _, p := range Profiles {
		chars, ok := services[p.Service]
		if !ok {
			continue
		}
		for _, want := range []uuid.UUID{p.PCToRDR, p.RDRToPC, p.Status} {
			if !containsUUID(chars, want) {
				return p, newError(KindMissingCharacteristic, "%s: %v", p.Name, want)
			}
		}
		return p, nil
	}
	return Profile{}, newError(KindMissingService, "no known reader service")
}

func containsUUID(list []uuid.UUID, u uuid.UUID) bool {
	for _, v := range list {
		if v == u {
			return true
		}
	}
	return false
}

// SIG assigned numbers used by the readers.
var (
	ServiceGenericAccess      = sigUUID(0x1800)
	ServiceGenericAttribute   = sigUUID(0x1801)
	ServiceDeviceInformation  = sigUUID(0x180A)
	ServiceTxPower            = sigUUID(0x1804)
	ServiceBattery            = sigUUID(0x180F)
	CharDeviceName            = sigUUID(0x2A00)
	CharAppearance            = sigUUID(0x2A01)
	CharServiceChanged        = sigUUID(0x2A05)
	CharTxPowerLevel          = sigUUID(0x2A07)
	CharModelNumber           = sigUUID(0x2A24)
	CharSerialNumber          = sigUUID(0x2A25)
	CharFirmwareRevision      = sigUUID(0x2A26)
	CharHardwareRevision      = sigUUID(0x2A27)
	CharSoftwareRevision      = sigUUID(0x2A28)
	CharManufacturerName      = sigUUID(0x2A29)
	CharPnPID                 = sigUUID(0x2A50)
	CharBatteryLevel          = sigUUID(0x2A19)
	CharBatteryPowerState     = sigUUID(0x2A1A)
	bluetoothBaseUUIDSuffix   = [12]byte{0x00, 0x00, 0x10, 0x00, 0x80, 0x00, 0x00, 0x80, 0x5F, 0x9B, 0x34, 0xFB}
	commonCharacteristicOrder = []uuid.UUID{
		CharManufacturerName,
		CharModelNumber,
		CharSerialNumber,
		CharFirmwareRevision,
		CharHardwareRevision,
		CharSoftwareRevision,
		CharPnPID,
		CharBatteryLevel,
		CharBatteryPowerState,
	}
)

// sigUUID expands a 16-bit assigned number over the Bluetooth base UUID.
func sigUUID(short uint16) uuid.UUID {
	var u uuid.UUID
	u[2] = byte(short >> 8)
	u[3] = byte(short)
	copy(u[4:], bluetoothBaseUUIDSuffix[:])
	return u
}
