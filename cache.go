package blescard

// DeviceCache persists what a session learned about a reader, keyed by address.
type DeviceCache interface {
	Store(Addr, DeviceRecord, bool) error
	Load(Addr) (DeviceRecord, error)
	Clear() error
}

// DeviceRecord is the cached view of a reader.
type DeviceRecord struct {
	Profile       string     `json:"profile"`
	SlotNames     []string   `json:"slotNames"`
	Info          DeviceInfo `json:"info"`
	KeyCheckValue string     `json:"kcv,omitempty"`
}
