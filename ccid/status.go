package ccid

import (
	"errors"
	"fmt"
)

// ErrShortStatus is returned when a status value lacks the slot code bytes its header announces.
var ErrShortStatus = errors.New("ccid: status too short")

// SlotCode is the 2-bit per-slot value of the status characteristic.
type SlotCode byte

const (
	CardAbsent   SlotCode = 0x00
	CardPresent  SlotCode = 0x01
	CardRemoved  SlotCode = 0x02
	CardInserted SlotCode = 0x03
)

// Edge reports whether the code is a removal or insertion notification.
func (c SlotCode) Edge() bool {
	return c&0x02 != 0
}

func (c SlotCode) String() string {
	switch c {
	case CardAbsent:
		return "absent"
	case CardPresent:
		return "present"
	case CardRemoved:
		return "removed"
	case CardInserted:
		return "inserted"
	}
	return fmt.Sprintf("code(%d)", byte(c))
}

// Status is a decoded value of the status characteristic.
type Status struct {
	LowPower bool
	Slots    []SlotCode
}

// SlotCount returns the number of slots announced by the reader.
func (s Status) SlotCount() int {
	return len(s.Slots)
}

// ParseStatus decodes byte 0 (low power flag, slot count) and the packed slot codes,
// four slots per byte starting with the least significant bits.
func ParseStatus(b []byte) (Status, error) {
	if len(b) < 1 {
		return Status{}, ErrShortStatus
	}

	s := Status{LowPower: b[0]&0x80 != 0}
	count := int(b[0] & 0x07)
	if len(b) < 1+(count+3)/4 {
		return Status{}, fmt.Errorf("%w: %d slots in %d bytes", ErrShortStatus, count, len(b))
	}

	s.Slots = make([]SlotCode, count)
	for i := 0; i < count; i++ {
		shift := uint(i%4) * 2
		s.Slots[i] = SlotCode((b[1+i/4] >> shift) & 0x03)
	}
	return s, nil
}

// Bytes encodes the status the way a reader does.
func (s Status) Bytes() []byte {
	count := len(s.Slots) & 0x07
	b := make([]byte, 1+(count+3)/4)
	b[0] = byte(count)
	if s.LowPower {
		b[0] |= 0x80
	}
	for i := 0; i < count; i++ {
		b[1+i/4] |= byte(s.Slots[i]&0x03) << (uint(i%4) * 2)
	}
	return b
}
