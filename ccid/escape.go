package ccid

import (
	"errors"
	"unicode/utf8"
)

// ErrEscapeFailed is returned when the reader answers an escape command with an error.
var ErrEscapeFailed = errors.New("ccid: escape command failed")

const escapeVendor = 0x58

// SlotNameCommand returns the escape payload that asks for the name of slot idx.
func SlotNameCommand(idx int) []byte {
	return []byte{escapeVendor, 0x21, byte(idx)}
}

// ShutdownCommand returns the escape payload that switches the reader off.
func ShutdownCommand() []byte {
	return []byte{escapeVendor, 0xAF, 0xDE, 0xAD}
}

// ParseSlotName extracts the name from the answer to SlotNameCommand.
func ParseSlotName(f *InboundFrame) (string, error) {
	if f.Header.Code != EscapeResponse {
		return "", ErrUnknownResponse
	}
	if len(f.Payload) < 1 || f.Payload[0] != 0x00 {
		return "", ErrEscapeFailed
	}
	name := f.Payload[1:]
	if !utf8.Valid(name) {
		return "", ErrEscapeFailed
	}
	return string(name), nil
}
