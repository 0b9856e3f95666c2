package blescard

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Addr identifies a reader: its BLE MAC on Linux and Windows, the peripheral
// UUID assigned by CoreBluetooth on macOS. It keys the device cache.
type Addr interface {
	String() string
	Bytes() []byte
}

// NewAddr wraps s without checking it. Letters are lowered so that the same
// reader always maps to the same cache record.
func NewAddr(s string) Addr {
	return readerAddr(strings.ToLower(strings.TrimSpace(s)))
}

// ParseAddr accepts a 48-bit MAC, with ':' or '-' separators or none, or a
// peripheral UUID. MACs are normalized to colon form.
func ParseAddr(s string) (Addr, error) {
	s = strings.TrimSpace(s)
	if id, err := uuid.Parse(s); err == nil {
		return readerAddr(id.String()), nil
	}

	mac, err := hex.DecodeString(stripSeparators(s))
	if err != nil || len(mac) != 6 {
		return nil, newError(KindInvalidParameter, "reader address %q", s)
	}
	parts := make([]string, len(mac))
	for i, b := range mac {
		parts[i] = hex.EncodeToString([]byte{b})
	}
	return readerAddr(strings.Join(parts, ":")), nil
}

type readerAddr string

func (a readerAddr) String() string { return string(a) }

// Bytes returns the MAC or UUID octets, nil when the address is neither.
func (a readerAddr) Bytes() []byte {
	if id, err := uuid.Parse(string(a)); err == nil {
		return id[:]
	}
	out, err := hex.DecodeString(stripSeparators(string(a)))
	if err != nil {
		GetLogger().Debugf("%v", errors.Wrapf(err, "address %q", string(a)))
		return nil
	}
	return out
}

func stripSeparators(s string) string {
	return strings.NewReplacer(":", "", "-", "").Replace(s)
}
