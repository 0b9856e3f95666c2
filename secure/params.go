// Package secure implements the reader's AES-128 mutual authentication and the
// per-message cipher and MAC of an authenticated session.
package secure

import (
	"fmt"

	"github.com/pkg/errors"
)

// KeyIndex selects which reader key the host authenticates with.
type KeyIndex byte

const (
	KeyUser  KeyIndex = 0x00
	KeyAdmin KeyIndex = 0x01
	KeyNone  KeyIndex = 0x02
)

func (k KeyIndex) String() string {
	switch k {
	case KeyUser:
		return "user"
	case KeyAdmin:
		return "admin"
	case KeyNone:
		return "none"
	}
	return fmt.Sprintf("key(%d)", byte(k))
}

// ParseKeyIndex maps a configuration name to a KeyIndex.
func ParseKeyIndex(s string) (KeyIndex, error) {
	switch s {
	case "user", "":
		return KeyUser, nil
	case "admin":
		return KeyAdmin, nil
	case "none":
		return KeyNone, nil
	}
	return KeyNone, errors.Errorf("unknown key index %q", s)
}

// CommMode is the protection applied to frames once authenticated. Channel
// only implements CommSecure; the other values are rejected by Validate.
type CommMode byte

const (
	CommPlain  CommMode = 0
	CommMACed  CommMode = 1
	CommSecure CommMode = 3
)

// AuthMode is the authentication scheme.
type AuthMode byte

const (
	AuthNone   AuthMode = 0
	AuthAES128 AuthMode = 1
)

// Parameters configures the secure channel of a session.
type Parameters struct {
	AuthMode AuthMode
	KeyIndex KeyIndex
	Key      []byte
	CommMode CommMode
}

// AES128 returns parameters for an AES-128 authenticated, fully ciphered session.
func AES128(idx KeyIndex, key []byte) Parameters {
	k := make([]byte, len(key))
	copy(k, key)
	return Parameters{
		AuthMode: AuthAES128,
		KeyIndex: idx,
		Key:      k,
		CommMode: CommSecure,
	}
}

// Enabled reports whether the session must authenticate.
func (p Parameters) Enabled() bool {
	return p.AuthMode != AuthNone
}

func (p Parameters) Validate() error {
	if p.AuthMode == AuthNone {
		return nil
	}
	if p.AuthMode != AuthAES128 {
		return errors.Errorf("unsupported auth mode %d", p.AuthMode)
	}
	if len(p.Key) != blockSize {
		return errors.Errorf("aes-128 key must be %d bytes, got %d", blockSize, len(p.Key))
	}
	if p.KeyIndex > KeyNone {
		return errors.Errorf("invalid key index %d", p.KeyIndex)
	}
	if p.CommMode != CommSecure {
		return errors.Errorf("unsupported comm mode %d", p.CommMode)
	}
	return nil
}
