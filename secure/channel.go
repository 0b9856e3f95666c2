package secure

import (
	"crypto/subtle"
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrSecureCommunication is returned when a frame cannot be ciphered or fails its MAC.
var ErrSecureCommunication = errors.New("secure communication error")

const (
	headerSize    = 10
	macSize       = 8
	encryptedFlag = uint32(0x80000000)
)

// Channel holds the session keys and the two chained IVs of an authenticated session.
// Both ends of the link use the same type: the host encrypts commands and decrypts
// responses, a reader does the opposite.
type Channel struct {
	encKey []byte
	macKey []byte
	sendIV []byte
	recvIV []byte
}

// NewChannel returns a channel whose send and receive IVs both start at iv.
func NewChannel(encKey, macKey, iv []byte) *Channel {
	return &Channel{
		encKey: clone(encKey),
		macKey: clone(macKey),
		sendIV: clone(iv),
		recvIV: clone(iv),
	}
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c *Channel) EncKey() []byte { return clone(c.encKey) }
func (c *Channel) MacKey() []byte { return clone(c.macKey) }
func (c *Channel) SendIV() []byte { return clone(c.sendIV) }
func (c *Channel) RecvIV() []byte { return clone(c.recvIV) }

func setLength(hdr []byte, n int, encrypted bool) {
	v := uint32(n) &^ encryptedFlag
	if encrypted {
		v |= encryptedFlag
	}
	binary.LittleEndian.PutUint32(hdr[1:5], v)
}

// Encrypt protects a plain frame (10 byte header followed by payload). The MAC covers
// the plain header and payload; the payload is padded and ciphered under the session
// key. The returned frame carries ciphertext || MAC[:8] and the encrypted length bit.
func (c *Channel) Encrypt(frame []byte) ([]byte, error) {
	if len(frame) < headerSize {
		return nil, errors.Wrap(ErrSecureCommunication, "frame shorter than header")
	}

	plain := clone(frame)
	setLength(plain, len(plain)-headerSize, false)

	mac, err := computeMAC(c.macKey, c.sendIV, plain)
	if err != nil {
		return nil, errors.Wrap(ErrSecureCommunication, err.Error())
	}

	ct, err := cbcEncrypt(c.encKey, c.sendIV, pad(plain[headerSize:]))
	if err != nil {
		return nil, errors.Wrap(ErrSecureCommunication, err.Error())
	}

	out := make([]byte, 0, headerSize+len(ct)+macSize)
	out = append(out, plain[:headerSize]...)
	out = append(out, ct...)
	out = append(out, mac[:macSize]...)
	setLength(out, len(ct)+macSize, true)

	c.sendIV = mac
	return out, nil
}

// Decrypt verifies and deciphers a protected frame. The returned frame has the plain
// payload length in its header and the encrypted bit cleared.
func (c *Channel) Decrypt(frame []byte) ([]byte, error) {
	if len(frame) < headerSize+macSize {
		return nil, errors.Wrapf(ErrSecureCommunication, "invalid frame size %d", len(frame))
	}

	received := frame[len(frame)-macSize:]
	body := frame[headerSize : len(frame)-macSize]

	data, err := cbcDecrypt(c.encKey, c.recvIV, body)
	if err != nil {
		return nil, errors.Wrap(ErrSecureCommunication, err.Error())
	}
	data, err = unpad(data)
	if err != nil {
		return nil, errors.Wrap(ErrSecureCommunication, "padding is invalid, wrong session key?")
	}

	plain := make([]byte, 0, headerSize+len(data))
	plain = append(plain, frame[:headerSize]...)
	plain = append(plain, data...)
	setLength(plain, len(data), false)

	mac, err := computeMAC(c.macKey, c.recvIV, plain)
	if err != nil {
		return nil, errors.Wrap(ErrSecureCommunication, err.Error())
	}
	if subtle.ConstantTimeCompare(mac[:macSize], received) != 1 {
		return nil, errors.Wrap(ErrSecureCommunication, "mac is invalid, wrong session key?")
	}

	c.recvIV = mac
	return plain, nil
}
