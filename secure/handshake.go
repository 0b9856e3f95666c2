package secure

import (
	"bytes"
	"crypto/rand"
	"io"

	"github.com/pkg/errors"
	"github.com/rigado/blescard/sliceops"
)

// ErrAuthentication is returned by any failing handshake step.
var ErrAuthentication = errors.New("authentication failed")

const (
	protocolCode   = 0x00
	opAuthenticate = 0x0A
	opFollowing    = 0xFF
	opSuccess      = 0x00
	versionAES128  = 0x01

	stepResponseLen = 1 + blockSize
)

type handshakeState int

const (
	stateIdle handshakeState = iota
	stateWaitStep1
	stateWaitStep2
	stateDone
	stateFailed
)

// Handshake runs the 3-pass AES-128 mutual authentication from the host side.
// Start produces the AUTHENTICATE escape payload, Step1 consumes the reader's
// challenge and produces the host answer, Step2 verifies the reader's proof and
// derives the session keys.
type Handshake struct {
	params Parameters
	rand   io.Reader
	rndA   []byte
	rndB   []byte
	state  handshakeState
}

// NewHandshake returns a handshake using rnd for the host nonce. A nil rnd uses crypto/rand.
func NewHandshake(p Parameters, rnd io.Reader) *Handshake {
	if rnd == nil {
		rnd = rand.Reader
	}
	return &Handshake{params: p, rand: rnd}
}

func (h *Handshake) fail(err error) error {
	h.state = stateFailed
	h.rndA = nil
	h.rndB = nil
	return err
}

// Start generates rndA and returns the AUTHENTICATE command.
// With AuthNone it returns nil and the handshake is immediately done.
func (h *Handshake) Start() ([]byte, error) {
	if !h.params.Enabled() {
		h.state = stateDone
		return nil, nil
	}
	if err := h.params.Validate(); err != nil {
		return nil, h.fail(errors.Wrap(ErrAuthentication, err.Error()))
	}

	h.rndA = make([]byte, blockSize)
	if _, err := io.ReadFull(h.rand, h.rndA); err != nil {
		return nil, h.fail(errors.Wrap(err, "host nonce"))
	}
	h.rndB = nil
	h.state = stateWaitStep1

	return []byte{protocolCode, opAuthenticate, versionAES128, byte(h.params.KeyIndex)}, nil
}

// Step1 takes the payload of the reader's first answer, [0xFF] || ECB(key, rndB),
// and returns [0x00 0xFF] || ECB(key, rndA) || ECB(key, rotl(rndB)).
func (h *Handshake) Step1(resp []byte) ([]byte, error) {
	if h.state != stateWaitStep1 {
		return nil, h.fail(errors.Wrap(ErrAuthentication, "step 1 out of order"))
	}
	if len(resp) < 1 {
		return nil, h.fail(errors.Wrap(ErrAuthentication, "step 1: empty response"))
	}
	if resp[0] != opFollowing {
		return nil, h.fail(errors.Wrapf(ErrAuthentication, "step 1: device reported 0x%02X", resp[0]))
	}
	if len(resp) != stepResponseLen {
		return nil, h.fail(errors.Wrapf(ErrAuthentication, "step 1: invalid length %d", len(resp)))
	}

	key := h.params.Key
	rndB, err := aes128Decrypt(key, resp[1:stepResponseLen])
	if err != nil {
		return nil, h.fail(errors.Wrap(err, "step 1"))
	}
	h.rndB = rndB

	encA, err := aes128(key, h.rndA)
	if err != nil {
		return nil, h.fail(errors.Wrap(err, "step 1"))
	}
	encB, err := aes128(key, sliceops.RotateLeft(rndB))
	if err != nil {
		return nil, h.fail(errors.Wrap(err, "step 1"))
	}

	out := make([]byte, 0, 2+2*blockSize)
	out = append(out, protocolCode, opFollowing)
	out = append(out, encA...)
	out = append(out, encB...)
	h.state = stateWaitStep2
	return out, nil
}

// Step2 takes the payload of the reader's second answer, [0x00] || ECB(key, rotl(rndA)),
// checks it against rndA and derives the session channel.
func (h *Handshake) Step2(resp []byte) (*Channel, error) {
	if h.state != stateWaitStep2 {
		return nil, h.fail(errors.Wrap(ErrAuthentication, "step 2 out of order"))
	}
	if len(resp) < 1 {
		return nil, h.fail(errors.Wrap(ErrAuthentication, "step 2: empty response"))
	}
	if resp[0] != opSuccess {
		return nil, h.fail(errors.Wrapf(ErrAuthentication, "step 2: device reported 0x%02X", resp[0]))
	}
	if len(resp) != stepResponseLen {
		return nil, h.fail(errors.Wrapf(ErrAuthentication, "step 2: invalid length %d", len(resp)))
	}

	t, err := aes128Decrypt(h.params.Key, resp[1:stepResponseLen])
	if err != nil {
		return nil, h.fail(errors.Wrap(err, "step 2"))
	}
	if !bytes.Equal(sliceops.RotateRight(t), h.rndA) {
		return nil, h.fail(errors.Wrap(ErrAuthentication, "step 2: device cryptogram is invalid"))
	}

	c, err := DeriveChannel(h.params.Key, h.rndA, h.rndB)
	if err != nil {
		return nil, h.fail(err)
	}

	h.state = stateDone
	h.rndA = nil
	h.rndB = nil
	return c, nil
}

// Done reports whether the handshake completed successfully.
func (h *Handshake) Done() bool {
	return h.state == stateDone
}

// DeriveChannel computes Kenc, Kmac and IV0 from the two nonces.
func DeriveChannel(key, rndA, rndB []byte) (*Channel, error) {
	if len(rndA) != blockSize || len(rndB) != blockSize {
		return nil, errors.Wrap(ErrAuthentication, "nonces must be 16 bytes")
	}

	sv1 := make([]byte, 0, blockSize)
	sv1 = append(sv1, rndA[0:4]...)
	sv1 = append(sv1, rndB[0:4]...)
	sv1 = append(sv1, rndA[8:12]...)
	sv1 = append(sv1, rndB[8:12]...)

	sv2 := make([]byte, 0, blockSize)
	sv2 = append(sv2, rndA[4:8]...)
	sv2 = append(sv2, rndB[4:8]...)
	sv2 = append(sv2, rndA[12:16]...)
	sv2 = append(sv2, rndB[12:16]...)

	enc, err := aes128(key, sv1)
	if err != nil {
		return nil, errors.Wrap(err, "session enc key")
	}
	mac, err := aes128(key, sv2)
	if err != nil {
		return nil, errors.Wrap(err, "session mac key")
	}
	iv, err := aes128(mac, sliceops.Xor(rndA, rndB))
	if err != nil {
		return nil, errors.Wrap(err, "initial vector")
	}

	return NewChannel(enc, mac, iv), nil
}
