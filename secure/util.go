package secure

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/aead/cmac"
	"github.com/pkg/errors"
)

const blockSize = aes.BlockSize

func aes128(key, msg []byte) ([]byte, error) {
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(msg) != blockSize {
		return nil, errors.Errorf("aes block must be %d bytes, got %d", blockSize, len(msg))
	}

	out := make([]byte, blockSize)
	c.Encrypt(out, msg)
	return out, nil
}

func aes128Decrypt(key, msg []byte) ([]byte, error) {
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(msg) != blockSize {
		return nil, errors.Errorf("aes block must be %d bytes, got %d", blockSize, len(msg))
	}

	out := make([]byte, blockSize)
	c.Decrypt(out, msg)
	return out, nil
}

func cbcEncrypt(key, iv, msg []byte) ([]byte, error) {
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(msg)%blockSize != 0 {
		return nil, errors.Errorf("cbc input not block aligned: %d", len(msg))
	}

	out := make([]byte, len(msg))
	cipher.NewCBCEncrypter(c, iv).CryptBlocks(out, msg)
	return out, nil
}

func cbcDecrypt(key, iv, msg []byte) ([]byte, error) {
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(msg) == 0 || len(msg)%blockSize != 0 {
		return nil, errors.Errorf("cbc input not block aligned: %d", len(msg))
	}

	out := make([]byte, len(msg))
	cipher.NewCBCDecrypter(c, iv).CryptBlocks(out, msg)
	return out, nil
}

// pad appends 0x80 then zeros up to the next block boundary.
func pad(in []byte) []byte {
	out := make([]byte, 0, len(in)+blockSize)
	out = append(out, in...)
	out = append(out, 0x80)
	for len(out)%blockSize != 0 {
		out = append(out, 0x00)
	}
	return out
}

// unpad strips trailing zeros and the 0x80 marker.
func unpad(in []byte) ([]byte, error) {
	n := len(in)
	for n > 0 && in[n-1] == 0x00 {
		n--
	}
	if n == 0 || in[n-1] != 0x80 {
		return nil, errors.New("invalid padding")
	}
	return in[:n-1], nil
}

// computeMAC chains the padded buffer through AES-ECB under key, starting from iv.
// The full final block is returned; callers put the first 8 bytes on the wire.
func computeMAC(key, iv, buf []byte) ([]byte, error) {
	mac := make([]byte, blockSize)
	if len(iv) > 0 {
		copy(mac, iv)
	}

	padded := pad(buf)
	for i := 0; i < len(padded); i += blockSize {
		block := make([]byte, blockSize)
		for j := 0; j < blockSize; j++ {
			block[j] = padded[i+j] ^ mac[j]
		}

		var err error
		mac, err = aes128(key, block)
		if err != nil {
			return nil, err
		}
	}
	return mac, nil
}

func aesCMAC(key, msg []byte) ([]byte, error) {
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	h, err := cmac.New(c)
	if err != nil {
		return nil, err
	}

	h.Write(msg)
	return h.Sum(nil), nil
}

// KeyCheckValue returns the first 3 bytes of the AES-CMAC of a zero block under key.
// It identifies a key in logs and caches without disclosing it.
func KeyCheckValue(key []byte) ([]byte, error) {
	mac, err := aesCMAC(key, make([]byte, blockSize))
	if err != nil {
		return nil, errors.Wrap(err, "key check value")
	}
	return mac[:3], nil
}
