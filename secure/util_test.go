package secure

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestAes128(t *testing.T) {
	tests := []struct {
		key, in, out string
	}{
		{"00000000000000000000000000000000", "00000000000000000000000000000000", "66e94bd4ef8a2c3b884cfa59ca342b2e"},
		{"000102030405060708090a0b0c0d0e0f", "00112233445566778899aabbccddeeff", "69c4e0d86a7b0430d8cdb78070b4c55a"},
	}

	for _, tt := range tests {
		got, err := aes128(mustHex(t, tt.key), mustHex(t, tt.in))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, mustHex(t, tt.out)) {
			t.Fatalf("encrypt: got %x, want %s", got, tt.out)
		}
		back, err := aes128Decrypt(mustHex(t, tt.key), got)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(back, mustHex(t, tt.in)) {
			t.Fatalf("decrypt: got %x", back)
		}
	}
}

func TestAesCMAC(t *testing.T) {
	key := mustHex(t, "2b7e151628aed2a6abf7158809cf4f3c")

	r, err := aesCMAC(key, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(r, mustHex(t, "bb1d6929e95937287fa37d129b756746")) {
		t.Fatalf("empty message: %x", r)
	}

	r, err = aesCMAC(key, mustHex(t, "6bc1bee22e409f96e93d7e117393172a"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(r, mustHex(t, "070a16b46b4d4144f79bdd9dd04a287c")) {
		t.Fatalf("one block: %x", r)
	}
}

func TestKeyCheckValue(t *testing.T) {
	key := make([]byte, 16)
	kcv, err := KeyCheckValue(key)
	if err != nil {
		t.Fatal(err)
	}
	full, _ := aesCMAC(key, make([]byte, 16))
	if len(kcv) != 3 || !bytes.Equal(kcv, full[:3]) {
		t.Fatalf("got %x", kcv)
	}
	if _, err := KeyCheckValue([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for bad key size")
	}
}

func TestPadding(t *testing.T) {
	tests := []struct {
		in  []byte
		len int
	}{
		{nil, 16},
		{make([]byte, 15), 16},
		{make([]byte, 16), 32},
		{make([]byte, 17), 32},
	}
	for _, tt := range tests {
		p := pad(tt.in)
		if len(p) != tt.len || p[len(tt.in)] != 0x80 {
			t.Fatalf("pad(%d): % X", len(tt.in), p)
		}
		back, err := unpad(p)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(back, tt.in) && len(tt.in) != 0 {
			t.Fatalf("unpad(%d): % X", len(tt.in), back)
		}
	}

	if _, err := unpad(make([]byte, 16)); err == nil {
		t.Fatal("expected error for all zero block")
	}
	if _, err := unpad([]byte{1, 2, 3, 0}); err == nil {
		t.Fatal("expected error without marker")
	}
}

func TestComputeMACDeterministic(t *testing.T) {
	key := mustHex(t, "000102030405060708090a0b0c0d0e0f")
	iv := bytes.Repeat([]byte{0x5A}, 16)
	buf := []byte{0x6F, 0x02, 0, 0, 0, 0, 0x01, 0, 0, 0, 0x90, 0x00}

	a, err := computeMAC(key, iv, buf)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := computeMAC(key, iv, buf)
	if !bytes.Equal(a, b) || len(a) != 16 {
		t.Fatalf("not deterministic: %x %x", a, b)
	}

	// a single padded block is ECB(key, block xor iv)
	block := pad(buf)
	for i := range block {
		block[i] ^= iv[i]
	}
	want, _ := aes128(key, block)
	if !bytes.Equal(a, want) {
		t.Fatalf("got %x, want %x", a, want)
	}

	c, _ := computeMAC(key, make([]byte, 16), buf)
	if bytes.Equal(a, c) {
		t.Fatal("mac does not depend on iv")
	}
}
