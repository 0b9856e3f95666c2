package sliceops

import (
	"bytes"
	"testing"
)

func TestRotate(t *testing.T) {
	in := []byte{1, 2, 3, 4}

	if got := RotateLeft(in); !bytes.Equal(got, []byte{2, 3, 4, 1}) {
		t.Fatalf("left: %v", got)
	}
	if got := RotateRight(in); !bytes.Equal(got, []byte{4, 1, 2, 3}) {
		t.Fatalf("right: %v", got)
	}
	if got := RotateRight(RotateLeft(in)); !bytes.Equal(got, in) {
		t.Fatalf("inverse: %v", got)
	}
	if !bytes.Equal(in, []byte{1, 2, 3, 4}) {
		t.Fatal("input modified")
	}
	if len(RotateLeft(nil)) != 0 || len(RotateRight(nil)) != 0 {
		t.Fatal("empty input")
	}
}

func TestXor(t *testing.T) {
	got := Xor([]byte{0xF0, 0x0F, 0xAA}, []byte{0xFF, 0xFF, 0xAA})
	if !bytes.Equal(got, []byte{0x0F, 0xF0, 0x00}) {
		t.Fatalf("got % X", got)
	}
}
