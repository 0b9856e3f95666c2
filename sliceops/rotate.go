package sliceops

// RotateLeft returns a copy of in with the first byte moved to the end.
func RotateLeft(in []byte) []byte {
	a := make([]byte, 0, len(in))
	if len(in) == 0 {
		return a
	}
	a = append(a, in[1:]...)
	return append(a, in[0])
}

// RotateRight returns a copy of in with the last byte moved to the front.
func RotateRight(in []byte) []byte {
	a := make([]byte, 0, len(in))
	if len(in) == 0 {
		return a
	}
	a = append(a, in[len(in)-1])
	return append(a, in[:len(in)-1]...)
}

// Xor returns a xor b over len(a) bytes. b must be at least as long as a.
func Xor(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}
