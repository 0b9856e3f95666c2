package blescard

import (
	"io"
	"time"

	"github.com/rigado/blescard/secure"
)

// SessionOption is implemented by Session to accept configuration options.
type SessionOption interface {
	SetLogger(Logger) error
	SetSecureChannel(secure.Parameters) error
	SetWriteChunkSize(int) error
	SetResponseTimeout(time.Duration) error
	SetCache(DeviceCache) error
	SetRandom(io.Reader) error
	SetAddr(Addr) error
}

// An Option is a configuration function, which configures the session.
type Option func(SessionOption) error

// OptLogger replaces the package logger for one session.
func OptLogger(l Logger) Option {
	return func(opt SessionOption) error {
		return opt.SetLogger(l)
	}
}

// OptSecureChannel enables AES-128 authentication with the given reader key.
func OptSecureChannel(idx secure.KeyIndex, key []byte) Option {
	return func(opt SessionOption) error {
		return opt.SetSecureChannel(secure.AES128(idx, key))
	}
}

// OptSecureParameters sets the secure channel parameters verbatim.
func OptSecureParameters(p secure.Parameters) Option {
	return func(opt SessionOption) error {
		return opt.SetSecureChannel(p)
	}
}

// OptWriteChunkSize bounds the size of a single characteristic write.
func OptWriteChunkSize(n int) Option {
	return func(opt SessionOption) error {
		return opt.SetWriteChunkSize(n)
	}
}

// OptResponseTimeout bounds the wait for any answer, including a long answer.
func OptResponseTimeout(d time.Duration) Option {
	return func(opt SessionOption) error {
		return opt.SetResponseTimeout(d)
	}
}

// OptCache stores device records and reuses cached slot names.
func OptCache(c DeviceCache) Option {
	return func(opt SessionOption) error {
		return opt.SetCache(c)
	}
}

// OptRandom sets the source of the authentication nonce.
func OptRandom(r io.Reader) Option {
	return func(opt SessionOption) error {
		return opt.SetRandom(r)
	}
}

// OptAddr sets the reader address used for logging and caching.
func OptAddr(a Addr) Option {
	return func(opt SessionOption) error {
		return opt.SetAddr(a)
	}
}
