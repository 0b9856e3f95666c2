package blescard

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies failures reported by a Session.
type ErrorKind int

// Kind values follow the reader SDK error numbering; the gaps are kinds this
// package never produces.
const (
	KindInvalidParameter          ErrorKind = 0x1000
	KindMissingCharacteristic     ErrorKind = 0x1001
	KindInvalidCharacteristicData ErrorKind = 0x1002
	KindMissingService            ErrorKind = 0x1003
	KindBusy                      ErrorKind = 0x1004
	KindDummyDevice               ErrorKind = 0x1006
	KindOtherError                ErrorKind = 0x1007
	KindCardAbsent                ErrorKind = 0x1008
	KindCardCommunicationError    ErrorKind = 0x1009
	KindCardPoweredDown           ErrorKind = 0x100A
	KindCardRemoved               ErrorKind = 0x100B
	KindAuthenticationError       ErrorKind = 0x100C
	KindSecureCommunicationError  ErrorKind = 0x100D
	KindNoSuchSlot                ErrorKind = 0x100F
	KindDeviceNotConnected        ErrorKind = 0x1010
	KindProtocolDesynchronization ErrorKind = 0x1011
	KindTimeout                   ErrorKind = 0x1012
)

var kindNames = map[ErrorKind]string{
	KindInvalidParameter:          "invalid parameter",
	KindMissingCharacteristic:     "missing characteristic",
	KindInvalidCharacteristicData: "invalid characteristic data",
	KindMissingService:            "missing service",
	KindBusy:                      "busy",
	KindDummyDevice:               "dummy device",
	KindOtherError:                "other error",
	KindCardAbsent:                "card absent",
	KindCardCommunicationError:    "card communication error",
	KindCardPoweredDown:           "card powered down",
	KindCardRemoved:               "card removed",
	KindAuthenticationError:       "authentication error",
	KindSecureCommunicationError:  "secure communication error",
	KindNoSuchSlot:                "no such slot",
	KindDeviceNotConnected:        "device not connected",
	KindProtocolDesynchronization: "protocol desynchronization",
	KindTimeout:                   "timeout",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("error kind 0x%04X", int(k))
}

// Fatal reports whether an error of this kind ends the session.
func (k ErrorKind) Fatal() bool {
	switch k {
	case KindAuthenticationError, KindSecureCommunicationError, KindProtocolDesynchronization:
		return true
	}
	return false
}

// Error is the error type returned and reported by a Session.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the Err* values work as sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidParameter          = &Error{Kind: KindInvalidParameter}
	ErrMissingCharacteristic     = &Error{Kind: KindMissingCharacteristic}
	ErrInvalidCharacteristicData = &Error{Kind: KindInvalidCharacteristicData}
	ErrMissingService            = &Error{Kind: KindMissingService}
	ErrBusy                      = &Error{Kind: KindBusy}
	ErrDummyDevice               = &Error{Kind: KindDummyDevice}
	ErrOther                     = &Error{Kind: KindOtherError}
	ErrCardAbsent                = &Error{Kind: KindCardAbsent}
	ErrCardCommunication         = &Error{Kind: KindCardCommunicationError}
	ErrCardPoweredDown           = &Error{Kind: KindCardPoweredDown}
	ErrCardRemoved               = &Error{Kind: KindCardRemoved}
	ErrAuthentication            = &Error{Kind: KindAuthenticationError}
	ErrSecureCommunication       = &Error{Kind: KindSecureCommunicationError}
	ErrNoSuchSlot                = &Error{Kind: KindNoSuchSlot}
	ErrDeviceNotConnected        = &Error{Kind: KindDeviceNotConnected}
	ErrProtocolDesynchronization = &Error{Kind: KindProtocolDesynchronization}
	ErrTimeout                   = &Error{Kind: KindTimeout}
)

func newError(k ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

func wrapError(k ErrorKind, err error, msg string) *Error {
	return &Error{Kind: k, Msg: msg, Err: err}
}

// asError returns err as an *Error, classifying foreign errors as k.
func asError(err error, k ErrorKind) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return wrapError(k, err, "")
}
