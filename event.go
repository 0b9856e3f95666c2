package blescard

import (
	"github.com/google/uuid"
)

// Event is a transport occurrence fed to Session.Handle.
type Event interface {
	isEvent()
}

// ServicesDiscovered lists every discovered service with its characteristics.
type ServicesDiscovered struct {
	Services map[uuid.UUID][]uuid.UUID
	Err      error
}

// CharacteristicRead completes a Transport.ReadValue.
type CharacteristicRead struct {
	Char  uuid.UUID
	Value []byte
	Err   error
}

// WriteCompleted completes a Transport.WriteValue.
type WriteCompleted struct {
	Char uuid.UUID
	Err  error
}

// NotifyStateChanged completes a Transport.SetNotify.
type NotifyStateChanged struct {
	Char    uuid.UUID
	Enabled bool
	Err     error
}

// NotifyReceived delivers a notification value.
type NotifyReceived struct {
	Char  uuid.UUID
	Value []byte
}

// Disconnected reports the loss of the link.
type Disconnected struct {
	Err error
}

func (ServicesDiscovered) isEvent() {}
func (CharacteristicRead) isEvent() {}
func (WriteCompleted) isEvent()     {}
func (NotifyStateChanged) isEvent() {}
func (NotifyReceived) isEvent()     {}
func (Disconnected) isEvent()       {}
