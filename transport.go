package blescard

import (
	"github.com/google/uuid"
)

// Transport is the GATT link to one reader. Every call only starts the operation;
// completion is delivered to the session as an Event. A returned error means the
// operation could not be started.
type Transport interface {
	WriteValue(char uuid.UUID, data []byte) error
	ReadValue(char uuid.UUID) error
	SetNotify(char uuid.UUID, enabled bool) error
	Disconnect() error
}

// Delegate receives the outcome of session operations. Callbacks run on the
// goroutine that feeds the session and must not block it.
type Delegate interface {
	OnSessionReady(s *Session, err error)
	OnSessionClosed(err error)
	OnControlResponse(resp []byte, err error)
	OnSlotStatus(slot *Slot, present, powered bool, err error)
	OnTransmitResponse(ch *Channel, resp []byte, err error)
	OnCardConnected(ch *Channel, err error)
	OnCardDisconnected(ch *Channel, err error)
	OnLowPowerModeChanged(lowPower bool)
	OnPowerInfo(info *PowerInfo, err error)
	OnData(characteristic string, direction string, data []byte)
}

// Trace directions passed to Delegate.OnData.
const (
	DirectionWrite  = "write"
	DirectionRead   = "read"
	DirectionNotify = "notify"
)

// NopDelegate ignores every callback. Embed it to implement only some of them.
type NopDelegate struct{}

func (NopDelegate) OnSessionReady(*Session, error)             {}
func (NopDelegate) OnSessionClosed(error)                      {}
func (NopDelegate) OnControlResponse([]byte, error)            {}
func (NopDelegate) OnSlotStatus(*Slot, bool, bool, error)      {}
func (NopDelegate) OnTransmitResponse(*Channel, []byte, error) {}
func (NopDelegate) OnCardConnected(*Channel, error)            {}
func (NopDelegate) OnCardDisconnected(*Channel, error)         {}
func (NopDelegate) OnLowPowerModeChanged(bool)                 {}
func (NopDelegate) OnPowerInfo(*PowerInfo, error)              {}
func (NopDelegate) OnData(string, string, []byte)              {}
