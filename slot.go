package blescard

import (
	"github.com/rigado/blescard/ccid"
)

// Slot is one card position of the reader. It is owned by its Session.
type Slot struct {
	session *Session
	index   int
	name    string

	present bool
	powered bool
	inError bool
	// heldOff is set after an explicit disconnect so that the power sweep
	// leaves the card alone until it is reinserted or connected again.
	heldOff bool

	channel *Channel
}

func (s *Slot) Index() int        { return s.index }
func (s *Slot) Name() string      { return s.name }
func (s *Slot) Present() bool     { return s.present }
func (s *Slot) Powered() bool     { return s.powered }
func (s *Slot) InError() bool     { return s.inError }
func (s *Slot) Channel() *Channel { return s.channel }

// Session returns the owning session.
func (s *Slot) Session() *Session { return s.session }

// Control sends an escape command to the reader.
func (s *Slot) Control(cmd []byte) error {
	return s.session.Control(cmd)
}

// Connect powers the card up and opens a channel, answered by OnCardConnected.
func (s *Slot) Connect() error {
	return s.session.Connect(s.index)
}

func (s *Slot) needsPower() bool {
	return s.present && !s.powered && !s.inError && !s.heldOff
}

func (s *Slot) setPowered(atr []byte) *Channel {
	if s.channel == nil {
		s.channel = &Channel{slot: s}
	}
	s.channel.atr = append([]byte(nil), atr...)
	s.channel.unpowered = false
	s.powered = true
	s.inError = false
	s.heldOff = false
	return s.channel
}

func (s *Slot) setRemoved() {
	s.present = false
	s.powered = false
	if s.channel != nil {
		s.channel.atr = nil
		s.channel.unpowered = true
	}
	s.channel = nil
}

// Channel is an open connection to the card of one slot.
type Channel struct {
	slot      *Slot
	atr       []byte
	unpowered bool
}

// Slot returns the slot the channel belongs to.
func (c *Channel) Slot() *Slot { return c.slot }

// ATR returns a copy of the card's answer to reset, empty once the card is powered down.
func (c *Channel) ATR() []byte { return append([]byte(nil), c.atr...) }

// Unpowered reports whether the card was powered down, by the application or by reader sleep.
func (c *Channel) Unpowered() bool { return c.unpowered }

// Transmit sends a C-APDU, answered by OnTransmitResponse.
func (c *Channel) Transmit(apdu []byte) error {
	return c.slot.session.Transmit(c, apdu)
}

// Disconnect powers the card down, answered by OnCardDisconnected.
func (c *Channel) Disconnect() error {
	return c.slot.session.Disconnect(c)
}

// Reconnect powers the card up again on the same channel, answered by OnCardConnected.
func (c *Channel) Reconnect() error {
	return c.slot.session.Reconnect(c)
}

func (c *Channel) powerDown() {
	c.atr = nil
	c.unpowered = true
}

// statusChange is the outcome of one status snapshot. dropped holds the channel
// each removed slot had open, parallel to removed.
type statusChange struct {
	inserted        []int
	removed         []int
	dropped         []*Channel
	lowPowerChanged bool
	sweep           bool
}

// applyStatus updates the slots from a status snapshot. Only the edge codes move a
// slot; steady codes are used to seed presence when seed is set.
func (s *Session) applyStatus(st ccid.Status, seed bool) statusChange {
	var res statusChange

	switch {
	case st.LowPower && !s.lowPower:
		s.lowPower = true
		for _, sl := range s.slots {
			sl.powered = false
			if sl.channel != nil {
				sl.channel.powerDown()
			}
		}
		res.lowPowerChanged = true
		s.log.Info("reader entered low power mode")
	case !st.LowPower && s.lowPower:
		s.lowPower = false
		s.wakeSweep = true
		res.lowPowerChanged = true
		res.sweep = true
		s.log.Info("reader left low power mode")
	}

	n := st.SlotCount()
	if n != len(s.slots) && len(s.slots) > 0 {
		s.log.Warnf("status announces %d slots, session has %d", n, len(s.slots))
		if n > len(s.slots) {
			n = len(s.slots)
		}
	}

	for i := 0; i < n; i++ {
		sl := s.slots[i]
		code := st.Slots[i]
		switch code {
		case ccid.CardInserted:
			sl.present = true
			sl.inError = false
			sl.heldOff = false
			res.inserted = append(res.inserted, i)
			res.sweep = true
		case ccid.CardRemoved:
			ch := sl.channel
			sl.setRemoved()
			sl.inError = false
			sl.heldOff = false
			res.removed = append(res.removed, i)
			res.dropped = append(res.dropped, ch)
		case ccid.CardPresent:
			if seed {
				sl.present = true
			}
		case ccid.CardAbsent:
			if seed {
				sl.present = false
				sl.powered = false
			}
		}
	}

	return res
}
