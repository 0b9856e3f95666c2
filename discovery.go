package blescard

import (
	"github.com/google/uuid"
	"github.com/rigado/blescard/ccid"
	"github.com/rigado/blescard/secure"
)

func (s *Session) hasCharacteristic(c uuid.UUID) bool {
	for _, chars := range s.services {
		if containsUUID(chars, c) {
			return true
		}
	}
	return false
}

func (s *Session) onServicesDiscovered(e ServicesDiscovered) {
	if !s.phase.Is(PhaseDiscovering) {
		s.log.Warnf("services discovered in phase %s ignored", s.phase.Current())
		return
	}
	s.pending = nil

	if e.Err != nil {
		s.fail(wrapError(KindMissingService, e.Err, "discovery"))
		return
	}

	p, err := MatchProfile(e.Services)
	if err != nil {
		s.fail(asError(err, KindMissingService))
		return
	}
	s.profile = p
	s.services = e.Services
	s.log = s.log.ChildLogger(map[string]interface{}{"profile": p.Name})
	s.log.Infof("matched profile %s", p.Name)

	s.commonQueue = nil
	for _, c := range commonCharacteristicOrder {
		if s.hasCharacteristic(c) {
			s.commonQueue = append(s.commonQueue, c)
		}
	}
	s.notifyQueue = []uuid.UUID{p.Status, p.RDRToPC}

	if s.cache != nil {
		rec, err := s.cache.Load(s.addr)
		if err == nil && rec.Profile == p.Name {
			s.cachedNames = rec.SlotNames
		}
	}

	s.discoverNext()
}

// discoverNext reads the common characteristics, then subscribes to the
// notifying ones, then reads the slot count.
func (s *Session) discoverNext() {
	switch {
	case len(s.commonQueue) > 0:
		c := s.commonQueue[0]
		s.commonQueue = s.commonQueue[1:]
		s.startRead(opReadCommon, c)

	case len(s.notifyQueue) > 0:
		c := s.notifyQueue[0]
		s.notifyQueue = s.notifyQueue[1:]
		s.pending = &pendingOp{tag: opSubscribe, char: c, deadline: s.now().Add(s.timeout)}
		if err := s.transport.SetNotify(c, true); err != nil {
			s.fail(wrapError(KindMissingCharacteristic, err, "subscribe "+c.String()))
		}

	default:
		if err := s.phase.fire(evCount); err != nil {
			s.fail(wrapError(KindOtherError, err, "slot count"))
			return
		}
		s.startRead(opReadStatus, s.profile.Status)
	}
}

func (s *Session) startRead(tag opTag, c uuid.UUID) {
	s.pending = &pendingOp{tag: tag, char: c, deadline: s.now().Add(s.timeout)}
	if err := s.transport.ReadValue(c); err != nil {
		s.fail(wrapError(KindMissingCharacteristic, err, "read "+c.String()))
	}
}

func (s *Session) onCharacteristicRead(e CharacteristicRead) {
	op := s.pending
	if op == nil || op.char != e.Char {
		s.log.Debugf("read of %v ignored", e.Char)
		return
	}

	switch op.tag {
	case opReadCommon:
		s.pending = nil
		if e.Err != nil {
			s.log.Warnf("read %v: %v", e.Char, e.Err)
		} else {
			s.info.set(e.Char, e.Value)
		}
		s.discoverNext()

	case opReadStatus:
		s.pending = nil
		if e.Err != nil {
			s.fail(wrapError(KindInvalidCharacteristicData, e.Err, "status"))
			return
		}
		s.onSlotCount(e.Value)

	case opPowerInfo:
		s.onPowerInfoRead(op, e)
	}
}

func (s *Session) onNotifyStateChanged(e NotifyStateChanged) {
	op := s.pending
	if op == nil || op.tag != opSubscribe || op.char != e.Char {
		s.log.Debugf("notify state of %v ignored", e.Char)
		return
	}
	s.pending = nil

	if e.Err != nil || !e.Enabled {
		err := newError(KindMissingCharacteristic, "notifications refused on %v", e.Char)
		if e.Err != nil {
			err.Err = e.Err
		}
		s.fail(err)
		return
	}
	s.discoverNext()
}

func (s *Session) onSlotCount(b []byte) {
	st, err := ccid.ParseStatus(b)
	if err != nil {
		s.fail(wrapError(KindInvalidCharacteristicData, err, "status"))
		return
	}
	if st.SlotCount() == 0 {
		s.fail(newError(KindDummyDevice, "reader announces no slot"))
		return
	}

	s.slots = make([]*Slot, st.SlotCount())
	for i := range s.slots {
		s.slots[i] = &Slot{session: s, index: i}
	}
	if s.applyStatus(st, true).lowPowerChanged {
		s.delegate.OnLowPowerModeChanged(s.lowPower)
	}
	s.log.Infof("%d slots, low power %v", len(s.slots), s.lowPower)

	if err := s.phase.fire(evName); err != nil {
		s.fail(wrapError(KindOtherError, err, "slot names"))
		return
	}

	if len(s.cachedNames) == len(s.slots) {
		for i, n := range s.cachedNames {
			s.slots[i].name = n
		}
		s.log.Debugf("slot names from cache: %q", s.cachedNames)
		s.afterNames()
		return
	}
	s.queryName(0)
}

func (s *Session) queryName(idx int) {
	op := &pendingOp{tag: opSlotName, index: idx}
	if err := s.sendCommand(ccid.Escape, 0, ccid.SlotNameCommand(idx), op); err != nil {
		s.fail(asError(err, KindOtherError))
	}
}

// onSlotNameResponse stores the name and queries the next slot. A slot whose
// name cannot be read keeps an empty name.
func (s *Session) onSlotNameResponse(op *pendingOp, f *ccid.InboundFrame) {
	if op.tag != opSlotName {
		s.fail(newError(KindProtocolDesynchronization, "unexpected %v", op.tag))
		return
	}

	name, err := ccid.ParseSlotName(f)
	if err != nil {
		s.log.Warnf("slot %d name: %v", op.index, err)
	}
	s.slots[op.index].name = name

	if op.index+1 < len(s.slots) {
		s.queryName(op.index + 1)
		return
	}
	s.afterNames()
}

func (s *Session) afterNames() {
	if s.secureParams.Enabled() {
		if err := s.phase.fire(evAuthenticate); err != nil {
			s.fail(wrapError(KindOtherError, err, "authenticate"))
			return
		}
		s.startAuthentication()
		return
	}

	if err := s.phase.fire(evPower); err != nil {
		s.fail(wrapError(KindOtherError, err, "power"))
		return
	}
	s.sweep()
}

func (s *Session) startAuthentication() {
	s.seq = 0
	s.channel = nil
	s.authenticated = false
	s.handshake = secure.NewHandshake(s.secureParams, s.rand)

	cmd, err := s.handshake.Start()
	if err != nil {
		s.fail(wrapError(KindAuthenticationError, err, "start"))
		return
	}
	if err := s.sendCommand(ccid.Escape, 0, cmd, &pendingOp{tag: opAuthStep1}); err != nil {
		s.fail(asError(err, KindAuthenticationError))
	}
}

func (s *Session) onAuthResponse(op *pendingOp, f *ccid.InboundFrame) {
	if f.Header.Code != ccid.EscapeResponse || f.Failed() {
		s.fail(newError(KindAuthenticationError, "%v: %v, error %v", op.tag, f.Header.Code, ccid.SlotError(f.Header.SlotError)))
		return
	}

	switch op.tag {
	case opAuthStep1:
		cmd, err := s.handshake.Step1(f.Payload)
		if err != nil {
			s.fail(wrapError(KindAuthenticationError, err, "step 1"))
			return
		}
		if err := s.sendCommand(ccid.Escape, 0, cmd, &pendingOp{tag: opAuthStep2}); err != nil {
			s.fail(asError(err, KindAuthenticationError))
		}

	case opAuthStep2:
		ch, err := s.handshake.Step2(f.Payload)
		if err != nil {
			s.fail(wrapError(KindAuthenticationError, err, "step 2"))
			return
		}
		s.channel = ch
		s.handshake = nil
		s.authenticated = true
		s.log.Info("secure channel established")

		if err := s.phase.fire(evPower); err != nil {
			s.fail(wrapError(KindOtherError, err, "power"))
			return
		}
		s.sweep()

	default:
		s.fail(newError(KindAuthenticationError, "unexpected %v", op.tag))
	}
}
