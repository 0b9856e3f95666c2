package blescard

import (
	"time"

	"github.com/google/uuid"
	"github.com/rigado/blescard/ccid"
)

// opTag names the operation the session is waiting on.
type opTag string

const (
	opDiscover   opTag = "discover"
	opReadCommon opTag = "read common characteristic"
	opSubscribe  opTag = "subscribe"
	opReadStatus opTag = "read status"
	opSlotName   opTag = "slot name"
	opAuthStep1  opTag = "authentication step 1"
	opAuthStep2  opTag = "authentication step 2"
	opPowerSweep opTag = "power sweep"
	opControl    opTag = "control"
	opConnect    opTag = "connect"
	opReconnect  opTag = "reconnect"
	opTransmit   opTag = "transmit"
	opDisconnect opTag = "disconnect"
	opPowerInfo  opTag = "power info"
	opWakeUp     opTag = "wake up"
	opShutdown   opTag = "shutdown"
)

// pendingOp is the single operation in flight. Its presence is the gate.
type pendingOp struct {
	tag      opTag
	slot     int
	seq      byte
	deadline time.Time
	writing  bool

	// channel is the channel the operation reports on, if any.
	channel *Channel
	// wake marks a sweep power-on that restores a channel after reader sleep.
	wake bool
	// index is the slot a name query is about.
	index int
	// char is the characteristic a read or subscription waits on.
	char  uuid.UUID
	power *PowerInfo
	queue []uuid.UUID
}

func (op *pendingOp) expectsFrame() bool {
	switch op.tag {
	case opDiscover, opReadCommon, opSubscribe, opReadStatus, opPowerInfo:
		return false
	}
	return true
}

// canIssue checks the gate for an application verb.
func (s *Session) canIssue(bypassLowPower bool) *Error {
	switch {
	case s.phase.terminal(), s.phase.Is(PhaseDisconnecting):
		return newError(KindDeviceNotConnected, "session is %s", s.phase.Current())
	case !s.phase.Is(PhaseReady):
		return newError(KindBusy, "session is %s", s.phase.Current())
	case s.pending != nil:
		return newError(KindBusy, "%v in progress", s.pending.tag)
	case s.lowPower && !bypassLowPower:
		return newError(KindBusy, "reader is in low power mode")
	}
	return nil
}

// Control sends an escape command to the reader, answered by OnControlResponse.
func (s *Session) Control(cmd []byte) error {
	if err := s.canIssue(false); err != nil {
		return err
	}
	if len(cmd) == 0 {
		return newError(KindInvalidParameter, "empty control command")
	}
	return s.sendCommand(ccid.Escape, 0, cmd, &pendingOp{tag: opControl})
}

// Connect powers up the card in slot index, answered by OnCardConnected.
func (s *Session) Connect(index int) error {
	if err := s.canIssue(false); err != nil {
		return err
	}
	sl, err := s.Reader(index)
	if err != nil {
		return err
	}
	if !sl.present {
		return newError(KindCardAbsent, "slot %d", index)
	}
	return s.sendCommand(ccid.PowerOn, index, nil, &pendingOp{tag: opConnect})
}

// Transmit sends a C-APDU to the card of ch, answered by OnTransmitResponse.
func (s *Session) Transmit(ch *Channel, apdu []byte) error {
	if err := s.canIssue(false); err != nil {
		return err
	}
	if err := s.checkChannel(ch); err != nil {
		return err
	}
	if ch.unpowered {
		return newError(KindCardPoweredDown, "slot %d", ch.slot.index)
	}
	if len(apdu) == 0 {
		return newError(KindInvalidParameter, "empty apdu")
	}
	return s.sendCommand(ccid.XfrBlock, ch.slot.index, apdu, &pendingOp{tag: opTransmit, channel: ch})
}

// Disconnect powers the card of ch down, answered by OnCardDisconnected.
func (s *Session) Disconnect(ch *Channel) error {
	if err := s.canIssue(false); err != nil {
		return err
	}
	if err := s.checkChannel(ch); err != nil {
		return err
	}
	return s.sendCommand(ccid.PowerOff, ch.slot.index, nil, &pendingOp{tag: opDisconnect, channel: ch})
}

// Reconnect powers the card of ch up again, answered by OnCardConnected.
func (s *Session) Reconnect(ch *Channel) error {
	if err := s.canIssue(false); err != nil {
		return err
	}
	if err := s.checkChannel(ch); err != nil {
		return err
	}
	return s.sendCommand(ccid.PowerOn, ch.slot.index, nil, &pendingOp{tag: opReconnect, channel: ch})
}

func (s *Session) checkChannel(ch *Channel) *Error {
	if ch == nil || ch.slot == nil || ch.slot.session != s {
		return newError(KindInvalidParameter, "channel does not belong to this session")
	}
	if ch.slot.channel != ch || !ch.slot.present {
		return newError(KindCardAbsent, "slot %d", ch.slot.index)
	}
	return nil
}

// WakeUp asks the reader for the status of slot 0, which takes it out of low
// power mode. It is the only verb accepted while the reader sleeps.
func (s *Session) WakeUp() error {
	if err := s.canIssue(true); err != nil {
		return err
	}
	return s.sendCommand(ccid.GetSlotStatus, 0, nil, &pendingOp{tag: opWakeUp})
}

// Shutdown switches the reader off. The answer is reported by OnControlResponse.
func (s *Session) Shutdown() error {
	if err := s.canIssue(false); err != nil {
		return err
	}
	return s.sendCommand(ccid.Escape, 0, ccid.ShutdownCommand(), &pendingOp{tag: opShutdown})
}

// PowerInfo reads the battery power state and level, answered by OnPowerInfo.
func (s *Session) PowerInfo() error {
	if err := s.canIssue(true); err != nil {
		return err
	}

	var queue []uuid.UUID
	for _, c := range []uuid.UUID{CharBatteryPowerState, CharBatteryLevel} {
		if s.hasCharacteristic(c) {
			queue = append(queue, c)
		}
	}
	if len(queue) == 0 {
		return newError(KindMissingCharacteristic, "no battery characteristic")
	}

	op := &pendingOp{tag: opPowerInfo, power: &PowerInfo{}, queue: queue}
	return s.readNext(op)
}

// readNext reads the next characteristic of op.queue and holds the gate for op.
func (s *Session) readNext(op *pendingOp) error {
	op.char = op.queue[0]
	op.queue = op.queue[1:]
	op.deadline = s.now().Add(s.timeout)
	s.pending = op

	if err := s.transport.ReadValue(op.char); err != nil {
		s.pending = nil
		return wrapError(KindOtherError, err, "read "+op.char.String())
	}
	return nil
}

func (s *Session) onPowerInfoRead(op *pendingOp, e CharacteristicRead) {
	if e.Err != nil || len(e.Value) == 0 {
		s.pending = nil
		err := newError(KindInvalidCharacteristicData, "%v", e.Char)
		if e.Err != nil {
			err = wrapError(KindOtherError, e.Err, "read "+e.Char.String())
		}
		s.delegate.OnPowerInfo(nil, err)
		s.sweep()
		return
	}

	s.info.set(e.Char, e.Value)
	switch e.Char {
	case CharBatteryPowerState:
		op.power.HasPowerState = true
		op.power.PowerState = e.Value[0]
	case CharBatteryLevel:
		op.power.HasBatteryLevel = true
		op.power.BatteryLevel = int(e.Value[0])
	}

	if len(op.queue) > 0 {
		if err := s.readNext(op); err != nil {
			s.delegate.OnPowerInfo(nil, err)
		}
		return
	}

	s.pending = nil
	s.delegate.OnPowerInfo(op.power, nil)
	s.sweep()
}

// onReadyResponse routes a response by the pending tag, then runs the power sweep.
func (s *Session) onReadyResponse(op *pendingOp, f *ccid.InboundFrame) {
	switch op.tag {
	case opControl, opShutdown:
		resp, err := escapeResult(f)
		s.delegate.OnControlResponse(resp, nilIfEmpty(err))

	case opConnect:
		ch, err := s.powerResult(s.slots[op.slot], f)
		s.delegate.OnCardConnected(ch, nilIfEmpty(err))

	case opReconnect:
		ch, err := s.powerResult(s.slots[op.slot], f)
		if err != nil {
			ch = op.channel
		}
		s.delegate.OnCardConnected(ch, nilIfEmpty(err))

	case opTransmit:
		resp, err := s.transmitResult(op, f)
		s.delegate.OnTransmitResponse(op.channel, resp, nilIfEmpty(err))

	case opDisconnect:
		err := s.disconnectResult(op, f)
		s.delegate.OnCardDisconnected(op.channel, nilIfEmpty(err))

	case opWakeUp:
		sl := s.slots[0]
		var err *Error
		if f.Header.Code != ccid.SlotStatus {
			err = newError(KindInvalidCharacteristicData, "unexpected %v", f.Header.Code)
		}
		s.delegate.OnSlotStatus(sl, sl.present, sl.powered, nilIfEmpty(err))

	case opPowerSweep:
		s.onSweepResponse(op, f)

	default:
		s.log.Warnf("no handler for %v in phase %s", op.tag, s.phase.Current())
	}

	s.sweep()
}

// nilIfEmpty keeps a nil *Error from turning into a non-nil error interface.
func nilIfEmpty(err *Error) error {
	if err == nil {
		return nil
	}
	return err
}

func escapeResult(f *ccid.InboundFrame) ([]byte, *Error) {
	if f.Header.Code != ccid.EscapeResponse {
		return nil, newError(KindInvalidCharacteristicData, "unexpected %v", f.Header.Code)
	}
	if f.Failed() {
		return nil, newError(KindCardCommunicationError, "%v, error %v", f.Status(), ccid.SlotError(f.Header.SlotError))
	}
	return f.Payload, nil
}

// powerResult applies the answer to a PowerOn.
func (s *Session) powerResult(sl *Slot, f *ccid.InboundFrame) (*Channel, *Error) {
	switch {
	case f.Header.Code == ccid.DataBlock && !f.Failed():
		return sl.setPowered(f.Payload), nil
	case f.Status().Icc == ccid.IccAbsent:
		sl.setRemoved()
		return nil, newError(KindCardAbsent, "slot %d", sl.index)
	case f.Header.Code == ccid.SlotStatus && !f.Failed():
		sl.setRemoved()
		return nil, newError(KindCardAbsent, "slot %d", sl.index)
	}
	sl.powered = false
	sl.inError = true
	return nil, newError(KindCardCommunicationError, "slot %d: %v, error %v",
		sl.index, f.Status(), ccid.SlotError(f.Header.SlotError))
}

func (s *Session) transmitResult(op *pendingOp, f *ccid.InboundFrame) ([]byte, *Error) {
	sl := s.slots[op.slot]
	if !f.Failed() {
		if f.Header.Code != ccid.DataBlock {
			return nil, newError(KindInvalidCharacteristicData, "unexpected %v", f.Header.Code)
		}
		return f.Payload, nil
	}

	switch f.Status().Icc {
	case ccid.IccAbsent:
		sl.setRemoved()
		return nil, newError(KindCardAbsent, "slot %d", sl.index)
	case ccid.IccInactive:
		sl.powered = false
		if op.channel != nil {
			op.channel.powerDown()
		}
		return nil, newError(KindCardPoweredDown, "slot %d", sl.index)
	}
	return nil, newError(KindCardCommunicationError, "slot %d: %v, error %v",
		sl.index, f.Status(), ccid.SlotError(f.Header.SlotError))
}

func (s *Session) disconnectResult(op *pendingOp, f *ccid.InboundFrame) *Error {
	sl := s.slots[op.slot]
	switch {
	case f.Status().Icc == ccid.IccAbsent:
		sl.setRemoved()
		return nil
	case f.Header.Code != ccid.SlotStatus:
		return newError(KindInvalidCharacteristicData, "unexpected %v", f.Header.Code)
	case f.Header.SlotError != 0:
		return newError(KindCardCommunicationError, "slot %d: error %v", sl.index, ccid.SlotError(f.Header.SlotError))
	}
	sl.powered = false
	sl.heldOff = true
	if op.channel != nil {
		op.channel.powerDown()
	}
	return nil
}

// reportFailure delivers err to the callback that answers op.
func (s *Session) reportFailure(op *pendingOp, err *Error) {
	switch op.tag {
	case opControl, opShutdown:
		s.delegate.OnControlResponse(nil, err)
	case opConnect:
		s.delegate.OnCardConnected(nil, err)
	case opReconnect:
		s.delegate.OnCardConnected(op.channel, err)
	case opTransmit:
		s.delegate.OnTransmitResponse(op.channel, nil, err)
	case opDisconnect:
		s.delegate.OnCardDisconnected(op.channel, err)
	case opPowerInfo:
		s.delegate.OnPowerInfo(nil, err)
	case opWakeUp:
		sl := s.slots[0]
		s.delegate.OnSlotStatus(sl, sl.present, sl.powered, err)
	case opPowerSweep:
		sl := s.slots[op.slot]
		sl.inError = true
		if op.wake && op.channel != nil {
			s.delegate.OnCardConnected(op.channel, err)
			return
		}
		s.delegate.OnSlotStatus(sl, sl.present, false, err)
	}
}

// sweep powers the next present, unpowered slot. It is a no-op while an
// operation is pending; the response handler calls it again.
func (s *Session) sweep() {
	if s.pending != nil {
		return
	}

	switch s.phase.Current() {
	case PhasePoweringSlots:
		if s.lowPower {
			s.log.Info("reader asleep, skipping power sweep")
			s.becomeReady()
			return
		}
		sl := s.nextToPower()
		if sl == nil {
			s.becomeReady()
			return
		}
		s.powerSlot(sl, false)

	case PhaseReady:
		if s.lowPower {
			return
		}
		sl := s.nextToPower()
		if sl == nil {
			s.wakeSweep = false
			return
		}
		wake := s.wakeSweep && sl.channel != nil && sl.channel.unpowered
		s.powerSlot(sl, wake)
	}
}

func (s *Session) nextToPower() *Slot {
	for _, sl := range s.slots {
		if sl.needsPower() {
			return sl
		}
	}
	return nil
}

func (s *Session) powerSlot(sl *Slot, wake bool) {
	s.log.Debugf("powering slot %d", sl.index)
	op := &pendingOp{tag: opPowerSweep, channel: sl.channel, wake: wake}
	if err := s.sendCommand(ccid.PowerOn, sl.index, nil, op); err != nil {
		s.fail(asError(err, KindOtherError))
	}
}

// onSweepResponse applies a sweep power-on. Before Ready nothing is surfaced.
func (s *Session) onSweepResponse(op *pendingOp, f *ccid.InboundFrame) {
	sl := s.slots[op.slot]
	ch, err := s.powerResult(sl, f)
	if err != nil {
		s.log.Warnf("power sweep: %v", err)
	}
	if !s.phase.Is(PhaseReady) {
		return
	}

	if op.wake {
		if ch == nil {
			ch = op.channel
		}
		s.delegate.OnCardConnected(ch, nilIfEmpty(err))
		return
	}
	s.delegate.OnSlotStatus(sl, sl.present, sl.powered, nilIfEmpty(err))
}

// becomeReady ends the setup phases and surfaces the cards powered so far.
func (s *Session) becomeReady() {
	if err := s.phase.fire(evReady); err != nil {
		s.fail(wrapError(KindOtherError, err, "ready"))
		return
	}
	s.wakeSweep = false
	s.storeRecord()

	s.log.Infof("ready, %d slots, authenticated=%v", len(s.slots), s.authenticated)
	s.delegate.OnSessionReady(s, nil)
	for _, sl := range s.slots {
		if sl.powered && sl.channel != nil {
			s.delegate.OnCardConnected(sl.channel, nil)
		}
	}
}

func (s *Session) storeRecord() {
	if s.cache == nil {
		return
	}
	rec := DeviceRecord{
		Profile:       s.profile.Name,
		Info:          s.info,
		KeyCheckValue: s.kcv,
	}
	for _, sl := range s.slots {
		rec.SlotNames = append(rec.SlotNames, sl.name)
	}
	if err := s.cache.Store(s.addr, rec, true); err != nil {
		s.log.Warnf("cache: %v", err)
	}
}
