package blescard

import (
	"encoding/hex"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rigado/blescard/ccid"
	"github.com/rigado/blescard/secure"
)

const (
	DefaultWriteChunkSize  = 512
	DefaultResponseTimeout = 30 * time.Second
)

// Session drives one connected reader. It is not safe for concurrent use: events
// and verbs must be applied from a single goroutine, see Runner.
type Session struct {
	transport Transport
	delegate  Delegate
	log       Logger
	addr      Addr
	cache     DeviceCache

	phase    *phaseMachine
	profile  Profile
	services map[uuid.UUID][]uuid.UUID
	info     DeviceInfo

	authenticated bool
	lowPower      bool
	seq           byte
	lastSlot      byte

	slots   []*Slot
	pending *pendingOp
	reasm   ccid.Reassembler

	secureParams secure.Parameters
	handshake    *secure.Handshake
	channel      *secure.Channel
	rand         io.Reader
	kcv          string

	chunkSize int
	timeout   time.Duration
	now       func() time.Time

	commonQueue []uuid.UUID
	notifyQueue []uuid.UUID
	cachedNames []string
	writeQueue  [][]byte

	// wakeSweep is set when the reader leaves low power, until the sweep has
	// restored every channel that was powered down by the sleep.
	wakeSweep bool
}

// New returns a session bound to t. The transport is expected to be connected;
// the session starts when Start is called.
func New(t Transport, d Delegate, opts ...Option) (*Session, error) {
	if t == nil {
		return nil, newError(KindInvalidParameter, "nil transport")
	}
	if d == nil {
		d = NopDelegate{}
	}

	s := &Session{
		transport: t,
		delegate:  d,
		log:       GetLogger(),
		addr:      NewAddr(""),
		chunkSize: DefaultWriteChunkSize,
		timeout:   DefaultResponseTimeout,
		now:       time.Now,
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	s.log = s.log.ChildLogger(map[string]interface{}{"addr": s.addr.String()})
	s.phase = newPhaseMachine(s.log)

	if s.secureParams.Enabled() {
		kcv, err := secure.KeyCheckValue(s.secureParams.Key)
		if err != nil {
			return nil, wrapError(KindInvalidParameter, err, "secure channel key")
		}
		s.kcv = hex.EncodeToString(kcv)
		s.log.Infof("secure channel enabled, %v key, kcv %s", s.secureParams.KeyIndex, s.kcv)
	}

	return s, nil
}

func (s *Session) SetLogger(l Logger) error {
	if l == nil {
		return newError(KindInvalidParameter, "nil logger")
	}
	s.log = l
	return nil
}

func (s *Session) SetSecureChannel(p secure.Parameters) error {
	if err := p.Validate(); err != nil {
		return wrapError(KindInvalidParameter, err, "secure channel")
	}
	s.secureParams = p
	return nil
}

func (s *Session) SetWriteChunkSize(n int) error {
	if n < ccid.HeaderSize {
		return newError(KindInvalidParameter, "write chunk size %d", n)
	}
	s.chunkSize = n
	return nil
}

func (s *Session) SetResponseTimeout(d time.Duration) error {
	if d <= 0 {
		return newError(KindInvalidParameter, "response timeout %v", d)
	}
	s.timeout = d
	return nil
}

func (s *Session) SetCache(c DeviceCache) error {
	s.cache = c
	return nil
}

func (s *Session) SetRandom(r io.Reader) error {
	s.rand = r
	return nil
}

func (s *Session) SetAddr(a Addr) error {
	if a == nil {
		return newError(KindInvalidParameter, "nil address")
	}
	s.addr = a
	return nil
}

// Start begins discovery. The transport must then deliver ServicesDiscovered.
func (s *Session) Start() error {
	if err := s.phase.fire(evDiscover); err != nil {
		return wrapError(KindOtherError, err, "start")
	}
	s.pending = &pendingOp{tag: opDiscover, deadline: s.now().Add(s.timeout)}
	return nil
}

// Phase returns the current phase.
func (s *Session) Phase() Phase { return s.phase.Current() }

// Profile returns the matched reader profile.
func (s *Session) Profile() Profile { return s.profile }

// Info returns the standard characteristics read during discovery.
func (s *Session) Info() DeviceInfo { return s.info }

// Addr returns the reader address.
func (s *Session) Addr() Addr { return s.addr }

// Authenticated reports whether the secure channel is established.
func (s *Session) Authenticated() bool { return s.authenticated }

// LowPower reports whether the reader is asleep.
func (s *Session) LowPower() bool { return s.lowPower }

// Busy reports whether an operation is in flight.
func (s *Session) Busy() bool { return s.pending != nil }

// SlotCount returns the number of slots of the reader.
func (s *Session) SlotCount() int { return len(s.slots) }

// Slots returns the slots in index order.
func (s *Session) Slots() []*Slot {
	out := make([]*Slot, len(s.slots))
	copy(out, s.slots)
	return out
}

// Reader returns the slot at index.
func (s *Session) Reader(index int) (*Slot, error) {
	if len(s.slots) == 0 {
		return nil, newError(KindDeviceNotConnected, "no slots")
	}
	if index < 0 || index >= len(s.slots) {
		return nil, newError(KindInvalidParameter, "slot index %d out of range", index)
	}
	return s.slots[index], nil
}

// ReaderByName returns the slot with the given name.
func (s *Session) ReaderByName(name string) (*Slot, error) {
	for _, sl := range s.slots {
		if sl.name == name {
			return sl, nil
		}
	}
	return nil, newError(KindNoSuchSlot, "%q", name)
}

// Handle applies one transport event.
func (s *Session) Handle(ev Event) {
	if s.phase.terminal() {
		return
	}

	switch e := ev.(type) {
	case ServicesDiscovered:
		s.onServicesDiscovered(e)
	case CharacteristicRead:
		s.trace(e.Char, DirectionRead, e.Value)
		s.onCharacteristicRead(e)
	case NotifyStateChanged:
		s.onNotifyStateChanged(e)
	case WriteCompleted:
		s.onWriteCompleted(e)
	case NotifyReceived:
		s.trace(e.Char, DirectionNotify, e.Value)
		s.onNotify(e)
	case Disconnected:
		s.onDisconnected(e)
	default:
		s.log.Warnf("unhandled event %T", ev)
	}
}

func (s *Session) trace(char uuid.UUID, dir string, b []byte) {
	s.delegate.OnData(char.String(), dir, b)
}

func (s *Session) onNotify(e NotifyReceived) {
	switch e.Char {
	case s.profile.Status:
		s.onStatus(e.Value)
	case s.profile.RDRToPC:
		s.onResponseChunk(e.Value)
	default:
		s.log.Debugf("notification from %v ignored", e.Char)
	}
}

// onStatus handles a status snapshot outside discovery.
func (s *Session) onStatus(b []byte) {
	if len(s.slots) == 0 {
		return
	}

	st, err := ccid.ParseStatus(b)
	if err != nil {
		s.log.Warnf("invalid status %x: %v", b, err)
		return
	}

	res := s.applyStatus(st, false)
	if res.lowPowerChanged {
		s.delegate.OnLowPowerModeChanged(s.lowPower)
	}
	if !s.phase.Is(PhaseReady) {
		return
	}
	for n, i := range res.removed {
		sl := s.slots[i]
		if ch := res.dropped[n]; ch != nil {
			s.delegate.OnCardDisconnected(ch, newError(KindCardRemoved, "slot %d", i))
		}
		s.delegate.OnSlotStatus(sl, false, false, nil)
	}
	for _, i := range res.inserted {
		sl := s.slots[i]
		s.delegate.OnSlotStatus(sl, true, sl.powered, nil)
	}
	if res.sweep {
		s.sweep()
	}
}

func (s *Session) onResponseChunk(b []byte) {
	f, err := s.reasm.Feed(b, s.now())
	if err != nil {
		s.log.Errorf("invalid response chunk %x: %v", b, err)
		s.failPending(wrapError(KindInvalidCharacteristicData, err, "response"))
		return
	}
	if f == nil {
		s.log.Debugf("long answer, %d bytes so far", s.reasm.Received())
		return
	}

	if f.Header.Encrypted {
		if s.channel == nil {
			s.fail(newError(KindSecureCommunicationError, "ciphered response without a secure channel"))
			return
		}
		plain, err := s.channel.Decrypt(f.Bytes())
		if err != nil {
			s.fail(wrapError(KindSecureCommunicationError, err, "response"))
			return
		}
		if f, err = ccid.ParseResponse(plain); err != nil {
			s.fail(wrapError(KindSecureCommunicationError, err, "deciphered response"))
			return
		}
	} else if s.channel != nil {
		s.fail(newError(KindSecureCommunicationError, "plain response on a secure channel"))
		return
	}

	s.log.Debugf("<- %v", f)
	s.onFrame(f)
}

func (s *Session) onFrame(f *ccid.InboundFrame) {
	op := s.pending
	if op == nil || !op.expectsFrame() {
		s.log.Warnf("unexpected response dropped: %v", f)
		return
	}
	if f.Header.Sequence != op.seq || int(f.Header.Slot) != op.slot {
		s.fail(newError(KindProtocolDesynchronization,
			"sent seq %d slot %d, got seq %d slot %d", op.seq, op.slot, f.Header.Sequence, f.Header.Slot))
		return
	}

	s.pending = nil
	s.writeQueue = nil

	switch s.phase.Current() {
	case PhaseReadingSlotNames:
		s.onSlotNameResponse(op, f)
	case PhaseAuthenticating:
		s.onAuthResponse(op, f)
	case PhasePoweringSlots:
		s.onSweepResponse(op, f)
		s.sweep()
	case PhaseReady:
		s.onReadyResponse(op, f)
	default:
		s.log.Warnf("response in phase %s dropped: %v", s.phase.Current(), f)
	}
}

// sendCommand builds, protects and writes one frame, and holds the gate for op.
func (s *Session) sendCommand(cmd ccid.Command, slot int, payload []byte, op *pendingOp) error {
	f := ccid.NewCommand(cmd, byte(slot), s.seq, payload)
	op.seq = s.seq
	op.slot = slot
	s.seq++

	raw := f.Bytes()
	if s.channel != nil {
		var err error
		raw, err = s.channel.Encrypt(raw)
		if err != nil {
			return wrapError(KindSecureCommunicationError, err, "command")
		}
	}

	s.log.Debugf("-> %v", f)
	s.lastSlot = byte(slot)
	op.deadline = s.now().Add(s.timeout)
	s.pending = op
	s.reasm.Reset()

	s.writeQueue = chunk(raw, s.chunkSize)
	if err := s.writeNext(); err != nil {
		s.pending = nil
		s.writeQueue = nil
		return err
	}
	return nil
}

func chunk(b []byte, size int) [][]byte {
	var out [][]byte
	for len(b) > size {
		out = append(out, b[:size])
		b = b[size:]
	}
	return append(out, b)
}

func (s *Session) writeNext() *Error {
	if len(s.writeQueue) == 0 {
		return nil
	}
	c := s.writeQueue[0]
	s.writeQueue = s.writeQueue[1:]

	s.trace(s.profile.PCToRDR, DirectionWrite, c)
	if err := s.transport.WriteValue(s.profile.PCToRDR, c); err != nil {
		return wrapError(KindOtherError, errors.Wrap(err, "write"), "transport")
	}
	if s.pending != nil {
		s.pending.writing = true
	}
	return nil
}

func (s *Session) onWriteCompleted(e WriteCompleted) {
	if s.pending == nil || !s.pending.writing {
		return
	}
	s.pending.writing = false

	if e.Err != nil {
		s.failPending(wrapError(KindOtherError, errors.Wrap(e.Err, "write"), "transport"))
		return
	}
	if err := s.writeNext(); err != nil {
		s.failPending(err)
	}
}

// Expire fails the pending operation or long answer once it is older than the
// response timeout. It returns true when something expired.
func (s *Session) Expire(now time.Time) bool {
	if s.phase.terminal() {
		return false
	}

	if s.reasm.Pending() && now.Sub(s.reasm.Started()) > s.timeout {
		s.log.Warnf("long answer timed out after %d bytes", s.reasm.Received())
		s.reasm.Reset()
		s.failPending(newError(KindTimeout, "incomplete answer"))
		return true
	}

	if s.pending != nil && now.After(s.pending.deadline) {
		s.failPending(newError(KindTimeout, "%v", s.pending.tag))
		return true
	}
	return false
}

// failPending reports err for the operation in flight and releases the gate.
// Before Ready, or for a fatal kind, the session is closed instead.
func (s *Session) failPending(err *Error) {
	op := s.pending
	s.pending = nil
	s.writeQueue = nil
	s.reasm.Reset()

	if op == nil && !s.phase.beforeReady() {
		s.log.Warnf("dropped: %v", err)
		return
	}
	if s.phase.beforeReady() || err.Kind.Fatal() {
		s.fail(err)
		return
	}

	s.log.Warnf("%v failed: %v", op.tag, err)
	s.reportFailure(op, err)
	s.sweep()
}

// fail ends the session with err.
func (s *Session) fail(err *Error) {
	if s.phase.terminal() {
		return
	}

	s.log.Errorf("session failed: %v", err)
	before := s.phase.beforeReady()
	s.teardown()

	if ferr := s.phase.fire(evFail); ferr != nil {
		s.log.Debugf("phase: %v", ferr)
	}
	if derr := s.transport.Disconnect(); derr != nil {
		s.log.Warnf("disconnect: %v", derr)
	}

	if before {
		s.delegate.OnSessionReady(nil, err)
		return
	}
	s.delegate.OnSessionClosed(err)
}

func (s *Session) teardown() {
	s.pending = nil
	s.writeQueue = nil
	s.reasm.Reset()
	s.channel = nil
	s.handshake = nil
	s.authenticated = false
}

// Close aborts any operation in flight, unsubscribes from the reader,
// disconnects and reports OnSessionClosed.
func (s *Session) Close() error {
	return s.close(false)
}

// CloseKeepLink is Close without dropping the BLE link, so that the transport
// can be handed to another session.
func (s *Session) CloseKeepLink() error {
	return s.close(true)
}

func (s *Session) close(keepLink bool) error {
	if s.phase.terminal() {
		return nil
	}

	if err := s.phase.fire(evDisconnect); err != nil {
		s.log.Debugf("phase: %v", err)
	}
	s.teardown()
	s.unsubscribe()

	var err error
	if !keepLink {
		err = s.transport.Disconnect()
	}
	if ferr := s.phase.fire(evClosed); ferr != nil {
		s.log.Debugf("phase: %v", ferr)
	}
	s.delegate.OnSessionClosed(nil)

	if err != nil {
		return wrapError(KindOtherError, errors.Wrap(err, "disconnect"), "close")
	}
	return nil
}

// unsubscribe turns off the notifications enabled during discovery.
func (s *Session) unsubscribe() {
	if s.profile.Status == uuid.Nil {
		return
	}
	for _, c := range []uuid.UUID{s.profile.Status, s.profile.RDRToPC} {
		if err := s.transport.SetNotify(c, false); err != nil {
			s.log.Warnf("unsubscribe %v: %v", c, err)
		}
	}
}

func (s *Session) onDisconnected(e Disconnected) {
	if s.phase.terminal() {
		return
	}

	err := newError(KindDeviceNotConnected, "link lost")
	if e.Err != nil {
		err.Err = e.Err
	}

	if s.phase.beforeReady() {
		s.teardown()
		if ferr := s.phase.fire(evFail); ferr != nil {
			s.log.Debugf("phase: %v", ferr)
		}
		s.delegate.OnSessionReady(nil, err)
		return
	}

	if op := s.pending; op != nil {
		s.reportFailure(op, err)
	}
	s.teardown()
	if ferr := s.phase.fire(evClosed); ferr != nil {
		s.log.Debugf("phase: %v", ferr)
	}
	s.delegate.OnSessionClosed(err)
}
