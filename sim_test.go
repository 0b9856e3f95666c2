package blescard

import (
	"bytes"
	"crypto/aes"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rigado/blescard/ccid"
	"github.com/rigado/blescard/secure"
	"github.com/rigado/blescard/sliceops"
)

var testATR = []byte{0x3B, 0x8F, 0x80, 0x01, 0x80, 0x4F, 0x0C, 0xA0}

// simSlot is one slot of the simulated reader.
type simSlot struct {
	name    string
	present bool
}

// simReader answers command frames the way a reader does.
type simReader struct {
	t       *testing.T
	profile Profile
	slots   []simSlot

	key     []byte
	rndB    []byte
	channel *secure.Channel

	lowPower bool
	// chunk splits responses into notifications of this size. Zero sends whole frames.
	chunk int
	// silent drops every command.
	silent bool
	// mangle edits a response header before it is sent.
	mangle func(*ccid.ResponseHeader)

	buf      []byte
	commands []ccid.CommandHeader
}

func newSimReader(t *testing.T, slots ...simSlot) *simReader {
	rndB := make([]byte, 16)
	for i := range rndB {
		rndB[i] = 0xB0 | byte(i)
	}
	return &simReader{t: t, profile: Profiles[0], slots: slots, rndB: rndB}
}

func (r *simReader) status() ccid.Status {
	st := ccid.Status{LowPower: r.lowPower}
	for _, sl := range r.slots {
		code := ccid.CardAbsent
		if sl.present {
			code = ccid.CardPresent
		}
		st.Slots = append(st.Slots, code)
	}
	return st
}

func ecb(t *testing.T, key, b []byte) []byte {
	c, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("aes: %v", err)
	}
	out := make([]byte, 16)
	c.Encrypt(out, b)
	return out
}

func ecbDecrypt(t *testing.T, key, b []byte) []byte {
	c, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("aes: %v", err)
	}
	out := make([]byte, 16)
	c.Decrypt(out, b)
	return out
}

// receive takes one written chunk and returns the notifications to deliver.
func (r *simReader) receive(b []byte) [][]byte {
	r.buf = append(r.buf, b...)
	if len(r.buf) < ccid.HeaderSize {
		return nil
	}
	h, err := ccid.DecodeCommandHeader(r.buf)
	if err != nil {
		r.t.Fatalf("reader: %v", err)
	}
	total := ccid.HeaderSize + int(h.Length)
	if len(r.buf) < total {
		return nil
	}
	frame := r.buf[:total]
	r.buf = r.buf[total:]

	if h.Encrypted {
		if r.channel == nil {
			r.t.Fatalf("reader: ciphered command without a secure channel")
		}
		plain, err := r.channel.Decrypt(frame)
		if err != nil {
			r.t.Fatalf("reader: %v", err)
		}
		frame = plain
		h, _ = ccid.DecodeCommandHeader(frame)
	} else if r.channel != nil {
		r.t.Fatalf("reader: plain command on a secure channel")
	}
	r.commands = append(r.commands, h)

	if r.silent {
		return nil
	}

	rh, payload, established := r.answer(h, frame[ccid.HeaderSize:])
	rh.Slot = h.Slot
	rh.Sequence = h.Sequence
	rh.Length = uint32(len(payload))
	if r.mangle != nil {
		r.mangle(&rh)
	}

	raw := append(rh.Bytes(), payload...)
	if r.channel != nil {
		if raw, err = r.channel.Encrypt(raw); err != nil {
			r.t.Fatalf("reader: %v", err)
		}
	}
	if established != nil {
		r.channel = established
	}

	if r.chunk == 0 {
		return [][]byte{raw}
	}
	return chunk(raw, r.chunk)
}

func (r *simReader) answer(h ccid.CommandHeader, p []byte) (ccid.ResponseHeader, []byte, *secure.Channel) {
	slot := int(h.Slot)
	present := slot < len(r.slots) && r.slots[slot].present

	switch h.Command {
	case ccid.Escape:
		return r.escape(p)

	case ccid.PowerOn:
		if !present {
			return ccid.ResponseHeader{Code: ccid.SlotStatus, SlotStatus: 0x42, SlotError: byte(ccid.ErrIccMute)}, nil, nil
		}
		return ccid.ResponseHeader{Code: ccid.DataBlock}, testATR, nil

	case ccid.PowerOff:
		if !present {
			return ccid.ResponseHeader{Code: ccid.SlotStatus, SlotStatus: 0x02}, nil, nil
		}
		return ccid.ResponseHeader{Code: ccid.SlotStatus, SlotStatus: 0x01}, nil, nil

	case ccid.XfrBlock:
		if !present {
			return ccid.ResponseHeader{Code: ccid.DataBlock, SlotStatus: 0x42, SlotError: byte(ccid.ErrIccMute)}, nil, nil
		}
		return ccid.ResponseHeader{Code: ccid.DataBlock}, append(append([]byte(nil), p...), 0x90, 0x00), nil

	case ccid.GetSlotStatus:
		st := byte(0x02)
		if present {
			st = 0x00
		}
		return ccid.ResponseHeader{Code: ccid.SlotStatus, SlotStatus: st}, nil, nil
	}

	r.t.Fatalf("reader: unexpected command %v", h.Command)
	return ccid.ResponseHeader{}, nil, nil
}

func (r *simReader) escape(p []byte) (ccid.ResponseHeader, []byte, *secure.Channel) {
	ok := ccid.ResponseHeader{Code: ccid.EscapeResponse}

	switch {
	case len(p) == 3 && p[0] == 0x58 && p[1] == 0x21:
		idx := int(p[2])
		if idx >= len(r.slots) {
			return ok, []byte{0x01}, nil
		}
		return ok, append([]byte{0x00}, r.slots[idx].name...), nil

	case len(p) == 4 && p[0] == 0x00 && p[1] == 0x0A:
		return ok, append([]byte{0xFF}, ecb(r.t, r.key, r.rndB)...), nil

	case len(p) == 34 && p[0] == 0x00 && p[1] == 0xFF:
		rndA := ecbDecrypt(r.t, r.key, p[2:18])
		if !bytes.Equal(ecbDecrypt(r.t, r.key, p[18:34]), sliceops.RotateLeft(r.rndB)) {
			return ok, []byte{0x7F}, nil
		}
		ch, err := secure.DeriveChannel(r.key, rndA, r.rndB)
		if err != nil {
			r.t.Fatalf("reader: %v", err)
		}
		return ok, append([]byte{0x00}, ecb(r.t, r.key, sliceops.RotateLeft(rndA))...), ch
	}

	return ok, append([]byte{0x00}, p...), nil
}

// fakeTransport queues completion events instead of talking to a radio.
type fakeTransport struct {
	mu     sync.Mutex
	reader *simReader
	values map[uuid.UUID][]byte
	events []Event
	writes [][]byte
	reads  []uuid.UUID
	closed bool

	// notify holds the last subscription state per characteristic.
	notify  map[uuid.UUID]bool
	readErr map[uuid.UUID]error
}

func (f *fakeTransport) push(ev Event) {
	f.events = append(f.events, ev)
}

func (f *fakeTransport) WriteValue(c uuid.UUID, b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.writes = append(f.writes, append([]byte(nil), b...))
	f.push(WriteCompleted{Char: c})
	for _, n := range f.reader.receive(b) {
		f.push(NotifyReceived{Char: f.reader.profile.RDRToPC, Value: n})
	}
	return nil
}

func (f *fakeTransport) ReadValue(c uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reads = append(f.reads, c)
	if err := f.readErr[c]; err != nil {
		f.push(CharacteristicRead{Char: c, Err: err})
		return nil
	}
	v := f.values[c]
	if c == f.reader.profile.Status {
		v = f.reader.status().Bytes()
	}
	f.push(CharacteristicRead{Char: c, Value: v})
	return nil
}

func (f *fakeTransport) SetNotify(c uuid.UUID, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.notify == nil {
		f.notify = map[uuid.UUID]bool{}
	}
	f.notify[c] = enabled
	f.push(NotifyStateChanged{Char: c, Enabled: enabled})
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}

func (f *fakeTransport) take() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	evs := f.events
	f.events = nil
	return evs
}

func (f *fakeTransport) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

// call is one recorded delegate callback.
type call struct {
	name    string
	session *Session
	slot    *Slot
	channel *Channel
	data    []byte
	flag    bool
	powered bool
	power   *PowerInfo
	err     error
}

type recorder struct {
	calls []call
}

func (r *recorder) add(c call) { r.calls = append(r.calls, c) }

func (r *recorder) named(name string) []call {
	var out []call
	for _, c := range r.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func (r *recorder) reset() { r.calls = nil }

func (r *recorder) OnSessionReady(s *Session, err error) {
	r.add(call{name: "ready", session: s, err: err})
}

func (r *recorder) OnSessionClosed(err error) {
	r.add(call{name: "closed", err: err})
}

func (r *recorder) OnControlResponse(resp []byte, err error) {
	r.add(call{name: "control", data: resp, err: err})
}

func (r *recorder) OnSlotStatus(sl *Slot, present, powered bool, err error) {
	r.add(call{name: "slot", slot: sl, flag: present, powered: powered, err: err})
}

func (r *recorder) OnTransmitResponse(ch *Channel, resp []byte, err error) {
	r.add(call{name: "transmit", channel: ch, data: resp, err: err})
}

func (r *recorder) OnCardConnected(ch *Channel, err error) {
	r.add(call{name: "connected", channel: ch, err: err})
}

func (r *recorder) OnCardDisconnected(ch *Channel, err error) {
	r.add(call{name: "disconnected", channel: ch, err: err})
}

func (r *recorder) OnLowPowerModeChanged(lowPower bool) {
	r.add(call{name: "lowpower", flag: lowPower})
}

func (r *recorder) OnPowerInfo(info *PowerInfo, err error) {
	r.add(call{name: "power", power: info, err: err})
}

func (r *recorder) OnData(string, string, []byte) {}

// memCache is an in-memory DeviceCache.
type memCache struct {
	records map[string]DeviceRecord
}

func (m *memCache) Store(a Addr, rec DeviceRecord, replace bool) error {
	if m.records == nil {
		m.records = map[string]DeviceRecord{}
	}
	m.records[a.String()] = rec
	return nil
}

func (m *memCache) Load(a Addr) (DeviceRecord, error) {
	rec, ok := m.records[a.String()]
	if !ok {
		return DeviceRecord{}, newError(KindOtherError, "not cached")
	}
	return rec, nil
}

func (m *memCache) Clear() error {
	m.records = nil
	return nil
}

type harness struct {
	t   *testing.T
	tr  *fakeTransport
	rd  *simReader
	rec *recorder
	s   *Session
	now time.Time
}

func newHarness(t *testing.T, rd *simReader, opts ...Option) *harness {
	h := &harness{
		t:   t,
		rd:  rd,
		rec: &recorder{},
		now: time.Unix(1500000000, 0),
	}
	h.tr = &fakeTransport{
		reader: rd,
		values: map[uuid.UUID][]byte{
			CharManufacturerName:  []byte("SpringCard"),
			CharModelNumber:       []byte("D600\x00"),
			CharSerialNumber:      []byte("0A1B2C3D"),
			CharFirmwareRevision:  []byte("1.42"),
			CharBatteryLevel:      {87},
			CharBatteryPowerState: {0xBE},
		},
	}

	opts = append([]Option{OptAddr(NewAddr("D4:F5:13:00:00:01"))}, opts...)
	s, err := New(h.tr, h.rec, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.now = func() time.Time { return h.now }
	h.s = s
	return h
}

func (h *harness) services() map[uuid.UUID][]uuid.UUID {
	p := h.rd.profile
	return map[uuid.UUID][]uuid.UUID{
		ServiceGenericAccess: {CharDeviceName},
		ServiceDeviceInformation: {
			CharManufacturerName, CharModelNumber, CharSerialNumber, CharFirmwareRevision,
		},
		ServiceBattery: {CharBatteryLevel, CharBatteryPowerState},
		p.Service:      {p.PCToRDR, p.RDRToPC, p.Status},
	}
}

// start runs discovery up to Ready and fails the test otherwise.
func (h *harness) start() {
	h.t.Helper()
	h.startWith(h.services())
	if h.s.Phase() != PhaseReady {
		h.t.Fatalf("expected phase %s but got %s", PhaseReady, h.s.Phase())
	}
	ready := h.rec.named("ready")
	if len(ready) != 1 || ready[0].err != nil || ready[0].session != h.s {
		h.t.Fatalf("expected one successful OnSessionReady, got %+v", ready)
	}
}

func (h *harness) startWith(services map[uuid.UUID][]uuid.UUID) {
	h.t.Helper()
	if err := h.s.Start(); err != nil {
		h.t.Fatalf("Start: %v", err)
	}
	h.s.Handle(ServicesDiscovered{Services: services})
	h.pump()
}

// pump delivers queued events until the transport goes quiet.
func (h *harness) pump() {
	for {
		evs := h.tr.take()
		if len(evs) == 0 {
			return
		}
		for _, ev := range evs {
			h.s.Handle(ev)
		}
	}
}

// pumpOne delivers the first queued event and keeps the rest.
func (h *harness) pumpOne() bool {
	h.tr.mu.Lock()
	if len(h.tr.events) == 0 {
		h.tr.mu.Unlock()
		return false
	}
	ev := h.tr.events[0]
	h.tr.events = h.tr.events[1:]
	h.tr.mu.Unlock()

	h.s.Handle(ev)
	return true
}

func (h *harness) notifyStatus(st ccid.Status) {
	h.s.Handle(NotifyReceived{Char: h.rd.profile.Status, Value: st.Bytes()})
	h.pump()
}
