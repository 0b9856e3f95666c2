// Package gatt connects a blescard.Session to a reader through the host
// Bluetooth stack.
package gatt

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"tinygo.org/x/bluetooth"

	"github.com/rigado/blescard"
)

// Transport implements blescard.Transport over a connected tinygo bluetooth device.
// GATT calls are blocking, so they run on a worker goroutine in request order and
// their completions are posted as events.
type Transport struct {
	device bluetooth.Device
	log    blescard.Logger

	mu     sync.Mutex
	chars  map[uuid.UUID]bluetooth.DeviceCharacteristic
	post   func(blescard.Event)
	closed bool

	ops  chan func()
	done chan struct{}
}

// Connect opens a link to addr. Events are dropped until SetSink is called.
func Connect(adapter *bluetooth.Adapter, addr bluetooth.Address) (*Transport, error) {
	device, err := adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, errors.Wrapf(err, "connect %s", addr.String())
	}

	t := &Transport{
		device: device,
		log:    blescard.GetLogger().ChildLogger(map[string]interface{}{"addr": addr.String()}),
		chars:  make(map[uuid.UUID]bluetooth.DeviceCharacteristic),
		post:   func(blescard.Event) {},
		ops:    make(chan func(), 64),
		done:   make(chan struct{}),
	}
	go t.loop()
	return t, nil
}

// SetSink sets the receiver of transport events, normally Runner.Post.
func (t *Transport) SetSink(post func(blescard.Event)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.post = post
}

func (t *Transport) emit(ev blescard.Event) {
	t.mu.Lock()
	post := t.post
	t.mu.Unlock()
	post(ev)
}

func (t *Transport) loop() {
	for {
		select {
		case fn := <-t.ops:
			fn()
		case <-t.done:
			return
		}
	}
}

func (t *Transport) enqueue(fn func()) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return errors.New("transport closed")
	}

	select {
	case t.ops <- fn:
		return nil
	default:
		return errors.New("transport queue full")
	}
}

// Discover enumerates every service and characteristic and posts ServicesDiscovered.
func (t *Transport) Discover() error {
	return t.enqueue(func() {
		services, err := t.discover()
		t.emit(blescard.ServicesDiscovered{Services: services, Err: err})
	})
}

func (t *Transport) discover() (map[uuid.UUID][]uuid.UUID, error) {
	svcs, err := t.device.DiscoverServices(nil)
	if err != nil {
		return nil, errors.Wrap(err, "discover services")
	}

	out := make(map[uuid.UUID][]uuid.UUID)
	for _, svc := range svcs {
		su, err := fromBluetooth(svc.UUID())
		if err != nil {
			return nil, err
		}

		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, errors.Wrapf(err, "discover characteristics of %s", su)
		}

		list := make([]uuid.UUID, 0, len(chars))
		for _, c := range chars {
			cu, err := fromBluetooth(c.UUID())
			if err != nil {
				return nil, err
			}
			t.mu.Lock()
			t.chars[cu] = c
			t.mu.Unlock()
			list = append(list, cu)
		}
		out[su] = list
		t.log.Debugf("service %s: %d characteristics", su, len(list))
	}
	return out, nil
}

func (t *Transport) characteristic(u uuid.UUID) (bluetooth.DeviceCharacteristic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.chars[u]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, errors.Errorf("characteristic %s not discovered", u)
	}
	return c, nil
}

// MTU returns the negotiated ATT MTU of the command characteristic of p.
func (t *Transport) MTU(p blescard.Profile) (int, error) {
	c, err := t.characteristic(p.PCToRDR)
	if err != nil {
		return 0, err
	}
	mtu, err := c.GetMTU()
	if err != nil {
		return 0, errors.Wrap(err, "mtu")
	}
	return int(mtu), nil
}

func (t *Transport) WriteValue(char uuid.UUID, data []byte) error {
	c, err := t.characteristic(char)
	if err != nil {
		return err
	}
	b := append([]byte(nil), data...)
	return t.enqueue(func() {
		_, err := c.WriteWithoutResponse(b)
		t.emit(blescard.WriteCompleted{Char: char, Err: errors.Wrap(err, "write")})
	})
}

func (t *Transport) ReadValue(char uuid.UUID) error {
	c, err := t.characteristic(char)
	if err != nil {
		return err
	}
	return t.enqueue(func() {
		buf := make([]byte, 512)
		n, err := c.Read(buf)
		if err != nil {
			t.emit(blescard.CharacteristicRead{Char: char, Err: errors.Wrap(err, "read")})
			return
		}
		t.emit(blescard.CharacteristicRead{Char: char, Value: buf[:n]})
	})
}

func (t *Transport) SetNotify(char uuid.UUID, enabled bool) error {
	c, err := t.characteristic(char)
	if err != nil {
		return err
	}
	return t.enqueue(func() {
		var cb func([]byte)
		if enabled {
			cb = func(buf []byte) {
				t.emit(blescard.NotifyReceived{Char: char, Value: append([]byte(nil), buf...)})
			}
		}
		err := c.EnableNotifications(cb)
		t.emit(blescard.NotifyStateChanged{Char: char, Enabled: enabled, Err: errors.Wrap(err, "notify")})
	})
}

// disconnectTimeout bounds the wait for requests queued before Disconnect.
const disconnectTimeout = 5 * time.Second

// Disconnect drops the link once the requests already queued, such as the
// final unsubscribes, have run. The session initiated it, so no Disconnected
// event is posted.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	defer close(t.done)

	res := make(chan error, 1)
	select {
	case t.ops <- func() { res <- t.device.Disconnect() }:
	default:
		t.log.Warn("transport queue full, disconnecting now")
		return errors.Wrap(t.device.Disconnect(), "disconnect")
	}

	select {
	case err := <-res:
		return errors.Wrap(err, "disconnect")
	case <-time.After(disconnectTimeout):
		return errors.Errorf("disconnect: queued requests still running after %v", disconnectTimeout)
	}
}

var _ blescard.Transport = (*Transport)(nil)
