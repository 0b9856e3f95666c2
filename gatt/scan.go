package gatt

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"tinygo.org/x/bluetooth"

	"github.com/rigado/blescard"
)

// ErrNotFound is returned when no matching reader advertised before the scan timeout.
var ErrNotFound = errors.New("reader not found")

// Filter selects the reader to connect to. Empty fields match anything; an empty
// filter matches the first device advertising a known reader service.
type Filter struct {
	Address string
	Name    string
}

// Found is one advertising reader.
type Found struct {
	Address bluetooth.Address
	Name    string
	RSSI    int16
}

func (f Filter) match(r bluetooth.ScanResult, services []bluetooth.UUID) bool {
	if f.Address != "" {
		return strings.EqualFold(r.Address.String(), f.Address)
	}
	if f.Name != "" {
		return r.LocalName() == f.Name
	}
	for _, s := range services {
		if r.HasServiceUUID(s) {
			return true
		}
	}
	return false
}

// Scan reports every matching advertisement to fn until timeout or until fn returns false.
func Scan(ctx context.Context, adapter *bluetooth.Adapter, f Filter, timeout time.Duration, fn func(Found) bool) error {
	services, err := toBluetoothAll(blescard.ServiceUUIDs())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	go func() {
		<-ctx.Done()
		if err := adapter.StopScan(); err != nil {
			blescard.GetLogger().Debugf("stop scan: %v", err)
		}
	}()

	err = adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
		if !f.match(r, services) {
			return
		}
		if !fn(Found{Address: r.Address, Name: r.LocalName(), RSSI: r.RSSI}) {
			cancel()
		}
	})
	return errors.Wrap(err, "scan")
}

// Find returns the first reader matching f.
func Find(ctx context.Context, adapter *bluetooth.Adapter, f Filter, timeout time.Duration) (Found, error) {
	var found Found
	var ok bool
	err := Scan(ctx, adapter, f, timeout, func(r Found) bool {
		found, ok = r, true
		return false
	})
	if err != nil {
		return Found{}, err
	}
	if !ok {
		return Found{}, ErrNotFound
	}
	return found, nil
}
