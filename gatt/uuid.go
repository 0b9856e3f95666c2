package gatt

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"tinygo.org/x/bluetooth"
)

func toBluetooth(u uuid.UUID) (bluetooth.UUID, error) {
	bu, err := bluetooth.ParseUUID(u.String())
	if err != nil {
		return bluetooth.UUID{}, errors.Wrapf(err, "uuid %s", u)
	}
	return bu, nil
}

func fromBluetooth(bu bluetooth.UUID) (uuid.UUID, error) {
	u, err := uuid.Parse(bu.String())
	if err != nil {
		return uuid.Nil, errors.Wrapf(err, "uuid %s", bu.String())
	}
	return u, nil
}

func toBluetoothAll(in []uuid.UUID) ([]bluetooth.UUID, error) {
	out := make([]bluetooth.UUID, 0, len(in))
	for _, u := range in {
		bu, err := toBluetooth(u)
		if err != nil {
			return nil, err
		}
		out = append(out, bu)
	}
	return out, nil
}
