// Package cache keeps what a session learned about each reader in a JSON file.
package cache

import (
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/rigado/blescard"
)

type deviceCache struct {
	filename string
	lock     sync.RWMutex
}

// New returns a file backed blescard.DeviceCache.
func New(filename string) blescard.DeviceCache {
	return &deviceCache{
		filename: filename,
	}
}

func (dc *deviceCache) Store(a blescard.Addr, rec blescard.DeviceRecord, replace bool) error {
	dc.lock.Lock()
	defer dc.lock.Unlock()

	cache, err := dc.loadExisting()
	if err != nil {
		return err
	}

	_, ok := cache[a.String()]
	if ok && !replace {
		return errors.Errorf("cache already contains a record for %s", a.String())
	}

	cache[a.String()] = rec

	return dc.storeCache(cache)
}

func (dc *deviceCache) Load(a blescard.Addr) (blescard.DeviceRecord, error) {
	dc.lock.RLock()
	defer dc.lock.RUnlock()

	cache, err := dc.loadExisting()
	if err != nil {
		return blescard.DeviceRecord{}, err
	}

	rec, ok := cache[a.String()]
	if !ok {
		return blescard.DeviceRecord{}, errors.Errorf("record for %s not found in cache", a.String())
	}

	return rec, nil
}

func (dc *deviceCache) Clear() error {
	dc.lock.Lock()
	defer dc.lock.Unlock()

	err := os.Remove(dc.filename)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "clear cache")
	}

	return nil
}

func (dc *deviceCache) loadExisting() (map[string]blescard.DeviceRecord, error) {
	in, err := os.ReadFile(dc.filename)
	if os.IsNotExist(err) {
		return map[string]blescard.DeviceRecord{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read cache")
	}

	var cache map[string]blescard.DeviceRecord
	err = jsoniter.Unmarshal(in, &cache)
	if err != nil {
		return nil, errors.Wrapf(err, "decode cache %s", dc.filename)
	}
	if cache == nil {
		cache = map[string]blescard.DeviceRecord{}
	}

	return cache, nil
}

func (dc *deviceCache) storeCache(cache map[string]blescard.DeviceRecord) error {
	out, err := jsoniter.Marshal(cache)
	if err != nil {
		return errors.Wrap(err, "encode cache")
	}

	return os.WriteFile(dc.filename, out, 0644)
}
