package policydb

import (
	"errors"
	"strings"
	"sync"

	"github.com/99designs/keyring"

	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

// Store persists records. Implementations need not be safe for concurrent use; a Database only
// calls them from its writer goroutine, and from New before that goroutine starts.
type Store interface {
	Load() ([]*Record, error)
	Save(record *Record) error
	Delete(device protocol.Device) error
}

// MemoryStore keeps records in memory.
type MemoryStore struct {
	lock    sync.Mutex
	records map[protocol.Device][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[protocol.Device][]byte)}
}

func (m *MemoryStore) Load() ([]*Record, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	var records []*Record
	for _, data := range m.records {
		var r Record
		if err := r.UnmarshalBinary(data); err != nil {
			return nil, err
		}
		records = append(records, &r)
	}
	return records, nil
}

func (m *MemoryStore) Save(record *Record) error {
	data, err := record.MarshalBinary()
	if err != nil {
		return err
	}
	m.lock.Lock()
	m.records[record.Device] = data
	m.lock.Unlock()
	return nil
}

func (m *MemoryStore) Delete(device protocol.Device) error {
	m.lock.Lock()
	delete(m.records, device)
	m.lock.Unlock()
	return nil
}

const keyPrefix = "btpolicy:"

// KeyringStore persists each record as a keyring item keyed by device address.
type KeyringStore struct {
	ring keyring.Keyring
}

func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring}
}

func (k *KeyringStore) Load() ([]*Record, error) {
	keys, err := k.ring.Keys()
	if err != nil {
		return nil, err
	}
	var records []*Record
	for _, key := range keys {
		if !strings.HasPrefix(key, keyPrefix) {
			continue
		}
		item, err := k.ring.Get(key)
		if err != nil {
			return nil, err
		}
		var r Record
		if err := r.UnmarshalBinary(item.Data); err != nil {
			return nil, err
		}
		records = append(records, &r)
	}
	return records, nil
}

func (k *KeyringStore) Save(record *Record) error {
	data, err := record.MarshalBinary()
	if err != nil {
		return err
	}
	return k.ring.Set(keyring.Item{
		Key:         keyPrefix + record.Device.String(),
		Data:        data,
		Label:       "Bluetooth connection policy for " + record.Device.String(),
		Description: "bluetooth connection policy",
	})
}

func (k *KeyringStore) Delete(device protocol.Device) error {
	err := k.ring.Remove(keyPrefix + device.String())
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	return err
}
