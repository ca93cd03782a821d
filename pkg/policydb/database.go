// Package policydb stores per-device connection policies and connection recency.
//
// Reads are served from memory. Writes update memory immediately and are persisted in order by a
// single writer goroutine, so callers running on an event loop never wait on storage.
package policydb

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/teslamotors/bluetooth-policy/internal/log"
	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

var ErrClosed = errors.New("policy database closed")

type write struct {
	record *Record
	remove protocol.Device
	flush  chan error
}

type Database struct {
	// MaxEntries bounds the number of devices remembered. The device connected least recently is
	// evicted first. Zero means unbounded.
	MaxEntries int

	store Store
	log   log.Logger

	lock    sync.Mutex
	records map[protocol.Device]*Record
	seq     uint64
	closed  bool

	queueLock sync.Mutex
	queue     []write
	wake      chan struct{}
	done      chan struct{}
	lastErr   error
}

// New loads every record from store and starts the writer goroutine.
func New(store Store, maxEntries int) (*Database, error) {
	if store == nil {
		store = NewMemoryStore()
	}
	records, err := store.Load()
	if err != nil {
		return nil, err
	}
	db := &Database{
		MaxEntries: maxEntries,
		store:      store,
		log:        log.Tag("policydb"),
		records:    make(map[protocol.Device]*Record),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	for _, r := range records {
		db.records[r.Device] = r
		if last := r.lastConnected(); last > db.seq {
			db.seq = last
		}
	}
	go db.writer()
	return db, nil
}

func (db *Database) writer() {
	defer close(db.done)
	for range db.wake {
		for {
			db.queueLock.Lock()
			if len(db.queue) == 0 {
				db.queueLock.Unlock()
				break
			}
			w := db.queue[0]
			db.queue = db.queue[1:]
			db.queueLock.Unlock()
			db.apply(w)
		}
	}
}

func (db *Database) apply(w write) {
	var err error
	switch {
	case w.flush != nil:
		db.queueLock.Lock()
		err, db.lastErr = db.lastErr, nil
		db.queueLock.Unlock()
		w.flush <- err
		return
	case w.record != nil:
		err = db.store.Save(w.record)
	default:
		err = db.store.Delete(w.remove)
	}
	if err != nil {
		device := w.remove
		if w.record != nil {
			device = w.record.Device
		}
		db.log.Warning("Failed to persist %s: %s", device, err)
		db.queueLock.Lock()
		db.lastErr = err
		db.queueLock.Unlock()
	}
}

func (db *Database) enqueue(w write) {
	db.queueLock.Lock()
	db.queue = append(db.queue, w)
	db.queueLock.Unlock()
	select {
	case db.wake <- struct{}{}:
	default:
	}
}

// update applies fn to the record for device and queues it for persistence. Caller holds
// db.lock.
func (db *Database) update(device protocol.Device, fn func(r *Record)) {
	r, ok := db.records[device]
	if !ok {
		r = newRecord(device)
		db.records[device] = r
	}
	fn(r)
	db.enqueue(write{record: r.clone()})
	db.evict(device)
}

// evict drops the least recently connected device when over MaxEntries. Caller holds db.lock.
func (db *Database) evict(keep protocol.Device) {
	if db.MaxEntries <= 0 || len(db.records) <= db.MaxEntries {
		return
	}
	var oldest protocol.Device
	var oldestSeq uint64
	first := true
	for d, r := range db.records {
		if d == keep {
			continue
		}
		if last := r.lastConnected(); first || last < oldestSeq {
			oldest, oldestSeq, first = d, last, false
		}
	}
	if !first {
		db.log.Info("Evicting %s", oldest)
		delete(db.records, oldest)
		db.enqueue(write{remove: oldest})
	}
}

func (db *Database) ProfileConnectionPolicy(device protocol.Device, profile protocol.Profile) protocol.ConnectionPolicy {
	db.lock.Lock()
	defer db.lock.Unlock()
	if r, ok := db.records[device]; ok {
		return r.Profiles[profile].Policy
	}
	return protocol.PolicyUnknown
}

// SetProfileConnectionPolicy returns false if the device is invalid or the database is closed.
func (db *Database) SetProfileConnectionPolicy(device protocol.Device, profile protocol.Profile, policy protocol.ConnectionPolicy) bool {
	if !device.Valid() {
		return false
	}
	db.lock.Lock()
	defer db.lock.Unlock()
	if db.closed {
		return false
	}
	if r, ok := db.records[device]; ok && r.Profiles[profile].Policy == policy {
		return true
	}
	db.log.Info("%s %s policy -> %s", device, profile, policy)
	db.update(device, func(r *Record) {
		e := r.Profiles[profile]
		e.Policy = policy
		r.Profiles[profile] = e
	})
	return true
}

// SetConnection records that profile connected to device and marks it active.
func (db *Database) SetConnection(device protocol.Device, profile protocol.Profile) {
	db.lock.Lock()
	defer db.lock.Unlock()
	if db.closed || !device.Valid() {
		return
	}
	db.seq++
	seq := db.seq
	db.update(device, func(r *Record) {
		e := r.Profiles[profile]
		e.LastConnected = seq
		e.Active = true
		r.Profiles[profile] = e
	})
}

// SetDisconnection records that profile was disconnected from device on request.
func (db *Database) SetDisconnection(device protocol.Device, profile protocol.Profile) {
	db.lock.Lock()
	defer db.lock.Unlock()
	if db.closed {
		return
	}
	r, ok := db.records[device]
	if !ok || !r.Profiles[profile].Active {
		return
	}
	db.update(device, func(r *Record) {
		e := r.Profiles[profile]
		e.Active = false
		r.Profiles[profile] = e
	})
}

// MostRecentlyConnectedDevices returns the devices still marked active for profile, most recent
// first.
func (db *Database) MostRecentlyConnectedDevices(profile protocol.Profile) []protocol.Device {
	db.lock.Lock()
	type candidate struct {
		device protocol.Device
		seq    uint64
	}
	var candidates []candidate
	for d, r := range db.records {
		if e := r.Profiles[profile]; e.Active {
			candidates = append(candidates, candidate{d, e.LastConnected})
		}
	}
	db.lock.Unlock()
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].seq > candidates[j].seq })
	devices := make([]protocol.Device, len(candidates))
	for i, c := range candidates {
		devices[i] = c.device
	}
	return devices
}

func (db *Database) MostRecentlyConnectedDevice(profile protocol.Profile) (protocol.Device, bool) {
	devices := db.MostRecentlyConnectedDevices(profile)
	if len(devices) == 0 {
		return "", false
	}
	return devices[0], true
}

// Remove forgets device, typically after it is unbonded.
func (db *Database) Remove(device protocol.Device) {
	db.lock.Lock()
	defer db.lock.Unlock()
	if _, ok := db.records[device]; !ok || db.closed {
		return
	}
	delete(db.records, device)
	db.enqueue(write{remove: device})
}

// Records returns copies of every record, sorted by device.
func (db *Database) Records() []Record {
	db.lock.Lock()
	records := make([]Record, 0, len(db.records))
	for _, r := range db.records {
		records = append(records, *r.clone())
	}
	db.lock.Unlock()
	sort.Slice(records, func(i, j int) bool { return records[i].Device < records[j].Device })
	return records
}

// Flush waits until every write queued so far is persisted. It returns the first persistence
// error since the previous Flush.
func (db *Database) Flush() error {
	result := make(chan error, 1)
	db.lock.Lock()
	if db.closed {
		db.lock.Unlock()
		return ErrClosed
	}
	db.enqueue(write{flush: result})
	db.lock.Unlock()
	return <-result
}

// Close flushes pending writes and stops the writer goroutine. Later writes are ignored.
func (db *Database) Close() error {
	result := make(chan error, 1)
	db.lock.Lock()
	if db.closed {
		db.lock.Unlock()
		return nil
	}
	db.closed = true
	db.enqueue(write{flush: result})
	close(db.wake)
	db.lock.Unlock()
	err := <-result
	<-db.done
	return err
}

// Export writes every record to w as JSON.
func (db *Database) Export(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(struct {
		Devices []Record `json:"devices"`
	}{db.Records()})
}

// ExportToFile writes the output of Export to disk.
func (db *Database) ExportToFile(filename string) error {
	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer file.Close()
	return db.Export(file)
}

// Import seeds store with records previously written by Export.
func Import(r io.Reader, store Store) error {
	var dump struct {
		Devices []Record `json:"devices"`
	}
	if err := json.NewDecoder(r).Decode(&dump); err != nil {
		return err
	}
	for i := range dump.Devices {
		if !dump.Devices[i].Device.Valid() {
			return ErrMalformedRecord
		}
		if err := store.Save(&dump.Devices[i]); err != nil {
			return err
		}
	}
	return nil
}
