// Package adapter tracks the local adapter and the properties of remote devices reported by the
// Bluetooth stack.
package adapter

import (
	"sort"
	"sync"

	"github.com/go-ble/ble"

	"github.com/teslamotors/bluetooth-policy/internal/log"
	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

// Observer receives property changes. Callbacks run on the goroutine that reported the change
// and must not block; implementations post to their own Looper.
type Observer interface {
	AdapterStateChanged(prev, next protocol.AdapterState)
	BondStateChanged(device protocol.Device, state protocol.BondState)
	UUIDsDiscovered(device protocol.Device, uuids []ble.UUID)
	ACLStateChanged(device protocol.Device, connected bool)
}

// RemoteDevice is a snapshot of the properties of a remote device.
type RemoteDevice struct {
	Device       protocol.Device
	Name         string
	Type         protocol.DeviceType
	Bond         protocol.BondState
	UUIDs        []ble.UUID
	ACLConnected bool
}

func (r *RemoteDevice) clone() RemoteDevice {
	c := *r
	c.UUIDs = append([]ble.UUID(nil), r.UUIDs...)
	return c
}

// Adapter is safe for concurrent use.
type Adapter struct {
	lock      sync.Mutex
	state     protocol.AdapterState
	devices   map[protocol.Device]*RemoteDevice
	observers []Observer
	log       log.Logger
}

func New() *Adapter {
	return &Adapter{
		devices: make(map[protocol.Device]*RemoteDevice),
		log:     log.Tag("adapter"),
	}
}

func (a *Adapter) AddObserver(o Observer) {
	a.lock.Lock()
	a.observers = append(a.observers, o)
	a.lock.Unlock()
}

func (a *Adapter) snapshotObservers() []Observer {
	return append([]Observer(nil), a.observers...)
}

// lookup returns the record for device, creating it if needed. Caller holds a.lock.
func (a *Adapter) lookup(device protocol.Device) *RemoteDevice {
	r, ok := a.devices[device]
	if !ok {
		r = &RemoteDevice{Device: device}
		a.devices[device] = r
	}
	return r
}

func (a *Adapter) State() protocol.AdapterState {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.state
}

func (a *Adapter) IsOn() bool {
	return a.State() == protocol.AdapterOn
}

func (a *Adapter) SetState(state protocol.AdapterState) {
	a.lock.Lock()
	prev := a.state
	a.state = state
	observers := a.snapshotObservers()
	a.lock.Unlock()
	if prev == state {
		return
	}
	a.log.Info("Adapter %s -> %s", prev, state)
	for _, o := range observers {
		o.AdapterStateChanged(prev, state)
	}
}

// Remote returns a snapshot of the properties of device.
func (a *Adapter) Remote(device protocol.Device) (RemoteDevice, bool) {
	a.lock.Lock()
	defer a.lock.Unlock()
	r, ok := a.devices[device]
	if !ok {
		return RemoteDevice{}, false
	}
	return r.clone(), true
}

// Remotes returns snapshots of every known device, sorted by address.
func (a *Adapter) Remotes() []RemoteDevice {
	a.lock.Lock()
	remotes := make([]RemoteDevice, 0, len(a.devices))
	for _, r := range a.devices {
		remotes = append(remotes, r.clone())
	}
	a.lock.Unlock()
	sort.Slice(remotes, func(i, j int) bool { return remotes[i].Device < remotes[j].Device })
	return remotes
}

func (a *Adapter) BondState(device protocol.Device) protocol.BondState {
	a.lock.Lock()
	defer a.lock.Unlock()
	if r, ok := a.devices[device]; ok {
		return r.Bond
	}
	return protocol.BondNone
}

// BondedDevices returns every device with BondBonded, sorted by address.
func (a *Adapter) BondedDevices() []protocol.Device {
	var bonded []protocol.Device
	for _, r := range a.Remotes() {
		if r.Bond == protocol.BondBonded {
			bonded = append(bonded, r.Device)
		}
	}
	return bonded
}

func (a *Adapter) DeviceType(device protocol.Device) protocol.DeviceType {
	a.lock.Lock()
	defer a.lock.Unlock()
	if r, ok := a.devices[device]; ok {
		return r.Type
	}
	return protocol.DeviceTypeUnknown
}

func (a *Adapter) UUIDs(device protocol.Device) []ble.UUID {
	a.lock.Lock()
	defer a.lock.Unlock()
	if r, ok := a.devices[device]; ok {
		return append([]ble.UUID(nil), r.UUIDs...)
	}
	return nil
}

// Supports returns true if device advertised a UUID of profile.
func (a *Adapter) Supports(device protocol.Device, profile protocol.Profile) bool {
	return protocol.HasUUID(a.UUIDs(device), profile)
}

func (a *Adapter) ACLConnected(device protocol.Device) bool {
	a.lock.Lock()
	defer a.lock.Unlock()
	if r, ok := a.devices[device]; ok {
		return r.ACLConnected
	}
	return false
}

func (a *Adapter) SetName(device protocol.Device, name string) {
	a.lock.Lock()
	a.lookup(device).Name = name
	a.lock.Unlock()
}

func (a *Adapter) SetDeviceType(device protocol.Device, t protocol.DeviceType) {
	a.lock.Lock()
	a.lookup(device).Type = t
	a.lock.Unlock()
}

func (a *Adapter) SetBondState(device protocol.Device, state protocol.BondState) {
	a.lock.Lock()
	r := a.lookup(device)
	prev := r.Bond
	r.Bond = state
	observers := a.snapshotObservers()
	a.lock.Unlock()
	if prev == state {
		return
	}
	a.log.Info("%s bond %s -> %s", device, prev, state)
	for _, o := range observers {
		o.BondStateChanged(device, state)
	}
}

// SetUUIDs records the services advertised by device. Observers are notified even when uuids is
// empty; deciding what an empty list means is up to them.
func (a *Adapter) SetUUIDs(device protocol.Device, uuids []ble.UUID) {
	a.lock.Lock()
	r := a.lookup(device)
	if len(uuids) > 0 {
		r.UUIDs = append([]ble.UUID(nil), uuids...)
	}
	observers := a.snapshotObservers()
	a.lock.Unlock()
	for _, o := range observers {
		o.UUIDsDiscovered(device, append([]ble.UUID(nil), uuids...))
	}
}

func (a *Adapter) SetACLConnected(device protocol.Device, connected bool) {
	a.lock.Lock()
	r := a.lookup(device)
	prev := r.ACLConnected
	r.ACLConnected = connected
	observers := a.snapshotObservers()
	a.lock.Unlock()
	if prev == connected {
		return
	}
	a.log.Debug("%s ACL connected=%t", device, connected)
	for _, o := range observers {
		o.ACLStateChanged(device, connected)
	}
}

// Forget removes every property of device.
func (a *Adapter) Forget(device protocol.Device) {
	a.lock.Lock()
	delete(a.devices, device)
	a.lock.Unlock()
}
