// Package profile hosts the connection state machines of one Bluetooth profile.
//
// A Service owns a Looper. Every machine of the profile runs on that Looper, and every public
// method either answers from an immutable snapshot or posts work to it, so methods may be called
// from any goroutine.
package profile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/teslamotors/bluetooth-policy/internal/log"
	"github.com/teslamotors/bluetooth-policy/internal/looper"
	"github.com/teslamotors/bluetooth-policy/internal/statemachine"
	"github.com/teslamotors/bluetooth-policy/pkg/notify"
	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

var ErrAlreadyRunning = errors.New("profile service already running")

// Native is the command interface of the profile implementation in the Bluetooth stack.
type Native = statemachine.Native

// Adapter answers questions about remote devices.
type Adapter interface {
	IsOn() bool
	BondState(device protocol.Device) protocol.BondState
	BondedDevices() []protocol.Device
	Supports(device protocol.Device, profile protocol.Profile) bool
}

// PolicyStore persists connection policies.
type PolicyStore interface {
	ProfileConnectionPolicy(device protocol.Device, profile protocol.Profile) protocol.ConnectionPolicy
	SetProfileConnectionPolicy(device protocol.Device, profile protocol.Profile, policy protocol.ConnectionPolicy) bool
}

// Metadata is reported by the stack when a device becomes available for a profile.
type Metadata struct {
	// GroupID identifies the coordinated set or hearing-aid pair. Zero means ungrouped.
	GroupID int
	// GroupSize is the number of devices the group should contain.
	GroupSize int
	// Rank orders the devices of a group.
	Rank int
}

// Observer is notified from the service's Looper. Implementations must not block; they should
// post to their own Looper.
type Observer interface {
	ConnectionStateChanged(device protocol.Device, profile protocol.Profile, prev, next protocol.ConnectionState)
	ActiveDeviceChanged(profile protocol.Profile, active []protocol.Device)
	DeviceAvailable(device protocol.Device, profile protocol.Profile, metadata Metadata)
}

// Options configures a Service.
type Options struct {
	Profile protocol.Profile
	Native  Native
	Adapter Adapter
	DB      PolicyStore
	// Sink receives every transition. Defaults to notify.Discard.
	Sink  notify.Sink
	Slots SlotMode
	// RequireActive promotes a remaining connected device when the active one disconnects.
	RequireActive bool
	// ManualActivation leaves connected devices inactive until SetActiveDevice selects one.
	ManualActivation bool
	Timeouts         statemachine.Timeouts
	// Looper hosts the machines. If nil, the service creates one and runs it between Start and
	// Stop; otherwise the caller drives it.
	Looper *looper.Looper
}

type entry struct {
	machine *statemachine.Machine
	// connection orders entries by when they last reached Connected.
	connection uint64
}

type snapshot struct {
	states map[protocol.Device]protocol.ConnectionState
	active [2]*protocol.Device
}

// A Service owns the connection state machines of one profile. Commands and stack events are
// posted to its Looper; queries read a snapshot the Looper publishes after every change.
type Service struct {
	profile       protocol.Profile
	native        Native
	adapter       Adapter
	db            PolicyStore
	sink          notify.Sink
	looper        *looper.Looper
	ownsLooper    bool
	timeouts      statemachine.Timeouts
	slotMode      SlotMode
	requireActive bool
	manual        bool
	log           log.Logger

	running atomic.Bool
	current atomic.Pointer[snapshot]

	observerLock sync.Mutex
	observers    []Observer

	// Loop-owned state.
	machines    map[protocol.Device]*entry
	metadata    map[protocol.Device]Metadata
	slots       [2]slot
	activations uint64
	connections uint64
}

// New returns a stopped Service. Zero timeouts select the state machine defaults.
func New(opts Options) *Service {
	s := &Service{
		profile:       opts.Profile,
		native:        opts.Native,
		adapter:       opts.Adapter,
		db:            opts.DB,
		sink:          opts.Sink,
		looper:        opts.Looper,
		timeouts:      opts.Timeouts,
		slotMode:      opts.Slots,
		requireActive: opts.RequireActive,
		manual:        opts.ManualActivation,
		log:           log.Tag(opts.Profile.String()),
		machines:      make(map[protocol.Device]*entry),
		metadata:      make(map[protocol.Device]Metadata),
	}
	if s.sink == nil {
		s.sink = notify.Discard
	}
	if s.looper == nil {
		s.looper = looper.New(opts.Profile.String(), nil)
		s.ownsLooper = true
	}
	s.current.Store(&snapshot{states: map[protocol.Device]protocol.ConnectionState{}})
	return s
}

func (s *Service) Profile() protocol.Profile {
	return s.profile
}

// Looper returns the Looper hosting the service's machines.
func (s *Service) Looper() *looper.Looper {
	return s.looper
}

func (s *Service) Running() bool {
	return s.running.Load()
}

func (s *Service) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	if s.ownsLooper {
		if err := s.looper.Start(ctx); err != nil {
			s.running.Store(false)
			return err
		}
	}
	s.log.Info("Service started")
	return nil
}

// Stop quits every machine, cancelling their timers. When the caller drives the Looper, Stop must
// be called from the goroutine that drives it.
func (s *Service) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	if !s.ownsLooper {
		s.shutdown()
		return
	}
	done := make(chan struct{})
	s.looper.Post(func() {
		s.shutdown()
		close(done)
	})
	select {
	case <-done:
	case <-s.looper.Done():
		// The loop already exited with its context, so nothing else touches the machines.
		s.shutdown()
	}
	s.looper.Stop()
}

func (s *Service) shutdown() {
	for device, e := range s.machines {
		e.machine.Quit()
		delete(s.machines, device)
	}
	s.slots = [2]slot{}
	s.publishSnapshot()
	s.log.Info("Service stopped")
}

func (s *Service) AddObserver(o Observer) {
	s.observerLock.Lock()
	s.observers = append(s.observers, o)
	s.observerLock.Unlock()
}

func (s *Service) snapshotObservers() []Observer {
	s.observerLock.Lock()
	defer s.observerLock.Unlock()
	return append([]Observer(nil), s.observers...)
}

// Connect requests a connection to device. Requests the policy forbids are rejected without
// creating any state. Connecting an already connecting or connected device has no effect.
func (s *Service) Connect(device protocol.Device) error {
	if err := s.checkConnect(device); err != nil {
		s.log.Debug("Connect %s rejected: %s", device, err)
		return err
	}
	s.looper.Post(func() {
		s.machineFor(device).Handle(statemachine.EventConnect)
	})
	return nil
}

func (s *Service) checkConnect(device protocol.Device) error {
	if !s.running.Load() {
		return protocol.ErrServiceStopped
	}
	if !device.Valid() {
		return protocol.ErrInvalidAddress
	}
	if s.db.ProfileConnectionPolicy(device, s.profile) == protocol.PolicyForbidden {
		return protocol.ErrPolicyForbidden
	}
	if s.adapter.BondState(device) == protocol.BondNone {
		return protocol.ErrNotBonded
	}
	if !s.adapter.Supports(device, s.profile) {
		return protocol.ErrMissingUUID
	}
	if !s.adapter.IsOn() {
		return protocol.ErrAdapterNotReady
	}
	return nil
}

// Disconnect requests that device be disconnected. Disconnecting a device that is already
// disconnecting or disconnected has no effect.
func (s *Service) Disconnect(device protocol.Device) error {
	if !s.running.Load() {
		return protocol.ErrServiceStopped
	}
	if !device.Valid() {
		return protocol.ErrInvalidAddress
	}
	s.looper.Post(func() {
		e, ok := s.machines[device]
		if !ok {
			s.log.Debug("Disconnect %s: no connection state", device)
			return
		}
		e.machine.Handle(statemachine.EventDisconnect)
	})
	return nil
}

// OkToConnect implements statemachine.Gate. It applies to connections in either direction.
func (s *Service) OkToConnect(device protocol.Device) bool {
	if !s.adapter.IsOn() {
		s.log.Debug("%s: adapter is not on", device)
		return false
	}
	if s.adapter.BondState(device) == protocol.BondNone {
		s.log.Debug("%s: not bonded", device)
		return false
	}
	if s.db.ProfileConnectionPolicy(device, s.profile) == protocol.PolicyForbidden {
		s.log.Debug("%s: policy is Forbidden", device)
		return false
	}
	return true
}

// machineFor returns the machine for device, creating it if needed. Runs on the Looper.
func (s *Service) machineFor(device protocol.Device) *statemachine.Machine {
	if e, ok := s.machines[device]; ok {
		return e.machine
	}
	m := statemachine.New(statemachine.Config{
		Device:   device,
		Profile:  s.profile,
		Looper:   s.looper,
		Native:   s.native,
		Gate:     s,
		Listener: s,
		Timeouts: s.timeouts,
	})
	s.machines[device] = &entry{machine: m}
	s.log.Debug("Created state machine for %s", device)
	s.publishSnapshot()
	return m
}

// destroy removes the machine for device. Runs on the Looper.
func (s *Service) destroy(device protocol.Device) {
	e, ok := s.machines[device]
	if !ok {
		return
	}
	e.machine.Quit()
	delete(s.machines, device)
	delete(s.metadata, device)
	s.log.Debug("Removed state machine for %s", device)
	s.publishSnapshot()
}

// OnConnectionStateChanged ingests a state reported by the stack.
func (s *Service) OnConnectionStateChanged(device protocol.Device, state protocol.ConnectionState) {
	if !state.Valid() {
		s.log.Warning("Dropping invalid state %d for %s", int(state), device)
		return
	}
	s.looper.Post(func() {
		if !s.running.Load() {
			return
		}
		if e, ok := s.machines[device]; ok {
			e.machine.Handle(statemachine.EventStack(state))
			return
		}
		if state != protocol.StateConnecting && state != protocol.StateConnected {
			s.log.Debug("Dropping %s for %s: no connection state", state, device)
			return
		}
		if !s.OkToConnect(device) {
			s.log.Info("Rejecting incoming connection from %s", device)
			s.native.Disconnect(device)
			return
		}
		s.machineFor(device).Handle(statemachine.EventStack(state))
	})
}

// OnDeviceAvailable records metadata reported by the stack and forwards it to observers.
func (s *Service) OnDeviceAvailable(device protocol.Device, metadata Metadata) {
	s.looper.Post(func() {
		s.metadata[device] = metadata
		for _, o := range s.snapshotObservers() {
			o.DeviceAvailable(device, s.profile, metadata)
		}
	})
}

// OnBondStateChanged destroys the machine of an unbonded device once it is disconnected.
func (s *Service) OnBondStateChanged(device protocol.Device, state protocol.BondState) {
	if state != protocol.BondNone {
		return
	}
	s.looper.Post(func() {
		e, ok := s.machines[device]
		if !ok {
			return
		}
		if e.machine.State() == protocol.StateDisconnected {
			s.destroy(device)
			return
		}
		s.log.Debug("%s unbonded while %s, removing once disconnected", device, e.machine.State())
	})
}

// ConnectionStateChanged implements statemachine.Listener. Runs on the Looper.
func (s *Service) ConnectionStateChanged(device protocol.Device, profile protocol.Profile, prev, next protocol.ConnectionState) {
	if e, ok := s.machines[device]; ok && next == protocol.StateConnected {
		s.connections++
		e.connection = s.connections
	}
	s.publishSnapshot()
	s.sink.Publish(notify.ConnectionStateChanged(device, profile, prev, next))
	for _, o := range s.snapshotObservers() {
		o.ConnectionStateChanged(device, profile, prev, next)
	}

	if next == protocol.StateConnected {
		s.activate(device)
	} else if prev == protocol.StateConnected {
		s.deactivate(device)
	}

	if next == protocol.StateDisconnected && s.adapter.BondState(device) == protocol.BondNone {
		s.destroy(device)
	}
}

func (s *Service) publishSnapshot() {
	snap := &snapshot{states: make(map[protocol.Device]protocol.ConnectionState, len(s.machines))}
	for device, e := range s.machines {
		snap.states[device] = e.machine.State()
	}
	for i := range s.slots {
		if s.slots[i].used {
			device := s.slots[i].device
			snap.active[i] = &device
		}
	}
	s.current.Store(snap)
}

func (s *Service) ConnectionState(device protocol.Device) protocol.ConnectionState {
	if state, ok := s.current.Load().states[device]; ok {
		return state
	}
	return protocol.StateDisconnected
}

// Devices returns every device with connection state, including bonded devices that are
// disconnected.
func (s *Service) Devices() []protocol.Device {
	states := s.current.Load().states
	devices := make([]protocol.Device, 0, len(states))
	for device := range states {
		devices = append(devices, device)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i] < devices[j] })
	return devices
}

func (s *Service) ConnectedDevices() []protocol.Device {
	return s.DevicesMatchingStates(protocol.StateConnected)
}

// DevicesMatchingStates returns devices in any of states. Bonded devices that support the
// profile but have no connection state count as Disconnected.
func (s *Service) DevicesMatchingStates(states ...protocol.ConnectionState) []protocol.Device {
	want := make(map[protocol.ConnectionState]bool, len(states))
	for _, state := range states {
		want[state] = true
	}
	snap := s.current.Load().states
	var devices []protocol.Device
	for device, state := range snap {
		if want[state] {
			devices = append(devices, device)
		}
	}
	if want[protocol.StateDisconnected] {
		for _, device := range s.adapter.BondedDevices() {
			if _, ok := snap[device]; !ok && s.adapter.Supports(device, s.profile) {
				devices = append(devices, device)
			}
		}
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i] < devices[j] })
	return devices
}

func (s *Service) ConnectionPolicy(device protocol.Device) protocol.ConnectionPolicy {
	return s.db.ProfileConnectionPolicy(device, s.profile)
}

// SetConnectionPolicy stores policy. Allowed also connects the device and Forbidden disconnects
// it.
func (s *Service) SetConnectionPolicy(device protocol.Device, policy protocol.ConnectionPolicy) error {
	if !device.Valid() {
		return protocol.ErrInvalidAddress
	}
	if !s.db.SetProfileConnectionPolicy(device, s.profile, policy) {
		return fmt.Errorf("couldn't store %s policy for %s", s.profile, device)
	}
	switch policy {
	case protocol.PolicyAllowed:
		if err := s.Connect(device); err != nil {
			s.log.Debug("Policy allowed but connect rejected: %s", err)
		}
	case protocol.PolicyForbidden:
		if err := s.Disconnect(device); err != nil {
			s.log.Debug("Policy forbidden but disconnect rejected: %s", err)
		}
	}
	return nil
}
