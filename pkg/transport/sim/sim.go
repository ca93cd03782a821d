// Package sim is an in-memory Bluetooth stack. It answers profile commands the way a cooperative
// remote device would and lets callers script the events a real stack reports.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"

	"github.com/teslamotors/bluetooth-policy/internal/log"
	"github.com/teslamotors/bluetooth-policy/pkg/adapter"
	"github.com/teslamotors/bluetooth-policy/pkg/profile"
	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
	"github.com/teslamotors/bluetooth-policy/pkg/transport"
)

// Op is a command sent by a profile service.
type Op string

const (
	OpConnect    Op = "connect"
	OpDisconnect Op = "disconnect"
	OpAccept     Op = "accept"
)

// Command records one call a profile service made into the stack.
type Command struct {
	Op      Op
	Device  protocol.Device
	Profile protocol.Profile
}

func (c Command) String() string {
	return fmt.Sprintf("%s %s %s", c.Op, c.Profile, c.Device)
}

// Stack is safe for concurrent use.
type Stack struct {
	adapter  *adapter.Adapter
	services transport.Services
	latency  time.Duration
	log      log.Logger

	lock        sync.Mutex
	unreachable map[protocol.Device]bool
	acceptList  map[protocol.Device]bool
	commands    []Command
	timers      []*time.Timer
	closed      bool
}

// New returns a Stack that completes commands after latency. With zero latency, results are
// reported before the command returns.
func New(a *adapter.Adapter, services transport.Services, latency time.Duration) *Stack {
	return &Stack{
		adapter:     a,
		services:    services,
		latency:     latency,
		log:         log.Tag("sim"),
		unreachable: make(map[protocol.Device]bool),
		acceptList:  make(map[protocol.Device]bool),
	}
}

func (s *Stack) Native(p protocol.Profile) profile.Native {
	return &native{stack: s, profile: p}
}

// Run blocks until ctx is done. The simulated stack has no event source of its own.
func (s *Stack) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (s *Stack) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}

func (s *Stack) record(c Command) {
	s.lock.Lock()
	s.commands = append(s.commands, c)
	s.lock.Unlock()
	s.log.Debug("%s", c)
}

// Commands returns every command received so far.
func (s *Stack) Commands() []Command {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]Command(nil), s.commands...)
}

func (s *Stack) ResetCommands() {
	s.lock.Lock()
	s.commands = nil
	s.lock.Unlock()
}

// Accepting returns true if device was added to the accept list.
func (s *Stack) Accepting(device protocol.Device) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.acceptList[device]
}

// SetReachable controls whether device answers outgoing connections. Unreachable devices never
// answer, so the service's connect timeout fires.
func (s *Stack) SetReachable(device protocol.Device, reachable bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if reachable {
		delete(s.unreachable, device)
	} else {
		s.unreachable[device] = true
	}
}

func (s *Stack) reachable(device protocol.Device) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return !s.unreachable[device]
}

// later runs fn after the configured latency.
func (s *Stack) later(fn func()) {
	if s.latency <= 0 {
		fn()
		return
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return
	}
	s.timers = append(s.timers, time.AfterFunc(s.latency, fn))
}

func (s *Stack) report(device protocol.Device, p protocol.Profile, state protocol.ConnectionState) {
	transport.ReportState(s.services, device, p, state)
}

// PowerOn turns the adapter on.
func (s *Stack) PowerOn() {
	s.adapter.SetState(protocol.AdapterTurningOn)
	s.adapter.SetState(protocol.AdapterOn)
}

// PowerOff turns the adapter off. Every link is lost.
func (s *Stack) PowerOff() {
	s.adapter.SetState(protocol.AdapterTurningOff)
	for _, r := range s.adapter.Remotes() {
		if r.ACLConnected {
			s.LinkLoss(r.Device)
		}
	}
	s.adapter.SetState(protocol.AdapterOff)
}

// Pair bonds a device and reports its services.
func (s *Stack) Pair(device protocol.Device, name string, deviceType protocol.DeviceType, uuids []ble.UUID) {
	s.adapter.SetName(device, name)
	s.adapter.SetDeviceType(device, deviceType)
	s.adapter.SetACLConnected(device, true)
	s.adapter.SetBondState(device, protocol.BondBonding)
	s.adapter.SetBondState(device, protocol.BondBonded)
	s.adapter.SetUUIDs(device, uuids)
}

func (s *Stack) Unpair(device protocol.Device) {
	s.LinkLoss(device)
	s.adapter.SetBondState(device, protocol.BondNone)
}

// IncomingConnect reports a connection initiated by the remote device.
func (s *Stack) IncomingConnect(device protocol.Device, p protocol.Profile) {
	s.adapter.SetACLConnected(device, true)
	s.report(device, p, protocol.StateConnecting)
	s.report(device, p, protocol.StateConnected)
}

// Drop reports that the remote device closed one profile.
func (s *Stack) Drop(device protocol.Device, p protocol.Profile) {
	s.report(device, p, protocol.StateDisconnected)
}

// LinkLoss reports that the link to device went away.
func (s *Stack) LinkLoss(device protocol.Device) {
	transport.ReportLinkLoss(s.services, device)
	s.adapter.SetACLConnected(device, false)
}

// AnnounceSetMember reports coordinated set metadata for device.
func (s *Stack) AnnounceSetMember(device protocol.Device, groupID, size, rank int) {
	if service, ok := s.services.Service(protocol.ProfileCSIPSetCoordinator); ok {
		service.OnDeviceAvailable(device, profile.Metadata{GroupID: groupID, GroupSize: size, Rank: rank})
	}
}

type native struct {
	stack   *Stack
	profile protocol.Profile
}

func (n *native) Connect(device protocol.Device) bool {
	n.stack.record(Command{Op: OpConnect, Device: device, Profile: n.profile})
	if !n.stack.reachable(device) {
		return true
	}
	n.stack.later(func() {
		n.stack.adapter.SetACLConnected(device, true)
		n.stack.report(device, n.profile, protocol.StateConnected)
	})
	return true
}

func (n *native) Disconnect(device protocol.Device) bool {
	n.stack.record(Command{Op: OpDisconnect, Device: device, Profile: n.profile})
	n.stack.later(func() {
		n.stack.report(device, n.profile, protocol.StateDisconnected)
	})
	return true
}

func (n *native) AddToAcceptList(device protocol.Device) {
	n.stack.record(Command{Op: OpAccept, Device: device, Profile: n.profile})
	n.stack.lock.Lock()
	n.stack.acceptList[device] = true
	n.stack.lock.Unlock()
}
