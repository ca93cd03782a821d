// Package statemachine implements the connection lifecycle of one profile to one remote device.
//
// A Machine is not safe for concurrent use. Every method must be called from the Looper that
// owns it; timers are delayed tasks posted to that same Looper.
package statemachine

import (
	"fmt"
	"time"

	"github.com/teslamotors/bluetooth-policy/internal/log"
	"github.com/teslamotors/bluetooth-policy/internal/looper"
	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

const (
	DefaultConnectTimeout    = 30 * time.Second
	DefaultDisconnectTimeout = 30 * time.Second
)

// Event is an input to a Machine.
type Event int

const (
	EventConnect Event = iota
	EventDisconnect
	EventStackDisconnected
	EventStackConnecting
	EventStackConnected
	EventStackDisconnecting
	EventConnectTimeout
	EventDisconnectTimeout
)

// Events lists every Event in declaration order.
var Events = []Event{
	EventConnect,
	EventDisconnect,
	EventStackDisconnected,
	EventStackConnecting,
	EventStackConnected,
	EventStackDisconnecting,
	EventConnectTimeout,
	EventDisconnectTimeout,
}

var eventNames = [...]string{
	"Connect",
	"Disconnect",
	"StackDisconnected",
	"StackConnecting",
	"StackConnected",
	"StackDisconnecting",
	"ConnectTimeout",
	"DisconnectTimeout",
}

func (e Event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return fmt.Sprintf("Event(%d)", int(e))
	}
	return eventNames[e]
}

// EventStack converts a connection state reported by the native stack into an Event.
func EventStack(state protocol.ConnectionState) Event {
	switch state {
	case protocol.StateConnecting:
		return EventStackConnecting
	case protocol.StateConnected:
		return EventStackConnected
	case protocol.StateDisconnecting:
		return EventStackDisconnecting
	}
	return EventStackDisconnected
}

// Native issues commands to the profile implementation of the Bluetooth stack. Connect and
// Disconnect return false if the command was not even attempted.
type Native interface {
	Connect(device protocol.Device) bool
	Disconnect(device protocol.Device) bool
	AddToAcceptList(device protocol.Device)
}

// Gate decides whether a connection to device may proceed, whoever initiated it.
type Gate interface {
	OkToConnect(device protocol.Device) bool
}

// Listener is notified synchronously on every state transition.
type Listener interface {
	ConnectionStateChanged(device protocol.Device, profile protocol.Profile, prev, next protocol.ConnectionState)
}

// Timeouts bound how long a machine waits in Connecting and Disconnecting.
type Timeouts struct {
	Connect    time.Duration
	Disconnect time.Duration
}

// DefaultTimeouts returns the 30 second connect and disconnect timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{Connect: DefaultConnectTimeout, Disconnect: DefaultDisconnectTimeout}
}

// Config describes the device, profile and collaborators of a Machine. Listener is called
// synchronously on every transition.
type Config struct {
	Device   protocol.Device
	Profile  protocol.Profile
	Looper   *looper.Looper
	Native   Native
	Gate     Gate
	Listener Listener
	Timeouts Timeouts
}

// A Machine tracks the connection state of one profile on one device.
type Machine struct {
	device   protocol.Device
	profile  protocol.Profile
	looper   *looper.Looper
	native   Native
	gate     Gate
	listener Listener
	timeouts Timeouts
	log      log.Logger

	state          protocol.ConnectionState
	timer          *looper.Timer
	deferred       bool
	quit           bool
	lastTransition time.Time
}

// New creates a Machine in the Disconnected state. Zero timeouts select the defaults.
func New(cfg Config) *Machine {
	if cfg.Timeouts.Connect <= 0 {
		cfg.Timeouts.Connect = DefaultConnectTimeout
	}
	if cfg.Timeouts.Disconnect <= 0 {
		cfg.Timeouts.Disconnect = DefaultDisconnectTimeout
	}
	return &Machine{
		device:   cfg.Device,
		profile:  cfg.Profile,
		looper:   cfg.Looper,
		native:   cfg.Native,
		gate:     cfg.Gate,
		listener: cfg.Listener,
		timeouts: cfg.Timeouts,
		log:      log.Tag(cfg.Profile.String()).With(cfg.Device.String()),
		state:    protocol.StateDisconnected,
	}
}

func (m *Machine) Device() protocol.Device {
	return m.device
}

func (m *Machine) Profile() protocol.Profile {
	return m.profile
}

func (m *Machine) State() protocol.ConnectionState {
	return m.state
}

// LastTransition returns the time of the most recent state change, or the zero time.
func (m *Machine) LastTransition() time.Time {
	return m.lastTransition
}

// HasDeferredConnect returns true if a Connect request is waiting for the machine to settle.
func (m *Machine) HasDeferredConnect() bool {
	return m.deferred
}

// Quit cancels any pending timer. Events delivered after Quit are ignored.
func (m *Machine) Quit() {
	m.cancelTimer()
	m.deferred = false
	m.quit = true
}

// Handle processes a single event.
func (m *Machine) Handle(event Event) {
	if m.quit {
		m.log.Debug("Dropping %s after quit", event)
		return
	}
	handler, ok := transitions[key{m.state, event}]
	if !ok {
		m.log.Error("No transition for %s in %s", event, m.state)
		return
	}
	if handler == nil {
		m.log.Debug("Ignoring %s in %s", event, m.state)
		return
	}
	handler(m)
}

func (m *Machine) okToConnect() bool {
	return m.gate == nil || m.gate.OkToConnect(m.device)
}

func (m *Machine) cancelTimer() {
	if m.timer != nil {
		m.timer.Cancel()
		m.timer = nil
	}
}

func (m *Machine) arm(d time.Duration, event Event) {
	m.cancelTimer()
	m.timer = m.looper.PostDelayed(d, func() {
		m.timer = nil
		m.Handle(event)
	})
}

func (m *Machine) transitionTo(next protocol.ConnectionState) {
	prev := m.state
	m.cancelTimer()
	m.state = next
	m.lastTransition = m.looper.Now()
	m.log.Info("%s -> %s", prev, next)

	switch next {
	case protocol.StateConnecting:
		m.deferred = false
		m.arm(m.timeouts.Connect, EventConnectTimeout)
	case protocol.StateDisconnecting:
		m.arm(m.timeouts.Disconnect, EventDisconnectTimeout)
	case protocol.StateConnected:
		m.deferred = false
	case protocol.StateDisconnected:
		if m.deferred {
			m.deferred = false
			m.looper.Post(func() { m.Handle(EventConnect) })
		}
	}

	if m.listener != nil {
		m.listener.ConnectionStateChanged(m.device, m.profile, prev, next)
	}
}
