// Package notify delivers connection-state and active-device notifications to observers outside
// the process.
//
// Delivery is at-least-once. Every Notification carries a unique ID so receivers can discard
// duplicates.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslamotors/bluetooth-policy/internal/log"
	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

type Kind string

const (
	KindConnectionState Kind = "connection_state"
	KindActiveDevice    Kind = "active_device"
)

type Notification struct {
	ID       uuid.UUID                `json:"id"`
	Kind     Kind                     `json:"kind"`
	Time     time.Time                `json:"time"`
	Device   protocol.Device          `json:"device,omitempty"`
	Profile  protocol.Profile         `json:"profile"`
	State    protocol.ConnectionState `json:"state"`
	Previous protocol.ConnectionState `json:"previous"`
	// Active lists the active devices of Profile, for KindActiveDevice.
	Active []protocol.Device `json:"active,omitempty"`
}

func ConnectionStateChanged(device protocol.Device, profile protocol.Profile, prev, next protocol.ConnectionState) Notification {
	return Notification{
		ID:       uuid.New(),
		Kind:     KindConnectionState,
		Time:     time.Now(),
		Device:   device,
		Profile:  profile,
		State:    next,
		Previous: prev,
	}
}

func ActiveDeviceChanged(profile protocol.Profile, active []protocol.Device) Notification {
	n := Notification{
		ID:      uuid.New(),
		Kind:    KindActiveDevice,
		Time:    time.Now(),
		Profile: profile,
		Active:  append([]protocol.Device(nil), active...),
	}
	if len(active) > 0 {
		n.Device = active[0]
	}
	return n
}

// Sink accepts notifications. Publish must not block.
type Sink interface {
	Publish(n Notification)
}

type SinkFunc func(n Notification)

func (f SinkFunc) Publish(n Notification) {
	f(n)
}

// Discard drops every notification.
var Discard Sink = SinkFunc(func(Notification) {})

var notifyLog = log.Tag("notify")

// LogSink writes notifications to the process log.
type LogSink struct{}

func (LogSink) Publish(n Notification) {
	switch n.Kind {
	case KindConnectionState:
		notifyLog.Info("%s %s: %s -> %s", n.Device, n.Profile, n.Previous, n.State)
	case KindActiveDevice:
		notifyLog.Info("%s active devices: %v", n.Profile, n.Active)
	}
}

// Fanout publishes to several sinks. Sinks may be added while publishing.
type Fanout struct {
	lock  sync.Mutex
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Add(s Sink) {
	f.lock.Lock()
	f.sinks = append(f.sinks, s)
	f.lock.Unlock()
}

func (f *Fanout) Publish(n Notification) {
	f.lock.Lock()
	sinks := append([]Sink(nil), f.sinks...)
	f.lock.Unlock()
	for _, s := range sinks {
		s.Publish(n)
	}
}

// Recorder keeps every notification in memory. Useful for tests and diagnostics.
type Recorder struct {
	lock          sync.Mutex
	notifications []Notification
}

func (r *Recorder) Publish(n Notification) {
	r.lock.Lock()
	r.notifications = append(r.notifications, n)
	r.lock.Unlock()
}

func (r *Recorder) Notifications() []Notification {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]Notification(nil), r.notifications...)
}

func (r *Recorder) Reset() {
	r.lock.Lock()
	r.notifications = nil
	r.lock.Unlock()
}
