// Package orchestrator decides which profiles of which devices should connect.
//
// The Orchestrator observes every profile service and the adapter. Each observation is posted to
// the Orchestrator's own Looper, where decisions are made one at a time and turned into calls
// back into the profile services and the policy database.
package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-ble/ble"

	"github.com/teslamotors/bluetooth-policy/internal/log"
	"github.com/teslamotors/bluetooth-policy/internal/looper"
	"github.com/teslamotors/bluetooth-policy/pkg/profile"
	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

// DefaultConnectOtherProfilesDelay is how long the first connected profile of a device is given
// before the remaining profiles are connected.
const DefaultConnectOtherProfilesDelay = 6 * time.Second

var ErrAlreadyRunning = errors.New("orchestrator already running")

// classicProfiles are superseded when LE Audio becomes active.
var classicProfiles = []protocol.Profile{protocol.ProfileA2DP, protocol.ProfileHFP, protocol.ProfileHearingAid}

// Options configures an Orchestrator.
type Options struct {
	Services []ProfileService
	DB       Database
	Adapter  Adapter
	Flags    FlagSource
	// ConnectOtherProfilesDelay defaults to DefaultConnectOtherProfilesDelay.
	ConnectOtherProfilesDelay time.Duration
	// Looper runs every decision. If nil, the orchestrator creates one and runs it between Start
	// and Stop; otherwise the caller drives it.
	Looper *looper.Looper
}

// session tracks one device from its first connected profile until every profile is down.
type session struct {
	timer *looper.Timer
	// scheduled is set once the connect-other-profiles check was armed in this session.
	scheduled bool
}

// An Orchestrator decides which profiles to connect across every profile service and device.
// It observes the services and the adapter, and every decision runs on its Looper.
type Orchestrator struct {
	services   []ProfileService
	byProfile  map[protocol.Profile]ProfileService
	db         Database
	adapter    Adapter
	flags      FlagSource
	delay      time.Duration
	looper     *looper.Looper
	ownsLooper bool
	log        log.Logger
	running    atomic.Bool

	groupsSnapshot atomic.Pointer[[]CoordinatedSet]

	// Loop-owned state.
	states      map[protocol.Device]map[protocol.Profile]protocol.ConnectionState
	sessions    map[protocol.Device]*session
	groups      map[int]*group
	deviceGroup map[protocol.Device]int
}

// New returns a stopped Orchestrator driving opts.Services.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		services:    opts.Services,
		byProfile:   make(map[protocol.Profile]ProfileService),
		db:          opts.DB,
		adapter:     opts.Adapter,
		flags:       opts.Flags,
		delay:       opts.ConnectOtherProfilesDelay,
		looper:      opts.Looper,
		log:         log.Tag("policy"),
		states:      make(map[protocol.Device]map[protocol.Profile]protocol.ConnectionState),
		sessions:    make(map[protocol.Device]*session),
		groups:      make(map[int]*group),
		deviceGroup: make(map[protocol.Device]int),
	}
	for _, s := range opts.Services {
		o.byProfile[s.Profile()] = s
	}
	if o.delay <= 0 {
		o.delay = DefaultConnectOtherProfilesDelay
	}
	if o.looper == nil {
		o.looper = looper.New("policy", nil)
		o.ownsLooper = true
	}
	o.groupsSnapshot.Store(&[]CoordinatedSet{})
	return o
}

func (o *Orchestrator) Looper() *looper.Looper {
	return o.looper
}

func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	if o.ownsLooper {
		if err := o.looper.Start(ctx); err != nil {
			o.running.Store(false)
			return err
		}
	}
	return nil
}

// Stop cancels pending checks. When the caller drives the Looper, Stop must be called from the
// goroutine that drives it.
func (o *Orchestrator) Stop() {
	if !o.running.CompareAndSwap(true, false) {
		return
	}
	if o.ownsLooper {
		o.looper.Stop()
	}
	for device, s := range o.sessions {
		s.timer.Cancel()
		delete(o.sessions, device)
	}
}

// post runs fn on the Looper while the orchestrator is running.
func (o *Orchestrator) post(fn func()) {
	o.looper.Post(func() {
		if o.running.Load() {
			fn()
		}
	})
}

// Groups returns the known coordinated sets, ordered by group ID.
func (o *Orchestrator) Groups() []CoordinatedSet {
	return *o.groupsSnapshot.Load()
}

func (o *Orchestrator) publishGroups() {
	sets := make([]CoordinatedSet, 0, len(o.groups))
	for _, g := range o.groups {
		sets = append(sets, g.set.clone())
	}
	sort.Slice(sets, func(i, j int) bool { return sets[i].GroupID < sets[j].GroupID })
	o.groupsSnapshot.Store(&sets)
}

func (o *Orchestrator) supports(device protocol.Device, p protocol.Profile) bool {
	return protocol.HasUUID(o.adapter.UUIDs(device), p)
}

// profile.Observer

func (o *Orchestrator) ConnectionStateChanged(device protocol.Device, p protocol.Profile, prev, next protocol.ConnectionState) {
	o.post(func() { o.handleConnectionStateChanged(device, p, prev, next) })
}

func (o *Orchestrator) ActiveDeviceChanged(p protocol.Profile, active []protocol.Device) {
	active = append([]protocol.Device(nil), active...)
	o.post(func() { o.handleActiveDeviceChanged(p, active) })
}

func (o *Orchestrator) DeviceAvailable(device protocol.Device, p protocol.Profile, metadata profile.Metadata) {
	o.post(func() { o.handleDeviceAvailable(device, p, metadata) })
}

// adapter.Observer

func (o *Orchestrator) AdapterStateChanged(prev, next protocol.AdapterState) {
	o.post(func() { o.handleAdapterStateChanged(prev, next) })
}

func (o *Orchestrator) BondStateChanged(device protocol.Device, state protocol.BondState) {
	o.post(func() { o.handleBondStateChanged(device, state) })
}

func (o *Orchestrator) UUIDsDiscovered(device protocol.Device, uuids []ble.UUID) {
	o.post(func() { o.handleUUIDsDiscovered(device, uuids) })
}

func (o *Orchestrator) ACLStateChanged(device protocol.Device, connected bool) {
	o.log.Debug("%s ACL connected=%t", device, connected)
}

func (o *Orchestrator) handleConnectionStateChanged(device protocol.Device, p protocol.Profile, prev, next protocol.ConnectionState) {
	states, ok := o.states[device]
	if !ok {
		states = make(map[protocol.Profile]protocol.ConnectionState)
		o.states[device] = states
	}
	states[p] = next

	switch next {
	case protocol.StateConnected:
		o.db.SetConnection(device, p)
		if p == protocol.ProfileCSIPSetCoordinator {
			o.handleSetMemberConnected(device)
		}
		o.onProfileConnected(device, p)
	case protocol.StateDisconnected:
		if prev == protocol.StateDisconnecting && p.IsClassicAudio() {
			o.db.SetDisconnection(device, p)
		}
		if o.allDisconnected(device) {
			o.endSession(device)
		}
	}
}

func (o *Orchestrator) allDisconnected(device protocol.Device) bool {
	for _, state := range o.states[device] {
		if state != protocol.StateDisconnected {
			return false
		}
	}
	return true
}

func (o *Orchestrator) endSession(device protocol.Device) {
	delete(o.states, device)
	s, ok := o.sessions[device]
	if !ok {
		return
	}
	if s.timer.Cancel() {
		o.log.Debug("%s fully disconnected, cancelled pending profile check", device)
	}
	delete(o.sessions, device)
}

func (o *Orchestrator) inIncompleteSet(device protocol.Device) bool {
	id, ok := o.deviceGroup[device]
	if !ok {
		return false
	}
	return !o.groups[id].set.Complete() && !o.flags.Flags().BypassLeAudioAllowlist
}

func (o *Orchestrator) onProfileConnected(device protocol.Device, p protocol.Profile) {
	if o.inIncompleteSet(device) {
		o.log.Debug("%s %s connected, waiting for the rest of its set", device, p)
		return
	}
	s, ok := o.sessions[device]
	if !ok {
		s = &session{}
		o.sessions[device] = s
	}
	if s.scheduled {
		return
	}
	s.scheduled = true
	o.log.Debug("%s %s connected, checking other profiles in %s", device, p, o.delay)
	s.timer = o.looper.PostDelayed(o.delay, func() {
		if o.running.Load() {
			o.connectOtherProfiles(device)
		}
	})
}

func (o *Orchestrator) connectOtherProfiles(device protocol.Device) {
	if s, ok := o.sessions[device]; ok {
		s.timer = nil
	}
	if !o.adapter.ACLConnected(device) {
		o.log.Info("%s link is down, not connecting other profiles", device)
		return
	}
	for _, service := range o.services {
		p := service.Profile()
		if !o.supports(device, p) {
			continue
		}
		switch service.ConnectionState(device) {
		case protocol.StateConnected, protocol.StateConnecting:
			continue
		}
		if o.db.ProfileConnectionPolicy(device, p) == protocol.PolicyForbidden {
			continue
		}
		o.log.Info("Connecting %s to %s", p, device)
		if err := service.Connect(device); err != nil {
			o.log.Debug("Connect %s %s rejected: %s", device, p, err)
		}
	}
}

func (o *Orchestrator) handleActiveDeviceChanged(p protocol.Profile, active []protocol.Device) {
	if len(active) == 0 {
		return
	}
	switch {
	case p == protocol.ProfileLEAudio:
		if o.flags.Flags().DualModeAudio {
			return
		}
		for _, device := range active {
			for _, member := range o.groupOf(device) {
				o.forbidClassicAudio(member)
			}
		}
	case p.IsClassicAudio():
		o.db.SetConnection(active[0], p)
	}
}

// groupOf returns the members of device's set, or just device when it is not in one.
func (o *Orchestrator) groupOf(device protocol.Device) []protocol.Device {
	id, ok := o.deviceGroup[device]
	if !ok {
		return []protocol.Device{device}
	}
	members := []protocol.Device{device}
	for member := range o.groups[id].ranks {
		if member != device {
			members = append(members, member)
		}
	}
	sort.Slice(members[1:], func(i, j int) bool { return members[1+i] < members[1+j] })
	return members
}

func (o *Orchestrator) forbidClassicAudio(device protocol.Device) {
	for _, p := range classicProfiles {
		service, ok := o.byProfile[p]
		if !ok || !o.supports(device, p) {
			continue
		}
		if o.db.ProfileConnectionPolicy(device, p) == protocol.PolicyForbidden {
			continue
		}
		o.log.Info("LE Audio is active, forbidding %s for %s", p, device)
		if err := service.SetConnectionPolicy(device, protocol.PolicyForbidden); err != nil {
			o.log.Warning("Couldn't forbid %s for %s: %s", p, device, err)
		}
	}
}
