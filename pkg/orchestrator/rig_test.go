package orchestrator_test

import (
	"context"
	"sync"
	"time"

	"github.com/go-ble/ble"
	. "github.com/onsi/gomega"

	"github.com/teslamotors/bluetooth-policy/internal/looper"
	"github.com/teslamotors/bluetooth-policy/pkg/adapter"
	"github.com/teslamotors/bluetooth-policy/pkg/config"
	"github.com/teslamotors/bluetooth-policy/pkg/orchestrator"
	"github.com/teslamotors/bluetooth-policy/pkg/policydb"
	"github.com/teslamotors/bluetooth-policy/pkg/profile"
	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

var (
	headset  = protocol.MustParseDevice("00:11:22:33:44:01")
	phone2   = protocol.MustParseDevice("00:11:22:33:44:02")
	phone3   = protocol.MustParseDevice("00:11:22:33:44:03")
	earbudL  = protocol.MustParseDevice("00:11:22:33:44:0A")
	earbudR  = protocol.MustParseDevice("00:11:22:33:44:0B")
	classic  = []ble.UUID{protocol.UUIDHandsfree, protocol.UUIDAudioSink}
	hfpOnly  = []ble.UUID{protocol.UUIDHandsfree}
	leEarbud = []ble.UUID{protocol.UUIDCoordinatedSet, protocol.UUIDLEAudio}
)

// recordingNative counts the commands a profile service sends to the stack.
type recordingNative struct {
	lock        sync.Mutex
	connects    map[protocol.Device]int
	disconnects map[protocol.Device]int
}

func newRecordingNative() *recordingNative {
	return &recordingNative{
		connects:    make(map[protocol.Device]int),
		disconnects: make(map[protocol.Device]int),
	}
}

func (n *recordingNative) Connect(d protocol.Device) bool {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.connects[d]++
	return true
}

func (n *recordingNative) Disconnect(d protocol.Device) bool {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.disconnects[d]++
	return true
}

func (n *recordingNative) AddToAcceptList(protocol.Device) {}

func (n *recordingNative) Connects(d protocol.Device) int {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.connects[d]
}

func (n *recordingNative) Disconnects(d protocol.Device) int {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.disconnects[d]
}

// rig wires real profile services, the adapter model and the policy database to an
// orchestrator. Every Looper shares one fake clock and is driven by the test.
type rig struct {
	clock    *looper.FakeClock
	loopers  []*looper.Looper
	adapter  *adapter.Adapter
	db       *policydb.Database
	flags    *config.Provider
	registry *profile.Registry
	services map[protocol.Profile]*profile.Service
	natives  map[protocol.Profile]*recordingNative
	orch     *orchestrator.Orchestrator
}

var rigProfiles = []protocol.Profile{
	protocol.ProfileA2DP,
	protocol.ProfileHFP,
	protocol.ProfileLEAudio,
	protocol.ProfileCSIPSetCoordinator,
}

func newRig(flags config.Flags) *rig {
	db, err := policydb.New(policydb.NewMemoryStore(), 0)
	Expect(err).NotTo(HaveOccurred())
	r := &rig{
		clock:    looper.NewFakeClock(),
		adapter:  adapter.New(),
		db:       db,
		flags:    config.NewProvider(flags),
		registry: profile.NewRegistry(),
		services: make(map[protocol.Profile]*profile.Service),
		natives:  make(map[protocol.Profile]*recordingNative),
	}
	for _, p := range rigProfiles {
		l := looper.New(p.String(), r.clock)
		r.loopers = append(r.loopers, l)
		r.natives[p] = newRecordingNative()
		s := profile.New(profile.Options{
			Profile: p,
			Native:  r.natives[p],
			Adapter: r.adapter,
			DB:      db,
			Looper:  l,
		})
		Expect(r.registry.Register(s)).To(Succeed())
		r.services[p] = s
	}
	l := looper.New("policy", r.clock)
	r.loopers = append(r.loopers, l)
	r.orch = orchestrator.New(orchestrator.Options{
		Services: orchestrator.ServicesOf(r.registry),
		DB:       db,
		Adapter:  r.adapter,
		Flags:    r.flags,
		Looper:   l,
	})
	for _, s := range r.registry.Services() {
		s.AddObserver(r.orch)
	}
	r.adapter.AddObserver(r.registry)
	r.adapter.AddObserver(r.orch)
	Expect(r.registry.StartAll(context.Background())).To(Succeed())
	Expect(r.orch.Start(context.Background())).To(Succeed())
	return r
}

func (r *rig) close() {
	r.orch.Stop()
	r.registry.StopAll()
	Expect(r.db.Close()).To(Succeed())
}

// pump runs every Looper until none has work left.
func (r *rig) pump() {
	for {
		n := 0
		for _, l := range r.loopers {
			n += l.DispatchAll()
		}
		if n == 0 {
			return
		}
	}
}

// advance moves the shared clock in one-second steps, pumping after each.
func (r *rig) advance(d time.Duration) {
	for d > 0 {
		step := time.Second
		if d < step {
			step = d
		}
		r.clock.Advance(step)
		r.pump()
		d -= step
	}
}

func (r *rig) pair(device protocol.Device, deviceType protocol.DeviceType, uuids []ble.UUID) {
	r.adapter.SetDeviceType(device, deviceType)
	r.adapter.SetBondState(device, protocol.BondBonded)
	r.adapter.SetUUIDs(device, uuids)
	r.adapter.SetACLConnected(device, true)
	r.pump()
}

// stackConnects reports an incoming connection the way the stack would.
func (r *rig) stackConnects(device protocol.Device, p protocol.Profile) {
	s := r.services[p]
	s.OnConnectionStateChanged(device, protocol.StateConnecting)
	r.pump()
	s.OnConnectionStateChanged(device, protocol.StateConnected)
	r.pump()
}

func (r *rig) policy(device protocol.Device, p protocol.Profile) protocol.ConnectionPolicy {
	return r.db.ProfileConnectionPolicy(device, p)
}

func profileMetadata(group, size, rank int) profile.Metadata {
	return profile.Metadata{GroupID: group, GroupSize: size, Rank: rank}
}
