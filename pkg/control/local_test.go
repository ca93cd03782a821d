package control_test

import (
	"bytes"
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/teslamotors/bluetooth-policy/internal/looper"
	"github.com/teslamotors/bluetooth-policy/pkg/adapter"
	"github.com/teslamotors/bluetooth-policy/pkg/control"
	"github.com/teslamotors/bluetooth-policy/pkg/orchestrator"
	"github.com/teslamotors/bluetooth-policy/pkg/policydb"
	"github.com/teslamotors/bluetooth-policy/pkg/profile"
	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

type acceptingNative struct{}

func (acceptingNative) Connect(protocol.Device) bool    { return true }
func (acceptingNative) Disconnect(protocol.Device) bool { return true }
func (acceptingNative) AddToAcceptList(protocol.Device) {}

type noGroups struct{}

func (noGroups) Groups() []orchestrator.CoordinatedSet { return nil }

var _ = Describe("Local", func() {
	var (
		l        *looper.Looper
		a        *adapter.Adapter
		db       *policydb.Database
		a2dp     *profile.Service
		local    *control.Local
		stranger = protocol.MustParseDevice("00:11:22:33:44:66")
	)

	BeforeEach(func() {
		var err error
		db, err = policydb.New(policydb.NewMemoryStore(), 0)
		Expect(err).NotTo(HaveOccurred())
		l = looper.New("a2dp", looper.NewFakeClock())
		a = adapter.New()
		a.SetState(protocol.AdapterOn)
		registry := profile.NewRegistry()
		a2dp = profile.New(profile.Options{
			Profile: protocol.ProfileA2DP,
			Native:  acceptingNative{},
			Adapter: a,
			DB:      db,
			Slots:   profile.SlotModeSingle,
			Looper:  l,
		})
		Expect(registry.Register(a2dp)).To(Succeed())
		Expect(registry.StartAll(context.Background())).To(Succeed())
		local = control.NewLocal(registry, a, noGroups{}, db)

		a.SetName(device, "Headset")
		a.SetDeviceType(device, protocol.DeviceTypeClassic)
		a.SetBondState(device, protocol.BondBonded)
		a.SetUUIDs(device, protocol.ProfileA2DP.UUIDs())
		DeferCleanup(func() {
			registry.StopAll()
			Expect(db.Close()).To(Succeed())
		})
	})

	It("reports adapter properties and profile state", func() {
		status, ok := local.Device(device)
		Expect(ok).To(BeTrue())
		Expect(status.Name).To(Equal("Headset"))
		Expect(status.Type).To(Equal("Classic"))
		Expect(status.Bond).To(Equal("Bonded"))
		Expect(status.Profiles).To(HaveKeyWithValue(protocol.ProfileA2DP,
			control.ProfileStatus{State: protocol.StateDisconnected, Policy: protocol.PolicyUnknown}))
	})

	It("doesn't know strangers", func() {
		_, ok := local.Device(stranger)
		Expect(ok).To(BeFalse())
	})

	It("connects and activates a device", func() {
		Expect(local.Connect(device, protocol.ProfileA2DP)).To(Succeed())
		l.DispatchAll()
		a2dp.OnConnectionStateChanged(device, protocol.StateConnected)
		l.DispatchAll()

		Expect(local.SetActiveDevice(protocol.ProfileA2DP, &device)).To(Succeed())
		l.DispatchAll()
		devices := local.Devices()
		Expect(devices).To(HaveLen(1))
		Expect(devices[0].Profiles[protocol.ProfileA2DP].State).To(Equal(protocol.StateConnected))
		Expect(devices[0].Profiles[protocol.ProfileA2DP].Active).To(BeTrue())
	})

	It("rejects profiles without a service", func() {
		Expect(local.Connect(device, protocol.ProfileHFP)).To(MatchError(protocol.ErrUnknownProfile))
	})

	It("rejects disconnecting an idle device", func() {
		Expect(local.Disconnect(device, protocol.ProfileA2DP)).To(MatchError(protocol.ErrNotConnected))
	})

	It("stores policies and exports them", func() {
		Expect(local.SetConnectionPolicy(device, protocol.ProfileA2DP, protocol.PolicyForbidden)).To(Succeed())
		Expect(db.ProfileConnectionPolicy(device, protocol.ProfileA2DP)).To(Equal(protocol.PolicyForbidden))
		Expect(local.Connect(device, protocol.ProfileA2DP)).To(MatchError(protocol.ErrPolicyForbidden))

		var buf bytes.Buffer
		Expect(local.Export(&buf)).To(Succeed())
		Expect(buf.String()).To(ContainSubstring(string(device)))
		Expect(local.Groups()).To(BeEmpty())
	})
})
