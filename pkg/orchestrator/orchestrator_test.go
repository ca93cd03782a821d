package orchestrator_test

import (
	"context"

	"github.com/go-ble/ble"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/teslamotors/bluetooth-policy/internal/looper"
	"github.com/teslamotors/bluetooth-policy/mocks"
	"github.com/teslamotors/bluetooth-policy/pkg/config"
	"github.com/teslamotors/bluetooth-policy/pkg/orchestrator"
	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

var _ = Describe("Orchestrator", func() {
	var (
		ctrl     *gomock.Controller
		l        *looper.Looper
		db       *mocks.PolicyDatabase
		adapter  *mocks.Adapter
		services map[protocol.Profile]*mocks.ProfileService
		flags    *config.Provider
		orch     *orchestrator.Orchestrator
	)

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		l = looper.New("policy", looper.NewFakeClock())
		db = mocks.NewPolicyDatabase(ctrl)
		adapter = mocks.NewAdapter(ctrl)
		flags = config.NewProvider(config.Flags{})
		services = make(map[protocol.Profile]*mocks.ProfileService)
		var list []orchestrator.ProfileService
		for _, p := range []protocol.Profile{protocol.ProfileA2DP, protocol.ProfileHFP, protocol.ProfileHearingAid, protocol.ProfileLEAudio} {
			s := mocks.NewProfileService(ctrl)
			s.EXPECT().Profile().Return(p).AnyTimes()
			services[p] = s
			list = append(list, s)
		}
		orch = orchestrator.New(orchestrator.Options{
			Services: list,
			DB:       db,
			Adapter:  adapter,
			Flags:    flags,
			Looper:   l,
		})
		Expect(orch.Start(context.Background())).To(Succeed())
		DeferCleanup(func() {
			orch.Stop()
			ctrl.Finish()
		})
	})

	Describe("UUIDsDiscovered", func() {
		It("ignores empty UUID lists", func() {
			orch.UUIDsDiscovered(headset, nil)
			orch.UUIDsDiscovered(headset, []ble.UUID{})
			Expect(l.DispatchAll()).To(Equal(2))
		})

		It("leaves existing policies alone", func() {
			db.EXPECT().ProfileConnectionPolicy(headset, gomock.Any()).Return(protocol.PolicyForbidden).AnyTimes()
			orch.UUIDsDiscovered(headset, classic)
			l.DispatchAll()
		})

		It("stores Allowed without connecting when auto-connect is off", func() {
			db.EXPECT().ProfileConnectionPolicy(headset, gomock.Any()).Return(protocol.PolicyUnknown).AnyTimes()
			db.EXPECT().SetProfileConnectionPolicy(headset, protocol.ProfileA2DP, protocol.PolicyAllowed).Return(true)
			db.EXPECT().SetProfileConnectionPolicy(headset, protocol.ProfileHFP, protocol.PolicyAllowed).Return(true)
			orch.UUIDsDiscovered(headset, classic)
			l.DispatchAll()
		})

		It("lets the service connect when auto-connect is on", func() {
			flags.Set(config.Flags{AutoConnectOnPairing: true})
			db.EXPECT().ProfileConnectionPolicy(headset, gomock.Any()).Return(protocol.PolicyUnknown).AnyTimes()
			services[protocol.ProfileA2DP].EXPECT().SetConnectionPolicy(headset, protocol.PolicyAllowed).Return(nil)
			services[protocol.ProfileHFP].EXPECT().SetConnectionPolicy(headset, protocol.PolicyAllowed).Return(nil)
			orch.UUIDsDiscovered(headset, classic)
			l.DispatchAll()
		})

		It("forbids ASHA when LE Audio takes over", func() {
			flags.Set(config.Flags{LeAudioEnabledByDefault: true})
			uuids := []ble.UUID{protocol.UUIDHearingAid, protocol.UUIDLEAudio}
			db.EXPECT().ProfileConnectionPolicy(headset, gomock.Any()).Return(protocol.PolicyUnknown).AnyTimes()
			services[protocol.ProfileHearingAid].EXPECT().SetConnectionPolicy(headset, protocol.PolicyForbidden).Return(nil)
			db.EXPECT().SetProfileConnectionPolicy(headset, protocol.ProfileLEAudio, protocol.PolicyAllowed).Return(true)
			orch.UUIDsDiscovered(headset, uuids)
			l.DispatchAll()
		})
	})

	Describe("ActiveDeviceChanged", func() {
		BeforeEach(func() {
			orch.DeviceAvailable(earbudL, protocol.ProfileCSIPSetCoordinator, profileMetadata(3, 2, 1))
			orch.DeviceAvailable(earbudR, protocol.ProfileCSIPSetCoordinator, profileMetadata(3, 2, 2))
			l.DispatchAll()
		})

		It("forbids classic audio on every member of an active LE Audio set", func() {
			for _, d := range []protocol.Device{earbudL, earbudR} {
				adapter.EXPECT().UUIDs(d).Return(append(classic, protocol.UUIDLEAudio)).AnyTimes()
				db.EXPECT().ProfileConnectionPolicy(d, gomock.Any()).Return(protocol.PolicyAllowed).AnyTimes()
				services[protocol.ProfileA2DP].EXPECT().SetConnectionPolicy(d, protocol.PolicyForbidden).Return(nil)
				services[protocol.ProfileHFP].EXPECT().SetConnectionPolicy(d, protocol.PolicyForbidden).Return(nil)
			}
			orch.ActiveDeviceChanged(protocol.ProfileLEAudio, []protocol.Device{earbudR})
			l.DispatchAll()
		})

		It("keeps classic audio with dual-mode audio", func() {
			flags.Set(config.Flags{DualModeAudio: true})
			orch.ActiveDeviceChanged(protocol.ProfileLEAudio, []protocol.Device{earbudR})
			l.DispatchAll()
		})

		It("records the active classic audio device", func() {
			db.EXPECT().SetConnection(headset, protocol.ProfileA2DP)
			orch.ActiveDeviceChanged(protocol.ProfileA2DP, []protocol.Device{headset})
			orch.ActiveDeviceChanged(protocol.ProfileA2DP, nil)
			l.DispatchAll()
		})

		It("takes no classic action for hearing aids", func() {
			orch.ActiveDeviceChanged(protocol.ProfileHearingAid, []protocol.Device{headset})
			l.DispatchAll()
		})
	})

	Describe("AdapterStateChanged", func() {
		It("does nothing in quiet mode", func() {
			flags.Set(config.Flags{QuietMode: true, AutoConnectMultipleHFP: true})
			orch.AdapterStateChanged(protocol.AdapterTurningOn, protocol.AdapterOn)
			l.DispatchAll()
		})

		It("skips devices that are no longer allowed", func() {
			db.EXPECT().MostRecentlyConnectedDevice(protocol.ProfileA2DP).Return(protocol.Device(""), false)
			db.EXPECT().MostRecentlyConnectedDevice(protocol.ProfileHFP).Return(headset, true)
			db.EXPECT().ProfileConnectionPolicy(headset, protocol.ProfileHFP).Return(protocol.PolicyForbidden)
			orch.AdapterStateChanged(protocol.AdapterTurningOn, protocol.AdapterOn)
			l.DispatchAll()
		})

		It("connects every recent headset when there is no audio sink", func() {
			flags.Set(config.Flags{AutoConnectMultipleHFP: true})
			db.EXPECT().MostRecentlyConnectedDevice(protocol.ProfileA2DP).Return(protocol.Device(""), false)
			db.EXPECT().MostRecentlyConnectedDevices(protocol.ProfileHFP).Return([]protocol.Device{headset, phone2})
			db.EXPECT().ProfileConnectionPolicy(gomock.Any(), protocol.ProfileHFP).Return(protocol.PolicyAllowed).Times(2)
			adapter.EXPECT().BondState(gomock.Any()).Return(protocol.BondBonded).Times(2)
			services[protocol.ProfileHFP].EXPECT().Connect(headset).Return(nil)
			services[protocol.ProfileHFP].EXPECT().Connect(phone2).Return(nil)
			orch.AdapterStateChanged(protocol.AdapterTurningOn, protocol.AdapterOn)
			l.DispatchAll()
		})

		It("prefers the audio sink over other recent headsets", func() {
			flags.Set(config.Flags{AutoConnectMultipleHFP: true})
			db.EXPECT().MostRecentlyConnectedDevice(protocol.ProfileA2DP).Return(headset, true)
			db.EXPECT().ProfileConnectionPolicy(headset, gomock.Any()).Return(protocol.PolicyAllowed).Times(2)
			adapter.EXPECT().BondState(headset).Return(protocol.BondBonded).Times(2)
			services[protocol.ProfileA2DP].EXPECT().Connect(headset).Return(nil)
			services[protocol.ProfileHFP].EXPECT().Connect(headset).Return(nil)
			orch.AdapterStateChanged(protocol.AdapterTurningOn, protocol.AdapterOn)
			l.DispatchAll()
		})
	})

	Describe("Stop", func() {
		It("drops events that arrive after stopping", func() {
			orch.Stop()
			orch.UUIDsDiscovered(headset, classic)
			l.DispatchAll()
		})
	})
})
