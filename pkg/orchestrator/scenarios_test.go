package orchestrator_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/teslamotors/bluetooth-policy/pkg/config"
	"github.com/teslamotors/bluetooth-policy/pkg/orchestrator"
	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

var _ = Describe("Orchestrator with profile services", func() {
	var (
		r     *rig
		flags config.Flags
	)

	start := func() {
		r = newRig(flags)
		DeferCleanup(r.close)
	}
	powerOn := func() {
		r.adapter.SetState(protocol.AdapterOn)
		r.pump()
	}

	BeforeEach(func() {
		flags = config.Flags{}
	})

	Context("pairing with auto-connect disabled", func() {
		It("allows every supported profile without connecting", func() {
			start()
			powerOn()
			r.pair(headset, protocol.DeviceTypeClassic, classic)
			r.advance(10 * time.Second)

			Expect(r.policy(headset, protocol.ProfileHFP)).To(Equal(protocol.PolicyAllowed))
			Expect(r.policy(headset, protocol.ProfileA2DP)).To(Equal(protocol.PolicyAllowed))
			Expect(r.policy(headset, protocol.ProfileLEAudio)).To(Equal(protocol.PolicyUnknown))
			Expect(r.natives[protocol.ProfileHFP].Connects(headset)).To(BeZero())
			Expect(r.natives[protocol.ProfileA2DP].Connects(headset)).To(BeZero())
		})
	})

	Context("pairing with auto-connect enabled", func() {
		BeforeEach(func() {
			flags.AutoConnectOnPairing = true
		})

		It("connects every allowed profile", func() {
			start()
			powerOn()
			r.pair(headset, protocol.DeviceTypeClassic, classic)

			Expect(r.natives[protocol.ProfileHFP].Connects(headset)).To(Equal(1))
			Expect(r.natives[protocol.ProfileA2DP].Connects(headset)).To(Equal(1))
		})

		It("forbids classic audio on a dual-mode device when LE Audio is on by default", func() {
			flags.LeAudioEnabledByDefault = true
			start()
			powerOn()
			r.pair(headset, protocol.DeviceTypeDual, append(classic, protocol.UUIDLEAudio))

			Expect(r.policy(headset, protocol.ProfileA2DP)).To(Equal(protocol.PolicyForbidden))
			Expect(r.policy(headset, protocol.ProfileHFP)).To(Equal(protocol.PolicyForbidden))
			Expect(r.policy(headset, protocol.ProfileLEAudio)).To(Equal(protocol.PolicyAllowed))
			Expect(r.natives[protocol.ProfileLEAudio].Connects(headset)).To(Equal(1))
			Expect(r.natives[protocol.ProfileA2DP].Connects(headset)).To(BeZero())
			Expect(r.natives[protocol.ProfileHFP].Connects(headset)).To(BeZero())
		})

		It("allows both transports with dual-mode audio", func() {
			flags.LeAudioEnabledByDefault = true
			flags.DualModeAudio = true
			start()
			powerOn()
			r.pair(headset, protocol.DeviceTypeDual, append(classic, protocol.UUIDLEAudio))

			for _, p := range []protocol.Profile{protocol.ProfileA2DP, protocol.ProfileHFP, protocol.ProfileLEAudio} {
				Expect(r.policy(headset, p)).To(Equal(protocol.PolicyAllowed), p.String())
				Expect(r.natives[p].Connects(headset)).To(Equal(1), p.String())
			}
		})

		It("forbids LE Audio when it is not enabled by default", func() {
			start()
			powerOn()
			r.pair(headset, protocol.DeviceTypeDual, append(classic, protocol.UUIDLEAudio))

			Expect(r.policy(headset, protocol.ProfileLEAudio)).To(Equal(protocol.PolicyForbidden))
			Expect(r.policy(headset, protocol.ProfileA2DP)).To(Equal(protocol.PolicyAllowed))
		})
	})

	Context("connecting other profiles", func() {
		BeforeEach(func() {
			start()
			powerOn()
			r.pair(headset, protocol.DeviceTypeClassic, classic)
		})

		It("connects the remaining profile once after the delay", func() {
			r.stackConnects(headset, protocol.ProfileHFP)
			r.advance(orchestrator.DefaultConnectOtherProfilesDelay - time.Second)
			Expect(r.natives[protocol.ProfileA2DP].Connects(headset)).To(BeZero())

			r.advance(time.Second)
			Expect(r.natives[protocol.ProfileA2DP].Connects(headset)).To(Equal(1))

			r.services[protocol.ProfileA2DP].OnConnectionStateChanged(headset, protocol.StateConnected)
			r.advance(3 * orchestrator.DefaultConnectOtherProfilesDelay)
			Expect(r.natives[protocol.ProfileA2DP].Connects(headset)).To(Equal(1))
			Expect(r.natives[protocol.ProfileHFP].Connects(headset)).To(BeZero())
		})

		It("does not retry a connection that timed out", func() {
			Expect(r.services[protocol.ProfileA2DP].Connect(headset)).To(Succeed())
			r.pump()
			Expect(r.services[protocol.ProfileA2DP].ConnectionState(headset)).To(Equal(protocol.StateConnecting))

			r.advance(31 * time.Second)
			Expect(r.services[protocol.ProfileA2DP].ConnectionState(headset)).To(Equal(protocol.StateDisconnected))

			r.advance(time.Minute)
			Expect(r.natives[protocol.ProfileA2DP].Connects(headset)).To(Equal(1))
			Expect(r.natives[protocol.ProfileHFP].Connects(headset)).To(BeZero())
		})

		It("cancels the check when the device disconnects first", func() {
			r.stackConnects(headset, protocol.ProfileHFP)
			r.services[protocol.ProfileHFP].OnConnectionStateChanged(headset, protocol.StateDisconnected)
			r.advance(2 * orchestrator.DefaultConnectOtherProfilesDelay)
			Expect(r.natives[protocol.ProfileA2DP].Connects(headset)).To(BeZero())
		})

		It("skips the check when the link is down", func() {
			r.stackConnects(headset, protocol.ProfileHFP)
			r.adapter.SetACLConnected(headset, false)
			r.advance(2 * orchestrator.DefaultConnectOtherProfilesDelay)
			Expect(r.natives[protocol.ProfileA2DP].Connects(headset)).To(BeZero())
		})

		It("does not connect forbidden profiles", func() {
			Expect(r.services[protocol.ProfileA2DP].SetConnectionPolicy(headset, protocol.PolicyForbidden)).To(Succeed())
			r.stackConnects(headset, protocol.ProfileHFP)
			r.advance(2 * orchestrator.DefaultConnectOtherProfilesDelay)
			Expect(r.natives[protocol.ProfileA2DP].Connects(headset)).To(BeZero())
		})

		It("records connections and local disconnections", func() {
			r.stackConnects(headset, protocol.ProfileHFP)
			Expect(r.db.MostRecentlyConnectedDevices(protocol.ProfileHFP)).To(Equal([]protocol.Device{headset}))

			Expect(r.services[protocol.ProfileHFP].Disconnect(headset)).To(Succeed())
			r.pump()
			r.services[protocol.ProfileHFP].OnConnectionStateChanged(headset, protocol.StateDisconnected)
			r.pump()
			Expect(r.db.MostRecentlyConnectedDevices(protocol.ProfileHFP)).To(BeEmpty())
			Expect(r.policy(headset, protocol.ProfileHFP)).To(Equal(protocol.PolicyAllowed))
		})

		It("forgets an unbonded device", func() {
			r.adapter.SetBondState(headset, protocol.BondNone)
			r.pump()
			Expect(r.policy(headset, protocol.ProfileHFP)).To(Equal(protocol.PolicyUnknown))
		})
	})

	Context("coordinated set", func() {
		BeforeEach(func() {
			flags.LeAudioEnabledByDefault = true
			start()
			powerOn()
			csip := r.services[protocol.ProfileCSIPSetCoordinator]
			r.pair(earbudL, protocol.DeviceTypeLE, leEarbud)
			r.pair(earbudR, protocol.DeviceTypeLE, leEarbud)
			csip.OnDeviceAvailable(earbudL, profileMetadata(7, 2, 1))
			csip.OnDeviceAvailable(earbudR, profileMetadata(7, 2, 2))
			r.pump()
		})

		It("allows LE Audio only after every member connected", func() {
			r.stackConnects(earbudL, protocol.ProfileCSIPSetCoordinator)
			Expect(r.policy(earbudL, protocol.ProfileLEAudio)).To(Equal(protocol.PolicyUnknown))
			Expect(r.natives[protocol.ProfileLEAudio].Connects(earbudL)).To(BeZero())
			Expect(r.orch.Groups()).To(HaveLen(1))
			Expect(r.orch.Groups()[0].Complete()).To(BeFalse())

			r.stackConnects(earbudR, protocol.ProfileCSIPSetCoordinator)
			for _, d := range []protocol.Device{earbudL, earbudR} {
				Expect(r.policy(d, protocol.ProfileLEAudio)).To(Equal(protocol.PolicyAllowed))
				Expect(r.natives[protocol.ProfileLEAudio].Connects(d)).To(Equal(1))
			}
			set := r.orch.Groups()[0]
			Expect(set.Complete()).To(BeTrue())
			Expect(set.Members).To(Equal([]protocol.Device{earbudL, earbudR}))
		})

		It("allows a member early with the allowlist bypass", func() {
			r.flags.Set(config.Flags{LeAudioEnabledByDefault: true, BypassLeAudioAllowlist: true})
			r.stackConnects(earbudL, protocol.ProfileCSIPSetCoordinator)
			Expect(r.policy(earbudL, protocol.ProfileLEAudio)).To(Equal(protocol.PolicyAllowed))
			Expect(r.natives[protocol.ProfileLEAudio].Connects(earbudL)).To(Equal(1))
			Expect(r.policy(earbudR, protocol.ProfileLEAudio)).To(Equal(protocol.PolicyUnknown))
			Expect(r.orch.Groups()[0].Complete()).To(BeFalse())
		})

		It("allows the late member once the bypass is turned off", func() {
			r.flags.Set(config.Flags{LeAudioEnabledByDefault: true, BypassLeAudioAllowlist: true})
			r.stackConnects(earbudL, protocol.ProfileCSIPSetCoordinator)
			r.flags.Set(config.Flags{LeAudioEnabledByDefault: true})

			r.stackConnects(earbudR, protocol.ProfileCSIPSetCoordinator)
			for _, d := range []protocol.Device{earbudL, earbudR} {
				Expect(r.policy(d, protocol.ProfileLEAudio)).To(Equal(protocol.PolicyAllowed))
				Expect(r.natives[protocol.ProfileLEAudio].Connects(d)).To(Equal(1), d.String())
			}
		})

		It("drops a member that is unbonded", func() {
			r.stackConnects(earbudL, protocol.ProfileCSIPSetCoordinator)
			r.adapter.SetBondState(earbudL, protocol.BondNone)
			r.pump()
			Expect(r.orch.Groups()[0].Members).To(BeEmpty())
		})
	})

	Context("coordinated set with a dual-mode member", func() {
		BeforeEach(func() {
			flags.LeAudioEnabledByDefault = true
		})

		join := func(leftType protocol.DeviceType) {
			start()
			powerOn()
			csip := r.services[protocol.ProfileCSIPSetCoordinator]
			r.pair(earbudL, leftType, leEarbud)
			r.pair(earbudR, protocol.DeviceTypeLE, leEarbud)
			csip.OnDeviceAvailable(earbudL, profileMetadata(7, 2, 1))
			csip.OnDeviceAvailable(earbudR, profileMetadata(7, 2, 2))
			r.pump()
		}

		It("defers LE Audio for the dual-mode member until the set is complete", func() {
			flags.DualModeAudio = true
			join(protocol.DeviceTypeDual)
			r.stackConnects(earbudL, protocol.ProfileCSIPSetCoordinator)
			Expect(r.policy(earbudL, protocol.ProfileLEAudio)).To(Equal(protocol.PolicyUnknown))
			Expect(r.natives[protocol.ProfileLEAudio].Connects(earbudL)).To(BeZero())

			r.stackConnects(earbudR, protocol.ProfileCSIPSetCoordinator)
			for _, d := range []protocol.Device{earbudL, earbudR} {
				Expect(r.policy(d, protocol.ProfileLEAudio)).To(Equal(protocol.PolicyAllowed))
				Expect(r.natives[protocol.ProfileLEAudio].Connects(d)).To(Equal(1), d.String())
			}
		})

		It("never allows LE Audio without dual-mode audio", func() {
			join(protocol.DeviceTypeDual)
			r.stackConnects(earbudL, protocol.ProfileCSIPSetCoordinator)
			r.stackConnects(earbudR, protocol.ProfileCSIPSetCoordinator)
			Expect(r.orch.Groups()[0].Complete()).To(BeTrue())
			for _, d := range []protocol.Device{earbudL, earbudR} {
				Expect(r.policy(d, protocol.ProfileLEAudio)).NotTo(Equal(protocol.PolicyAllowed))
				Expect(r.natives[protocol.ProfileLEAudio].Connects(d)).To(BeZero(), d.String())
			}
		})

		It("keeps classic audio allowed for a dual-mode earbud", func() {
			start()
			powerOn()
			r.pair(earbudL, protocol.DeviceTypeDual, append(leEarbud, classic...))
			Expect(r.policy(earbudL, protocol.ProfileA2DP)).To(Equal(protocol.PolicyAllowed))
			Expect(r.policy(earbudL, protocol.ProfileHFP)).To(Equal(protocol.PolicyAllowed))
			Expect(r.policy(earbudL, protocol.ProfileLEAudio)).To(Equal(protocol.PolicyUnknown))
		})
	})

	Context("adapter turning on", func() {
		phones := []protocol.Device{headset, phone2, phone3}

		prepare := func() {
			start()
			for _, d := range phones {
				r.pair(d, protocol.DeviceTypeClassic, hfpOnly)
				r.db.SetConnection(d, protocol.ProfileHFP)
			}
		}

		It("connects every recent headset independently", func() {
			flags.AutoConnectMultipleHFP = true
			prepare()
			powerOn()
			for _, d := range phones {
				Expect(r.natives[protocol.ProfileHFP].Connects(d)).To(Equal(1), d.String())
				Expect(r.services[protocol.ProfileHFP].ConnectionState(d)).To(Equal(protocol.StateConnecting))
			}
		})

		It("connects only the most recent headset by default", func() {
			prepare()
			powerOn()
			Expect(r.natives[protocol.ProfileHFP].Connects(phone3)).To(Equal(1))
			Expect(r.natives[protocol.ProfileHFP].Connects(headset)).To(BeZero())
			Expect(r.natives[protocol.ProfileHFP].Connects(phone2)).To(BeZero())
		})

		It("stays quiet in quiet mode", func() {
			flags.QuietMode = true
			flags.AutoConnectMultipleHFP = true
			prepare()
			powerOn()
			for _, d := range phones {
				Expect(r.natives[protocol.ProfileHFP].Connects(d)).To(BeZero())
			}
		})

		It("reconnects the most recent audio sink on both profiles", func() {
			start()
			r.pair(headset, protocol.DeviceTypeClassic, classic)
			r.db.SetConnection(headset, protocol.ProfileHFP)
			r.db.SetConnection(headset, protocol.ProfileA2DP)
			powerOn()
			Expect(r.natives[protocol.ProfileA2DP].Connects(headset)).To(Equal(1))
			Expect(r.natives[protocol.ProfileHFP].Connects(headset)).To(Equal(1))
		})
	})
})
