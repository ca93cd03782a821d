package orchestrator

import (
	"github.com/go-ble/ble"

	"github.com/teslamotors/bluetooth-policy/pkg/profile"
	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

// leAudioAllowed returns true if LE Audio may be used for device at all.
func (o *Orchestrator) leAudioAllowed(device protocol.Device, uuids []ble.UUID) bool {
	if !protocol.HasUUID(uuids, protocol.ProfileLEAudio) {
		return false
	}
	if o.db.ProfileConnectionPolicy(device, protocol.ProfileLEAudio) == protocol.PolicyForbidden {
		return false
	}
	flags := o.flags.Flags()
	return flags.LeAudioEnabledByDefault || flags.DualModeAudio
}

// initialPolicy returns the policy a freshly discovered profile gets. ok is false when the
// decision is deferred.
func (o *Orchestrator) initialPolicy(p protocol.Profile, uuids []ble.UUID, leAllowed bool) (policy protocol.ConnectionPolicy, ok bool) {
	dual := o.flags.Flags().DualModeAudio
	switch p {
	case protocol.ProfileA2DP, protocol.ProfileHFP, protocol.ProfileHearingAid:
		if leAllowed && !dual && !o.waitsForSet(uuids) {
			return protocol.PolicyForbidden, true
		}
		return protocol.PolicyAllowed, true
	case protocol.ProfileLEAudio:
		if !leAllowed {
			return protocol.PolicyForbidden, true
		}
		if o.waitsForSet(uuids) {
			return protocol.PolicyUnknown, false
		}
		return protocol.PolicyAllowed, true
	case protocol.ProfileHAP:
		if leAllowed {
			return protocol.PolicyAllowed, true
		}
		return protocol.PolicyForbidden, true
	}
	return protocol.PolicyAllowed, true
}

// waitsForSet returns true for coordinated set members. Their LE Audio policy is decided once
// the whole set has connected, and their classic profiles stay allowed until LE Audio becomes
// active.
func (o *Orchestrator) waitsForSet(uuids []ble.UUID) bool {
	return protocol.HasUUID(uuids, protocol.ProfileCSIPSetCoordinator)
}

func (o *Orchestrator) handleUUIDsDiscovered(device protocol.Device, uuids []ble.UUID) {
	if len(uuids) == 0 {
		o.log.Debug("%s reported no UUIDs, keeping policies", device)
		return
	}
	leAllowed := o.leAudioAllowed(device, uuids)
	autoConnect := o.flags.Flags().AutoConnectOnPairing
	for _, service := range o.services {
		p := service.Profile()
		if !protocol.HasUUID(uuids, p) {
			continue
		}
		if o.db.ProfileConnectionPolicy(device, p) != protocol.PolicyUnknown {
			continue
		}
		policy, ok := o.initialPolicy(p, uuids, leAllowed)
		if !ok {
			o.log.Debug("%s %s policy deferred until its set is complete", device, p)
			continue
		}
		o.log.Info("%s %s policy %s", device, p, policy)
		if policy == protocol.PolicyAllowed && !autoConnect {
			o.db.SetProfileConnectionPolicy(device, p, policy)
			continue
		}
		if err := service.SetConnectionPolicy(device, policy); err != nil {
			o.log.Warning("Couldn't set %s policy for %s: %s", p, device, err)
		}
	}
}

func (o *Orchestrator) handleDeviceAvailable(device protocol.Device, p protocol.Profile, metadata profile.Metadata) {
	if p != protocol.ProfileCSIPSetCoordinator || metadata.GroupSize <= 0 {
		return
	}
	g, ok := o.groups[metadata.GroupID]
	if !ok {
		g = newGroup(metadata.GroupID, metadata.GroupSize)
		o.groups[metadata.GroupID] = g
		o.log.Info("New coordinated set %d of size %d", metadata.GroupID, metadata.GroupSize)
	}
	if metadata.GroupSize > g.set.Desired {
		g.set.Desired = metadata.GroupSize
	}
	if previous, ok := o.deviceGroup[device]; ok && previous != metadata.GroupID {
		o.leaveGroup(device)
	}
	g.ranks[device] = metadata.Rank
	o.deviceGroup[device] = metadata.GroupID
	o.publishGroups()
}

func (o *Orchestrator) leaveGroup(device protocol.Device) {
	id, ok := o.deviceGroup[device]
	if !ok {
		return
	}
	delete(o.deviceGroup, device)
	g := o.groups[id]
	g.remove(device)
	if len(g.ranks) == 0 {
		delete(o.groups, id)
	}
	o.publishGroups()
}

func (o *Orchestrator) handleSetMemberConnected(device protocol.Device) {
	id, ok := o.deviceGroup[device]
	if !ok {
		o.log.Debug("%s connected set coordinator without set metadata", device)
		return
	}
	g := o.groups[id]
	if g.add(device) {
		o.log.Info("%s joined set %d (%d of %d)", device, id, len(g.set.Members), g.set.Desired)
		o.publishGroups()
	}
	if g.set.Complete() && !g.released {
		g.released = true
		for _, member := range g.set.Members {
			if o.eligibleForLeAudio(member, g) {
				o.allowLeAudio(member)
			} else {
				o.log.Info("Set %d is complete but %s is not eligible for %s", id, member, protocol.ProfileLEAudio)
			}
		}
		return
	}
	if o.flags.Flags().BypassLeAudioAllowlist {
		o.allowLeAudio(device)
	}
}

// leAudioOnlySet returns true if every member of g is an LE-only device without ASHA.
func (o *Orchestrator) leAudioOnlySet(g *group) bool {
	for _, member := range g.set.Members {
		if o.adapter.DeviceType(member) != protocol.DeviceTypeLE || o.supports(member, protocol.ProfileHearingAid) {
			return false
		}
	}
	return true
}

// eligibleForLeAudio returns true if LE Audio may be allowed for a member of a complete set.
// Without dual-mode audio only sets made entirely of LE-only devices qualify.
func (o *Orchestrator) eligibleForLeAudio(device protocol.Device, g *group) bool {
	if o.supports(device, protocol.ProfileHearingAid) {
		return false
	}
	switch o.adapter.DeviceType(device) {
	case protocol.DeviceTypeLE:
		return o.flags.Flags().DualModeAudio || o.leAudioOnlySet(g)
	case protocol.DeviceTypeDual:
		return o.flags.Flags().DualModeAudio
	}
	return false
}

// allowLeAudio allows and connects LE Audio for a set member.
func (o *Orchestrator) allowLeAudio(device protocol.Device) {
	service, ok := o.byProfile[protocol.ProfileLEAudio]
	if !ok || !o.supports(device, protocol.ProfileLEAudio) {
		return
	}
	switch o.db.ProfileConnectionPolicy(device, protocol.ProfileLEAudio) {
	case protocol.PolicyForbidden, protocol.PolicyAllowed:
		return
	}
	o.log.Info("Allowing %s for set member %s", protocol.ProfileLEAudio, device)
	if err := service.SetConnectionPolicy(device, protocol.PolicyAllowed); err != nil {
		o.log.Warning("Couldn't allow %s for %s: %s", protocol.ProfileLEAudio, device, err)
	}
}

func (o *Orchestrator) handleAdapterStateChanged(prev, next protocol.AdapterState) {
	switch next {
	case protocol.AdapterOn:
		o.autoConnect()
	case protocol.AdapterOff:
		for device, s := range o.sessions {
			s.timer.Cancel()
			delete(o.sessions, device)
		}
		o.states = make(map[protocol.Device]map[protocol.Profile]protocol.ConnectionState)
	}
}

func (o *Orchestrator) handleBondStateChanged(device protocol.Device, state protocol.BondState) {
	if state != protocol.BondNone {
		return
	}
	o.log.Info("%s unbonded, forgetting it", device)
	o.endSession(device)
	o.leaveGroup(device)
	o.db.Remove(device)
}

func (o *Orchestrator) connectIfAllowed(device protocol.Device, p protocol.Profile) {
	service, ok := o.byProfile[p]
	if !ok {
		return
	}
	if o.db.ProfileConnectionPolicy(device, p) != protocol.PolicyAllowed {
		return
	}
	if o.adapter.BondState(device) != protocol.BondBonded {
		return
	}
	o.log.Info("Auto-connecting %s to %s", p, device)
	if err := service.Connect(device); err != nil {
		o.log.Debug("Auto-connect %s %s rejected: %s", device, p, err)
	}
}

// autoConnect reconnects the most recently used devices after the adapter turns on.
func (o *Orchestrator) autoConnect() {
	flags := o.flags.Flags()
	if flags.QuietMode {
		o.log.Info("Quiet mode, skipping auto-connect")
		return
	}
	if device, ok := o.db.MostRecentlyConnectedDevice(protocol.ProfileA2DP); ok {
		o.connectIfAllowed(device, protocol.ProfileA2DP)
		o.connectIfAllowed(device, protocol.ProfileHFP)
		return
	}
	if flags.AutoConnectMultipleHFP {
		for _, device := range o.db.MostRecentlyConnectedDevices(protocol.ProfileHFP) {
			o.connectIfAllowed(device, protocol.ProfileHFP)
		}
		return
	}
	if device, ok := o.db.MostRecentlyConnectedDevice(protocol.ProfileHFP); ok {
		o.connectIfAllowed(device, protocol.ProfileHFP)
	}
}
