package profile

import (
	"github.com/teslamotors/bluetooth-policy/pkg/notify"
	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

// SlotMode selects how many devices of a profile can be active at once.
type SlotMode int

const (
	SlotModeNone SlotMode = iota
	SlotModeSingle
	SlotModePair
)

func (m SlotMode) capacity() int {
	switch m {
	case SlotModeSingle:
		return 1
	case SlotModePair:
		return 2
	}
	return 0
}

type slot struct {
	device protocol.Device
	used   bool
	// activation orders slots by when they were filled.
	activation uint64
}

// ActiveDevices returns the device in each slot, or nil for an empty slot.
func (s *Service) ActiveDevices() [2]*protocol.Device {
	return s.current.Load().active
}

// SetActiveDevice makes device active, together with the connected members of its group. A nil
// device clears every slot.
func (s *Service) SetActiveDevice(device *protocol.Device) error {
	if s.slotMode == SlotModeNone {
		return protocol.ErrNoActiveSlots
	}
	if !s.running.Load() {
		return protocol.ErrServiceStopped
	}
	if device == nil {
		s.looper.Post(func() {
			if s.clearSlots() {
				s.publishActive()
			}
		})
		return nil
	}
	target := *device
	if s.ConnectionState(target) != protocol.StateConnected {
		return protocol.ErrNotConnected
	}
	s.looper.Post(func() {
		e, ok := s.machines[target]
		if !ok || e.machine.State() != protocol.StateConnected {
			s.log.Debug("Not activating %s: no longer connected", target)
			return
		}
		s.clearSlots()
		s.fill(target)
		if group := s.metadata[target].GroupID; group != 0 && s.slotMode == SlotModePair {
			for device, e := range s.machines {
				if device != target && e.machine.State() == protocol.StateConnected && s.metadata[device].GroupID == group {
					s.fill(device)
					break
				}
			}
		}
		s.publishActive()
	})
	return nil
}

func (s *Service) slotOf(device protocol.Device) int {
	for i := 0; i < s.slotMode.capacity(); i++ {
		if s.slots[i].used && s.slots[i].device == device {
			return i
		}
	}
	return -1
}

func (s *Service) clearSlots() bool {
	changed := false
	for i := range s.slots {
		if s.slots[i].used {
			changed = true
		}
		s.slots[i] = slot{}
	}
	return changed
}

// fill places device in the lowest free slot, displacing the oldest activation when none is free.
func (s *Service) fill(device protocol.Device) {
	capacity := s.slotMode.capacity()
	index := -1
	for i := 0; i < capacity; i++ {
		if !s.slots[i].used {
			index = i
			break
		}
	}
	if index < 0 {
		index = 0
		for i := 1; i < capacity; i++ {
			if s.slots[i].activation < s.slots[index].activation {
				index = i
			}
		}
		s.log.Info("%s displaces %s from active slot %d", device, s.slots[index].device, index)
	}
	s.activations++
	s.slots[index] = slot{device: device, used: true, activation: s.activations}
}

// activate assigns a slot to a device that just connected. Runs on the Looper.
func (s *Service) activate(device protocol.Device) {
	if s.slotMode == SlotModeNone || s.manual || s.slotOf(device) >= 0 {
		return
	}
	if s.slotMode == SlotModePair {
		group := s.metadata[device].GroupID
		for i := range s.slots {
			if !s.slots[i].used || group == 0 {
				continue
			}
			if other := s.metadata[s.slots[i].device].GroupID; other != 0 && other != group {
				s.log.Info("%s belongs to group %d, clearing group %d", device, group, other)
				s.clearSlots()
				break
			}
		}
	}
	s.fill(device)
	s.publishActive()
}

// deactivate clears the slot of a device that left Connected. Runs on the Looper.
func (s *Service) deactivate(device protocol.Device) {
	index := s.slotOf(device)
	if index < 0 {
		return
	}
	s.slots[index] = slot{}
	if s.requireActive {
		if next, ok := s.mostRecentInactive(); ok {
			s.log.Info("Promoting %s to active slot %d", next, index)
			s.activations++
			s.slots[index] = slot{device: next, used: true, activation: s.activations}
		}
	}
	s.publishActive()
}

func (s *Service) mostRecentInactive() (protocol.Device, bool) {
	var best protocol.Device
	found := false
	for device, e := range s.machines {
		if e.machine.State() != protocol.StateConnected || s.slotOf(device) >= 0 {
			continue
		}
		if !found || e.connection > s.machines[best].connection {
			best, found = device, true
		}
	}
	return best, found
}

func (s *Service) publishActive() {
	s.publishSnapshot()
	var active []protocol.Device
	for i := 0; i < s.slotMode.capacity(); i++ {
		if s.slots[i].used {
			active = append(active, s.slots[i].device)
		}
	}
	s.log.Info("Active devices: %v", active)
	s.sink.Publish(notify.ActiveDeviceChanged(s.profile, active))
	for _, o := range s.snapshotObservers() {
		o.ActiveDeviceChanged(s.profile, active)
	}
}
