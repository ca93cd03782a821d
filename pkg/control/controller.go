package control

import (
	"io"
	"sort"

	"github.com/teslamotors/bluetooth-policy/pkg/adapter"
	"github.com/teslamotors/bluetooth-policy/pkg/orchestrator"
	"github.com/teslamotors/bluetooth-policy/pkg/profile"
	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

//go:generate mockgen -destination=../../mocks/control.go -package=mocks -mock_names=Controller=Controller . Controller

// Controller is the part of the daemon the API exposes.
type Controller interface {
	Devices() []DeviceStatus
	Device(device protocol.Device) (DeviceStatus, bool)
	Connect(device protocol.Device, p protocol.Profile) error
	Disconnect(device protocol.Device, p protocol.Profile) error
	SetConnectionPolicy(device protocol.Device, p protocol.Profile, policy protocol.ConnectionPolicy) error
	SetActiveDevice(p protocol.Profile, device *protocol.Device) error
	Groups() []orchestrator.CoordinatedSet
	Export(w io.Writer) error
}

type ProfileStatus struct {
	State  protocol.ConnectionState  `json:"state"`
	Policy protocol.ConnectionPolicy `json:"policy"`
	Active bool                      `json:"active"`
}

type DeviceStatus struct {
	Address      protocol.Device                    `json:"address"`
	Name         string                             `json:"name,omitempty"`
	Type         string                             `json:"type"`
	Bond         string                             `json:"bond"`
	ACLConnected bool                               `json:"acl_connected"`
	Profiles     map[protocol.Profile]ProfileStatus `json:"profiles"`
}

// GroupSource reports coordinated sets.
type GroupSource interface {
	Groups() []orchestrator.CoordinatedSet
}

// Exporter dumps the policy database.
type Exporter interface {
	Export(w io.Writer) error
}

// Local is a Controller for the services of this process.
type Local struct {
	registry *profile.Registry
	adapter  *adapter.Adapter
	groups   GroupSource
	db       Exporter
}

func NewLocal(registry *profile.Registry, a *adapter.Adapter, groups GroupSource, db Exporter) *Local {
	return &Local{registry: registry, adapter: a, groups: groups, db: db}
}

func (l *Local) service(p protocol.Profile) (*profile.Service, error) {
	s, ok := l.registry.Service(p)
	if !ok {
		return nil, protocol.ErrUnknownProfile
	}
	return s, nil
}

func (l *Local) Devices() []DeviceStatus {
	seen := make(map[protocol.Device]bool)
	var devices []protocol.Device
	add := func(d protocol.Device) {
		if !seen[d] {
			seen[d] = true
			devices = append(devices, d)
		}
	}
	for _, r := range l.adapter.Remotes() {
		add(r.Device)
	}
	for _, s := range l.registry.Services() {
		for _, d := range s.Devices() {
			add(d)
		}
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i] < devices[j] })
	statuses := make([]DeviceStatus, 0, len(devices))
	for _, d := range devices {
		statuses = append(statuses, l.status(d))
	}
	return statuses
}

func (l *Local) Device(device protocol.Device) (DeviceStatus, bool) {
	if _, ok := l.adapter.Remote(device); ok {
		return l.status(device), true
	}
	for _, s := range l.registry.Services() {
		if s.ConnectionState(device) != protocol.StateDisconnected {
			return l.status(device), true
		}
	}
	return DeviceStatus{}, false
}

func (l *Local) status(device protocol.Device) DeviceStatus {
	status := DeviceStatus{
		Address:  device,
		Type:     protocol.DeviceTypeUnknown.String(),
		Bond:     protocol.BondNone.String(),
		Profiles: make(map[protocol.Profile]ProfileStatus),
	}
	if r, ok := l.adapter.Remote(device); ok {
		status.Name = r.Name
		status.Type = r.Type.String()
		status.Bond = r.Bond.String()
		status.ACLConnected = r.ACLConnected
	}
	for _, s := range l.registry.Services() {
		state := s.ConnectionState(device)
		if state == protocol.StateDisconnected && !l.adapter.Supports(device, s.Profile()) {
			continue
		}
		ps := ProfileStatus{State: state, Policy: s.ConnectionPolicy(device)}
		for _, active := range s.ActiveDevices() {
			if active != nil && *active == device {
				ps.Active = true
			}
		}
		status.Profiles[s.Profile()] = ps
	}
	return status
}

func (l *Local) Connect(device protocol.Device, p protocol.Profile) error {
	s, err := l.service(p)
	if err != nil {
		return err
	}
	return s.Connect(device)
}

func (l *Local) Disconnect(device protocol.Device, p protocol.Profile) error {
	s, err := l.service(p)
	if err != nil {
		return err
	}
	if s.ConnectionState(device) == protocol.StateDisconnected {
		return protocol.ErrNotConnected
	}
	return s.Disconnect(device)
}

func (l *Local) SetConnectionPolicy(device protocol.Device, p protocol.Profile, policy protocol.ConnectionPolicy) error {
	s, err := l.service(p)
	if err != nil {
		return err
	}
	return s.SetConnectionPolicy(device, policy)
}

func (l *Local) SetActiveDevice(p protocol.Profile, device *protocol.Device) error {
	s, err := l.service(p)
	if err != nil {
		return err
	}
	return s.SetActiveDevice(device)
}

func (l *Local) Groups() []orchestrator.CoordinatedSet {
	if l.groups == nil {
		return nil
	}
	return l.groups.Groups()
}

func (l *Local) Export(w io.Writer) error {
	return l.db.Export(w)
}
