package orchestrator

import (
	"github.com/go-ble/ble"

	"github.com/teslamotors/bluetooth-policy/pkg/config"
	"github.com/teslamotors/bluetooth-policy/pkg/profile"
	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

//go:generate mockgen -destination=../../mocks/orchestrator.go -package=mocks -mock_names=ProfileService=ProfileService,Database=PolicyDatabase,Adapter=Adapter . ProfileService,Database,Adapter

// ProfileService is the part of a profile.Service the orchestrator drives.
type ProfileService interface {
	Profile() protocol.Profile
	Connect(device protocol.Device) error
	ConnectionState(device protocol.Device) protocol.ConnectionState
	SetConnectionPolicy(device protocol.Device, policy protocol.ConnectionPolicy) error
}

// Database stores connection policies and the most recently connected devices.
type Database interface {
	ProfileConnectionPolicy(device protocol.Device, profile protocol.Profile) protocol.ConnectionPolicy
	SetProfileConnectionPolicy(device protocol.Device, profile protocol.Profile, policy protocol.ConnectionPolicy) bool
	MostRecentlyConnectedDevice(profile protocol.Profile) (protocol.Device, bool)
	MostRecentlyConnectedDevices(profile protocol.Profile) []protocol.Device
	SetConnection(device protocol.Device, profile protocol.Profile)
	SetDisconnection(device protocol.Device, profile protocol.Profile)
	Remove(device protocol.Device)
}

// Adapter reports the properties of remote devices.
type Adapter interface {
	UUIDs(device protocol.Device) []ble.UUID
	DeviceType(device protocol.Device) protocol.DeviceType
	BondState(device protocol.Device) protocol.BondState
	ACLConnected(device protocol.Device) bool
}

// FlagSource returns the current feature flags. It is consulted at every decision point.
type FlagSource interface {
	Flags() config.Flags
}

// ServicesOf returns the services of r in registration order.
func ServicesOf(r *profile.Registry) []ProfileService {
	var services []ProfileService
	for _, s := range r.Services() {
		services = append(services, s)
	}
	return services
}
