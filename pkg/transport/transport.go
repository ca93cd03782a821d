// Package transport connects profile services to a Bluetooth stack.
package transport

import (
	"context"

	"github.com/teslamotors/bluetooth-policy/pkg/profile"
	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

// Transport issues profile commands to a stack and reports what the stack does.
type Transport interface {
	// Native returns the command interface used by the service for p.
	//
	// Commands must not block. Their outcome is reported asynchronously through the service's
	// OnConnectionStateChanged.
	Native(p protocol.Profile) profile.Native

	// Run reports stack events to the adapter model and to the services of the registry until
	// ctx is done or the stack goes away.
	Run(ctx context.Context) error

	// Close releases the stack. Repeated calls to Close must be idempotent.
	Close()
}

// Services resolves the service that receives events for a profile.
type Services interface {
	Service(p protocol.Profile) (*profile.Service, bool)
	Services() []*profile.Service
}

// ReportState forwards a state change to the service for p, if one is registered.
func ReportState(services Services, device protocol.Device, p protocol.Profile, state protocol.ConnectionState) {
	if s, ok := services.Service(p); ok {
		s.OnConnectionStateChanged(device, state)
	}
}

// ReportLinkLoss reports every profile that still has state for device as Disconnected.
func ReportLinkLoss(services Services, device protocol.Device) {
	for _, s := range services.Services() {
		if s.ConnectionState(device) != protocol.StateDisconnected {
			s.OnConnectionStateChanged(device, protocol.StateDisconnected)
		}
	}
}
