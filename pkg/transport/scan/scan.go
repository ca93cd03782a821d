// Package scan listens to LE advertisements and fills in the services of bonded LE devices that
// BlueZ has not resolved yet.
package scan

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ble/ble"

	"github.com/teslamotors/bluetooth-policy/internal/log"
	"github.com/teslamotors/bluetooth-policy/pkg/adapter"
	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

var ErrAdapterInvalidID = protocol.NewError("the bluetooth adapter ID is invalid", false)

// Scanner is safe for concurrent use.
type Scanner struct {
	device  ble.Device
	adapter *adapter.Adapter
	log     log.Logger
}

// AdapterID converts an HCI name such as "hci1" into its index.
func AdapterID(name string) (int, error) {
	id, err := strconv.Atoi(strings.TrimPrefix(name, "hci"))
	if err != nil || id < 0 {
		return 0, ErrAdapterInvalidID
	}
	return id, nil
}

// New opens the HCI device named adapterName.
func New(adapterName string, a *adapter.Adapter) (*Scanner, error) {
	id, err := AdapterID(adapterName)
	if err != nil {
		return nil, err
	}
	device, err := newDevice(id)
	if err != nil {
		return nil, fmt.Errorf("scan: failed to enable device: %w", err)
	}
	return newScanner(device, a), nil
}

func newScanner(device ble.Device, a *adapter.Adapter) *Scanner {
	return &Scanner{
		device:  device,
		adapter: a,
		log:     log.Tag("scan"),
	}
}

// Run scans until ctx is done.
func (s *Scanner) Run(ctx context.Context) error {
	err := s.device.Scan(ctx, true, func(a ble.Advertisement) {
		services := append([]ble.UUID(nil), a.Services()...)
		for _, sd := range a.ServiceData() {
			services = append(services, sd.UUID)
		}
		s.observe(a.Addr().String(), services)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Scanner) Close() error {
	if err := s.device.Stop(); err != nil {
		return fmt.Errorf("scan: failed to stop device: %w", err)
	}
	return nil
}

// observe merges advertised services into the adapter model. Only bonded devices are updated.
func (s *Scanner) observe(addr string, advertised []ble.UUID) {
	if len(advertised) == 0 {
		return
	}
	device, err := protocol.ParseDevice(addr)
	if err != nil {
		return
	}
	if s.adapter.BondState(device) != protocol.BondBonded {
		return
	}
	// Advertising at all means the device has an LE transport.
	switch s.adapter.DeviceType(device) {
	case protocol.DeviceTypeClassic:
		s.adapter.SetDeviceType(device, protocol.DeviceTypeDual)
	case protocol.DeviceTypeUnknown:
		s.adapter.SetDeviceType(device, protocol.DeviceTypeLE)
	}
	known := s.adapter.UUIDs(device)
	merged := append([]ble.UUID(nil), known...)
	for _, u := range advertised {
		if !protocol.ContainsUUID(merged, u) {
			merged = append(merged, u)
		}
	}
	if len(merged) == len(known) {
		return
	}
	s.log.Info("%s advertises %d new services", device, len(merged)-len(known))
	s.adapter.SetUUIDs(device, merged)
}
