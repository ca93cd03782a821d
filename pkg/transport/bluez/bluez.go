// Package bluez drives profiles through BlueZ over the system D-Bus.
//
// Outgoing profile connections use org.bluez.Device1.ConnectProfile and DisconnectProfile. The
// accept list maps onto the Trusted property. Adapter and device properties are mirrored into
// the adapter model from ObjectManager and PropertiesChanged signals.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/teslamotors/bluetooth-policy/internal/log"
	"github.com/teslamotors/bluetooth-policy/pkg/adapter"
	"github.com/teslamotors/bluetooth-policy/pkg/profile"
	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
	"github.com/teslamotors/bluetooth-policy/pkg/transport"
)

const (
	busName          = "org.bluez"
	adapterIface     = "org.bluez.Adapter1"
	deviceIface      = "org.bluez.Device1"
	propsIface       = "org.freedesktop.DBus.Properties"
	objectManager    = "org.freedesktop.DBus.ObjectManager"
	propsSignal      = propsIface + ".PropertiesChanged"
	interfacesAdded  = objectManager + ".InterfacesAdded"
	interfacesRemove = objectManager + ".InterfacesRemoved"
)

var ErrBluezNotRunning = protocol.NewError("org.bluez not found on system bus, is bluetooth.service running?", true)

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Client is a Transport backed by BlueZ.
type Client struct {
	conn        *dbus.Conn
	adapterPath dbus.ObjectPath
	adapter     *adapter.Adapter
	services    transport.Services
	log         log.Logger

	closeOnce sync.Once
}

// Dial connects to the system bus and checks that BlueZ is present. adapterName is the HCI
// name, e.g. "hci0".
func Dial(adapterName string, a *adapter.Adapter, services transport.Services) (*Client, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("list bus names: %w", err)
	}
	found := false
	for _, n := range names {
		if n == busName {
			found = true
			break
		}
	}
	if !found {
		conn.Close()
		return nil, ErrBluezNotRunning
	}
	return &Client{
		conn:        conn,
		adapterPath: dbus.ObjectPath("/org/bluez/" + adapterName),
		adapter:     a,
		services:    services,
		log:         log.Tag("bluez"),
	}, nil
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}

func (c *Client) devicePath(device protocol.Device) dbus.ObjectPath {
	return devicePath(c.adapterPath, device)
}

// devicePath converts "AA:BB:CC:DD:EE:FF" to "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func devicePath(adapterPath dbus.ObjectPath, device protocol.Device) dbus.ObjectPath {
	return dbus.ObjectPath(string(adapterPath) + "/dev_" + strings.ReplaceAll(device.String(), ":", "_"))
}

// deviceFromPath extracts the address from a device object path of adapterPath.
func deviceFromPath(adapterPath, path dbus.ObjectPath) (protocol.Device, bool) {
	prefix := string(adapterPath) + "/dev_"
	s := string(path)
	if !strings.HasPrefix(s, prefix) {
		return "", false
	}
	rest := s[len(prefix):]
	// Paths below a device belong to its services and transports.
	if strings.Contains(rest, "/") {
		return "", false
	}
	device, err := protocol.ParseDevice(strings.ReplaceAll(rest, "_", ":"))
	if err != nil {
		return "", false
	}
	return device, true
}

func (c *Client) setProp(path dbus.ObjectPath, iface, prop string, val interface{}) error {
	obj := c.conn.Object(busName, path)
	return obj.Call(propsIface+".Set", 0, iface, prop, dbus.MakeVariant(val)).Err
}

func (c *Client) Native(p protocol.Profile) profile.Native {
	return &native{client: c, profile: p}
}

// connectProfile runs a blocking ConnectProfile call and reports its outcome.
func (c *Client) connectProfile(device protocol.Device, p protocol.Profile) {
	uuids := p.UUIDs()
	if len(uuids) == 0 {
		transport.ReportState(c.services, device, p, protocol.StateDisconnected)
		return
	}
	obj := c.conn.Object(busName, c.devicePath(device))
	err := obj.Call(deviceIface+".ConnectProfile", 0, protocol.UUIDString(uuids[0])).Err
	if err != nil {
		c.log.Warning("ConnectProfile %s %s: %s", device, p, err)
		transport.ReportState(c.services, device, p, protocol.StateDisconnected)
		return
	}
	transport.ReportState(c.services, device, p, protocol.StateConnected)
}

func (c *Client) disconnectProfile(device protocol.Device, p protocol.Profile) {
	uuids := p.UUIDs()
	if len(uuids) > 0 {
		obj := c.conn.Object(busName, c.devicePath(device))
		if err := obj.Call(deviceIface+".DisconnectProfile", 0, protocol.UUIDString(uuids[0])).Err; err != nil {
			c.log.Warning("DisconnectProfile %s %s: %s", device, p, err)
		}
	}
	transport.ReportState(c.services, device, p, protocol.StateDisconnected)
}

type native struct {
	client  *Client
	profile protocol.Profile
}

func (n *native) Connect(device protocol.Device) bool {
	if !device.Valid() {
		return false
	}
	go n.client.connectProfile(device, n.profile)
	return true
}

func (n *native) Disconnect(device protocol.Device) bool {
	if !device.Valid() {
		return false
	}
	go n.client.disconnectProfile(device, n.profile)
	return true
}

func (n *native) AddToAcceptList(device protocol.Device) {
	if err := n.client.setProp(n.client.devicePath(device), deviceIface, "Trusted", true); err != nil {
		n.client.log.Warning("Couldn't trust %s: %s", device, err)
	}
}

// Run loads the current objects and then mirrors property changes until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	rule := "type='signal',path_namespace='/org/bluez'"
	if err := c.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
		return fmt.Errorf("add match: %w", err)
	}
	if err := c.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0,
		"type='signal',interface='"+objectManager+"',path='/'").Err; err != nil {
		return fmt.Errorf("add match: %w", err)
	}
	signals := make(chan *dbus.Signal, 64)
	c.conn.Signal(signals)
	defer c.conn.RemoveSignal(signals)

	var objects managedObjects
	err := c.conn.Object(busName, "/").Call(objectManager+".GetManagedObjects", 0).Store(&objects)
	if err != nil {
		return fmt.Errorf("get managed objects: %w", err)
	}
	c.sync(objects)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return errors.New("bluez: system bus connection closed")
			}
			c.handleSignal(sig)
		}
	}
}

func (c *Client) sync(objects managedObjects) {
	if ifaces, ok := objects[c.adapterPath]; ok {
		if props, ok := ifaces[adapterIface]; ok {
			c.applyAdapter(props)
		}
	}
	for path, ifaces := range objects {
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		if device, ok := deviceFromPath(c.adapterPath, path); ok {
			applyDevice(c.adapter, device, props, true)
		}
	}
}

func (c *Client) handleSignal(sig *dbus.Signal) {
	switch sig.Name {
	case propsSignal:
		// Body: [interface_name string, changed_props map[string]Variant, invalidated []string]
		if len(sig.Body) < 2 {
			return
		}
		iface, ok := sig.Body[0].(string)
		if !ok {
			return
		}
		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			return
		}
		switch iface {
		case adapterIface:
			if sig.Path == c.adapterPath {
				c.applyAdapter(changed)
			}
		case deviceIface:
			if device, ok := deviceFromPath(c.adapterPath, sig.Path); ok {
				c.applyDeviceChange(device, changed)
			}
		}
	case interfacesAdded:
		if len(sig.Body) < 2 {
			return
		}
		path, ok := sig.Body[0].(dbus.ObjectPath)
		if !ok {
			return
		}
		ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
		if !ok {
			return
		}
		if props, ok := ifaces[deviceIface]; ok {
			if device, ok := deviceFromPath(c.adapterPath, path); ok {
				applyDevice(c.adapter, device, props, true)
			}
		}
	case interfacesRemove:
		if len(sig.Body) < 2 {
			return
		}
		path, ok := sig.Body[0].(dbus.ObjectPath)
		if !ok {
			return
		}
		removed, ok := sig.Body[1].([]string)
		if !ok {
			return
		}
		for _, iface := range removed {
			if iface != deviceIface {
				continue
			}
			if device, ok := deviceFromPath(c.adapterPath, path); ok {
				c.log.Info("%s removed", device)
				transport.ReportLinkLoss(c.services, device)
				c.adapter.SetBondState(device, protocol.BondNone)
				c.adapter.Forget(device)
			}
		}
	}
}

func (c *Client) applyAdapter(props map[string]dbus.Variant) {
	if v, ok := props["Powered"]; ok {
		if powered, ok := v.Value().(bool); ok {
			if powered {
				c.adapter.SetState(protocol.AdapterOn)
			} else {
				c.adapter.SetState(protocol.AdapterOff)
			}
		}
	}
}

func (c *Client) applyDeviceChange(device protocol.Device, changed map[string]dbus.Variant) {
	if v, ok := changed["Connected"]; ok {
		if connected, ok := v.Value().(bool); ok && !connected {
			transport.ReportLinkLoss(c.services, device)
		}
	}
	applyDevice(c.adapter, device, changed, false)
}

// applyDevice copies Device1 properties into the adapter model. With complete set, props holds
// every property of the device rather than a change set.
func applyDevice(a *adapter.Adapter, device protocol.Device, props map[string]dbus.Variant, complete bool) {
	if v, ok := props["Alias"]; ok {
		if name, ok := v.Value().(string); ok {
			a.SetName(device, name)
		}
	}
	if complete {
		a.SetDeviceType(device, deviceType(props))
	}
	if v, ok := props["Paired"]; ok {
		if paired, ok := v.Value().(bool); ok {
			if paired {
				a.SetBondState(device, protocol.BondBonded)
			} else {
				a.SetBondState(device, protocol.BondNone)
			}
		}
	}
	if v, ok := props["Connected"]; ok {
		if connected, ok := v.Value().(bool); ok {
			a.SetACLConnected(device, connected)
		}
	}
	if v, ok := props["UUIDs"]; ok {
		if values, ok := v.Value().([]string); ok {
			a.SetUUIDs(device, protocol.ParseUUIDs(values))
		}
	}
}

// deviceType infers the transports of a device. BlueZ only reports a class of device for
// BR/EDR devices, and LE Audio services are only offered over LE.
func deviceType(props map[string]dbus.Variant) protocol.DeviceType {
	_, hasClass := props["Class"]
	le := false
	if v, ok := props["UUIDs"]; ok {
		if values, ok := v.Value().([]string); ok {
			uuids := protocol.ParseUUIDs(values)
			le = protocol.HasUUID(uuids, protocol.ProfileLEAudio) || protocol.HasUUID(uuids, protocol.ProfileCSIPSetCoordinator)
		}
	}
	if v, ok := props["AddressType"]; ok {
		if t, ok := v.Value().(string); ok && t == "random" {
			le = true
		}
	}
	switch {
	case hasClass && le:
		return protocol.DeviceTypeDual
	case hasClass:
		return protocol.DeviceTypeClassic
	case le:
		return protocol.DeviceTypeLE
	}
	return protocol.DeviceTypeUnknown
}
