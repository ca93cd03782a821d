package protocol

import (
	"fmt"
	"strings"
)

// ConnectionState of a single profile connection to a single device.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

var stateNames = [...]string{"Disconnected", "Connecting", "Connected", "Disconnecting"}

func (s ConnectionState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
	return stateNames[s]
}

func (s ConnectionState) Valid() bool {
	return s >= StateDisconnected && s <= StateDisconnecting
}

// ConnectionStates lists every ConnectionState in declaration order.
var ConnectionStates = []ConnectionState{StateDisconnected, StateConnecting, StateConnected, StateDisconnecting}

func ParseConnectionState(name string) (ConnectionState, error) {
	for i, n := range stateNames {
		if strings.EqualFold(n, name) {
			return ConnectionState(i), nil
		}
	}
	return StateDisconnected, fmt.Errorf("unknown connection state '%s'", name)
}

// ConnectionPolicy controls whether connections to a device are attempted or accepted for a
// profile.
type ConnectionPolicy int

const (
	PolicyUnknown ConnectionPolicy = iota
	PolicyAllowed
	PolicyForbidden
)

func (p ConnectionPolicy) String() string {
	switch p {
	case PolicyUnknown:
		return "Unknown"
	case PolicyAllowed:
		return "Allowed"
	case PolicyForbidden:
		return "Forbidden"
	}
	return fmt.Sprintf("ConnectionPolicy(%d)", int(p))
}

func ParseConnectionPolicy(name string) (ConnectionPolicy, error) {
	switch strings.ToLower(name) {
	case "unknown":
		return PolicyUnknown, nil
	case "allowed", "allow":
		return PolicyAllowed, nil
	case "forbidden", "forbid":
		return PolicyForbidden, nil
	}
	return PolicyUnknown, fmt.Errorf("unknown connection policy '%s'", name)
}

// DeviceType describes which transports a remote device supports.
type DeviceType int

const (
	DeviceTypeUnknown DeviceType = iota
	DeviceTypeClassic
	DeviceTypeLE
	DeviceTypeDual
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeClassic:
		return "Classic"
	case DeviceTypeLE:
		return "LE"
	case DeviceTypeDual:
		return "Dual"
	}
	return "Unknown"
}

type BondState int

const (
	BondNone BondState = iota
	BondBonding
	BondBonded
)

func (b BondState) String() string {
	switch b {
	case BondNone:
		return "None"
	case BondBonding:
		return "Bonding"
	case BondBonded:
		return "Bonded"
	}
	return fmt.Sprintf("BondState(%d)", int(b))
}

type AdapterState int

const (
	AdapterOff AdapterState = iota
	AdapterTurningOn
	AdapterOn
	AdapterTurningOff
)

func (a AdapterState) String() string {
	switch a {
	case AdapterOff:
		return "Off"
	case AdapterTurningOn:
		return "TurningOn"
	case AdapterOn:
		return "On"
	case AdapterTurningOff:
		return "TurningOff"
	}
	return fmt.Sprintf("AdapterState(%d)", int(a))
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ConnectionState) UnmarshalText(text []byte) error {
	parsed, err := ParseConnectionState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (p ConnectionPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *ConnectionPolicy) UnmarshalText(text []byte) error {
	parsed, err := ParseConnectionPolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
