package protocol

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-ble/ble"
)

var addressRE = regexp.MustCompile(`^[0-9A-F]{2}(:[0-9A-F]{2}){5}$`)

// Device identifies a remote Bluetooth device by its public or static address. The zero value is
// not a valid device.
type Device string

// ParseDevice validates and canonicalizes an address such as "aa:bb:cc:dd:ee:ff" or
// "AA-BB-CC-DD-EE-FF".
func ParseDevice(address string) (Device, error) {
	canonical := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(address), "-", ":"))
	if !addressRE.MatchString(canonical) {
		return "", fmt.Errorf("%w: '%s'", ErrInvalidAddress, address)
	}
	return Device(canonical), nil
}

// MustParseDevice is like ParseDevice but panics on invalid input. Intended for tests and
// constants.
func MustParseDevice(address string) Device {
	d, err := ParseDevice(address)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Device) String() string {
	return string(d)
}

// Addr returns the address in the form used by the BLE stack.
func (d Device) Addr() ble.Addr {
	return ble.NewAddr(string(d))
}

func (d Device) Valid() bool {
	return addressRE.MatchString(string(d))
}
