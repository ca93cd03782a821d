//go:build !linux

package scan

import (
	"errors"

	"github.com/go-ble/ble"
)

func newDevice(_ int) (ble.Device, error) {
	return nil, errors.New("LE scanning is only supported on Linux")
}
