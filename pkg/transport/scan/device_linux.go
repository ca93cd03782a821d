package scan

import (
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-ble/ble/linux/hci/cmd"
)

const bleTimeout = 20 * time.Second

var scanParams = cmd.LESetScanParameters{
	LEScanType:           0,      // Passive scanning
	LEScanInterval:       0x0060, // 60ms
	LEScanWindow:         0x0030, // 30ms
	OwnAddressType:       0,      // Static
	ScanningFilterPolicy: 0,      // Accept all
}

func newDevice(id int) (ble.Device, error) {
	device, err := linux.NewDevice(ble.OptDeviceID(id), ble.OptListenerTimeout(bleTimeout), ble.OptDialerTimeout(bleTimeout), ble.OptScanParams(scanParams))
	if err != nil {
		return nil, err
	}
	return device, nil
}
