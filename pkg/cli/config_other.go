//go:build !linux

package cli

import "flag"

func (c *Config) registerCommandLineFlagsOsSpecific(fs *flag.FlagSet) {
	fs.StringVar(&c.AdapterName, "bt-adapter", "", "ID of the Bluetooth adapter to use. Defaults to hci0.")
}
