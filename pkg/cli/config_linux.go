package cli

import "flag"

func (c *Config) registerCommandLineFlagsOsSpecific(fs *flag.FlagSet) {
	fs.StringVar(&c.AdapterName, "bt-adapter", "", "ID of the Bluetooth adapter to use. Defaults to hci0.")
	fs.BoolVar(&c.LEScan, "le-scan", false, "Learn LE services of bonded devices from their advertisements")
}
