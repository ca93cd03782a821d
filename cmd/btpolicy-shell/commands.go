package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/teslamotors/bluetooth-policy/pkg/control"
	"github.com/teslamotors/bluetooth-policy/pkg/notify"
	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

var (
	ErrCommandLineArgs = errors.New("invalid command line arguments")
	ErrUnknownCommand  = errors.New("unrecognized command")
)

var out io.Writer = os.Stdout

type Argument struct {
	name string
	help string
}

type Handler func(ctx context.Context, client *control.Client, args map[string]string) error

type Command struct {
	help     string
	args     []Argument
	optional []Argument
	handler  Handler
	// streaming commands run until interrupted instead of under the command timeout.
	streaming bool
}

var (
	argDevice  = Argument{name: "ADDRESS", help: "Device address, e.g. 00:11:22:33:44:55"}
	argProfile = Argument{name: "PROFILE", help: "a2dp, hfp, hearing_aid, hap, le_audio, csip, vcp or bas"}
)

func deviceAndProfile(args map[string]string) (protocol.Device, protocol.Profile, error) {
	device, err := protocol.ParseDevice(args[argDevice.name])
	if err != nil {
		return "", 0, err
	}
	p, err := protocol.ParseProfile(args[argProfile.name])
	if err != nil {
		return "", 0, err
	}
	return device, p, nil
}

func execute(ctx context.Context, client *control.Client, args []string) error {
	if len(args) == 0 {
		return errors.New("missing COMMAND")
	}
	info, ok := commands[args[0]]
	if !ok {
		return ErrUnknownCommand
	}

	var err error
	if len(args)-1 < len(info.args) || len(args)-1 > len(info.args)+len(info.optional) {
		writeErr("Invalid number of command line arguments: %d (%d required, %d optional).", len(args)-1, len(info.args), len(info.optional))
		err = ErrCommandLineArgs
	} else {
		keywords := make(map[string]string)
		for i, argInfo := range info.args {
			keywords[argInfo.name] = args[i+1]
		}
		index := len(info.args) + 1
		for _, argInfo := range info.optional {
			if index >= len(args) {
				break
			}
			keywords[argInfo.name] = args[index]
			index++
		}
		err = info.handler(ctx, client, keywords)
	}

	if errors.Is(err, ErrCommandLineArgs) {
		info.Usage(args[0])
	}
	return err
}

func (c *Command) Usage(name string) {
	fmt.Fprintf(out, "Usage: %s", name)
	maxLength := 0
	for _, arg := range c.args {
		fmt.Fprintf(out, " %s", arg.name)
		maxLength = max(maxLength, len(arg.name))
	}
	if len(c.optional) > 0 {
		fmt.Fprintf(out, " [")
	}
	for _, arg := range c.optional {
		fmt.Fprintf(out, " %s", arg.name)
		maxLength = max(maxLength, len(arg.name))
	}
	if len(c.optional) > 0 {
		fmt.Fprintf(out, " ]")
	}
	fmt.Fprintf(out, "\n%s\n", c.help)
	maxLength++
	for _, arg := range append(append([]Argument(nil), c.args...), c.optional...) {
		fmt.Fprintf(out, "    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
}

func printDevices(devices []control.DeviceStatus) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tNAME\tTYPE\tBOND\tACL\tPROFILES")
	for _, d := range devices {
		var profiles []string
		for p, status := range d.Profiles {
			entry := fmt.Sprintf("%s=%s/%s", p, status.State, status.Policy)
			if status.Active {
				entry += "*"
			}
			profiles = append(profiles, entry)
		}
		sort.Strings(profiles)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%s\n", d.Address, d.Name, d.Type, d.Bond, d.ACLConnected, strings.Join(profiles, " "))
	}
	w.Flush()
}

var commands = map[string]*Command{
	"devices": &Command{
		help: "List known devices. Active profiles are marked with *",
		handler: func(ctx context.Context, client *control.Client, args map[string]string) error {
			devices, err := client.Devices(ctx)
			if err != nil {
				return err
			}
			printDevices(devices)
			return nil
		},
	},
	"device": &Command{
		help: "Show one device",
		args: []Argument{argDevice},
		handler: func(ctx context.Context, client *control.Client, args map[string]string) error {
			device, err := protocol.ParseDevice(args[argDevice.name])
			if err != nil {
				return err
			}
			status, err := client.Device(ctx, device)
			if err != nil {
				return err
			}
			printDevices([]control.DeviceStatus{*status})
			return nil
		},
	},
	"connect": &Command{
		help: "Connect a profile of a device",
		args: []Argument{argDevice, argProfile},
		handler: func(ctx context.Context, client *control.Client, args map[string]string) error {
			device, p, err := deviceAndProfile(args)
			if err != nil {
				return err
			}
			return client.Connect(ctx, device, p)
		},
	},
	"disconnect": &Command{
		help: "Disconnect a profile of a device",
		args: []Argument{argDevice, argProfile},
		handler: func(ctx context.Context, client *control.Client, args map[string]string) error {
			device, p, err := deviceAndProfile(args)
			if err != nil {
				return err
			}
			return client.Disconnect(ctx, device, p)
		},
	},
	"policy": &Command{
		help: "Set the connection policy of a profile of a device",
		args: []Argument{
			argDevice,
			argProfile,
			Argument{name: "POLICY", help: "allowed, forbidden or unknown"},
		},
		handler: func(ctx context.Context, client *control.Client, args map[string]string) error {
			device, p, err := deviceAndProfile(args)
			if err != nil {
				return err
			}
			policy, err := protocol.ParseConnectionPolicy(args["POLICY"])
			if err != nil {
				return fmt.Errorf("%w: %s", ErrCommandLineArgs, err)
			}
			return client.SetConnectionPolicy(ctx, device, p, policy)
		},
	},
	"active": &Command{
		help:     "Make a device the active device of a profile. Omit ADDRESS to clear",
		args:     []Argument{argProfile},
		optional: []Argument{argDevice},
		handler: func(ctx context.Context, client *control.Client, args map[string]string) error {
			p, err := protocol.ParseProfile(args[argProfile.name])
			if err != nil {
				return err
			}
			address, ok := args[argDevice.name]
			if !ok {
				return client.SetActiveDevice(ctx, p, nil)
			}
			device, err := protocol.ParseDevice(address)
			if err != nil {
				return err
			}
			return client.SetActiveDevice(ctx, p, &device)
		},
	},
	"groups": &Command{
		help: "List coordinated sets",
		handler: func(ctx context.Context, client *control.Client, args map[string]string) error {
			groups, err := client.Groups(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "GROUP\tSIZE\tCOMPLETE\tMEMBERS")
			for _, g := range groups {
				members := make([]string, 0, len(g.Members))
				for _, m := range g.Members {
					members = append(members, m.String())
				}
				fmt.Fprintf(w, "%d\t%d\t%v\t%s\n", g.GroupID, g.Desired, g.Complete(), strings.Join(members, " "))
			}
			return w.Flush()
		},
	},
	"export": &Command{
		help:     "Write the policy database as JSON",
		optional: []Argument{Argument{name: "FILE", help: "Output file. Defaults to stdout"}},
		handler: func(ctx context.Context, client *control.Client, args map[string]string) error {
			dump, err := client.Export(ctx)
			if err != nil {
				return err
			}
			indented, err := json.MarshalIndent(dump, "", "  ")
			if err != nil {
				return err
			}
			indented = append(indented, '\n')
			if filename, ok := args["FILE"]; ok {
				return os.WriteFile(filename, indented, 0600)
			}
			_, err = out.Write(indented)
			return err
		},
	},
	"watch": &Command{
		help:      "Print connection and active-device changes until interrupted",
		streaming: true,
		handler: func(ctx context.Context, client *control.Client, args map[string]string) error {
			err := client.Stream(ctx, func(n notify.Notification) {
				switch n.Kind {
				case notify.KindActiveDevice:
					fmt.Fprintf(out, "%s %s active: %v\n", n.Time.Format("15:04:05.000"), n.Profile, n.Active)
				default:
					fmt.Fprintf(out, "%s %s %s: %s -> %s\n", n.Time.Format("15:04:05.000"), n.Device, n.Profile, n.Previous, n.State)
				}
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	},
}
