package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslamotors/bluetooth-policy/internal/log"
	"github.com/teslamotors/bluetooth-policy/pkg/cli"
)

const nonLocalhostWarning = `
Do not expose the control API on a network interface unless you trust every host that can reach
it. Anyone holding a token signed with the control secret can change connection policies.`

func Usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [OPTION...]\n", os.Args[0])
	fmt.Fprintf(out, "\nA daemon that decides which Bluetooth profiles of which devices connect.\n")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Send SIGHUP to reload the policy flags from the config file.")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")
	flag.PrintDefaults()
}

func main() {
	config, err := cli.NewConfig(cli.FlagConfig | cli.FlagKeyring | cli.FlagStack)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load credential configuration: %s\n", err)
		os.Exit(1)
	}

	defer func() {
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
	}()

	flag.Usage = Usage
	config.RegisterCommandLineFlags()
	flag.Parse()
	config.ReadFromEnvironment()

	settings, err := config.Load()
	if err != nil {
		return
	}
	level, err := log.ParseLevel(settings.LogLevel)
	if err != nil {
		return
	}
	log.SetLevel(level)

	if !isLocalhost(settings.Control.Listen) {
		fmt.Fprintln(os.Stderr, nonLocalhostWarning)
	}

	d, err := newDaemon(config, settings)
	if err != nil {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hangups := make(chan os.Signal, 1)
	signal.Notify(hangups, syscall.SIGHUP)
	defer signal.Stop(hangups)
	go func() {
		for range hangups {
			d.reload()
		}
	}()

	err = d.run(ctx)
}
