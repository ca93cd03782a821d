package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/teslamotors/bluetooth-policy/internal/log"
	"github.com/teslamotors/bluetooth-policy/internal/statemachine"
	"github.com/teslamotors/bluetooth-policy/pkg/adapter"
	"github.com/teslamotors/bluetooth-policy/pkg/cli"
	"github.com/teslamotors/bluetooth-policy/pkg/config"
	"github.com/teslamotors/bluetooth-policy/pkg/control"
	"github.com/teslamotors/bluetooth-policy/pkg/notify"
	"github.com/teslamotors/bluetooth-policy/pkg/orchestrator"
	"github.com/teslamotors/bluetooth-policy/pkg/policydb"
	"github.com/teslamotors/bluetooth-policy/pkg/profile"
	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
	"github.com/teslamotors/bluetooth-policy/pkg/transport"
	"github.com/teslamotors/bluetooth-policy/pkg/transport/bluez"
	"github.com/teslamotors/bluetooth-policy/pkg/transport/scan"
	"github.com/teslamotors/bluetooth-policy/pkg/transport/sim"
)

const (
	simLatency      = 200 * time.Millisecond
	shutdownTimeout = 5 * time.Second
)

// slotModes lists the profiles that keep active devices. Hearing aids stream to both ears, as do
// LE Audio coordinated sets. LE Audio devices only become active when selected, since activating
// one forbids classic audio on its set.
var slotModes = map[protocol.Profile]profile.SlotMode{
	protocol.ProfileA2DP:       profile.SlotModeSingle,
	protocol.ProfileHFP:        profile.SlotModeSingle,
	protocol.ProfileHearingAid: profile.SlotModePair,
	protocol.ProfileLEAudio:    profile.SlotModePair,
}

type daemon struct {
	settings *config.Config
	flags    *config.Provider
	adapter  *adapter.Adapter
	db       *policydb.Database
	registry *profile.Registry
	orch     *orchestrator.Orchestrator
	stack    transport.Transport
	powerOn  func()
	scanner  *scan.Scanner
	hub      *notify.Hub
	webhook  *notify.Webhook
	server   *http.Server
}

func newDaemon(c *cli.Config, settings *config.Config) (_ *daemon, err error) {
	d := &daemon{
		settings: settings,
		adapter:  adapter.New(),
		registry: profile.NewRegistry(),
		hub:      notify.NewHub(settings.Notify.QueueSize),
	}
	if c.ConfigFilename != "" {
		if d.flags, err = config.NewFileProvider(c.ConfigFilename); err != nil {
			return nil, err
		}
	} else {
		d.flags = config.NewProvider(settings.Flags)
	}

	secret, err := c.Secret()
	if err != nil {
		return nil, fmt.Errorf("failed to load control secret: %w", err)
	}

	store, err := c.PolicyStore(settings)
	if err != nil {
		return nil, err
	}
	if d.db, err = policydb.New(store, settings.Database.MaxEntries); err != nil {
		return nil, fmt.Errorf("failed to load policy database: %w", err)
	}
	defer func() {
		if err != nil {
			if d.stack != nil {
				d.stack.Close()
			}
			d.db.Close()
		}
	}()

	sinks := notify.NewFanout(notify.LogSink{}, d.hub)
	if settings.Notify.WebhookURL != "" {
		d.webhook = notify.NewWebhook(settings.Notify.WebhookURL, secret, settings.Notify.QueueSize)
		sinks.Add(d.webhook)
	}

	switch settings.Transport.Kind {
	case config.TransportSim:
		stack := sim.New(d.adapter, d.registry, simLatency)
		d.stack = stack
		d.powerOn = stack.PowerOn
	case config.TransportBlueZ:
		if d.stack, err = bluez.Dial(settings.Transport.Adapter, d.adapter, d.registry); err != nil {
			return nil, err
		}
	}
	if c.LEScan {
		if d.scanner, err = scan.New(settings.Transport.Adapter, d.adapter); err != nil {
			return nil, err
		}
	}

	profiles, err := settings.EnabledProfiles()
	if err != nil {
		return nil, err
	}
	timeouts := statemachine.Timeouts{
		Connect:    settings.Timeouts.Connect,
		Disconnect: settings.Timeouts.Disconnect,
	}
	for _, p := range profiles {
		service := profile.New(profile.Options{
			Profile:          p,
			Native:           d.stack.Native(p),
			Adapter:          d.adapter,
			DB:               d.db,
			Sink:             sinks,
			Slots:            slotModes[p],
			RequireActive:    p.IsHearingAid(),
			ManualActivation: p == protocol.ProfileLEAudio,
			Timeouts:         timeouts,
		})
		if err = d.registry.Register(service); err != nil {
			return nil, err
		}
	}

	d.orch = orchestrator.New(orchestrator.Options{
		Services:                  orchestrator.ServicesOf(d.registry),
		DB:                        d.db,
		Adapter:                   d.adapter,
		Flags:                     d.flags,
		ConnectOtherProfilesDelay: settings.Timeouts.ConnectOtherProfiles,
	})
	for _, s := range d.registry.Services() {
		s.AddObserver(d.orch)
	}
	d.adapter.AddObserver(d.registry)
	d.adapter.AddObserver(d.orch)

	if settings.Control.Listen != "" {
		local := control.NewLocal(d.registry, d.adapter, d.orch, d.db)
		d.server = &http.Server{
			Addr:              settings.Control.Listen,
			Handler:           control.New(local, secret, d.hub),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return d, nil
}

func (d *daemon) reload() {
	if err := d.flags.Reload(); err != nil {
		log.Error("Failed to reload policy flags: %s", err)
	}
}

// run blocks until ctx is cancelled or a component fails.
func (d *daemon) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := d.registry.StartAll(ctx); err != nil {
		return err
	}
	if err := d.orch.Start(ctx); err != nil {
		d.registry.StopAll()
		return err
	}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	spawn := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && ctx.Err() == nil {
				errs <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}

	spawn("notifications", func() error { d.hub.Run(ctx); return nil })
	if d.webhook != nil {
		spawn("webhook", func() error { d.webhook.Run(ctx); return nil })
	}
	spawn("transport", func() error { return d.stack.Run(ctx) })
	if d.scanner != nil {
		spawn("scanner", func() error { return d.scanner.Run(ctx) })
	}
	if d.server != nil {
		log.Info("Control API listening on %s", d.server.Addr)
		spawn("control", func() error {
			if err := d.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	if d.powerOn != nil {
		d.powerOn()
	}

	<-ctx.Done()
	d.shutdown()
	wg.Wait()

	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}

func (d *daemon) shutdown() {
	log.Info("Shutting down")
	if d.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := d.server.Shutdown(ctx); err != nil {
			log.Warning("Control API shutdown: %s", err)
		}
	}
	d.orch.Stop()
	d.registry.StopAll()
	if d.scanner != nil {
		d.scanner.Close()
	}
	d.stack.Close()
	if err := d.db.Flush(); err != nil {
		log.Error("Failed to persist policy database: %s", err)
	}
	if path := d.settings.Database.ExportPath; path != "" {
		if err := d.db.ExportToFile(path); err != nil {
			log.Error("Failed to export policy database: %s", err)
		} else {
			log.Info("Exported policy database to %s", path)
		}
	}
	if err := d.db.Close(); err != nil {
		log.Error("Failed to close policy database: %s", err)
	}
}

func isLocalhost(listen string) bool {
	if listen == "" {
		return true
	}
	host, _, err := net.SplitHostPort(listen)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
