// Package config loads daemon settings from YAML and serves the policy feature flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslamotors/bluetooth-policy/internal/log"
	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

// Flags gate policy decisions. They are read at every decision point, so a reload takes effect
// on the next event.
type Flags struct {
	// AutoConnectOnPairing connects newly discovered profiles in addition to allowing them.
	AutoConnectOnPairing bool `yaml:"auto_connect_on_pairing"`
	// AutoConnectMultipleHFP connects every recently used headset when the adapter turns on.
	AutoConnectMultipleHFP bool `yaml:"auto_connect_multiple_hfp"`
	// LeAudioEnabledByDefault prefers LE Audio over classic audio on capable devices.
	LeAudioEnabledByDefault bool `yaml:"le_audio_enabled_by_default"`
	// DualModeAudio lets classic and LE Audio profiles stay connected together.
	DualModeAudio bool `yaml:"dual_mode_audio"`
	// BypassLeAudioAllowlist allows LE Audio without waiting for the whole coordinated set.
	BypassLeAudioAllowlist bool `yaml:"bypass_le_audio_allowlist"`
	// QuietMode disables automatic connections when the adapter turns on.
	QuietMode bool `yaml:"quiet_mode"`
}

type TimeoutConfig struct {
	Connect              time.Duration `yaml:"connect"`
	Disconnect           time.Duration `yaml:"disconnect"`
	ConnectOtherProfiles time.Duration `yaml:"connect_other_profiles"`
}

// Database backends and transport kinds.
const (
	BackendMemory  = "memory"
	BackendKeyring = "keyring"
	TransportBlueZ = "bluez"
	TransportSim   = "sim"
)

type DatabaseConfig struct {
	Backend    string `yaml:"backend"` // "memory" or "keyring"
	MaxEntries int    `yaml:"max_entries"`
	ExportPath string `yaml:"export_path"`
}

type TransportConfig struct {
	Kind    string `yaml:"kind"` // "bluez" or "sim"
	Adapter string `yaml:"adapter"`
}

type ControlConfig struct {
	Listen string `yaml:"listen"`
}

type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	QueueSize  int    `yaml:"queue_size"`
}

// Config holds all daemon configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Profiles  []string        `yaml:"profiles"`
	Flags     Flags           `yaml:"flags"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	Database  DatabaseConfig  `yaml:"database"`
	Transport TransportConfig `yaml:"transport"`
	Control   ControlConfig   `yaml:"control"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "btpolicy", "config.yaml")
}

// Default returns a Config with the values used when no file is provided.
func Default() *Config {
	profiles := make([]string, 0, len(protocol.Profiles))
	for _, p := range protocol.Profiles {
		profiles = append(profiles, p.String())
	}
	return &Config{
		LogLevel: "info",
		Profiles: profiles,
		Timeouts: TimeoutConfig{
			Connect:              30 * time.Second,
			Disconnect:           30 * time.Second,
			ConnectOtherProfiles: 6 * time.Second,
		},
		Database: DatabaseConfig{
			Backend:    BackendKeyring,
			MaxEntries: 100,
		},
		Transport: TransportConfig{
			Kind:    TransportBlueZ,
			Adapter: "hci0",
		},
		Control: ControlConfig{
			Listen: "127.0.0.1:4480",
		},
		Notify: NotifyConfig{
			QueueSize: 256,
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Database.ExportPath = expandTilde(cfg.Database.ExportPath)
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if len(c.Profiles) == 0 {
		return fmt.Errorf("profiles must not be empty")
	}
	if _, err := c.EnabledProfiles(); err != nil {
		return err
	}
	if c.Timeouts.Connect <= 0 || c.Timeouts.Disconnect <= 0 {
		return fmt.Errorf("timeouts.connect and timeouts.disconnect must be > 0")
	}
	if c.Timeouts.ConnectOtherProfiles < 0 {
		return fmt.Errorf("timeouts.connect_other_profiles must not be negative")
	}
	switch c.Database.Backend {
	case BackendMemory, BackendKeyring:
	default:
		return fmt.Errorf("database.backend must be \"memory\" or \"keyring\", got %q", c.Database.Backend)
	}
	if c.Database.MaxEntries < 0 {
		return fmt.Errorf("database.max_entries must not be negative")
	}
	switch c.Transport.Kind {
	case TransportBlueZ, TransportSim:
	default:
		return fmt.Errorf("transport.kind must be \"bluez\" or \"sim\", got %q", c.Transport.Kind)
	}
	if c.Notify.WebhookURL != "" && !strings.HasPrefix(c.Notify.WebhookURL, "http") {
		return fmt.Errorf("notify.webhook_url must be an http(s) URL, got %q", c.Notify.WebhookURL)
	}
	return nil
}

// EnabledProfiles parses Profiles.
func (c *Config) EnabledProfiles() ([]protocol.Profile, error) {
	profiles := make([]protocol.Profile, 0, len(c.Profiles))
	seen := make(map[protocol.Profile]bool)
	for _, name := range c.Profiles {
		p, err := protocol.ParseProfile(name)
		if err != nil {
			return nil, fmt.Errorf("profiles: %w", err)
		}
		if !seen[p] {
			seen[p] = true
			profiles = append(profiles, p)
		}
	}
	return profiles, nil
}

func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// Provider serves the current Flags. It is safe for concurrent use.
type Provider struct {
	flags atomic.Pointer[Flags]
	path  string
}

func NewProvider(flags Flags) *Provider {
	p := &Provider{}
	p.Set(flags)
	return p
}

// NewFileProvider serves the flags from the config file at path. Reload re-reads it.
func NewFileProvider(path string) (*Provider, error) {
	p := &Provider{path: path}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) Flags() Flags {
	return *p.flags.Load()
}

func (p *Provider) Set(flags Flags) {
	p.flags.Store(&flags)
}

// Reload re-reads the flags from the provider's file. The previous flags stay in effect on error.
func (p *Provider) Reload() error {
	if p.path == "" {
		return nil
	}
	cfg, err := Load(p.path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.Set(cfg.Flags)
	log.Info("Loaded policy flags from %s", p.path)
	return nil
}
