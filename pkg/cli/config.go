/*
Package cli facilitates building the command-line tools of the policy daemon. It defines a
[Config] type that registers common command-line flags (using the Golang flag package) and
environment variable equivalents, and loads the daemon's YAML configuration with those overrides
applied.

The package uses [keyring]'s platform-agnostic interface for storing sensitive values (the control
API signing secret and, optionally, the policy database itself) in an OS-dependent credential
store.

# Examples

	import flag

	config, err := NewConfig(FlagAll)
	if err != nil {
		panic(err)
	}
	config.RegisterCommandLineFlags() // Adds command-line flags for the config file, keyring, etc.
	flag.Parse()
	config.ReadFromEnvironment()      // Fills in missing fields using environment variables

	settings, err := config.Load()    // Reads the YAML file and applies command-line overrides
	if err != nil {
		panic(err)
	}
	secret, err := config.Secret()    // Prompts for the keyring password if needed
*/
package cli

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/99designs/keyring"

	"github.com/teslamotors/bluetooth-policy/internal/log"
	"github.com/teslamotors/bluetooth-policy/pkg/config"
	"github.com/teslamotors/bluetooth-policy/pkg/policydb"
)

// Environment variable names used by [Config.ReadFromEnvironment] to set common parameters.
const (
	EnvConfigFile     = "BTPOLICY_CONFIG"
	EnvLogLevel       = "BTPOLICY_LOG_LEVEL"
	EnvAdapter        = "BTPOLICY_ADAPTER"
	EnvTransport      = "BTPOLICY_TRANSPORT"
	EnvControlURL     = "BTPOLICY_CONTROL_URL"
	EnvSecretName     = "BTPOLICY_SECRET_NAME"
	EnvKeyringType    = "BTPOLICY_KEYRING_TYPE"
	EnvKeyringPass    = "BTPOLICY_KEYRING_PASSWORD"
	EnvKeyringPath    = "BTPOLICY_KEYRING_PATH"
	EnvKeyringDebug   = "BTPOLICY_KEYRING_DEBUG"
	defaultSecretName = "control"
	defaultControlURL = "http://127.0.0.1:4480"
)

// Flag controls what options should be scanned from the command line and/or environment variables.
type Flag int

func (f Flag) isSet(other Flag) bool {
	return (f & other) == other
}

const (
	FlagConfig  Flag = 1 // Enable config file and log level options.
	FlagKeyring Flag = 2 // Enable keyring options. Required for the control secret and keyring-backed policies.
	FlagStack   Flag = 4 // Enable adapter and transport options.
	FlagControl Flag = 8 // Enable control API client options.
	FlagAll     Flag = FlagConfig | FlagKeyring | FlagStack | FlagControl
)

var (
	ErrNoSecretName = errors.New("control secret name not provided")
	ErrKeyNotFound  = keyring.ErrKeyNotFound
)

// Config fields determine where the daemon reads its settings and secrets from.
type Config struct {
	Flags          Flag // Controls which set of environment variables/CLI flags to use.
	ConfigFilename string
	LogLevel       string
	AdapterName    string // HCI name of the adapter, e.g. hci0.
	TransportKind  string
	ControlURL     string
	SecretName     string // Keyring name of the control API signing secret.
	LEScan         bool   // Fill in LE services from advertisements. Linux only.
	Backend        keyring.Config
	BackendType    backendType
	Debug          bool // Enable keyring debug messages

	password *string
}

func NewConfig(flags Flag) (*Config, error) {
	c := Config{
		Flags: flags,
		Backend: keyring.Config{
			ServiceName:              keyringServiceName,
			KeychainTrustApplication: true,
			KeyCtlScope:              "user",
		},
	}
	c.BackendType = backendType{&c}
	c.Backend.KeychainPasswordFunc = c.getPassword
	c.Backend.FilePasswordFunc = c.getPassword

	return &c, nil
}

// RegisterCommandLineFlags registers c's options with the default flag set.
func (c *Config) RegisterCommandLineFlags() {
	c.RegisterFlags(flag.CommandLine)
}

func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	if c.Flags.isSet(FlagConfig) {
		fs.StringVar(&c.ConfigFilename, "config", "", "Load settings from YAML `file`. Defaults to $BTPOLICY_CONFIG.")
		fs.StringVar(&c.LogLevel, "log-level", "", "Log `level` (none|error|warn|info|debug). Overrides the config file.")
	}
	if c.Flags.isSet(FlagStack) {
		fs.StringVar(&c.TransportKind, "transport", "", "Bluetooth stack `kind` (bluez|sim). Defaults to $BTPOLICY_TRANSPORT.")
		c.registerCommandLineFlagsOsSpecific(fs)
	}
	if c.Flags.isSet(FlagControl) {
		fs.StringVar(&c.ControlURL, "url", "", "Control API base `URL`. Defaults to $BTPOLICY_CONTROL_URL.")
	}
	if c.Flags.isSet(FlagKeyring) {
		var names []string
		for _, name := range keyring.AvailableBackends() {
			names = append(names, string(name))
		}
		sort.Strings(names)
		fs.StringVar(&c.SecretName, "secret-name", "", "System keyring `name` for the control API secret. Defaults to $BTPOLICY_SECRET_NAME.")
		fs.Var(&c.BackendType, "keyring-type", "Keyring `type` ("+strings.Join(names, "|")+"). Defaults to $BTPOLICY_KEYRING_TYPE.")
		fs.StringVar(&c.Backend.FileDir, "keyring-file-dir", "", "keyring `directory` for file-backed keyring types")
		fs.BoolVar(&c.Debug, "keyring-debug", false, "Enable keyring debug logging")
	}
}

// ReadFromEnvironment populates c using environment variables. Values that are already populated
// are not overwritten.
//
// Calling ReadFromEnvironment after flag.Parse() (or other initialization method) will prevent the
// environment from overriding explicit command-line parameters and avoid potentially misleading
// debug log messages.
func (c *Config) ReadFromEnvironment() {
	if c.Flags.isSet(FlagConfig) {
		if c.ConfigFilename == "" {
			c.ConfigFilename = os.Getenv(EnvConfigFile)
			log.Debug("Set config file to '%s'", c.ConfigFilename)
		}
		if c.LogLevel == "" {
			c.LogLevel = os.Getenv(EnvLogLevel)
		}
	}
	if c.Flags.isSet(FlagStack) {
		if c.AdapterName == "" {
			c.AdapterName = os.Getenv(EnvAdapter)
		}
		if c.TransportKind == "" {
			c.TransportKind = os.Getenv(EnvTransport)
		}
	}
	if c.Flags.isSet(FlagControl) {
		if c.ControlURL == "" {
			c.ControlURL = os.Getenv(EnvControlURL)
		}
		if c.ControlURL == "" {
			c.ControlURL = defaultControlURL
		}
		log.Debug("Set control URL to '%s'", c.ControlURL)
	}
	if c.Flags.isSet(FlagKeyring) {
		if c.SecretName == "" {
			c.SecretName = os.Getenv(EnvSecretName)
		}
		if c.SecretName == "" {
			c.SecretName = defaultSecretName
		}
		if c.BackendType.String() == string(keyring.InvalidBackend) {
			if err := c.BackendType.Set(os.Getenv(EnvKeyringType)); err == nil {
				log.Debug("Set keyring type to '%s'", c.BackendType)
			}
		}
		if c.password == nil {
			password := os.Getenv(EnvKeyringPass)
			c.password = &password
			if len(password) > 0 {
				log.Debug("Set keyring File Password to %s", strings.Repeat("*", len("hunter2")))
			}
		}
		if c.Backend.FileDir == "" {
			c.Backend.FileDir = os.Getenv(EnvKeyringPath)
		}
		if c.Backend.FileDir == "" {
			c.Backend.FileDir = keyringDirectory
		}
		log.Debug("Set keyring File Path to '%s'", c.Backend.FileDir)
		if !c.Debug {
			_, c.Debug = os.LookupEnv(EnvKeyringDebug)
			log.Debug("Set keyring Debug Logging to '%v'", c.Debug)
		}
		keyring.Debug = c.Debug
	}
}

// Load reads the configuration file, if any, and applies command-line and environment overrides.
// A missing file named by the default path yields the default configuration.
func (c *Config) Load() (*config.Config, error) {
	var settings *config.Config
	var err error
	if c.ConfigFilename != "" {
		settings, err = config.Load(c.ConfigFilename)
	} else {
		settings, err = config.Load(config.DefaultConfigPath())
		if errors.Is(err, os.ErrNotExist) {
			settings, err = config.Default(), nil
		}
	}
	if err != nil {
		return nil, err
	}
	if c.LogLevel != "" {
		settings.LogLevel = c.LogLevel
	}
	if c.AdapterName != "" {
		settings.Transport.Adapter = c.AdapterName
	}
	if c.TransportKind != "" {
		settings.Transport.Kind = c.TransportKind
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return settings, nil
}

// PolicyStore returns the persistence backend named by settings.
func (c *Config) PolicyStore(settings *config.Config) (policydb.Store, error) {
	switch settings.Database.Backend {
	case config.BackendMemory:
		return policydb.NewMemoryStore(), nil
	case config.BackendKeyring:
		kr, err := c.openKeyring()
		if err != nil {
			return nil, fmt.Errorf("failed to open keyring: %w", err)
		}
		return policydb.NewKeyringStore(kr), nil
	}
	return nil, fmt.Errorf("unknown database backend '%s'", settings.Database.Backend)
}
