package cli

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/99designs/keyring"
	"golang.org/x/term"
)

const (
	keyringServiceName   = "com.teslamotors.btpolicy"
	keyringSecretService = "controlSecret"
	keyringDirectory     = "~/.btpolicy_keys"
	secretLength         = 32
)

type backendType struct {
	config *Config
}

func (b backendType) String() string {
	if b.config == nil || len(b.config.Backend.AllowedBackends) == 0 {
		return string(keyring.InvalidBackend)
	}
	return string(b.config.Backend.AllowedBackends[0])
}

func (b backendType) Set(v string) error {
	value := keyring.BackendType(v)
	if b.config == nil {
		return fmt.Errorf("invalid backendType")
	}
	if v == "" {
		return nil
	}
	for _, name := range keyring.AvailableBackends() {
		if name == value {
			b.config.Backend.AllowedBackends = []keyring.BackendType{name}
			return nil
		}
	}
	return fmt.Errorf("unsupported credential storage")
}

func (c *Config) getPassword(prompt string) (string, error) {
	if c.password != nil && *c.password != "" {
		return *c.password, nil
	}

	var w io.Writer
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		fd = int(os.Stderr.Fd())
		if !term.IsTerminal(fd) {
			return "", fmt.Errorf("no terminal output available for password prompt")
		}
		w = os.Stderr
	} else {
		w = os.Stdout
	}

	fmt.Fprintf(w, "%s: ", prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	fmt.Fprintln(w)
	password := string(b)
	c.password = &password
	return password, nil
}

func (c *Config) openKeyring() (keyring.Keyring, error) {
	return keyring.Open(c.Backend)
}

func (c *Config) fullSecretName() string {
	return keyringSecretService + "." + c.SecretName
}

// LoadSecret reads the control API signing secret from the system keyring.
func (c *Config) LoadSecret() ([]byte, error) {
	if c.SecretName == "" {
		return nil, ErrNoSecretName
	}
	kr, err := c.openKeyring()
	if err != nil {
		return nil, err
	}
	item, err := kr.Get(c.fullSecretName())
	if err != nil {
		return nil, fmt.Errorf("could not load secret: %w", err)
	}
	return item.Data, nil
}

// SaveSecret writes the control API signing secret to the system keyring.
func (c *Config) SaveSecret(secret []byte) error {
	if c.SecretName == "" {
		return ErrNoSecretName
	}
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}
	if err := kr.Set(keyring.Item{
		Key:   c.fullSecretName(),
		Label: "btpolicy control API secret",
		Data:  secret,
	}); err != nil {
		return fmt.Errorf("failed to enroll secret in keyring: %w", err)
	}
	return nil
}

// Secret returns the control API signing secret, generating and saving one on first use.
func (c *Config) Secret() ([]byte, error) {
	secret, err := c.LoadSecret()
	if err == nil {
		return secret, nil
	}
	if !errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, err
	}
	secret = make([]byte, secretLength)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	if err := c.SaveSecret(secret); err != nil {
		return nil, err
	}
	return secret, nil
}

// DeleteSecret removes the control API signing secret from the system keyring.
func (c *Config) DeleteSecret() error {
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}
	return kr.Remove(c.fullSecretName())
}
