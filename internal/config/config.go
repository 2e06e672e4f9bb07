// Package config loads the TOML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bryan-buckman/feedsync/internal/model"
)

// Defaults
const (
	DefaultDriver  = "sqlite"
	DefaultDSN     = "feedsync.db"
	DefaultListen  = ":8080"
	DefaultTimeout = 30 * time.Second
)

// TomlDatabase selects the store.
type TomlDatabase struct {
	Driver string `toml:"driver"` // "sqlite" or "postgres"
	DSN    string `toml:"dsn"`    // file path for sqlite, postgres:// URL otherwise
}

// TomlAccount is an account synced by the engine.
type TomlAccount struct {
	Name        string `toml:"name"`
	Type        string `toml:"type"`
	URL         string `toml:"url,omitempty"`
	Login       string `toml:"login,omitempty"`
	Password    string `toml:"password,omitempty"`
	PasswordEnv string `toml:"password_env,omitempty"` // read the password from this variable
}

// TomlConfig represents the top-level configuration
type TomlConfig struct {
	Database        TomlDatabase  `toml:"database"`
	Listen          string        `toml:"listen"`
	LogLevel        string        `toml:"log_level"`
	Workers         int           `toml:"workers"`
	PollingInterval int           `toml:"polling_interval_minutes"`
	Timeout         string        `toml:"request_timeout"`
	Accounts        []TomlAccount `toml:"accounts"`
}

// Default returns the configuration used without a file.
func Default() *TomlConfig {
	return &TomlConfig{
		Database: TomlDatabase{Driver: DefaultDriver, DSN: DefaultDSN},
		Listen:   DefaultListen,
		LogLevel: "info",
	}
}

// LoadConfig reads the file at path over the defaults. An empty path gives
// the defaults.
func LoadConfig(path string) (*TomlConfig, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return config, nil
}

// Validate checks the accounts and the timeout.
func (c *TomlConfig) Validate() error {
	var errs []error
	if _, err := c.RequestTimeout(); err != nil {
		errs = append(errs, err)
	}
	seen := make(map[string]bool)
	for i, a := range c.Accounts {
		switch {
		case a.Name == "":
			errs = append(errs, fmt.Errorf("account %d: missing name", i))
		case seen[a.Name]:
			errs = append(errs, fmt.Errorf("account %q: duplicate name", a.Name))
		}
		seen[a.Name] = true

		typ := model.AccountType(a.Type)
		if !typ.Valid() {
			errs = append(errs, fmt.Errorf("account %q: unknown type %q", a.Name, a.Type))
			continue
		}
		if typ != model.AccountLocal && a.URL == "" {
			errs = append(errs, fmt.Errorf("account %q: missing url", a.Name))
		}
	}
	return errors.Join(errs...)
}

// RequestTimeout is the timeout of outgoing HTTP requests.
func (c *TomlConfig) RequestTimeout() (time.Duration, error) {
	if c.Timeout == "" {
		return DefaultTimeout, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("request_timeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("request_timeout: must be positive, got %s", d)
	}
	return d, nil
}

// Account converts a to the stored account, resolving PasswordEnv.
func (a TomlAccount) Account() model.Account {
	password := a.Password
	if a.PasswordEnv != "" {
		password = os.Getenv(a.PasswordEnv)
	}
	return model.Account{
		Name:     a.Name,
		Type:     model.AccountType(a.Type),
		URL:      a.URL,
		Login:    a.Login,
		Password: password,
	}
}
