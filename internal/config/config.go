// Package config reads and edits the managed server's YAML configuration.
// The agent owns exactly two concerns in that file: the listen port it must
// reclaim and probe, and the remote-management secret-key it regenerates on
// every (re)start so its own requests authenticate.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DefaultPort is the managed server's listen port when the config omits one.
const DefaultPort = 8317

// ErrMissing is returned when the configuration file does not exist.
var ErrMissing = errors.New("configuration file does not exist")

// Settings is the subset of the managed server's configuration the agent
// needs to operate.
type Settings struct {
	Port      int
	AuthDir   string
	SecretKey string
}

// Manager reads and writes one configuration file.
type Manager struct {
	path string
}

func New(path string) *Manager { return &Manager{path: path} }

// Path returns the configuration file path.
func (m *Manager) Path() string { return m.path }

// Exists reports whether the configuration file is present.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Load parses the configuration. Returns ErrMissing when the file is absent.
func (m *Manager) Load() (Settings, error) {
	if !m.Exists() {
		return Settings{}, ErrMissing
	}
	v := viper.New()
	v.SetConfigFile(m.path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return Settings{}, fmt.Errorf("read config %s: %w", m.path, err)
	}
	s := Settings{
		Port:      v.GetInt("port"),
		AuthDir:   v.GetString("auth-dir"),
		SecretKey: v.GetString("remote-management.secret-key"),
	}
	if s.Port <= 0 {
		s.Port = DefaultPort
	}
	return s, nil
}

// Port returns the configured listen port, or DefaultPort when the config is
// missing or silent. A missing config is not an error here; callers that
// require the file use Load.
func (m *Manager) Port() int {
	s, err := m.Load()
	if err != nil {
		return DefaultPort
	}
	return s.Port
}

// SetSecretKey persists key into the remote-management section, creating the
// file and section as needed. The managed server authenticates bearer tokens
// against this value, so it must be written before the process launches.
func (m *Manager) SetSecretKey(key string) error {
	v := viper.New()
	v.SetConfigFile(m.path)
	v.SetConfigType("yaml")
	if m.Exists() {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", m.path, err)
		}
	} else if err := os.MkdirAll(filepath.Dir(m.path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	v.Set("remote-management.secret-key", key)
	if err := v.WriteConfigAs(m.path); err != nil {
		return fmt.Errorf("write config %s: %w", m.path, err)
	}
	return nil
}

// NeedsSecretKey reports whether the config lacks a usable secret-key.
func (m *Manager) NeedsSecretKey() (bool, string) {
	s, err := m.Load()
	if err != nil {
		return true, "configuration file missing"
	}
	if strings.TrimSpace(s.SecretKey) == "" {
		return true, "missing secret-key"
	}
	return false, ""
}

// EnsureFromExample seeds the config from config.example.yaml inside the
// installed version directory when no config exists yet. A present config is
// never touched.
func (m *Manager) EnsureFromExample(versionDir string) error {
	if m.Exists() {
		return nil
	}
	example := filepath.Join(versionDir, "config.example.yaml")
	data, err := os.ReadFile(example)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read example config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		return fmt.Errorf("seed config: %w", err)
	}
	return nil
}

// ResolvePath expands a config-relative or ~-prefixed path. Relative paths
// are resolved against the config file's directory, matching the managed
// server's own resolution rules.
func (m *Manager) ResolvePath(input string) string {
	if input == "" {
		return ""
	}
	if strings.HasPrefix(input, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			if input == "~" {
				return home
			}
			return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(input, "~"), "/"))
		}
	}
	if filepath.IsAbs(input) {
		return input
	}
	return filepath.Join(filepath.Dir(m.path), input)
}
