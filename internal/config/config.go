// Package config reads and writes bmail.toml.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the main configuration for bmail.
type Config struct {
	User    UserConfig    `toml:"user"`
	Service ServiceConfig `toml:"service"`
	Key     KeyConfig     `toml:"key"`
	Cache   CacheConfig   `toml:"cache"`
	LogDir  string        `toml:"log_dir"`
}

// UserConfig identifies the local account.
type UserConfig struct {
	Handle      string `toml:"handle"`
	DID         string `toml:"did,omitempty"`
	AppPassword string `toml:"app_password"`
}

// ServiceConfig holds the network endpoints.
type ServiceConfig struct {
	PDSURL      string `toml:"pds_url"`
	FirehoseURL string `toml:"firehose_url"`
}

// KeyConfig holds the local key file settings. When PassphraseProtected is
// set, the CLI prompts for the passphrase; it is never stored in the config.
type KeyConfig struct {
	Path                string `toml:"path"`
	PassphraseProtected bool   `toml:"passphrase_protected"`
}

// CacheConfig configures the public-key cache.
// Tagged union: Type selects the backend, the other fields apply per type.
type CacheConfig struct {
	Type       string `toml:"type"`               // "sqlite" (default) or "memory"
	DataDir    string `toml:"data_dir,omitempty"` // only used for type=sqlite
	TTLMinutes int    `toml:"ttl_minutes"`        // key freshness window; 0 means no expiry
}

// NewConfig creates a Config with defaults rooted at baseDir.
func NewConfig(handle, baseDir string) *Config {
	return &Config{
		User: UserConfig{Handle: handle},
		Service: ServiceConfig{
			PDSURL:      "https://bsky.social",
			FirehoseURL: "wss://jetstream2.us-east.bsky.network/subscribe",
		},
		Key: KeyConfig{
			Path: filepath.Join(baseDir, "keys", "bmail.key"),
		},
		Cache: CacheConfig{
			Type:       "sqlite",
			DataDir:    filepath.Join(baseDir, "cache"),
			TTLMinutes: 60,
		},
		LogDir: filepath.Join(baseDir, "log"),
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Init writes a fresh config file at path. It fails if the file already
// exists so a re-run never clobbers a working setup.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	return WriteToFile(path, cfg)
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// WriteToFile writes a Config to the specified file path, creating parent
// directories as needed.
func WriteToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}
