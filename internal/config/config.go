package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything tether consumes from the outside: the remote
// root, the project audience, and the connection endpoints. Persisted in
// ~/.tether/tether.yaml; TETHER_* environment variables override.
type Config struct {
	// Relay connection (client side).
	RelayURL   string `yaml:"relay_url,omitempty"`   // e.g. "http://workstation:8600"
	ChannelURL string `yaml:"channel_url,omitempty"` // e.g. "ws://workstation:8600/ws"
	TokenPath  string `yaml:"token_path,omitempty"`  // file holding the bearer token

	// Project identity.
	Audience string `yaml:"audience,omitempty"`

	// Sync surface.
	RemoteRoot   string   `yaml:"remote_root,omitempty"` // e.g. "/workspace"
	WatchDir     string   `yaml:"watch_dir,omitempty"`   // local tree to mirror
	Ignore       []string `yaml:"ignore,omitempty"`      // relative prefixes to skip
	AutoSync     string   `yaml:"auto_sync,omitempty"`   // drain interval, e.g. "5s"; empty = manual
	MirrorDelete bool     `yaml:"mirror_delete,omitempty"`

	// Relay server side.
	ListenAddr   string `yaml:"listen_addr,omitempty"`
	ExecEndpoint string `yaml:"exec_endpoint,omitempty"` // execution surface RPC; empty = local exec
	Shell        string `yaml:"shell,omitempty"`
	JWTSecret    string `yaml:"jwt_secret,omitempty"` // base64; TETHER_JWT_SECRET overrides

	// Workstation lifecycle API (optional).
	LifecycleURL  string `yaml:"lifecycle_url,omitempty"`
	WorkstationID string `yaml:"workstation_id,omitempty"`

	// Reconnect policy.
	ReconnectBase string `yaml:"reconnect_base,omitempty"` // e.g. "1s"
	ReconnectMax  string `yaml:"reconnect_max,omitempty"`  // e.g. "30s"
	MaxReconnects int    `yaml:"max_reconnects,omitempty"`

	// Ambient.
	LogLevel    string `yaml:"log_level,omitempty"`
	JournalPath string `yaml:"journal_path,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		RelayURL:      "http://localhost:8600",
		ChannelURL:    "ws://localhost:8600/ws",
		Audience:      "tether",
		RemoteRoot:    "/workspace",
		Ignore:        []string{".git", "node_modules", ".tether"},
		ListenAddr:    ":8600",
		ReconnectBase: "1s",
		ReconnectMax:  "30s",
		MaxReconnects: 8,
		LogLevel:      "info",
	}
}

// Duration parses a duration field, falling back when empty or malformed.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Dir returns the tether config directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, ".tether"), nil
}

// Load reads the config file if present, layering defaults underneath and
// environment overrides on top.
func Load() (*Config, error) {
	cfg := Default()

	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "tether.yaml")

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv()

	if cfg.JournalPath == "" {
		cfg.JournalPath = filepath.Join(dir, "journal.db")
	}
	if cfg.TokenPath == "" {
		cfg.TokenPath = filepath.Join(dir, "token")
	}
	return cfg, nil
}

// Save writes the config file, creating the directory as needed.
func (c *Config) Save() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "tether.yaml"), data, 0o600)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TETHER_RELAY_URL"); v != "" {
		c.RelayURL = v
	}
	if v := os.Getenv("TETHER_CHANNEL_URL"); v != "" {
		c.ChannelURL = v
	}
	if v := os.Getenv("TETHER_AUDIENCE"); v != "" {
		c.Audience = v
	}
	if v := os.Getenv("TETHER_REMOTE_ROOT"); v != "" {
		c.RemoteRoot = v
	}
	if v := os.Getenv("TETHER_JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv("TETHER_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("TETHER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Token reads the bearer token from TokenPath. TETHER_TOKEN overrides.
func (c *Config) Token() (string, error) {
	if v := os.Getenv("TETHER_TOKEN"); v != "" {
		return v, nil
	}
	data, err := os.ReadFile(c.TokenPath)
	if err != nil {
		return "", fmt.Errorf("read token %s: %w", c.TokenPath, err)
	}
	return string(trimNewline(data)), nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
