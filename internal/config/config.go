package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the chat core settings, read from ~/.chatcore/config.toml.
type Config struct {
	// ServerURL is the websocket endpoint of the messaging backend.
	ServerURL string `toml:"server_url"`
	// RoomAPIURL is the HTTP base URL for room lifecycle calls.
	RoomAPIURL string `toml:"room_api_url"`

	ConnectTimeout time.Duration `toml:"connect_timeout"`
	FetchTimeout   time.Duration `toml:"fetch_timeout"`
	AckTimeout     time.Duration `toml:"ack_timeout"`

	// TypingWindow is the trailing quiet period after which typing=false
	// is emitted. RemoteTyperExpiry is the safety-net expiry applied to
	// remote typing indicators in case a typing=false frame is lost.
	TypingWindow      time.Duration `toml:"typing_window"`
	RemoteTyperExpiry time.Duration `toml:"remote_typer_expiry"`

	ReconnectMaxAttempts int           `toml:"reconnect_max_attempts"`
	ReconnectBackoff     time.Duration `toml:"reconnect_backoff"`

	// DisconnectOnLastClose tears down the shared transport when the last
	// open session closes. Single-use conversation surfaces (popup chats)
	// set this; persistent inbox surfaces leave it off.
	DisconnectOnLastClose bool `toml:"disconnect_on_last_close"`
}

// Default returns the config used when no file exists.
func Default() *Config {
	return &Config{
		ConnectTimeout:       10 * time.Second,
		FetchTimeout:         10 * time.Second,
		AckTimeout:           15 * time.Second,
		TypingWindow:         time.Second,
		RemoteTyperExpiry:    5 * time.Second,
		ReconnectMaxAttempts: 5,
		ReconnectBackoff:     time.Second,
	}
}

// Load reads config from the given path, applying defaults for zero fields.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

// LoadOrDefault reads config from path, falling back to defaults when the
// file is missing.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return Default()
	}
	return cfg
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = def.AckTimeout
	}
	if cfg.TypingWindow <= 0 {
		cfg.TypingWindow = def.TypingWindow
	}
	if cfg.RemoteTyperExpiry <= 0 {
		cfg.RemoteTyperExpiry = def.RemoteTyperExpiry
	}
	if cfg.ReconnectMaxAttempts <= 0 {
		cfg.ReconnectMaxAttempts = def.ReconnectMaxAttempts
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = def.ReconnectBackoff
	}
}
