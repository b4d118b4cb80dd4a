package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.TypingWindow != time.Second {
		t.Errorf("typing window = %v, want 1s", cfg.TypingWindow)
	}
	if cfg.ReconnectMaxAttempts != 5 {
		t.Errorf("reconnect attempts = %d, want 5", cfg.ReconnectMaxAttempts)
	}
	if cfg.DisconnectOnLastClose {
		t.Error("disconnect on last close should default to off")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	cfg := LoadOrDefault(filepath.Join(t.TempDir(), "missing.toml"))
	if cfg.AckTimeout != Default().AckTimeout {
		t.Errorf("ack timeout = %v, want default %v", cfg.AckTimeout, Default().AckTimeout)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	in := Default()
	in.ServerURL = "wss://chat.example.com/ws"
	in.RoomAPIURL = "https://api.example.com"
	in.AckTimeout = 30 * time.Second
	in.DisconnectOnLastClose = true

	if err := Save(path, in); err != nil {
		t.Fatal(err)
	}

	out, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if out.ServerURL != in.ServerURL || out.RoomAPIURL != in.RoomAPIURL {
		t.Errorf("urls = %q/%q, want %q/%q", out.ServerURL, out.RoomAPIURL, in.ServerURL, in.RoomAPIURL)
	}
	if out.AckTimeout != in.AckTimeout {
		t.Errorf("ack timeout = %v, want %v", out.AckTimeout, in.AckTimeout)
	}
	if !out.DisconnectOnLastClose {
		t.Error("disconnect policy lost in round trip")
	}
}

func TestLoadAppliesDefaultsForZeroFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := Save(path, &Config{ServerURL: "wss://x"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ConnectTimeout != Default().ConnectTimeout {
		t.Errorf("connect timeout = %v, want default", cfg.ConnectTimeout)
	}
}
