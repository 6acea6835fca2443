package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		User: UserConfig{
			Handle:      "alice.test",
			DID:         "did:plc:alice",
			AppPassword: "abcd-efgh-ijkl-mnop",
		},
		Service: ServiceConfig{
			PDSURL:      "https://pds.example.com",
			FirehoseURL: "wss://firehose.example.com/subscribe",
		},
		Key: KeyConfig{
			Path:                "/home/user/.local/share/bmail/keys/bmail.key",
			PassphraseProtected: true,
		},
		Cache:  CacheConfig{Type: "sqlite", DataDir: "/home/user/.local/share/bmail/cache", TTLMinutes: 30},
		LogDir: "/home/user/.local/share/bmail/log",
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.User.Handle != original.User.Handle {
		t.Errorf("User.Handle = %q, want %q", got.User.Handle, original.User.Handle)
	}
	if got.User.DID != original.User.DID {
		t.Errorf("User.DID = %q, want %q", got.User.DID, original.User.DID)
	}
	if got.User.AppPassword != original.User.AppPassword {
		t.Errorf("User.AppPassword = %q, want %q", got.User.AppPassword, original.User.AppPassword)
	}
	if got.Service.PDSURL != original.Service.PDSURL {
		t.Errorf("Service.PDSURL = %q, want %q", got.Service.PDSURL, original.Service.PDSURL)
	}
	if got.Service.FirehoseURL != original.Service.FirehoseURL {
		t.Errorf("Service.FirehoseURL = %q, want %q", got.Service.FirehoseURL, original.Service.FirehoseURL)
	}
	if got.Key.Path != original.Key.Path {
		t.Errorf("Key.Path = %q, want %q", got.Key.Path, original.Key.Path)
	}
	if !got.Key.PassphraseProtected {
		t.Error("Key.PassphraseProtected = false, want true")
	}
	if got.Cache.Type != "sqlite" {
		t.Errorf("Cache.Type = %q, want %q", got.Cache.Type, "sqlite")
	}
	if got.Cache.TTLMinutes != 30 {
		t.Errorf("Cache.TTLMinutes = %d, want %d", got.Cache.TTLMinutes, 30)
	}
	if got.LogDir != original.LogDir {
		t.Errorf("LogDir = %q, want %q", got.LogDir, original.LogDir)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("alice.test", "/data/bmail")

	if cfg.User.Handle != "alice.test" {
		t.Errorf("User.Handle = %q, want %q", cfg.User.Handle, "alice.test")
	}
	if cfg.Service.PDSURL != "https://bsky.social" {
		t.Errorf("Service.PDSURL = %q, want %q", cfg.Service.PDSURL, "https://bsky.social")
	}
	if cfg.Service.FirehoseURL == "" {
		t.Error("Service.FirehoseURL is empty")
	}
	if cfg.Key.Path != "/data/bmail/keys/bmail.key" {
		t.Errorf("Key.Path = %q, want %q", cfg.Key.Path, "/data/bmail/keys/bmail.key")
	}
	if cfg.Cache.Type != "sqlite" {
		t.Errorf("Cache.Type = %q, want %q", cfg.Cache.Type, "sqlite")
	}
	if cfg.Cache.TTLMinutes != 60 {
		t.Errorf("Cache.TTLMinutes = %d, want %d", cfg.Cache.TTLMinutes, 60)
	}
	if cfg.LogDir != "/data/bmail/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/bmail/log")
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "bmail.toml")
		cfg := NewConfig("alice.test", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "bmail.toml")
		cfg := NewConfig("alice.test", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "bmail.toml")
		cfg := NewConfig("read-test.example", dir)
		cfg.Cache = CacheConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.User.Handle != "read-test.example" {
			t.Errorf("User.Handle = %q, want %q", got.User.Handle, "read-test.example")
		}
		if got.Cache.Type != "memory" {
			t.Errorf("Cache.Type = %q, want %q", got.Cache.Type, "memory")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/bmail.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
