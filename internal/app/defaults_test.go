package app

import (
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("respects env overrides", func(t *testing.T) {
		t.Setenv("BMAIL_CONFIG_PATH", "/custom/bmail.toml")
		t.Setenv("BMAIL_HOME", "/custom/data")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if defaults["config_path"] != "/custom/bmail.toml" {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], "/custom/bmail.toml")
		}
		if defaults["base_dir"] != "/custom/data" {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], "/custom/data")
		}
		if defaults["log_dir"] != "/custom/data/log" {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], "/custom/data/log")
		}
	})

	t.Run("falls back to home directory", func(t *testing.T) {
		t.Setenv("BMAIL_CONFIG_PATH", "")
		t.Setenv("BMAIL_HOME", "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if filepath.Base(defaults["config_path"]) != "bmail.toml" {
			t.Errorf("config_path = %q, want a bmail.toml path", defaults["config_path"])
		}
		if filepath.Base(defaults["base_dir"]) != "bmail" {
			t.Errorf("base_dir = %q, want a bmail directory", defaults["base_dir"])
		}
	})
}
