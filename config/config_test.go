package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Namespace != "bikelink" {
		t.Errorf("Namespace = %q, want bikelink", cfg.Namespace)
	}
	if cfg.PollRate != 30*time.Second {
		t.Errorf("PollRate = %v, want 30s", cfg.PollRate)
	}
	if !cfg.Web.Enabled || cfg.Web.Port != 8090 {
		t.Errorf("Web defaults wrong: %+v", cfg.Web)
	}

	// Defaults should have been written back for the user to edit.
	if _, err := os.Stat(path); err != nil {
		t.Errorf("defaults not saved: %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Namespace = "workshop"
	cfg.PollRate = 10 * time.Second
	cfg.AddDevice(DeviceConfig{
		Name:      "bench",
		Enabled:   true,
		Transport: "tcp",
		Address:   "10.0.0.5:7700",
		Scope:     "extended",
	})
	cfg.MQTT = append(cfg.MQTT, MQTTConfig{
		Name:     "local",
		Enabled:  true,
		Broker:   "localhost",
		Port:     1883,
		ClientID: "bikelink-test",
		Selector: "bench",
	})

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Namespace != "workshop" {
		t.Errorf("Namespace = %q", loaded.Namespace)
	}
	if loaded.PollRate != 10*time.Second {
		t.Errorf("PollRate = %v", loaded.PollRate)
	}
	dev := loaded.FindDevice("bench")
	if dev == nil {
		t.Fatal("device lost in round trip")
	}
	if dev.Transport != "tcp" || dev.Address != "10.0.0.5:7700" || dev.Scope != "extended" {
		t.Errorf("device fields wrong: %+v", dev)
	}
	if len(loaded.MQTT) != 1 || loaded.MQTT[0].Selector != "bench" {
		t.Errorf("mqtt config wrong: %+v", loaded.MQTT)
	}
}

func TestLockUnlockAndSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()

	cfg.Lock()
	cfg.Namespace = "locked-edit"
	if err := cfg.UnlockAndSave(path); err != nil {
		t.Fatalf("UnlockAndSave: %v", err)
	}

	// Lock must be free again.
	cfg.Lock()
	cfg.Unlock()

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Namespace != "locked-edit" {
		t.Errorf("Namespace = %q", loaded.Namespace)
	}
}

func TestFindAddRemoveDevice(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AddDevice(DeviceConfig{Name: "a"})
	cfg.AddDevice(DeviceConfig{Name: "b"})

	if cfg.FindDevice("a") == nil || cfg.FindDevice("b") == nil {
		t.Fatal("added devices not found")
	}
	if cfg.FindDevice("c") != nil {
		t.Error("FindDevice invented a device")
	}

	if !cfg.RemoveDevice("a") {
		t.Error("RemoveDevice returned false for existing device")
	}
	if cfg.FindDevice("a") != nil {
		t.Error("device still present after removal")
	}
	if cfg.RemoveDevice("a") {
		t.Error("RemoveDevice returned true for missing device")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults pass", func(c *Config) {}, false},
		{"hid device", func(c *Config) {
			c.AddDevice(DeviceConfig{Name: "d1", Transport: "hid"})
		}, false},
		{"empty transport defaults to hid", func(c *Config) {
			c.AddDevice(DeviceConfig{Name: "d1"})
		}, false},
		{"tcp with address", func(c *Config) {
			c.AddDevice(DeviceConfig{Name: "d1", Transport: "tcp", Address: "host:7700"})
		}, false},
		{"tcp without address", func(c *Config) {
			c.AddDevice(DeviceConfig{Name: "d1", Transport: "tcp"})
		}, true},
		{"unknown transport", func(c *Config) {
			c.AddDevice(DeviceConfig{Name: "d1", Transport: "serial"})
		}, true},
		{"empty device name", func(c *Config) {
			c.AddDevice(DeviceConfig{})
		}, true},
		{"duplicate device names", func(c *Config) {
			c.AddDevice(DeviceConfig{Name: "d1"})
			c.AddDevice(DeviceConfig{Name: "d1"})
		}, true},
		{"bad namespace", func(c *Config) {
			c.Namespace = "has spaces"
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("Validate should have failed")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate: %v", err)
			}
		})
	}
}

func TestIsValidNamespace(t *testing.T) {
	valid := []string{"bikelink", "shop-1", "a_b.c", "X9"}
	for _, ns := range valid {
		if !IsValidNamespace(ns) {
			t.Errorf("IsValidNamespace(%q) = false, want true", ns)
		}
	}
	invalid := []string{"", "has space", "slash/ns", "colon:ns", "emoji☂"}
	for _, ns := range invalid {
		if IsValidNamespace(ns) {
			t.Errorf("IsValidNamespace(%q) = true, want false", ns)
		}
	}
}
