package config

import (
	"encoding/json"
	"os"
	"testing"
)

// TestConfigExampleFile tests that config.example.json is valid and matches code defaults
func TestConfigExampleFile(t *testing.T) {
	// Load example config file
	data, err := os.ReadFile("config.example.json")
	if err != nil {
		t.Fatalf("Failed to read config.example.json: %v", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("Failed to parse config.example.json: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("config.example.json is invalid: %v", err)
	}

	defaults := DefaultConfig()
	if cfg.SocketPath != defaults.SocketPath {
		t.Errorf("SocketPath mismatch: got %s, want %s", cfg.SocketPath, defaults.SocketPath)
	}
	if cfg.Capacity != defaults.Capacity {
		t.Errorf("Capacity mismatch: got %d, want %d", cfg.Capacity, defaults.Capacity)
	}
	if cfg.QueueHighWater != defaults.QueueHighWater {
		t.Errorf("QueueHighWater mismatch: got %d, want %d", cfg.QueueHighWater, defaults.QueueHighWater)
	}
	if cfg.MonitorInterval != defaults.MonitorInterval {
		t.Errorf("MonitorInterval mismatch: got %d, want %d", cfg.MonitorInterval, defaults.MonitorInterval)
	}
	if cfg.HangThreshold != defaults.HangThreshold {
		t.Errorf("HangThreshold mismatch: got %d, want %d", cfg.HangThreshold, defaults.HangThreshold)
	}
	if cfg.GracePeriod != defaults.GracePeriod {
		t.Errorf("GracePeriod mismatch: got %d, want %d", cfg.GracePeriod, defaults.GracePeriod)
	}

	// Verify log config
	if cfg.Log == nil {
		t.Fatal("Log config should not be nil")
	}
	if cfg.Log.Level != defaults.Log.Level {
		t.Errorf("Log level mismatch: got %s, want %s", cfg.Log.Level, defaults.Log.Level)
	}

	// Verify profiles match the built-in ones
	if len(cfg.Profiles) != len(defaults.Profiles) {
		t.Fatalf("Profile count mismatch: got %d, want %d", len(cfg.Profiles), len(defaults.Profiles))
	}
	for name, want := range defaults.Profiles {
		got, ok := cfg.Profiles[name]
		if !ok {
			t.Errorf("Profile %s missing from example", name)
			continue
		}
		if got != want {
			t.Errorf("Profile %s mismatch: got %+v, want %+v", name, got, want)
		}
	}
}
