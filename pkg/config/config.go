package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tiancaiamao/procguard/pkg/logger"
)

// Config represents the daemon configuration.
type Config struct {
	// Control socket
	SocketPath string `json:"socketPath" yaml:"socketPath"`

	// Admission
	Capacity       int `json:"capacity" yaml:"capacity"`             // Maximum concurrently admitted processes
	QueueHighWater int `json:"queueHighWater" yaml:"queueHighWater"` // Queue depth that triggers scans and throttling

	// Hang monitor, in seconds
	MonitorInterval int `json:"monitorInterval" yaml:"monitorInterval"`
	HangThreshold   int `json:"hangThreshold" yaml:"hangThreshold"`

	// Escalation grace period in seconds
	GracePeriod int `json:"gracePeriod" yaml:"gracePeriod"`

	// Optional surfaces (empty = disabled)
	HTTPAddr    string `json:"httpAddr,omitempty" yaml:"httpAddr,omitempty"`
	HangWebhook string `json:"hangWebhook,omitempty" yaml:"hangWebhook,omitempty"`

	// Logging configuration
	Log *LogConfig `json:"log,omitempty" yaml:"log,omitempty"`

	// Resource profiles applied by spawning clients
	Profiles map[string]Profile `json:"profiles,omitempty" yaml:"profiles,omitempty"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`   // Log level: debug, info, warn, error
	File   string `json:"file,omitempty" yaml:"file,omitempty"`     // Log file path (empty = no file logging)
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"` // Service name attached to every record
}

// DefaultConfig returns the default daemon configuration.
func DefaultConfig() *Config {
	return &Config{
		SocketPath:      "/tmp/procguard.sock",
		Capacity:        200,
		QueueHighWater:  1000,
		MonitorInterval: 5,
		HangThreshold:   120,
		GracePeriod:     2,
		Log:             DefaultLogConfig(),
		Profiles:        DefaultProfiles(),
	}
}

// DefaultLogConfig returns default logging configuration.
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:  "info",
		Prefix: "procguard",
	}
}

// CreateLogger creates a logger from the log configuration.
func (c *LogConfig) CreateLogger() (*logger.Logger, error) {
	if c == nil {
		c = DefaultLogConfig()
	}

	cfg := &logger.Config{
		Level:    logger.ParseLogLevel(c.Level),
		Prefix:   c.Prefix,
		Console:  true,
		File:     c.File != "",
		FilePath: c.File,
	}

	return logger.NewLogger(cfg)
}

// MonitorIntervalDuration returns the monitor tick interval.
func (c *Config) MonitorIntervalDuration() time.Duration {
	return time.Duration(c.MonitorInterval) * time.Second
}

// HangThresholdDuration returns the age after which a process is reported hung.
func (c *Config) HangThresholdDuration() time.Duration {
	return time.Duration(c.HangThreshold) * time.Second
}

// GracePeriodDuration returns the wait between SIGTERM and SIGKILL.
func (c *Config) GracePeriodDuration() time.Duration {
	return time.Duration(c.GracePeriod) * time.Second
}

// Validate checks that the configuration can start a daemon.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SocketPath) == "" {
		return fmt.Errorf("socketPath must not be empty")
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive, got %d", c.Capacity)
	}
	if c.QueueHighWater < 0 {
		return fmt.Errorf("queueHighWater must be non-negative, got %d", c.QueueHighWater)
	}
	if c.MonitorInterval <= 0 {
		return fmt.Errorf("monitorInterval must be positive, got %d", c.MonitorInterval)
	}
	if c.HangThreshold <= 0 {
		return fmt.Errorf("hangThreshold must be positive, got %d", c.HangThreshold)
	}
	if c.GracePeriod <= 0 {
		return fmt.Errorf("gracePeriod must be positive, got %d", c.GracePeriod)
	}
	for name, p := range c.Profiles {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("profile %q: %w", name, err)
		}
	}
	return nil
}

// LoadConfig loads configuration from file and merges with environment variables.
// Environment variables take precedence over config file values. A missing
// file is not an error. Files ending in .yaml or .yml are parsed as YAML,
// anything else as JSON.
func LoadConfig(configPath string) (*Config, error) {
	// Start with default config
	cfg := DefaultConfig()

	// Load from file if exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}

			// Merge with defaults (file values override defaults)
			if err := unmarshal(configPath, data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Environment variables override config file
	ApplyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves configuration to file.
func SaveConfig(cfg *Config, configPath string) error {
	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := marshal(configPath, cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetDefaultConfigPath returns the default config file path.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, ".procguard", "config.json"), nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func unmarshal(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(data, cfg)
}

func marshal(path string, cfg *Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(cfg)
	}
	return json.MarshalIndent(cfg, "", "  ")
}
