package config

import (
	"os"
	"strconv"
)

// Environment variables recognised by ApplyEnv.
const (
	EnvSocket          = "PROCGUARD_SOCKET"
	EnvCapacity        = "PROCGUARD_CAPACITY"
	EnvMonitorInterval = "PROCGUARD_MONITOR_INTERVAL"
	EnvHighWater       = "PROCGUARD_HIGH_WATER"
	EnvHangThreshold   = "PROCGUARD_HANG_THRESHOLD"
	EnvGracePeriod     = "PROCGUARD_GRACE_PERIOD"
)

// ApplyEnv overrides concurrency settings from environment variables.
// Unset, malformed or non-positive values are ignored.
func ApplyEnv(cfg *Config) {
	if path := os.Getenv(EnvSocket); path != "" {
		cfg.SocketPath = path
	}
	if capacity := GetEnvInt(EnvCapacity, 0); capacity > 0 {
		cfg.Capacity = capacity
	}
	if interval := GetEnvInt(EnvMonitorInterval, 0); interval > 0 {
		cfg.MonitorInterval = interval
	}
	if highWater := GetEnvInt(EnvHighWater, 0); highWater > 0 {
		cfg.QueueHighWater = highWater
	}
	if hang := GetEnvInt(EnvHangThreshold, 0); hang > 0 {
		cfg.HangThreshold = hang
	}
	if grace := GetEnvInt(EnvGracePeriod, 0); grace > 0 {
		cfg.GracePeriod = grace
	}
}

// GetEnvInt gets an integer environment variable or returns a default.
func GetEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}
