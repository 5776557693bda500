package config

import (
	"fmt"
	"sort"

	"github.com/tiancaiamao/procguard/pkg/proc"
)

// Built-in profile names.
const (
	ProfileYolt   = "yolt"
	ProfileAirbag = "airbag"
)

// Profile is a named set of resource ceilings for spawned children.
// The daemon does not enforce profiles; the spawning client does.
type Profile struct {
	MaxMemMB    uint64 `json:"maxMemMB" yaml:"maxMemMB"`
	MaxProcs    uint64 `json:"maxProcs" yaml:"maxProcs"`
	CPULimitSec uint64 `json:"cpuLimitSec" yaml:"cpuLimitSec"`
	Nice        int    `json:"nice" yaml:"nice"`
}

// DefaultProfiles returns the high-throughput and conservative profiles.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		ProfileYolt: {
			MaxMemMB:    4096,
			MaxProcs:    50,
			CPULimitSec: 1800,
			Nice:        10,
		},
		ProfileAirbag: {
			MaxMemMB:    2048,
			MaxProcs:    20,
			CPULimitSec: 300,
			Nice:        15,
		},
	}
}

// Validate checks the profile values.
func (p Profile) Validate() error {
	if p.Nice < -20 || p.Nice > 19 {
		return fmt.Errorf("nice value must be between -20 and 19, got %d", p.Nice)
	}
	return nil
}

// Limits converts the profile for proc.ApplyLimits.
func (p Profile) Limits() proc.Limits {
	return proc.Limits{
		MaxMemMB:    p.MaxMemMB,
		MaxProcs:    p.MaxProcs,
		CPULimitSec: p.CPULimitSec,
		Nice:        p.Nice,
	}
}

// Profile looks up a profile by name.
func (c *Config) Profile(name string) (Profile, error) {
	p, ok := c.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q", name)
	}
	return p, nil
}

// ProfileNames returns the configured profile names in sorted order.
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
