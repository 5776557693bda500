package proc

import "fmt"

// Limits caps the resources of a spawned child process. Zero fields are
// left untouched.
type Limits struct {
	MaxMemMB    uint64
	MaxProcs    uint64
	CPULimitSec uint64
	Nice        int
}

// ApplyLimits applies l to the running process pid. Limits are applied
// after the process has started, so they are best-effort.
func ApplyLimits(pid int, l Limits) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d", pid)
	}
	if l.Nice < -20 || l.Nice > 19 {
		return fmt.Errorf("nice value must be between -20 and 19, got %d", l.Nice)
	}
	return applyLimits(pid, l)
}
