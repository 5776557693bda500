//go:build linux

package proc

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func applyLimits(pid int, l Limits) error {
	rlimits := []struct {
		name     string
		resource int
		value    uint64
	}{
		{"RLIMIT_AS", unix.RLIMIT_AS, l.MaxMemMB * 1024 * 1024},
		{"RLIMIT_NPROC", unix.RLIMIT_NPROC, l.MaxProcs},
		{"RLIMIT_CPU", unix.RLIMIT_CPU, l.CPULimitSec},
	}
	for _, rl := range rlimits {
		if rl.value == 0 {
			continue
		}
		lim := unix.Rlimit{Cur: rl.value, Max: rl.value}
		if err := unix.Prlimit(pid, rl.resource, &lim, nil); err != nil {
			return fmt.Errorf("failed to set %s for PID %d: %w", rl.name, pid, err)
		}
	}

	if l.Nice != 0 {
		if err := unix.Setpriority(unix.PRIO_PROCESS, pid, l.Nice); err != nil {
			return fmt.Errorf("failed to set priority for PID %d: %w", pid, err)
		}
	}
	return nil
}
