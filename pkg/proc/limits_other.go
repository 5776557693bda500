//go:build unix && !linux

package proc

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Only the scheduling priority can be changed for another process here.
func applyLimits(pid int, l Limits) error {
	if l.Nice != 0 {
		if err := unix.Setpriority(unix.PRIO_PROCESS, pid, l.Nice); err != nil {
			return fmt.Errorf("failed to set priority for PID %d: %w", pid, err)
		}
	}
	return nil
}
