// Package proc talks to operating system processes by pid: liveness
// probes, termination signals and resource limits.
package proc

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Signaler sends signals to processes and probes whether they exist.
type Signaler interface {
	Signal(pid int, sig unix.Signal) error
	Exists(pid int) bool
}

// System is the Signaler backed by the kernel.
type System struct{}

// Signal sends sig to pid.
func (System) Signal(pid int, sig unix.Signal) error {
	return Signal(pid, sig)
}

// Exists reports whether pid refers to a live process.
func (System) Exists(pid int) bool {
	return Exists(pid)
}

// Signal sends sig to a single process. Non-positive pids are refused
// because kill(2) would address a process group instead.
func Signal(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d", pid)
	}

	if err := unix.Kill(pid, sig); err != nil {
		return fmt.Errorf("failed to send signal %v to PID %d: %w", sig, pid, err)
	}

	return nil
}

// Exists probes pid with the null signal. Only ESRCH means the process is
// gone; any other failure (EPERM for a foreign process, for instance)
// is reported as alive.
func Exists(pid int) bool {
	if pid <= 0 {
		return false
	}
	return probeAlive(unix.Kill(pid, 0))
}

// probeAlive classifies the result of a null-signal probe.
func probeAlive(err error) bool {
	return !errors.Is(err, unix.ESRCH)
}

// Terminate sends SIGTERM.
func Terminate(pid int) error {
	return Signal(pid, unix.SIGTERM)
}

// ForceKill sends SIGKILL.
func ForceKill(pid int) error {
	return Signal(pid, unix.SIGKILL)
}
