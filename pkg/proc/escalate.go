package proc

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultGracePeriod is the wait between SIGTERM and SIGKILL.
const DefaultGracePeriod = 2 * time.Second

// Outcome reports which signals an escalation managed to send.
// Final death of the process is not verified after SIGKILL.
type Outcome struct {
	Pid      int
	TermSent bool
	KillSent bool
	Err      error
}

// Success reports whether every signal that was attempted was delivered.
func (o Outcome) Success() bool {
	return o.Err == nil
}

// Escalator terminates a process gracefully first and forcefully if it
// survives the grace period.
type Escalator struct {
	signaler Signaler
	grace    time.Duration
	logger   *slog.Logger
}

// NewEscalator creates an escalator. A nil signaler uses System.
func NewEscalator(signaler Signaler, grace time.Duration, logger *slog.Logger) *Escalator {
	if signaler == nil {
		signaler = System{}
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Escalator{
		signaler: signaler,
		grace:    grace,
		logger:   logger.With("component", "escalator"),
	}
}

// GracePeriod returns the configured wait between signals.
func (e *Escalator) GracePeriod() time.Duration {
	return e.grace
}

// Escalate sends SIGTERM, waits the grace period, and sends SIGKILL if
// pid is still alive. It blocks the calling goroutine for the grace
// period; use Start to run it on a dedicated one. Cancelling ctx during
// the wait abandons the escalation without sending SIGKILL.
func (e *Escalator) Escalate(ctx context.Context, pid int) Outcome {
	out := Outcome{Pid: pid}

	if err := e.signaler.Signal(pid, unix.SIGTERM); err != nil {
		e.logger.Error("graceful termination failed", "pid", pid, "error", err)
		out.Err = err
		return out
	}
	out.TermSent = true

	timer := time.NewTimer(e.grace)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		out.Err = ctx.Err()
		return out
	}

	if !e.signaler.Exists(pid) {
		e.logger.Info("process exited after SIGTERM", "pid", pid)
		return out
	}

	if err := e.signaler.Signal(pid, unix.SIGKILL); err != nil {
		e.logger.Error("forceful termination failed", "pid", pid, "error", err)
		out.Err = err
		return out
	}
	out.KillSent = true
	e.logger.Warn("process killed after grace period", "pid", pid, "grace", e.grace)
	return out
}

// Start runs Escalate on its own goroutine so the grace period never
// occupies the caller. The outcome is delivered once on the returned channel.
func (e *Escalator) Start(ctx context.Context, pid int) <-chan Outcome {
	ch := make(chan Outcome, 1)
	go func() {
		ch <- e.Escalate(ctx, pid)
	}()
	return ch
}
