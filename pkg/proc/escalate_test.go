package proc

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type fakeSignaler struct {
	mu      sync.Mutex
	sent    []unix.Signal
	alive   bool
	failSig unix.Signal
}

func (f *fakeSignaler) Signal(pid int, sig unix.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sig == f.failSig {
		return errors.New("operation not permitted")
	}
	f.sent = append(f.sent, sig)
	return nil
}

func (f *fakeSignaler) Exists(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeSignaler) Sent() []unix.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]unix.Signal(nil), f.sent...)
}

func TestEscalateProcessExitsAfterTerm(t *testing.T) {
	sig := &fakeSignaler{alive: false}
	e := NewEscalator(sig, 10*time.Millisecond, nil)

	out := e.Escalate(context.Background(), 42)
	assert.True(t, out.Success())
	assert.True(t, out.TermSent)
	assert.False(t, out.KillSent)
	assert.Equal(t, []unix.Signal{unix.SIGTERM}, sig.Sent())
}

func TestEscalateKillsSurvivor(t *testing.T) {
	sig := &fakeSignaler{alive: true}
	e := NewEscalator(sig, 10*time.Millisecond, nil)

	out := e.Escalate(context.Background(), 42)
	assert.True(t, out.Success())
	assert.True(t, out.TermSent)
	assert.True(t, out.KillSent)
	assert.Equal(t, []unix.Signal{unix.SIGTERM, unix.SIGKILL}, sig.Sent())
}

func TestEscalateTermFailure(t *testing.T) {
	sig := &fakeSignaler{alive: true, failSig: unix.SIGTERM}
	e := NewEscalator(sig, 10*time.Millisecond, nil)

	out := e.Escalate(context.Background(), 42)
	assert.False(t, out.Success())
	assert.False(t, out.TermSent)
	assert.False(t, out.KillSent)
	assert.Empty(t, sig.Sent())
}

func TestEscalateKillFailure(t *testing.T) {
	sig := &fakeSignaler{alive: true, failSig: unix.SIGKILL}
	e := NewEscalator(sig, 10*time.Millisecond, nil)

	out := e.Escalate(context.Background(), 42)
	assert.Error(t, out.Err)
	assert.True(t, out.TermSent)
	assert.False(t, out.KillSent)
}

func TestEscalateCancelledDuringGrace(t *testing.T) {
	sig := &fakeSignaler{alive: true}
	e := NewEscalator(sig, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ch := e.Start(ctx, 42)
	cancel()

	select {
	case out := <-ch:
		assert.ErrorIs(t, out.Err, context.Canceled)
		assert.True(t, out.TermSent)
		assert.False(t, out.KillSent)
	case <-time.After(2 * time.Second):
		t.Fatal("escalation ignored cancellation")
	}
	assert.Equal(t, []unix.Signal{unix.SIGTERM}, sig.Sent())
}

func TestStartDoesNotBlockCaller(t *testing.T) {
	sig := &fakeSignaler{alive: true}
	e := NewEscalator(sig, 200*time.Millisecond, nil)

	begin := time.Now()
	ch := e.Start(context.Background(), 42)
	assert.Less(t, time.Since(begin), 100*time.Millisecond)

	out := <-ch
	assert.True(t, out.KillSent)
}

func TestNewEscalatorDefaults(t *testing.T) {
	e := NewEscalator(nil, 0, nil)
	assert.Equal(t, DefaultGracePeriod, e.GracePeriod())
	assert.IsType(t, System{}, e.signaler)
}

func TestEscalateRealProcessIgnoringTerm(t *testing.T) {
	cmd := exec.Command("sh", "-c", `trap "" TERM; exec sleep 30`)
	require.NoError(t, cmd.Start())
	waited := make(chan error, 1)
	go func() { waited <- cmd.Wait() }()

	// Give the shell time to install the trap before exec.
	time.Sleep(100 * time.Millisecond)

	e := NewEscalator(nil, 100*time.Millisecond, nil)
	out := <-e.Start(context.Background(), cmd.Process.Pid)
	require.NoError(t, out.Err)
	assert.True(t, out.TermSent)
	assert.True(t, out.KillSent)

	select {
	case err := <-waited:
		var exitErr *exec.ExitError
		require.ErrorAs(t, err, &exitErr)
	case <-time.After(5 * time.Second):
		t.Fatal("process survived SIGKILL")
	}
}
