package daemon

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiancaiamao/procguard/pkg/admission"
	"github.com/tiancaiamao/procguard/pkg/client"
	"github.com/tiancaiamao/procguard/pkg/config"
	"github.com/tiancaiamao/procguard/pkg/logger"
	"github.com/tiancaiamao/procguard/pkg/monitor"
)

func startDaemon(t *testing.T, capacity int) (*Daemon, string) {
	t.Helper()

	dir, err := os.MkdirTemp("", "pg")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg := config.DefaultConfig()
	cfg.SocketPath = filepath.Join(dir, "d.sock")
	cfg.Capacity = capacity

	d := New(cfg, "", nil)
	require.NoError(t, d.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})
	return d, cfg.SocketPath
}

func dialClient(t *testing.T, socket string) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, socket)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDaemonEndToEnd(t *testing.T) {
	d, socket := startDaemon(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := dialClient(t, socket)
	b := dialClient(t, socket)
	w := dialClient(t, socket)

	require.NoError(t, a.Register(ctx, 1, "p1", nil))
	require.NoError(t, b.Register(ctx, 2, "p2", nil))

	registered := make(chan error, 1)
	go func() { registered <- w.Register(ctx, 3, "p3", []string{"--flag"}) }()

	require.Eventually(t, func() bool { return d.Controller().QueueDepth() == 1 }, 2*time.Second, 5*time.Millisecond)

	st, err := a.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.ActiveCount)
	assert.Equal(t, 1, st.QueueDepth)
	assert.False(t, st.ShouldThrottle)

	released, err := a.Unregister(ctx, 1)
	require.NoError(t, err)
	assert.True(t, released)

	select {
	case err := <-registered:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiting register was not admitted")
	}

	st, err = a.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.ActiveCount)
	assert.Equal(t, 0, st.QueueDepth)

	rec, ok := d.Controller().Lookup(3)
	require.True(t, ok)
	assert.Equal(t, []string{"--flag"}, rec.Args)
}

func TestDaemonRejectsDuplicate(t *testing.T) {
	_, socket := startDaemon(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := dialClient(t, socket)
	require.NoError(t, c.Register(ctx, 10, "x", nil))
	err := c.Register(ctx, 10, "x", nil)
	assert.ErrorIs(t, err, client.ErrRejected)

	released, err := c.Unregister(ctx, 10)
	require.NoError(t, err)
	assert.True(t, released)

	released, err = c.Unregister(ctx, 10)
	require.NoError(t, err)
	assert.False(t, released)
}

func TestDaemonSurvivesMalformedInput(t *testing.T) {
	_, socket := startDaemon(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := net.Dial("unix", socket)
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.Write([]byte("garbage\n{\"Register\":{}}\n"))
	require.NoError(t, err)

	c := dialClient(t, socket)
	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.ActiveCount)

	// The malformed connection is still open and served.
	_, err = raw.Write([]byte("\"QueryStatus\"\n"))
	require.NoError(t, err)
	require.NoError(t, raw.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := bufio.NewReader(raw).ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, `"Status"`)
}

func TestDaemonListenFailure(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SocketPath = "/nonexistent-dir/procguard.sock"

	d := New(cfg, "", nil)
	assert.Error(t, d.Run(context.Background()))
}

func TestApplyConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	d := New(cfg, "", nil)

	next := config.DefaultConfig()
	next.QueueHighWater = 5
	next.HangThreshold = 30
	d.ApplyConfig(next)

	assert.Equal(t, 5, d.Controller().HighWater())
	assert.Equal(t, 5, d.Monitor().HighWater())
	assert.Equal(t, 30*time.Second, d.Monitor().HangThreshold())
}

func TestDaemonAbandonedRegisterDoesNotTakeSlot(t *testing.T) {
	d, socket := startDaemon(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	holder := dialClient(t, socket)
	require.NoError(t, holder.Register(ctx, 1001, "holder", nil))

	waiter := dialClient(t, socket)
	wctx, wcancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer wcancel()
	assert.ErrorIs(t, waiter.Register(wctx, 1002, "waiter", nil), context.DeadlineExceeded)
	require.NoError(t, waiter.Close())

	require.Eventually(t, func() bool { return d.Controller().QueueDepth() == 0 }, 2*time.Second, 5*time.Millisecond)

	released, err := holder.Unregister(ctx, 1001)
	require.NoError(t, err)
	assert.True(t, released)

	time.Sleep(50 * time.Millisecond)
	_, ok := d.Controller().Lookup(1002)
	assert.False(t, ok, "slot went to a client that already left")
	assert.Equal(t, 0, d.Controller().ActiveCount())
}

func TestApplyConfigLogLevel(t *testing.T) {
	log, err := logger.NewLogger(&logger.Config{Level: slog.LevelInfo})
	require.NoError(t, err)
	defer log.Close()

	d := New(config.DefaultConfig(), "", log)
	assert.Equal(t, slog.LevelInfo, d.LogLevel())

	next := config.DefaultConfig()
	next.Log.Level = "debug"
	d.ApplyConfig(next)
	assert.Equal(t, slog.LevelDebug, d.LogLevel())
	assert.True(t, log.Enabled(context.Background(), slog.LevelDebug))
}

func TestNewFallsBackToMonitorDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HangThreshold = 0
	cfg.MonitorInterval = 0

	d := New(cfg, "", nil)
	assert.Equal(t, monitor.DefaultHangThreshold, d.Monitor().HangThreshold())
	assert.Equal(t, admission.DefaultHighWater, monitor.DefaultHighWater)
}
