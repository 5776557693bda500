package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiancaiamao/procguard/pkg/admission"
)

type fakeProber struct {
	mu    sync.Mutex
	dead  map[int]bool
	calls int
}

func newFakeProber(dead ...int) *fakeProber {
	p := &fakeProber{dead: make(map[int]bool)}
	for _, pid := range dead {
		p.dead[pid] = true
	}
	return p
}

func (p *fakeProber) Exists(pid int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return !p.dead[pid]
}

func (p *fakeProber) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type recordingReporter struct {
	mu   sync.Mutex
	hung []int32
}

func (r *recordingReporter) ReportHang(rec *admission.ProcessRecord, age time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hung = append(r.hung, rec.Pid)
}

// blockWaiter parks one registration in the pool so the queue depth is 1.
func blockWaiter(t *testing.T, ctrl *admission.Controller, pid int32) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ctrl.Register(ctx, pid, "waiter", nil)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return ctrl.QueueDepth() >= 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestTickBelowHighWater(t *testing.T) {
	ctrl := admission.New(1)
	require.NoError(t, ctrl.Register(context.Background(), 1, "p", nil))

	prober := newFakeProber(1)
	m := New(ctrl, prober, Config{HighWater: 1000}, nil)

	res := m.Tick()
	assert.False(t, res.Scanned)
	assert.Equal(t, 0, prober.Calls())
	_, ok := ctrl.Lookup(1)
	assert.True(t, ok, "dead process is only reaped by a scan")
}

func TestTickAtHighWaterDoesNotScan(t *testing.T) {
	ctrl := admission.New(1)
	require.NoError(t, ctrl.Register(context.Background(), 1, "p", nil))
	blockWaiter(t, ctrl, 2)

	prober := newFakeProber(1)
	m := New(ctrl, prober, Config{HighWater: 1}, nil)

	assert.False(t, m.Tick().Scanned)
	assert.Equal(t, 0, prober.Calls())
}

func TestTickReapsDeadProcess(t *testing.T) {
	ctrl := admission.New(1)
	require.NoError(t, ctrl.Register(context.Background(), 1, "gone", nil))
	blockWaiter(t, ctrl, 2)

	prober := newFakeProber(1)
	m := New(ctrl, prober, Config{HighWater: 0}, nil)

	res := m.Tick()
	assert.True(t, res.Scanned)
	assert.Equal(t, []int32{1}, res.Reaped)
	assert.Empty(t, res.Hung)

	// The freed slot goes to the waiter.
	require.Eventually(t, func() bool {
		_, ok := ctrl.Lookup(2)
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	_, ok := ctrl.Lookup(1)
	assert.False(t, ok)
	assert.Equal(t, 1, ctrl.ActiveCount())
}

func TestScanReapsOnce(t *testing.T) {
	ctrl := admission.New(3)
	ctx := context.Background()
	require.NoError(t, ctrl.Register(ctx, 1, "gone", nil))
	require.NoError(t, ctrl.Register(ctx, 2, "alive", nil))

	m := New(ctrl, newFakeProber(1), Config{HighWater: 0}, nil)

	assert.Equal(t, []int32{1}, m.Scan().Reaped)
	assert.Empty(t, m.Scan().Reaped)
	assert.Equal(t, 1, ctrl.ActiveCount())
}

func TestScanReportsHungProcesses(t *testing.T) {
	ctrl := admission.New(3)
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	ctrl.SetClock(func() time.Time { return start })

	ctx := context.Background()
	require.NoError(t, ctrl.Register(ctx, 1, "old", nil))
	ctrl.SetClock(func() time.Time { return start.Add(100 * time.Second) })
	require.NoError(t, ctrl.Register(ctx, 2, "young", nil))

	rep := &recordingReporter{}
	m := New(ctrl, newFakeProber(), Config{HangThreshold: 120 * time.Second}, nil, rep)
	m.now = func() time.Time { return start.Add(150 * time.Second) }

	res := m.Scan()
	assert.Equal(t, []int32{1}, res.Hung)
	assert.Empty(t, res.Reaped)
	assert.Equal(t, []int32{1}, rep.hung)

	// Hung processes keep their slot.
	assert.Equal(t, 2, ctrl.ActiveCount())
}

func TestSetThresholds(t *testing.T) {
	m := New(admission.New(1), newFakeProber(), DefaultConfig(), nil)
	assert.Equal(t, DefaultHighWater, m.HighWater())
	assert.Equal(t, DefaultHangThreshold, m.HangThreshold())

	m.SetThresholds(10, time.Minute)
	assert.Equal(t, 10, m.HighWater())
	assert.Equal(t, time.Minute, m.HangThreshold())

	m.SetThresholds(-1, 0)
	assert.Equal(t, 0, m.HighWater())
	assert.Equal(t, DefaultHangThreshold, m.HangThreshold())
}

func TestRunStopsOnCancel(t *testing.T) {
	ctrl := admission.New(1)
	require.NoError(t, ctrl.Register(context.Background(), 1, "gone", nil))
	blockWaiter(t, ctrl, 2)

	m := New(ctrl, newFakeProber(1), Config{Interval: 10 * time.Millisecond, HighWater: 0}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := ctrl.Lookup(1)
		return !ok
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
