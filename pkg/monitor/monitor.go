// Package monitor reconciles the admission registry against the state of
// the operating system.
//
// The scan is reactive: it only runs on ticks where the admission queue
// depth exceeds the high-water mark. A scan reaps records whose process
// no longer exists and reports records older than the hang threshold.
// Hung processes are never killed or reaped here.
package monitor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tiancaiamao/procguard/pkg/admission"
)

const (
	DefaultInterval      = 5 * time.Second
	DefaultHighWater     = admission.DefaultHighWater
	DefaultHangThreshold = 120 * time.Second
)

// Prober reports whether a pid refers to a live process. Implementations
// must answer true when they cannot tell.
type Prober interface {
	Exists(pid int) bool
}

// Reporter is notified about every hung process found by a scan.
type Reporter interface {
	ReportHang(rec *admission.ProcessRecord, age time.Duration)
}

// Config contains monitor settings.
type Config struct {
	Interval      time.Duration
	HighWater     int
	HangThreshold time.Duration
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		Interval:      DefaultInterval,
		HighWater:     DefaultHighWater,
		HangThreshold: DefaultHangThreshold,
	}
}

// Result summarizes one tick.
type Result struct {
	Scanned bool
	Reaped  []int32
	Hung    []int32
}

// Monitor periodically scans an admission controller.
type Monitor struct {
	ctrl      *admission.Controller
	prober    Prober
	reporters []Reporter
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	highWater     atomic.Int64
	hangThreshold atomic.Int64
}

// New creates a monitor. Hang reports always go to the log; reporters
// receive them as well.
func New(ctrl *admission.Controller, prober Prober, cfg Config, logger *slog.Logger, reporters ...Reporter) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.HangThreshold <= 0 {
		cfg.HangThreshold = DefaultHangThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "monitor")

	m := &Monitor{
		ctrl:      ctrl,
		prober:    prober,
		reporters: append([]Reporter{logReporter{logger: logger}}, reporters...),
		interval:  cfg.Interval,
		logger:    logger,
		now:       time.Now,
	}
	m.SetThresholds(cfg.HighWater, cfg.HangThreshold)
	return m
}

// SetThresholds changes the high-water mark and the hang threshold.
// It is safe to call while Run is active.
func (m *Monitor) SetThresholds(highWater int, hang time.Duration) {
	if highWater < 0 {
		highWater = 0
	}
	if hang <= 0 {
		hang = DefaultHangThreshold
	}
	m.highWater.Store(int64(highWater))
	m.hangThreshold.Store(int64(hang))
}

// HighWater returns the current high-water mark.
func (m *Monitor) HighWater() int {
	return int(m.highWater.Load())
}

// HangThreshold returns the current hang threshold.
func (m *Monitor) HangThreshold() time.Duration {
	return time.Duration(m.hangThreshold.Load())
}

// Run ticks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("hang monitor started", "interval", m.interval, "high_water", m.HighWater(), "hang_threshold", m.HangThreshold())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick scans the registry if the queue depth exceeds the high-water mark.
func (m *Monitor) Tick() Result {
	depth := m.ctrl.QueueDepth()
	highWater := m.HighWater()
	if depth <= highWater {
		return Result{}
	}

	m.logger.Warn("queue depth above high water", "queue_depth", depth, "high_water", highWater)
	return m.Scan()
}

// Scan visits every registry entry once, then reaps the dead ones.
func (m *Monitor) Scan() Result {
	res := Result{Scanned: true}
	now := m.now()
	threshold := m.HangThreshold()

	var dead []*admission.ProcessRecord
	m.ctrl.Range(func(rec *admission.ProcessRecord) bool {
		if !m.prober.Exists(int(rec.Pid)) {
			dead = append(dead, rec)
			return true
		}
		if age := rec.Age(now); age > threshold {
			res.Hung = append(res.Hung, rec.Pid)
			for _, r := range m.reporters {
				r.ReportHang(rec, age)
			}
		}
		return true
	})

	for _, rec := range dead {
		if m.ctrl.Reap(rec) {
			res.Reaped = append(res.Reaped, rec.Pid)
			m.logger.Info("reaped dead process", "pid", rec.Pid, "command", rec.Command)
		}
	}
	return res
}

type logReporter struct {
	logger *slog.Logger
}

func (r logReporter) ReportHang(rec *admission.ProcessRecord, age time.Duration) {
	r.logger.Warn("process appears hung", "pid", rec.Pid, "command", rec.Command, "age", age.Round(time.Second))
}
