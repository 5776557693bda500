// Package daemon wires the admission controller, hang monitor and
// control-plane server into one long-running process.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tiancaiamao/procguard/pkg/admission"
	"github.com/tiancaiamao/procguard/pkg/alert"
	"github.com/tiancaiamao/procguard/pkg/config"
	debughttp "github.com/tiancaiamao/procguard/pkg/http"
	"github.com/tiancaiamao/procguard/pkg/logger"
	"github.com/tiancaiamao/procguard/pkg/monitor"
	"github.com/tiancaiamao/procguard/pkg/proc"
	"github.com/tiancaiamao/procguard/pkg/rpc"
)

const httpShutdownTimeout = 5 * time.Second

// Daemon owns one controller and every task that shares it.
type Daemon struct {
	cfg        *config.Config
	configPath string
	log        *logger.Logger
	logger     *slog.Logger

	ctrl     *admission.Controller
	queue    *rpc.Queue
	server   *rpc.Server
	consumer *Consumer
	monitor  *monitor.Monitor
}

// New builds a daemon from cfg. configPath, when set, is watched for
// changes to the thresholds and the log level. A nil log writes to
// slog.Default and its level cannot be changed by a reload.
func New(cfg *config.Config, configPath string, log *logger.Logger) *Daemon {
	sl := slog.Default()
	if log != nil {
		sl = log.Logger
	}

	ctrl := admission.New(cfg.Capacity)
	ctrl.SetHighWater(cfg.QueueHighWater)

	var reporters []monitor.Reporter
	if cfg.HangWebhook != "" {
		reporters = append(reporters, alert.NewWebhook(cfg.HangWebhook, sl))
	}

	mcfg := monitor.DefaultConfig()
	mcfg.HighWater = cfg.QueueHighWater
	if v := cfg.MonitorIntervalDuration(); v > 0 {
		mcfg.Interval = v
	}
	if v := cfg.HangThresholdDuration(); v > 0 {
		mcfg.HangThreshold = v
	}

	queue := rpc.NewQueue()
	return &Daemon{
		cfg:        cfg,
		configPath: configPath,
		log:        log,
		logger:     sl,
		ctrl:       ctrl,
		queue:      queue,
		server:     rpc.NewServer(cfg.SocketPath, queue, sl),
		consumer:   NewConsumer(ctrl, queue, sl),
		monitor:    monitor.New(ctrl, proc.System{}, mcfg, sl, reporters...),
	}
}

// Controller returns the shared admission controller.
func (d *Daemon) Controller() *admission.Controller {
	return d.ctrl
}

// Monitor returns the hang monitor.
func (d *Daemon) Monitor() *monitor.Monitor {
	return d.monitor
}

// LogLevel returns the current minimum log level.
func (d *Daemon) LogLevel() slog.Level {
	if d.log != nil {
		return d.log.GetLevel()
	}
	return slog.LevelInfo
}

// Listen binds the control socket. Failure here must stop startup.
func (d *Daemon) Listen() error {
	return d.server.Listen()
}

// Serve runs every task until ctx is cancelled. Listen must have succeeded.
func (d *Daemon) Serve(ctx context.Context) error {
	d.logger.Info("procguard starting",
		"socket", d.cfg.SocketPath,
		"capacity", d.cfg.Capacity,
		"high_water", d.cfg.QueueHighWater)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.server.Serve(gctx) })
	g.Go(func() error { return d.consumer.Run(gctx) })
	g.Go(func() error { return d.monitor.Run(gctx) })

	if d.configPath != "" {
		g.Go(func() error {
			if err := config.Watch(gctx, d.configPath, d.logger, d.ApplyConfig); err != nil {
				d.logger.Warn("config hot reload disabled", "error", err)
			}
			return nil
		})
	}

	if d.cfg.HTTPAddr != "" {
		g.Go(func() error {
			d.serveHTTP(gctx)
			return nil
		})
	}

	err := g.Wait()
	d.logger.Info("procguard stopped")
	return err
}

// Run listens and serves.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Listen(); err != nil {
		return err
	}
	return d.Serve(ctx)
}

// ApplyConfig applies the reloadable settings of cfg.
func (d *Daemon) ApplyConfig(cfg *config.Config) {
	d.ctrl.SetHighWater(cfg.QueueHighWater)
	d.monitor.SetThresholds(cfg.QueueHighWater, cfg.HangThresholdDuration())
	if d.log != nil && cfg.Log != nil {
		d.log.SetLevel(logger.ParseLogLevel(cfg.Log.Level))
	}

	if cfg.Capacity != d.cfg.Capacity || cfg.SocketPath != d.cfg.SocketPath {
		d.logger.Warn("capacity and socket path changes require a restart",
			"capacity", cfg.Capacity, "socket", cfg.SocketPath)
	}
	d.logger.Info("thresholds updated",
		"high_water", cfg.QueueHighWater,
		"hang_threshold", cfg.HangThresholdDuration(),
		"log_level", d.LogLevel())
}

// serveHTTP runs the debug server. Its failure is logged, not fatal.
func (d *Daemon) serveHTTP(ctx context.Context) {
	mux := http.NewServeMux()
	debughttp.NewMetricsHandler(d.ctrl).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              d.cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	d.logger.Info("debug http server listening", "addr", d.cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		d.logger.Error("debug http server failed", "addr", d.cfg.HTTPAddr, "error", err)
	}
}
