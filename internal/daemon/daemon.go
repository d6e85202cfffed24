package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/gofrs/flock"

	"strato/internal/cloud"
	"strato/internal/config"
	"strato/internal/deploy"
	"strato/internal/logging"
	"strato/internal/metrics"
	"strato/internal/notifications"
	"strato/internal/store"
)

// Daemon coordinates the deploy pilot and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	pilot   *deploy.Pilot
	metrics *metrics.Collector

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	metricsListener net.Listener
	metricsServer   *http.Server
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool
	PID            int
	StoreDBPath    string
	LockFilePath   string
	MetricsAddr    string
	PendingTargets []string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger, pilot *deploy.Pilot, collector *metrics.Collector) (*Daemon, error) {
	if cfg == nil || st == nil || logger == nil || pilot == nil {
		return nil, errors.New("daemon requires config, store, logger, and deploy pilot")
	}

	lockPath := filepath.Join(cfg.Paths.StateDir, "stratod.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    st,
		pilot:    pilot,
		metrics:  collector,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, launches the deploy pilot, and begins
// serving metrics.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another stratod instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	if err := d.startMetrics(); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start metrics endpoint: %w", err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.pilot.Run(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("deploy pilot exited", logging.Error(err))
		}
	}()

	d.running.Store(true)
	d.logger.Info("stratod started",
		logging.String("lock", d.lockPath),
		logging.String("metrics_addr", d.MetricsAddr()),
	)
	return nil
}

func (d *Daemon) startMetrics() error {
	bind := strings.TrimSpace(d.cfg.Paths.MetricsBind)
	if bind == "" || d.metrics == nil {
		return nil
	}
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.metrics.Handler())
	server := &http.Server{Handler: mux}
	d.metricsListener = listener
	d.metricsServer = server
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Warn("metrics server stopped", logging.Error(err))
		}
	}()
	return nil
}

// Stop stops the pilot and metrics server and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = d.metricsServer.Shutdown(shutdownCtx)
		cancel()
		d.metricsServer = nil
		d.metricsListener = nil
	}
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("stratod stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// MetricsAddr returns the bound metrics address, empty when disabled.
func (d *Daemon) MetricsAddr() string {
	if d.metricsListener == nil {
		return ""
	}
	return d.metricsListener.Addr().String()
}

// EnqueueDeploy records a deployment request for a target given in
// org/app/branch/instance form.
func (d *Daemon) EnqueueDeploy(ctx context.Context, target string) (*store.DeploymentRecord, error) {
	key, err := deploy.ParseTarget(target)
	if err != nil {
		return nil, err
	}
	return d.pilot.Enqueue(ctx, key)
}

// TriggerDeploy wakes the pilot's run loop without waiting for the poll tick.
func (d *Daemon) TriggerDeploy() error {
	if !d.running.Load() {
		return errors.New("daemon is not running")
	}
	d.pilot.Trigger()
	return nil
}

// ListDeployments returns deployment history, optionally scoped to a target.
func (d *Daemon) ListDeployments(ctx context.Context, target string, limit int) ([]*store.DeploymentRecord, error) {
	if d.store == nil {
		return nil, errors.New("store unavailable")
	}
	return d.store.ListDeployments(ctx, target, limit)
}

// ListVolumes returns volume records filtered by optional states.
func (d *Daemon) ListVolumes(ctx context.Context, states []store.VolumeState) ([]*store.VolumeRecord, error) {
	if d.store == nil {
		return nil, errors.New("store unavailable")
	}
	return d.store.ListVolumes(ctx, states...)
}

// ListJobs returns job records filtered by optional phases.
func (d *Daemon) ListJobs(ctx context.Context, phases []cloud.JobPhase) ([]*store.JobRecord, error) {
	if d.store == nil {
		return nil, errors.New("store unavailable")
	}
	return d.store.ListJobs(ctx, phases...)
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if d.cfg == nil {
		return false, "configuration unavailable", errors.New("configuration unavailable")
	}
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	notifier := notifications.NewService(d.cfg)
	if err := notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	pending, err := d.store.PendingTargets(ctx)
	if err != nil {
		d.logger.Warn("pending targets lookup failed", logging.Error(err))
	}
	return Status{
		Running:        d.running.Load(),
		PID:            os.Getpid(),
		StoreDBPath:    d.store.Path(),
		LockFilePath:   d.lockPath,
		MetricsAddr:    d.MetricsAddr(),
		PendingTargets: pending,
	}
}
