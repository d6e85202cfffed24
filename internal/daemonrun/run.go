// Package daemonrun hosts the stratod process runtime shared by the
// stratod binary and `strato daemon run`.
package daemonrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"strato/internal/config"
	"strato/internal/daemon"
	"strato/internal/deploy"
	"strato/internal/ipc"
	"strato/internal/logging"
	"strato/internal/metrics"
	"strato/internal/notifications"
	"strato/internal/store"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// LogLevel overrides the configured log level when non-empty.
	LogLevel string
}

// SocketPath returns the IPC socket location for a configuration.
func SocketPath(cfg *config.Config) string {
	if cfg == nil {
		return filepath.Join(os.TempDir(), "stratod.sock")
	}
	return filepath.Join(cfg.Paths.StateDir, "stratod.sock")
}

// PIDPath returns the pid file location for a configuration.
func PIDPath(cfg *config.Config) string {
	if cfg == nil {
		return filepath.Join(os.TempDir(), "stratod.pid")
	}
	return filepath.Join(cfg.Paths.StateDir, "stratod.pid")
}

// Run starts the stratod runtime loop and blocks until SIGINT or SIGTERM.
// SIGUSR1 wakes the deploy pilot without waiting for its poll tick.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, "stratod.log")},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	pidPath := PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return err
	}
	defer st.Close()

	// Volumes caught mid-operation by a previous shutdown roll back to
	// their stable states before the pilot starts.
	if count, err := st.ResetInFlightVolumes(signalCtx); err != nil {
		logger.Warn("reset in-flight volumes", logging.Error(err))
	} else if count > 0 {
		logger.Info("rolled back in-flight volumes", logging.Int64("count", count))
	}

	collector := metrics.NewCollector()
	notifier := notifications.NewService(cfg)

	applier, err := deploy.NewCommandApplier(cfg)
	if err != nil {
		return fmt.Errorf("configure deploy applier: %w", err)
	}
	pilot := deploy.NewPilot(cfg, st, applier, logger, collector, notifier)

	d, err := daemon.New(cfg, st, logger, pilot, collector)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, SocketPath(cfg), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check the lock file and metrics bind address"),
			logging.String(logging.FieldImpact, "deployments will not be applied"),
		)
		return err
	}

	triggerCh := make(chan os.Signal, 1)
	signal.Notify(triggerCh, syscall.SIGUSR1)
	defer signal.Stop(triggerCh)
	go func() {
		for range triggerCh {
			logger.Debug("deploy pilot triggered by SIGUSR1")
			pilot.Trigger()
		}
	}()

	<-signalCtx.Done()
	logger.Info("stratod shutting down")
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
