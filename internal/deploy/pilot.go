package deploy

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"strato/internal/config"
	"strato/internal/logging"
	"strato/internal/metrics"
	"strato/internal/notifications"
	"strato/internal/store"
)

// Pilot drains pending deployment requests. Requests coalesce in the store:
// enqueueing supersedes any older pending request for the same target, so a
// burst of pushes ends in a single apply of the newest one.
type Pilot struct {
	store    *store.Store
	applier  Applier
	logger   *slog.Logger
	metrics  *metrics.Collector
	notifier notifications.Service

	pollInterval time.Duration
	trigger      chan struct{}
}

// NewPilot wires a pilot from the deploy configuration section.
func NewPilot(
	cfg *config.Config,
	st *store.Store,
	applier Applier,
	logger *slog.Logger,
	collector *metrics.Collector,
	notifier notifications.Service,
) *Pilot {
	return &Pilot{
		store:        st,
		applier:      applier,
		logger:       logging.NewComponentLogger(logger, "deploy-pilot"),
		metrics:      collector,
		notifier:     notifier,
		pollInterval: time.Duration(cfg.Deploy.PollIntervalSeconds) * time.Second,
		trigger:      make(chan struct{}, 1),
	}
}

// Enqueue records a deployment request for the target. Any older pending
// request for the same target is superseded.
func (p *Pilot) Enqueue(ctx context.Context, key TargetKey) (*store.DeploymentRecord, error) {
	target := key.QueueName()

	if p.metrics != nil {
		if latest, err := p.store.ListDeployments(ctx, target, 1); err == nil &&
			len(latest) == 1 && latest[0].Status == store.DeploymentPending {
			p.metrics.RecordDeployCoalesced()
		}
	}

	rec, err := p.store.NewDeployment(ctx, &store.DeploymentRecord{
		Target:    target,
		Org:       key.Org,
		App:       key.App,
		Branch:    key.Branch,
		Instance:  key.Instance,
		RequestID: uuid.NewString(),
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("deployment queued",
		logging.String(logging.FieldTarget, target),
		logging.String("request_id", rec.RequestID),
	)
	p.Trigger()
	return rec, nil
}

// Trigger wakes the run loop without waiting for the next poll tick. Safe to
// call from any goroutine; extra triggers while one is pending are dropped.
func (p *Pilot) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run drains pending requests until the context is cancelled, waking on
// Trigger or every poll interval.
func (p *Pilot) Run(ctx context.Context) error {
	// Requests caught mid-apply by a previous shutdown are retried.
	if count, err := p.store.ResetApplyingDeployments(ctx); err != nil {
		return err
	} else if count > 0 {
		p.logger.Info("requeued interrupted deployments", logging.Int64("count", count))
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		if err := p.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error("drain pending deployments", logging.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.trigger:
		case <-ticker.C:
		}
	}
}

// RunOnce applies the newest pending request for every target that has one.
// Targets are isolated both ways: each target is applied on its own
// goroutine, so a slow apply never delays another target, and a failing
// apply is recorded against its own target while the rest proceed.
// ClaimPendingDeployment keeps at most one apply in flight per target.
func (p *Pilot) RunOnce(ctx context.Context) error {
	targets, err := p.store.PendingTargets(ctx)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	errs := make([]error, len(targets))
	for i, target := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = p.applyTarget(ctx, target)
		}()
	}
	wg.Wait()

	p.updatePendingGauge(ctx)
	return errors.Join(errs...)
}

// applyTarget claims and applies the target's pending request. Only store
// errors propagate; apply failures are recorded on the deployment.
func (p *Pilot) applyTarget(ctx context.Context, target string) error {
	rec, err := p.store.ClaimPendingDeployment(ctx, target)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}

	start := time.Now()
	applyErr := p.applier.Apply(ctx, rec)
	elapsed := time.Since(start)

	if applyErr != nil {
		if err := p.store.FinishDeployment(ctx, rec.ID, store.DeploymentFailed, applyErr.Error()); err != nil {
			return err
		}
		if p.metrics != nil {
			p.metrics.RecordDeployFailed(elapsed.Seconds())
		}
		if p.notifier != nil {
			if err := p.notifier.NotifyDeployFailed(ctx, target, rec.RequestID, applyErr); err != nil {
				p.logger.Warn("deploy failure notification failed", logging.Error(err))
			}
		}
		p.logger.Error("deployment apply failed",
			logging.String(logging.FieldTarget, target),
			logging.String("request_id", rec.RequestID),
			logging.Duration(logging.FieldElapsed, elapsed),
			logging.Error(applyErr),
		)
		return nil
	}

	if err := p.store.FinishDeployment(ctx, rec.ID, store.DeploymentSucceeded, ""); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.RecordDeployApplied(elapsed.Seconds())
	}
	if p.notifier != nil {
		if err := p.notifier.NotifyDeployApplied(ctx, target, rec.RequestID, elapsed); err != nil {
			p.logger.Warn("deploy notification failed", logging.Error(err))
		}
	}
	p.logger.Info("deployment applied",
		logging.String(logging.FieldTarget, target),
		logging.String("request_id", rec.RequestID),
		logging.Duration(logging.FieldElapsed, elapsed),
	)
	return nil
}

func (p *Pilot) updatePendingGauge(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	targets, err := p.store.PendingTargets(ctx)
	if err != nil {
		return
	}
	p.metrics.SetDeploysPending(len(targets))
}
