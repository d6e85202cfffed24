package volume

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"strato/internal/cloud"
	"strato/internal/config"
	"strato/internal/faults"
	"strato/internal/logging"
	"strato/internal/metrics"
	"strato/internal/notifications"
	"strato/internal/retrypolicy"
	"strato/internal/store"
)

// Manager serializes lifecycle operations per volume and keeps the store in
// lockstep with the provider.
type Manager struct {
	store    *store.Store
	volumes  cloud.VolumeAPI
	compute  cloud.ComputeAPI
	clock    retrypolicy.Clock
	logger   *slog.Logger
	metrics  *metrics.Collector
	notifier notifications.Service

	createTimeout  time.Duration
	attachDeadline time.Duration
	detachDeadline time.Duration
	attachRetries  int
	pollInterval   time.Duration
	pollMaxDelay   time.Duration

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewManager wires a manager from the volume configuration section.
func NewManager(
	cfg *config.Config,
	st *store.Store,
	volumes cloud.VolumeAPI,
	compute cloud.ComputeAPI,
	clock retrypolicy.Clock,
	logger *slog.Logger,
	collector *metrics.Collector,
	notifier notifications.Service,
) *Manager {
	return &Manager{
		store:          st,
		volumes:        volumes,
		compute:        compute,
		clock:          clock,
		logger:         logging.NewComponentLogger(logger, "volume-manager"),
		metrics:        collector,
		notifier:       notifier,
		createTimeout:  time.Duration(cfg.Volume.CreateTimeoutSeconds) * time.Second,
		attachDeadline: time.Duration(cfg.Volume.AttachDeadlineSeconds) * time.Second,
		detachDeadline: time.Duration(cfg.Volume.DetachDeadlineSeconds) * time.Second,
		attachRetries:  cfg.Volume.AttachRetries,
		pollInterval:   time.Duration(cfg.Volume.PollIntervalSeconds) * time.Second,
		pollMaxDelay:   time.Duration(cfg.Volume.PollMaxDelaySeconds) * time.Second,
		locks:          make(map[int64]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing operations on one volume.
func (m *Manager) lockFor(id int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

// Provision creates a volume and waits until the provider reports it
// available. The record is left Failed when creation errors or times out.
func (m *Manager) Provision(ctx context.Context, sizeGiB int, volType, zone string) (*store.VolumeRecord, error) {
	token := uuid.NewString()
	rec, err := m.store.NewVolume(ctx, sizeGiB, volType, zone, token)
	if err != nil {
		return nil, err
	}

	lock := m.lockFor(rec.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.store.TransitionVolume(ctx, rec.ID, store.VolumeRequested, store.VolumeCreating, ""); err != nil {
		return nil, err
	}

	info, err := m.volumes.CreateVolume(ctx, cloud.VolumeSpec{
		SizeGiB:          sizeGiB,
		Type:             volType,
		AvailabilityZone: zone,
		ClientToken:      token,
	})
	if err != nil {
		m.failVolume(ctx, rec, store.VolumeCreating, fmt.Sprintf("create rejected: %v", err))
		return nil, faults.Wrap(faults.ErrVolumeCreateTimeout, "volume", "provision", "create volume", err)
	}

	rec.ProviderVolumeID = info.ID
	if err := m.store.UpdateVolume(ctx, rec); err != nil {
		return nil, err
	}

	m.logger.Info("volume creating",
		logging.String(logging.FieldVolumeID, info.ID),
		logging.Int("size_gib", sizeGiB),
	)

	if err := m.waitForProviderState(ctx, info.ID, cloud.VolumeAvailable, m.createTimeout); err != nil {
		m.failVolume(ctx, rec, store.VolumeCreating, err.Error())
		return nil, faults.Wrap(faults.ErrVolumeCreateTimeout, "volume", "provision",
			fmt.Sprintf("volume %s not available within %s", info.ID, m.createTimeout), err)
	}

	if err := m.store.TransitionVolume(ctx, rec.ID, store.VolumeCreating, store.VolumeAvailable, ""); err != nil {
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.RecordVolumeProvisioned()
	}
	return m.store.GetVolume(ctx, rec.ID)
}

// Attach connects a volume to an instance, retrying transient provider
// failures with capped exponential backoff. Each failed attempt rolls the
// record back to Available so the history shows every try. The attach
// deadline spans the whole operation, not each attempt.
func (m *Manager) Attach(ctx context.Context, id int64, instanceID, device string) (*store.VolumeRecord, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	rec, err := m.store.GetVolume(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("volume %d not found", id)
	}
	from := rec.State
	if from != store.VolumeAvailable && from != store.VolumeDetached {
		return nil, fmt.Errorf("%w: volume %d is %s, not attachable", store.ErrStateConflict, id, from)
	}

	policy := retrypolicy.Policy{
		MaxAttempts:  m.attachRetries + 1,
		InitialDelay: m.pollInterval,
		MaxDelay:     m.pollMaxDelay,
	}

	start := m.clock.Now()
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := m.store.TransitionVolume(ctx, id, from, store.VolumeAttaching,
			fmt.Sprintf("attach attempt %d to %s", attempt, instanceID)); err != nil {
			return nil, err
		}

		lastErr = m.volumes.AttachVolume(ctx, rec.ProviderVolumeID, instanceID, device)
		if lastErr == nil {
			remaining := m.attachDeadline - m.clock.Now().Sub(start)
			if remaining < 0 {
				remaining = 0
			}
			lastErr = m.waitForProviderState(ctx, rec.ProviderVolumeID, cloud.VolumeInUse, remaining)
		}
		if lastErr == nil {
			if err := m.store.TransitionVolume(ctx, id, store.VolumeAttaching, store.VolumeAttached, ""); err != nil {
				return nil, err
			}
			rec.InstanceID = instanceID
			rec.Device = device
			if err := m.store.UpdateVolume(ctx, rec); err != nil {
				return nil, err
			}
			m.updateAttachedGauge(ctx)
			m.logger.Info("volume attached",
				logging.String(logging.FieldVolumeID, rec.ProviderVolumeID),
				logging.String(logging.FieldInstanceID, instanceID),
				logging.Int(logging.FieldAttempt, attempt),
			)
			return m.store.GetVolume(ctx, id)
		}

		if !faults.IsRetryable(lastErr) || attempt == policy.MaxAttempts {
			break
		}

		if err := m.store.TransitionVolume(ctx, id, store.VolumeAttaching, store.VolumeAvailable,
			fmt.Sprintf("attach attempt %d failed: %v", attempt, lastErr)); err != nil {
			return nil, err
		}
		from = store.VolumeAvailable
		if m.metrics != nil {
			m.metrics.RecordAttachRetry()
		}
		m.logger.Warn("attach attempt failed, retrying",
			logging.String(logging.FieldVolumeID, rec.ProviderVolumeID),
			logging.Int(logging.FieldAttempt, attempt),
			logging.Error(lastErr),
		)
		if err := m.clock.Sleep(ctx, policy.DelayFor(attempt)); err != nil {
			return nil, err
		}
	}

	m.failVolume(ctx, rec, store.VolumeAttaching, fmt.Sprintf("attach failed: %v", lastErr))
	return nil, faults.Wrap(faults.ErrAttachFailed, "volume", "attach",
		fmt.Sprintf("volume %s to instance %s after %d attempt(s)", rec.ProviderVolumeID, instanceID, policy.MaxAttempts), lastErr)
}

// Detach disconnects a volume from its instance. Holders on the instance are
// released first. If the provider does not report the volume free within the
// detach deadline the volume is force-detached and deleted rather than left
// blocking the instance; that path ends in Deleted with a nil error, so
// callers must check the returned state.
func (m *Manager) Detach(ctx context.Context, id int64) (*store.VolumeRecord, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	rec, err := m.store.GetVolume(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("volume %d not found", id)
	}
	if rec.State != store.VolumeAttached {
		return nil, fmt.Errorf("%w: volume %d is %s, not detachable", store.ErrStateConflict, id, rec.State)
	}

	if err := m.store.TransitionVolume(ctx, id, store.VolumeAttached, store.VolumeDetaching, ""); err != nil {
		return nil, err
	}

	if rec.InstanceID != "" {
		if err := m.compute.ReleaseVolumeHolders(ctx, rec.InstanceID, rec.ProviderVolumeID); err != nil {
			m.logger.Warn("release volume holders failed",
				logging.String(logging.FieldVolumeID, rec.ProviderVolumeID),
				logging.String(logging.FieldInstanceID, rec.InstanceID),
				logging.Error(err),
			)
		}
	}

	if err := m.volumes.DetachVolume(ctx, rec.ProviderVolumeID, false); err != nil {
		m.failVolume(ctx, rec, store.VolumeDetaching, fmt.Sprintf("detach rejected: %v", err))
		return nil, faults.Wrap(faults.ErrDetachTimeout, "volume", "detach", rec.ProviderVolumeID, err)
	}

	if err := m.waitForProviderState(ctx, rec.ProviderVolumeID, cloud.VolumeAvailable, m.detachDeadline); err != nil {
		return m.forceReclaim(ctx, rec)
	}

	if err := m.store.TransitionVolume(ctx, id, store.VolumeDetaching, store.VolumeDetached, ""); err != nil {
		return nil, err
	}
	rec.InstanceID = ""
	rec.Device = ""
	if err := m.store.UpdateVolume(ctx, rec); err != nil {
		return nil, err
	}
	m.updateAttachedGauge(ctx)
	return m.store.GetVolume(ctx, id)
}

// forceReclaim is the stuck-detach escape hatch: force the detach, delete
// the volume, and record the reclamation loudly.
func (m *Manager) forceReclaim(ctx context.Context, rec *store.VolumeRecord) (*store.VolumeRecord, error) {
	m.logger.Warn("volume did not detach within deadline, reclaiming",
		logging.String(logging.FieldVolumeID, rec.ProviderVolumeID),
		logging.String(logging.FieldInstanceID, rec.InstanceID),
		logging.Duration(logging.FieldElapsed, m.detachDeadline),
		logging.String(logging.FieldEventType, "forced_reclamation"),
		logging.String(logging.FieldImpact, "volume deleted, data on it is gone"),
	)

	if err := m.volumes.DetachVolume(ctx, rec.ProviderVolumeID, true); err != nil {
		m.failVolume(ctx, rec, store.VolumeDetaching, fmt.Sprintf("force detach failed: %v", err))
		return nil, faults.Wrap(faults.ErrDetachTimeout, "volume", "force-detach", rec.ProviderVolumeID, err)
	}
	if err := m.volumes.DeleteVolume(ctx, rec.ProviderVolumeID); err != nil {
		m.failVolume(ctx, rec, store.VolumeDetaching, fmt.Sprintf("delete after force detach failed: %v", err))
		return nil, faults.Wrap(faults.ErrDetachTimeout, "volume", "force-delete", rec.ProviderVolumeID, err)
	}

	if err := m.store.TransitionVolume(ctx, rec.ID, store.VolumeDetaching, store.VolumeDeleted,
		fmt.Sprintf("forced reclamation after %s detach deadline", m.detachDeadline)); err != nil {
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.RecordForcedReclamation()
	}
	if m.notifier != nil {
		if err := m.notifier.NotifyForcedReclamation(ctx, rec.ProviderVolumeID, rec.InstanceID); err != nil {
			m.logger.Warn("forced reclamation notification failed", logging.Error(err))
		}
	}
	m.updateAttachedGauge(ctx)
	return m.store.GetVolume(ctx, rec.ID)
}

// Release deletes a volume that is Available or Detached. Releasing a
// volume that is already Deleted is a no-op.
func (m *Manager) Release(ctx context.Context, id int64) (*store.VolumeRecord, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	rec, err := m.store.GetVolume(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("volume %d not found", id)
	}
	if rec.State == store.VolumeDeleted {
		return rec, nil
	}
	if rec.State != store.VolumeAvailable && rec.State != store.VolumeDetached {
		return nil, fmt.Errorf("%w: volume %d is %s, not releasable", store.ErrStateConflict, id, rec.State)
	}

	if err := m.store.TransitionVolume(ctx, id, rec.State, store.VolumeDeleting, ""); err != nil {
		return nil, err
	}
	if err := m.volumes.DeleteVolume(ctx, rec.ProviderVolumeID); err != nil {
		m.failVolume(ctx, rec, store.VolumeDeleting, fmt.Sprintf("delete failed: %v", err))
		return nil, fmt.Errorf("delete volume %s: %w", rec.ProviderVolumeID, err)
	}
	if err := m.store.TransitionVolume(ctx, id, store.VolumeDeleting, store.VolumeDeleted, ""); err != nil {
		return nil, err
	}
	return m.store.GetVolume(ctx, id)
}

// waitForProviderState polls the provider with capped exponential backoff
// until the volume reaches the wanted state or the deadline elapses.
func (m *Manager) waitForProviderState(ctx context.Context, providerID string, want cloud.VolumeState, deadline time.Duration) error {
	start := m.clock.Now()
	delay := m.pollInterval
	for {
		info, err := m.volumes.DescribeVolume(ctx, providerID)
		if err != nil {
			return err
		}
		if info.State == want {
			return nil
		}
		if info.State == cloud.VolumeError {
			return fmt.Errorf("volume %s entered error state", providerID)
		}
		if m.clock.Now().Sub(start) >= deadline {
			return fmt.Errorf("volume %s still %s after %s waiting for %s", providerID, info.State, deadline, want)
		}
		if err := m.clock.Sleep(ctx, delay); err != nil {
			return err
		}
		if next := delay * 2; next <= m.pollMaxDelay {
			delay = next
		} else {
			delay = m.pollMaxDelay
		}
	}
}

// failVolume parks the record in Failed and stores the reason. Transition
// conflicts are logged rather than returned since the caller is already on
// an error path.
func (m *Manager) failVolume(ctx context.Context, rec *store.VolumeRecord, from store.VolumeState, reason string) {
	if err := m.store.TransitionVolume(ctx, rec.ID, from, store.VolumeFailed, reason); err != nil {
		m.logger.Warn("record failure transition",
			logging.String(logging.FieldVolumeID, rec.ProviderVolumeID),
			logging.Error(err),
		)
		return
	}
	rec.ErrorMessage = reason
	if err := m.store.UpdateVolume(ctx, rec); err != nil {
		m.logger.Warn("record failure message",
			logging.String(logging.FieldVolumeID, rec.ProviderVolumeID),
			logging.Error(err),
		)
	}
}

func (m *Manager) updateAttachedGauge(ctx context.Context) {
	if m.metrics == nil {
		return
	}
	attached, err := m.store.ListVolumes(ctx, store.VolumeAttached)
	if err != nil {
		return
	}
	m.metrics.SetVolumesAttached(len(attached))
}
