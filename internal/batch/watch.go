package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"strato/internal/cloud"
	"strato/internal/logging"
	"strato/internal/store"
)

// ErrWatchDone signals that the watched job reached a terminal phase and the
// final update has already been delivered.
var ErrWatchDone = errors.New("job watch complete")

// Update is one observed phase change of a watched job.
type Update struct {
	Detail cloud.JobDetail
	Logs   []cloud.LogEvent

	// FailedBeforeStart marks a FAILED job that never produced a log
	// stream: the container was never started, so the failure lies in
	// submission parameters or placement rather than the payload.
	FailedBeforeStart bool
}

// Watcher follows one job through its phases. It is pull based: each Next
// call polls until the phase changes and returns the change, so the caller
// controls pacing and cancellation.
type Watcher struct {
	manager   *Manager
	record    *store.JobRecord
	volumeIDs []int64
	lastPhase cloud.JobPhase
	attached  bool
	done      bool
}

// Watch builds a watcher over a previously submitted job record. Watching a
// record already in a terminal phase yields ErrWatchDone on the first Next
// call; the sequence is always finite.
func (m *Manager) Watch(ctx context.Context, recordID int64) (*Watcher, error) {
	rec, err := m.store.GetJob(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("job record %d not found", recordID)
	}

	var volumeIDs []int64
	if rec.VolumeIDsJSON != "" {
		if err := json.Unmarshal([]byte(rec.VolumeIDsJSON), &volumeIDs); err != nil {
			return nil, fmt.Errorf("parse volume ids for job %d: %w", recordID, err)
		}
	}

	return &Watcher{
		manager:   m,
		record:    rec,
		volumeIDs: volumeIDs,
		lastPhase: rec.Phase,
		done:      rec.Phase.Terminal(),
	}, nil
}

// Next blocks until the job's phase changes and returns the change. After
// the terminal update has been returned, Next returns ErrWatchDone.
func (w *Watcher) Next(ctx context.Context) (*Update, error) {
	if w.done {
		return nil, ErrWatchDone
	}
	m := w.manager
	pollInterval := time.Duration(m.cfg.Batch.PollIntervalSeconds) * time.Second

	for {
		detail, err := m.batch.DescribeJob(ctx, w.record.ProviderJobID)
		if err != nil {
			return nil, fmt.Errorf("describe job %s: %w", w.record.ProviderJobID, err)
		}
		if detail.Phase == w.lastPhase {
			if err := m.clock.Sleep(ctx, pollInterval); err != nil {
				return nil, err
			}
			continue
		}

		w.lastPhase = detail.Phase
		update := &Update{Detail: detail}

		if !w.attached && detail.InstanceID != "" && len(w.volumeIDs) > 0 {
			if err := w.attachVolumes(ctx, detail.InstanceID); err != nil {
				return nil, err
			}
			w.attached = true
		}

		w.record.Phase = detail.Phase
		w.record.StatusReason = detail.StatusReason
		if detail.LogStreamName != "" {
			w.record.LogStream = detail.LogStreamName
		}
		if detail.InstanceID != "" {
			w.record.InstanceID = detail.InstanceID
		}

		if detail.Phase.Terminal() {
			w.finish(ctx, detail, update)
			w.done = true
		}

		if err := m.store.UpdateJob(ctx, w.record); err != nil {
			return nil, err
		}

		m.logger.Info("job phase changed",
			logging.String(logging.FieldJobID, w.record.ProviderJobID),
			logging.String("phase", string(detail.Phase)),
		)
		return update, nil
	}
}

// attachVolumes connects the job's volumes once the provider reports the
// instance the job landed on. Devices are assigned in request order.
func (w *Watcher) attachVolumes(ctx context.Context, instanceID string) error {
	for i, id := range w.volumeIDs {
		device := fmt.Sprintf("/dev/sd%c", rune('f'+i))
		if _, err := w.manager.volumes.Attach(ctx, id, instanceID, device); err != nil {
			return fmt.Errorf("attach volume %d for job %s: %w", id, w.record.ProviderJobID, err)
		}
	}
	return nil
}

// finish records the terminal state, pulls whatever logs exist, and tears
// down the job's volumes. A missing log stream is expected for jobs that
// failed before their container started.
func (w *Watcher) finish(ctx context.Context, detail cloud.JobDetail, update *Update) {
	m := w.manager

	if detail.LogStreamName != "" {
		events, err := m.logs.GetLogEvents(ctx, m.cfg.Provider.LogGroup, detail.LogStreamName)
		if err != nil && !cloud.IsNotFound(err) {
			m.logger.Warn("fetch job logs",
				logging.String(logging.FieldJobID, w.record.ProviderJobID),
				logging.Error(err),
			)
		}
		update.Logs = events
	}

	w.record.ExitCode = detail.ExitCode
	if detail.StoppedAt.IsZero() {
		now := m.clock.Now().UTC()
		w.record.StoppedAt = &now
	} else {
		stopped := detail.StoppedAt.UTC()
		w.record.StoppedAt = &stopped
	}

	switch detail.Phase {
	case cloud.JobSucceeded:
		if m.metrics != nil {
			m.metrics.RecordJobSucceeded()
		}
		if m.notifier != nil {
			exit := 0
			if detail.ExitCode != nil {
				exit = *detail.ExitCode
			}
			if err := m.notifier.NotifyJobCompleted(ctx, w.record.Name, w.record.ProviderJobID, exit, w.jobDuration(detail)); err != nil {
				m.logger.Warn("completion notification failed", logging.Error(err))
			}
		}
	case cloud.JobFailed:
		if detail.LogStreamName == "" {
			update.FailedBeforeStart = true
			w.record.ErrorMessage = "failed before the container started: " + detail.StatusReason
		} else {
			w.record.ErrorMessage = detail.StatusReason
		}
		if m.metrics != nil {
			m.metrics.RecordJobFailed()
		}
		if m.notifier != nil {
			if err := m.notifier.NotifyJobFailed(ctx, w.record.Name, w.record.ProviderJobID, w.record.ErrorMessage); err != nil {
				m.logger.Warn("failure notification failed", logging.Error(err))
			}
		}
	}

	w.teardownVolumes(ctx)
}

func (w *Watcher) jobDuration(detail cloud.JobDetail) time.Duration {
	if detail.CreatedAt.IsZero() || detail.StoppedAt.IsZero() {
		return 0
	}
	return detail.StoppedAt.Sub(detail.CreatedAt)
}

// teardownVolumes detaches and releases every job volume. Forced
// reclamation inside Detach already ends in Deleted; Release is idempotent
// for that case.
func (w *Watcher) teardownVolumes(ctx context.Context) {
	m := w.manager
	for _, id := range w.volumeIDs {
		rec, err := m.store.GetVolume(ctx, id)
		if err != nil || rec == nil {
			m.logger.Warn("load job volume for teardown", logging.Int64("volume_record", id), logging.Error(err))
			continue
		}
		if rec.State == store.VolumeAttached {
			if _, err := m.volumes.Detach(ctx, id); err != nil {
				m.logger.Warn("detach job volume", logging.Int64("volume_record", id), logging.Error(err))
				continue
			}
		}
		if _, err := m.volumes.Release(ctx, id); err != nil {
			m.logger.Warn("release job volume", logging.Int64("volume_record", id), logging.Error(err))
		}
	}
}
