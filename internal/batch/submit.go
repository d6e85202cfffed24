package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"strato/internal/cloud"
	"strato/internal/config"
	"strato/internal/faults"
	"strato/internal/logging"
	"strato/internal/metrics"
	"strato/internal/notifications"
	"strato/internal/retrypolicy"
	"strato/internal/stager"
	"strato/internal/store"
	"strato/internal/volume"
)

// VolumeRequest asks for a scratch volume to accompany a job. The volume is
// provisioned at submit time and attached once the provider places the job
// on an instance.
type VolumeRequest struct {
	SizeGiB int
	Type    string
	Zone    string
	Device  string
}

// SubmitRequest describes one job submission.
type SubmitRequest struct {
	Name          string
	Payload       []byte
	Image         string
	VCPUs         int
	MemoryMB      int
	Environment   map[string]string
	RetryAttempts int
	Volumes       []VolumeRequest
}

// Submission is the durable result of a submit.
type Submission struct {
	Record    *store.JobRecord
	VolumeIDs []int64
	Payload   stager.PayloadReference
}

// Manager submits batch jobs and builds watchers over them.
type Manager struct {
	cfg      *config.Config
	store    *store.Store
	batch    cloud.BatchAPI
	logs     cloud.LogsAPI
	stager   *stager.Stager
	volumes  *volume.Manager
	clock    retrypolicy.Clock
	logger   *slog.Logger
	metrics  *metrics.Collector
	notifier notifications.Service
}

// NewManager wires a batch manager.
func NewManager(
	cfg *config.Config,
	st *store.Store,
	batchAPI cloud.BatchAPI,
	logsAPI cloud.LogsAPI,
	payloadStager *stager.Stager,
	volumeManager *volume.Manager,
	clock retrypolicy.Clock,
	logger *slog.Logger,
	collector *metrics.Collector,
	notifier notifications.Service,
) *Manager {
	return &Manager{
		cfg:      cfg,
		store:    st,
		batch:    batchAPI,
		logs:     logsAPI,
		stager:   payloadStager,
		volumes:  volumeManager,
		clock:    clock,
		logger:   logging.NewComponentLogger(logger, "batch"),
		metrics:  collector,
		notifier: notifier,
	}
}

// Submit stages the payload, provisions requested volumes, resolves the job
// role through its visibility window, and submits the job. Provisioned
// volumes are released again when the provider rejects the submission.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*Submission, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("job name is required")
	}
	if len(req.Payload) == 0 {
		return nil, fmt.Errorf("job payload is empty")
	}

	roleARN, err := m.resolveJobRole(ctx)
	if err != nil {
		return nil, err
	}

	ref, err := m.stager.Stage(ctx, req.Payload, m.cfg.Stager.InlineLimitBytes)
	if err != nil {
		return nil, err
	}
	if ref.Staged() && m.metrics != nil {
		m.metrics.RecordPayloadStaged()
	}

	volumeIDs := make([]int64, 0, len(req.Volumes))
	for _, vreq := range req.Volumes {
		rec, err := m.volumes.Provision(ctx, vreq.SizeGiB, vreq.Type, vreq.Zone)
		if err != nil {
			m.releaseVolumes(ctx, volumeIDs)
			return nil, fmt.Errorf("provision volume for %s: %w", req.Name, err)
		}
		volumeIDs = append(volumeIDs, rec.ID)
	}

	image := req.Image
	if image == "" {
		image = m.cfg.Batch.DefaultImage
	}
	vcpus := req.VCPUs
	if vcpus <= 0 {
		vcpus = m.cfg.Batch.DefaultVCPUs
	}
	memoryMB := req.MemoryMB
	if memoryMB <= 0 {
		memoryMB = m.cfg.Batch.DefaultMemoryMB
	}
	retries := req.RetryAttempts
	if retries <= 0 {
		retries = m.cfg.Batch.RetryAttempts
	}

	command := buildCommand(ref)
	commandJSON, err := json.Marshal(command)
	if err != nil {
		m.releaseVolumes(ctx, volumeIDs)
		return nil, fmt.Errorf("marshal command: %w", err)
	}
	volumeIDsJSON, err := json.Marshal(volumeIDs)
	if err != nil {
		m.releaseVolumes(ctx, volumeIDs)
		return nil, fmt.Errorf("marshal volume ids: %w", err)
	}

	providerJobID, err := m.batch.SubmitJob(ctx, cloud.SubmitJobInput{
		Name:          req.Name,
		Queue:         m.cfg.Batch.Queue,
		Image:         image,
		Command:       command,
		Environment:   req.Environment,
		VCPUs:         vcpus,
		MemoryMB:      memoryMB,
		RetryAttempts: retries,
		JobRoleARN:    roleARN,
	})
	if err != nil {
		m.releaseVolumes(ctx, volumeIDs)
		return nil, faults.Wrap(faults.ErrJobSubmitRejected, "batch", "submit", req.Name, err)
	}

	rec, err := m.store.NewJob(ctx, &store.JobRecord{
		ProviderJobID: providerJobID,
		Name:          req.Name,
		Queue:         m.cfg.Batch.Queue,
		Image:         image,
		CommandJSON:   string(commandJSON),
		Phase:         cloud.JobSubmitted,
		PayloadBucket: ref.Bucket,
		PayloadKey:    ref.Key,
		PayloadInline: !ref.Staged(),
		VolumeIDsJSON: string(volumeIDsJSON),
	})
	if err != nil {
		m.abortUnrecorded(ctx, providerJobID, volumeIDs)
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.RecordJobSubmitted()
	}
	if m.notifier != nil {
		if err := m.notifier.NotifyJobSubmitted(ctx, req.Name, providerJobID); err != nil {
			m.logger.Warn("submit notification failed", logging.Error(err))
		}
	}
	m.logger.Info("job submitted",
		logging.String(logging.FieldJobID, providerJobID),
		logging.String("name", req.Name),
		logging.Bool("staged", ref.Staged()),
		logging.Int("volumes", len(volumeIDs)),
	)

	return &Submission{Record: rec, VolumeIDs: volumeIDs, Payload: ref}, nil
}

// resolveJobRole ensures the job role exists and waits out the window where
// a freshly created role is not yet visible to lookups.
func (m *Manager) resolveJobRole(ctx context.Context) (string, error) {
	roleName := m.cfg.Batch.JobRole
	if _, err := m.batch.EnsureJobRole(ctx, roleName); err != nil {
		return "", fmt.Errorf("ensure job role %s: %w", roleName, err)
	}

	policy := retrypolicy.Policy{
		MaxAttempts:  m.cfg.Batch.LookupRetries,
		InitialDelay: time.Duration(m.cfg.Batch.PollIntervalSeconds) * time.Second,
		MaxDelay:     time.Duration(m.cfg.Volume.PollMaxDelaySeconds) * time.Second,
		Retryable:    cloud.IsNotFound,
	}

	var arn string
	err := retrypolicy.Do(ctx, m.clock, policy, func(ctx context.Context, attempt int) error {
		var lookupErr error
		arn, lookupErr = m.batch.LookupJobRole(ctx, roleName)
		if lookupErr != nil && attempt > 1 {
			m.logger.Debug("job role not yet visible",
				logging.String("role", roleName),
				logging.Int(logging.FieldAttempt, attempt),
			)
		}
		return lookupErr
	})
	if err != nil {
		return "", faults.Wrap(faults.ErrTransientLookupMiss, "batch", "resolve-role", roleName, err)
	}
	return arn, nil
}

// abortUnrecorded tears down a job the provider accepted but the store could
// not record; left alone it would keep running with nothing tracking it.
func (m *Manager) abortUnrecorded(ctx context.Context, providerJobID string, volumeIDs []int64) {
	if err := m.batch.TerminateJob(ctx, providerJobID, "job record not persisted"); err != nil {
		m.logger.Warn("terminate unrecorded job",
			logging.String(logging.FieldJobID, providerJobID),
			logging.Error(err),
		)
	}
	m.releaseVolumes(ctx, volumeIDs)
}

func (m *Manager) releaseVolumes(ctx context.Context, ids []int64) {
	for _, id := range ids {
		if _, err := m.volumes.Release(ctx, id); err != nil {
			m.logger.Warn("release volume after failed submit",
				logging.Int64("volume_record", id),
				logging.Error(err),
			)
		}
	}
}
