package cloud

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a resource does not exist or is not yet
// visible due to the provider's eventual-consistency window. Callers decide
// which interpretation applies.
var ErrNotFound = errors.New("resource not found")

// IsNotFound reports whether err indicates a missing or not-yet-visible resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// VolumeState is the provider-reported state of a block storage volume.
type VolumeState string

const (
	VolumeCreating  VolumeState = "creating"
	VolumeAvailable VolumeState = "available"
	VolumeInUse     VolumeState = "in-use"
	VolumeDeleting  VolumeState = "deleting"
	VolumeDeleted   VolumeState = "deleted"
	VolumeError     VolumeState = "error"
)

// VolumeSpec describes a volume creation request.
type VolumeSpec struct {
	SizeGiB          int
	Type             string
	AvailabilityZone string
	// ClientToken makes creation idempotent across retried requests.
	ClientToken string
	Tags        map[string]string
}

// VolumeInfo is a provider-side volume snapshot.
type VolumeInfo struct {
	ID         string
	State      VolumeState
	InstanceID string
	Device     string
	SizeGiB    int
	CreatedAt  time.Time
}

// VolumeAPI drives provider block storage.
type VolumeAPI interface {
	CreateVolume(ctx context.Context, spec VolumeSpec) (VolumeInfo, error)
	DescribeVolume(ctx context.Context, id string) (VolumeInfo, error)
	AttachVolume(ctx context.Context, volumeID, instanceID, device string) error
	// DetachVolume with force skips the guest-side flush.
	DetachVolume(ctx context.Context, volumeID string, force bool) error
	// DeleteVolume is idempotent: deleting an absent volume returns nil.
	DeleteVolume(ctx context.Context, id string) error
}

// InstanceInfo is a provider-side compute instance snapshot.
type InstanceInfo struct {
	ID    string
	State string
	Zone  string
}

// ComputeAPI reads instance state and reaches into instances for cleanup.
type ComputeAPI interface {
	DescribeInstance(ctx context.Context, id string) (InstanceInfo, error)
	// ReleaseVolumeHolders stops or kills guest processes holding the
	// volume's filesystem so a graceful detach can proceed.
	ReleaseVolumeHolders(ctx context.Context, instanceID, volumeID string) error
}

// JobPhase is the provider-reported lifecycle phase of a batch job.
type JobPhase string

const (
	JobSubmitted JobPhase = "SUBMITTED"
	JobPending   JobPhase = "PENDING"
	JobRunnable  JobPhase = "RUNNABLE"
	JobStarting  JobPhase = "STARTING"
	JobRunning   JobPhase = "RUNNING"
	JobSucceeded JobPhase = "SUCCEEDED"
	JobFailed    JobPhase = "FAILED"
)

// Terminal reports whether the phase ends the job's lifecycle.
func (p JobPhase) Terminal() bool {
	return p == JobSucceeded || p == JobFailed
}

// SubmitJobInput carries everything the provider needs to accept a job.
type SubmitJobInput struct {
	Name          string
	Queue         string
	Image         string
	Command       []string
	Environment   map[string]string
	VCPUs         int
	MemoryMB      int
	RetryAttempts int
	JobRoleARN    string
}

// JobDetail is a provider-side job snapshot.
type JobDetail struct {
	ID            string
	Name          string
	Phase         JobPhase
	StatusReason  string
	LogStreamName string
	InstanceID    string
	ExitCode      *int
	CreatedAt     time.Time
	StoppedAt     time.Time
}

// BatchAPI submits and inspects batch jobs.
type BatchAPI interface {
	SubmitJob(ctx context.Context, input SubmitJobInput) (string, error)
	DescribeJob(ctx context.Context, id string) (JobDetail, error)
	TerminateJob(ctx context.Context, id, reason string) error
	// EnsureJobRole creates the job's instance role/profile when absent and
	// returns its name. The created role may not be visible to LookupJobRole
	// immediately.
	EnsureJobRole(ctx context.Context, name string) (string, error)
	// LookupJobRole resolves a role name to its ARN. Returns ErrNotFound
	// while the role is inside the eventual-consistency window.
	LookupJobRole(ctx context.Context, name string) (string, error)
}

// ObjectStore stages execution payloads.
type ObjectStore interface {
	EnsureBucket(ctx context.Context, name string) error
	Put(ctx context.Context, bucket, key string, body []byte) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	// PresignGet returns a URL that fetches the object without credentials
	// until the TTL expires.
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// LogEvent is one line of job runtime output.
type LogEvent struct {
	Timestamp time.Time
	Message   string
}

// LogsAPI fetches job log streams. GetLogEvents returns ErrNotFound while
// the stream has not been created yet, which for a submitted job means the
// container never started.
type LogsAPI interface {
	GetLogEvents(ctx context.Context, group, stream string) ([]LogEvent, error)
}

// Clients bundles the provider service interfaces the core needs. Components
// accept only the interfaces they use; Clients exists for wiring.
type Clients struct {
	Volumes VolumeAPI
	Compute ComputeAPI
	Batch   BatchAPI
	Objects ObjectStore
	Logs    LogsAPI
}
