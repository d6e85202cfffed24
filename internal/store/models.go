package store

import (
	"time"

	"strato/internal/cloud"
)

// VolumeState is the control-plane view of a volume. It is distinct from the
// provider's state: the provider never reports Requested, Attaching, or
// Detaching, which exist only while this process is mid-operation.
type VolumeState string

const (
	VolumeRequested VolumeState = "requested"
	VolumeCreating  VolumeState = "creating"
	VolumeAvailable VolumeState = "available"
	VolumeAttaching VolumeState = "attaching"
	VolumeAttached  VolumeState = "attached"
	VolumeDetaching VolumeState = "detaching"
	VolumeDetached  VolumeState = "detached"
	VolumeDeleting  VolumeState = "deleting"
	VolumeDeleted   VolumeState = "deleted"
	VolumeFailed    VolumeState = "failed"
)

// volumeTransitions lists every legal edge. Attaching back to Available is
// the retry path after a transient attach failure; Detaching straight to
// Deleted is forced reclamation.
var volumeTransitions = map[VolumeState][]VolumeState{
	VolumeRequested: {VolumeCreating},
	VolumeCreating:  {VolumeAvailable, VolumeFailed},
	VolumeAvailable: {VolumeAttaching, VolumeDeleting},
	VolumeAttaching: {VolumeAttached, VolumeAvailable, VolumeFailed},
	VolumeAttached:  {VolumeDetaching},
	VolumeDetaching: {VolumeDetached, VolumeDeleted, VolumeFailed},
	VolumeDetached:  {VolumeAttaching, VolumeDeleting},
	VolumeDeleting:  {VolumeDeleted, VolumeFailed},
}

// ValidVolumeTransition reports whether from -> to is a legal edge.
func ValidVolumeTransition(from, to VolumeState) bool {
	for _, allowed := range volumeTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state admits no further transitions.
func (s VolumeState) Terminal() bool {
	return len(volumeTransitions[s]) == 0
}

// ParseVolumeState converts a raw string into a known state.
func ParseVolumeState(raw string) (VolumeState, bool) {
	switch s := VolumeState(raw); s {
	case VolumeRequested, VolumeCreating, VolumeAvailable, VolumeAttaching,
		VolumeAttached, VolumeDetaching, VolumeDetached, VolumeDeleting,
		VolumeDeleted, VolumeFailed:
		return s, true
	default:
		return "", false
	}
}

// VolumeRecord is a volume tracked by the control plane.
type VolumeRecord struct {
	ID               int64
	ProviderVolumeID string
	SizeGiB          int
	Type             string
	AvailabilityZone string
	ClientToken      string
	State            VolumeState
	InstanceID       string
	Device           string
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// VolumeEvent is one recorded transition of a volume.
type VolumeEvent struct {
	ID        int64
	VolumeID  int64
	FromState VolumeState
	ToState   VolumeState
	Detail    string
	CreatedAt time.Time
}

// JobRecord is a submitted batch job and the last phase observed for it.
type JobRecord struct {
	ID            int64
	ProviderJobID string
	Name          string
	Queue         string
	Image         string
	CommandJSON   string
	Phase         cloud.JobPhase
	StatusReason  string
	LogStream     string
	InstanceID    string
	ExitCode      *int
	PayloadBucket string
	PayloadKey    string
	PayloadInline bool
	VolumeIDsJSON string
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	StoppedAt     *time.Time
}

// DeploymentStatus is the lifecycle of one deployment request.
type DeploymentStatus string

const (
	DeploymentPending    DeploymentStatus = "pending"
	DeploymentApplying   DeploymentStatus = "applying"
	DeploymentSucceeded  DeploymentStatus = "succeeded"
	DeploymentFailed     DeploymentStatus = "failed"
	DeploymentSuperseded DeploymentStatus = "superseded"
)

// DeploymentRecord is one deployment request against a target. Target is the
// deterministic queue name derived from the target key fields.
type DeploymentRecord struct {
	ID           int64
	Target       string
	Org          string
	App          string
	Branch       string
	Instance     string
	RequestID    string
	Status       DeploymentStatus
	ErrorMessage string
	RequestedAt  time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
}
