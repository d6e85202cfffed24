package ipc

import (
	"time"

	"strato/internal/store"
)

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents daemon runtime information.
type StatusResponse struct {
	Running        bool     `json:"running"`
	PID            int      `json:"pid"`
	StoreDBPath    string   `json:"store_db_path"`
	LockPath       string   `json:"lock_path"`
	MetricsAddr    string   `json:"metrics_addr"`
	PendingTargets []string `json:"pending_targets"`
}

// Deployment is the wire form of a deployment record.
type Deployment struct {
	ID           int64  `json:"id"`
	Target       string `json:"target"`
	Org          string `json:"org"`
	App          string `json:"app"`
	Branch       string `json:"branch"`
	Instance     string `json:"instance"`
	RequestID    string `json:"request_id"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	RequestedAt  string `json:"requested_at"`
	StartedAt    string `json:"started_at,omitempty"`
	FinishedAt   string `json:"finished_at,omitempty"`
}

// Volume is the wire form of a volume record.
type Volume struct {
	ID               int64  `json:"id"`
	ProviderVolumeID string `json:"provider_volume_id"`
	SizeGiB          int    `json:"size_gib"`
	Type             string `json:"type"`
	AvailabilityZone string `json:"availability_zone"`
	State            string `json:"state"`
	InstanceID       string `json:"instance_id,omitempty"`
	Device           string `json:"device,omitempty"`
	ErrorMessage     string `json:"error_message,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

// Job is the wire form of a job record.
type Job struct {
	ID            int64  `json:"id"`
	ProviderJobID string `json:"provider_job_id"`
	Name          string `json:"name"`
	Queue         string `json:"queue"`
	Image         string `json:"image"`
	Phase         string `json:"phase"`
	StatusReason  string `json:"status_reason,omitempty"`
	LogStream     string `json:"log_stream,omitempty"`
	InstanceID    string `json:"instance_id,omitempty"`
	ExitCode      *int   `json:"exit_code,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	CreatedAt     string `json:"created_at"`
	StoppedAt     string `json:"stopped_at,omitempty"`
}

// DeployEnqueueRequest records a deployment request for a target in
// org/app/branch/instance form.
type DeployEnqueueRequest struct {
	Target string `json:"target"`
}

// DeployEnqueueResponse returns the recorded request.
type DeployEnqueueResponse struct {
	Deployment Deployment `json:"deployment"`
}

// DeployTriggerRequest wakes the pilot's run loop.
type DeployTriggerRequest struct{}

// DeployTriggerResponse indicates the trigger was delivered.
type DeployTriggerResponse struct {
	Triggered bool `json:"triggered"`
}

// DeployListRequest fetches deployment history. Empty target means all
// targets; zero limit means no limit.
type DeployListRequest struct {
	Target string `json:"target"`
	Limit  int    `json:"limit"`
}

// DeployListResponse contains deployment history entries, newest first.
type DeployListResponse struct {
	Deployments []Deployment `json:"deployments"`
}

// VolumeListRequest filters volume listing by state.
type VolumeListRequest struct {
	States []string `json:"states"`
}

// VolumeListResponse contains volume records.
type VolumeListResponse struct {
	Volumes []Volume `json:"volumes"`
}

// JobListRequest filters job listing by phase.
type JobListRequest struct {
	Phases []string `json:"phases"`
}

// JobListResponse contains job records, newest first.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// FromDeploymentRecord converts a store record to its wire form.
func FromDeploymentRecord(rec *store.DeploymentRecord) Deployment {
	return Deployment{
		ID:           rec.ID,
		Target:       rec.Target,
		Org:          rec.Org,
		App:          rec.App,
		Branch:       rec.Branch,
		Instance:     rec.Instance,
		RequestID:    rec.RequestID,
		Status:       string(rec.Status),
		ErrorMessage: rec.ErrorMessage,
		RequestedAt:  formatTime(rec.RequestedAt),
		StartedAt:    formatTimePtr(rec.StartedAt),
		FinishedAt:   formatTimePtr(rec.FinishedAt),
	}
}

// FromVolumeRecord converts a store record to its wire form.
func FromVolumeRecord(rec *store.VolumeRecord) Volume {
	return Volume{
		ID:               rec.ID,
		ProviderVolumeID: rec.ProviderVolumeID,
		SizeGiB:          rec.SizeGiB,
		Type:             rec.Type,
		AvailabilityZone: rec.AvailabilityZone,
		State:            string(rec.State),
		InstanceID:       rec.InstanceID,
		Device:           rec.Device,
		ErrorMessage:     rec.ErrorMessage,
		CreatedAt:        formatTime(rec.CreatedAt),
		UpdatedAt:        formatTime(rec.UpdatedAt),
	}
}

// FromJobRecord converts a store record to its wire form.
func FromJobRecord(rec *store.JobRecord) Job {
	return Job{
		ID:            rec.ID,
		ProviderJobID: rec.ProviderJobID,
		Name:          rec.Name,
		Queue:         rec.Queue,
		Image:         rec.Image,
		Phase:         string(rec.Phase),
		StatusReason:  rec.StatusReason,
		LogStream:     rec.LogStream,
		InstanceID:    rec.InstanceID,
		ExitCode:      rec.ExitCode,
		ErrorMessage:  rec.ErrorMessage,
		CreatedAt:     formatTime(rec.CreatedAt),
		StoppedAt:     formatTimePtr(rec.StoppedAt),
	}
}
