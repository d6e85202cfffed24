// Package cloudfake implements the cloud provider boundary in memory. It
// backs the test suite and the CLI's local provider mode, and exposes
// scripting knobs for the failure modes the orchestration core must
// tolerate: slow volume transitions, transient attach errors, stuck
// detaches, delayed role visibility, and scripted job phase sequences.
package cloudfake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"strato/internal/cloud"
	"strato/internal/faults"
)

type volumeRecord struct {
	info cloud.VolumeInfo

	pollsUntilAvailable int
	pollsUntilAttached  int
	pollsUntilDetached  int
	createStuck         bool
	detachStuck         bool
	attaching           bool
	detaching           bool
	abortAttachPolls    int
	attachAborted       bool
}

type jobRecord struct {
	script []cloud.JobDetail
	index  int
}

type roleRecord struct {
	arn               string
	lookupsUntilValid int
}

// Provider is an in-memory implementation of every cloud service interface.
type Provider struct {
	mu sync.Mutex

	seq       int
	volumes   map[string]*volumeRecord
	instances map[string]cloud.InstanceInfo
	jobs      map[string]*jobRecord
	roles     map[string]*roleRecord
	buckets   map[string]map[string][]byte
	logs      map[string][]cloud.LogEvent

	attachFailuresLeft int
	abortAttachPolls   int
	terminations       []string
	attachCalls        map[string]int
	releasedHolders    map[string]int
	putErr             error
	submitErr          error
	roleLookupDelay    int
	nextJobScript      []cloud.JobDetail

	defaultCreatePolls int
	defaultAttachPolls int
	defaultDetachPolls int
}

// New returns a provider where volumes transition after a single poll and
// jobs run straight through to success.
func New() *Provider {
	return &Provider{
		volumes:            make(map[string]*volumeRecord),
		instances:          make(map[string]cloud.InstanceInfo),
		jobs:               make(map[string]*jobRecord),
		roles:              make(map[string]*roleRecord),
		buckets:            make(map[string]map[string][]byte),
		logs:               make(map[string][]cloud.LogEvent),
		attachCalls:        make(map[string]int),
		releasedHolders:    make(map[string]int),
		defaultCreatePolls: 1,
		defaultAttachPolls: 1,
		defaultDetachPolls: 1,
	}
}

// Clients bundles the provider for component wiring.
func (p *Provider) Clients() cloud.Clients {
	return cloud.Clients{Volumes: p, Compute: p, Batch: p, Objects: p, Logs: p}
}

func (p *Provider) nextID(prefix string) string {
	p.seq++
	return fmt.Sprintf("%s-%08x", prefix, p.seq)
}

// --- scripting knobs ---

// FailNextAttaches makes the next n AttachVolume calls fail transiently.
func (p *Provider) FailNextAttaches(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attachFailuresLeft = n
}

// AbortNextAttachAfterPolls makes the next accepted attach fall apart on the
// provider side: after n describe polls the volume reverts to available and
// the describe that observes it reports a transient error.
func (p *Provider) AbortNextAttachAfterPolls(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.abortAttachPolls = n
}

// SetAttachPolls overrides how many describe polls an attach takes to settle.
func (p *Provider) SetAttachPolls(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultAttachPolls = n
}

// HoldDetach keeps the volume in its detaching state until ForceDetach.
func (p *Provider) HoldDetach(volumeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec, ok := p.volumes[volumeID]; ok {
		rec.detachStuck = true
	}
}

// HoldCreate keeps a subsequently created volume in creating forever.
func (p *Provider) HoldCreate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultCreatePolls = -1
}

// SetRoleVisibilityDelay makes newly ensured roles invisible to lookups for
// the given number of calls, simulating the eventual-consistency window.
func (p *Provider) SetRoleVisibilityDelay(lookups int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roleLookupDelay = lookups
}

// FailPuts makes object uploads fail with the given error.
func (p *Provider) FailPuts(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.putErr = err
}

// RejectSubmits makes job submissions fail with the given error.
func (p *Provider) RejectSubmits(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitErr = err
}

// ScriptNextJob replays the given phase snapshots, one per DescribeJob call,
// for the next submitted job. The final snapshot repeats forever.
func (p *Provider) ScriptNextJob(script ...cloud.JobDetail) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextJobScript = script
}

// AddLogEvents seeds a log stream, creating it if needed.
func (p *Provider) AddLogEvents(group, stream string, lines ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := group + "/" + stream
	for _, line := range lines {
		p.logs[key] = append(p.logs[key], cloud.LogEvent{Timestamp: time.Now(), Message: line})
	}
}

// AddInstance registers a running compute instance.
func (p *Provider) AddInstance(id, zone string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instances[id] = cloud.InstanceInfo{ID: id, State: "running", Zone: zone}
}

// AttachCalls reports how many AttachVolume calls a volume received.
func (p *Provider) AttachCalls(volumeID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attachCalls[volumeID]
}

// ReleasedHolders reports how many holder-release calls an instance received.
func (p *Provider) ReleasedHolders(instanceID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releasedHolders[instanceID]
}

// Terminations reports ids of jobs that were explicitly terminated.
func (p *Provider) Terminations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.terminations))
	copy(out, p.terminations)
	return out
}

// VolumeExists reports whether the provider still tracks the volume.
func (p *Provider) VolumeExists(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.volumes[id]
	return ok
}

// --- cloud.VolumeAPI ---

func (p *Provider) CreateVolume(ctx context.Context, spec cloud.VolumeSpec) (cloud.VolumeInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID("vol")
	rec := &volumeRecord{
		info: cloud.VolumeInfo{
			ID:        id,
			State:     cloud.VolumeCreating,
			SizeGiB:   spec.SizeGiB,
			CreatedAt: time.Now(),
		},
		pollsUntilAvailable: p.defaultCreatePolls,
		createStuck:         p.defaultCreatePolls < 0,
	}
	p.volumes[id] = rec
	return rec.info, nil
}

func (p *Provider) DescribeVolume(ctx context.Context, id string) (cloud.VolumeInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.volumes[id]
	if !ok {
		return cloud.VolumeInfo{}, fmt.Errorf("volume %s: %w", id, cloud.ErrNotFound)
	}
	p.stepVolume(rec)
	if rec.attachAborted {
		rec.attachAborted = false
		return rec.info, faults.Wrap(faults.ErrTransient, "cloudfake", "describe-volume", "attach lost", nil)
	}
	return rec.info, nil
}

// stepVolume advances pending transitions by one poll. Callers hold p.mu.
func (p *Provider) stepVolume(rec *volumeRecord) {
	switch {
	case rec.info.State == cloud.VolumeCreating && !rec.createStuck:
		rec.pollsUntilAvailable--
		if rec.pollsUntilAvailable <= 0 {
			rec.info.State = cloud.VolumeAvailable
		}
	case rec.attaching:
		if rec.abortAttachPolls > 0 {
			rec.abortAttachPolls--
			if rec.abortAttachPolls == 0 {
				rec.attaching = false
				rec.attachAborted = true
				rec.info.State = cloud.VolumeAvailable
				rec.info.InstanceID = ""
				rec.info.Device = ""
			}
			return
		}
		rec.pollsUntilAttached--
		if rec.pollsUntilAttached <= 0 {
			rec.attaching = false
			rec.info.State = cloud.VolumeInUse
		}
	case rec.detaching && !rec.detachStuck:
		rec.pollsUntilDetached--
		if rec.pollsUntilDetached <= 0 {
			rec.detaching = false
			rec.info.State = cloud.VolumeAvailable
			rec.info.InstanceID = ""
			rec.info.Device = ""
		}
	}
}

func (p *Provider) AttachVolume(ctx context.Context, volumeID, instanceID, device string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attachCalls[volumeID]++
	if p.attachFailuresLeft > 0 {
		p.attachFailuresLeft--
		return faults.Wrap(faults.ErrTransient, "cloudfake", "attach-volume", "device contention", nil)
	}
	rec, ok := p.volumes[volumeID]
	if !ok {
		return fmt.Errorf("volume %s: %w", volumeID, cloud.ErrNotFound)
	}
	if rec.info.State != cloud.VolumeAvailable {
		return faults.Wrap(faults.ErrTransient, "cloudfake", "attach-volume",
			fmt.Sprintf("volume state %s", rec.info.State), nil)
	}
	rec.attaching = true
	rec.pollsUntilAttached = p.defaultAttachPolls
	rec.abortAttachPolls = p.abortAttachPolls
	p.abortAttachPolls = 0
	rec.info.InstanceID = instanceID
	rec.info.Device = device
	return nil
}

func (p *Provider) DetachVolume(ctx context.Context, volumeID string, force bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.volumes[volumeID]
	if !ok {
		return fmt.Errorf("volume %s: %w", volumeID, cloud.ErrNotFound)
	}
	if force {
		rec.detachStuck = false
		rec.detaching = false
		rec.info.State = cloud.VolumeAvailable
		rec.info.InstanceID = ""
		rec.info.Device = ""
		return nil
	}
	rec.detaching = true
	rec.pollsUntilDetached = p.defaultDetachPolls
	return nil
}

func (p *Provider) DeleteVolume(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.volumes, id)
	return nil
}

// --- cloud.ComputeAPI ---

func (p *Provider) DescribeInstance(ctx context.Context, id string) (cloud.InstanceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.instances[id]
	if !ok {
		return cloud.InstanceInfo{}, fmt.Errorf("instance %s: %w", id, cloud.ErrNotFound)
	}
	return info, nil
}

func (p *Provider) ReleaseVolumeHolders(ctx context.Context, instanceID, volumeID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releasedHolders[instanceID]++
	return nil
}

// --- cloud.BatchAPI ---

func (p *Provider) SubmitJob(ctx context.Context, input cloud.SubmitJobInput) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.submitErr != nil {
		return "", p.submitErr
	}
	id := p.nextID("job")
	script := p.nextJobScript
	p.nextJobScript = nil
	if len(script) == 0 {
		exitCode := 0
		script = []cloud.JobDetail{
			{Phase: cloud.JobSubmitted},
			{Phase: cloud.JobRunnable},
			{Phase: cloud.JobStarting, InstanceID: "i-fake"},
			{Phase: cloud.JobRunning, InstanceID: "i-fake", LogStreamName: id + "/default"},
			{Phase: cloud.JobSucceeded, InstanceID: "i-fake", LogStreamName: id + "/default", ExitCode: &exitCode},
		}
	}
	for i := range script {
		script[i].ID = id
		if script[i].Name == "" {
			script[i].Name = input.Name
		}
	}
	p.jobs[id] = &jobRecord{script: script}
	return id, nil
}

func (p *Provider) DescribeJob(ctx context.Context, id string) (cloud.JobDetail, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.jobs[id]
	if !ok {
		return cloud.JobDetail{}, fmt.Errorf("job %s: %w", id, cloud.ErrNotFound)
	}
	detail := rec.script[rec.index]
	if rec.index < len(rec.script)-1 {
		rec.index++
	}
	return detail, nil
}

func (p *Provider) TerminateJob(ctx context.Context, id, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, cloud.ErrNotFound)
	}
	last := rec.script[len(rec.script)-1]
	last.Phase = cloud.JobFailed
	last.StatusReason = reason
	rec.script = []cloud.JobDetail{last}
	rec.index = 0
	p.terminations = append(p.terminations, id)
	return nil
}

func (p *Provider) EnsureJobRole(ctx context.Context, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.roles[name]; !ok {
		p.roles[name] = &roleRecord{
			arn:               "arn:fake:iam::role/" + name,
			lookupsUntilValid: p.roleLookupDelay,
		}
	}
	return name, nil
}

func (p *Provider) LookupJobRole(ctx context.Context, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.roles[name]
	if !ok {
		return "", fmt.Errorf("role %s: %w", name, cloud.ErrNotFound)
	}
	if rec.lookupsUntilValid > 0 {
		rec.lookupsUntilValid--
		return "", fmt.Errorf("role %s: %w", name, cloud.ErrNotFound)
	}
	return rec.arn, nil
}

// --- cloud.ObjectStore ---

func (p *Provider) EnsureBucket(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.buckets[name]; !ok {
		p.buckets[name] = make(map[string][]byte)
	}
	return nil
}

func (p *Provider) Put(ctx context.Context, bucket, key string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.putErr != nil {
		return p.putErr
	}
	objects, ok := p.buckets[bucket]
	if !ok {
		return fmt.Errorf("bucket %s: %w", bucket, cloud.ErrNotFound)
	}
	cp := make([]byte, len(body))
	copy(cp, body)
	objects[key] = cp
	return nil
}

func (p *Provider) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	objects, ok := p.buckets[bucket]
	if !ok {
		return nil, fmt.Errorf("bucket %s: %w", bucket, cloud.ErrNotFound)
	}
	body, ok := objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s/%s: %w", bucket, key, cloud.ErrNotFound)
	}
	cp := make([]byte, len(body))
	copy(cp, body)
	return cp, nil
}

func (p *Provider) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.buckets[bucket]; !ok {
		return "", fmt.Errorf("bucket %s: %w", bucket, cloud.ErrNotFound)
	}
	return fmt.Sprintf("https://objects.local/%s/%s?expires=%d", bucket, key, int(ttl.Seconds())), nil
}

// --- cloud.LogsAPI ---

func (p *Provider) GetLogEvents(ctx context.Context, group, stream string) ([]cloud.LogEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	events, ok := p.logs[group+"/"+stream]
	if !ok {
		return nil, fmt.Errorf("log stream %s/%s: %w", group, stream, cloud.ErrNotFound)
	}
	cp := make([]cloud.LogEvent, len(events))
	copy(cp, events)
	return cp, nil
}
