package deploy_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"strato/internal/config"
	"strato/internal/deploy"
	"strato/internal/logging"
	"strato/internal/metrics"
	"strato/internal/notifications"
	"strato/internal/store"
	"strato/internal/testsupport"
)

// recordingApplier captures applied requests, fails targets on demand, and
// can hold a target's apply open on a gate channel.
type recordingApplier struct {
	mu      sync.Mutex
	applied []store.DeploymentRecord
	failFor map[string]error
	blockOn map[string]chan struct{}
}

func (a *recordingApplier) Apply(ctx context.Context, rec *store.DeploymentRecord) error {
	a.mu.Lock()
	gate := a.blockOn[rec.Target]
	failErr := a.failFor[rec.Target]
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if failErr != nil {
		return failErr
	}

	a.mu.Lock()
	a.applied = append(a.applied, *rec)
	a.mu.Unlock()
	return nil
}

func (a *recordingApplier) appliedRequests() []store.DeploymentRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]store.DeploymentRecord, len(a.applied))
	copy(out, a.applied)
	return out
}

type pilotFixture struct {
	cfg     *config.Config
	store   *store.Store
	applier *recordingApplier
	pilot   *deploy.Pilot
}

func newPilotFixture(t *testing.T) *pilotFixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	applier := &recordingApplier{
		failFor: map[string]error{},
		blockOn: map[string]chan struct{}{},
	}
	pilot := deploy.NewPilot(cfg, st, applier, logging.NewNop(), metrics.NewCollector(), notifications.NewService(cfg))
	return &pilotFixture{cfg: cfg, store: st, applier: applier, pilot: pilot}
}

func mustKey(t *testing.T, org, app, branch, instance string) deploy.TargetKey {
	t.Helper()
	key, err := deploy.NewTargetKey(org, app, branch, instance)
	if err != nil {
		t.Fatalf("NewTargetKey failed: %v", err)
	}
	return key
}

func TestBurstCoalescesToNewestRequest(t *testing.T) {
	f := newPilotFixture(t)
	ctx := context.Background()
	key := mustKey(t, "acme", "api", "main", "0")

	r1, err := f.pilot.Enqueue(ctx, key)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	r2, err := f.pilot.Enqueue(ctx, key)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if err := f.pilot.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	applied := f.applier.appliedRequests()
	if len(applied) != 1 {
		t.Fatalf("expected exactly one apply, got %d", len(applied))
	}
	if applied[0].RequestID != r2.RequestID {
		t.Fatalf("expected newest request applied, got %s", applied[0].RequestID)
	}

	first, err := f.store.GetDeployment(ctx, r1.ID)
	if err != nil {
		t.Fatalf("GetDeployment failed: %v", err)
	}
	if first.Status != store.DeploymentSuperseded {
		t.Fatalf("expected first request superseded, got %s", first.Status)
	}
	second, err := f.store.GetDeployment(ctx, r2.ID)
	if err != nil {
		t.Fatalf("GetDeployment failed: %v", err)
	}
	if second.Status != store.DeploymentSucceeded {
		t.Fatalf("expected second request succeeded, got %s", second.Status)
	}
}

func TestFailingTargetDoesNotBlockOthers(t *testing.T) {
	f := newPilotFixture(t)
	ctx := context.Background()
	broken := mustKey(t, "acme", "api", "main", "0")
	healthy := mustKey(t, "acme", "web", "main", "0")
	f.applier.failFor[broken.QueueName()] = errors.New("helm upgrade exited 1")

	rb, err := f.pilot.Enqueue(ctx, broken)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	rh, err := f.pilot.Enqueue(ctx, healthy)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if err := f.pilot.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	brokenRec, err := f.store.GetDeployment(ctx, rb.ID)
	if err != nil {
		t.Fatalf("GetDeployment failed: %v", err)
	}
	if brokenRec.Status != store.DeploymentFailed {
		t.Fatalf("expected failed status, got %s", brokenRec.Status)
	}
	if brokenRec.ErrorMessage == "" {
		t.Fatal("expected apply error recorded")
	}

	healthyRec, err := f.store.GetDeployment(ctx, rh.ID)
	if err != nil {
		t.Fatalf("GetDeployment failed: %v", err)
	}
	if healthyRec.Status != store.DeploymentSucceeded {
		t.Fatalf("expected healthy target applied, got %s", healthyRec.Status)
	}
}

func TestSlowTargetDoesNotDelayFastTarget(t *testing.T) {
	f := newPilotFixture(t)
	ctx := context.Background()
	slow := mustKey(t, "acme", "api", "main", "0")
	fast := mustKey(t, "acme", "web", "main", "0")
	gate := make(chan struct{})
	f.applier.blockOn[slow.QueueName()] = gate

	rs, err := f.pilot.Enqueue(ctx, slow)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	rf, err := f.pilot.Enqueue(ctx, fast)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- f.pilot.RunOnce(ctx) }()

	// The fast target must finish while the slow apply is still held open.
	deadline := time.After(5 * time.Second)
	for {
		got, err := f.store.GetDeployment(ctx, rf.ID)
		if err != nil {
			t.Fatalf("GetDeployment failed: %v", err)
		}
		if got.Status == store.DeploymentSucceeded {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("fast target stuck behind slow one, status %s", got.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	slowRec, err := f.store.GetDeployment(ctx, rs.ID)
	if err != nil {
		t.Fatalf("GetDeployment failed: %v", err)
	}
	if slowRec.Status != store.DeploymentApplying {
		t.Fatalf("expected slow target still applying, got %s", slowRec.Status)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	slowRec, err = f.store.GetDeployment(ctx, rs.ID)
	if err != nil {
		t.Fatalf("GetDeployment failed: %v", err)
	}
	if slowRec.Status != store.DeploymentSucceeded {
		t.Fatalf("expected slow target applied after release, got %s", slowRec.Status)
	}
}

func TestFailedApplyDoesNotRetryWithoutNewRequest(t *testing.T) {
	f := newPilotFixture(t)
	ctx := context.Background()
	key := mustKey(t, "acme", "api", "main", "0")
	f.applier.failFor[key.QueueName()] = errors.New("boom")

	if _, err := f.pilot.Enqueue(ctx, key); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := f.pilot.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if err := f.pilot.RunOnce(ctx); err != nil {
		t.Fatalf("second RunOnce failed: %v", err)
	}

	targets, err := f.store.PendingTargets(ctx)
	if err != nil {
		t.Fatalf("PendingTargets failed: %v", err)
	}
	if len(targets) != 0 {
		t.Fatalf("failed request must not linger as pending: %v", targets)
	}
}

func TestTriggerWakesRunLoop(t *testing.T) {
	// The default poll interval is far longer than the test deadline, so a
	// prompt apply can only come from the trigger.
	f := newPilotFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.pilot.Run(ctx) }()

	key := mustKey(t, "acme", "api", "main", "0")
	rec, err := f.pilot.Enqueue(ctx, key)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		got, err := f.store.GetDeployment(ctx, rec.ID)
		if err != nil {
			t.Fatalf("GetDeployment failed: %v", err)
		}
		if got.Status == store.DeploymentSucceeded {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("deployment not applied after trigger, status %s", got.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled from Run, got %v", err)
	}
}
