package ipc_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"strato/internal/config"
	"strato/internal/daemon"
	"strato/internal/deploy"
	"strato/internal/ipc"
	"strato/internal/logging"
	"strato/internal/metrics"
	"strato/internal/notifications"
	"strato/internal/store"
	"strato/internal/testsupport"
)

type okApplier struct{}

func (okApplier) Apply(context.Context, *store.DeploymentRecord) error { return nil }

type fixture struct {
	cfg    *config.Config
	store  *store.Store
	daemon *daemon.Daemon
	client *ipc.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	pilot := deploy.NewPilot(cfg, st, okApplier{}, logger, metrics.NewCollector(), notifications.NewService(cfg))
	d, err := daemon.New(cfg, st, logger, pilot, metrics.NewCollector())
	if err != nil {
		t.Fatalf("daemon.New failed: %v", err)
	}
	t.Cleanup(func() { d.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon start failed: %v", err)
	}

	socket := filepath.Join(cfg.Paths.StateDir, "stratod.sock")
	srv, err := ipc.NewServer(ctx, socket, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC test: %v", err)
		}
		t.Fatalf("ipc.NewServer failed: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return &fixture{cfg: cfg, store: st, daemon: d, client: client}
}

func TestStatusReportsRunningDaemon(t *testing.T) {
	f := newFixture(t)

	status, err := f.client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if !strings.HasSuffix(status.StoreDBPath, "strato.db") {
		t.Fatalf("unexpected store path: %s", status.StoreDBPath)
	}
	if status.LockPath == "" {
		t.Fatal("expected lock path in status")
	}
}

func TestDeployEnqueueAppliesAndLists(t *testing.T) {
	f := newFixture(t)

	enq, err := f.client.DeployEnqueue("acme/api/main/0")
	if err != nil {
		t.Fatalf("DeployEnqueue RPC failed: %v", err)
	}
	if enq.Deployment.Target != "deploy-acme-api-main-0" {
		t.Fatalf("unexpected target: %s", enq.Deployment.Target)
	}
	if enq.Deployment.RequestID == "" {
		t.Fatal("expected request id on enqueued deployment")
	}

	deadline := time.After(5 * time.Second)
	for {
		list, err := f.client.DeployList(enq.Deployment.Target, 1)
		if err != nil {
			t.Fatalf("DeployList RPC failed: %v", err)
		}
		if len(list.Deployments) == 1 && list.Deployments[0].Status == string(store.DeploymentSucceeded) {
			if list.Deployments[0].FinishedAt == "" {
				t.Fatal("expected finished timestamp on applied deployment")
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("deployment never applied: %#v", list.Deployments)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestDeployEnqueueRejectsMalformedTarget(t *testing.T) {
	f := newFixture(t)

	if _, err := f.client.DeployEnqueue("just-one-part"); err == nil {
		t.Fatal("expected malformed target to be rejected")
	}
}

func TestDeployTrigger(t *testing.T) {
	f := newFixture(t)

	resp, err := f.client.DeployTrigger()
	if err != nil {
		t.Fatalf("DeployTrigger RPC failed: %v", err)
	}
	if !resp.Triggered {
		t.Fatal("expected trigger to be delivered")
	}
}

func TestVolumeListFiltersByState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	requested := testsupport.NewVolume(t, f.store, 8)
	available := testsupport.NewVolume(t, f.store, 16)
	if err := f.store.TransitionVolume(ctx, available.ID, store.VolumeRequested, store.VolumeCreating, ""); err != nil {
		t.Fatalf("TransitionVolume failed: %v", err)
	}
	if err := f.store.TransitionVolume(ctx, available.ID, store.VolumeCreating, store.VolumeAvailable, ""); err != nil {
		t.Fatalf("TransitionVolume failed: %v", err)
	}

	all, err := f.client.VolumeList(nil)
	if err != nil {
		t.Fatalf("VolumeList RPC failed: %v", err)
	}
	if len(all.Volumes) != 2 {
		t.Fatalf("expected 2 volumes, got %d", len(all.Volumes))
	}

	filtered, err := f.client.VolumeList([]string{string(store.VolumeRequested)})
	if err != nil {
		t.Fatalf("VolumeList RPC failed: %v", err)
	}
	if len(filtered.Volumes) != 1 || filtered.Volumes[0].ID != requested.ID {
		t.Fatalf("expected only the requested volume, got %#v", filtered.Volumes)
	}

	if _, err := f.client.VolumeList([]string{"melting"}); err == nil {
		t.Fatal("expected unknown state to be rejected")
	}
}

func TestJobList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.store.NewJob(ctx, &store.JobRecord{
		Name:  "resequence",
		Queue: f.cfg.Batch.Queue,
		Image: "ubuntu:24.04",
	}); err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}

	jobs, err := f.client.JobList(nil)
	if err != nil {
		t.Fatalf("JobList RPC failed: %v", err)
	}
	if len(jobs.Jobs) != 1 || jobs.Jobs[0].Name != "resequence" {
		t.Fatalf("unexpected job listing: %#v", jobs.Jobs)
	}
	if jobs.Jobs[0].Phase != "SUBMITTED" {
		t.Fatalf("expected submitted phase, got %s", jobs.Jobs[0].Phase)
	}
}

func TestNotificationWithoutTopic(t *testing.T) {
	f := newFixture(t)

	resp, err := f.client.TestNotification()
	if err != nil {
		t.Fatalf("TestNotification RPC failed: %v", err)
	}
	if resp.Sent {
		t.Fatal("expected no notification without a configured topic")
	}
	if resp.Message == "" {
		t.Fatal("expected explanatory message")
	}
}
