package daemon_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"strato/internal/config"
	"strato/internal/daemon"
	"strato/internal/deploy"
	"strato/internal/logging"
	"strato/internal/metrics"
	"strato/internal/notifications"
	"strato/internal/store"
	"strato/internal/testsupport"
)

type okApplier struct{}

func (okApplier) Apply(context.Context, *store.DeploymentRecord) error { return nil }

func newDaemon(t *testing.T, cfg *config.Config) (*daemon.Daemon, *store.Store) {
	t.Helper()
	st := testsupport.MustOpenStore(t, cfg)
	pilot := deploy.NewPilot(cfg, st, okApplier{}, logging.NewNop(), metrics.NewCollector(), notifications.NewService(cfg))
	d, err := daemon.New(cfg, st, logging.NewNop(), pilot, metrics.NewCollector())
	if err != nil {
		t.Fatalf("daemon.New failed: %v", err)
	}
	return d, st
}

func TestDaemonStartServesMetricsAndStops(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, _ := newDaemon(t, cfg)
	t.Cleanup(func() { d.Stop() })

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.MetricsAddr == "" {
		t.Fatal("expected metrics endpoint to be bound")
	}

	resp, err := http.Get("http://" + status.MetricsAddr + "/metrics")
	if err != nil {
		t.Fatalf("scrape metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected metrics status: %d", resp.StatusCode)
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to report stopped")
	}
}

func TestDaemonRejectsSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, _ := newDaemon(t, cfg)
	t.Cleanup(func() { first.Stop() })

	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	second, _ := newDaemon(t, cfg)
	t.Cleanup(func() { second.Stop() })
	if err := second.Start(context.Background()); err == nil {
		t.Fatal("expected second instance to fail to start")
	}
}

func TestDaemonAppliesEnqueuedDeploy(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, st := newDaemon(t, cfg)
	t.Cleanup(func() { d.Stop() })

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	rec, err := d.EnqueueDeploy(ctx, "acme/api/main/0")
	if err != nil {
		t.Fatalf("EnqueueDeploy failed: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		got, err := st.GetDeployment(ctx, rec.ID)
		if err != nil {
			t.Fatalf("GetDeployment failed: %v", err)
		}
		if got.Status == store.DeploymentSucceeded {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("deployment not applied, status %s", got.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestEnqueueDeployRejectsMalformedTarget(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, _ := newDaemon(t, cfg)
	t.Cleanup(func() { d.Stop() })

	if _, err := d.EnqueueDeploy(context.Background(), "not-a-target"); err == nil {
		t.Fatal("expected malformed target to be rejected")
	}
}
