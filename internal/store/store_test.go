package store_test

import (
	"context"
	"errors"
	"testing"

	"strato/internal/store"
	"strato/internal/testsupport"
)

func TestOpenCreatesSchemaAndRoundTripsVolumes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	rec, err := st.NewVolume(ctx, 100, "gp3", "zone-a", "token-1")
	if err != nil {
		t.Fatalf("NewVolume failed: %v", err)
	}
	if rec.ID == 0 {
		t.Fatal("expected volume ID to be assigned")
	}
	if rec.State != store.VolumeRequested {
		t.Fatalf("new volume must start Requested, got %s", rec.State)
	}

	rec.ProviderVolumeID = "vol-abc"
	if err := st.UpdateVolume(ctx, rec); err != nil {
		t.Fatalf("UpdateVolume failed: %v", err)
	}

	found, err := st.FindVolumeByProviderID(ctx, "vol-abc")
	if err != nil {
		t.Fatalf("FindVolumeByProviderID failed: %v", err)
	}
	if found == nil || found.ID != rec.ID || found.SizeGiB != 100 {
		t.Fatalf("unexpected fetched volume: %#v", found)
	}
}

func TestNewVolumeRejectsNonPositiveSize(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	if _, err := st.NewVolume(context.Background(), 0, "gp3", "zone-a", ""); err == nil {
		t.Fatal("expected error for zero size")
	}
}

func TestTransitionVolumeRecordsEveryEdge(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	rec := testsupport.NewVolume(t, st, 50)

	steps := []struct {
		from store.VolumeState
		to   store.VolumeState
	}{
		{store.VolumeRequested, store.VolumeCreating},
		{store.VolumeCreating, store.VolumeAvailable},
		{store.VolumeAvailable, store.VolumeAttaching},
		{store.VolumeAttaching, store.VolumeAttached},
		{store.VolumeAttached, store.VolumeDetaching},
		{store.VolumeDetaching, store.VolumeDetached},
		{store.VolumeDetached, store.VolumeDeleting},
		{store.VolumeDeleting, store.VolumeDeleted},
	}
	for _, step := range steps {
		if err := st.TransitionVolume(ctx, rec.ID, step.from, step.to, ""); err != nil {
			t.Fatalf("transition %s -> %s failed: %v", step.from, step.to, err)
		}
	}

	events, err := st.VolumeEvents(ctx, rec.ID)
	if err != nil {
		t.Fatalf("VolumeEvents failed: %v", err)
	}
	if len(events) != len(steps) {
		t.Fatalf("expected %d events, got %d", len(steps), len(events))
	}
	for i, event := range events {
		if event.FromState != steps[i].from || event.ToState != steps[i].to {
			t.Fatalf("event %d: got %s -> %s, want %s -> %s",
				i, event.FromState, event.ToState, steps[i].from, steps[i].to)
		}
		if i > 0 && events[i-1].ToState != event.FromState {
			t.Fatalf("event %d skips a state: previous ended at %s, next starts at %s",
				i, events[i-1].ToState, event.FromState)
		}
	}
}

func TestTransitionVolumeRejectsIllegalEdge(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	rec := testsupport.NewVolume(t, st, 50)

	err := st.TransitionVolume(ctx, rec.ID, store.VolumeRequested, store.VolumeAttached, "")
	if !errors.Is(err, store.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict for illegal edge, got %v", err)
	}

	got, err := st.GetVolume(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetVolume failed: %v", err)
	}
	if got.State != store.VolumeRequested {
		t.Fatalf("state must be unchanged after refused transition, got %s", got.State)
	}
}

func TestTransitionVolumeDetectsStaleFromState(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	rec := testsupport.NewVolume(t, st, 50)
	if err := st.TransitionVolume(ctx, rec.ID, store.VolumeRequested, store.VolumeCreating, ""); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	// Second writer still believes the volume is Requested.
	err := st.TransitionVolume(ctx, rec.ID, store.VolumeRequested, store.VolumeCreating, "")
	if !errors.Is(err, store.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict for stale from-state, got %v", err)
	}
}

func TestResetInFlightVolumes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	attaching := testsupport.NewVolume(t, st, 10)
	for _, step := range [][2]store.VolumeState{
		{store.VolumeRequested, store.VolumeCreating},
		{store.VolumeCreating, store.VolumeAvailable},
		{store.VolumeAvailable, store.VolumeAttaching},
	} {
		if err := st.TransitionVolume(ctx, attaching.ID, step[0], step[1], ""); err != nil {
			t.Fatalf("transition failed: %v", err)
		}
	}

	count, err := st.ResetInFlightVolumes(ctx)
	if err != nil {
		t.Fatalf("ResetInFlightVolumes failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 volume reset, got %d", count)
	}

	got, err := st.GetVolume(ctx, attaching.ID)
	if err != nil {
		t.Fatalf("GetVolume failed: %v", err)
	}
	if got.State != store.VolumeAvailable {
		t.Fatalf("expected Attaching rolled back to Available, got %s", got.State)
	}
}

func TestNewDeploymentSupersedesOlderPending(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	first, err := st.NewDeployment(ctx, &store.DeploymentRecord{
		Target: "deploy-acme-api-main-0", Org: "acme", App: "api", Branch: "main", Instance: "0",
		RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("NewDeployment failed: %v", err)
	}
	second, err := st.NewDeployment(ctx, &store.DeploymentRecord{
		Target: "deploy-acme-api-main-0", Org: "acme", App: "api", Branch: "main", Instance: "0",
		RequestID: "req-2",
	})
	if err != nil {
		t.Fatalf("NewDeployment failed: %v", err)
	}

	oldRec, err := st.GetDeployment(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetDeployment failed: %v", err)
	}
	if oldRec.Status != store.DeploymentSuperseded {
		t.Fatalf("older pending request must be superseded, got %s", oldRec.Status)
	}

	claimed, err := st.ClaimPendingDeployment(ctx, "deploy-acme-api-main-0")
	if err != nil {
		t.Fatalf("ClaimPendingDeployment failed: %v", err)
	}
	if claimed == nil || claimed.ID != second.ID {
		t.Fatalf("expected newest request claimed, got %#v", claimed)
	}
	if claimed.Status != store.DeploymentApplying {
		t.Fatalf("claimed request must be applying, got %s", claimed.Status)
	}

	again, err := st.ClaimPendingDeployment(ctx, "deploy-acme-api-main-0")
	if err != nil {
		t.Fatalf("ClaimPendingDeployment failed: %v", err)
	}
	if again != nil {
		t.Fatalf("no request should remain claimable, got %#v", again)
	}
}

func TestFinishDeploymentRequiresTerminalStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	rec, err := st.NewDeployment(ctx, &store.DeploymentRecord{
		Target: "deploy-acme-api-main-0", Org: "acme", App: "api", Branch: "main", Instance: "0",
		RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("NewDeployment failed: %v", err)
	}

	if err := st.FinishDeployment(ctx, rec.ID, store.DeploymentPending, ""); err == nil {
		t.Fatal("expected error for non-terminal finish status")
	}
	if err := st.FinishDeployment(ctx, rec.ID, store.DeploymentFailed, "apply exploded"); err != nil {
		t.Fatalf("FinishDeployment failed: %v", err)
	}

	got, err := st.GetDeployment(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetDeployment failed: %v", err)
	}
	if got.Status != store.DeploymentFailed || got.ErrorMessage != "apply exploded" {
		t.Fatalf("unexpected finished record: %#v", got)
	}
	if got.FinishedAt == nil {
		t.Fatal("expected finished timestamp")
	}
}

func TestResetApplyingDeployments(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	rec, err := st.NewDeployment(ctx, &store.DeploymentRecord{
		Target: "deploy-acme-api-main-0", Org: "acme", App: "api", Branch: "main", Instance: "0",
		RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("NewDeployment failed: %v", err)
	}
	if _, err := st.ClaimPendingDeployment(ctx, rec.Target); err != nil {
		t.Fatalf("ClaimPendingDeployment failed: %v", err)
	}

	count, err := st.ResetApplyingDeployments(ctx)
	if err != nil {
		t.Fatalf("ResetApplyingDeployments failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 deployment reset, got %d", count)
	}

	targets, err := st.PendingTargets(ctx)
	if err != nil {
		t.Fatalf("PendingTargets failed: %v", err)
	}
	if len(targets) != 1 || targets[0] != rec.Target {
		t.Fatalf("unexpected pending targets: %v", targets)
	}
}

func TestJobRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	rec, err := st.NewJob(ctx, &store.JobRecord{
		Name:          "nightly-report",
		Queue:         "strato-batch",
		Image:         "worker:latest",
		CommandJSON:   `["echo","hi"]`,
		PayloadInline: true,
		VolumeIDsJSON: `[1,2]`,
	})
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	if rec.ID == 0 {
		t.Fatal("expected job ID to be assigned")
	}

	rec.ProviderJobID = "job-xyz"
	code := 0
	rec.ExitCode = &code
	if err := st.UpdateJob(ctx, rec); err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}

	found, err := st.FindJobByProviderID(ctx, "job-xyz")
	if err != nil {
		t.Fatalf("FindJobByProviderID failed: %v", err)
	}
	if found == nil || found.ID != rec.ID {
		t.Fatalf("unexpected fetched job: %#v", found)
	}
	if found.ExitCode == nil || *found.ExitCode != 0 {
		t.Fatalf("exit code did not round-trip: %#v", found.ExitCode)
	}
	if !found.PayloadInline {
		t.Fatal("payload_inline did not round-trip")
	}
}
