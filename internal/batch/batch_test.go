package batch_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"strato/internal/batch"
	"strato/internal/cloud"
	"strato/internal/cloud/cloudfake"
	"strato/internal/config"
	"strato/internal/faults"
	"strato/internal/logging"
	"strato/internal/metrics"
	"strato/internal/notifications"
	"strato/internal/stager"
	"strato/internal/store"
	"strato/internal/testsupport"
	"strato/internal/volume"
)

type fixture struct {
	cfg      *config.Config
	store    *store.Store
	provider *cloudfake.Provider
	clock    *testsupport.FakeClock
	manager  *batch.Manager
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustOpenStore(t, cfg)
	provider := cloudfake.New()
	clock := testsupport.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	logger := logging.NewNop()
	collector := metrics.NewCollector()
	notifier := notifications.NewService(cfg)

	payloadStager := stager.New(provider, cfg.Provider.Bucket, time.Hour, logger)
	volumeManager := volume.NewManager(cfg, st, provider, provider, clock, logger, collector, notifier)
	manager := batch.NewManager(cfg, st, provider, provider, payloadStager, volumeManager,
		clock, logger, collector, notifier)
	return &fixture{cfg: cfg, store: st, provider: provider, clock: clock, manager: manager}
}

func TestSubmitInlinePayload(t *testing.T) {
	f := newFixture(t)
	payload := []byte("#!/bin/bash\necho hello\n")

	sub, err := f.manager.Submit(context.Background(), batch.SubmitRequest{
		Name:    "greet",
		Payload: payload,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if sub.Payload.Staged() {
		t.Fatal("small payload must stay inline")
	}
	if !sub.Record.PayloadInline {
		t.Fatal("record must mark the payload inline")
	}

	var command []string
	if err := json.Unmarshal([]byte(sub.Record.CommandJSON), &command); err != nil {
		t.Fatalf("parse recorded command: %v", err)
	}
	if len(command) != 3 || command[0] != "/bin/bash" {
		t.Fatalf("unexpected command shape: %v", command)
	}
	if !strings.Contains(command[2], sub.Payload.Inline) {
		t.Fatal("command does not carry the encoded payload")
	}
	if strings.Contains(command[2], "\n") {
		t.Fatal("command string must not contain raw newlines")
	}
}

func TestSubmitStagesOversizedPayload(t *testing.T) {
	f := newFixture(t, testsupport.WithInlineLimit(16))

	sub, err := f.manager.Submit(context.Background(), batch.SubmitRequest{
		Name:    "big",
		Payload: []byte(strings.Repeat("x", 64)),
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !sub.Payload.Staged() {
		t.Fatal("oversized payload must be staged")
	}

	var command []string
	if err := json.Unmarshal([]byte(sub.Record.CommandJSON), &command); err != nil {
		t.Fatalf("parse recorded command: %v", err)
	}
	if !strings.Contains(command[2], "curl") {
		t.Fatalf("staged command must fetch the payload: %v", command)
	}
}

func TestSubmitWaitsOutRoleVisibilityWindow(t *testing.T) {
	f := newFixture(t)
	f.provider.SetRoleVisibilityDelay(2)

	_, err := f.manager.Submit(context.Background(), batch.SubmitRequest{
		Name:    "patient",
		Payload: []byte("echo ok"),
	})
	if err != nil {
		t.Fatalf("Submit failed despite retries: %v", err)
	}
	if f.clock.Elapsed() == 0 {
		t.Fatal("expected backoff between role lookups")
	}
}

func TestSubmitFailsWhenRoleNeverAppears(t *testing.T) {
	f := newFixture(t)
	f.provider.SetRoleVisibilityDelay(100)

	_, err := f.manager.Submit(context.Background(), batch.SubmitRequest{
		Name:    "orphan",
		Payload: []byte("echo ok"),
	})
	if !errors.Is(err, faults.ErrTransientLookupMiss) {
		t.Fatalf("expected ErrTransientLookupMiss, got %v", err)
	}
}

func TestSubmitRejectionReleasesProvisionedVolumes(t *testing.T) {
	f := newFixture(t)
	f.provider.RejectSubmits(errors.New("queue disabled"))

	_, err := f.manager.Submit(context.Background(), batch.SubmitRequest{
		Name:    "doomed",
		Payload: []byte("echo ok"),
		Volumes: []batch.VolumeRequest{{SizeGiB: 10, Type: "gp3", Zone: "zone-a"}},
	})
	if !errors.Is(err, faults.ErrJobSubmitRejected) {
		t.Fatalf("expected ErrJobSubmitRejected, got %v", err)
	}

	volumes, listErr := f.store.ListVolumes(context.Background())
	if listErr != nil {
		t.Fatalf("ListVolumes failed: %v", listErr)
	}
	for _, rec := range volumes {
		if rec.State != store.VolumeDeleted {
			t.Fatalf("volume %d left in %s after rejected submit", rec.ID, rec.State)
		}
	}
}

func TestWatchWalksPhasesAndTearsDownVolumes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.manager.Submit(ctx, batch.SubmitRequest{
		Name:    "pipeline",
		Payload: []byte("echo run"),
		Volumes: []batch.VolumeRequest{{SizeGiB: 20, Type: "gp3", Zone: "zone-a"}},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	f.provider.AddLogEvents(f.cfg.Provider.LogGroup, sub.Record.ProviderJobID+"/default", "run complete")

	watcher, err := f.manager.Watch(ctx, sub.Record.ID)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	var phases []cloud.JobPhase
	var final *batch.Update
	for {
		update, err := watcher.Next(ctx)
		if errors.Is(err, batch.ErrWatchDone) {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		phases = append(phases, update.Detail.Phase)
		final = update
	}

	want := []cloud.JobPhase{cloud.JobRunnable, cloud.JobStarting, cloud.JobRunning, cloud.JobSucceeded}
	if len(phases) != len(want) {
		t.Fatalf("expected phases %v, got %v", want, phases)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("expected phases %v, got %v", want, phases)
		}
	}
	if len(final.Logs) != 1 || final.Logs[0].Message != "run complete" {
		t.Fatalf("expected job logs delivered, got %#v", final.Logs)
	}

	rec, err := f.store.GetJob(ctx, sub.Record.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if rec.Phase != cloud.JobSucceeded {
		t.Fatalf("expected SUCCEEDED persisted, got %s", rec.Phase)
	}
	if rec.ExitCode == nil || *rec.ExitCode != 0 {
		t.Fatalf("expected exit code 0 persisted, got %#v", rec.ExitCode)
	}
	if rec.StoppedAt == nil {
		t.Fatal("expected stop timestamp persisted")
	}

	// Volume was attached once on the instance report, then torn down.
	vol, err := f.store.GetVolume(ctx, sub.VolumeIDs[0])
	if err != nil {
		t.Fatalf("GetVolume failed: %v", err)
	}
	if vol.State != store.VolumeDeleted {
		t.Fatalf("expected job volume released, got %s", vol.State)
	}
	if calls := f.provider.AttachCalls(vol.ProviderVolumeID); calls != 1 {
		t.Fatalf("expected 1 attach call, got %d", calls)
	}
}

func TestWatchCompletedJobEndsImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.manager.Submit(ctx, batch.SubmitRequest{
		Name:    "finished",
		Payload: []byte("echo ok"),
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	watcher, err := f.manager.Watch(ctx, sub.Record.ID)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	for {
		if _, err := watcher.Next(ctx); errors.Is(err, batch.ErrWatchDone) {
			break
		} else if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
	}

	// A second watch over the now terminal record must not poll at all.
	again, err := f.manager.Watch(ctx, sub.Record.ID)
	if err != nil {
		t.Fatalf("re-Watch failed: %v", err)
	}
	if _, err := again.Next(ctx); !errors.Is(err, batch.ErrWatchDone) {
		t.Fatalf("expected ErrWatchDone for a completed job, got %v", err)
	}
}

func TestSubmitTerminatesJobWhenRecordPersistFails(t *testing.T) {
	f := newFixture(t)
	f.store.Close()

	_, err := f.manager.Submit(context.Background(), batch.SubmitRequest{
		Name:    "untracked",
		Payload: []byte("echo ok"),
	})
	if err == nil {
		t.Fatal("expected Submit to fail when the record cannot be persisted")
	}
	if terms := f.provider.Terminations(); len(terms) != 1 {
		t.Fatalf("expected the accepted job terminated, got %v", terms)
	}
}

func TestWatchMarksFailureBeforeStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.ScriptNextJob(
		cloud.JobDetail{Phase: cloud.JobSubmitted},
		cloud.JobDetail{Phase: cloud.JobRunnable},
		cloud.JobDetail{Phase: cloud.JobFailed, StatusReason: "CannotPullContainerError"},
	)

	sub, err := f.manager.Submit(ctx, batch.SubmitRequest{
		Name:    "nostart",
		Payload: []byte("echo never"),
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	watcher, err := f.manager.Watch(ctx, sub.Record.ID)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	var final *batch.Update
	for {
		update, err := watcher.Next(ctx)
		if errors.Is(err, batch.ErrWatchDone) {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		final = update
	}

	if final == nil || final.Detail.Phase != cloud.JobFailed {
		t.Fatalf("expected FAILED delivered, got %#v", final)
	}
	if !final.FailedBeforeStart {
		t.Fatal("failure without a log stream must be marked failed-before-start")
	}

	rec, err := f.store.GetJob(ctx, sub.Record.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if !strings.Contains(rec.ErrorMessage, "before the container started") {
		t.Fatalf("unexpected error message: %q", rec.ErrorMessage)
	}
}

func TestWatchFailureDuringExecutionKeepsLogs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exitCode := 1
	f.provider.ScriptNextJob(
		cloud.JobDetail{Phase: cloud.JobSubmitted},
		cloud.JobDetail{Phase: cloud.JobRunning, InstanceID: "i-fake", LogStreamName: "crash/default"},
		cloud.JobDetail{Phase: cloud.JobFailed, InstanceID: "i-fake", LogStreamName: "crash/default",
			StatusReason: "Essential container exited", ExitCode: &exitCode},
	)

	sub, err := f.manager.Submit(ctx, batch.SubmitRequest{
		Name:    "crashy",
		Payload: []byte("exit 1"),
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	f.provider.AddLogEvents(f.cfg.Provider.LogGroup, "crash/default", "panic: boom")

	watcher, err := f.manager.Watch(ctx, sub.Record.ID)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	var final *batch.Update
	for {
		update, err := watcher.Next(ctx)
		if errors.Is(err, batch.ErrWatchDone) {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		final = update
	}

	if final.FailedBeforeStart {
		t.Fatal("failure with a log stream is not failed-before-start")
	}
	if len(final.Logs) != 1 || final.Logs[0].Message != "panic: boom" {
		t.Fatalf("expected crash logs delivered, got %#v", final.Logs)
	}
	rec, err := f.store.GetJob(ctx, sub.Record.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if rec.ExitCode == nil || *rec.ExitCode != 1 {
		t.Fatalf("expected exit code 1 persisted, got %#v", rec.ExitCode)
	}
}
