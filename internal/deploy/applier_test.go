package deploy_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"strato/internal/deploy"
	"strato/internal/store"
	"strato/internal/testsupport"
)

func TestCommandApplierPassesTargetEnvironment(t *testing.T) {
	outFile := filepath.Join(t.TempDir(), "env.txt")
	cfg := testsupport.NewConfig(t, testsupport.WithDeployCommand(
		"/bin/sh", "-c",
		`printf '%s %s %s %s %s\n' "$STRATO_DEPLOY_ORG" "$STRATO_DEPLOY_APP" "$STRATO_DEPLOY_BRANCH" "$STRATO_DEPLOY_INSTANCE" "$STRATO_DEPLOY_REQUEST_ID" > `+outFile,
	))

	applier, err := deploy.NewCommandApplier(cfg)
	if err != nil {
		t.Fatalf("NewCommandApplier failed: %v", err)
	}

	rec := &store.DeploymentRecord{
		Target: "deploy-acme-api-main-0",
		Org:    "acme", App: "api", Branch: "main", Instance: "0",
		RequestID: "req-42",
	}
	if err := applier.Apply(context.Background(), rec); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	raw, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatalf("read command output: %v", err)
	}
	if got := strings.TrimSpace(string(raw)); got != "acme api main 0 req-42" {
		t.Fatalf("unexpected environment seen by command: %q", got)
	}
}

func TestCommandApplierSurfacesFailureOutput(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDeployCommand(
		"/bin/sh", "-c", "echo release not found >&2; exit 3",
	))

	applier, err := deploy.NewCommandApplier(cfg)
	if err != nil {
		t.Fatalf("NewCommandApplier failed: %v", err)
	}

	err = applier.Apply(context.Background(), &store.DeploymentRecord{
		Target: "deploy-acme-api-main-0",
		Org:    "acme", App: "api", Branch: "main", Instance: "0",
		RequestID: "req-1",
	})
	if err == nil {
		t.Fatal("expected apply failure")
	}
	if !strings.Contains(err.Error(), "release not found") {
		t.Fatalf("expected command output in error, got %v", err)
	}
}

func TestNewCommandApplierRequiresCommand(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := deploy.NewCommandApplier(cfg); err == nil {
		t.Fatal("expected error when deploy command is unset")
	}
}
