package deploy

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"strato/internal/config"
	"strato/internal/store"
)

// Applier performs one deployment. Implementations must be safe for
// sequential reuse; the pilot never applies concurrently for one target.
type Applier interface {
	Apply(ctx context.Context, rec *store.DeploymentRecord) error
}

// CommandApplier shells out to the configured deploy command with the
// target's coordinates in the environment.
type CommandApplier struct {
	command []string
	timeout time.Duration
	workDir string
}

// NewCommandApplier builds an applier from the deploy configuration section.
func NewCommandApplier(cfg *config.Config) (*CommandApplier, error) {
	if len(cfg.Deploy.Command) == 0 {
		return nil, fmt.Errorf("deploy command is not configured")
	}
	return &CommandApplier{
		command: cfg.Deploy.Command,
		timeout: time.Duration(cfg.Deploy.CommandTimeoutSeconds) * time.Second,
		workDir: cfg.Deploy.WorkDir,
	}, nil
}

func (a *CommandApplier) Apply(ctx context.Context, rec *store.DeploymentRecord) error {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, a.command[0], a.command[1:]...)
	cmd.Dir = a.workDir
	cmd.Env = append(os.Environ(),
		"STRATO_DEPLOY_TARGET="+rec.Target,
		"STRATO_DEPLOY_ORG="+rec.Org,
		"STRATO_DEPLOY_APP="+rec.App,
		"STRATO_DEPLOY_BRANCH="+rec.Branch,
		"STRATO_DEPLOY_INSTANCE="+rec.Instance,
		"STRATO_DEPLOY_REQUEST_ID="+rec.RequestID,
	)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		detail := lastOutputLines(output.Bytes(), 5)
		if detail != "" {
			return fmt.Errorf("deploy command: %w: %s", err, detail)
		}
		return fmt.Errorf("deploy command: %w", err)
	}
	return nil
}

// lastOutputLines trims command output to a tail short enough to store in
// the deployment record.
func lastOutputLines(output []byte, n int) string {
	trimmed := bytes.TrimSpace(output)
	if len(trimmed) == 0 {
		return ""
	}
	lines := bytes.Split(trimmed, []byte("\n"))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return string(bytes.Join(lines, []byte(" / ")))
}
