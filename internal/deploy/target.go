package deploy

import (
	"fmt"
	"regexp"
	"strings"
)

// TargetKey identifies one deployable instance of an application branch.
type TargetKey struct {
	Org      string
	App      string
	Branch   string
	Instance string
}

var targetPartPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// NewTargetKey validates the four key parts.
func NewTargetKey(org, app, branch, instance string) (TargetKey, error) {
	key := TargetKey{Org: org, App: app, Branch: branch, Instance: instance}
	for _, part := range []struct {
		name  string
		value string
	}{
		{"org", org},
		{"app", app},
		{"branch", branch},
		{"instance", instance},
	} {
		if !targetPartPattern.MatchString(part.value) {
			return TargetKey{}, fmt.Errorf("invalid target %s %q", part.name, part.value)
		}
	}
	return key, nil
}

// ParseTarget parses the org/app/branch/instance form used by the CLI.
func ParseTarget(s string) (TargetKey, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 4 {
		return TargetKey{}, fmt.Errorf("target must be org/app/branch/instance, got %q", s)
	}
	return NewTargetKey(parts[0], parts[1], parts[2], parts[3])
}

// QueueName derives the deterministic per-target queue name. The same key
// always yields the same name, so requests for one target land in one queue.
func (k TargetKey) QueueName() string {
	return fmt.Sprintf("deploy-%s-%s-%s-%s", k.Org, k.App, k.Branch, k.Instance)
}

func (k TargetKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Org, k.App, k.Branch, k.Instance)
}
