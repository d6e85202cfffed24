// Package faults defines the shared error taxonomy for provider-facing
// operations. Components wrap failures with one of the exported sentinels so
// callers and the retry policy can classify them without string matching.
package faults

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStagingFailed marks an object-store upload failure while staging an
	// execution payload. Not retried automatically.
	ErrStagingFailed = errors.New("payload staging failed")

	// ErrVolumeCreateTimeout marks a volume that never reached Available
	// within the creation timeout.
	ErrVolumeCreateTimeout = errors.New("volume create timeout")

	// ErrAttachFailed marks an attach that exhausted its retry budget or
	// deadline.
	ErrAttachFailed = errors.New("volume attach failed")

	// ErrDetachTimeout marks a detach that missed its deadline. The volume
	// manager converts this into forced reclamation rather than surfacing it
	// as a fatal error.
	ErrDetachTimeout = errors.New("volume detach timeout")

	// ErrJobSubmitRejected marks a submission the provider refused outright.
	// Fatal, never retried.
	ErrJobSubmitRejected = errors.New("job submission rejected")

	// ErrTransientLookupMiss marks a read that raced the provider's
	// eventual-consistency window. Retried a bounded number of times.
	ErrTransientLookupMiss = errors.New("resource not yet visible")

	// ErrDeployApplyFailed marks a single target's deployment failure.
	// Isolated to that target; never crashes the pilot.
	ErrDeployApplyFailed = errors.New("deploy apply failed")

	// ErrTransient is the generic marker for failures worth retrying.
	ErrTransient = errors.New("transient failure")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsRetryable reports whether an error is worth another attempt under the
// shared retry policy.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrTransientLookupMiss)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "operation failure"
	}
	return strings.Join(parts, ": ")
}
