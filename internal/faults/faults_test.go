package faults_test

import (
	"errors"
	"fmt"
	"testing"

	"strato/internal/faults"
)

func TestWrapPreservesMarkerAndCause(t *testing.T) {
	cause := errors.New("socket closed")
	err := faults.Wrap(faults.ErrStagingFailed, "stager", "upload", "bucket strato-jobs", cause)

	if !errors.Is(err, faults.ErrStagingFailed) {
		t.Fatalf("marker lost: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause lost: %v", err)
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := faults.Wrap(nil, "volume", "poll", "", nil)
	if !errors.Is(err, faults.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{faults.Wrap(faults.ErrTransient, "volume", "describe", "", nil), true},
		{fmt.Errorf("lookup: %w", faults.ErrTransientLookupMiss), true},
		{faults.Wrap(faults.ErrJobSubmitRejected, "batch", "submit", "", nil), false},
		{faults.Wrap(faults.ErrStagingFailed, "stager", "upload", "", nil), false},
		{errors.New("plain"), false},
	}
	for _, tc := range cases {
		if got := faults.IsRetryable(tc.err); got != tc.want {
			t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
