package stager_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"strato/internal/cloud/cloudfake"
	"strato/internal/faults"
	"strato/internal/logging"
	"strato/internal/stager"
)

func newStager(provider *cloudfake.Provider) *stager.Stager {
	return stager.New(provider, "strato-jobs", time.Hour, logging.NewNop())
}

func TestStageInlineAtOrBelowLimit(t *testing.T) {
	s := newStager(cloudfake.New())
	payload := bytes.Repeat([]byte("x"), 64)

	ref, err := s.Stage(context.Background(), payload, 64)
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	if ref.Staged() {
		t.Fatal("payload at the limit must stay inline")
	}
	decoded, err := stager.DecodeInline(ref.Inline)
	if err != nil {
		t.Fatalf("DecodeInline failed: %v", err)
	}
	if !bytes.Equal(decoded, payload) {
		t.Fatal("inline payload corrupted")
	}
}

func TestStageUploadsAboveLimit(t *testing.T) {
	provider := cloudfake.New()
	s := newStager(provider)
	payload := bytes.Repeat([]byte("y"), 65)

	ref, err := s.Stage(context.Background(), payload, 64)
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	if !ref.Staged() {
		t.Fatal("oversized payload must be staged")
	}
	if ref.Inline != "" {
		t.Fatal("staged reference must not carry an inline form")
	}

	stored, err := provider.Get(context.Background(), ref.Bucket, ref.Key)
	if err != nil {
		t.Fatalf("Get staged object: %v", err)
	}
	if !bytes.Equal(stored, payload) {
		t.Fatal("staged blob does not round-trip")
	}

	joined := strings.Join(ref.Bootstrap, "\n")
	if !strings.Contains(joined, "curl") || !strings.Contains(joined, ref.Key) {
		t.Fatalf("bootstrap does not fetch the staged object: %q", joined)
	}
	if !strings.Contains(ref.Bootstrap[len(ref.Bootstrap)-1], "exec") {
		t.Fatalf("bootstrap must exec the payload: %q", ref.Bootstrap)
	}
}

func TestStageContentAddressedKeysAreStable(t *testing.T) {
	provider := cloudfake.New()
	s := newStager(provider)
	payload := bytes.Repeat([]byte("z"), 100)

	ref1, err := s.Stage(context.Background(), payload, 10)
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	ref2, err := s.Stage(context.Background(), payload, 10)
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	if ref1.Key != ref2.Key {
		t.Fatalf("same payload must stage to the same key: %s vs %s", ref1.Key, ref2.Key)
	}
}

func TestStageUploadErrorIsStagingFailed(t *testing.T) {
	provider := cloudfake.New()
	provider.FailPuts(errors.New("access denied"))
	s := newStager(provider)

	_, err := s.Stage(context.Background(), bytes.Repeat([]byte("q"), 100), 10)
	if err == nil {
		t.Fatal("expected staging failure; oversized payloads must never fall back to inline")
	}
	if !errors.Is(err, faults.ErrStagingFailed) {
		t.Fatalf("expected ErrStagingFailed, got %v", err)
	}
}
