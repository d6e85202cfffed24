// Package stager decides how a job's execution payload reaches the worker:
// small payloads ride inline in the submission's command field, larger ones
// are uploaded to the object store under a content-addressed key and
// replaced by a fetch-and-exec bootstrap.
package stager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"strato/internal/cloud"
	"strato/internal/faults"
	"strato/internal/logging"
)

// PayloadReference is either an inline escaped payload or object store
// coordinates plus the bootstrap that fetches and executes the staged blob.
// Exactly one of the two forms is populated.
type PayloadReference struct {
	// Inline holds the escaped payload (see EncodeInline). Empty when staged.
	Inline string

	// Bucket/Key locate the staged blob; Bootstrap fetches and executes it.
	Bucket    string
	Key       string
	Bootstrap []string
}

// Staged reports whether the payload was uploaded to the object store.
func (r PayloadReference) Staged() bool {
	return r.Key != ""
}

// Stager uploads oversized payloads and builds their bootstrap commands.
type Stager struct {
	objects cloud.ObjectStore
	bucket  string
	ttl     time.Duration
	logger  *slog.Logger
}

// New constructs a stager writing to the given bucket. Presigned fetch URLs
// expire after ttl.
func New(objects cloud.ObjectStore, bucket string, ttl time.Duration, logger *slog.Logger) *Stager {
	return &Stager{
		objects: objects,
		bucket:  bucket,
		ttl:     ttl,
		logger:  logging.NewComponentLogger(logger, "stager"),
	}
}

// Stage returns an inline reference when the payload fits within
// inlineLimit, otherwise uploads it and returns a staged reference. Upload
// failures surface as StagingFailed; an oversized payload is never silently
// passed inline.
func (s *Stager) Stage(ctx context.Context, payload []byte, inlineLimit int) (PayloadReference, error) {
	if len(payload) <= inlineLimit {
		return PayloadReference{Inline: EncodeInline(payload)}, nil
	}

	sum := sha256.Sum256(payload)
	key := hex.EncodeToString(sum[:])

	if err := s.objects.EnsureBucket(ctx, s.bucket); err != nil {
		return PayloadReference{}, faults.Wrap(faults.ErrStagingFailed, "stager", "ensure-bucket", s.bucket, err)
	}
	if err := s.objects.Put(ctx, s.bucket, key, payload); err != nil {
		return PayloadReference{}, faults.Wrap(faults.ErrStagingFailed, "stager", "upload",
			fmt.Sprintf("%s/%s (%d bytes)", s.bucket, key, len(payload)), err)
	}
	url, err := s.objects.PresignGet(ctx, s.bucket, key, s.ttl)
	if err != nil {
		return PayloadReference{}, faults.Wrap(faults.ErrStagingFailed, "stager", "presign", key, err)
	}

	s.logger.Debug("payload staged",
		logging.String("bucket", s.bucket),
		logging.String("key", key),
		logging.Int("bytes", len(payload)),
	)
	return PayloadReference{
		Bucket:    s.bucket,
		Key:       key,
		Bootstrap: bootstrapCommands(url),
	}, nil
}

// bootstrapCommands builds the fixed-size fetch-and-exec sequence. exec
// replaces the shell so the payload inherits the job's arguments and
// environment unchanged.
func bootstrapCommands(url string) []string {
	return []string{
		`PAYLOAD=$(mktemp --tmpdir strato-job.XXXXX)`,
		fmt.Sprintf(`curl -fsS '%s' > "$PAYLOAD"`, url),
		`chmod +x "$PAYLOAD"`,
		`exec "$PAYLOAD"`,
	}
}
