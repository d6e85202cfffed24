package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"strato/internal/cloud"
)

const jobColumns = "id, provider_job_id, name, queue, image, command_json, phase, status_reason, log_stream, instance_id, exit_code, payload_bucket, payload_key, payload_inline, volume_ids_json, error_message, created_at, updated_at, stopped_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*JobRecord, error) {
	var (
		id            int64
		providerJobID sql.NullString
		name          string
		queue         string
		image         sql.NullString
		commandJSON   sql.NullString
		phaseStr      string
		statusReason  sql.NullString
		logStream     sql.NullString
		instanceID    sql.NullString
		exitCode      sql.NullInt64
		payloadBucket sql.NullString
		payloadKey    sql.NullString
		payloadInline sql.NullInt64
		volumeIDs     sql.NullString
		errMsg        sql.NullString
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
		stoppedRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&providerJobID,
		&name,
		&queue,
		&image,
		&commandJSON,
		&phaseStr,
		&statusReason,
		&logStream,
		&instanceID,
		&exitCode,
		&payloadBucket,
		&payloadKey,
		&payloadInline,
		&volumeIDs,
		&errMsg,
		&createdRaw,
		&updatedRaw,
		&stoppedRaw,
	); err != nil {
		return nil, err
	}

	rec := &JobRecord{
		ID:            id,
		ProviderJobID: providerJobID.String,
		Name:          name,
		Queue:         queue,
		Image:         image.String,
		CommandJSON:   commandJSON.String,
		Phase:         cloud.JobPhase(phaseStr),
		StatusReason:  statusReason.String,
		LogStream:     logStream.String,
		InstanceID:    instanceID.String,
		PayloadBucket: payloadBucket.String,
		PayloadKey:    payloadKey.String,
		VolumeIDsJSON: volumeIDs.String,
		ErrorMessage:  errMsg.String,
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		rec.ExitCode = &code
	}
	if payloadInline.Valid {
		rec.PayloadInline = payloadInline.Int64 != 0
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		rec.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		rec.UpdatedAt = updated
	}
	if stoppedRaw.Valid {
		if stopped, err := parseTimeString(stoppedRaw.String); err == nil {
			rec.StoppedAt = &stopped
		}
	}
	return rec, nil
}

// NewJob records a freshly submitted job.
func (s *Store) NewJob(ctx context.Context, rec *JobRecord) (*JobRecord, error) {
	if rec == nil {
		return nil, errors.New("job record is nil")
	}
	if rec.Name == "" {
		return nil, errors.New("job name is required")
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	phase := rec.Phase
	if phase == "" {
		phase = cloud.JobSubmitted
	}

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (
            provider_job_id, name, queue, image, command_json, phase,
            payload_bucket, payload_key, payload_inline, volume_ids_json,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableString(rec.ProviderJobID),
		rec.Name,
		rec.Queue,
		nullableString(rec.Image),
		nullableString(rec.CommandJSON),
		phase,
		nullableString(rec.PayloadBucket),
		nullableString(rec.PayloadKey),
		boolToInt(rec.PayloadInline),
		nullableString(rec.VolumeIDsJSON),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob fetches a job record by identifier.
func (s *Store) GetJob(ctx context.Context, id int64) (*JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	rec, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return rec, nil
}

// FindJobByProviderID returns the job carrying the provider's identifier.
func (s *Store) FindJobByProviderID(ctx context.Context, providerJobID string) (*JobRecord, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE provider_job_id = ? ORDER BY id LIMIT 1`,
		providerJobID,
	)
	rec, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find job by provider id: %w", err)
	}
	return rec, nil
}

// UpdateJob persists observed progress for a job.
func (s *Store) UpdateJob(ctx context.Context, rec *JobRecord) error {
	if rec == nil {
		return errors.New("job record is nil")
	}
	rec.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE jobs SET provider_job_id = ?, phase = ?, status_reason = ?, log_stream = ?,
            instance_id = ?, exit_code = ?, error_message = ?, updated_at = ?, stopped_at = ?
         WHERE id = ?`,
		nullableString(rec.ProviderJobID),
		rec.Phase,
		nullableString(rec.StatusReason),
		nullableString(rec.LogStream),
		nullableString(rec.InstanceID),
		nullableInt(rec.ExitCode),
		nullableString(rec.ErrorMessage),
		rec.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(rec.StoppedAt),
		rec.ID,
	); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// ListJobs returns jobs filtered to the given phases, or all jobs when none
// are given, newest first.
func (s *Store) ListJobs(ctx context.Context, phases ...cloud.JobPhase) ([]*JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(phases))
	if len(phases) > 0 {
		query += ` WHERE phase IN (` + makePlaceholders(len(phases)) + `)`
		for _, phase := range phases {
			args = append(args, phase)
		}
	}
	query += ` ORDER BY id DESC`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return records, nil
}
