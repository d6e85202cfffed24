package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const deploymentColumns = "id, target, org, app, branch, instance, request_id, status, error_message, requested_at, started_at, finished_at"

func scanDeployment(scanner interface{ Scan(dest ...any) error }) (*DeploymentRecord, error) {
	var (
		id           int64
		target       string
		org          string
		app          string
		branch       string
		instance     string
		requestID    string
		statusStr    string
		errMsg       sql.NullString
		requestedRaw sql.NullString
		startedRaw   sql.NullString
		finishedRaw  sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&target,
		&org,
		&app,
		&branch,
		&instance,
		&requestID,
		&statusStr,
		&errMsg,
		&requestedRaw,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}

	rec := &DeploymentRecord{
		ID:           id,
		Target:       target,
		Org:          org,
		App:          app,
		Branch:       branch,
		Instance:     instance,
		RequestID:    requestID,
		Status:       DeploymentStatus(statusStr),
		ErrorMessage: errMsg.String,
	}
	if requested, err := parseTimeString(requestedRaw.String); err == nil {
		rec.RequestedAt = requested
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			rec.StartedAt = &started
		}
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			rec.FinishedAt = &finished
		}
	}
	return rec, nil
}

// NewDeployment records a deployment request. Any older pending request for
// the same target is superseded in the same transaction: the queue holds at
// most one pending request per target and the newest wins.
func (s *Store) NewDeployment(ctx context.Context, rec *DeploymentRecord) (*DeploymentRecord, error) {
	if rec == nil {
		return nil, errors.New("deployment record is nil")
	}
	if rec.Target == "" {
		return nil, errors.New("deployment target is required")
	}
	if rec.RequestID == "" {
		return nil, errors.New("deployment request id is required")
	}
	ctx = ensureContext(ctx)
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	var id int64
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin deployment tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE deployments SET status = ?, finished_at = ? WHERE target = ? AND status = ?`,
			DeploymentSuperseded, timestamp, rec.Target, DeploymentPending,
		); err != nil {
			return fmt.Errorf("supersede pending deployments: %w", err)
		}

		res, err := tx.ExecContext(
			ctx,
			`INSERT INTO deployments (
                target, org, app, branch, instance, request_id, status, requested_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.Target,
			rec.Org,
			rec.App,
			rec.Branch,
			rec.Instance,
			rec.RequestID,
			DeploymentPending,
			timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert deployment: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit deployment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetDeployment(ctx, id)
}

// GetDeployment fetches a deployment record by identifier.
func (s *Store) GetDeployment(ctx context.Context, id int64) (*DeploymentRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deploymentColumns+` FROM deployments WHERE id = ?`, id)
	rec, err := scanDeployment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get deployment: %w", err)
	}
	return rec, nil
}

// ClaimPendingDeployment atomically takes the pending request for a target,
// if any, and marks it applying. Returns nil when nothing is pending.
func (s *Store) ClaimPendingDeployment(ctx context.Context, target string) (*DeploymentRecord, error) {
	ctx = ensureContext(ctx)
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	var claimed *DeploymentRecord
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin claim tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(
			ctx,
			`SELECT `+deploymentColumns+` FROM deployments
             WHERE target = ? AND status = ? ORDER BY id DESC LIMIT 1`,
			target, DeploymentPending,
		)
		rec, err := scanDeployment(row)
		if errors.Is(err, sql.ErrNoRows) {
			claimed = nil
			return tx.Commit()
		}
		if err != nil {
			return fmt.Errorf("select pending deployment: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE deployments SET status = ?, started_at = ? WHERE id = ?`,
			DeploymentApplying, timestamp, rec.ID,
		); err != nil {
			return fmt.Errorf("mark deployment applying: %w", err)
		}

		// A restart can leave more than one pending row per target. The
		// newest was claimed above; anything older is stale.
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE deployments SET status = ?, finished_at = ? WHERE target = ? AND status = ?`,
			DeploymentSuperseded, timestamp, target, DeploymentPending,
		); err != nil {
			return fmt.Errorf("supersede stale pending deployments: %w", err)
		}

		rec.Status = DeploymentApplying
		if started, err := parseTimeString(timestamp); err == nil {
			rec.StartedAt = &started
		}
		claimed = rec
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// FinishDeployment records the outcome of an applied deployment.
func (s *Store) FinishDeployment(ctx context.Context, id int64, status DeploymentStatus, errorMessage string) error {
	if status != DeploymentSucceeded && status != DeploymentFailed {
		return fmt.Errorf("finish status must be terminal, got %s", status)
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE deployments SET status = ?, error_message = ?, finished_at = ? WHERE id = ?`,
		status,
		nullableString(errorMessage),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	); err != nil {
		return fmt.Errorf("finish deployment: %w", err)
	}
	return nil
}

// ListDeployments returns the history for a target, newest first, or across
// all targets when target is empty. A limit of zero means no limit.
func (s *Store) ListDeployments(ctx context.Context, target string, limit int) ([]*DeploymentRecord, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments`
	args := []any{}
	if target != "" {
		query += ` WHERE target = ?`
		args = append(args, target)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*DeploymentRecord
	for rows.Next() {
		rec, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deployments: %w", err)
	}
	return records, nil
}

// PendingTargets returns the targets that currently hold a pending request.
func (s *Store) PendingTargets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT DISTINCT target FROM deployments WHERE status = ? ORDER BY target`,
		DeploymentPending,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending targets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var targets []string
	for rows.Next() {
		var target string
		if err := rows.Scan(&target); err != nil {
			return nil, fmt.Errorf("scan pending target: %w", err)
		}
		targets = append(targets, target)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending targets: %w", err)
	}
	return targets, nil
}

// ResetApplyingDeployments returns deployments caught mid-apply by a restart
// to pending so the pilot retries them.
func (s *Store) ResetApplyingDeployments(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE deployments SET status = ?, started_at = NULL WHERE status = ?`,
		DeploymentPending,
		DeploymentApplying,
	)
	if err != nil {
		return 0, fmt.Errorf("reset applying deployments: %w", err)
	}
	return res.RowsAffected()
}
