package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrStateConflict indicates a transition was refused: either the edge is
// illegal or the record changed state under the caller.
var ErrStateConflict = errors.New("volume state conflict")

const volumeColumns = "id, provider_volume_id, size_gib, type, availability_zone, client_token, state, instance_id, device, error_message, created_at, updated_at"

func scanVolume(scanner interface{ Scan(dest ...any) error }) (*VolumeRecord, error) {
	var (
		id         int64
		providerID sql.NullString
		sizeGiB    int64
		volType    sql.NullString
		zone       sql.NullString
		token      sql.NullString
		stateStr   string
		instanceID sql.NullString
		device     sql.NullString
		errMsg     sql.NullString
		createdRaw sql.NullString
		updatedRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&providerID,
		&sizeGiB,
		&volType,
		&zone,
		&token,
		&stateStr,
		&instanceID,
		&device,
		&errMsg,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	rec := &VolumeRecord{
		ID:               id,
		ProviderVolumeID: providerID.String,
		SizeGiB:          int(sizeGiB),
		Type:             volType.String,
		AvailabilityZone: zone.String,
		ClientToken:      token.String,
		State:            VolumeState(stateStr),
		InstanceID:       instanceID.String,
		Device:           device.String,
		ErrorMessage:     errMsg.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		rec.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		rec.UpdatedAt = updated
	}
	return rec, nil
}

// NewVolume inserts a volume in the Requested state.
func (s *Store) NewVolume(ctx context.Context, sizeGiB int, volType, zone, clientToken string) (*VolumeRecord, error) {
	if sizeGiB <= 0 {
		return nil, fmt.Errorf("volume size must be positive, got %d", sizeGiB)
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO volumes (
            size_gib, type, availability_zone, client_token, state, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sizeGiB,
		nullableString(volType),
		nullableString(zone),
		nullableString(clientToken),
		VolumeRequested,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert volume: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return s.GetVolume(ctx, id)
}

// GetVolume fetches a volume record by identifier.
func (s *Store) GetVolume(ctx context.Context, id int64) (*VolumeRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+volumeColumns+` FROM volumes WHERE id = ?`, id)
	rec, err := scanVolume(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get volume: %w", err)
	}
	return rec, nil
}

// FindVolumeByProviderID returns the volume carrying the provider's identifier.
func (s *Store) FindVolumeByProviderID(ctx context.Context, providerID string) (*VolumeRecord, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+volumeColumns+` FROM volumes WHERE provider_volume_id = ? ORDER BY id LIMIT 1`,
		providerID,
	)
	rec, err := scanVolume(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find volume by provider id: %w", err)
	}
	return rec, nil
}

// UpdateVolume persists mutable fields outside of the state column. State
// changes go through TransitionVolume so every edge is checked and recorded.
func (s *Store) UpdateVolume(ctx context.Context, rec *VolumeRecord) error {
	if rec == nil {
		return errors.New("volume record is nil")
	}
	rec.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE volumes SET provider_volume_id = ?, instance_id = ?, device = ?, error_message = ?, updated_at = ?
         WHERE id = ?`,
		nullableString(rec.ProviderVolumeID),
		nullableString(rec.InstanceID),
		nullableString(rec.Device),
		nullableString(rec.ErrorMessage),
		rec.UpdatedAt.Format(time.RFC3339Nano),
		rec.ID,
	); err != nil {
		return fmt.Errorf("update volume: %w", err)
	}
	return nil
}

// TransitionVolume moves a volume from one state to another and records the
// edge in volume_events within the same transaction. The update is
// conditional on the current state, so a concurrent writer loses with
// ErrStateConflict rather than silently skipping a state.
func (s *Store) TransitionVolume(ctx context.Context, id int64, from, to VolumeState, detail string) error {
	if !ValidVolumeTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s is not a legal edge", ErrStateConflict, from, to)
	}
	ctx = ensureContext(ctx)
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transition tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(
			ctx,
			`UPDATE volumes SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
			to, timestamp, id, from,
		)
		if err != nil {
			return fmt.Errorf("transition volume: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("transition rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: volume %d is not in state %s", ErrStateConflict, id, from)
		}

		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO volume_events (volume_id, from_state, to_state, detail, created_at)
             VALUES (?, ?, ?, ?, ?)`,
			id, from, to, nullableString(detail), timestamp,
		); err != nil {
			return fmt.Errorf("record volume event: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transition: %w", err)
		}
		return nil
	})
}

// ListVolumes returns volumes filtered to the given states, or all volumes
// when none are given, ordered by identifier.
func (s *Store) ListVolumes(ctx context.Context, states ...VolumeState) ([]*VolumeRecord, error) {
	query := `SELECT ` + volumeColumns + ` FROM volumes`
	args := make([]any, 0, len(states))
	if len(states) > 0 {
		query += ` WHERE state IN (` + makePlaceholders(len(states)) + `)`
		for _, state := range states {
			args = append(args, state)
		}
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list volumes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*VolumeRecord
	for rows.Next() {
		rec, err := scanVolume(rows)
		if err != nil {
			return nil, fmt.Errorf("scan volume: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate volumes: %w", err)
	}
	return records, nil
}

// VolumeEvents returns the full transition history of a volume in order.
func (s *Store) VolumeEvents(ctx context.Context, volumeID int64) ([]VolumeEvent, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT id, volume_id, from_state, to_state, detail, created_at
         FROM volume_events WHERE volume_id = ? ORDER BY id`,
		volumeID,
	)
	if err != nil {
		return nil, fmt.Errorf("list volume events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []VolumeEvent
	for rows.Next() {
		var (
			event      VolumeEvent
			fromStr    string
			toStr      string
			detail     sql.NullString
			createdRaw sql.NullString
		)
		if err := rows.Scan(&event.ID, &event.VolumeID, &fromStr, &toStr, &detail, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan volume event: %w", err)
		}
		event.FromState = VolumeState(fromStr)
		event.ToState = VolumeState(toStr)
		event.Detail = detail.String
		if created, err := parseTimeString(createdRaw.String); err == nil {
			event.CreatedAt = created
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate volume events: %w", err)
	}
	return events, nil
}

// ResetInFlightVolumes rolls volumes caught mid-operation by a restart back
// to the last stable state so the manager can re-drive them from the
// provider's actual state.
func (s *Store) ResetInFlightVolumes(ctx context.Context) (int64, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE volumes
         SET state = CASE state
             WHEN ? THEN ?
             WHEN ? THEN ?
             ELSE state
         END,
             updated_at = ?
         WHERE state IN (?, ?)`,
		VolumeAttaching, VolumeAvailable,
		VolumeDetaching, VolumeAttached,
		timestamp,
		VolumeAttaching,
		VolumeDetaching,
	)
	if err != nil {
		return 0, fmt.Errorf("reset in-flight volumes: %w", err)
	}
	return res.RowsAffected()
}
