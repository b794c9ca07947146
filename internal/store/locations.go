package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/roamkit/roam/internal/track"
)

// DeliveryState is the sync lifecycle of a stored location. Delivered
// records are deleted, so only pending and inflight exist as rows.
type DeliveryState string

const (
	StatePending  DeliveryState = "pending"
	StateInflight DeliveryState = "inflight"
)

// Record is a stored location with its delivery metadata. Seq is the
// monotonically increasing creation order used as delivery order.
type Record struct {
	Seq      int64
	State    DeliveryState
	Location track.Location
}

// InsertLocation durably appends a location to the delivery queue and
// returns its sequence. If maxRecords > 0 the oldest rows beyond the cap
// are pruned in the same transaction.
func (s *Store) InsertLocation(ctx context.Context, loc track.Location, maxRecords int) (int64, error) {
	payload, err := json.Marshal(loc)
	if err != nil {
		return 0, ioErr("marshal location", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, ioErr("insert location: begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO locations (id, state, recorded_at, payload)
		VALUES (?, 'pending', ?, ?)
	`, loc.ID, loc.Timestamp.UnixMilli(), string(payload))
	if err != nil {
		return 0, ioErr("insert location", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return 0, ioErr("insert location: last insert id", err)
	}

	if maxRecords > 0 {
		// Inflight rows are mid-delivery and never pruned out from under
		// the sync engine.
		_, err = tx.ExecContext(ctx, `
			DELETE FROM locations
			WHERE state = 'pending' AND seq NOT IN (
				SELECT seq FROM locations ORDER BY seq DESC LIMIT ?
			)
		`, maxRecords)
		if err != nil {
			return 0, ioErr("prune locations", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, ioErr("insert location: commit", err)
	}

	return seq, nil
}

// ClaimPending atomically selects the oldest pending locations up to
// limit and marks them inflight. The claim is a state transition, so a
// concurrently triggered pass can never claim the same record twice.
//
// Returns records in ascending seq order. Empty slice (not nil) when
// nothing is pending.
func (s *Store) ClaimPending(ctx context.Context, limit int) ([]Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, ioErr("claim pending: begin tx", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT seq, state, payload FROM locations
		WHERE state = 'pending'
		ORDER BY seq ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, ioErr("claim pending: query", err)
	}

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	if len(records) > 0 {
		seqs := make([]int64, len(records))
		for i, r := range records {
			seqs[i] = r.Seq
		}
		placeholders, args := inClause(seqs)
		_, err = tx.ExecContext(ctx, `
			UPDATE locations SET state = 'inflight'
			WHERE seq IN (`+placeholders+`) AND state = 'pending'
		`, args...)
		if err != nil {
			return nil, ioErr("claim pending: mark inflight", err)
		}
		for i := range records {
			records[i].State = StateInflight
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, ioErr("claim pending: commit", err)
	}

	return records, nil
}

// ReleaseLocations reverts claimed records to pending, making them
// eligible for the next delivery pass.
func (s *Store) ReleaseLocations(ctx context.Context, seqs ...int64) error {
	if len(seqs) == 0 {
		return nil
	}
	placeholders, args := inClause(seqs)
	_, err := s.db.ExecContext(ctx, `
		UPDATE locations SET state = 'pending'
		WHERE seq IN (`+placeholders+`) AND state = 'inflight'
	`, args...)
	if err != nil {
		return ioErr("release locations", err)
	}
	return nil
}

// DeleteLocations removes records after confirmed delivery (or explicit
// purge). All deletions happen in one transaction.
func (s *Store) DeleteLocations(ctx context.Context, seqs ...int64) error {
	if len(seqs) == 0 {
		return nil
	}
	placeholders, args := inClause(seqs)
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM locations WHERE seq IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return ioErr("delete locations", err)
	}
	return nil
}

// Locations returns stored records in creation order regardless of
// delivery state. limit <= 0 returns everything.
func (s *Store) Locations(ctx context.Context, limit int) ([]Record, error) {
	query := `SELECT seq, state, payload FROM locations ORDER BY seq ASC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ioErr("query locations", err)
	}
	return scanRecords(rows)
}

// CountLocations returns the number of stored locations.
func (s *Store) CountLocations(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM locations`).Scan(&count)
	if err != nil {
		return 0, ioErr("count locations", err)
	}
	return count, nil
}

// PendingCount returns the number of locations eligible for delivery.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM locations WHERE state = 'pending'
	`).Scan(&count)
	if err != nil {
		return 0, ioErr("count pending", err)
	}
	return count, nil
}

// DestroyLocations purges the entire queue regardless of delivery state.
func (s *Store) DestroyLocations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM locations`); err != nil {
		return ioErr("destroy locations", err)
	}
	return nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var state, payload string
		if err := rows.Scan(&r.Seq, &state, &payload); err != nil {
			return nil, ioErr("scan location", err)
		}
		if err := json.Unmarshal([]byte(payload), &r.Location); err != nil {
			return nil, ioErr("unmarshal location", err)
		}
		r.State = DeliveryState(state)
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, ioErr("iterate locations", err)
	}

	// Return empty slice instead of nil
	if records == nil {
		records = []Record{}
	}

	return records, nil
}
