package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/roamkit/roam/internal/track"
)

// UpsertGeofence inserts or replaces a single geofence by identifier.
func (s *Store) UpsertGeofence(ctx context.Context, g track.Geofence) error {
	return s.UpsertGeofences(ctx, []track.Geofence{g})
}

// UpsertGeofences bulk-inserts geofences in a single transaction, which
// is what makes batch adds an order of magnitude faster than one insert
// per call: one fsync instead of n.
func (s *Store) UpsertGeofences(ctx context.Context, geofences []track.Geofence) error {
	if len(geofences) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ioErr("upsert geofences: begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO geofences
		(identifier, latitude, longitude, radius,
		 notify_on_entry, notify_on_exit, notify_on_dwell,
		 loitering_delay_ms, extras)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identifier) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			radius = excluded.radius,
			notify_on_entry = excluded.notify_on_entry,
			notify_on_exit = excluded.notify_on_exit,
			notify_on_dwell = excluded.notify_on_dwell,
			loitering_delay_ms = excluded.loitering_delay_ms,
			extras = excluded.extras
	`)
	if err != nil {
		return ioErr("upsert geofences: prepare", err)
	}
	defer stmt.Close()

	for _, g := range geofences {
		var extras any
		if len(g.Extras) > 0 {
			data, err := json.Marshal(g.Extras)
			if err != nil {
				return ioErr("upsert geofences: marshal extras", err)
			}
			extras = string(data)
		}

		_, err = stmt.ExecContext(ctx,
			g.Identifier, g.Latitude, g.Longitude, g.Radius,
			g.NotifyOnEntry, g.NotifyOnExit, g.NotifyOnDwell,
			g.LoiteringDelay.Milliseconds(), extras,
		)
		if err != nil {
			return ioErr("upsert geofences: exec", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ioErr("upsert geofences: commit", err)
	}

	return nil
}

// DeleteGeofence removes a geofence by identifier. Returns false if no
// such geofence existed.
func (s *Store) DeleteGeofence(ctx context.Context, identifier string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM geofences WHERE identifier = ?
	`, identifier)
	if err != nil {
		return false, ioErr("delete geofence", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, ioErr("delete geofence: rows affected", err)
	}
	return affected > 0, nil
}

// DeleteAllGeofences removes every geofence.
func (s *Store) DeleteAllGeofences(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM geofences`); err != nil {
		return ioErr("delete all geofences", err)
	}
	return nil
}

// Geofences returns all stored geofences ordered by identifier.
func (s *Store) Geofences(ctx context.Context) ([]track.Geofence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identifier, latitude, longitude, radius,
		       notify_on_entry, notify_on_exit, notify_on_dwell,
		       loitering_delay_ms, extras
		FROM geofences
		ORDER BY identifier ASC
	`)
	if err != nil {
		return nil, ioErr("query geofences", err)
	}
	defer rows.Close()

	var geofences []track.Geofence
	for rows.Next() {
		g, err := scanGeofence(rows)
		if err != nil {
			return nil, err
		}
		geofences = append(geofences, g)
	}

	if err := rows.Err(); err != nil {
		return nil, ioErr("iterate geofences", err)
	}

	if geofences == nil {
		geofences = []track.Geofence{}
	}

	return geofences, nil
}

// Geofence returns a single geofence by identifier.
// Returns sql.ErrNoRows if not found.
func (s *Store) Geofence(ctx context.Context, identifier string) (track.Geofence, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT identifier, latitude, longitude, radius,
		       notify_on_entry, notify_on_exit, notify_on_dwell,
		       loitering_delay_ms, extras
		FROM geofences
		WHERE identifier = ?
	`, identifier)

	var g track.Geofence
	var delayMS int64
	var extras sql.NullString
	err := row.Scan(
		&g.Identifier, &g.Latitude, &g.Longitude, &g.Radius,
		&g.NotifyOnEntry, &g.NotifyOnExit, &g.NotifyOnDwell,
		&delayMS, &extras,
	)
	if err != nil {
		return track.Geofence{}, err
	}
	g.LoiteringDelay = time.Duration(delayMS) * time.Millisecond
	if extras.Valid {
		if err := json.Unmarshal([]byte(extras.String), &g.Extras); err != nil {
			return track.Geofence{}, ioErr("unmarshal geofence extras", err)
		}
	}
	return g, nil
}

func scanGeofence(rows *sql.Rows) (track.Geofence, error) {
	var g track.Geofence
	var delayMS int64
	var extras sql.NullString

	if err := rows.Scan(
		&g.Identifier, &g.Latitude, &g.Longitude, &g.Radius,
		&g.NotifyOnEntry, &g.NotifyOnExit, &g.NotifyOnDwell,
		&delayMS, &extras,
	); err != nil {
		return track.Geofence{}, ioErr("scan geofence", err)
	}

	g.LoiteringDelay = time.Duration(delayMS) * time.Millisecond
	if extras.Valid {
		if err := json.Unmarshal([]byte(extras.String), &g.Extras); err != nil {
			return track.Geofence{}, ioErr("unmarshal geofence extras", err)
		}
	}
	return g, nil
}
