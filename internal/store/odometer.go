package store

import "context"

// Odometer returns the persisted odometer value in meters.
func (s *Store) Odometer(ctx context.Context) (float64, error) {
	var meters float64
	err := s.db.QueryRowContext(ctx, `SELECT meters FROM odometer WHERE id = 1`).Scan(&meters)
	if err != nil {
		return 0, ioErr("read odometer", err)
	}
	return meters, nil
}

// SetOdometer persists the odometer value.
func (s *Store) SetOdometer(ctx context.Context, meters float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE odometer SET meters = ? WHERE id = 1`, meters)
	if err != nil {
		return ioErr("set odometer", err)
	}
	return nil
}
