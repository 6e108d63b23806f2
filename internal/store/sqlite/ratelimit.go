package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

func (s *Store) CountRateEvents(ctx context.Context, agentID int64, action string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM rate_limit_events
WHERE agent_id = ? AND action = ? AND created_at > ?
`, agentID, action, since.Unix()).Scan(&n)
	return n, err
}

func (s *Store) OldestRateEvent(ctx context.Context, agentID int64, action string, since time.Time) (time.Time, error) {
	var created sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
SELECT MIN(created_at) FROM rate_limit_events
WHERE agent_id = ? AND action = ? AND created_at > ?
`, agentID, action, since.Unix()).Scan(&created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	if !created.Valid {
		return time.Time{}, nil
	}
	return time.Unix(created.Int64, 0), nil
}

func (s *Store) RecordRateEvent(ctx context.Context, agentID int64, action string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO rate_limit_events (agent_id, action, created_at)
VALUES (?, ?, ?)
`, agentID, action, at.Unix())
	return err
}

// PruneRateEvents drops events that can no longer affect any window. Purely
// a storage concern; correctness never depends on pruning having run.
func (s *Store) PruneRateEvents(ctx context.Context, before time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rate_limit_events WHERE created_at <= ?`, before.Unix())
	return err
}
