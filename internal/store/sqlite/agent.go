package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/alphabot-ai/slashpost/internal/model"
	"github.com/alphabot-ai/slashpost/internal/store"
)

func (s *Store) CreateAgent(ctx context.Context, agent *model.Agent, keyDigest string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO agents (name, description, api_key_digest, karma, verified, external_handle, verification_code, created_at)
VALUES (?, ?, ?, 0, 0, NULL, ?, ?)
`, agent.Name, nullIfEmpty(agent.Description), keyDigest, agent.VerificationCode, agent.CreatedAt.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return 0, store.ErrDuplicateName
		}
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) GetAgent(ctx context.Context, id int64) (model.Agent, error) {
	return s.scanAgentRow(s.db.QueryRowContext(ctx, agentSelect+`WHERE id = ?`, id))
}

func (s *Store) GetAgentByName(ctx context.Context, name string) (model.Agent, error) {
	return s.scanAgentRow(s.db.QueryRowContext(ctx, agentSelect+`WHERE name = ?`, name))
}

func (s *Store) FindAgentByKeyDigest(ctx context.Context, digest string) (model.Agent, error) {
	return s.scanAgentRow(s.db.QueryRowContext(ctx, agentSelect+`WHERE api_key_digest = ?`, digest))
}

func (s *Store) FindAgentByExternalHandle(ctx context.Context, handle string) (model.Agent, error) {
	return s.scanAgentRow(s.db.QueryRowContext(ctx, agentSelect+`WHERE external_handle = ?`, handle))
}

func (s *Store) MarkAgentVerified(ctx context.Context, id int64, handle string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE agents SET verified = 1, external_handle = ? WHERE id = ?
`, handle, id)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateHandle
		}
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AdjustAgentKarma applies the delta as a single arithmetic statement so two
// concurrent adjustments cannot lose an update. Karma saturates at zero.
func (s *Store) AdjustAgentKarma(ctx context.Context, id int64, delta int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE agents SET karma = MAX(0, karma + ?) WHERE id = ?`, delta, id)
	return err
}

func (s *Store) CountFollowers(ctx context.Context, id int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM follows WHERE followee_id = ?`, id).Scan(&n)
	return n, err
}

func (s *Store) CountFollowing(ctx context.Context, id int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM follows WHERE follower_id = ?`, id).Scan(&n)
	return n, err
}

func (s *Store) CreateFollow(ctx context.Context, followerID, followeeID int64) (bool, error) {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO follows (follower_id, followee_id, created_at)
VALUES (?, ?, ?)
`, followerID, followeeID, time.Now().Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) DeleteFollow(ctx context.Context, followerID, followeeID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM follows WHERE follower_id = ? AND followee_id = ?
`, followerID, followeeID)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *Store) ListFollowers(ctx context.Context, agentID int64, limit, offset int) ([]model.Agent, error) {
	return s.listAgents(ctx, agentSelect+`
WHERE id IN (SELECT follower_id FROM follows WHERE followee_id = ?)
ORDER BY name ASC
LIMIT ? OFFSET ?
`, agentID, clamp(limit, 1, 100), max0(offset))
}

func (s *Store) ListFollowing(ctx context.Context, agentID int64, limit, offset int) ([]model.Agent, error) {
	return s.listAgents(ctx, agentSelect+`
WHERE id IN (SELECT followee_id FROM follows WHERE follower_id = ?)
ORDER BY name ASC
LIMIT ? OFFSET ?
`, agentID, clamp(limit, 1, 100), max0(offset))
}

const agentSelect = `
SELECT id, name, description, karma, verified, external_handle, verification_code, created_at
FROM agents
`

func (s *Store) listAgents(ctx context.Context, query string, args ...any) ([]model.Agent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *Store) scanAgentRow(row *sql.Row) (model.Agent, error) {
	a, err := scanAgent(row)
	if err != nil {
		return model.Agent{}, notFoundOr(err)
	}
	return a, nil
}

func scanAgent(scanner interface{ Scan(dest ...any) error }) (model.Agent, error) {
	var a model.Agent
	var desc sql.NullString
	var handle sql.NullString
	var verified int
	var created int64
	if err := scanner.Scan(&a.ID, &a.Name, &desc, &a.Karma, &verified, &handle, &a.VerificationCode, &created); err != nil {
		return model.Agent{}, err
	}
	if desc.Valid {
		a.Description = desc.String
	}
	if handle.Valid {
		a.ExternalHandle = handle.String
	}
	a.Verified = verified == 1
	a.CreatedAt = time.Unix(created, 0)
	return a, nil
}

func max0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
