package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/alphabot-ai/slashpost/internal/store"
)

// Like and repost toggles work the same way: the relation row, the post
// counter, and the author's karma move inside one transaction. The unique
// (agent_id, post_id) index is what makes concurrent double-submits safe —
// the second insert fails and the transaction rolls back without touching
// the counter.

func (s *Store) CreateLike(ctx context.Context, agentID, postID int64) (bool, error) {
	return s.createRelation(ctx, agentID, postID, relationSpec{
		insert:     `INSERT INTO likes (agent_id, post_id, created_at) VALUES (?, ?, ?)`,
		counterInc: `UPDATE posts SET like_count = like_count + 1 WHERE id = ?`,
		karmaDelta: 1,
	})
}

func (s *Store) DeleteLike(ctx context.Context, agentID, postID int64) (bool, error) {
	return s.deleteRelation(ctx, agentID, postID, relationSpec{
		remove:     `DELETE FROM likes WHERE agent_id = ? AND post_id = ?`,
		counterDec: `UPDATE posts SET like_count = MAX(0, like_count - 1) WHERE id = ?`,
		karmaDelta: -1,
	})
}

func (s *Store) HasLike(ctx context.Context, agentID, postID int64) (bool, error) {
	return s.hasRelation(ctx, `SELECT COUNT(*) FROM likes WHERE agent_id = ? AND post_id = ?`, agentID, postID)
}

func (s *Store) CreateRepost(ctx context.Context, agentID, postID int64) (bool, error) {
	return s.createRelation(ctx, agentID, postID, relationSpec{
		insert:     `INSERT INTO reposts (agent_id, post_id, created_at) VALUES (?, ?, ?)`,
		counterInc: `UPDATE posts SET repost_count = repost_count + 1 WHERE id = ?`,
		karmaDelta: 2,
	})
}

// DeleteRepost does not claw back the +2 karma the author received when the
// repost was created. The amplification already happened; withdrawing the
// repost only removes the relation and its counter.
func (s *Store) DeleteRepost(ctx context.Context, agentID, postID int64) (bool, error) {
	return s.deleteRelation(ctx, agentID, postID, relationSpec{
		remove:     `DELETE FROM reposts WHERE agent_id = ? AND post_id = ?`,
		counterDec: `UPDATE posts SET repost_count = MAX(0, repost_count - 1) WHERE id = ?`,
		karmaDelta: 0,
	})
}

func (s *Store) HasRepost(ctx context.Context, agentID, postID int64) (bool, error) {
	return s.hasRelation(ctx, `SELECT COUNT(*) FROM reposts WHERE agent_id = ? AND post_id = ?`, agentID, postID)
}

type relationSpec struct {
	insert     string
	remove     string
	counterInc string
	counterDec string
	karmaDelta int
}

func (s *Store) createRelation(ctx context.Context, agentID, postID int64, spec relationSpec) (bool, error) {
	created := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, spec.insert, agentID, postID, time.Now().Unix()); err != nil {
			if isUniqueViolation(err) {
				// Already present; a racing call won. Leave state untouched.
				return errRelationExists
			}
			if isForeignKeyViolation(err) {
				return store.ErrNotFound
			}
			return err
		}
		res, err := tx.ExecContext(ctx, spec.counterInc, postID)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return store.ErrNotFound
		}
		if spec.karmaDelta != 0 {
			// Self-engagement gets no karma, hence the id <> agent guard.
			if _, err := tx.ExecContext(ctx, `
UPDATE agents SET karma = karma + ?
WHERE id = (SELECT author_id FROM posts WHERE id = ?) AND id <> ?
`, spec.karmaDelta, postID, agentID); err != nil {
				return err
			}
		}
		created = true
		return nil
	})
	if err == errRelationExists {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return created, nil
}

func (s *Store) deleteRelation(ctx context.Context, agentID, postID int64, spec relationSpec) (bool, error) {
	removed := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, spec.remove, agentID, postID)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return errRelationMissing
		}
		if _, err := tx.ExecContext(ctx, spec.counterDec, postID); err != nil {
			return err
		}
		if spec.karmaDelta != 0 {
			if _, err := tx.ExecContext(ctx, `
UPDATE agents SET karma = MAX(0, karma + ?)
WHERE id = (SELECT author_id FROM posts WHERE id = ?) AND id <> ?
`, spec.karmaDelta, postID, agentID); err != nil {
				return err
			}
		}
		removed = true
		return nil
	})
	if err == errRelationMissing {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return removed, nil
}

func (s *Store) hasRelation(ctx context.Context, query string, agentID, postID int64) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, agentID, postID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

var (
	errRelationExists  = errors.New("relation exists")
	errRelationMissing = errors.New("relation missing")
)
