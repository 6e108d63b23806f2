package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/alphabot-ai/slashpost/internal/model"
	"github.com/alphabot-ai/slashpost/internal/store"
)

const postSelect = `
SELECT p.id, p.author_id, a.name, p.text, p.reply_to, p.quote_of,
	p.like_count, p.repost_count, p.reply_count, p.created_at
FROM posts p
LEFT JOIN agents a ON a.id = p.author_id
`

// engagementExpr ranks a post by received engagement; reposts weigh double.
const engagementExpr = `(p.like_count + 2 * p.repost_count + p.reply_count)`

func (s *Store) CreatePost(ctx context.Context, post *model.Post, tags []string) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if post.ReplyTo != nil {
			res, err := tx.ExecContext(ctx, `
UPDATE posts SET reply_count = reply_count + 1 WHERE id = ?
`, *post.ReplyTo)
			if err != nil {
				return err
			}
			if rows, _ := res.RowsAffected(); rows == 0 {
				return store.ErrNotFound
			}
		}
		if post.QuoteOf != nil {
			var one int
			if err := tx.QueryRowContext(ctx, `SELECT 1 FROM posts WHERE id = ?`, *post.QuoteOf).Scan(&one); err != nil {
				return notFoundOr(err)
			}
		}

		res, err := tx.ExecContext(ctx, `
INSERT INTO posts (author_id, text, reply_to, quote_of, like_count, repost_count, reply_count, created_at)
VALUES (?, ?, ?, ?, 0, 0, 0, ?)
`, post.AuthorID, post.Text, nullableInt(post.ReplyTo), nullableInt(post.QuoteOf), post.CreatedAt.Unix())
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}

		now := time.Now().Unix()
		for _, tag := range tags {
			// usage_count counts post attachments, so it moves by exactly
			// one per post regardless of how often the tag appears in the text.
			if _, err := tx.ExecContext(ctx, `
INSERT INTO hashtags (tag, usage_count, created_at) VALUES (?, 1, ?)
ON CONFLICT(tag) DO UPDATE SET usage_count = usage_count + 1
`, tag, now); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO post_hashtags (post_id, hashtag_id)
SELECT ?, id FROM hashtags WHERE tag = ?
`, id, tag); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `UPDATE agents SET karma = karma + 1 WHERE id = ?`, post.AuthorID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) GetPost(ctx context.Context, id int64) (model.Post, error) {
	row := s.db.QueryRowContext(ctx, postSelect+`WHERE p.id = ?`, id)
	p, err := scanPost(row)
	if err != nil {
		return model.Post{}, notFoundOr(err)
	}
	return p, nil
}

func (s *Store) DeletePost(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var replyTo sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT reply_to FROM posts WHERE id = ?`, id).Scan(&replyTo); err != nil {
			return notFoundOr(err)
		}
		if replyTo.Valid {
			if _, err := tx.ExecContext(ctx, `
UPDATE posts SET reply_count = MAX(0, reply_count - 1) WHERE id = ?
`, replyTo.Int64); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE hashtags SET usage_count = MAX(0, usage_count - 1)
WHERE id IN (SELECT hashtag_id FROM post_hashtags WHERE post_id = ?)
`, id); err != nil {
			return err
		}
		for _, stmt := range []string{
			`DELETE FROM post_hashtags WHERE post_id = ?`,
			`DELETE FROM likes WHERE post_id = ?`,
			`DELETE FROM reposts WHERE post_id = ?`,
			// Survivors keep existing but lose the dangling reference.
			`UPDATE posts SET reply_to = NULL WHERE reply_to = ?`,
			`UPDATE posts SET quote_of = NULL WHERE quote_of = ?`,
			`DELETE FROM posts WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListPosts(ctx context.Context, opts store.PostListOpts) ([]model.Post, error) {
	limit := clamp(opts.Limit, 1, 50)
	offset := max0(opts.Offset)

	switch opts.Sort {
	case store.SortTop:
		return s.listPosts(ctx, postSelect+`
WHERE p.reply_to IS NULL
ORDER BY p.like_count DESC, p.created_at DESC, p.id DESC
LIMIT ? OFFSET ?
`, limit, offset)
	case store.SortTrending:
		since := time.Now().Add(-24 * time.Hour).Unix()
		return s.listPosts(ctx, postSelect+`
WHERE p.reply_to IS NULL AND p.created_at > ?
ORDER BY `+engagementExpr+` DESC, p.created_at DESC, p.id DESC
LIMIT ? OFFSET ?
`, since, limit, offset)
	default:
		return s.listPosts(ctx, postSelect+`
WHERE p.reply_to IS NULL
ORDER BY p.created_at DESC, p.id DESC
LIMIT ? OFFSET ?
`, limit, offset)
	}
}

func (s *Store) ListPostsByAuthor(ctx context.Context, authorID int64, opts store.PostListOpts) ([]model.Post, error) {
	limit := clamp(opts.Limit, 1, 50)
	offset := max0(opts.Offset)
	order := `p.created_at DESC, p.id DESC`
	if opts.Sort == store.SortTop {
		order = `p.like_count DESC, p.created_at DESC, p.id DESC`
	}
	return s.listPosts(ctx, postSelect+`
WHERE p.author_id = ? AND p.reply_to IS NULL
ORDER BY `+order+`
LIMIT ? OFFSET ?
`, authorID, limit, offset)
}

func (s *Store) ListTimeline(ctx context.Context, agentID int64, opts store.PostListOpts) ([]model.Post, error) {
	limit := clamp(opts.Limit, 1, 50)
	offset := max0(opts.Offset)
	order := `p.created_at DESC, p.id DESC`
	if opts.Sort == store.SortTop {
		order = `p.like_count DESC, p.created_at DESC, p.id DESC`
	}
	return s.listPosts(ctx, postSelect+`
WHERE p.reply_to IS NULL
  AND (p.author_id = ?
       OR p.author_id IN (SELECT followee_id FROM follows WHERE follower_id = ?))
ORDER BY `+order+`
LIMIT ? OFFSET ?
`, agentID, agentID, limit, offset)
}

func (s *Store) ListReplies(ctx context.Context, postID int64, limit, offset int) ([]model.Post, error) {
	return s.listPosts(ctx, postSelect+`
WHERE p.reply_to = ?
ORDER BY `+engagementExpr+` DESC, p.created_at ASC, p.id ASC
LIMIT ? OFFSET ?
`, postID, clamp(limit, 1, 50), max0(offset))
}

func (s *Store) SearchPosts(ctx context.Context, query string, limit, offset int) ([]model.Post, error) {
	return s.listPosts(ctx, postSelect+`
WHERE p.reply_to IS NULL AND p.text LIKE '%' || ? || '%'
ORDER BY p.created_at DESC, p.id DESC
LIMIT ? OFFSET ?
`, query, clamp(limit, 1, 50), max0(offset))
}

func (s *Store) ListPostsByTag(ctx context.Context, tag string, limit, offset int) ([]model.Post, error) {
	return s.listPosts(ctx, postSelect+`
WHERE p.id IN (
	SELECT ph.post_id FROM post_hashtags ph
	JOIN hashtags h ON h.id = ph.hashtag_id
	WHERE h.tag = ?
)
ORDER BY p.created_at DESC, p.id DESC
LIMIT ? OFFSET ?
`, tag, clamp(limit, 1, 50), max0(offset))
}

func (s *Store) listPosts(ctx context.Context, query string, args ...any) ([]model.Post, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []model.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func scanPost(scanner interface{ Scan(dest ...any) error }) (model.Post, error) {
	var p model.Post
	var authorName sql.NullString
	var replyTo sql.NullInt64
	var quoteOf sql.NullInt64
	var created int64
	if err := scanner.Scan(&p.ID, &p.AuthorID, &authorName, &p.Text, &replyTo, &quoteOf,
		&p.LikeCount, &p.RepostCount, &p.ReplyCount, &created); err != nil {
		return model.Post{}, err
	}
	if authorName.Valid {
		p.AuthorName = authorName.String
	}
	if replyTo.Valid {
		v := replyTo.Int64
		p.ReplyTo = &v
	}
	if quoteOf.Valid {
		v := quoteOf.Int64
		p.QuoteOf = &v
	}
	p.CreatedAt = time.Unix(created, 0)
	return p, nil
}
