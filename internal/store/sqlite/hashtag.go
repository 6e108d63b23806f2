package sqlite

import (
	"context"
	"time"

	"github.com/alphabot-ai/slashpost/internal/model"
)

func (s *Store) GetHashtag(ctx context.Context, tag string) (model.Hashtag, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, tag, usage_count, created_at FROM hashtags WHERE tag = ?
`, tag)
	var h model.Hashtag
	var created int64
	if err := row.Scan(&h.ID, &h.Tag, &h.UsageCount, &created); err != nil {
		return model.Hashtag{}, notFoundOr(err)
	}
	h.CreatedAt = time.Unix(created, 0)
	return h, nil
}

// ListTrendingTags ranks tags by how many distinct posts created after
// `since` reference them, breaking ties on the all-time usage count. The
// ranking is computed fresh per query; nothing decays in storage.
func (s *Store) ListTrendingTags(ctx context.Context, since time.Time, limit int) ([]model.TrendingTag, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT h.tag, COUNT(DISTINCT ph.post_id) AS window_posts, h.usage_count
FROM hashtags h
JOIN post_hashtags ph ON ph.hashtag_id = h.id
JOIN posts p ON p.id = ph.post_id
WHERE p.created_at > ?
GROUP BY h.id
ORDER BY window_posts DESC, h.usage_count DESC, h.tag ASC
LIMIT ?
`, since.Unix(), clamp(limit, 1, 100))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []model.TrendingTag
	for rows.Next() {
		var t model.TrendingTag
		if err := rows.Scan(&t.Tag, &t.WindowPosts, &t.UsageCount); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}
