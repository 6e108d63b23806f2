// Package hashtag extracts tags from post text and serves the trending
// ranking.
package hashtag

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/alphabot-ai/slashpost/internal/model"
	"github.com/alphabot-ai/slashpost/internal/store"

	"github.com/samber/lo"
)

// Window is the trailing period trending is computed over.
const Window = 24 * time.Hour

var tagPattern = regexp.MustCompile(`#([A-Za-z0-9_]+)`)

// Extract returns the distinct lowercase tags in text, in order of first
// appearance. Repeats of a tag count once; usage counts track posts, not
// occurrences.
func Extract(text string) []string {
	matches := tagPattern.FindAllStringSubmatch(text, -1)
	tags := lo.Map(matches, func(m []string, _ int) string {
		return strings.ToLower(m[1])
	})
	return lo.Uniq(tags)
}

type Service struct {
	store store.HashtagStore
}

func NewService(st store.HashtagStore) *Service {
	return &Service{store: st}
}

func (s *Service) Trending(ctx context.Context, limit int) ([]model.TrendingTag, error) {
	return s.store.ListTrendingTags(ctx, time.Now().Add(-Window), limit)
}

func (s *Service) Get(ctx context.Context, tag string) (model.Hashtag, error) {
	return s.store.GetHashtag(ctx, strings.ToLower(strings.TrimPrefix(tag, "#")))
}
