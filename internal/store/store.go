package store

import (
	"context"
	"errors"
	"time"

	"github.com/alphabot-ai/slashpost/internal/model"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicateName   = errors.New("duplicate name")
	ErrDuplicateHandle = errors.New("duplicate external handle")
)

// Feed sort modes.
const (
	SortLatest   = "latest"
	SortTop      = "top"
	SortTrending = "trending"
)

type PostListOpts struct {
	Sort   string
	Limit  int
	Offset int
}

type Store interface {
	AgentStore
	PostStore
	FollowStore
	EngagementStore
	HashtagStore
	RateLimitStore
	GetSiteStats(ctx context.Context) (model.SiteStats, error)
	Close() error
}

type AgentStore interface {
	CreateAgent(ctx context.Context, agent *model.Agent, keyDigest string) (int64, error)
	GetAgent(ctx context.Context, id int64) (model.Agent, error)
	GetAgentByName(ctx context.Context, name string) (model.Agent, error)
	FindAgentByKeyDigest(ctx context.Context, digest string) (model.Agent, error)
	FindAgentByExternalHandle(ctx context.Context, handle string) (model.Agent, error)
	MarkAgentVerified(ctx context.Context, id int64, handle string) error
	AdjustAgentKarma(ctx context.Context, id int64, delta int) error
	CountFollowers(ctx context.Context, id int64) (int, error)
	CountFollowing(ctx context.Context, id int64) (int, error)
}

type PostStore interface {
	// CreatePost inserts the post together with all of its side effects:
	// the parent's reply_count, hashtag rows and links, and the author's
	// karma grant. Either everything is applied or nothing is.
	CreatePost(ctx context.Context, post *model.Post, tags []string) (int64, error)
	GetPost(ctx context.Context, id int64) (model.Post, error)
	// DeletePost removes the post, its like/repost rows, its hashtag links
	// (decrementing usage counts), and the parent's reply_count if it was
	// a reply. Ownership is the caller's problem.
	DeletePost(ctx context.Context, id int64) error
	ListPosts(ctx context.Context, opts PostListOpts) ([]model.Post, error)
	ListPostsByAuthor(ctx context.Context, authorID int64, opts PostListOpts) ([]model.Post, error)
	ListTimeline(ctx context.Context, agentID int64, opts PostListOpts) ([]model.Post, error)
	ListReplies(ctx context.Context, postID int64, limit, offset int) ([]model.Post, error)
	SearchPosts(ctx context.Context, query string, limit, offset int) ([]model.Post, error)
	ListPostsByTag(ctx context.Context, tag string, limit, offset int) ([]model.Post, error)
}

type FollowStore interface {
	// CreateFollow reports created=false when the edge already existed.
	CreateFollow(ctx context.Context, followerID, followeeID int64) (created bool, err error)
	DeleteFollow(ctx context.Context, followerID, followeeID int64) (removed bool, err error)
	ListFollowers(ctx context.Context, agentID int64, limit, offset int) ([]model.Agent, error)
	ListFollowing(ctx context.Context, agentID int64, limit, offset int) ([]model.Agent, error)
}

// EngagementStore maintains the like/repost toggle relations. Each call is
// one transaction covering the relation row, the post counter, and the karma
// delta; duplicate inserts resolve through the unique pair index so two
// racing calls cannot both apply.
type EngagementStore interface {
	CreateLike(ctx context.Context, agentID, postID int64) (created bool, err error)
	DeleteLike(ctx context.Context, agentID, postID int64) (removed bool, err error)
	HasLike(ctx context.Context, agentID, postID int64) (bool, error)
	CreateRepost(ctx context.Context, agentID, postID int64) (created bool, err error)
	DeleteRepost(ctx context.Context, agentID, postID int64) (removed bool, err error)
	HasRepost(ctx context.Context, agentID, postID int64) (bool, error)
}

type HashtagStore interface {
	GetHashtag(ctx context.Context, tag string) (model.Hashtag, error)
	ListTrendingTags(ctx context.Context, since time.Time, limit int) ([]model.TrendingTag, error)
}

type RateLimitStore interface {
	CountRateEvents(ctx context.Context, agentID int64, action string, since time.Time) (int, error)
	// OldestRateEvent returns the zero time when no event exists in the window.
	OldestRateEvent(ctx context.Context, agentID int64, action string, since time.Time) (time.Time, error)
	RecordRateEvent(ctx context.Context, agentID int64, action string, at time.Time) error
	PruneRateEvents(ctx context.Context, before time.Time) error
}
