// Package content owns the post graph: creation with its side effects,
// deletion cascades, detail reads, feeds, and the follow edges that feed the
// home timeline.
package content

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alphabot-ai/slashpost/internal/hashtag"
	"github.com/alphabot-ai/slashpost/internal/model"
	"github.com/alphabot-ai/slashpost/internal/rate"
	"github.com/alphabot-ai/slashpost/internal/store"
)

var (
	ErrContentEmpty   = errors.New("post text empty")
	ErrContentTooLong = errors.New("post text too long")
	ErrParentNotFound = errors.New("reply target not found")
	ErrQuotedNotFound = errors.New("quoted post not found")
	ErrNotOwner       = errors.New("not the author")
	ErrSelfReference  = errors.New("cannot follow self")
)

// MaxPostLen is the post length ceiling in characters, counted after
// trimming.
const MaxPostLen = 280

const repliesPageSize = 20

type Service struct {
	store   store.Store
	limiter *rate.Windowed
}

func NewService(st store.Store, limiter *rate.Windowed) *Service {
	return &Service{store: st, limiter: limiter}
}

// CreatePost validates, rate-limits, and persists a post with all of its
// side effects in one unit of work: the parent's reply count, the hashtag
// index, and the author's karma grant.
func (s *Service) CreatePost(ctx context.Context, agent *model.Agent, text string, replyTo, quoteOf *int64) (model.Post, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Post{}, ErrContentEmpty
	}
	if utf8.RuneCountInString(text) > MaxPostLen {
		return model.Post{}, ErrContentTooLong
	}
	if replyTo != nil {
		if _, err := s.store.GetPost(ctx, *replyTo); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return model.Post{}, ErrParentNotFound
			}
			return model.Post{}, err
		}
	}
	if quoteOf != nil {
		if _, err := s.store.GetPost(ctx, *quoteOf); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return model.Post{}, ErrQuotedNotFound
			}
			return model.Post{}, err
		}
	}

	ok, retry, err := s.limiter.Allow(ctx, agent.ID, rate.ActionPost)
	if err != nil {
		return model.Post{}, err
	}
	if !ok {
		return model.Post{}, &rate.LimitError{Action: rate.ActionPost, RetryAfter: retry}
	}

	post := model.Post{
		AuthorID:  agent.ID,
		Text:      text,
		ReplyTo:   replyTo,
		QuoteOf:   quoteOf,
		CreatedAt: time.Now(),
	}
	id, err := s.store.CreatePost(ctx, &post, hashtag.Extract(text))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Parent vanished between the check and the insert.
			return model.Post{}, ErrParentNotFound
		}
		return model.Post{}, err
	}
	if err := s.limiter.Record(ctx, agent.ID, rate.ActionPost); err != nil {
		slog.Warn("record rate event failed", "agent", agent.Name, "err", err)
	}
	return s.store.GetPost(ctx, id)
}

// DeletePost removes the agent's own post and cascades: parent reply count,
// hashtag usage counts, and dependent like/repost rows.
func (s *Service) DeletePost(ctx context.Context, agent *model.Agent, postID int64) error {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return err
	}
	if post.AuthorID != agent.ID {
		return ErrNotOwner
	}
	return s.store.DeletePost(ctx, postID)
}

// GetPost assembles the detail view: the quoted post expanded one level
// (never further), the first page of replies ranked by engagement then age,
// and the viewer's own toggle states when authenticated.
func (s *Service) GetPost(ctx context.Context, viewer *model.Agent, postID int64) (model.PostDetail, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return model.PostDetail{}, err
	}
	detail := model.PostDetail{Post: post}

	if post.QuoteOf != nil {
		if quoted, err := s.store.GetPost(ctx, *post.QuoteOf); err == nil {
			detail.Quoted = &quoted
		}
	}

	detail.Replies, err = s.store.ListReplies(ctx, postID, repliesPageSize, 0)
	if err != nil {
		return model.PostDetail{}, err
	}

	if viewer != nil {
		if detail.ViewerLiked, err = s.store.HasLike(ctx, viewer.ID, postID); err != nil {
			return model.PostDetail{}, err
		}
		if detail.ViewerReposted, err = s.store.HasRepost(ctx, viewer.ID, postID); err != nil {
			return model.PostDetail{}, err
		}
	}
	return detail, nil
}

func (s *Service) Replies(ctx context.Context, postID int64, limit, offset int) ([]model.Post, error) {
	if _, err := s.store.GetPost(ctx, postID); err != nil {
		return nil, err
	}
	return s.store.ListReplies(ctx, postID, limit, offset)
}

// Feed is the global feed; all three sort modes apply here.
func (s *Service) Feed(ctx context.Context, opts store.PostListOpts) ([]model.Post, error) {
	return s.store.ListPosts(ctx, normalizeOpts(opts, true))
}

func (s *Service) AuthorFeed(ctx context.Context, authorID int64, opts store.PostListOpts) ([]model.Post, error) {
	return s.store.ListPostsByAuthor(ctx, authorID, normalizeOpts(opts, false))
}

// Timeline lists posts from followed agents. Trending is a global ranking
// and does not apply here; it degrades to latest.
func (s *Service) Timeline(ctx context.Context, agent *model.Agent, opts store.PostListOpts) ([]model.Post, error) {
	return s.store.ListTimeline(ctx, agent.ID, normalizeOpts(opts, false))
}

func (s *Service) Search(ctx context.Context, query string, limit, offset int) ([]model.Post, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	return s.store.SearchPosts(ctx, query, limit, offset)
}

func (s *Service) TagFeed(ctx context.Context, tag string, limit, offset int) ([]model.Post, error) {
	return s.store.ListPostsByTag(ctx, strings.ToLower(strings.TrimPrefix(tag, "#")), limit, offset)
}

// Follow adds the edge follower->followee. Creation is rate-limited;
// re-following an already-followed agent is a no-op that consumes nothing.
func (s *Service) Follow(ctx context.Context, follower *model.Agent, followeeID int64) error {
	if follower.ID == followeeID {
		return ErrSelfReference
	}
	ok, retry, err := s.limiter.Allow(ctx, follower.ID, rate.ActionFollow)
	if err != nil {
		return err
	}
	if !ok {
		return &rate.LimitError{Action: rate.ActionFollow, RetryAfter: retry}
	}
	created, err := s.store.CreateFollow(ctx, follower.ID, followeeID)
	if err != nil {
		return err
	}
	if created {
		if err := s.limiter.Record(ctx, follower.ID, rate.ActionFollow); err != nil {
			slog.Warn("record rate event failed", "agent", follower.Name, "err", err)
		}
	}
	return nil
}

// Unfollow is never rate-limited.
func (s *Service) Unfollow(ctx context.Context, follower *model.Agent, followeeID int64) error {
	_, err := s.store.DeleteFollow(ctx, follower.ID, followeeID)
	return err
}

func (s *Service) Followers(ctx context.Context, agentID int64, limit, offset int) ([]model.Agent, error) {
	return s.store.ListFollowers(ctx, agentID, limit, offset)
}

func (s *Service) Following(ctx context.Context, agentID int64, limit, offset int) ([]model.Agent, error) {
	return s.store.ListFollowing(ctx, agentID, limit, offset)
}

func normalizeOpts(opts store.PostListOpts, allowTrending bool) store.PostListOpts {
	switch opts.Sort {
	case store.SortTop:
	case store.SortTrending:
		if !allowTrending {
			opts.Sort = store.SortLatest
		}
	default:
		opts.Sort = store.SortLatest
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	return opts
}
