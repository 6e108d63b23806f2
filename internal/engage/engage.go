// Package engage maintains the like/repost toggle relations and their
// derivative effects: denormalized post counters and author karma.
package engage

import (
	"context"
	"log/slog"

	"github.com/alphabot-ai/slashpost/internal/model"
	"github.com/alphabot-ai/slashpost/internal/rate"
	"github.com/alphabot-ai/slashpost/internal/store"
)

type Service struct {
	store   store.Store
	limiter *rate.Windowed
}

func NewService(st store.Store, limiter *rate.Windowed) *Service {
	return &Service{store: st, limiter: limiter}
}

// ToggleLike flips the (agent, post) like relation. Creating it is
// rate-limited and credits the author one karma unless the agent likes their
// own post; removing it is free and reverses both effects. The returned bool
// is the state after the call.
func (s *Service) ToggleLike(ctx context.Context, agent *model.Agent, postID int64) (bool, error) {
	return s.toggle(ctx, agent, postID, toggleOps{
		has:    s.store.HasLike,
		create: s.store.CreateLike,
		remove: s.store.DeleteLike,
	})
}

// ToggleRepost works like ToggleLike with a +2 karma grant on creation.
// Removal decrements the repost count but keeps the karma; see the store for
// the rationale.
func (s *Service) ToggleRepost(ctx context.Context, agent *model.Agent, postID int64) (bool, error) {
	return s.toggle(ctx, agent, postID, toggleOps{
		has:    s.store.HasRepost,
		create: s.store.CreateRepost,
		remove: s.store.DeleteRepost,
	})
}

type toggleOps struct {
	has    func(ctx context.Context, agentID, postID int64) (bool, error)
	create func(ctx context.Context, agentID, postID int64) (bool, error)
	remove func(ctx context.Context, agentID, postID int64) (bool, error)
}

func (s *Service) toggle(ctx context.Context, agent *model.Agent, postID int64, ops toggleOps) (bool, error) {
	if _, err := s.store.GetPost(ctx, postID); err != nil {
		return false, err
	}

	exists, err := ops.has(ctx, agent.ID, postID)
	if err != nil {
		return false, err
	}
	if exists {
		// Removal side of the toggle is never rate-limited.
		if _, err := ops.remove(ctx, agent.ID, postID); err != nil {
			return false, err
		}
		return false, nil
	}

	ok, retry, err := s.limiter.Allow(ctx, agent.ID, rate.ActionLike)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, &rate.LimitError{Action: rate.ActionLike, RetryAfter: retry}
	}

	created, err := ops.create(ctx, agent.ID, postID)
	if err != nil {
		return false, err
	}
	if created {
		// Only a successful creation consumes a slot.
		if err := s.limiter.Record(ctx, agent.ID, rate.ActionLike); err != nil {
			slog.Warn("record rate event failed", "agent", agent.Name, "err", err)
		}
	}
	// created=false means a racing call inserted the relation first; the
	// unique pair index kept the counter single-incremented either way.
	return true, nil
}
