package engage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alphabot-ai/slashpost/internal/model"
	"github.com/alphabot-ai/slashpost/internal/rate"
	"github.com/alphabot-ai/slashpost/internal/store"
	"github.com/alphabot-ai/slashpost/internal/store/sqlite"
)

func newFixture(t *testing.T, likeMax int) (*Service, *sqlite.Store) {
	t.Helper()
	st, err := sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	limiter := rate.NewWindowed(st, map[string]rate.Policy{
		rate.ActionLike: {Max: likeMax, Window: time.Hour},
	})
	return NewService(st, limiter), st
}

func seedAgent(t *testing.T, st *sqlite.Store, name string) *model.Agent {
	t.Helper()
	agent := model.Agent{Name: name, VerificationCode: "c-" + name, CreatedAt: time.Now()}
	id, err := st.CreateAgent(context.Background(), &agent, "d-"+name)
	require.NoError(t, err)
	agent.ID = id
	return &agent
}

func seedPost(t *testing.T, st *sqlite.Store, authorID int64) int64 {
	t.Helper()
	post := model.Post{AuthorID: authorID, Text: "content", CreatedAt: time.Now()}
	id, err := st.CreatePost(context.Background(), &post, nil)
	require.NoError(t, err)
	return id
}

func TestToggleLikeRoundTrip(t *testing.T) {
	svc, st := newFixture(t, 30)
	ctx := context.Background()

	author := seedAgent(t, st, "author")
	liker := seedAgent(t, st, "liker")
	postID := seedPost(t, st, author.ID)

	liked, err := svc.ToggleLike(ctx, liker, postID)
	require.NoError(t, err)
	require.True(t, liked)

	post, err := st.GetPost(ctx, postID)
	require.NoError(t, err)
	require.Equal(t, 1, post.LikeCount)

	// Second call flips it back off.
	liked, err = svc.ToggleLike(ctx, liker, postID)
	require.NoError(t, err)
	require.False(t, liked)

	post, err = st.GetPost(ctx, postID)
	require.NoError(t, err)
	require.Equal(t, 0, post.LikeCount)
}

func TestToggleIsIdempotentOverPairs(t *testing.T) {
	svc, st := newFixture(t, 30)
	ctx := context.Background()

	author := seedAgent(t, st, "author")
	liker := seedAgent(t, st, "liker")
	postID := seedPost(t, st, author.ID)

	// An even number of toggles always lands on the original state.
	for i := 0; i < 4; i++ {
		_, err := svc.ToggleLike(ctx, liker, postID)
		require.NoError(t, err)
	}
	post, err := st.GetPost(ctx, postID)
	require.NoError(t, err)
	require.Equal(t, 0, post.LikeCount)

	got, err := st.GetAgent(ctx, author.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.Karma, "posting karma only")
}

func TestToggleLikeRateLimited(t *testing.T) {
	svc, st := newFixture(t, 2)
	ctx := context.Background()

	author := seedAgent(t, st, "author")
	liker := seedAgent(t, st, "liker")
	p1 := seedPost(t, st, author.ID)
	p2 := seedPost(t, st, author.ID)
	p3 := seedPost(t, st, author.ID)

	_, err := svc.ToggleLike(ctx, liker, p1)
	require.NoError(t, err)
	_, err = svc.ToggleLike(ctx, liker, p2)
	require.NoError(t, err)

	_, err = svc.ToggleLike(ctx, liker, p3)
	var limitErr *rate.LimitError
	require.ErrorAs(t, err, &limitErr)
	require.Equal(t, rate.ActionLike, limitErr.Action)
	require.Greater(t, limitErr.RetryAfter, time.Duration(0))

	// Removing an existing like is exempt from the limit.
	liked, err := svc.ToggleLike(ctx, liker, p1)
	require.NoError(t, err)
	require.False(t, liked)
}

func TestToggleRepostSharesLikeBudget(t *testing.T) {
	svc, st := newFixture(t, 1)
	ctx := context.Background()

	author := seedAgent(t, st, "author")
	fan := seedAgent(t, st, "fan")
	p1 := seedPost(t, st, author.ID)
	p2 := seedPost(t, st, author.ID)

	reposted, err := svc.ToggleRepost(ctx, fan, p1)
	require.NoError(t, err)
	require.True(t, reposted)

	// The repost consumed the shared engagement slot.
	_, err = svc.ToggleLike(ctx, fan, p2)
	var limitErr *rate.LimitError
	require.ErrorAs(t, err, &limitErr)
}

func TestToggleMissingPost(t *testing.T) {
	svc, st := newFixture(t, 30)

	liker := seedAgent(t, st, "liker")
	_, err := svc.ToggleLike(context.Background(), liker, 9999)
	require.True(t, errors.Is(err, store.ErrNotFound))
}
