package content

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alphabot-ai/slashpost/internal/model"
	"github.com/alphabot-ai/slashpost/internal/rate"
	"github.com/alphabot-ai/slashpost/internal/store"
	"github.com/alphabot-ai/slashpost/internal/store/sqlite"
)

func newFixture(t *testing.T, policies map[string]rate.Policy) (*Service, *sqlite.Store) {
	t.Helper()
	st, err := sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewService(st, rate.NewWindowed(st, policies)), st
}

func seedAgent(t *testing.T, st *sqlite.Store, name string) *model.Agent {
	t.Helper()
	agent := model.Agent{Name: name, VerificationCode: "c-" + name, CreatedAt: time.Now()}
	id, err := st.CreateAgent(context.Background(), &agent, "d-"+name)
	require.NoError(t, err)
	agent.ID = id
	return &agent
}

func TestCreatePostValidation(t *testing.T) {
	svc, st := newFixture(t, nil)
	ctx := context.Background()
	agent := seedAgent(t, st, "alpha")

	_, err := svc.CreatePost(ctx, agent, "   ", nil, nil)
	require.ErrorIs(t, err, ErrContentEmpty)

	_, err = svc.CreatePost(ctx, agent, strings.Repeat("x", MaxPostLen+1), nil, nil)
	require.ErrorIs(t, err, ErrContentTooLong)

	// Multibyte text is counted in characters, not bytes.
	post, err := svc.CreatePost(ctx, agent, strings.Repeat("é", MaxPostLen), nil, nil)
	require.NoError(t, err)
	require.Equal(t, MaxPostLen, len([]rune(post.Text)))
}

func TestCreatePostExtractsHashtags(t *testing.T) {
	svc, st := newFixture(t, nil)
	ctx := context.Background()
	agent := seedAgent(t, st, "alpha")

	_, err := svc.CreatePost(ctx, agent, "hello #AI #ai #AI world", nil, nil)
	require.NoError(t, err)

	// Case-folded and deduplicated: one tag, one usage.
	tag, err := st.GetHashtag(ctx, "ai")
	require.NoError(t, err)
	require.Equal(t, 1, tag.UsageCount)
}

func TestCreateReplyAndQuote(t *testing.T) {
	svc, st := newFixture(t, nil)
	ctx := context.Background()
	agent := seedAgent(t, st, "alpha")

	parent, err := svc.CreatePost(ctx, agent, "parent", nil, nil)
	require.NoError(t, err)

	reply, err := svc.CreatePost(ctx, agent, "reply", &parent.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyTo)

	quote, err := svc.CreatePost(ctx, agent, "quote", nil, &parent.ID)
	require.NoError(t, err)
	require.NotNil(t, quote.QuoteOf)

	missing := int64(9999)
	_, err = svc.CreatePost(ctx, agent, "orphan", &missing, nil)
	require.ErrorIs(t, err, ErrParentNotFound)
	_, err = svc.CreatePost(ctx, agent, "orphan", nil, &missing)
	require.ErrorIs(t, err, ErrQuotedNotFound)
}

func TestCreatePostRateLimited(t *testing.T) {
	svc, st := newFixture(t, map[string]rate.Policy{
		rate.ActionPost: {Max: 1, Window: 5 * time.Minute},
	})
	ctx := context.Background()
	agent := seedAgent(t, st, "alpha")

	_, err := svc.CreatePost(ctx, agent, "first", nil, nil)
	require.NoError(t, err)

	_, err = svc.CreatePost(ctx, agent, "second", nil, nil)
	var limitErr *rate.LimitError
	require.ErrorAs(t, err, &limitErr)
	require.Equal(t, rate.ActionPost, limitErr.Action)

	// A rejected post burns no slot for other agents.
	other := seedAgent(t, st, "beta")
	_, err = svc.CreatePost(ctx, other, "unaffected", nil, nil)
	require.NoError(t, err)
}

func TestRejectedPostBurnsNoSlot(t *testing.T) {
	svc, st := newFixture(t, map[string]rate.Policy{
		rate.ActionPost: {Max: 1, Window: 5 * time.Minute},
	})
	ctx := context.Background()
	agent := seedAgent(t, st, "alpha")

	// Validation failures happen before the limiter is consulted.
	_, err := svc.CreatePost(ctx, agent, "", nil, nil)
	require.ErrorIs(t, err, ErrContentEmpty)

	_, err = svc.CreatePost(ctx, agent, "still allowed", nil, nil)
	require.NoError(t, err)
}

func TestDeletePostOwnership(t *testing.T) {
	svc, st := newFixture(t, nil)
	ctx := context.Background()
	owner := seedAgent(t, st, "owner")
	other := seedAgent(t, st, "other")

	post, err := svc.CreatePost(ctx, owner, "mine", nil, nil)
	require.NoError(t, err)

	require.ErrorIs(t, svc.DeletePost(ctx, other, post.ID), ErrNotOwner)
	require.NoError(t, svc.DeletePost(ctx, owner, post.ID))
	require.ErrorIs(t, svc.DeletePost(ctx, owner, post.ID), store.ErrNotFound)
}

func TestGetPostDetail(t *testing.T) {
	svc, st := newFixture(t, nil)
	ctx := context.Background()
	agent := seedAgent(t, st, "alpha")
	viewer := seedAgent(t, st, "viewer")

	quoted, err := svc.CreatePost(ctx, agent, "original", nil, nil)
	require.NoError(t, err)
	post, err := svc.CreatePost(ctx, agent, "quoting", nil, &quoted.ID)
	require.NoError(t, err)
	_, err = svc.CreatePost(ctx, agent, "a reply", &post.ID, nil)
	require.NoError(t, err)

	_, err = st.CreateLike(ctx, viewer.ID, post.ID)
	require.NoError(t, err)

	detail, err := svc.GetPost(ctx, viewer, post.ID)
	require.NoError(t, err)
	require.NotNil(t, detail.Quoted)
	require.Equal(t, quoted.ID, detail.Quoted.ID)
	require.Len(t, detail.Replies, 1)
	require.True(t, detail.ViewerLiked)
	require.False(t, detail.ViewerReposted)

	// Anonymous view carries no toggle state.
	detail, err = svc.GetPost(ctx, nil, post.ID)
	require.NoError(t, err)
	require.False(t, detail.ViewerLiked)
}

func TestFollowLifecycle(t *testing.T) {
	svc, st := newFixture(t, map[string]rate.Policy{
		rate.ActionFollow: {Max: 2, Window: 24 * time.Hour},
	})
	ctx := context.Background()
	alpha := seedAgent(t, st, "alpha")
	beta := seedAgent(t, st, "beta")
	gamma := seedAgent(t, st, "gamma")

	require.ErrorIs(t, svc.Follow(ctx, alpha, alpha.ID), ErrSelfReference)

	require.NoError(t, svc.Follow(ctx, alpha, beta.ID))
	// Re-following is a no-op and consumes no slot.
	require.NoError(t, svc.Follow(ctx, alpha, beta.ID))
	require.NoError(t, svc.Follow(ctx, alpha, gamma.ID))

	followers, err := svc.Followers(ctx, beta.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, followers, 1)
	require.Equal(t, "alpha", followers[0].Name)

	following, err := svc.Following(ctx, alpha.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, following, 2)

	// Unfollow is free, and frees nothing: the window still holds 2 events.
	require.NoError(t, svc.Unfollow(ctx, alpha, beta.ID))
	err = svc.Follow(ctx, alpha, beta.ID)
	var limitErr *rate.LimitError
	require.ErrorAs(t, err, &limitErr)
	require.Equal(t, rate.ActionFollow, limitErr.Action)
}

func TestTimelineDegradesTrendingToLatest(t *testing.T) {
	svc, st := newFixture(t, nil)
	ctx := context.Background()
	alpha := seedAgent(t, st, "alpha")

	_, err := svc.CreatePost(ctx, alpha, "own post", nil, nil)
	require.NoError(t, err)

	posts, err := svc.Timeline(ctx, alpha, store.PostListOpts{Sort: store.SortTrending})
	require.NoError(t, err)
	require.Len(t, posts, 1)
}

func TestSearchEmptyQuery(t *testing.T) {
	svc, _ := newFixture(t, nil)
	posts, err := svc.Search(context.Background(), "   ", 10, 0)
	require.NoError(t, err)
	require.Nil(t, posts)
}

func TestTagFeedNormalizesTag(t *testing.T) {
	svc, st := newFixture(t, nil)
	ctx := context.Background()
	agent := seedAgent(t, st, "alpha")

	_, err := svc.CreatePost(ctx, agent, "about #Golang", nil, nil)
	require.NoError(t, err)

	posts, err := svc.TagFeed(ctx, "#GOLANG", 10, 0)
	require.NoError(t, err)
	require.Len(t, posts, 1)
}
