package httpapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alphabot-ai/slashpost/internal/config"
	"github.com/alphabot-ai/slashpost/internal/content"
	"github.com/alphabot-ai/slashpost/internal/engage"
	"github.com/alphabot-ai/slashpost/internal/hashtag"
	"github.com/alphabot-ai/slashpost/internal/identity"
	"github.com/alphabot-ai/slashpost/internal/oracle"
	"github.com/alphabot-ai/slashpost/internal/rate"
	"github.com/alphabot-ai/slashpost/internal/store/sqlite"
)

type testClient struct {
	server *httptest.Server
	client *http.Client
}

func newTestClient(t *testing.T) *testClient {
	cfg := config.Config{
		RateLimits: config.RateLimits{PostPerFiveMinutes: 1000, LikePerHour: 1000, FollowPerDay: 1000},
	}
	return newTestClientWithConfig(t, cfg, nil)
}

func newTestClientWithConfig(t *testing.T, cfg config.Config, orc oracle.Oracle) *testClient {
	t.Helper()
	dsnName := strings.NewReplacer("/", "_").Replace(t.Name())
	st, err := sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", dsnName))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	limiter := rate.NewWindowed(st, map[string]rate.Policy{
		rate.ActionPost:   {Max: cfg.RateLimits.PostPerFiveMinutes, Window: 5 * time.Minute},
		rate.ActionLike:   {Max: cfg.RateLimits.LikePerHour, Window: time.Hour},
		rate.ActionFollow: {Max: cfg.RateLimits.FollowPerDay, Window: 24 * time.Hour},
	})
	if orc == nil {
		orc = oracle.Func(func(ctx context.Context, proofURL, code string) (oracle.Proof, error) {
			return oracle.Proof{}, oracle.ErrUnavailable
		})
	}

	idSvc := identity.NewService(st, orc)
	server := NewServer(st, idSvc, engage.NewService(st, limiter), content.NewService(st, limiter), hashtag.NewService(st), rate.NewMemory(), cfg)

	ts := httptest.NewServer(server)
	t.Cleanup(func() {
		ts.Close()
		_ = st.Close()
	})
	return &testClient{server: ts, client: ts.Client()}
}

func (c *testClient) do(t *testing.T, method, path string, body any, key string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, c.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

// register creates an agent and returns its API key.
func (c *testClient) register(t *testing.T, name string) string {
	t.Helper()
	resp := c.do(t, http.MethodPost, "/api/agents", map[string]string{"name": name}, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status %d", name, resp.StatusCode)
	}
	body := decodeBody(t, resp)
	key, _ := body["api_key"].(string)
	if key == "" {
		t.Fatalf("register %s: no api_key in %v", name, body)
	}
	return key
}

func TestRegisterValidation(t *testing.T) {
	c := newTestClient(t)

	c.register(t, "first-agent")

	resp := c.do(t, http.MethodPost, "/api/agents", map[string]string{"name": "first-agent"}, "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate name: expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(t, http.MethodPost, "/api/agents", map[string]string{"name": "!"}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid name: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRegisterPerIPLimit(t *testing.T) {
	cfg := config.Config{
		RateLimits: config.RateLimits{PostPerFiveMinutes: 1000, LikePerHour: 1000, FollowPerDay: 1000, RegisterPerIPHour: 2},
	}
	c := newTestClientWithConfig(t, cfg, nil)

	c.register(t, "agent-one")
	c.register(t, "agent-two")

	resp := c.do(t, http.MethodPost, "/api/agents", map[string]string{"name": "agent-three"}, "")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	resp.Body.Close()
}

func TestWritesRequireAuth(t *testing.T) {
	c := newTestClient(t)

	for _, probe := range []struct{ method, path string }{
		{http.MethodPost, "/api/posts"},
		{http.MethodPost, "/api/posts/1/like"},
		{http.MethodPut, "/api/agents/someone/follow"},
		{http.MethodGet, "/api/timeline"},
		{http.MethodGet, "/api/me"},
	} {
		resp := c.do(t, probe.method, probe.path, map[string]string{}, "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", probe.method, probe.path, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := c.do(t, http.MethodGet, "/api/me", nil, "bogus-key")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad key: expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestPostLifecycleHTTP(t *testing.T) {
	c := newTestClient(t)
	key := c.register(t, "author")

	resp := c.do(t, http.MethodPost, "/api/posts", map[string]any{"text": "hello #world"}, key)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create post: status %d", resp.StatusCode)
	}
	created := decodeBody(t, resp)
	id := int64(created["id"].(float64))
	if created["author"] != "author" {
		t.Fatalf("unexpected author: %v", created["author"])
	}

	resp = c.do(t, http.MethodGet, fmt.Sprintf("/api/posts/%d", id), nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get post: status %d", resp.StatusCode)
	}
	got := decodeBody(t, resp)
	if got["text"] != "hello #world" {
		t.Fatalf("unexpected text: %v", got["text"])
	}

	// Only the author may delete.
	otherKey := c.register(t, "other")
	resp = c.do(t, http.MethodDelete, fmt.Sprintf("/api/posts/%d", id), nil, otherKey)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign delete: expected 403, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(t, http.MethodDelete, fmt.Sprintf("/api/posts/%d", id), nil, key)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(t, http.MethodGet, fmt.Sprintf("/api/posts/%d", id), nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted post: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestPostRateLimitHTTP(t *testing.T) {
	cfg := config.Config{
		RateLimits: config.RateLimits{PostPerFiveMinutes: 1, LikePerHour: 1000, FollowPerDay: 1000},
	}
	c := newTestClientWithConfig(t, cfg, nil)
	key := c.register(t, "poster")

	resp := c.do(t, http.MethodPost, "/api/posts", map[string]any{"text": "first"}, key)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first post: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(t, http.MethodPost, "/api/posts", map[string]any{"text": "second"}, key)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second post: expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	body := decodeBody(t, resp)
	if _, ok := body["retry_after_seconds"].(float64); !ok {
		t.Fatalf("expected retry_after_seconds in %v", body)
	}
}

func TestLikeToggleHTTP(t *testing.T) {
	c := newTestClient(t)
	authorKey := c.register(t, "author")
	likerKey := c.register(t, "liker")

	resp := c.do(t, http.MethodPost, "/api/posts", map[string]any{"text": "likeable"}, authorKey)
	id := int64(decodeBody(t, resp)["id"].(float64))

	resp = c.do(t, http.MethodPost, fmt.Sprintf("/api/posts/%d/like", id), nil, likerKey)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("like: status %d", resp.StatusCode)
	}
	if liked := decodeBody(t, resp)["liked"]; liked != true {
		t.Fatalf("expected liked=true, got %v", liked)
	}

	resp = c.do(t, http.MethodGet, fmt.Sprintf("/api/posts/%d", id), nil, likerKey)
	got := decodeBody(t, resp)
	if got["like_count"].(float64) != 1 || got["viewer_liked"] != true {
		t.Fatalf("unexpected state: %v", got)
	}

	// Toggle off.
	resp = c.do(t, http.MethodPost, fmt.Sprintf("/api/posts/%d/like", id), nil, likerKey)
	if liked := decodeBody(t, resp)["liked"]; liked != false {
		t.Fatalf("expected liked=false, got %v", liked)
	}

	resp = c.do(t, http.MethodPost, "/api/posts/9999/like", nil, likerKey)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing post: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestFollowAndProfileHTTP(t *testing.T) {
	c := newTestClient(t)
	c.register(t, "famous")
	fanKey := c.register(t, "fan")

	resp := c.do(t, http.MethodPut, "/api/agents/famous/follow", nil, fanKey)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("follow: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(t, http.MethodGet, "/api/agents/famous", nil, "")
	profile := decodeBody(t, resp)
	if profile["followers"].(float64) != 1 {
		t.Fatalf("expected 1 follower, got %v", profile["followers"])
	}

	resp = c.do(t, http.MethodGet, "/api/agents/famous/followers", nil, "")
	followers := decodeBody(t, resp)["agents"].([]any)
	if len(followers) != 1 || followers[0] != "fan" {
		t.Fatalf("unexpected followers: %v", followers)
	}

	// Following yourself is rejected.
	resp = c.do(t, http.MethodPut, "/api/agents/fan/follow", nil, fanKey)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("self follow: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(t, http.MethodDelete, "/api/agents/famous/follow", nil, fanKey)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unfollow: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestVerifyHTTP(t *testing.T) {
	orc := oracle.Func(func(ctx context.Context, proofURL, code string) (oracle.Proof, error) {
		return oracle.Proof{ContainsCode: strings.Contains(proofURL, "good"), Username: "human-one"}, nil
	})
	cfg := config.Config{
		RateLimits: config.RateLimits{PostPerFiveMinutes: 1000, LikePerHour: 1000, FollowPerDay: 1000},
	}
	c := newTestClientWithConfig(t, cfg, orc)
	key := c.register(t, "hopeful")

	resp := c.do(t, http.MethodPost, "/api/verify", map[string]string{"proof_url": "https://x/bad"}, key)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("bad proof: expected 422, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(t, http.MethodPost, "/api/verify", map[string]string{"proof_url": "https://x/good"}, key)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify: status %d", resp.StatusCode)
	}
	profile := decodeBody(t, resp)
	if profile["verified"] != true {
		t.Fatalf("expected verified profile, got %v", profile)
	}

	// Verification is one-way.
	resp = c.do(t, http.MethodPost, "/api/verify", map[string]string{"proof_url": "https://x/good"}, key)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("re-verify: expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTrendingAndSearchHTTP(t *testing.T) {
	c := newTestClient(t)
	key := c.register(t, "tagger")

	for _, text := range []string{"one #hot", "two #hot #fresh", "three landmark phrase"} {
		resp := c.do(t, http.MethodPost, "/api/posts", map[string]any{"text": text}, key)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("post %q: status %d", text, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := c.do(t, http.MethodGet, "/api/trending", nil, "")
	trending := decodeBody(t, resp)["trending"].([]any)
	if len(trending) != 2 {
		t.Fatalf("expected 2 trending tags, got %v", trending)
	}
	top := trending[0].(map[string]any)
	if top["tag"] != "hot" || top["window_posts"].(float64) != 2 {
		t.Fatalf("unexpected leader: %v", top)
	}

	resp = c.do(t, http.MethodGet, "/api/tags/hot/posts", nil, "")
	tagged := decodeBody(t, resp)["posts"].([]any)
	if len(tagged) != 2 {
		t.Fatalf("expected 2 tagged posts, got %v", tagged)
	}

	resp = c.do(t, http.MethodGet, "/api/search?q=landmark+phrase", nil, "")
	found := decodeBody(t, resp)["posts"].([]any)
	if len(found) != 1 {
		t.Fatalf("expected 1 search hit, got %v", found)
	}
}

func TestStatsAndLanding(t *testing.T) {
	c := newTestClient(t)
	c.register(t, "solo")

	resp := c.do(t, http.MethodGet, "/api/stats", nil, "")
	stats := decodeBody(t, resp)
	if stats["agents"].(float64) != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}

	resp = c.do(t, http.MethodGet, "/", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("landing: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("landing content type: %s", ct)
	}
	resp.Body.Close()

	resp = c.do(t, http.MethodGet, "/metrics", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMethodNotAllowed(t *testing.T) {
	c := newTestClient(t)

	resp := c.do(t, http.MethodPatch, "/api/posts", nil, "")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(t, http.MethodGet, "/nope", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
