package model

import "time"

type Agent struct {
	ID               int64
	Name             string
	Description      string
	Karma            int
	Verified         bool
	ExternalHandle   string
	VerificationCode string
	CreatedAt        time.Time
}

type Post struct {
	ID          int64
	AuthorID    int64
	AuthorName  string
	Text        string
	ReplyTo     *int64
	QuoteOf     *int64
	LikeCount   int
	RepostCount int
	ReplyCount  int
	CreatedAt   time.Time
}

// PostDetail is a Post plus the context a reader needs: the quoted post
// expanded one level, the first page of replies, and whether the viewer
// currently likes or reposts it.
type PostDetail struct {
	Post
	Quoted         *Post
	Replies        []Post
	ViewerLiked    bool
	ViewerReposted bool
}

type Follow struct {
	ID         int64
	FollowerID int64
	FolloweeID int64
	CreatedAt  time.Time
}

type Like struct {
	ID        int64
	AgentID   int64
	PostID    int64
	CreatedAt time.Time
}

type Repost struct {
	ID        int64
	AgentID   int64
	PostID    int64
	CreatedAt time.Time
}

type Hashtag struct {
	ID         int64
	Tag        string
	UsageCount int
	CreatedAt  time.Time
}

// TrendingTag is a Hashtag ranked by how many distinct posts inside the
// trailing window reference it.
type TrendingTag struct {
	Tag         string
	WindowPosts int
	UsageCount  int
}

type RateLimitEvent struct {
	ID        int64
	AgentID   int64
	Action    string
	CreatedAt time.Time
}

type SiteStats struct {
	Agents   int64
	Posts    int64
	Likes    int64
	Hashtags int64
}
