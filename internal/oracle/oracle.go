// Package oracle checks ownership proofs against the external platform's
// embed API. The core only ever asks one question: does the referenced
// profile or post contain the agent's verification code, and which external
// username published it.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"resty.dev/v3"
)

// ErrUnavailable means the platform could not be reached or answered with a
// server error. Callers surface it as retryable; the client never retries.
var ErrUnavailable = errors.New("proof oracle unavailable")

type Proof struct {
	ContainsCode bool
	Username     string
}

type Oracle interface {
	CheckProof(ctx context.Context, proofURL, code string) (Proof, error)
}

// Func adapts a function to the Oracle interface; tests and local dev use it
// in place of the real platform.
type Func func(ctx context.Context, proofURL, code string) (Proof, error)

func (f Func) CheckProof(ctx context.Context, proofURL, code string) (Proof, error) {
	return f(ctx, proofURL, code)
}

type Client struct {
	client  *resty.Client
	baseURL string
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	client := resty.NewWithTransportSettings(&resty.TransportSettings{
		DialerTimeout:         timeout,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
	})
	return &Client{client: client, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (c *Client) Close() error {
	return c.client.Close()
}

type embed struct {
	AuthorName string `json:"author_name"`
	HTML       string `json:"html"`
}

// CheckProof fetches the oEmbed rendering of the proof URL. A well-formed
// answer with no code in it is a failed proof, not an error; only transport
// and server failures become ErrUnavailable.
func (c *Client) CheckProof(ctx context.Context, proofURL, code string) (Proof, error) {
	res, err := c.client.R().
		WithContext(ctx).
		SetQueryParam("url", proofURL).
		SetResult(&embed{}).
		Get(c.baseURL + "/oembed")
	if err != nil {
		return Proof{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if res.StatusCode() == 404 {
		return Proof{}, nil
	}
	if res.IsError() {
		return Proof{}, ErrUnavailable
	}
	e := res.Result().(*embed)
	return Proof{
		ContainsCode: strings.Contains(e.HTML, code),
		Username:     e.AuthorName,
	}, nil
}
