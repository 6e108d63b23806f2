package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCheckProof(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oembed" {
			http.NotFound(w, r)
			return
		}
		switch r.URL.Query().Get("url") {
		case "https://platform.example/p/good":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"author_name": "human-one", "html": "<p>my code is slashpost-verify-abc</p>"}`)
		case "https://platform.example/p/missing-code":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"author_name": "human-one", "html": "<p>nothing to see</p>"}`)
		case "https://platform.example/p/gone":
			http.NotFound(w, r)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	defer c.Close()
	ctx := context.Background()

	proof, err := c.CheckProof(ctx, "https://platform.example/p/good", "slashpost-verify-abc")
	if err != nil {
		t.Fatalf("check proof: %v", err)
	}
	if !proof.ContainsCode || proof.Username != "human-one" {
		t.Fatalf("unexpected proof: %+v", proof)
	}

	proof, err = c.CheckProof(ctx, "https://platform.example/p/missing-code", "slashpost-verify-abc")
	if err != nil {
		t.Fatalf("check proof: %v", err)
	}
	if proof.ContainsCode {
		t.Fatalf("code should not be found")
	}

	// A deleted or private proof is a failed proof, not an outage.
	proof, err = c.CheckProof(ctx, "https://platform.example/p/gone", "slashpost-verify-abc")
	if err != nil {
		t.Fatalf("check proof: %v", err)
	}
	if proof.ContainsCode || proof.Username != "" {
		t.Fatalf("expected empty proof for 404, got %+v", proof)
	}

	// Server errors are outages.
	if _, err := c.CheckProof(ctx, "https://platform.example/p/error", "x"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
