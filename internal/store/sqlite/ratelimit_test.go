package sqlite

import (
	"context"
	"testing"
	"time"
)

func TestRateEventWindow(t *testing.T) {
	st := newTestStore(t)
	defer st.Close()
	ctx := context.Background()

	agent := createTestAgent(t, st, "alpha")
	now := time.Now()

	for _, at := range []time.Time{now.Add(-2 * time.Hour), now.Add(-30 * time.Minute), now} {
		if err := st.RecordRateEvent(ctx, agent.ID, "post", at); err != nil {
			t.Fatalf("record event: %v", err)
		}
	}

	n, err := st.CountRateEvents(ctx, agent.ID, "post", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 events inside the hour, got %d", n)
	}

	// Actions are counted separately.
	n, _ = st.CountRateEvents(ctx, agent.ID, "like", now.Add(-time.Hour))
	if n != 0 {
		t.Fatalf("expected 0 like events, got %d", n)
	}

	oldest, err := st.OldestRateEvent(ctx, agent.ID, "post", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("oldest: %v", err)
	}
	want := now.Add(-30 * time.Minute).Unix()
	if oldest.Unix() != want {
		t.Fatalf("expected oldest at %d, got %d", want, oldest.Unix())
	}

	if err := st.PruneRateEvents(ctx, now.Add(-time.Hour)); err != nil {
		t.Fatalf("prune: %v", err)
	}
	n, _ = st.CountRateEvents(ctx, agent.ID, "post", now.Add(-3*time.Hour))
	if n != 2 {
		t.Fatalf("prune should only drop events before the cutoff, got %d", n)
	}
}

func TestOldestRateEventEmpty(t *testing.T) {
	st := newTestStore(t)
	defer st.Close()

	agent := createTestAgent(t, st, "alpha")
	oldest, err := st.OldestRateEvent(context.Background(), agent.ID, "post", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("oldest: %v", err)
	}
	if !oldest.IsZero() {
		t.Fatalf("expected zero time for empty window, got %v", oldest)
	}
}
