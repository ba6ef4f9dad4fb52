package knowledge

import (
	"context"
	"testing"

	"github.com/chatbi/chatbi/internal/log"
	"github.com/chatbi/chatbi/internal/testutil"
)

func newTestStore(t *testing.T) *ChromemStore {
	t.Helper()
	store, err := NewChromemStore("", &testutil.VocabEmbedder{}, log.NewNop())
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	return store
}

func addItem(t *testing.T, store *ChromemStore, question, sql string, tags ...string) string {
	t.Helper()
	id, err := store.Add(context.Background(), Item{
		Question: question,
		SQL:      sql,
		Tags:     tags,
	})
	if err != nil {
		t.Fatalf("adding item: %v", err)
	}
	return id
}

func TestChromemStore_SearchEmptyStore(t *testing.T) {
	store := newTestStore(t)

	matches, err := store.Search(context.Background(), "anything at all")
	if err != nil {
		t.Fatalf("empty-store search errored: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("empty store returned %d matches", len(matches))
	}
}

func TestChromemStore_AddAndSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	addItem(t, store, "how many users signed up last week", "SELECT count(*) FROM users WHERE created_at > now() - interval '7 days'")
	addItem(t, store, "total revenue by region", "SELECT region, sum(amount) FROM sales GROUP BY region")

	matches, err := store.Search(ctx, "how many users signed up last week", WithTopK(2))
	if err != nil {
		t.Fatalf("search errored: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("no matches for a stored question")
	}
	if matches[0].Question != "how many users signed up last week" {
		t.Errorf("best match = %q, want the user signup question", matches[0].Question)
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Similarity > matches[i-1].Similarity {
			t.Error("matches not ordered by descending similarity")
		}
	}
}

func TestChromemStore_AddIsUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id1 := addItem(t, store, "how many users", "SELECT count(*) FROM users")
	if err := store.UpdateUsage(ctx, id1, 1.0); err != nil {
		t.Fatalf("usage update: %v", err)
	}

	// Same pair again with a new description: same ID, feedback preserved.
	id2, err := store.Add(ctx, Item{
		Question:    "how many users",
		SQL:         "SELECT count(*) FROM users",
		Description: "user head count",
	})
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if id1 != id2 {
		t.Errorf("re-add changed ID: %s vs %s", id1, id2)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalItems != 1 {
		t.Errorf("TotalItems = %d, want 1 after re-add", stats.TotalItems)
	}

	items, err := store.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("List returned %d items, want 1", len(items))
	}
	if items[0].UsageCount != 1 || items[0].Rating != 1.0 {
		t.Errorf("feedback lost on re-add: usage=%d rating=%g", items[0].UsageCount, items[0].Rating)
	}
	if items[0].Description != "user head count" {
		t.Errorf("description not updated: %q", items[0].Description)
	}
}

func TestChromemStore_UpdateUsage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id := addItem(t, store, "how many users", "SELECT count(*) FROM users")

	if err := store.UpdateUsage(ctx, id, 0.1); err != nil {
		t.Fatalf("usage update: %v", err)
	}
	if err := store.UpdateUsage(ctx, id, 0.1); err != nil {
		t.Fatalf("second usage update: %v", err)
	}

	items, _ := store.List(ctx, 1, 0)
	if items[0].UsageCount != 2 {
		t.Errorf("UsageCount = %d, want 2", items[0].UsageCount)
	}
	if items[0].Rating < 0.19 || items[0].Rating > 0.21 {
		t.Errorf("Rating = %g, want 0.2", items[0].Rating)
	}

	if err := store.UpdateUsage(ctx, "sql_missing", 1); err == nil {
		t.Error("usage update on missing item did not error")
	}
}

func TestChromemStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id := addItem(t, store, "how many users", "SELECT count(*) FROM users")

	existed, err := store.Delete(ctx, id)
	if err != nil || !existed {
		t.Fatalf("Delete = (%v, %v), want (true, nil)", existed, err)
	}
	existed, err = store.Delete(ctx, id)
	if err != nil || existed {
		t.Fatalf("second Delete = (%v, %v), want (false, nil)", existed, err)
	}

	stats, _ := store.Stats(ctx)
	if stats.TotalItems != 0 {
		t.Errorf("TotalItems = %d after delete, want 0", stats.TotalItems)
	}
}

func TestChromemStore_TagFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	addItem(t, store, "daily active users", "SELECT count(distinct user_id) FROM events WHERE day = current_date", "users", "activity")
	addItem(t, store, "daily revenue", "SELECT sum(amount) FROM sales WHERE day = current_date", "revenue")

	matches, err := store.Search(ctx, "daily numbers", WithTags("revenue"))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, m := range matches {
		if !hasAllTags(m.Tags, []string{"revenue"}) {
			t.Errorf("match %q lacks required tag", m.Question)
		}
	}
}

func TestChromemStore_Update(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id := addItem(t, store, "how many users", "SELECT count(*) FROM users")

	err := store.Update(ctx, id, map[string]any{
		"description": "counts all users",
		"rating":      2.0,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	items, _ := store.List(ctx, 1, 0)
	if items[0].Description != "counts all users" || items[0].Rating != 2.0 {
		t.Errorf("update not applied: %+v", items[0])
	}

	if err := store.Update(ctx, id, map[string]any{"sql": "SELECT 2"}); err == nil {
		t.Error("updating an immutable field did not error")
	}
	if err := store.Update(ctx, "sql_missing", map[string]any{"rating": 1.0}); err == nil {
		t.Error("updating a missing item did not error")
	}
}

func TestChromemStore_Stats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	empty, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats on empty store: %v", err)
	}
	if empty.AvgRating != 0 || empty.TotalUsage != 0 {
		t.Errorf("empty store stats = %+v, want zero aggregates", empty)
	}

	id := addItem(t, store, "how many users", "SELECT count(*) FROM users")
	addItem(t, store, "total revenue", "SELECT sum(amount) FROM sales")

	if err := store.UpdateUsage(ctx, id, 1.5); err != nil {
		t.Fatalf("usage update: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalItems != 2 {
		t.Errorf("TotalItems = %d, want 2", stats.TotalItems)
	}
	if stats.TopRatedItems != 1 {
		t.Errorf("TopRatedItems = %d, want 1", stats.TopRatedItems)
	}
	// Ratings 1.5 and 0 over two items; one usage increment.
	if stats.AvgRating < 0.74 || stats.AvgRating > 0.76 {
		t.Errorf("AvgRating = %g, want 0.75", stats.AvgRating)
	}
	if stats.TotalUsage != 1 {
		t.Errorf("TotalUsage = %d, want 1", stats.TotalUsage)
	}
	if stats.Backend != "chromem" {
		t.Errorf("Backend = %q", stats.Backend)
	}
}
