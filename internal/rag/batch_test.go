package rag

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/goleak"

	"github.com/chatbi/chatbi/internal/knowledge"
)

func makeBatchItems(n int) []knowledge.Item {
	items := make([]knowledge.Item, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, knowledge.Item{
			Question: fmt.Sprintf("how many rows does partition %d hold", i),
			SQL:      fmt.Sprintf("SELECT count(*) FROM events WHERE partition_id = %d", i),
		})
	}
	return items
}

func TestBatchAdd(t *testing.T) {
	defer goleak.VerifyNone(t)

	sys, _ := newTestSystem(t)
	ctx := context.Background()

	batch := makeBatchItems(20)
	// Sprinkle in invalid items: empty SQL and a mutating statement.
	batch[4].SQL = ""
	batch[11].SQL = "DROP TABLE users CASCADE"

	report := sys.BatchAdd(ctx, batch)
	if report.ID == "" {
		t.Error("report has no batch ID")
	}
	if report.Added != 18 {
		t.Errorf("Added = %d, want 18", report.Added)
	}
	if report.Failed != 2 {
		t.Errorf("Failed = %d, want 2", report.Failed)
	}
	if len(report.Errors) != 2 {
		t.Fatalf("Errors = %d entries, want 2", len(report.Errors))
	}
	for _, be := range report.Errors {
		if be.Index != 4 && be.Index != 11 {
			t.Errorf("unexpected failed index %d", be.Index)
		}
	}

	stats, err := sys.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Store.TotalItems != 18 {
		t.Errorf("store has %d items, want 18", stats.Store.TotalItems)
	}
}

func TestBatchAdd_Empty(t *testing.T) {
	defer goleak.VerifyNone(t)

	sys, _ := newTestSystem(t)
	report := sys.BatchAdd(context.Background(), nil)
	if report.Added != 0 || report.Failed != 0 {
		t.Errorf("empty batch report = %+v", report)
	}
	if report.ID == "" {
		t.Error("empty batch still needs a report ID")
	}
}

func TestBatchAdd_CancelledContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	sys, _ := newTestSystem(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Must terminate promptly and leak nothing; partial outcomes are fine.
	report := sys.BatchAdd(ctx, makeBatchItems(50))
	if report.Added+report.Failed > 50 {
		t.Errorf("report counts %d outcomes for 50 items", report.Added+report.Failed)
	}
}
