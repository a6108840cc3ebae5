//go:build integration
// +build integration

package analytics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/helpdeck/helpdeck/internal/testutil"
)

func seedBusiness(t *testing.T, db *testutil.TestDB) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := db.Pool.QueryRow(context.Background(),
		`INSERT INTO businesses (name, status) VALUES ($1, 'ACTIVE') RETURNING id`,
		fmt.Sprintf("test-biz-%s", uuid.NewString()[:8]),
	).Scan(&id)
	if err != nil {
		t.Fatalf("seeding business: %v", err)
	}
	return id
}

func TestLogger_AggregateAndSearch(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	bizID := seedBusiness(t, db)
	l := NewLogger(db.Pool, testutil.DiscardLogger())
	defer l.Close()

	ctx := context.Background()
	entries := []Entry{
		{BusinessID: bizID, QueryText: "menu?", Intent: "MENU_INQUIRY", Status: StatusSuccess, ProcessingTime: 100, TokensUsed: 50, Confidence: 0.9},
		{BusinessID: bizID, QueryText: "hours?", Intent: "HOURS_POLICY", Status: StatusSuccess, ProcessingTime: 200, TokensUsed: 30, Confidence: 0.8},
		{BusinessID: bizID, QueryText: "menu again?", Intent: "MENU_INQUIRY", Status: StatusError, ProcessingTime: 300, TokensUsed: 0, Confidence: 0, ErrorMessage: "model unavailable"},
		{BusinessID: bizID, QueryText: "spam", Intent: "UNKNOWN", Status: StatusRateLimited},
	}
	for _, e := range entries {
		l.Log(e)
	}

	// Wait for the async writer to flush.
	deadline := time.Now().Add(5 * time.Second)
	for {
		var n int
		if err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM query_logs WHERE business_id = $1`, bizID).Scan(&n); err != nil {
			t.Fatalf("counting logs: %v", err)
		}
		if n == len(entries) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d entries persisted", n, len(entries))
		}
		time.Sleep(50 * time.Millisecond)
	}

	agg, err := l.Aggregate(ctx, bizID, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if agg.TotalQueries != 4 {
		t.Errorf("TotalQueries = %d, want 4", agg.TotalQueries)
	}
	if agg.SuccessRate != 0.5 {
		t.Errorf("SuccessRate = %v, want 0.5", agg.SuccessRate)
	}
	if agg.ByIntent["MENU_INQUIRY"] != 2 {
		t.Errorf("ByIntent = %v", agg.ByIntent)
	}
	if agg.ByStatus["RATE_LIMITED"] != 1 {
		t.Errorf("ByStatus = %v", agg.ByStatus)
	}
	if agg.TotalTokens != 80 {
		t.Errorf("TotalTokens = %d, want 80", agg.TotalTokens)
	}

	// Intent filter.
	got, err := l.Search(ctx, bizID, Filter{Intent: "MENU_INQUIRY"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Search by intent = %d entries, want 2", len(got))
	}

	// Status filter combined with intent.
	got, err = l.Search(ctx, bizID, Filter{Intent: "MENU_INQUIRY", Status: StatusError})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].ErrorMessage != "model unavailable" {
		t.Fatalf("Search by intent+status = %+v", got)
	}

	// Pagination.
	page, err := l.Search(ctx, bizID, Filter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(page) != 2 {
		t.Errorf("page = %d entries, want 2", len(page))
	}

	// Tenant isolation.
	other, err := l.Search(ctx, seedBusiness(t, db), Filter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("other tenant sees %d entries", len(other))
	}
}
