//go:build integration
// +build integration

package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/helpdeck/helpdeck/internal/intent"
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

func TestStore_GetOrCreate_Lifecycle(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	bizID := seedBusiness(t, db)
	store, err := NewStore(db.Pool, time.Minute, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctx := context.Background()

	// Absent: creates.
	first, created, err := store.GetOrCreate(ctx, bizID, "tok-1", "cust-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !created {
		t.Fatal("expected first call to create a session")
	}

	// Active: returns same session with slid expiry.
	again, created, err := store.GetOrCreate(ctx, bizID, "tok-1", "cust-1")
	if err != nil {
		t.Fatalf("GetOrCreate again: %v", err)
	}
	if created {
		t.Fatal("second call should reuse the live session")
	}
	if again.ID != first.ID {
		t.Errorf("session ID changed: %s -> %s", first.ID, again.ID)
	}
	if !again.ExpiresAt.After(first.ExpiresAt.Add(-time.Second)) {
		t.Error("expiry should slide forward on activity")
	}
}

func TestStore_ExpiredSessionIsReplacedNotRevived(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	bizID := seedBusiness(t, db)
	store, err := NewStore(db.Pool, 50*time.Millisecond, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctx := context.Background()

	old, _, err := store.GetOrCreate(ctx, bizID, "tok-exp", "")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	replacement, created, err := store.GetOrCreate(ctx, bizID, "tok-exp", "")
	if err != nil {
		t.Fatalf("GetOrCreate after expiry: %v", err)
	}
	if !created {
		t.Fatal("expired session must be replaced, not returned")
	}
	if replacement.ID == old.ID {
		t.Fatal("expired session was revived")
	}
	if replacement.Token == old.Token {
		t.Error("replacement should carry a fresh token")
	}

	// The old row must be deactivated.
	var active bool
	if err := db.Pool.QueryRow(ctx,
		`SELECT is_active FROM conversation_sessions WHERE id = $1`, old.ID,
	).Scan(&active); err != nil {
		t.Fatalf("checking old session: %v", err)
	}
	if active {
		t.Error("expired session still marked active")
	}

	// Get by the old token reports expiry (row inactive -> not found is
	// also acceptable only for unknown tokens; here it must be ErrNotFound
	// since the active row is gone).
	if _, err := store.Get(ctx, bizID, old.Token); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(old token) = %v, want ErrNotFound", err)
	}
}

func TestStore_AppendExchangeAndHistory(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	bizID := seedBusiness(t, db)
	store, err := NewStore(db.Pool, time.Minute, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctx := context.Background()

	sess, _, err := store.GetOrCreate(ctx, bizID, "tok-hist", "")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	for i := 1; i <= 3; i++ {
		err := store.AppendExchange(ctx, sess.ID,
			fmt.Sprintf("question %d", i),
			fmt.Sprintf("answer %d", i),
			fmt.Sprintf("summary after turn %d", i),
			IntentContext{ActiveIntent: intent.MenuInquiry, UpdatedAt: time.Now()},
		)
		if err != nil {
			t.Fatalf("AppendExchange %d: %v", i, err)
		}
	}

	history, err := store.History(ctx, sess.ID, 4)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("history = %d messages, want 4 (limit)", len(history))
	}
	// Chronological order, ending with the latest answer.
	if history[0].Content != "answer 2" || history[3].Content != "answer 3" {
		t.Errorf("unexpected window: first=%q last=%q", history[0].Content, history[3].Content)
	}
	for i := 1; i < len(history); i++ {
		if history[i].SequenceNumber <= history[i-1].SequenceNumber {
			t.Fatal("history not in sequence order")
		}
	}

	// Session state reflects the last exchange.
	got, err := store.Get(ctx, bizID, "tok-hist")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ContextSummary != "summary after turn 3" {
		t.Errorf("ContextSummary = %q", got.ContextSummary)
	}
	if got.IntentContext.ActiveIntent != intent.MenuInquiry {
		t.Errorf("ActiveIntent = %s", got.IntentContext.ActiveIntent)
	}
	if got.TurnCount != 3 {
		t.Errorf("TurnCount = %d, want 3", got.TurnCount)
	}
}
