package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helpdeck/helpdeck/internal/testutil"
)

// gateDB blocks every Exec until release is closed, simulating a stalled
// database.
type gateDB struct {
	release chan struct{}

	mu    sync.Mutex
	execs int
}

func newGateDB() *gateDB {
	return &gateDB{release: make(chan struct{})}
}

func (g *gateDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	<-g.release
	g.mu.Lock()
	g.execs++
	g.mu.Unlock()
	return pgconn.CommandTag{}, nil
}

func (g *gateDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("unexpected Query")
}

func (g *gateDB) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("unexpected QueryRow")
}

func (g *gateDB) execCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.execs
}

func entry() Entry {
	return Entry{
		BusinessID: uuid.New(),
		QueryText:  "what pizzas do you have?",
		Intent:     "MENU_INQUIRY",
		Status:     StatusSuccess,
	}
}

func TestLog_NeverBlocks(t *testing.T) {
	t.Parallel()

	db := newGateDB()
	l := NewLogger(db, testutil.DiscardLogger())

	// Worker is stalled on the gate; overfill the queue anyway. Every Log
	// call must return promptly.
	total := queueSize + 50
	done := make(chan struct{})
	go func() {
		for i := 0; i < total; i++ {
			l.Log(entry())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Log blocked with a stalled database")
	}
	if l.Dropped() == 0 {
		t.Error("expected drops after overfilling the queue")
	}

	close(db.release)
	l.Close()

	written := db.execCount()
	if int64(written)+l.Dropped() != int64(total) {
		t.Errorf("written %d + dropped %d != logged %d", written, l.Dropped(), total)
	}
}

func TestClose_DrainsQueue(t *testing.T) {
	t.Parallel()

	db := newGateDB()
	close(db.release)
	l := NewLogger(db, testutil.DiscardLogger())

	for i := 0; i < 25; i++ {
		l.Log(entry())
	}
	l.Close()

	if got := db.execCount(); got != 25 {
		t.Errorf("writes after Close = %d, want 25", got)
	}
	if l.Dropped() != 0 {
		t.Errorf("dropped = %d, want 0", l.Dropped())
	}

	// Close is idempotent.
	l.Close()
}

func TestFilterLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   int
		want int
	}{
		{0, DefaultSearchLimit},
		{-5, DefaultSearchLimit},
		{50, 50},
		{MaxSearchLimit + 1, MaxSearchLimit},
	}
	for _, tt := range tests {
		if got := (Filter{Limit: tt.in}).limit(); got != tt.want {
			t.Errorf("limit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
