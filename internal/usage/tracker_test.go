package usage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helpdeck/helpdeck/internal/testutil"
)

// stubDB records Exec calls and answers every QueryRow with "no rows", so
// counters always start fresh in memory.
type stubDB struct {
	mu    sync.Mutex
	execs []string
}

func (s *stubDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs = append(s.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (s *stubDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("unexpected Query")
}

func (s *stubDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return noRow{}
}

func (s *stubDB) count(substr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sql := range s.execs {
		if strings.Contains(sql, substr) {
			n++
		}
	}
	return n
}

type noRow struct{}

func (noRow) Scan(...any) error { return pgx.ErrNoRows }

func newTestTracker(db Querier) *Tracker {
	return NewTracker(db, testutil.DiscardLogger())
}

func TestTracker_RecordIsMonotonic(t *testing.T) {
	t.Parallel()

	db := &stubDB{}
	tr := newTestTracker(db)
	defer tr.Close()

	ctx := context.Background()
	biz := uuid.New()

	var want int64
	for _, n := range []int64{1, 5, 10} {
		want += n
		if err := tr.Record(ctx, biz, QuotaQuery, n); err != nil {
			t.Fatalf("Record: %v", err)
		}
		q, err := tr.Quota(ctx, biz, QuotaQuery)
		if err != nil {
			t.Fatalf("Quota: %v", err)
		}
		if q.Used != want {
			t.Errorf("Used = %d, want %d", q.Used, want)
		}
		if q.Remaining != q.Limit-want {
			t.Errorf("Remaining = %d, want %d", q.Remaining, q.Limit-want)
		}
	}

	// Remaining clamps at zero once the counter blows past the limit.
	if err := tr.Record(ctx, biz, QuotaQuery, DefaultMonthlyQueryQuota*2); err != nil {
		t.Fatalf("Record: %v", err)
	}
	q, _ := tr.Quota(ctx, biz, QuotaQuery)
	if q.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", q.Remaining)
	}
}

func TestTracker_CheckQuota(t *testing.T) {
	t.Parallel()

	db := &stubDB{}
	tr := newTestTracker(db)
	defer tr.Close()

	ctx := context.Background()
	biz := uuid.New()

	if err := tr.CheckQuota(ctx, biz); err != nil {
		t.Fatalf("fresh business: %v", err)
	}

	if err := tr.Record(ctx, biz, QuotaQuery, DefaultMonthlyQueryQuota); err != nil {
		t.Fatalf("Record: %v", err)
	}
	err := tr.CheckQuota(ctx, biz)
	var qe *QuotaError
	if !errors.As(err, &qe) {
		t.Fatalf("err = %v, want *QuotaError", err)
	}
	if qe.Used != DefaultMonthlyQueryQuota || qe.Limit != DefaultMonthlyQueryQuota {
		t.Errorf("QuotaError = %+v", qe)
	}

	// Other tenants are unaffected.
	if err := tr.CheckQuota(ctx, uuid.New()); err != nil {
		t.Errorf("other business: %v", err)
	}
}

func TestTracker_MonthlyReset(t *testing.T) {
	t.Parallel()

	db := &stubDB{}
	tr := newTestTracker(db)
	defer tr.Close()

	now := time.Date(2025, time.January, 15, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	ctx := context.Background()
	biz := uuid.New()

	if err := tr.Record(ctx, biz, QuotaQuery, DefaultMonthlyQueryQuota); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := tr.CheckQuota(ctx, biz); err == nil {
		t.Fatal("expected exhausted quota in January")
	}

	now = time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)
	if err := tr.CheckQuota(ctx, biz); err != nil {
		t.Fatalf("quota should reset in February: %v", err)
	}
	q, err := tr.Quota(ctx, biz, QuotaQuery)
	if err != nil {
		t.Fatalf("Quota: %v", err)
	}
	if q.Used != 0 {
		t.Errorf("Used = %d after reset, want 0", q.Used)
	}
	wantReset := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	if !q.ResetDate.Equal(wantReset) {
		t.Errorf("ResetDate = %v, want %v", q.ResetDate, wantReset)
	}
}

func TestTracker_ThresholdAlertsFireOncePerCrossing(t *testing.T) {
	t.Parallel()

	db := &stubDB{}
	tr := newTestTracker(db)

	ctx := context.Background()
	biz := uuid.New()

	// 75% in two steps: only the step that crosses the bar alerts.
	mustRecord(t, tr, ctx, biz, 7000)
	mustRecord(t, tr, ctx, biz, 600)
	mustRecord(t, tr, ctx, biz, 100) // still between 75% and 90%

	// Cross 90% and 100% in one jump: both alerts fire.
	mustRecord(t, tr, ctx, biz, 3000)

	tr.Close()

	if got := db.count("usage_alerts"); got != 3 {
		t.Errorf("alert inserts = %d, want 3 (75, 90, 100)", got)
	}
	if got := db.count("INSERT INTO usage_counters"); got != 4 {
		t.Errorf("counter upserts = %d, want 4", got)
	}
}

func mustRecord(t *testing.T, tr *Tracker, ctx context.Context, biz uuid.UUID, n int64) {
	t.Helper()
	if err := tr.Record(ctx, biz, QuotaQuery, n); err != nil {
		t.Fatalf("Record(%d): %v", n, err)
	}
}

func TestTracker_CloseDrainsQueuedWrites(t *testing.T) {
	t.Parallel()

	db := &stubDB{}
	tr := newTestTracker(db)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		mustRecord(t, tr, ctx, uuid.New(), 1)
	}
	tr.Close()

	if got := db.count("INSERT INTO usage_counters"); got != 10 {
		t.Errorf("durable writes after Close = %d, want 10", got)
	}
}

func TestTracker_SetDefaultLimitAppliesToNewCounters(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(&stubDB{})
	defer tr.Close()

	tr.SetDefaultLimit(QuotaQuery, 3)

	ctx := context.Background()
	biz := uuid.New()
	for i := 0; i < 3; i++ {
		mustRecord(t, tr, ctx, biz, 1)
	}

	var qerr *QuotaError
	if err := tr.CheckQuota(ctx, biz); !errors.As(err, &qerr) {
		t.Fatalf("CheckQuota() = %v, want *QuotaError after custom limit", err)
	}
	if qerr.Limit != 3 {
		t.Errorf("QuotaError.Limit = %d, want 3", qerr.Limit)
	}
}
