package usage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the database surface the tracker needs. *pgxpool.Pool
// satisfies it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	selectCounterSQL = `
		SELECT current_usage, monthly_limit, reset_date
		FROM usage_counters
		WHERE business_id = $1 AND quota_type = $2`

	upsertCounterSQL = `
		INSERT INTO usage_counters (business_id, quota_type, current_usage, monthly_limit, reset_date)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (business_id, quota_type) DO UPDATE
		SET current_usage = usage_counters.current_usage + $3,
		    updated_at    = now()`

	resetCounterSQL = `
		UPDATE usage_counters
		SET current_usage = 0, reset_date = $3, updated_at = now()
		WHERE business_id = $1 AND quota_type = $2`

	resolveAlertsSQL = `
		UPDATE usage_alerts
		SET resolved_at = now()
		WHERE business_id = $1 AND quota_type = $2 AND resolved_at IS NULL`

	insertAlertSQL = `
		INSERT INTO usage_alerts (business_id, quota_type, threshold)
		VALUES ($1, $2, $3)
		ON CONFLICT (business_id, quota_type, threshold) WHERE resolved_at IS NULL
		DO NOTHING`
)

const writeQueueSize = 256

type counterKey struct {
	businessID uuid.UUID
	quotaType  QuotaType
}

type counter struct {
	used  int64
	limit int64
	reset time.Time
}

// writeOp is one deferred database write.
type writeOp func(ctx context.Context) error

// Tracker maintains quota counters for all businesses served by this
// process. It satisfies llm.QuotaChecker.
type Tracker struct {
	db     Querier
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	counters map[counterKey]*counter
	defaults map[QuotaType]int64

	writes  chan writeOp
	wg      sync.WaitGroup
	dropped int64
}

// NewTracker starts the write worker. Call Close to drain it on shutdown.
func NewTracker(db Querier, logger *slog.Logger) *Tracker {
	t := &Tracker{
		db:       db,
		logger:   logger,
		now:      time.Now,
		counters: make(map[counterKey]*counter),
		defaults: make(map[QuotaType]int64),
		writes:   make(chan writeOp, writeQueueSize),
	}
	t.wg.Add(1)
	go t.worker()
	return t
}

// SetDefaultLimit overrides the built-in default limit for a quota type.
// It applies to counters loaded after the call; businesses with a stored
// per-tenant limit keep it. Call during wiring, before serving traffic.
func (t *Tracker) SetDefaultLimit(qt QuotaType, limit int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if limit > 0 {
		t.defaults[qt] = limit
	}
}

func (t *Tracker) worker() {
	defer t.wg.Done()
	for op := range t.writes {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := op(ctx); err != nil {
			t.logger.Error("usage write failed", "error", err)
		}
		cancel()
	}
}

// Close stops accepting writes and drains the queue.
func (t *Tracker) Close() {
	close(t.writes)
	t.wg.Wait()
}

// enqueue hands a write to the worker. If the queue is full the write is
// dropped and counted rather than blocking the request path.
func (t *Tracker) enqueue(op writeOp) {
	select {
	case t.writes <- op:
	default:
		t.mu.Lock()
		t.dropped++
		n := t.dropped
		t.mu.Unlock()
		t.logger.Warn("usage write queue full, dropping write", "dropped_total", n)
	}
}

// CheckQuota returns a *QuotaError when the business has exhausted its
// monthly query quota. It is called before every model invocation.
func (t *Tracker) CheckQuota(ctx context.Context, businessID uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, err := t.ensureLocked(ctx, businessID, QuotaQuery)
	if err != nil {
		return err
	}
	if c.used >= c.limit {
		return &QuotaError{Type: QuotaQuery, Used: c.used, Limit: c.limit}
	}
	return nil
}

// Record adds n to a counter. The in-memory bump is synchronous; the
// durable increment and any threshold alerts are written asynchronously.
func (t *Tracker) Record(ctx context.Context, businessID uuid.UUID, qt QuotaType, n int64) error {
	if n <= 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	c, err := t.ensureLocked(ctx, businessID, qt)
	if err != nil {
		return err
	}

	before := c.used
	c.used += n
	limit, reset := c.limit, c.reset

	t.enqueue(func(ctx context.Context) error {
		_, err := t.db.Exec(ctx, upsertCounterSQL, businessID, qt, n, limit, reset)
		return err
	})

	for _, th := range alertThresholds {
		bar := c.limit * int64(th) / 100
		if before < bar && c.used >= bar {
			threshold := th
			t.enqueue(func(ctx context.Context) error {
				_, err := t.db.Exec(ctx, insertAlertSQL, businessID, qt, threshold)
				return err
			})
			t.logger.Info("usage threshold crossed",
				"business_id", businessID, "quota_type", qt,
				"threshold_pct", threshold, "used", c.used, "limit", c.limit)
		}
	}
	return nil
}

// Quota returns the current view of one counter.
func (t *Tracker) Quota(ctx context.Context, businessID uuid.UUID, qt QuotaType) (Quota, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, err := t.ensureLocked(ctx, businessID, qt)
	if err != nil {
		return Quota{}, err
	}
	remaining := c.limit - c.used
	if remaining < 0 {
		remaining = 0
	}
	return Quota{
		Type:      qt,
		Used:      c.used,
		Limit:     c.limit,
		Remaining: remaining,
		ResetDate: c.reset,
	}, nil
}

// ensureLocked returns the in-memory counter, loading it from the database
// on first touch and applying the monthly reset when the reset date has
// passed. Caller holds t.mu.
func (t *Tracker) ensureLocked(ctx context.Context, businessID uuid.UUID, qt QuotaType) (*counter, error) {
	k := counterKey{businessID: businessID, quotaType: qt}
	c := t.counters[k]
	if c == nil {
		limit := t.defaults[qt]
		if limit == 0 {
			limit = defaultLimit(qt)
		}
		c = &counter{limit: limit, reset: nextReset(t.now())}
		err := t.db.QueryRow(ctx, selectCounterSQL, businessID, qt).
			Scan(&c.used, &c.limit, &c.reset)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		t.counters[k] = c
	}

	if !t.now().Before(c.reset) {
		c.used = 0
		c.reset = nextReset(t.now())
		reset := c.reset
		t.enqueue(func(ctx context.Context) error {
			if _, err := t.db.Exec(ctx, resetCounterSQL, businessID, qt, reset); err != nil {
				return err
			}
			_, err := t.db.Exec(ctx, resolveAlertsSQL, businessID, qt)
			return err
		})
	}
	return c, nil
}
