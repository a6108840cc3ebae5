package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the database surface the logger needs. *pgxpool.Pool
// satisfies it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const insertEntrySQL = `
	INSERT INTO query_logs (
		business_id, session_token, query_text, intent, context_snapshot,
		response_text, processing_time_ms, tokens_used, confidence,
		status, error_message
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''))`

const queueSize = 512

// Logger persists query log entries off the request path. Log never blocks
// and never returns an error; the worst case under sustained backpressure
// is dropped entries, which are counted and reported on Close.
type Logger struct {
	db      Querier
	logger  *slog.Logger
	entries chan Entry
	wg      sync.WaitGroup
	dropped atomic.Int64

	closeOnce sync.Once
}

// NewLogger starts the write worker. Call Close to drain it on shutdown.
func NewLogger(db Querier, logger *slog.Logger) *Logger {
	l := &Logger{
		db:      db,
		logger:  logger,
		entries: make(chan Entry, queueSize),
	}
	l.wg.Add(1)
	go l.worker()
	return l
}

// Log queues an entry for persistence. Safe for concurrent use.
func (l *Logger) Log(entry Entry) {
	select {
	case l.entries <- entry:
	default:
		l.dropped.Add(1)
	}
}

// Dropped returns the number of entries lost to backpressure so far.
func (l *Logger) Dropped() int64 {
	return l.dropped.Load()
}

// Close stops accepting entries and drains the queue.
func (l *Logger) Close() {
	l.closeOnce.Do(func() {
		close(l.entries)
		l.wg.Wait()
		if n := l.dropped.Load(); n > 0 {
			l.logger.Warn("query log entries dropped under backpressure", "count", n)
		}
	})
}

func (l *Logger) worker() {
	defer l.wg.Done()
	for entry := range l.entries {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := l.write(ctx, entry); err != nil {
			l.logger.Error("query log write failed", "error", err, "business_id", entry.BusinessID)
		}
		cancel()
	}
}

func (l *Logger) write(ctx context.Context, e Entry) error {
	snapshot, err := json.Marshal(e.Context)
	if err != nil {
		snapshot = []byte("[]")
	}
	_, err = l.db.Exec(ctx, insertEntrySQL,
		e.BusinessID, e.SessionToken, e.QueryText, e.Intent, snapshot,
		e.ResponseText, e.ProcessingTime, e.TokensUsed, e.Confidence,
		e.Status, e.ErrorMessage)
	return err
}
