package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	totalsSQL = `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'SUCCESS'),
		       COALESCE(AVG(processing_time_ms), 0),
		       COALESCE(AVG(confidence), 0),
		       COALESCE(SUM(tokens_used), 0)
		FROM query_logs
		WHERE business_id = $1 AND created_at >= $2 AND created_at < $3`

	byIntentSQL = `
		SELECT intent, COUNT(*)
		FROM query_logs
		WHERE business_id = $1 AND created_at >= $2 AND created_at < $3
		GROUP BY intent
		ORDER BY COUNT(*) DESC`

	byStatusSQL = `
		SELECT status, COUNT(*)
		FROM query_logs
		WHERE business_id = $1 AND created_at >= $2 AND created_at < $3
		GROUP BY status`

	searchSQL = `
		SELECT id, business_id, session_token, query_text, intent,
		       context_snapshot, response_text, processing_time_ms,
		       tokens_used, confidence, status, COALESCE(error_message, ''),
		       created_at
		FROM query_logs
		WHERE business_id = $1
		  AND ($2 = '' OR intent = $2)
		  AND ($3 = '' OR status = $3)
		  AND created_at >= $4 AND created_at < $5
		ORDER BY created_at DESC
		LIMIT $6 OFFSET $7`
)

// Aggregate computes traffic statistics for a business over [from, to).
// The three underlying queries are independent and run concurrently.
func (l *Logger) Aggregate(ctx context.Context, businessID uuid.UUID, from, to time.Time) (*Aggregates, error) {
	from, to = normalizeRange(from, to)
	agg := &Aggregates{
		ByIntent: make(map[string]int64),
		ByStatus: make(map[string]int64),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var successes int64
		err := l.db.QueryRow(ctx, totalsSQL, businessID, from, to).Scan(
			&agg.TotalQueries, &successes, &agg.AvgLatencyMs,
			&agg.AvgConfidence, &agg.TotalTokens)
		if err != nil {
			return fmt.Errorf("totals: %w", err)
		}
		if agg.TotalQueries > 0 {
			agg.SuccessRate = float64(successes) / float64(agg.TotalQueries)
		}
		return nil
	})
	g.Go(func() error {
		return l.countInto(ctx, byIntentSQL, businessID, from, to, agg.ByIntent)
	})
	g.Go(func() error {
		return l.countInto(ctx, byStatusSQL, businessID, from, to, agg.ByStatus)
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("aggregate analytics: %w", err)
	}
	return agg, nil
}

func (l *Logger) countInto(ctx context.Context, sql string, businessID uuid.UUID, from, to time.Time, dst map[string]int64) error {
	rows, err := l.db.Query(ctx, sql, businessID, from, to)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		dst[key] = n
	}
	return rows.Err()
}

// Search returns log entries matching the filter, newest first.
func (l *Logger) Search(ctx context.Context, businessID uuid.UUID, f Filter) ([]Entry, error) {
	from, to := normalizeRange(f.From, f.To)
	rows, err := l.db.Query(ctx, searchSQL,
		businessID, f.Intent, string(f.Status), from, to, f.limit(), f.Offset)
	if err != nil {
		return nil, fmt.Errorf("search query logs: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, f.limit())
	for rows.Next() {
		var e Entry
		var snapshot []byte
		err := rows.Scan(&e.ID, &e.BusinessID, &e.SessionToken, &e.QueryText,
			&e.Intent, &snapshot, &e.ResponseText, &e.ProcessingTime,
			&e.TokensUsed, &e.Confidence, &e.Status, &e.ErrorMessage,
			&e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan query log: %w", err)
		}
		if len(snapshot) > 0 {
			_ = json.Unmarshal(snapshot, &e.Context)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search query logs: %w", err)
	}
	return entries, nil
}

// normalizeRange fills open range endpoints: a zero From means the start of
// the epoch, a zero To means "now".
func normalizeRange(from, to time.Time) (time.Time, time.Time) {
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Second)
	}
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	return from, to
}
