// Package analytics records per-query log entries and serves aggregate
// statistics over them. Logging is fire-and-forget: entries are handed to a
// buffered channel and written by a worker goroutine, so a slow or down
// database never adds latency to the query path. Entries that arrive while
// the buffer is full are dropped and counted.
package analytics

import (
	"time"

	"github.com/google/uuid"
)

// Status classifies the outcome of one processed query. Values match the
// query_logs.status check constraint.
type Status string

const (
	StatusSuccess     Status = "SUCCESS"
	StatusError       Status = "ERROR"
	StatusTimeout     Status = "TIMEOUT"
	StatusRateLimited Status = "RATE_LIMITED"
)

// Entry is one query log record.
type Entry struct {
	ID             uuid.UUID `json:"id"`
	BusinessID     uuid.UUID `json:"businessId"`
	SessionToken   string    `json:"sessionToken,omitempty"`
	QueryText      string    `json:"queryText"`
	Intent         string    `json:"intent"`
	Context        []string  `json:"context,omitempty"`
	ResponseText   string    `json:"responseText,omitempty"`
	ProcessingTime int       `json:"processingTimeMs"`
	TokensUsed     int       `json:"tokensUsed"`
	Confidence     float64   `json:"confidence"`
	Status         Status    `json:"status"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Aggregates summarises a business's query traffic for a time range.
type Aggregates struct {
	TotalQueries  int64            `json:"totalQueries"`
	SuccessRate   float64          `json:"successRate"`
	AvgLatencyMs  float64          `json:"avgLatencyMs"`
	AvgConfidence float64          `json:"avgConfidence"`
	TotalTokens   int64            `json:"totalTokens"`
	ByIntent      map[string]int64 `json:"byIntent"`
	ByStatus      map[string]int64 `json:"byStatus"`
}

// Filter narrows a log search. Zero values mean "no constraint"; Limit is
// clamped to MaxSearchLimit and defaults to DefaultSearchLimit.
type Filter struct {
	Intent string
	Status Status
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultSearchLimit
	case f.Limit > MaxSearchLimit:
		return MaxSearchLimit
	}
	return f.Limit
}
