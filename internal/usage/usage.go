// Package usage tracks per-tenant quota consumption. Counters are bumped
// synchronously in memory so quota checks are cheap and strictly monotonic
// within a process; durable writes and threshold alerts happen on a worker
// goroutine. A crash can therefore under-count by the writes still queued,
// which is the accepted trade-off for keeping Record off the request path.
package usage

import (
	"fmt"
	"time"
)

// QuotaType selects which counter a record applies to. Values match the
// usage_counters.quota_type check constraint.
type QuotaType string

const (
	QuotaQuery     QuotaType = "query"
	QuotaEmbedding QuotaType = "embedding"
	QuotaAPICall   QuotaType = "api_call"
)

// Default monthly limits applied when a business has no counter row yet.
const (
	DefaultMonthlyQueryQuota     = 10000
	DefaultMonthlyEmbeddingQuota = 50000
	DefaultMonthlyAPICallQuota   = 100000
)

// Alert thresholds as percentages of the monthly limit. Matches the
// usage_alerts.threshold check constraint.
var alertThresholds = []int{75, 90, 100}

func defaultLimit(qt QuotaType) int64 {
	switch qt {
	case QuotaEmbedding:
		return DefaultMonthlyEmbeddingQuota
	case QuotaAPICall:
		return DefaultMonthlyAPICallQuota
	default:
		return DefaultMonthlyQueryQuota
	}
}

// Quota is a point-in-time view of one counter.
type Quota struct {
	Type      QuotaType `json:"type"`
	Used      int64     `json:"used"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetDate time.Time `json:"resetDate"`
}

// QuotaError reports an exhausted quota. It carries the numbers so callers
// can surface them to the tenant.
type QuotaError struct {
	Type  QuotaType
	Used  int64
	Limit int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s quota exhausted: %d of %d used", e.Type, e.Used, e.Limit)
}

// nextReset returns the first instant of the month after t, in UTC.
// Counters reset on calendar-month boundaries.
func nextReset(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
