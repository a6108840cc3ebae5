// Package knowledge stores business content embeddings and retrieves the
// context bundle behind every answer: embed the query, run a cosine
// similarity search scoped to the business, boost and snippet the hits.
package knowledge

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// VectorDimension is the embedding width this store accepts. Vectors of any
// other dimension are rejected before a database query is issued.
const VectorDimension = 1536

// Content type constants for business knowledge.
const (
	ContentTypeMenu   = "menu"
	ContentTypePolicy = "policy"
	ContentTypeFAQ    = "faq"
)

// Search tuning defaults.
const (
	// DefaultThreshold is the minimum cosine similarity for a result.
	DefaultThreshold = 0.75

	// DefaultLimit is the result count when the caller doesn't specify one.
	DefaultLimit = 5

	// MaxResults caps any requested limit.
	MaxResults = 100

	// EmbedTimeout bounds a single embedding API call.
	EmbedTimeout = 10 * time.Second

	// SearchTimeout bounds the vector search query.
	SearchTimeout = 10 * time.Second
)

// Sentinel errors distinguishing the two retrieval failure modes. Callers
// treat both as "context unavailable" rather than fatal: the pipeline
// continues with an empty bundle and a degraded confidence.
var (
	// ErrSearchFailed covers embedding failures and dimension mismatches,
	// detected before the database is touched.
	ErrSearchFailed = errors.New("search failed")

	// ErrRetrievalFailed covers database-side failures.
	ErrRetrievalFailed = errors.New("retrieval failed")
)

// Document is a unit of business content indexed for retrieval.
type Document struct {
	ID          uuid.UUID
	BusinessID  uuid.UUID
	ContentType string
	ContentID   string
	Content     string
	Metadata    map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Result is a single search hit.
type Result struct {
	Document

	// Similarity is the raw cosine similarity (1 - cosine distance).
	Similarity float64

	// Confidence is Similarity plus deterministic boosts for verbatim
	// query matches, capped at 1.0.
	Confidence float64

	// Snippet is a short excerpt around the best query-term match,
	// suitable for display alongside the answer.
	Snippet string
}

// SearchRequest describes one retrieval call.
type SearchRequest struct {
	Query       string
	ContentType string  // optional filter: menu, policy, faq
	Limit       int     // clamped to [1, MaxResults]; 0 selects DefaultLimit
	Threshold   float64 // 0 selects DefaultThreshold
}

// valid checks content type when a filter is set.
func validContentType(ct string) bool {
	switch ct {
	case ContentTypeMenu, ContentTypePolicy, ContentTypeFAQ:
		return true
	}
	return false
}
