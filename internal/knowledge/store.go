package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
	"google.golang.org/genai"
)

// Querier is the database surface Store needs. *pgxpool.Pool satisfies it;
// tests substitute a stub.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store manages embeddings in PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db       Querier
	embedder ai.Embedder
	logger   *slog.Logger
}

// NewStore creates a knowledge Store.
func NewStore(db Querier, embedder ai.Embedder, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, embedder: embedder, logger: logger}, nil
}

// embed generates a vector embedding for the given text and validates its
// dimension. A wrong-size vector means a misconfigured embedder model; it is
// rejected here so no malformed vector ever reaches the database.
func (s *Store) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	dim := int32(VectorDimension)
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("%w: embedding text: %v", ErrSearchFailed, err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, fmt.Errorf("%w: empty embedding response", ErrSearchFailed)
	}
	vec := resp.Embeddings[0].Embedding
	if len(vec) != VectorDimension {
		return pgvector.Vector{}, fmt.Errorf("%w: embedding dimension %d, want %d",
			ErrSearchFailed, len(vec), VectorDimension)
	}
	return pgvector.NewVector(vec), nil
}

// Search retrieves documents similar to req.Query for the business.
//
// Results satisfy similarity >= threshold; nothing below the threshold is
// ever returned. Embedding failures wrap ErrSearchFailed and happen before
// any database work; query failures wrap ErrRetrievalFailed.
func (s *Store) Search(ctx context.Context, businessID uuid.UUID, req SearchRequest) ([]Result, error) {
	if req.Query == "" {
		return []Result{}, nil
	}
	if req.ContentType != "" && !validContentType(req.ContentType) {
		return nil, fmt.Errorf("%w: invalid content type %q", ErrSearchFailed, req.ContentType)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxResults {
		limit = MaxResults
	}
	threshold := req.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	embedCtx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()

	vec, err := s.embed(embedCtx, req.Query)
	if err != nil {
		return nil, err
	}

	queryCtx, queryCancel := context.WithTimeout(ctx, SearchTimeout)
	defer queryCancel()

	rows, err := s.db.Query(queryCtx,
		`SELECT id, business_id, content_type, content_id, content, metadata,
		        created_at, updated_at,
		        1 - (embedding <=> $1) AS similarity
		 FROM embeddings
		 WHERE business_id = $2
		   AND deleted_at IS NULL
		   AND ($3 = '' OR content_type = $3)
		   AND 1 - (embedding <=> $1) >= $4
		 ORDER BY embedding <=> $1
		 LIMIT $5`,
		vec, businessID, req.ContentType, threshold, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrievalFailed, err)
	}
	defer rows.Close()

	results, err := scanResults(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrievalFailed, err)
	}

	for i := range results {
		results[i].Confidence = boostConfidence(results[i], req.Query)
		results[i].Snippet = makeSnippet(results[i].Content, req.Query)
	}
	return results, nil
}

// Upsert indexes (or re-indexes) one piece of business content. The content
// is embedded here; conflicting (business, type, id) rows are replaced.
func (s *Store) Upsert(ctx context.Context, doc Document) error {
	if doc.BusinessID == uuid.Nil {
		return fmt.Errorf("business ID is required")
	}
	if !validContentType(doc.ContentType) {
		return fmt.Errorf("invalid content type %q", doc.ContentType)
	}
	if doc.ContentID == "" {
		return fmt.Errorf("content ID is required")
	}
	if doc.Content == "" {
		return fmt.Errorf("content is required")
	}

	embedCtx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()

	vec, err := s.embed(embedCtx, doc.Content)
	if err != nil {
		return err
	}

	metadata := []byte(`{}`)
	if doc.Metadata != nil {
		metadata, err = json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata: %w", err)
		}
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO embeddings (business_id, content_type, content_id, content, embedding, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (business_id, content_type, content_id)
		 DO UPDATE SET content = EXCLUDED.content,
		               embedding = EXCLUDED.embedding,
		               metadata = EXCLUDED.metadata,
		               deleted_at = NULL,
		               updated_at = now()`,
		doc.BusinessID, doc.ContentType, doc.ContentID, doc.Content, vec, metadata,
	)
	if err != nil {
		return fmt.Errorf("upserting embedding %s/%s: %w", doc.ContentType, doc.ContentID, err)
	}

	s.logger.Debug("indexed content",
		"business_id", doc.BusinessID, "content_type", doc.ContentType,
		"content_id", doc.ContentID, "content_length", len(doc.Content))
	return nil
}

// Delete soft-deletes one indexed document. Soft-deleted rows are invisible
// to Search but re-activate on the next Upsert of the same content ID.
func (s *Store) Delete(ctx context.Context, businessID uuid.UUID, contentType, contentID string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE embeddings SET deleted_at = now(), updated_at = now()
		 WHERE business_id = $1 AND content_type = $2 AND content_id = $3
		   AND deleted_at IS NULL`,
		businessID, contentType, contentID,
	)
	if err != nil {
		return fmt.Errorf("deleting embedding %s/%s: %w", contentType, contentID, err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// scanResults reads Result structs from pgx.Rows (standard column set plus
// trailing similarity).
func scanResults(rows pgx.Rows) ([]Result, error) {
	results := make([]Result, 0, 8)
	for rows.Next() {
		var r Result
		var metadata []byte
		if err := rows.Scan(
			&r.ID, &r.BusinessID, &r.ContentType, &r.ContentID, &r.Content,
			&metadata, &r.CreatedAt, &r.UpdatedAt, &r.Similarity,
		); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
				r.Metadata = map[string]string{}
			}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating results: %w", err)
	}
	return results, nil
}

// IsRetrievalError reports whether err is either retrieval failure mode.
func IsRetrievalError(err error) bool {
	return errors.Is(err, ErrSearchFailed) || errors.Is(err, ErrRetrievalFailed)
}
