package business

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// businessCols is the standard SELECT column list for scanBusiness.
const businessCols = `id, name, business_type, description, contact, timezone,
	status, COALESCE(api_key, ''), created_at, updated_at, deleted_at`

// Store persists businesses in PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a business Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Create inserts a new business and returns it with generated fields populated.
func (s *Store) Create(ctx context.Context, b *Business) (*Business, error) {
	if b == nil {
		return nil, fmt.Errorf("business is required")
	}
	if b.Status == "" {
		b.Status = StatusTrial
	}
	if b.Timezone == "" {
		b.Timezone = "UTC"
	}
	if b.BusinessType == "" {
		b.BusinessType = "general"
	}
	if err := b.validate(); err != nil {
		return nil, err
	}

	contact, err := json.Marshal(b.Contact)
	if err != nil {
		return nil, fmt.Errorf("marshaling contact: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO businesses (name, business_type, description, contact, timezone, status, api_key)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
		 RETURNING `+businessCols,
		b.Name, b.BusinessType, b.Description, contact, b.Timezone, b.Status, b.APIKey,
	)
	created, err := scanBusiness(row)
	if err != nil {
		return nil, fmt.Errorf("creating business: %w", err)
	}
	return created, nil
}

// Get returns a business by ID. Soft-deleted businesses return ErrDeleted so
// callers can distinguish "gone" from "never existed".
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Business, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+businessCols+` FROM businesses WHERE id = $1`, id)
	b, err := scanBusiness(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting business %s: %w", id, err)
	}
	if b.DeletedAt != nil {
		return nil, ErrDeleted
	}
	return b, nil
}

// GetByAPIKey returns the business owning the given API key.
// Used by the API layer to authenticate requests.
func (s *Store) GetByAPIKey(ctx context.Context, apiKey string) (*Business, error) {
	if apiKey == "" {
		return nil, ErrNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+businessCols+` FROM businesses
		 WHERE api_key = $1 AND deleted_at IS NULL`, apiKey)
	b, err := scanBusiness(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting business by api key: %w", err)
	}
	return b, nil
}

// Authorize loads the business and checks it may run queries.
// Returns ErrSuspended for suspended accounts.
func (s *Store) Authorize(ctx context.Context, id uuid.UUID) (*Business, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.Status.CanQuery() {
		return nil, ErrSuspended
	}
	return b, nil
}

// Update modifies mutable fields of a business.
func (s *Store) Update(ctx context.Context, b *Business) error {
	if b == nil {
		return fmt.Errorf("business is required")
	}
	if err := b.validate(); err != nil {
		return err
	}

	contact, err := json.Marshal(b.Contact)
	if err != nil {
		return fmt.Errorf("marshaling contact: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE businesses
		 SET name = $1, business_type = $2, description = $3, contact = $4,
		     timezone = $5, status = $6, updated_at = now()
		 WHERE id = $7 AND deleted_at IS NULL`,
		b.Name, b.BusinessType, b.Description, contact, b.Timezone, b.Status, b.ID,
	)
	if err != nil {
		return fmt.Errorf("updating business %s: %w", b.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete soft-deletes a business. Related rows stay in place; queries against
// a deleted business fail with ErrDeleted at authorization time.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE businesses SET deleted_at = now(), updated_at = now()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("deleting business %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanBusiness reads a Business from a single row (standard column set).
func scanBusiness(row pgx.Row) (*Business, error) {
	b := &Business{}
	var contact []byte
	if err := row.Scan(
		&b.ID, &b.Name, &b.BusinessType, &b.Description, &contact, &b.Timezone,
		&b.Status, &b.APIKey, &b.CreatedAt, &b.UpdatedAt, &b.DeletedAt,
	); err != nil {
		return nil, err
	}
	if len(contact) > 0 {
		if err := json.Unmarshal(contact, &b.Contact); err != nil {
			return nil, fmt.Errorf("unmarshaling contact: %w", err)
		}
	}
	return b, nil
}
