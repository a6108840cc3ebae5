package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// sessionCols is the standard SELECT column list for scanSession.
// turn_count is derived from the stored user messages.
const sessionCols = `s.id, s.business_id, s.session_token, COALESCE(s.customer_id, ''),
	s.started_at, s.last_activity_at, s.expires_at, s.is_active,
	s.context_summary, s.intent_context,
	(SELECT COUNT(*) FROM conversation_messages m
	 WHERE m.session_id = s.id AND m.role = 'user') AS turn_count`

// Store persists sessions and their messages in PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	logger  *slog.Logger
}

// NewStore creates a session Store. timeout <= 0 selects DefaultTimeout.
func NewStore(pool *pgxpool.Pool, timeout time.Duration, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, timeout: timeout, logger: logger}, nil
}

// GetOrCreate finds the active session for (businessID, token) or creates
// one. A live session gets its activity bumped and expiry extended (sliding
// window). An expired session is deactivated and replaced by a fresh row
// with a new token: expired sessions never come back.
//
// An empty token always creates a new session with a generated token.
// The returned bool is true when a session was created.
func (s *Store) GetOrCreate(ctx context.Context, businessID uuid.UUID, token, customerID string) (*Session, bool, error) {
	if businessID == uuid.Nil {
		return nil, false, fmt.Errorf("business ID is required")
	}
	if token == "" {
		sess, err := s.create(ctx, s.pool, businessID, uuid.NewString(), customerID)
		return sess, sess != nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("beginning session transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	// Serialize concurrent GetOrCreate calls for the same token so only
	// one active row can win. The lock releases at commit/rollback.
	if _, lockErr := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`,
		businessID.String()+":"+token,
	); lockErr != nil {
		return nil, false, fmt.Errorf("acquiring advisory lock: %w", lockErr)
	}

	existing, err := getActive(ctx, tx, businessID, token)
	switch {
	case errors.Is(err, ErrNotFound):
		sess, createErr := s.create(ctx, tx, businessID, token, customerID)
		if createErr != nil {
			return nil, false, createErr
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return nil, false, fmt.Errorf("committing session transaction: %w", commitErr)
		}
		return sess, true, nil

	case err != nil:
		return nil, false, err
	}

	now := time.Now()
	if existing.Expired(now) {
		// Deactivate the stale row, then open a replacement with a fresh
		// token. The old token stays bound to the dead session.
		if _, execErr := tx.Exec(ctx,
			`UPDATE conversation_sessions SET is_active = false WHERE id = $1`,
			existing.ID,
		); execErr != nil {
			return nil, false, fmt.Errorf("deactivating expired session: %w", execErr)
		}
		sess, createErr := s.create(ctx, tx, businessID, uuid.NewString(), customerID)
		if createErr != nil {
			return nil, false, createErr
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return nil, false, fmt.Errorf("committing session transaction: %w", commitErr)
		}
		s.logger.Debug("replaced expired session",
			"old_session", existing.ID, "new_session", sess.ID)
		return sess, true, nil
	}

	// Live session: slide the window.
	expiresAt := now.Add(s.timeout)
	if _, execErr := tx.Exec(ctx,
		`UPDATE conversation_sessions
		 SET last_activity_at = $1, expires_at = $2
		 WHERE id = $3`,
		now, expiresAt, existing.ID,
	); execErr != nil {
		return nil, false, fmt.Errorf("touching session: %w", execErr)
	}
	if commitErr := tx.Commit(ctx); commitErr != nil {
		return nil, false, fmt.Errorf("committing session transaction: %w", commitErr)
	}

	existing.LastActivityAt = now
	existing.ExpiresAt = expiresAt
	return existing, false, nil
}

// Get returns the active session for (businessID, token).
// Returns ErrExpired when the session exists but has lapsed.
func (s *Store) Get(ctx context.Context, businessID uuid.UUID, token string) (*Session, error) {
	sess, err := getActive(ctx, s.pool, businessID, token)
	if err != nil {
		return nil, err
	}
	if sess.Expired(time.Now()) {
		return nil, ErrExpired
	}
	return sess, nil
}

// create inserts a new active session row.
func (s *Store) create(ctx context.Context, q querier, businessID uuid.UUID, token, customerID string) (*Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.timeout)

	row := q.QueryRow(ctx,
		`INSERT INTO conversation_sessions
		   (business_id, session_token, customer_id, started_at, last_activity_at, expires_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $4, $5)
		 RETURNING id`,
		businessID, token, customerID, now, expiresAt,
	)
	var id uuid.UUID
	if err := row.Scan(&id); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	return &Session{
		ID:             id,
		BusinessID:     businessID,
		Token:          token,
		CustomerID:     customerID,
		StartedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      expiresAt,
		IsActive:       true,
	}, nil
}

// getActive fetches the single active row for (businessID, token).
func getActive(ctx context.Context, q querier, businessID uuid.UUID, token string) (*Session, error) {
	row := q.QueryRow(ctx,
		`SELECT `+sessionCols+`
		 FROM conversation_sessions s
		 WHERE s.business_id = $1 AND s.session_token = $2 AND s.is_active`,
		businessID, token,
	)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return sess, nil
}

// AppendExchange records one user/assistant turn and updates the session's
// summary, intent state, and sliding expiry, all in one transaction.
//
// Sequence numbers are allocated under a per-session advisory lock, so
// concurrent appends to the same session serialize instead of colliding on
// the (session_id, sequence_number) unique constraint.
func (s *Store) AppendExchange(ctx context.Context, sessionID uuid.UUID, userMsg, assistantMsg, summary string, ic IntentContext) error {
	if sessionID == uuid.Nil {
		return fmt.Errorf("session ID is required")
	}
	if userMsg == "" || assistantMsg == "" {
		return fmt.Errorf("both user and assistant messages are required")
	}

	icJSON, err := json.Marshal(ic)
	if err != nil {
		return fmt.Errorf("marshaling intent context: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning exchange transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	if _, lockErr := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, sessionID.String(),
	); lockErr != nil {
		return fmt.Errorf("acquiring advisory lock: %w", lockErr)
	}

	var nextSeq int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) + 1
		 FROM conversation_messages WHERE session_id = $1`,
		sessionID,
	).Scan(&nextSeq); err != nil {
		return fmt.Errorf("allocating sequence number: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO conversation_messages (session_id, role, content, sequence_number)
		 VALUES ($1, $2, $3, $4), ($1, $5, $6, $7)`,
		sessionID, RoleUser, userMsg, nextSeq, RoleAssistant, assistantMsg, nextSeq+1,
	); err != nil {
		return fmt.Errorf("inserting messages: %w", err)
	}

	now := time.Now()
	tag, err := tx.Exec(ctx,
		`UPDATE conversation_sessions
		 SET last_activity_at = $1, expires_at = $2,
		     context_summary = $3, intent_context = $4
		 WHERE id = $5 AND is_active`,
		now, now.Add(s.timeout), summary, icJSON, sessionID,
	)
	if err != nil {
		return fmt.Errorf("updating session state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing exchange transaction: %w", err)
	}
	return nil
}

// History returns the last limit messages in chronological order.
func (s *Store) History(ctx context.Context, sessionID uuid.UUID, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, content, sequence_number, created_at
		 FROM (
		   SELECT id, session_id, role, content, sequence_number, created_at
		   FROM conversation_messages
		   WHERE session_id = $1
		   ORDER BY sequence_number DESC
		   LIMIT $2
		 ) recent
		 ORDER BY sequence_number ASC`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.SequenceNumber, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return messages, nil
}

// BuildContext loads recent history for sess and derives its summary.
func (s *Store) BuildContext(ctx context.Context, sess *Session, limit int) (*Context, error) {
	messages, err := s.History(ctx, sess.ID, limit)
	if err != nil {
		return nil, err
	}
	return &Context{
		Session:  sess,
		Messages: messages,
		Summary:  DeriveSummary(messages),
	}, nil
}

// DeactivateExpired flips is_active off for every lapsed session.
// Intended for a periodic sweep; returns the number of sessions closed.
func (s *Store) DeactivateExpired(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversation_sessions
		 SET is_active = false
		 WHERE is_active AND expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("deactivating expired sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// scanSession reads a Session from a single row (standard column set).
func scanSession(row pgx.Row) (*Session, error) {
	sess := &Session{}
	var icJSON []byte
	if err := row.Scan(
		&sess.ID, &sess.BusinessID, &sess.Token, &sess.CustomerID,
		&sess.StartedAt, &sess.LastActivityAt, &sess.ExpiresAt, &sess.IsActive,
		&sess.ContextSummary, &icJSON, &sess.TurnCount,
	); err != nil {
		return nil, err
	}
	if len(icJSON) > 0 {
		if err := json.Unmarshal(icJSON, &sess.IntentContext); err != nil {
			return nil, fmt.Errorf("unmarshaling intent context: %w", err)
		}
	}
	return sess, nil
}
