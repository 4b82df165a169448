package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/terminalpay/internal/domain/errors"
	"github.com/cassiomorais/terminalpay/internal/domain/session"
	"github.com/cassiomorais/terminalpay/pkg/money"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionColumns = `reference, amount::text, tip_amount::text, currency, device_code, transaction_id,
	state, attempts, max_attempts, error_message, metadata, created_at, last_updated_at, completed_at`

var terminalStates = []string{
	string(session.StateSucceeded),
	string(session.StateFailed),
	string(session.StateTimedOut),
	string(session.StateCancelled),
}

// SessionRepository implements session.Store using PostgreSQL. Transitions
// lock the session row so concurrent writers are serialized per reference.
type SessionRepository struct {
	pool *pgxpool.Pool
	tx   *TxManager
	now  func() time.Time
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool, tx *TxManager) *SessionRepository {
	return &SessionRepository{pool: pool, tx: tx, now: func() time.Time { return time.Now().UTC() }}
}

func (r *SessionRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// Create inserts the session and its creation event. An existing reference is
// left untouched and returned as stored.
func (r *SessionRepository) Create(ctx context.Context, s *session.Session) (*session.Session, error) {
	metadata, err := json.Marshal(s.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	err = r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		tag, err := r.db(ctx).Exec(ctx,
			`INSERT INTO terminal_sessions
			 (reference, amount, tip_amount, currency, device_code, transaction_id,
			  state, attempts, max_attempts, error_message, metadata, created_at, last_updated_at, completed_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			 ON CONFLICT (reference) DO NOTHING`,
			s.Reference, money.FormatCents(s.Amount), money.FormatCents(s.TipAmount), s.Currency, s.DeviceCode,
			nullable(s.TransactionID), string(s.State), s.Attempts, s.MaxAttempts, nullable(s.ErrorMessage),
			metadata, s.CreatedAt, s.LastUpdatedAt, s.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		return r.addEvent(ctx, s.CreatedEvent())
	})
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, s.Reference)
}

// Get retrieves a session by reference.
func (r *SessionRepository) Get(ctx context.Context, reference string) (*session.Session, error) {
	return scanSession(r.db(ctx).QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM terminal_sessions WHERE reference = $1`, reference))
}

// GetByTransactionID retrieves the most recently updated session carrying the id.
func (r *SessionRepository) GetByTransactionID(ctx context.Context, transactionID string) (*session.Session, error) {
	return scanSession(r.db(ctx).QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM terminal_sessions
		 WHERE transaction_id = $1 ORDER BY last_updated_at DESC LIMIT 1`, transactionID))
}

// Transition implements session.Store.
func (r *SessionRepository) Transition(ctx context.Context, reference string, to session.State, f session.Fields) (*session.Session, error) {
	var out *session.Session
	err := r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		cur, err := scanSession(r.db(ctx).QueryRow(ctx,
			`SELECT `+sessionColumns+` FROM terminal_sessions WHERE reference = $1 FOR UPDATE`, reference))
		if err != nil {
			return err
		}

		ev, err := cur.Apply(to, f, r.now())
		if err != nil {
			return err
		}

		_, err = r.db(ctx).Exec(ctx,
			`UPDATE terminal_sessions SET
			  state=$1, transaction_id=$2, attempts=$3, error_message=$4, last_updated_at=$5, completed_at=$6
			 WHERE reference=$7`,
			string(cur.State), nullable(cur.TransactionID), cur.Attempts, nullable(cur.ErrorMessage),
			cur.LastUpdatedAt, cur.CompletedAt, reference,
		)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		if err := r.addEvent(ctx, ev); err != nil {
			return err
		}
		out = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// History returns the session's events, oldest first.
func (r *SessionRepository) History(ctx context.Context, reference string) ([]*session.Event, error) {
	if _, err := r.Get(ctx, reference); err != nil {
		return nil, err
	}

	rows, err := r.db(ctx).Query(ctx,
		`SELECT id, reference, from_state, to_state, attempts, transaction_id, message, created_at
		 FROM terminal_session_events WHERE reference = $1 ORDER BY seq`, reference)
	if err != nil {
		return nil, fmt.Errorf("list session events: %w", err)
	}
	defer rows.Close()

	var events []*session.Event
	for rows.Next() {
		var (
			e        session.Event
			from, to string
			txID     *string
			message  *string
		)
		if err := rows.Scan(&e.ID, &e.Reference, &from, &to, &e.Attempts, &txID, &message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session event: %w", err)
		}
		e.FromState = session.State(from)
		e.ToState = session.State(to)
		e.TransactionID = deref(txID)
		e.Message = deref(message)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// ListActive implements session.Store.
func (r *SessionRepository) ListActive(ctx context.Context, updatedBefore time.Time, limit int) ([]*session.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+sessionColumns+` FROM terminal_sessions
		 WHERE state <> ALL($1) AND last_updated_at < $2
		 ORDER BY last_updated_at ASC LIMIT $3`,
		terminalStates, updatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*session.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *SessionRepository) addEvent(ctx context.Context, e *session.Event) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO terminal_session_events (id, reference, from_state, to_state, attempts, transaction_id, message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Reference, string(e.FromState), string(e.ToState), e.Attempts,
		nullable(e.TransactionID), nullable(e.Message), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session event: %w", err)
	}
	return nil
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*session.Session, error) {
	var (
		s                  session.Session
		amount, tip, state string
		txID, errMsg       *string
		metadata           []byte
	)
	err := row.Scan(
		&s.Reference, &amount, &tip, &s.Currency, &s.DeviceCode, &txID,
		&state, &s.Attempts, &s.MaxAttempts, &errMsg, &metadata, &s.CreatedAt, &s.LastUpdatedAt, &s.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrSessionNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	if s.Amount, err = money.ParseCents(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if s.TipAmount, err = money.ParseCents(tip); err != nil {
		return nil, fmt.Errorf("parse tip amount: %w", err)
	}
	s.State = session.State(state)
	s.TransactionID = deref(txID)
	s.ErrorMessage = deref(errMsg)
	s.Metadata = make(map[string]any)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &s.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal session metadata: %w", err)
		}
	}
	return &s, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
