package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/fortypixels/invoice-pilot/internal/core/domain"
)

const (
	stateInFlight = "in_flight"
	stateTerminal = "terminal"
)

// Store backs the idempotency check with shared storage so multiple worker
// instances can absorb duplicate deliveries of the same event.
type Store struct {
	db    *sql.DB
	lease time.Duration
}

func NewStore(db *sql.DB, lease time.Duration) *Store {
	if lease <= 0 {
		lease = 10 * time.Minute
	}
	return &Store{db: db, lease: lease}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026083001)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS invoice_runs (
	event_id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	claimed_at TIMESTAMPTZ NOT NULL,
	outcome JSONB,
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_invoice_runs_state ON invoice_runs(state);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Claim is a check-and-set: the INSERT wins for a fresh event, otherwise
// the existing row decides. A stale in-flight row past the lease cutoff is
// taken over with a guarded UPDATE so exactly one contender wins.
func (s *Store) Claim(ctx context.Context, eventID string) (domain.ClaimResult, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO invoice_runs (event_id, state, claimed_at)
VALUES ($1, $2, $3)
ON CONFLICT (event_id) DO NOTHING`, eventID, stateInFlight, now)
	if err != nil {
		return domain.ClaimResult{}, fmt.Errorf("insert claim: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 1 {
		return domain.ClaimResult{State: domain.ClaimAcquired}, nil
	}

	var (
		state      string
		rawOutcome []byte
		claimedAt  time.Time
	)
	err = s.db.QueryRowContext(ctx, `
SELECT state, outcome, claimed_at FROM invoice_runs WHERE event_id = $1`, eventID).
		Scan(&state, &rawOutcome, &claimedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Row vanished between INSERT and SELECT (concurrent release);
		// treat as in-flight and let redelivery retry.
		return domain.ClaimResult{State: domain.ClaimInFlight}, nil
	}
	if err != nil {
		return domain.ClaimResult{}, fmt.Errorf("read claim: %w", err)
	}

	if state == stateTerminal {
		var outcome domain.ProcessingOutcome
		if err := json.Unmarshal(rawOutcome, &outcome); err != nil {
			return domain.ClaimResult{}, fmt.Errorf("decode cached outcome: %w", err)
		}
		return domain.ClaimResult{State: domain.ClaimTerminal, Outcome: &outcome}, nil
	}

	cutoff := now.Add(-s.lease)
	if claimedAt.After(cutoff) {
		return domain.ClaimResult{State: domain.ClaimInFlight}, nil
	}
	res, err = s.db.ExecContext(ctx, `
UPDATE invoice_runs SET claimed_at = $1
WHERE event_id = $2 AND state = $3 AND claimed_at <= $4`, now, eventID, stateInFlight, cutoff)
	if err != nil {
		return domain.ClaimResult{}, fmt.Errorf("take over expired claim: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 1 {
		return domain.ClaimResult{State: domain.ClaimAcquired}, nil
	}
	return domain.ClaimResult{State: domain.ClaimInFlight}, nil
}

func (s *Store) Complete(ctx context.Context, eventID string, outcome domain.ProcessingOutcome) error {
	raw, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE invoice_runs SET state = $1, outcome = $2, completed_at = $3
WHERE event_id = $4`, stateTerminal, raw, time.Now().UTC(), eventID)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("record outcome: no claim row for event %s", eventID)
	}
	return nil
}

func (s *Store) Release(ctx context.Context, eventID string) error {
	if _, err := s.db.ExecContext(ctx, `
DELETE FROM invoice_runs WHERE event_id = $1 AND state = $2`, eventID, stateInFlight); err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}
