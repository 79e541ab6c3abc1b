package distribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/separation"
)

type Store interface {
	// Claim moves an APPROVED or EXECUTION_FAILED proposal to EXECUTING.
	Claim(ctx context.Context, separationID string) (Claim, error)
	RecordStep(ctx context.Context, step Step) error
	UpdateStep(ctx context.Context, step Step, status StepStatus) error
	// Complete runs apply and marks the proposal EXECUTED in one transaction.
	Complete(ctx context.Context, separationID string, apply func(tx pgx.Tx) (separation.Results, error)) (time.Time, error)
	Fail(ctx context.Context, separationID string, status separation.Status, results separation.Results) error
}

type PGStore struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Claim(ctx context.Context, separationID string) (Claim, error) {
	query := `
		UPDATE team_separations
		SET status = 'EXECUTING', execution_attempts = execution_attempts + 1, updated_at = now()
		WHERE id = $1 AND status IN ('APPROVED', 'EXECUTION_FAILED')
		RETURNING execution_attempts, ` + separation.ProposalColumns

	var attempt int
	row := s.pool.QueryRow(ctx, query, separationID)
	scanned, err := separation.ScanProposal(prefixedRow{row: row, prefix: []any{&attempt}})
	if err == nil {
		return Claim{Proposal: scanned, Attempt: attempt, Claimed: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Claim{}, fmt.Errorf("distribution: claim: %w", err)
	}

	current, err := separation.NewRepository(s.pool).Get(ctx, separationID)
	if err != nil {
		return Claim{}, err
	}
	return Claim{Proposal: current}, nil
}

func (s *PGStore) RecordStep(ctx context.Context, step Step) error {
	const query = `
		INSERT INTO separation_steps (separation_id, attempt, seq, kind, user_id, resource_type, units, tokens, reference, status)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, NULLIF($9, ''), 'APPLIED')
	`

	_, err := s.pool.Exec(ctx, query,
		step.SeparationID,
		step.Attempt,
		step.Seq,
		step.Kind,
		step.UserID,
		string(step.ResourceType),
		step.Units,
		step.Tokens,
		step.Reference,
	)
	if err != nil {
		return fmt.Errorf("distribution: record step %d: %w", step.Seq, err)
	}
	return nil
}

func (s *PGStore) UpdateStep(ctx context.Context, step Step, status StepStatus) error {
	const query = `
		UPDATE separation_steps
		SET status = $4, compensated_at = CASE WHEN $4 = 'COMPENSATED' THEN now() ELSE compensated_at END
		WHERE separation_id = $1 AND attempt = $2 AND seq = $3
	`

	if _, err := s.pool.Exec(ctx, query, step.SeparationID, step.Attempt, step.Seq, status); err != nil {
		return fmt.Errorf("distribution: update step %d: %w", step.Seq, err)
	}
	return nil
}

func (s *PGStore) Complete(ctx context.Context, separationID string, apply func(tx pgx.Tx) (separation.Results, error)) (time.Time, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("distribution: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	results, err := apply(tx)
	if err != nil {
		return time.Time{}, err
	}
	payload, err := json.Marshal(results)
	if err != nil {
		return time.Time{}, fmt.Errorf("distribution: marshal results: %w", err)
	}

	const query = `
		UPDATE team_separations
		SET status = 'EXECUTED', executed_at = now(), execution_results = $2, updated_at = now()
		WHERE id = $1 AND status = 'EXECUTING'
		RETURNING executed_at
	`

	var executedAt time.Time
	if err := tx.QueryRow(ctx, query, separationID, payload).Scan(&executedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, fmt.Errorf("distribution: separation %s left EXECUTING", separationID)
		}
		return time.Time{}, fmt.Errorf("distribution: mark executed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, fmt.Errorf("distribution: commit tx: %w", err)
	}
	return executedAt, nil
}

func (s *PGStore) Fail(ctx context.Context, separationID string, status separation.Status, results separation.Results) error {
	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("distribution: marshal results: %w", err)
	}

	const query = `
		UPDATE team_separations
		SET status = $2, execution_results = $3, updated_at = now()
		WHERE id = $1 AND status = 'EXECUTING'
	`

	if _, err := s.pool.Exec(ctx, query, separationID, status, payload); err != nil {
		return fmt.Errorf("distribution: mark %s: %w", status, err)
	}
	return nil
}

// prefixedRow scans leading columns into prefix before handing the rest to dest.
type prefixedRow struct {
	row    pgx.Row
	prefix []any
}

func (p prefixedRow) Scan(dest ...any) error {
	return p.row.Scan(append(append([]any{}, p.prefix...), dest...)...)
}
