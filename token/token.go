package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/team"
)

const (
	TypeSeparationDistribution = "TEAM_SEPARATION_DISTRIBUTION"

	StatusPending   = "PENDING"
	StatusConfirmed = "CONFIRMED"
	StatusCancelled = "CANCELLED"
)

// ErrNotFound signals the transaction does not exist or is no longer pending.
var ErrNotFound = errors.New("token: transaction not found")

// FixedBalance reports the same balance for every user. It stands in for the
// on-chain balance until a real source is wired.
type FixedBalance float64

// Balance implements the balance source contract.
func (f FixedBalance) Balance(context.Context, team.UserID) (float64, error) {
	return float64(f), nil
}

// Ledger records token movements in token_transactions.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger wires a pgxpool-backed token ledger.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Balance sums the user's confirmed transactions.
func (l *Ledger) Balance(ctx context.Context, user team.UserID) (float64, error) {
	const query = `
		SELECT COALESCE(SUM(amount), 0)::float8
		FROM token_transactions
		WHERE user_id = $1 AND status = 'CONFIRMED'
	`

	var balance float64
	if err := l.pool.QueryRow(ctx, query, user).Scan(&balance); err != nil {
		return 0, fmt.Errorf("token: query balance: %w", err)
	}
	return balance, nil
}

// RecordPendingDistribution writes a pending separation payout and returns its id.
// Settlement happens outside this service.
func (l *Ledger) RecordPendingDistribution(ctx context.Context, user team.UserID, amount float64, separationID string) (string, error) {
	const query = `
		INSERT INTO token_transactions (user_id, amount, type, status, reference_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	var id string
	if err := l.pool.QueryRow(ctx, query, user, amount, TypeSeparationDistribution, StatusPending, separationID).Scan(&id); err != nil {
		return "", fmt.Errorf("token: insert pending distribution: %w", err)
	}
	return id, nil
}

// CancelPending voids a pending transaction.
func (l *Ledger) CancelPending(ctx context.Context, id string) error {
	const query = `
		UPDATE token_transactions
		SET status = 'CANCELLED', updated_at = now()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING id
	`

	var got string
	if err := l.pool.QueryRow(ctx, query, id).Scan(&got); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("token: cancel pending: %w", err)
	}
	return nil
}
