package submission

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/team"
)

// Repository counts mission submissions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CountApprovedSince counts the user's approved submissions submitted at or after since.
func (r *Repository) CountApprovedSince(ctx context.Context, user team.UserID, since time.Time) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM submissions
		WHERE user_id = $1 AND status = 'APPROVED' AND submitted_at >= $2
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, user, since.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("submission: count approved: %w", err)
	}
	return count, nil
}
