package character

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/team"
)

// Repository reads and credits character experience.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Experience returns the user's total XP. Users without a character have zero.
func (r *Repository) Experience(ctx context.Context, user team.UserID) (int64, error) {
	var xp int64
	err := r.pool.QueryRow(ctx, `SELECT xp FROM characters WHERE user_id = $1`, user).Scan(&xp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("character: query xp: %w", err)
	}
	return xp, nil
}

// AwardExperience adds amount to the user's XP, creating the character row if needed.
// Negative amounts reverse an earlier award.
func (r *Repository) AwardExperience(ctx context.Context, user team.UserID, amount int64) error {
	const query = `
		INSERT INTO characters (user_id, xp)
		VALUES ($1, $2)
		ON CONFLICT (user_id)
		DO UPDATE SET xp = characters.xp + EXCLUDED.xp, updated_at = now()
	`

	if _, err := r.pool.Exec(ctx, query, user, amount); err != nil {
		return fmt.Errorf("character: award xp: %w", err)
	}
	return nil
}
