package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/resource"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/team"
)

// Fixture is a seeded team whose first user is the founder.
type Fixture struct {
	TeamID team.TeamID
	Users  []team.UserID
}

// SeedTeam inserts a team of n members on the equal_split agreement. Each
// member holds xp experience and units of CODE_POINTS, and joined a day
// after the previous one so tenure ordering is deterministic.
func SeedTeam(ctx context.Context, pool *pgxpool.Pool, n int, xp, units int64) (Fixture, error) {
	var f Fixture
	var agreementID string
	if err := pool.QueryRow(ctx, `INSERT INTO founder_agreements (template_id) VALUES ('equal_split') RETURNING id`).Scan(&agreementID); err != nil {
		return f, fmt.Errorf("seed agreement: %w", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO teams (name, agreement_id) VALUES ($1, $2) RETURNING id`,
		fmt.Sprintf("Stress Team %d", time.Now().UnixNano()), agreementID).Scan(&f.TeamID); err != nil {
		return f, fmt.Errorf("seed team: %w", err)
	}

	base := time.Now().Add(-time.Duration(n+1) * 24 * time.Hour)
	for i := 0; i < n; i++ {
		var userID team.UserID
		if err := pool.QueryRow(ctx, `INSERT INTO users (display_name) VALUES ($1) RETURNING id`,
			fmt.Sprintf("member-%d", i)).Scan(&userID); err != nil {
			return f, fmt.Errorf("seed user %d: %w", i, err)
		}
		role := team.RoleDeveloper
		if i == 0 {
			role = team.RoleFounder
		}
		if _, err := pool.Exec(ctx, `INSERT INTO team_members (team_id, user_id, role, status, joined_at) VALUES ($1, $2, $3, 'ACTIVE', $4)`,
			f.TeamID, userID, role, base.Add(time.Duration(i)*24*time.Hour)); err != nil {
			return f, fmt.Errorf("seed member %d: %w", i, err)
		}
		if _, err := pool.Exec(ctx, `INSERT INTO characters (user_id, xp) VALUES ($1, $2)`, userID, xp); err != nil {
			return f, fmt.Errorf("seed character %d: %w", i, err)
		}
		if _, err := pool.Exec(ctx, `INSERT INTO resource_inventory (user_id, resource_type, amount) VALUES ($1, $2, $3)`,
			userID, resource.CodePoints, units); err != nil {
			return f, fmt.Errorf("seed inventory %d: %w", i, err)
		}
		if _, err := pool.Exec(ctx, `INSERT INTO submissions (user_id, status) VALUES ($1, 'APPROVED')`, userID); err != nil {
			return f, fmt.Errorf("seed submission %d: %w", i, err)
		}
		f.Users = append(f.Users, userID)
	}
	return f, nil
}
