package team

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotATeamMember signals the user holds no ACTIVE membership in the team.
	ErrNotATeamMember = errors.New("team: not an active team member")
	// ErrNotFound signals the requested team or agreement link does not exist.
	ErrNotFound = errors.New("team: not found")
	// ErrDuplicateMember signals a user listed twice for the same new team.
	ErrDuplicateMember = errors.New("team: member listed twice")
)

// AgreementRef links a team to its founder agreement template.
type AgreementRef struct {
	AgreementID       string
	TemplateID        string
	MechanismOverride *string
}

// Plan describes the structural changes applied when a separation completes.
// All parts run inside one transaction.
type Plan struct {
	TeamID     TeamID
	Successors []CreateParams
	// Removed members are marked REMOVED in the origin team.
	Removed []UserID
	// NewFounder, when set, receives the founder role and every member in ExitingFounders is marked LEFT.
	NewFounder      *UserID
	ExitingFounders []UserID
}

// Repository persists teams and memberships.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ActiveMember returns the membership row for user when it is ACTIVE.
func (r *Repository) ActiveMember(ctx context.Context, teamID TeamID, userID UserID) (Member, error) {
	const query = `
		SELECT team_id, user_id, role, status, joined_at
		FROM team_members
		WHERE team_id = $1 AND user_id = $2 AND status = 'ACTIVE'
	`

	member, err := scanMember(r.pool.QueryRow(ctx, query, teamID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Member{}, ErrNotATeamMember
		}
		return Member{}, fmt.Errorf("team: query active member: %w", err)
	}
	return member, nil
}

// ActiveMembers lists ACTIVE members ordered by join time, oldest first.
func (r *Repository) ActiveMembers(ctx context.Context, teamID TeamID) ([]Member, error) {
	const query = `
		SELECT team_id, user_id, role, status, joined_at
		FROM team_members
		WHERE team_id = $1 AND status = 'ACTIVE'
		ORDER BY joined_at ASC, user_id ASC
	`

	rows, err := r.pool.Query(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("team: list active members: %w", err)
	}
	defer rows.Close()

	members := []Member{}
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("team: scan member: %w", err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("team: iterate members: %w", err)
	}
	return members, nil
}

// GetByID fetches a team by its primary key.
func (r *Repository) GetByID(ctx context.Context, id TeamID) (Team, error) {
	const query = `
		SELECT id, name, agreement_id, parent_team_id, created_at
		FROM teams
		WHERE id = $1
	`

	var t Team
	err := r.pool.QueryRow(ctx, query, id).Scan(&t.ID, &t.Name, &t.AgreementID, &t.ParentTeamID, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Team{}, ErrNotFound
		}
		return Team{}, fmt.Errorf("team: query by id: %w", err)
	}
	return t, nil
}

// AgreementFor resolves the founder agreement bound to the team.
func (r *Repository) AgreementFor(ctx context.Context, teamID TeamID) (AgreementRef, error) {
	const query = `
		SELECT fa.id, fa.template_id, fa.dispute_mechanism
		FROM teams t
		JOIN founder_agreements fa ON fa.id = t.agreement_id
		WHERE t.id = $1
	`

	var ref AgreementRef
	err := r.pool.QueryRow(ctx, query, teamID).Scan(&ref.AgreementID, &ref.TemplateID, &ref.MechanismOverride)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AgreementRef{}, ErrNotFound
		}
		return AgreementRef{}, fmt.Errorf("team: query agreement: %w", err)
	}
	return ref, nil
}

// Restructure applies plan atomically and returns the ids of any successor teams.
func (r *Repository) Restructure(ctx context.Context, tx pgx.Tx, plan Plan) ([]TeamID, error) {
	created := make([]TeamID, 0, len(plan.Successors))
	for _, params := range plan.Successors {
		if params.ParentTeamID == nil {
			parent := plan.TeamID
			params.ParentTeamID = &parent
		}
		t, err := r.CreateTeam(ctx, tx, params)
		if err != nil {
			return nil, err
		}
		created = append(created, t.ID)
	}

	if len(plan.Removed) > 0 {
		if err := r.SetMemberStatus(ctx, tx, plan.TeamID, plan.Removed, MemberRemoved); err != nil {
			return nil, err
		}
	}

	if plan.NewFounder != nil {
		if err := r.TransferFounder(ctx, tx, plan.TeamID, plan.ExitingFounders, *plan.NewFounder); err != nil {
			return nil, err
		}
	}

	return created, nil
}

// CreateTeam inserts a team and its ACTIVE members. The first member becomes founder.
func (r *Repository) CreateTeam(ctx context.Context, tx pgx.Tx, params CreateParams) (Team, error) {
	if params.Name == "" {
		return Team{}, fmt.Errorf("team: create missing name")
	}

	const insertTeam = `
		INSERT INTO teams (name, agreement_id, parent_team_id)
		VALUES ($1, $2, $3)
		RETURNING id, name, agreement_id, parent_team_id, created_at
	`

	var t Team
	err := tx.QueryRow(ctx, insertTeam, params.Name, params.AgreementID, params.ParentTeamID).
		Scan(&t.ID, &t.Name, &t.AgreementID, &t.ParentTeamID, &t.CreatedAt)
	if err != nil {
		return Team{}, fmt.Errorf("team: insert team: %w", err)
	}

	const insertMember = `
		INSERT INTO team_members (team_id, user_id, role, status)
		VALUES ($1, $2, $3, 'ACTIVE')
	`
	for i, userID := range params.Members {
		role := RoleCoFounder
		if i == 0 {
			role = RoleFounder
		}
		if _, err := tx.Exec(ctx, insertMember, t.ID, userID, role); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return Team{}, fmt.Errorf("%w: %s", ErrDuplicateMember, userID)
			}
			return Team{}, fmt.Errorf("team: insert member %s: %w", userID, err)
		}
	}

	return t, nil
}

// SetMemberStatus moves the listed ACTIVE members of teamID to status.
func (r *Repository) SetMemberStatus(ctx context.Context, tx pgx.Tx, teamID TeamID, users []UserID, status MemberStatus) error {
	const query = `
		UPDATE team_members
		SET status = $3, left_at = now()
		WHERE team_id = $1 AND user_id = ANY($2) AND status = 'ACTIVE'
	`

	if _, err := tx.Exec(ctx, query, teamID, userIDStrings(users), status); err != nil {
		return fmt.Errorf("team: set member status: %w", err)
	}
	return nil
}

// TransferFounder grants successor the founder role and marks each exiting member LEFT.
func (r *Repository) TransferFounder(ctx context.Context, tx pgx.Tx, teamID TeamID, exiting []UserID, successor UserID) error {
	const promote = `
		UPDATE team_members
		SET role = 'founder'
		WHERE team_id = $1 AND user_id = $2 AND status = 'ACTIVE'
	`

	tag, err := tx.Exec(ctx, promote, teamID, successor)
	if err != nil {
		return fmt.Errorf("team: promote founder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotATeamMember
	}

	return r.SetMemberStatus(ctx, tx, teamID, exiting, MemberLeft)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (Member, error) {
	var m Member
	if err := row.Scan(&m.TeamID, &m.UserID, &m.Role, &m.Status, &m.JoinedAt); err != nil {
		return Member{}, err
	}
	return m, nil
}

func userIDStrings(ids []UserID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
