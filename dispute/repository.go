package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/team"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/vote"
)

var (
	ErrNotFound       = errors.New("dispute: not found")
	ErrDisputeClosed  = errors.New("dispute: not open for voting")
	ErrInvalidDispute = errors.New("dispute: invalid request")
)

type Repository interface {
	Create(ctx context.Context, d Dispute) (Dispute, error)
	Get(ctx context.Context, id string) (Dispute, error)
	ListByTeam(ctx context.Context, teamID team.TeamID) ([]Dispute, error)
	UpsertVote(ctx context.Context, v Vote) (Vote, error)
	Tally(ctx context.Context, disputeID string) (vote.Tally, error)
	// Resolve moves an OPEN dispute to status. The boolean is false when
	// another caller already resolved it.
	Resolve(ctx context.Context, id string, status Status) (Dispute, bool, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const disputeColumns = `id, team_id, initiator_id, dispute_type, description, proposed_resolution, status,
	evidence_urls, affected_members::text[], created_at, voting_deadline, resolved_at`

func (r *PGRepository) Create(ctx context.Context, d Dispute) (Dispute, error) {
	query := `
		INSERT INTO team_disputes (id, team_id, initiator_id, dispute_type, description, proposed_resolution,
			status, evidence_urls, affected_members, voting_deadline)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9::uuid[], $10)
		RETURNING ` + disputeColumns

	evidence := d.EvidenceURLs
	if evidence == nil {
		evidence = []string{}
	}

	row := r.pool.QueryRow(ctx, query,
		d.ID,
		d.TeamID,
		d.InitiatorID,
		d.Type,
		d.Description,
		d.ProposedResolution,
		d.Status,
		evidence,
		userIDStrings(d.AffectedMembers),
		d.VotingDeadline,
	)
	created, err := scanDispute(row)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: create: %w", err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM team_disputes WHERE id = $1`

	d, err := scanDispute(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: get: %w", err)
	}
	return d, nil
}

func (r *PGRepository) ListByTeam(ctx context.Context, teamID team.TeamID) ([]Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM team_disputes WHERE team_id = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Dispute, 0, 8)
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

// UpsertVote records or overwrites the user's ballot, but only while the dispute is OPEN.
func (r *PGRepository) UpsertVote(ctx context.Context, v Vote) (Vote, error) {
	const query = `
		INSERT INTO dispute_votes (dispute_id, user_id, choice, comments)
		SELECT d.id, $2, $3, $4
		FROM team_disputes d
		WHERE d.id = $1 AND d.status = 'OPEN'
		FOR SHARE
		ON CONFLICT (dispute_id, user_id)
		DO UPDATE SET choice = EXCLUDED.choice, comments = EXCLUDED.comments, updated_at = now()
		RETURNING dispute_id, user_id, choice, comments, created_at, updated_at
	`

	var out Vote
	err := r.pool.QueryRow(ctx, query, v.DisputeID, v.UserID, v.Choice, v.Comments).
		Scan(&out.DisputeID, &out.UserID, &out.Choice, &out.Comments, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Vote{}, ErrDisputeClosed
		}
		return Vote{}, fmt.Errorf("dispute: upsert vote: %w", err)
	}
	return out, nil
}

func (r *PGRepository) Tally(ctx context.Context, disputeID string) (vote.Tally, error) {
	const query = `
		SELECT
			COUNT(*) FILTER (WHERE choice = 'APPROVE'),
			COUNT(*) FILTER (WHERE choice = 'REJECT'),
			COUNT(*) FILTER (WHERE choice = 'ABSTAIN')
		FROM dispute_votes
		WHERE dispute_id = $1
	`

	var t vote.Tally
	if err := r.pool.QueryRow(ctx, query, disputeID).Scan(&t.Approve, &t.Reject, &t.Abstain); err != nil {
		return vote.Tally{}, fmt.Errorf("dispute: tally: %w", err)
	}
	return t, nil
}

func (r *PGRepository) Resolve(ctx context.Context, id string, status Status) (Dispute, bool, error) {
	query := `
		UPDATE team_disputes
		SET status = $2, resolved_at = now()
		WHERE id = $1 AND status = 'OPEN'
		RETURNING ` + disputeColumns

	d, err := scanDispute(r.pool.QueryRow(ctx, query, id, status))
	if err == nil {
		return d, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Dispute{}, false, fmt.Errorf("dispute: resolve: %w", err)
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return Dispute{}, false, err
	}
	return current, false, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDispute(row rowScanner) (Dispute, error) {
	var (
		d        Dispute
		affected []string
	)
	err := row.Scan(
		&d.ID,
		&d.TeamID,
		&d.InitiatorID,
		&d.Type,
		&d.Description,
		&d.ProposedResolution,
		&d.Status,
		&d.EvidenceURLs,
		&affected,
		&d.CreatedAt,
		&d.VotingDeadline,
		&d.ResolvedAt,
	)
	if err != nil {
		return Dispute{}, err
	}
	d.AffectedMembers = make([]team.UserID, len(affected))
	for i, id := range affected {
		d.AffectedMembers[i] = team.UserID(id)
	}
	return d, nil
}

func userIDStrings(ids []team.UserID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
