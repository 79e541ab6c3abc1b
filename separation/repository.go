package separation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/team"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/vote"
)

var (
	ErrNotFound        = errors.New("separation: not found")
	ErrInvalidProposal = errors.New("separation: invalid proposal")
	ErrProposalClosed  = errors.New("separation: not open for voting")
)

type Repository interface {
	Create(ctx context.Context, p Proposal) (Proposal, error)
	Get(ctx context.Context, id string) (Proposal, error)
	UpsertVote(ctx context.Context, v Vote) (Vote, error)
	Tally(ctx context.Context, separationID string) (vote.Tally, error)
	// Transition moves the proposal from one status to another. The boolean
	// is false when the proposal was no longer in from.
	Transition(ctx context.Context, id string, from, to Status) (Proposal, bool, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// ProposalColumns lists the team_separations columns read by ScanProposal.
const ProposalColumns = `id, team_id, proposed_by, separation_type, distribution, timeline_days, status,
	voting_deadline, terms_acceptance, departing_members::text[], successor_founder, created_at,
	executed_at, execution_results`

func (r *PGRepository) Create(ctx context.Context, p Proposal) (Proposal, error) {
	distribution, err := json.Marshal(p.Distribution)
	if err != nil {
		return Proposal{}, fmt.Errorf("separation: marshal distribution: %w", err)
	}
	terms := p.TermsAcceptance
	if terms == nil {
		terms = map[team.UserID]bool{}
	}
	termsBytes, err := json.Marshal(terms)
	if err != nil {
		return Proposal{}, fmt.Errorf("separation: marshal terms: %w", err)
	}

	query := `
		INSERT INTO team_separations (id, team_id, proposed_by, separation_type, distribution, timeline_days,
			status, voting_deadline, terms_acceptance, departing_members, successor_founder)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, $10::uuid[], $11)
		RETURNING ` + ProposalColumns

	row := r.pool.QueryRow(ctx, query,
		p.ID,
		p.TeamID,
		p.ProposedBy,
		p.Type,
		distribution,
		p.TimelineDays,
		p.Status,
		p.VotingDeadline,
		termsBytes,
		userIDStrings(p.DepartingMembers),
		p.SuccessorFounder,
	)
	created, err := ScanProposal(row)
	if err != nil {
		return Proposal{}, fmt.Errorf("separation: create: %w", err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Proposal, error) {
	query := `SELECT ` + ProposalColumns + ` FROM team_separations WHERE id = $1`

	p, err := ScanProposal(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Proposal{}, ErrNotFound
		}
		return Proposal{}, fmt.Errorf("separation: get: %w", err)
	}
	return p, nil
}

// UpsertVote records or overwrites the user's ballot while the proposal awaits votes.
func (r *PGRepository) UpsertVote(ctx context.Context, v Vote) (Vote, error) {
	const query = `
		INSERT INTO separation_votes (separation_id, user_id, choice, comments)
		SELECT s.id, $2, $3, $4
		FROM team_separations s
		WHERE s.id = $1 AND s.status = 'PENDING_VOTES'
		FOR SHARE
		ON CONFLICT (separation_id, user_id)
		DO UPDATE SET choice = EXCLUDED.choice, comments = EXCLUDED.comments, updated_at = now()
		RETURNING separation_id, user_id, choice, comments, created_at, updated_at
	`

	var out Vote
	err := r.pool.QueryRow(ctx, query, v.SeparationID, v.UserID, v.Choice, v.Comments).
		Scan(&out.SeparationID, &out.UserID, &out.Choice, &out.Comments, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Vote{}, ErrProposalClosed
		}
		return Vote{}, fmt.Errorf("separation: upsert vote: %w", err)
	}
	return out, nil
}

func (r *PGRepository) Tally(ctx context.Context, separationID string) (vote.Tally, error) {
	const query = `
		SELECT
			COUNT(*) FILTER (WHERE choice = 'APPROVE'),
			COUNT(*) FILTER (WHERE choice = 'REJECT'),
			COUNT(*) FILTER (WHERE choice = 'ABSTAIN')
		FROM separation_votes
		WHERE separation_id = $1
	`

	var t vote.Tally
	if err := r.pool.QueryRow(ctx, query, separationID).Scan(&t.Approve, &t.Reject, &t.Abstain); err != nil {
		return vote.Tally{}, fmt.Errorf("separation: tally: %w", err)
	}
	return t, nil
}

func (r *PGRepository) Transition(ctx context.Context, id string, from, to Status) (Proposal, bool, error) {
	query := `
		UPDATE team_separations
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING ` + ProposalColumns

	p, err := ScanProposal(r.pool.QueryRow(ctx, query, id, from, to))
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Proposal{}, false, fmt.Errorf("separation: transition %s to %s: %w", from, to, err)
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return Proposal{}, false, err
	}
	return current, false, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// ScanProposal decodes a row selected with ProposalColumns.
func ScanProposal(row rowScanner) (Proposal, error) {
	var (
		p            Proposal
		distribution []byte
		terms        []byte
		departing    []string
		results      []byte
	)
	err := row.Scan(
		&p.ID,
		&p.TeamID,
		&p.ProposedBy,
		&p.Type,
		&distribution,
		&p.TimelineDays,
		&p.Status,
		&p.VotingDeadline,
		&terms,
		&departing,
		&p.SuccessorFounder,
		&p.CreatedAt,
		&p.ExecutedAt,
		&results,
	)
	if err != nil {
		return Proposal{}, err
	}

	if err := json.Unmarshal(distribution, &p.Distribution); err != nil {
		return Proposal{}, fmt.Errorf("separation: decode distribution: %w", err)
	}
	if len(terms) > 0 {
		if err := json.Unmarshal(terms, &p.TermsAcceptance); err != nil {
			return Proposal{}, fmt.Errorf("separation: decode terms: %w", err)
		}
	}
	for _, id := range departing {
		p.DepartingMembers = append(p.DepartingMembers, team.UserID(id))
	}
	if len(results) > 0 {
		var snapshot Results
		if err := json.Unmarshal(results, &snapshot); err != nil {
			return Proposal{}, fmt.Errorf("separation: decode results: %w", err)
		}
		p.ExecutionResults = &snapshot
	}
	return p, nil
}

func userIDStrings(ids []team.UserID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
