package dispute

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/agreement"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/observability"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/outbox"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/team"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/vote"
)

// DefaultVotingPeriod is how long members have to vote on a new dispute.
const DefaultVotingPeriod = 7 * 24 * time.Hour

type Membership interface {
	ActiveMember(ctx context.Context, teamID team.TeamID, userID team.UserID) (team.Member, error)
	ActiveMembers(ctx context.Context, teamID team.TeamID) ([]team.Member, error)
}

type AgreementRegistry interface {
	ForTeam(ctx context.Context, teamID team.TeamID) (agreement.Agreement, error)
}

type Notifier interface {
	Notify(ctx context.Context, teamID team.TeamID, event outbox.EventType, payload map[string]any) error
}

type Service struct {
	repo         Repository
	members      Membership
	agreements   AgreementRegistry
	notifier     Notifier
	logger       zerolog.Logger
	votingPeriod time.Duration
	idGenerator  func() string
	now          func() time.Time
}

func NewService(repo Repository, members Membership, agreements AgreementRegistry, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		repo:         repo,
		members:      members,
		agreements:   agreements,
		notifier:     notifier,
		logger:       logger.With().Str("component", "dispute").Logger(),
		votingPeriod: DefaultVotingPeriod,
		idGenerator:  func() string { return uuid.NewString() },
		now:          time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithVotingPeriod(d time.Duration) *Service {
	if d > 0 {
		s.votingPeriod = d
	}
	return s
}

// InitiateDispute opens a dispute on behalf of an active team member.
func (s *Service) InitiateDispute(ctx context.Context, params InitiateParams) (InitiateResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "dispute.InitiateDispute")
	defer span.End()
	span.SetAttributes(attribute.String("team.id", string(params.TeamID)))

	if _, err := ParseType(string(params.Type)); err != nil {
		return InitiateResult{}, err
	}
	if strings.TrimSpace(params.Description) == "" {
		return InitiateResult{}, fmt.Errorf("%w: description required", ErrInvalidDispute)
	}

	if _, err := s.members.ActiveMember(ctx, params.TeamID, params.InitiatorID); err != nil {
		return InitiateResult{}, fmt.Errorf("dispute: initiate: %w", err)
	}

	now := s.now()
	created, err := s.repo.Create(ctx, Dispute{
		ID:                 s.idGenerator(),
		TeamID:             params.TeamID,
		InitiatorID:        params.InitiatorID,
		Type:               params.Type,
		Description:        params.Description,
		ProposedResolution: params.ProposedResolution,
		Status:             StatusOpen,
		EvidenceURLs:       params.EvidenceURLs,
		AffectedMembers:    params.AffectedMembers,
		VotingDeadline:     now.Add(s.votingPeriod),
	})
	if err != nil {
		span.RecordError(err)
		s.logger.Error().Err(err).Str("team_id", string(params.TeamID)).Msg("create dispute")
		return InitiateResult{}, err
	}

	s.notify(ctx, created.TeamID, outbox.EventDisputeInitiated, map[string]any{
		"dispute_id":   created.ID,
		"initiator_id": created.InitiatorID,
		"dispute_type": created.Type,
		"description":  created.Description,
	})

	observability.RecordWorkflow("dispute", "initiated")
	return InitiateResult{
		Success:   true,
		Dispute:   created,
		NextSteps: NextSteps(s.mechanismFor(ctx, created.TeamID)),
	}, nil
}

// VoteOnDispute records a ballot and resolves the dispute once quorum is reached.
func (s *Service) VoteOnDispute(ctx context.Context, disputeID string, userID team.UserID, choice vote.Choice, comments string) (VoteResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "dispute.VoteOnDispute")
	defer span.End()
	span.SetAttributes(attribute.String("dispute.id", disputeID))

	if _, err := vote.ParseChoice(string(choice)); err != nil {
		return VoteResult{}, fmt.Errorf("%w: %v", ErrInvalidDispute, err)
	}

	d, err := s.repo.Get(ctx, disputeID)
	if err != nil {
		return VoteResult{}, err
	}
	if d.Status != StatusOpen {
		return VoteResult{Status: d.Status}, ErrDisputeClosed
	}
	if _, err := s.members.ActiveMember(ctx, d.TeamID, userID); err != nil {
		return VoteResult{Status: d.Status}, fmt.Errorf("dispute: vote: %w", err)
	}

	cast, err := s.repo.UpsertVote(ctx, Vote{DisputeID: d.ID, UserID: userID, Choice: choice, Comments: comments})
	if err != nil {
		return VoteResult{}, err
	}

	active, err := s.members.ActiveMembers(ctx, d.TeamID)
	if err != nil {
		return VoteResult{}, fmt.Errorf("dispute: list members: %w", err)
	}
	tally, err := s.repo.Tally(ctx, d.ID)
	if err != nil {
		return VoteResult{}, err
	}

	result := VoteResult{Success: true, Vote: cast, Tally: tally, Status: StatusOpen}

	var target Status
	switch vote.Decide(tally, len(active)) {
	case vote.Approved:
		target = StatusApproved
	case vote.Rejected:
		target = StatusRejected
	default:
		return result, nil
	}

	resolved, won, err := s.repo.Resolve(ctx, d.ID, target)
	if err != nil {
		s.logger.Error().Err(err).Str("dispute_id", d.ID).Msg("resolve dispute")
		return VoteResult{}, err
	}
	result.Status = resolved.Status
	if !won {
		return result, nil
	}

	result.Resolved = true
	s.notify(ctx, resolved.TeamID, outbox.EventDisputeResolved, map[string]any{
		"dispute_id": resolved.ID,
		"status":     resolved.Status,
		"approve":    tally.Approve,
		"reject":     tally.Reject,
		"abstain":    tally.Abstain,
	})
	observability.RecordWorkflow("dispute", "resolved_"+strings.ToLower(string(resolved.Status)))
	return result, nil
}

// GetDispute returns a dispute and its current tally.
func (s *Service) GetDispute(ctx context.Context, id string) (Detail, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	tally, err := s.repo.Tally(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Dispute: d, Tally: tally}, nil
}

// ListDisputes returns the team's disputes, newest first.
func (s *Service) ListDisputes(ctx context.Context, teamID team.TeamID) ([]Dispute, error) {
	return s.repo.ListByTeam(ctx, teamID)
}

func (s *Service) mechanismFor(ctx context.Context, teamID team.TeamID) agreement.Mechanism {
	if s.agreements == nil {
		return ""
	}
	ag, err := s.agreements.ForTeam(ctx, teamID)
	if err != nil {
		if !errors.Is(err, agreement.ErrNotFound) {
			s.logger.Warn().Err(err).Str("team_id", string(teamID)).Msg("lookup team agreement")
		}
		return ""
	}
	return ag.Mechanism
}

func (s *Service) notify(ctx context.Context, teamID team.TeamID, event outbox.EventType, payload map[string]any) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, teamID, event, payload); err != nil {
		s.logger.Warn().Err(err).Str("team_id", string(teamID)).Str("event", string(event)).Msg("notify team")
	}
}

// NextSteps describes what happens after a dispute is raised under mechanism.
func NextSteps(mechanism agreement.Mechanism) []string {
	switch mechanism {
	case agreement.MechanismVoting:
		return []string{
			"Team members have 7 days to vote on the proposed resolution",
			"A simple majority (>50%) is required for approval",
		}
	case agreement.MechanismArbitration:
		return []string{
			"An external arbitrator will be assigned within 48 hours",
			"Both parties will present their case within 5 business days",
		}
	default:
		return []string{
			"Team members can vote or propose alternative resolutions",
			"The dispute will be resolved within 14 days if no consensus is reached",
		}
	}
}
