package separation

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/ledger"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/observability"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/outbox"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/resource"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/team"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/vote"
)

// DefaultVotingPeriod applies when a proposal names no deadline.
const DefaultVotingPeriod = 7 * 24 * time.Hour

// equityTolerance is how far equity shares may drift from 100 percent.
const equityTolerance = 0.01

type Membership interface {
	ActiveMember(ctx context.Context, teamID team.TeamID, userID team.UserID) (team.Member, error)
	ActiveMembers(ctx context.Context, teamID team.TeamID) ([]team.Member, error)
}

type AssetLedger interface {
	CalculateTeamAssets(ctx context.Context, teamID team.TeamID) ledger.TeamAssets
}

// Executor carries out an approved separation.
type Executor interface {
	ExecuteSeparation(ctx context.Context, separationID string) (ExecutionResult, error)
}

type Notifier interface {
	Notify(ctx context.Context, teamID team.TeamID, event outbox.EventType, payload map[string]any) error
}

type Service struct {
	repo        Repository
	members     Membership
	assets      AssetLedger
	executor    Executor
	notifier    Notifier
	logger      zerolog.Logger
	idGenerator func() string
	now         func() time.Time
}

func NewService(repo Repository, members Membership, assets AssetLedger, executor Executor, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		repo:        repo,
		members:     members,
		assets:      assets,
		executor:    executor,
		notifier:    notifier,
		logger:      logger.With().Str("component", "separation").Logger(),
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
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

// ProposeSeparation validates and records a separation plan. When every active
// member has accepted the terms the plan is approved and executed immediately.
func (s *Service) ProposeSeparation(ctx context.Context, params ProposeParams) (ProposeResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "separation.ProposeSeparation")
	defer span.End()
	span.SetAttributes(
		attribute.String("team.id", string(params.TeamID)),
		attribute.String("separation.type", string(params.Type)),
	)

	if _, err := ParseType(string(params.Type)); err != nil {
		return ProposeResult{}, err
	}
	if _, err := s.members.ActiveMember(ctx, params.TeamID, params.ProposedBy); err != nil {
		return ProposeResult{}, fmt.Errorf("separation: propose: %w", err)
	}

	active, err := s.members.ActiveMembers(ctx, params.TeamID)
	if err != nil {
		return ProposeResult{}, fmt.Errorf("separation: list members: %w", err)
	}

	now := s.now()
	deadline := params.VotingDeadline
	if deadline.IsZero() {
		deadline = now.Add(DefaultVotingPeriod)
	}
	if !deadline.After(now) {
		return ProposeResult{}, fmt.Errorf("%w: voting deadline must be in the future", ErrInvalidProposal)
	}
	if params.TimelineDays < 0 {
		return ProposeResult{}, fmt.Errorf("%w: timeline must not be negative", ErrInvalidProposal)
	}

	departing, err := resolveStructure(&params, active)
	if err != nil {
		return ProposeResult{}, err
	}
	if err := validateAllocations(params.Distribution, active); err != nil {
		return ProposeResult{}, err
	}

	assets := s.assets.CalculateTeamAssets(ctx, params.TeamID)
	if err := ledger.ValidateDistribution(params.Distribution.Allocation, assets); err != nil {
		observability.RecordWorkflow("separation", "invalid_distribution")
		return ProposeResult{}, err
	}

	created, err := s.repo.Create(ctx, Proposal{
		ID:               s.idGenerator(),
		TeamID:           params.TeamID,
		ProposedBy:       params.ProposedBy,
		Type:             params.Type,
		Distribution:     params.Distribution,
		TimelineDays:     params.TimelineDays,
		Status:           StatusPendingVotes,
		VotingDeadline:   deadline,
		TermsAcceptance:  params.TermsAcceptance,
		DepartingMembers: departing,
		SuccessorFounder: params.SuccessorFounder,
	})
	if err != nil {
		span.RecordError(err)
		s.logger.Error().Err(err).Str("team_id", string(params.TeamID)).Msg("create separation proposal")
		return ProposeResult{}, err
	}

	if !autoApproves(created, active) {
		s.notify(ctx, created.TeamID, outbox.EventSeparationProposed, map[string]any{
			"separation_id":   created.ID,
			"proposed_by":     created.ProposedBy,
			"separation_type": created.Type,
			"voting_deadline": created.VotingDeadline,
		})
		observability.RecordWorkflow("separation", "proposed")
		return ProposeResult{Success: true, Proposal: created, RequiresVoting: true}, nil
	}

	observability.RecordWorkflow("separation", "auto_approved")
	approved, exec, err := s.approveAndExecute(ctx, created.ID)
	if err != nil {
		return ProposeResult{Proposal: approved, AutoApproved: true, Execution: exec}, err
	}
	return ProposeResult{Success: exec == nil || exec.Success, Proposal: approved, AutoApproved: true, Execution: exec}, nil
}

// VoteOnSeparation records a ballot on a proposal awaiting votes and, once
// quorum is reached, approves and executes it or rejects it.
func (s *Service) VoteOnSeparation(ctx context.Context, separationID string, userID team.UserID, choice vote.Choice, comments string) (VoteResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "separation.VoteOnSeparation")
	defer span.End()
	span.SetAttributes(attribute.String("separation.id", separationID))

	if _, err := vote.ParseChoice(string(choice)); err != nil {
		return VoteResult{}, fmt.Errorf("%w: %v", ErrInvalidProposal, err)
	}

	p, err := s.repo.Get(ctx, separationID)
	if err != nil {
		return VoteResult{}, err
	}
	if p.Status != StatusPendingVotes {
		return VoteResult{Status: p.Status}, ErrProposalClosed
	}
	if _, err := s.members.ActiveMember(ctx, p.TeamID, userID); err != nil {
		return VoteResult{Status: p.Status}, fmt.Errorf("separation: vote: %w", err)
	}

	cast, err := s.repo.UpsertVote(ctx, Vote{SeparationID: p.ID, UserID: userID, Choice: choice, Comments: comments})
	if err != nil {
		return VoteResult{}, err
	}

	active, err := s.members.ActiveMembers(ctx, p.TeamID)
	if err != nil {
		return VoteResult{}, fmt.Errorf("separation: list members: %w", err)
	}
	tally, err := s.repo.Tally(ctx, p.ID)
	if err != nil {
		return VoteResult{}, err
	}

	result := VoteResult{Success: true, Vote: cast, Tally: tally, Status: StatusPendingVotes}
	switch vote.Decide(tally, len(active)) {
	case vote.Approved:
		approved, exec, err := s.approveAndExecute(ctx, p.ID)
		result.Status = approved.Status
		result.Execution = exec
		if err != nil {
			result.Success = false
			return result, err
		}
		if exec != nil {
			result.Status = exec.Status
		}
		return result, nil
	case vote.Rejected:
		rejected, won, err := s.repo.Transition(ctx, p.ID, StatusPendingVotes, StatusRejected)
		if err != nil {
			return VoteResult{}, err
		}
		result.Status = rejected.Status
		if won {
			observability.RecordWorkflow("separation", "rejected")
		}
		return result, nil
	default:
		return result, nil
	}
}

// GetProposal returns a proposal and its current tally.
func (s *Service) GetProposal(ctx context.Context, id string) (Detail, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	tally, err := s.repo.Tally(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Proposal: p, Tally: tally}, nil
}

// approveAndExecute moves a proposal to APPROVED and runs it. Only the caller
// that performs the transition executes; others see a nil execution.
func (s *Service) approveAndExecute(ctx context.Context, id string) (Proposal, *ExecutionResult, error) {
	approved, won, err := s.repo.Transition(ctx, id, StatusPendingVotes, StatusApproved)
	if err != nil {
		return Proposal{}, nil, err
	}
	if !won || s.executor == nil {
		return approved, nil, nil
	}

	exec, err := s.executor.ExecuteSeparation(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Str("separation_id", id).Msg("execute separation")
		return approved, &exec, err
	}
	approved.Status = exec.Status
	return approved, &exec, nil
}

func (s *Service) notify(ctx context.Context, teamID team.TeamID, event outbox.EventType, payload map[string]any) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, teamID, event, payload); err != nil {
		s.logger.Warn().Err(err).Str("team_id", string(teamID)).Str("event", string(event)).Msg("notify team")
	}
}

func autoApproves(p Proposal, active []team.Member) bool {
	if p.Type == TypeMemberRemoval || len(active) == 0 {
		return false
	}
	for _, m := range active {
		if !p.TermsAcceptance[m.UserID] {
			return false
		}
	}
	return true
}

// resolveStructure checks the structural fields each separation type needs and
// returns the members who leave the origin team.
func resolveStructure(params *ProposeParams, active []team.Member) ([]team.UserID, error) {
	byID := make(map[team.UserID]team.Member, len(active))
	for _, m := range active {
		byID[m.UserID] = m
	}
	requireActive := func(field string, ids ...team.UserID) error {
		for _, id := range ids {
			if _, ok := byID[id]; !ok {
				return fmt.Errorf("%w: %s %s is not an active member", ErrInvalidProposal, field, id)
			}
		}
		return nil
	}

	switch params.Type {
	case TypeMemberRemoval:
		if len(params.DepartingMembers) == 0 {
			return nil, fmt.Errorf("%w: member removal requires departing members", ErrInvalidProposal)
		}
		if err := requireActive("departing member", params.DepartingMembers...); err != nil {
			return nil, err
		}
		if len(params.DepartingMembers) >= len(active) {
			return nil, fmt.Errorf("%w: member removal cannot remove every member", ErrInvalidProposal)
		}
		return params.DepartingMembers, nil

	case TypeFounderExit:
		departing := params.DepartingMembers
		if len(departing) == 0 {
			for _, m := range active {
				if m.Role == team.RoleFounder {
					departing = append(departing, m.UserID)
				}
			}
		}
		if len(departing) == 0 {
			return nil, fmt.Errorf("%w: founder exit requires a departing founder", ErrInvalidProposal)
		}
		if err := requireActive("departing founder", departing...); err != nil {
			return nil, err
		}
		leaving := make(map[team.UserID]bool, len(departing))
		for _, id := range departing {
			leaving[id] = true
		}
		if params.SuccessorFounder != nil {
			if err := requireActive("successor founder", *params.SuccessorFounder); err != nil {
				return nil, err
			}
			if leaving[*params.SuccessorFounder] {
				return nil, fmt.Errorf("%w: successor founder cannot be departing", ErrInvalidProposal)
			}
		} else if len(departing) >= len(active) {
			return nil, fmt.Errorf("%w: founder exit leaves no successor", ErrInvalidProposal)
		}
		return departing, nil

	case TypeAmicableSplit:
		seen := map[team.UserID]bool{}
		var departing []team.UserID
		for i, succ := range params.Distribution.Successors {
			if strings.TrimSpace(succ.Name) == "" {
				return nil, fmt.Errorf("%w: successor team %d needs a name", ErrInvalidProposal, i)
			}
			if len(succ.Members) == 0 {
				return nil, fmt.Errorf("%w: successor team %q has no members", ErrInvalidProposal, succ.Name)
			}
			if err := requireActive("successor member", succ.Members...); err != nil {
				return nil, err
			}
			for _, id := range succ.Members {
				if seen[id] {
					return nil, fmt.Errorf("%w: member %s assigned to more than one successor team", ErrInvalidProposal, id)
				}
				seen[id] = true
				departing = append(departing, id)
			}
		}
		return departing, nil

	default:
		return nil, nil
	}
}

func validateAllocations(dist Distribution, active []team.Member) error {
	activeSet := make(map[team.UserID]bool, len(active))
	for _, m := range active {
		activeSet[m.UserID] = true
	}
	recipient := func(category string, id team.UserID) error {
		if !activeSet[id] {
			return fmt.Errorf("%w: %s recipient %s is not an active member", ledger.ErrInvalidDistribution, category, id)
		}
		return nil
	}

	for id, amount := range dist.XP {
		if err := recipient("XP", id); err != nil {
			return err
		}
		if amount < 0 {
			return fmt.Errorf("%w: negative XP allocation for %s", ledger.ErrInvalidDistribution, id)
		}
	}
	for id, perType := range dist.Resources {
		if err := recipient("resource", id); err != nil {
			return err
		}
		for kind, amount := range perType {
			if _, err := resource.ParseType(string(kind)); err != nil {
				return fmt.Errorf("%w: %v", ledger.ErrInvalidDistribution, err)
			}
			if amount < 0 {
				return fmt.Errorf("%w: negative %s allocation for %s", ledger.ErrInvalidDistribution, kind, id)
			}
		}
	}
	for id, amount := range dist.Tokens {
		if err := recipient("token", id); err != nil {
			return err
		}
		if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
			return fmt.Errorf("%w: invalid token allocation for %s", ledger.ErrInvalidDistribution, id)
		}
	}

	if len(dist.Equity) > 0 {
		var total float64
		for id, share := range dist.Equity {
			if err := recipient("equity", id); err != nil {
				return err
			}
			if share < 0 || math.IsNaN(share) {
				return fmt.Errorf("%w: invalid equity share for %s", ledger.ErrInvalidDistribution, id)
			}
			total += share
		}
		if math.Abs(total-100) > equityTolerance {
			return fmt.Errorf("%w: equity allocation sums to %.2f%%, expected 100%%", ledger.ErrInvalidDistribution, total)
		}
	}
	return nil
}
