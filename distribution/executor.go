package distribution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/observability"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/outbox"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/resource"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/separation"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/team"
)

var (
	ErrAlreadyExecuted         = errors.New("distribution: separation already executed")
	ErrNotApproved             = errors.New("distribution: separation not approved")
	ErrExecutionPartialFailure = errors.New("distribution: execution failed")
)

// DefaultCompensationTimeout bounds the reversal pass, which outlives the caller's context.
const DefaultCompensationTimeout = 30 * time.Second

type CharacterService interface {
	AwardExperience(ctx context.Context, user team.UserID, amount int64) error
}

type ResourceService interface {
	AwardResource(ctx context.Context, user team.UserID, kind resource.Type, amount int64) error
}

type TokenLedger interface {
	RecordPendingDistribution(ctx context.Context, user team.UserID, amount float64, separationID string) (string, error)
	CancelPending(ctx context.Context, id string) error
}

// Teams reads membership and applies structural changes. team.Repository satisfies it.
type Teams interface {
	ActiveMembers(ctx context.Context, teamID team.TeamID) ([]team.Member, error)
	Restructure(ctx context.Context, tx pgx.Tx, plan team.Plan) ([]team.TeamID, error)
}

type Auditor interface {
	LogEvent(ctx context.Context, entityID, action string, details map[string]any) error
}

type Notifier interface {
	Notify(ctx context.Context, teamID team.TeamID, event outbox.EventType, payload map[string]any) error
}

// Executor applies an approved separation: credits, structural changes, and
// the final snapshot. Applied credits are reversed when a later step fails.
type Executor struct {
	store      Store
	characters CharacterService
	resources  ResourceService
	tokens     TokenLedger
	teams      Teams
	auditor    Auditor
	notifier   Notifier
	logger     zerolog.Logger
	now        func() time.Time

	compensationTimeout time.Duration
}

func NewExecutor(store Store, characters CharacterService, resources ResourceService, tokens TokenLedger, teams Teams, auditor Auditor, notifier Notifier, logger zerolog.Logger) *Executor {
	return &Executor{
		store:      store,
		characters: characters,
		resources:  resources,
		tokens:     tokens,
		teams:      teams,
		auditor:    auditor,
		notifier:   notifier,
		logger:     logger.With().Str("component", "distribution").Logger(),
		now:        time.Now,

		compensationTimeout: DefaultCompensationTimeout,
	}
}

func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

func (e *Executor) WithCompensationTimeout(d time.Duration) *Executor {
	if d > 0 {
		e.compensationTimeout = d
	}
	return e
}

// ExecuteSeparation runs an APPROVED (or previously failed) separation exactly once.
func (e *Executor) ExecuteSeparation(ctx context.Context, separationID string) (separation.ExecutionResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "distribution.ExecuteSeparation")
	defer span.End()
	span.SetAttributes(attribute.String("separation.id", separationID))
	start := e.now()

	claim, err := e.store.Claim(ctx, separationID)
	if err != nil {
		return separation.ExecutionResult{SeparationID: separationID}, err
	}
	p := claim.Proposal
	if !claim.Claimed {
		out := separation.ExecutionResult{SeparationID: p.ID, Status: p.Status, Results: separation.NewResults()}
		if p.ExecutionResults != nil {
			out.Results = *p.ExecutionResults
		}
		if p.Status == separation.StatusExecuted {
			return out, ErrAlreadyExecuted
		}
		return out, fmt.Errorf("%w: status %s", ErrNotApproved, p.Status)
	}

	log := e.logger.With().Str("separation_id", p.ID).Int("attempt", claim.Attempt).Logger()
	results := separation.NewResults()
	steps := planSteps(p, claim.Attempt)
	applied := make([]Step, 0, len(steps))

	for _, step := range steps {
		ref, err := e.apply(ctx, step)
		if err != nil {
			return e.fail(ctx, p, applied, results, fmt.Errorf("apply %s step %d for %s: %w", step.Kind, step.Seq, step.UserID, err), log, start)
		}
		step.Reference = ref
		step.AppliedAt = e.now()
		applied = append(applied, step)
		record(&results, step)

		if err := e.store.RecordStep(ctx, step); err != nil {
			return e.fail(ctx, p, applied, results, err, log, start)
		}
	}

	plan, err := e.structuralPlan(ctx, p)
	if err != nil {
		return e.fail(ctx, p, applied, results, err, log, start)
	}

	executedAt, err := e.store.Complete(ctx, p.ID, func(tx pgx.Tx) (separation.Results, error) {
		created, err := e.teams.Restructure(ctx, tx, plan)
		if err != nil {
			return separation.Results{}, err
		}
		results.NewTeamsCreated = append(results.NewTeamsCreated, created...)
		return results, nil
	})
	if err != nil {
		results.NewTeamsCreated = []team.TeamID{}
		return e.fail(ctx, p, applied, results, err, log, start)
	}

	if e.auditor != nil {
		if err := e.auditor.LogEvent(ctx, p.ID, "SEPARATION_EXECUTED", map[string]any{
			"team_id":         p.TeamID,
			"separation_type": p.Type,
			"executed_at":     executedAt,
			"results":         results,
		}); err != nil {
			log.Warn().Err(err).Msg("audit separation execution")
		}
	}
	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, p.TeamID, outbox.EventSeparationExecuted, map[string]any{
			"separation_id":     p.ID,
			"separation_type":   p.Type,
			"new_teams_created": results.NewTeamsCreated,
		}); err != nil {
			log.Warn().Err(err).Msg("notify separation executed")
		}
	}

	observability.RecordExecution("executed", e.now().Sub(start))
	log.Info().Int("steps", len(applied)).Int("new_teams", len(results.NewTeamsCreated)).Msg("separation executed")
	return separation.ExecutionResult{
		Success:      true,
		SeparationID: p.ID,
		Status:       separation.StatusExecuted,
		Results:      results,
	}, nil
}

func (e *Executor) apply(ctx context.Context, step Step) (string, error) {
	switch step.Kind {
	case StepXP:
		return "", e.characters.AwardExperience(ctx, step.UserID, step.Units)
	case StepResource:
		return "", e.resources.AwardResource(ctx, step.UserID, step.ResourceType, step.Units)
	case StepToken:
		return e.tokens.RecordPendingDistribution(ctx, step.UserID, step.Tokens, step.SeparationID)
	}
	return "", fmt.Errorf("unknown step kind %q", step.Kind)
}

func (e *Executor) reverse(ctx context.Context, step Step) error {
	switch step.Kind {
	case StepXP:
		return e.characters.AwardExperience(ctx, step.UserID, -step.Units)
	case StepResource:
		return e.resources.AwardResource(ctx, step.UserID, step.ResourceType, -step.Units)
	case StepToken:
		return e.tokens.CancelPending(ctx, step.Reference)
	}
	return fmt.Errorf("unknown step kind %q", step.Kind)
}

// fail reverses applied steps newest first, one attempt each, and records the
// terminal status: EXECUTION_FAILED when everything was reversed, otherwise
// PARTIALLY_EXECUTED. It runs detached from the caller's cancellation so a
// timed out request cannot leave the separation EXECUTING.
func (e *Executor) fail(parent context.Context, p separation.Proposal, applied []Step, results separation.Results, cause error, log zerolog.Logger, start time.Time) (separation.ExecutionResult, error) {
	log.Error().Err(cause).Int("applied_steps", len(applied)).Msg("separation execution failed; compensating")

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), e.compensationTimeout)
	defer cancel()

	var compErr *multierror.Error
	for i := len(applied) - 1; i >= 0; i-- {
		step := applied[i]
		status := StepCompensated
		if err := e.reverse(ctx, step); err != nil {
			status = StepCompensationFailed
			compErr = multierror.Append(compErr, fmt.Errorf("compensate %s step %d for %s: %w", step.Kind, step.Seq, step.UserID, err))
		}
		if err := e.store.UpdateStep(ctx, step, status); err != nil {
			log.Warn().Err(err).Int("seq", step.Seq).Msg("journal compensation")
		}
	}

	status := separation.StatusExecutionFailed
	results.Errors = append(results.Errors, cause.Error())
	if err := compErr.ErrorOrNil(); err != nil {
		status = separation.StatusPartiallyExecuted
		for _, ce := range compErr.Errors {
			results.Errors = append(results.Errors, ce.Error())
		}
	}

	if err := e.store.Fail(ctx, p.ID, status, results); err != nil {
		log.Error().Err(err).Str("status", string(status)).Msg("record failed execution")
	}
	observability.RecordExecution(string(status), e.now().Sub(start))

	out := separation.ExecutionResult{SeparationID: p.ID, Status: status, Results: results}
	if err := compErr.ErrorOrNil(); err != nil {
		return out, fmt.Errorf("%w: %w (compensation: %w)", ErrExecutionPartialFailure, cause, err)
	}
	return out, fmt.Errorf("%w: %w", ErrExecutionPartialFailure, cause)
}

// structuralPlan translates the separation type into team changes.
func (e *Executor) structuralPlan(ctx context.Context, p separation.Proposal) (team.Plan, error) {
	plan := team.Plan{TeamID: p.TeamID}

	switch p.Type {
	case separation.TypeAmicableSplit:
		for _, succ := range p.Distribution.Successors {
			plan.Successors = append(plan.Successors, team.CreateParams{Name: succ.Name, Members: succ.Members})
			plan.Removed = append(plan.Removed, succ.Members...)
		}
	case separation.TypeMemberRemoval:
		plan.Removed = append(plan.Removed, p.DepartingMembers...)
	case separation.TypeFounderExit:
		successor := p.SuccessorFounder
		if successor == nil {
			members, err := e.teams.ActiveMembers(ctx, p.TeamID)
			if err != nil {
				return team.Plan{}, fmt.Errorf("list members for founder succession: %w", err)
			}
			leaving := make(map[team.UserID]bool, len(p.DepartingMembers))
			for _, id := range p.DepartingMembers {
				leaving[id] = true
			}
			for _, m := range members {
				if !leaving[m.UserID] {
					id := m.UserID
					successor = &id
					break
				}
			}
		}
		if successor == nil {
			return team.Plan{}, errors.New("founder exit leaves no remaining member to succeed")
		}
		plan.NewFounder = successor
		plan.ExitingFounders = p.DepartingMembers
	}
	return plan, nil
}

// planSteps lists credits in a stable order: XP, then resources, then tokens,
// each sorted by member and resource type.
func planSteps(p separation.Proposal, attempt int) []Step {
	var steps []Step
	add := func(s Step) {
		s.SeparationID = p.ID
		s.Attempt = attempt
		s.Seq = len(steps) + 1
		s.Status = StepApplied
		steps = append(steps, s)
	}

	for _, id := range sortedUsers(p.Distribution.XP) {
		if amount := p.Distribution.XP[id]; amount > 0 {
			add(Step{Kind: StepXP, UserID: id, Units: amount})
		}
	}
	for _, id := range sortedUsers(p.Distribution.Resources) {
		perType := p.Distribution.Resources[id]
		kinds := make([]string, 0, len(perType))
		for kind := range perType {
			kinds = append(kinds, string(kind))
		}
		sort.Strings(kinds)
		for _, raw := range kinds {
			kind := resource.Type(raw)
			if amount := perType[kind]; amount > 0 {
				add(Step{Kind: StepResource, UserID: id, ResourceType: kind, Units: amount})
			}
		}
	}
	for _, id := range sortedUsers(p.Distribution.Tokens) {
		if amount := p.Distribution.Tokens[id]; amount > 0 {
			add(Step{Kind: StepToken, UserID: id, Tokens: amount})
		}
	}
	return steps
}

func record(results *separation.Results, step Step) {
	switch step.Kind {
	case StepXP:
		results.XPDistributed[step.UserID] += step.Units
	case StepResource:
		if results.ResourcesDistributed[step.UserID] == nil {
			results.ResourcesDistributed[step.UserID] = map[resource.Type]int64{}
		}
		results.ResourcesDistributed[step.UserID][step.ResourceType] += step.Units
	case StepToken:
		results.TokensDistributed[step.UserID] += step.Tokens
	}
}

func sortedUsers[V any](m map[team.UserID]V) []team.UserID {
	ids := make([]team.UserID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
