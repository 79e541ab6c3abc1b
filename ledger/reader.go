package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/observability"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/resource"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/team"
)

type Membership interface {
	ActiveMembers(ctx context.Context, teamID team.TeamID) ([]team.Member, error)
}

type CharacterService interface {
	Experience(ctx context.Context, user team.UserID) (int64, error)
}

type ResourceService interface {
	Inventory(ctx context.Context, user team.UserID) (resource.Inventory, error)
}

type BalanceSource interface {
	Balance(ctx context.Context, user team.UserID) (float64, error)
}

type SubmissionCounter interface {
	CountApprovedSince(ctx context.Context, user team.UserID, since time.Time) (int, error)
}

// Sources bundles the collaborators the reader aggregates over.
type Sources struct {
	Members     Membership
	Characters  CharacterService
	Resources   ResourceService
	Balances    BalanceSource
	Submissions SubmissionCounter
}

// Reader computes team asset totals and per-member contributions.
type Reader struct {
	src         Sources
	concurrency int
	logger      zerolog.Logger
	now         func() time.Time
}

func NewReader(src Sources, concurrency int, logger zerolog.Logger) *Reader {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Reader{
		src:         src,
		concurrency: concurrency,
		logger:      logger.With().Str("component", "ledger").Logger(),
		now:         time.Now,
	}
}

func (r *Reader) WithClock(now func() time.Time) *Reader {
	r.now = now
	return r
}

// CalculateTeamAssets aggregates holdings over the team's active members.
// When any read fails the result is all zeros, so callers validating against
// it reject every positive allocation.
func (r *Reader) CalculateTeamAssets(ctx context.Context, teamID team.TeamID) TeamAssets {
	ctx, span := observability.Tracer().Start(ctx, "ledger.CalculateTeamAssets")
	defer span.End()
	span.SetAttributes(attribute.String("team.id", string(teamID)))

	assets, err := r.calculate(ctx, teamID)
	if err != nil {
		span.RecordError(err)
		r.logger.Error().Err(err).Str("team_id", string(teamID)).Msg("calculate team assets; falling back to zero totals")
		return emptyAssets()
	}
	return assets
}

func (r *Reader) calculate(ctx context.Context, teamID team.TeamID) (TeamAssets, error) {
	members, err := r.src.Members.ActiveMembers(ctx, teamID)
	if err != nil {
		return TeamAssets{}, fmt.Errorf("ledger: list members: %w", err)
	}

	now := r.now()
	type memberRead struct {
		contribution Contribution
		tokens       float64
	}
	reads := make([]memberRead, len(members))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, member := range members {
		i, member := i, member
		g.Go(func() error {
			xp, err := r.src.Characters.Experience(gctx, member.UserID)
			if err != nil {
				return fmt.Errorf("ledger: xp for %s: %w", member.UserID, err)
			}
			inv, err := r.src.Resources.Inventory(gctx, member.UserID)
			if err != nil {
				return fmt.Errorf("ledger: inventory for %s: %w", member.UserID, err)
			}
			balance, err := r.src.Balances.Balance(gctx, member.UserID)
			if err != nil {
				return fmt.Errorf("ledger: balance for %s: %w", member.UserID, err)
			}
			missions, err := r.src.Submissions.CountApprovedSince(gctx, member.UserID, member.JoinedAt)
			if err != nil {
				return fmt.Errorf("ledger: missions for %s: %w", member.UserID, err)
			}
			if inv == nil {
				inv = resource.Inventory{}
			}

			reads[i] = memberRead{
				contribution: Contribution{
					XPEarned:          xp,
					Resources:         inv,
					MissionsCompleted: missions,
					TimeInTeamDays:    daysBetween(member.JoinedAt, now),
					PerformanceScore:  float64(missions)*10 + float64(xp)/100,
				},
				tokens: balance,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return TeamAssets{}, err
	}

	assets := emptyAssets()
	for i, member := range members {
		read := reads[i]
		assets.TotalXP += read.contribution.XPEarned
		assets.TotalTokens += read.tokens
		for kind, amount := range read.contribution.Resources {
			assets.TotalResources[kind] += amount
		}
		assets.Contributions[member.UserID] = read.contribution
	}
	return assets, nil
}

func daysBetween(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	return int(to.Sub(from) / (24 * time.Hour))
}
