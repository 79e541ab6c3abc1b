package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/dispute"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/distribution"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/outbox"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/separation"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/team"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/vote"
)

var choices = []vote.Choice{vote.Approve, vote.Approve, vote.Reject, vote.Abstain}

func stopped(ctx context.Context, stop <-chan struct{}) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-stop:
		return true, nil
	default:
		return false, nil
	}
}

func jitter(base, spread int) {
	time.Sleep(time.Duration(base+rand.Intn(spread)) * time.Millisecond)
}

// DisputeOpener keeps a fresh dispute open on the team so voters always have work.
func DisputeOpener(ctx context.Context, svc *dispute.Service, teamID team.TeamID, initiator team.UserID, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		// failures here come from chaos killing backends; the next tick retries
		_, _ = svc.InitiateDispute(ctx, dispute.InitiateParams{
			TeamID:      teamID,
			InitiatorID: initiator,
			Type:        dispute.TypeDecisionMaking,
			Description: fmt.Sprintf("stress dispute %d", rand.Int63()),
		})
		jitter(150, 100)
	}
}

// DisputeVoter votes on every open dispute of the team. Closed disputes are
// expected under contention because another voter may reach quorum first.
func DisputeVoter(ctx context.Context, svc *dispute.Service, teamID team.TeamID, voter team.UserID, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		items, err := svc.ListDisputes(ctx, teamID)
		if err != nil {
			jitter(20, 30)
			continue
		}
		for _, d := range items {
			if d.Status != dispute.StatusOpen {
				continue
			}
			_, err := svc.VoteOnDispute(ctx, d.ID, voter, choices[rand.Intn(len(choices))], "")
			if errors.Is(err, team.ErrNotATeamMember) {
				return fmt.Errorf("vote on dispute %s: %w", d.ID, err)
			}
		}
		jitter(10, 20)
	}
}

// SeparationVoter approves the proposal until it leaves PENDING_VOTES.
func SeparationVoter(ctx context.Context, svc *separation.Service, separationID string, voter team.UserID, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		_, err := svc.VoteOnSeparation(ctx, separationID, voter, vote.Approve, "")
		switch {
		case err == nil:
		case errors.Is(err, separation.ErrProposalClosed):
			return nil
		case errors.Is(err, distribution.ErrExecutionPartialFailure):
			// chaos aborted the auto-executed run; the proposal stays PARTIALLY_EXECUTED
		case ctx.Err() != nil:
			return ctx.Err()
		}
		jitter(10, 30)
	}
}

// SeparationExecutor races ExecuteSeparation against the voters. Only one
// caller may ever claim the run; everyone else sees ErrNotApproved or ErrAlreadyExecuted.
func SeparationExecutor(ctx context.Context, exec *distribution.Executor, separationID string, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		_, err := exec.ExecuteSeparation(ctx, separationID)
		switch {
		case err == nil:
		case errors.Is(err, distribution.ErrAlreadyExecuted),
			errors.Is(err, distribution.ErrNotApproved),
			errors.Is(err, distribution.ErrExecutionPartialFailure):
		case ctx.Err() != nil:
			return ctx.Err()
		}
		jitter(15, 35)
	}
}

// FlakyPublisher fails roughly one publish in ten.
type FlakyPublisher struct{}

func (FlakyPublisher) Publish(context.Context, outbox.Message) error {
	if rand.Intn(10) == 0 {
		return errors.New("simulated transport failure")
	}
	return nil
}

// OutboxWorker drains the outbox through a relay. Several workers run at once
// and SKIP LOCKED keeps them off each other's rows.
func OutboxWorker(ctx context.Context, relay *outbox.Relay, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		if _, err := relay.DrainOnce(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		jitter(50, 50)
	}
}
