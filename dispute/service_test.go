package dispute

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/agreement"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/outbox"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/team"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/vote"
)

var testNow = time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)

func TestInitiateDisputeVotingMechanism(t *testing.T) {
	svc, repo, notifier := newTestService(t, agreement.MechanismVoting, "a", "b", "c", "d")

	res, err := svc.InitiateDispute(context.Background(), InitiateParams{
		TeamID:      "team-1",
		InitiatorID: "a",
		Type:        TypeResourceAllocation,
		Description: "Unequal split of code points",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if !res.Success || res.Dispute.Status != StatusOpen {
		t.Fatalf("expected open dispute, got %+v", res)
	}
	if !res.Dispute.VotingDeadline.Equal(testNow.Add(7 * 24 * time.Hour)) {
		t.Fatalf("expected 7 day deadline, got %v", res.Dispute.VotingDeadline)
	}
	if len(res.NextSteps) != 2 || res.NextSteps[0] != "Team members have 7 days to vote on the proposed resolution" {
		t.Fatalf("unexpected next steps %v", res.NextSteps)
	}
	if len(repo.disputes) != 1 {
		t.Fatalf("expected dispute persisted")
	}
	if len(notifier.events) != 1 || notifier.events[0] != outbox.EventDisputeInitiated {
		t.Fatalf("expected DISPUTE_INITIATED notification, got %v", notifier.events)
	}
}

func TestInitiateDisputeNextStepsByMechanism(t *testing.T) {
	arbitration, _, _ := newTestService(t, agreement.MechanismArbitration, "a")
	res, err := arbitration.InitiateDispute(context.Background(), InitiateParams{TeamID: "team-1", InitiatorID: "a", Type: TypeEquitySplit, Description: "x"})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if res.NextSteps[0] != "An external arbitrator will be assigned within 48 hours" {
		t.Fatalf("unexpected arbitration steps %v", res.NextSteps)
	}

	none, _, _ := newTestService(t, "", "a")
	res, err = none.InitiateDispute(context.Background(), InitiateParams{TeamID: "team-1", InitiatorID: "a", Type: TypeEquitySplit, Description: "x"})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if res.NextSteps[1] != "The dispute will be resolved within 14 days if no consensus is reached" {
		t.Fatalf("unexpected fallback steps %v", res.NextSteps)
	}
}

func TestInitiateDisputeRejectsNonMember(t *testing.T) {
	svc, repo, notifier := newTestService(t, agreement.MechanismVoting, "a", "b")

	res, err := svc.InitiateDispute(context.Background(), InitiateParams{
		TeamID:      "team-1",
		InitiatorID: "outsider",
		Type:        TypeDecisionMaking,
		Description: "x",
	})
	if !errors.Is(err, team.ErrNotATeamMember) {
		t.Fatalf("expected ErrNotATeamMember, got %v", err)
	}
	if res.Success || len(repo.disputes) != 0 || len(notifier.events) != 0 {
		t.Fatalf("expected no side effects")
	}
}

func TestInitiateDisputeValidatesInput(t *testing.T) {
	svc, _, _ := newTestService(t, agreement.MechanismVoting, "a")

	_, err := svc.InitiateDispute(context.Background(), InitiateParams{TeamID: "team-1", InitiatorID: "a", Type: "NAP_TIME", Description: "x"})
	if !errors.Is(err, ErrInvalidDispute) {
		t.Fatalf("expected ErrInvalidDispute for unknown type, got %v", err)
	}
	_, err = svc.InitiateDispute(context.Background(), InitiateParams{TeamID: "team-1", InitiatorID: "a", Type: TypeDecisionMaking, Description: "  "})
	if !errors.Is(err, ErrInvalidDispute) {
		t.Fatalf("expected ErrInvalidDispute for blank description, got %v", err)
	}
}

func TestInitiateDisputeSurvivesNotifierFailure(t *testing.T) {
	svc, _, notifier := newTestService(t, agreement.MechanismVoting, "a")
	notifier.err = errors.New("outbox unavailable")

	res, err := svc.InitiateDispute(context.Background(), InitiateParams{TeamID: "team-1", InitiatorID: "a", Type: TypeDecisionMaking, Description: "x"})
	if err != nil || !res.Success {
		t.Fatalf("expected success despite notifier failure, got %v", err)
	}
}

func TestVoteOnDisputeTwoApprovalsOfFourResolves(t *testing.T) {
	svc, repo, notifier := newTestService(t, agreement.MechanismVoting, "a", "b", "c", "d")
	id := openDispute(t, svc)

	first, err := svc.VoteOnDispute(context.Background(), id, "a", vote.Approve, "")
	if err != nil {
		t.Fatalf("first vote: %v", err)
	}
	if first.Resolved {
		t.Fatalf("one of four votes must not resolve")
	}

	second, err := svc.VoteOnDispute(context.Background(), id, "b", vote.Approve, "agreed")
	if err != nil {
		t.Fatalf("second vote: %v", err)
	}
	if !second.Resolved || second.Status != StatusApproved {
		t.Fatalf("expected APPROVED resolution, got %+v", second)
	}
	if repo.disputes[id].ResolvedAt == nil {
		t.Fatalf("expected resolved_at stamped")
	}
	if notifier.count(outbox.EventDisputeResolved) != 1 {
		t.Fatalf("expected one DISPUTE_RESOLVED notification")
	}
}

func TestVoteOnDisputeTieRejects(t *testing.T) {
	svc, _, _ := newTestService(t, agreement.MechanismVoting, "a", "b", "c", "d")
	id := openDispute(t, svc)

	if _, err := svc.VoteOnDispute(context.Background(), id, "a", vote.Approve, ""); err != nil {
		t.Fatalf("vote: %v", err)
	}
	res, err := svc.VoteOnDispute(context.Background(), id, "b", vote.Reject, "")
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if !res.Resolved || res.Status != StatusRejected {
		t.Fatalf("expected tie to reject, got %+v", res)
	}
}

func TestVoteOnDisputeAfterResolutionFails(t *testing.T) {
	svc, repo, _ := newTestService(t, agreement.MechanismVoting, "a", "b", "c", "d")
	id := openDispute(t, svc)
	mustVote(t, svc, id, "a", vote.Approve)
	mustVote(t, svc, id, "b", vote.Approve)

	res, err := svc.VoteOnDispute(context.Background(), id, "c", vote.Reject, "")
	if !errors.Is(err, ErrDisputeClosed) {
		t.Fatalf("expected ErrDisputeClosed, got %v", err)
	}
	if res.Success {
		t.Fatalf("expected unsuccessful result")
	}
	if repo.disputes[id].Status != StatusApproved {
		t.Fatalf("status must stay APPROVED")
	}
	if len(repo.votes[id]) != 2 {
		t.Fatalf("late vote must not be recorded")
	}
}

func TestVoteOnDisputeRevoteOverwrites(t *testing.T) {
	svc, repo, _ := newTestService(t, agreement.MechanismVoting, "a", "b", "c", "d", "e", "f")
	id := openDispute(t, svc)

	mustVote(t, svc, id, "a", vote.Approve)
	res, err := svc.VoteOnDispute(context.Background(), id, "a", vote.Reject, "changed my mind")
	if err != nil {
		t.Fatalf("revote: %v", err)
	}
	if res.Tally.Total() != 1 || res.Tally.Reject != 1 {
		t.Fatalf("expected a single overwritten ballot, got %+v", res.Tally)
	}
	if repo.votes[id]["a"].Comments != "changed my mind" {
		t.Fatalf("expected comments overwritten")
	}
}

func TestVoteOnDisputeRejectsNonMemberAndMissing(t *testing.T) {
	svc, _, _ := newTestService(t, agreement.MechanismVoting, "a", "b")
	id := openDispute(t, svc)

	if _, err := svc.VoteOnDispute(context.Background(), id, "outsider", vote.Approve, ""); !errors.Is(err, team.ErrNotATeamMember) {
		t.Fatalf("expected ErrNotATeamMember, got %v", err)
	}
	if _, err := svc.VoteOnDispute(context.Background(), "missing", "a", vote.Approve, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVoteOnDisputeConcurrentVotersResolveOnce(t *testing.T) {
	members := []team.UserID{"a", "b", "c", "d", "e", "f", "g", "h"}
	svc, repo, notifier := newTestService(t, agreement.MechanismVoting, members...)
	id := openDispute(t, svc)

	var (
		mu       sync.Mutex
		resolved int
	)
	g, ctx := errgroup.WithContext(context.Background())
	for _, m := range members {
		m := m
		g.Go(func() error {
			res, err := svc.VoteOnDispute(ctx, id, m, vote.Approve, "")
			if err != nil && !errors.Is(err, ErrDisputeClosed) {
				return err
			}
			if res.Resolved {
				mu.Lock()
				resolved++
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent votes: %v", err)
	}

	if resolved != 1 {
		t.Fatalf("expected exactly one resolving caller, got %d", resolved)
	}
	if notifier.count(outbox.EventDisputeResolved) != 1 {
		t.Fatalf("expected one DISPUTE_RESOLVED notification, got %d", notifier.count(outbox.EventDisputeResolved))
	}
	if repo.disputes[id].Status != StatusApproved {
		t.Fatalf("expected APPROVED, got %s", repo.disputes[id].Status)
	}
}

func TestGetDisputeIncludesTally(t *testing.T) {
	svc, _, _ := newTestService(t, agreement.MechanismVoting, "a", "b", "c", "d")
	id := openDispute(t, svc)
	mustVote(t, svc, id, "a", vote.Abstain)

	detail, err := svc.GetDispute(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if detail.Tally.Abstain != 1 || detail.Dispute.ID != id {
		t.Fatalf("unexpected detail %+v", detail)
	}

	list, err := svc.ListDisputes(context.Background(), "team-1")
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one dispute listed, got %d (%v)", len(list), err)
	}
}

func newTestService(t *testing.T, mechanism agreement.Mechanism, members ...team.UserID) (*Service, *fakeRepo, *fakeNotifier) {
	t.Helper()
	repo := newFakeRepo()
	notifier := &fakeNotifier{}
	seq := 0
	svc := NewService(repo, newFakeMembers("team-1", members...), fakeAgreements{mechanism: mechanism}, notifier, zerolog.Nop()).
		WithClock(func() time.Time { return testNow }).
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("dispute-%d", seq)
		})
	return svc, repo, notifier
}

func openDispute(t *testing.T, svc *Service) string {
	t.Helper()
	res, err := svc.InitiateDispute(context.Background(), InitiateParams{
		TeamID:      "team-1",
		InitiatorID: "a",
		Type:        TypeBreachOfAgreement,
		Description: "Missed three milestones",
	})
	if err != nil {
		t.Fatalf("open dispute: %v", err)
	}
	return res.Dispute.ID
}

func mustVote(t *testing.T, svc *Service, id string, user team.UserID, choice vote.Choice) {
	t.Helper()
	if _, err := svc.VoteOnDispute(context.Background(), id, user, choice, ""); err != nil {
		t.Fatalf("vote %s: %v", user, err)
	}
}

type fakeRepo struct {
	mu       sync.Mutex
	disputes map[string]Dispute
	votes    map[string]map[team.UserID]Vote
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{disputes: map[string]Dispute{}, votes: map[string]map[team.UserID]Vote{}}
}

func (f *fakeRepo) Create(_ context.Context, d Dispute) (Dispute, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d.CreatedAt = testNow
	f.disputes[d.ID] = d
	return d, nil
}

func (f *fakeRepo) Get(_ context.Context, id string) (Dispute, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.disputes[id]
	if !ok {
		return Dispute{}, ErrNotFound
	}
	return d, nil
}

func (f *fakeRepo) ListByTeam(_ context.Context, teamID team.TeamID) ([]Dispute, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Dispute
	for _, d := range f.disputes {
		if d.TeamID == teamID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeRepo) UpsertVote(_ context.Context, v Vote) (Vote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.disputes[v.DisputeID]
	if !ok || d.Status != StatusOpen {
		return Vote{}, ErrDisputeClosed
	}
	if f.votes[v.DisputeID] == nil {
		f.votes[v.DisputeID] = map[team.UserID]Vote{}
	}
	f.votes[v.DisputeID][v.UserID] = v
	return v, nil
}

func (f *fakeRepo) Tally(_ context.Context, disputeID string) (vote.Tally, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var t vote.Tally
	for _, v := range f.votes[disputeID] {
		switch v.Choice {
		case vote.Approve:
			t.Approve++
		case vote.Reject:
			t.Reject++
		case vote.Abstain:
			t.Abstain++
		}
	}
	return t, nil
}

func (f *fakeRepo) Resolve(_ context.Context, id string, status Status) (Dispute, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.disputes[id]
	if !ok {
		return Dispute{}, false, ErrNotFound
	}
	if d.Status != StatusOpen {
		return d, false, nil
	}
	resolvedAt := testNow
	d.Status = status
	d.ResolvedAt = &resolvedAt
	f.disputes[id] = d
	return d, true, nil
}

type fakeMembers struct {
	teamID  team.TeamID
	members []team.Member
}

func newFakeMembers(teamID team.TeamID, ids ...team.UserID) *fakeMembers {
	fm := &fakeMembers{teamID: teamID}
	for i, id := range ids {
		fm.members = append(fm.members, team.Member{
			TeamID:   teamID,
			UserID:   id,
			Status:   team.MemberActive,
			JoinedAt: testNow.Add(-time.Duration(len(ids)-i) * 24 * time.Hour),
		})
	}
	return fm
}

func (f *fakeMembers) ActiveMember(_ context.Context, teamID team.TeamID, userID team.UserID) (team.Member, error) {
	if teamID != f.teamID {
		return team.Member{}, team.ErrNotATeamMember
	}
	for _, m := range f.members {
		if m.UserID == userID {
			return m, nil
		}
	}
	return team.Member{}, team.ErrNotATeamMember
}

func (f *fakeMembers) ActiveMembers(_ context.Context, teamID team.TeamID) ([]team.Member, error) {
	if teamID != f.teamID {
		return nil, nil
	}
	return f.members, nil
}

type fakeAgreements struct {
	mechanism agreement.Mechanism
}

func (f fakeAgreements) ForTeam(context.Context, team.TeamID) (agreement.Agreement, error) {
	if f.mechanism == "" {
		return agreement.Agreement{}, agreement.ErrNotFound
	}
	return agreement.Agreement{ID: "ag-1", Mechanism: f.mechanism}, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []outbox.EventType
	err    error
}

func (f *fakeNotifier) Notify(_ context.Context, _ team.TeamID, event outbox.EventType, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeNotifier) count(event outbox.EventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == event {
			n++
		}
	}
	return n
}
