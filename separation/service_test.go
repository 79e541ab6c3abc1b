package separation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/ledger"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/outbox"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/resource"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/team"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/vote"
)

var testNow = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func TestProposeSeparationAutoApprovesWhenAllAccept(t *testing.T) {
	h := newHarness(t, "a", "b", "c")

	res, err := h.svc.ProposeSeparation(context.Background(), ProposeParams{
		TeamID:          "team-1",
		ProposedBy:      "a",
		Type:            TypeContestedSplit,
		Distribution:    Distribution{Allocation: ledger.Allocation{XP: map[team.UserID]int64{"a": 400, "b": 300, "c": 300}}},
		TermsAcceptance: map[team.UserID]bool{"a": true, "b": true, "c": true},
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if !res.Success || !res.AutoApproved || res.RequiresVoting {
		t.Fatalf("expected auto approval, got %+v", res)
	}
	if h.exec.calls != 1 {
		t.Fatalf("expected executor called once, got %d", h.exec.calls)
	}
	if res.Execution == nil || res.Execution.Status != StatusExecuted {
		t.Fatalf("expected executed outcome, got %+v", res.Execution)
	}
	if h.repo.proposals[res.Proposal.ID].Status != StatusApproved {
		t.Fatalf("expected stored status APPROVED before executor ran, got %s", h.repo.proposals[res.Proposal.ID].Status)
	}
	if h.notifier.count(outbox.EventSeparationProposed) != 0 {
		t.Fatalf("auto approval must not ask for votes")
	}
}

func TestProposeSeparationMemberRemovalAlwaysRequiresVoting(t *testing.T) {
	h := newHarness(t, "a", "b", "c")

	res, err := h.svc.ProposeSeparation(context.Background(), ProposeParams{
		TeamID:           "team-1",
		ProposedBy:       "a",
		Type:             TypeMemberRemoval,
		DepartingMembers: []team.UserID{"c"},
		TermsAcceptance:  map[team.UserID]bool{"a": true, "b": true, "c": true},
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if res.AutoApproved || !res.RequiresVoting || res.Proposal.Status != StatusPendingVotes {
		t.Fatalf("expected voting to be required, got %+v", res)
	}
	if h.exec.calls != 0 {
		t.Fatalf("executor must not run")
	}
	if h.notifier.count(outbox.EventSeparationProposed) != 1 {
		t.Fatalf("expected SEPARATION_PROPOSED notification")
	}
}

func TestProposeSeparationMissingAcceptanceRequiresVoting(t *testing.T) {
	h := newHarness(t, "a", "b", "c")

	res, err := h.svc.ProposeSeparation(context.Background(), ProposeParams{
		TeamID:          "team-1",
		ProposedBy:      "a",
		Type:            TypeContestedSplit,
		TermsAcceptance: map[team.UserID]bool{"a": true, "b": true, "c": false},
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if !res.RequiresVoting || h.exec.calls != 0 {
		t.Fatalf("expected voting path, got %+v", res)
	}
	if !res.Proposal.VotingDeadline.Equal(testNow.Add(DefaultVotingPeriod)) {
		t.Fatalf("expected default deadline, got %v", res.Proposal.VotingDeadline)
	}
}

func TestProposeSeparationRejectsOverAllocationWithoutPersisting(t *testing.T) {
	h := newHarness(t, "a", "b")
	h.assets.assets = ledger.TeamAssets{TotalXP: 1000}

	_, err := h.svc.ProposeSeparation(context.Background(), ProposeParams{
		TeamID:       "team-1",
		ProposedBy:   "a",
		Type:         TypeContestedSplit,
		Distribution: Distribution{Allocation: ledger.Allocation{XP: map[team.UserID]int64{"a": 600, "b": 501}}},
	})
	if !errors.Is(err, ledger.ErrInvalidDistribution) {
		t.Fatalf("expected ErrInvalidDistribution, got %v", err)
	}
	if len(h.repo.proposals) != 0 {
		t.Fatalf("invalid proposal must not be stored")
	}

	res, err := h.svc.ProposeSeparation(context.Background(), ProposeParams{
		TeamID:       "team-1",
		ProposedBy:   "a",
		Type:         TypeContestedSplit,
		Distribution: Distribution{Allocation: ledger.Allocation{XP: map[team.UserID]int64{"a": 600, "b": 500}}},
	})
	if err != nil || !res.Success {
		t.Fatalf("expected 1100 of 1000 to be accepted, got %v", err)
	}
}

func TestProposeSeparationValidatesAllocations(t *testing.T) {
	cases := []struct {
		name string
		dist Distribution
	}{
		{"negative xp", Distribution{Allocation: ledger.Allocation{XP: map[team.UserID]int64{"a": -1}}}},
		{"outsider recipient", Distribution{Allocation: ledger.Allocation{Tokens: map[team.UserID]float64{"zed": 1}}}},
		{"malformed resource", Distribution{Allocation: ledger.Allocation{Resources: map[team.UserID]map[resource.Type]int64{"a": {"code points": 1}}}}},
		{"equity short", Distribution{Equity: map[team.UserID]float64{"a": 50, "b": 49}}},
		{"xp overflow", Distribution{Allocation: ledger.Allocation{XP: map[team.UserID]int64{"a": 922337203685477581}}}},
		{"xp sum overflow", Distribution{Allocation: ledger.Allocation{XP: map[team.UserID]int64{"a": math.MaxInt64, "b": 2}}}},
		{"resource overflow", Distribution{Allocation: ledger.Allocation{Resources: map[team.UserID]map[resource.Type]int64{
			"a": {resource.CodePoints: math.MaxInt64},
			"b": {resource.CodePoints: 2},
		}}}},
	}
	for _, tc := range cases {
		h := newHarness(t, "a", "b")
		_, err := h.svc.ProposeSeparation(context.Background(), ProposeParams{
			TeamID:       "team-1",
			ProposedBy:   "a",
			Type:         TypeContestedSplit,
			Distribution: tc.dist,
		})
		if !errors.Is(err, ledger.ErrInvalidDistribution) {
			t.Fatalf("%s: expected ErrInvalidDistribution, got %v", tc.name, err)
		}
		if len(h.repo.proposals) != 0 {
			t.Fatalf("%s: nothing should be stored", tc.name)
		}
	}
}

func TestProposeSeparationEquityWithinTolerance(t *testing.T) {
	h := newHarness(t, "a", "b", "c")
	_, err := h.svc.ProposeSeparation(context.Background(), ProposeParams{
		TeamID:       "team-1",
		ProposedBy:   "a",
		Type:         TypeContestedSplit,
		Distribution: Distribution{Equity: map[team.UserID]float64{"a": 33.33, "b": 33.33, "c": 33.335}},
	})
	if err != nil {
		t.Fatalf("expected equity within tolerance to pass, got %v", err)
	}
}

func TestProposeSeparationRejectsNonMember(t *testing.T) {
	h := newHarness(t, "a", "b")
	_, err := h.svc.ProposeSeparation(context.Background(), ProposeParams{TeamID: "team-1", ProposedBy: "zed", Type: TypeContestedSplit})
	if !errors.Is(err, team.ErrNotATeamMember) {
		t.Fatalf("expected ErrNotATeamMember, got %v", err)
	}
}

func TestProposeSeparationStructuralRules(t *testing.T) {
	h := newHarness(t, "a", "b")

	_, err := h.svc.ProposeSeparation(context.Background(), ProposeParams{TeamID: "team-1", ProposedBy: "a", Type: TypeMemberRemoval})
	if !errors.Is(err, ErrInvalidProposal) {
		t.Fatalf("expected ErrInvalidProposal without departing members, got %v", err)
	}

	_, err = h.svc.ProposeSeparation(context.Background(), ProposeParams{
		TeamID:       "team-1",
		ProposedBy:   "a",
		Type:         TypeAmicableSplit,
		Distribution: Distribution{Successors: []SuccessorTeam{{Name: "Spinout", Members: []team.UserID{"b"}}, {Name: "Other", Members: []team.UserID{"b"}}}},
	})
	if !errors.Is(err, ErrInvalidProposal) {
		t.Fatalf("expected ErrInvalidProposal for double assignment, got %v", err)
	}

	res, err := h.svc.ProposeSeparation(context.Background(), ProposeParams{TeamID: "team-1", ProposedBy: "b", Type: TypeFounderExit})
	if err != nil {
		t.Fatalf("founder exit: %v", err)
	}
	if len(res.Proposal.DepartingMembers) != 1 || res.Proposal.DepartingMembers[0] != "a" {
		t.Fatalf("expected current founder to be departing, got %v", res.Proposal.DepartingMembers)
	}
}

func TestVoteOnSeparationApprovesAndExecutes(t *testing.T) {
	h := newHarness(t, "a", "b", "c", "d")
	id := h.pending(t)

	first, err := h.svc.VoteOnSeparation(context.Background(), id, "a", vote.Approve, "")
	if err != nil || first.Status != StatusPendingVotes {
		t.Fatalf("first vote: %+v (%v)", first, err)
	}
	second, err := h.svc.VoteOnSeparation(context.Background(), id, "b", vote.Approve, "")
	if err != nil {
		t.Fatalf("second vote: %v", err)
	}
	if second.Execution == nil || second.Status != StatusExecuted {
		t.Fatalf("expected execution after quorum, got %+v", second)
	}
	if h.exec.calls != 1 {
		t.Fatalf("expected one execution, got %d", h.exec.calls)
	}

	if _, err := h.svc.VoteOnSeparation(context.Background(), id, "c", vote.Reject, ""); !errors.Is(err, ErrProposalClosed) {
		t.Fatalf("expected ErrProposalClosed after approval, got %v", err)
	}
}

func TestVoteOnSeparationTieRejects(t *testing.T) {
	h := newHarness(t, "a", "b", "c", "d")
	id := h.pending(t)

	if _, err := h.svc.VoteOnSeparation(context.Background(), id, "a", vote.Approve, ""); err != nil {
		t.Fatalf("vote: %v", err)
	}
	res, err := h.svc.VoteOnSeparation(context.Background(), id, "b", vote.Reject, "")
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if res.Status != StatusRejected || h.exec.calls != 0 {
		t.Fatalf("expected rejection without execution, got %+v", res)
	}
}

func TestVoteOnSeparationSurfacesExecutionFailure(t *testing.T) {
	h := newHarness(t, "a", "b")
	h.exec.err = errors.New("resource service down")
	id := h.pending(t)

	res, err := h.svc.VoteOnSeparation(context.Background(), id, "a", vote.Approve, "")
	if err == nil || res.Success {
		t.Fatalf("expected failure to surface, got %+v", res)
	}
	if res.Execution == nil || res.Execution.Status != StatusExecutionFailed {
		t.Fatalf("expected failed execution outcome, got %+v", res.Execution)
	}
}

func TestGetProposal(t *testing.T) {
	h := newHarness(t, "a", "b", "c", "d")
	id := h.pending(t)
	if _, err := h.svc.VoteOnSeparation(context.Background(), id, "c", vote.Abstain, "later"); err != nil {
		t.Fatalf("vote: %v", err)
	}

	detail, err := h.svc.GetProposal(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if detail.Tally.Abstain != 1 || detail.Proposal.ID != id {
		t.Fatalf("unexpected detail %+v", detail)
	}
	if _, err := h.svc.GetProposal(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type harness struct {
	svc      *Service
	repo     *fakeRepo
	assets   *fakeLedger
	exec     *fakeExecutor
	notifier *fakeNotifier
}

func newHarness(t *testing.T, members ...team.UserID) *harness {
	t.Helper()
	h := &harness{
		repo:     newFakeRepo(),
		assets:   &fakeLedger{assets: ledger.TeamAssets{TotalXP: 1000, TotalTokens: 3000, TotalResources: resource.Inventory{resource.CodePoints: 100}}},
		notifier: &fakeNotifier{},
	}
	h.exec = &fakeExecutor{repo: h.repo}

	active := make([]team.Member, 0, len(members))
	for i, id := range members {
		role := team.RoleDeveloper
		if i == 0 {
			role = team.RoleFounder
		}
		active = append(active, team.Member{
			TeamID:   "team-1",
			UserID:   id,
			Role:     role,
			Status:   team.MemberActive,
			JoinedAt: testNow.Add(-time.Duration(len(members)-i) * 24 * time.Hour),
		})
	}

	seq := 0
	h.svc = NewService(h.repo, fakeMembers(active), h.assets, h.exec, h.notifier, zerolog.Nop()).
		WithClock(func() time.Time { return testNow }).
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("sep-%d", seq)
		})
	return h
}

func (h *harness) pending(t *testing.T) string {
	t.Helper()
	res, err := h.svc.ProposeSeparation(context.Background(), ProposeParams{
		TeamID:       "team-1",
		ProposedBy:   "a",
		Type:         TypeContestedSplit,
		Distribution: Distribution{Allocation: ledger.Allocation{XP: map[team.UserID]int64{"a": 100}}},
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if !res.RequiresVoting {
		t.Fatalf("expected pending proposal")
	}
	return res.Proposal.ID
}

type fakeRepo struct {
	mu        sync.Mutex
	proposals map[string]Proposal
	votes     map[string]map[team.UserID]Vote
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{proposals: map[string]Proposal{}, votes: map[string]map[team.UserID]Vote{}}
}

func (f *fakeRepo) Create(_ context.Context, p Proposal) (Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.CreatedAt = testNow
	f.proposals[p.ID] = p
	return p, nil
}

func (f *fakeRepo) Get(_ context.Context, id string) (Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proposals[id]
	if !ok {
		return Proposal{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeRepo) UpsertVote(_ context.Context, v Vote) (Vote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proposals[v.SeparationID]
	if !ok || p.Status != StatusPendingVotes {
		return Vote{}, ErrProposalClosed
	}
	if f.votes[v.SeparationID] == nil {
		f.votes[v.SeparationID] = map[team.UserID]Vote{}
	}
	f.votes[v.SeparationID][v.UserID] = v
	return v, nil
}

func (f *fakeRepo) Tally(_ context.Context, id string) (vote.Tally, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var t vote.Tally
	for _, v := range f.votes[id] {
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

func (f *fakeRepo) Transition(_ context.Context, id string, from, to Status) (Proposal, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proposals[id]
	if !ok {
		return Proposal{}, false, ErrNotFound
	}
	if p.Status != from {
		return p, false, nil
	}
	p.Status = to
	f.proposals[id] = p
	return p, true, nil
}

type fakeMembers []team.Member

func (f fakeMembers) ActiveMember(_ context.Context, teamID team.TeamID, userID team.UserID) (team.Member, error) {
	for _, m := range f {
		if m.TeamID == teamID && m.UserID == userID {
			return m, nil
		}
	}
	return team.Member{}, team.ErrNotATeamMember
}

func (f fakeMembers) ActiveMembers(context.Context, team.TeamID) ([]team.Member, error) {
	return f, nil
}

type fakeLedger struct {
	assets ledger.TeamAssets
}

func (f *fakeLedger) CalculateTeamAssets(context.Context, team.TeamID) ledger.TeamAssets {
	return f.assets
}

type fakeExecutor struct {
	repo  *fakeRepo
	calls int
	err   error
}

func (f *fakeExecutor) ExecuteSeparation(_ context.Context, id string) (ExecutionResult, error) {
	f.calls++
	if f.err != nil {
		return ExecutionResult{SeparationID: id, Status: StatusExecutionFailed, Results: NewResults()}, f.err
	}
	return ExecutionResult{Success: true, SeparationID: id, Status: StatusExecuted, Results: NewResults()}, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []outbox.EventType
}

func (f *fakeNotifier) Notify(_ context.Context, _ team.TeamID, event outbox.EventType, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
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
