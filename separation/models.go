package separation

import (
	"fmt"
	"time"

	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/ledger"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/resource"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/team"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/vote"
)

type Type string

const (
	TypeAmicableSplit  Type = "AMICABLE_SPLIT"
	TypeContestedSplit Type = "CONTESTED_SPLIT"
	TypeFounderExit    Type = "FOUNDER_EXIT"
	TypeMemberRemoval  Type = "MEMBER_REMOVAL"
)

func ParseType(raw string) (Type, error) {
	switch t := Type(raw); t {
	case TypeAmicableSplit, TypeContestedSplit, TypeFounderExit, TypeMemberRemoval:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown separation type %q", ErrInvalidProposal, raw)
}

// Status tracks a proposal from voting through execution.
//
//	PENDING_VOTES -> APPROVED -> EXECUTING -> EXECUTED
//	PENDING_VOTES -> REJECTED
//	EXECUTING -> EXECUTION_FAILED (retryable) | PARTIALLY_EXECUTED
type Status string

const (
	StatusPendingVotes      Status = "PENDING_VOTES"
	StatusApproved          Status = "APPROVED"
	StatusRejected          Status = "REJECTED"
	StatusExecuting         Status = "EXECUTING"
	StatusExecuted          Status = "EXECUTED"
	StatusExecutionFailed   Status = "EXECUTION_FAILED"
	StatusPartiallyExecuted Status = "PARTIALLY_EXECUTED"
)

// SuccessorTeam is a new team formed from members leaving in an amicable split.
type SuccessorTeam struct {
	Name    string        `json:"name"`
	Members []team.UserID `json:"members"`
}

// Distribution is the proposed split of team assets.
type Distribution struct {
	ledger.Allocation
	Equity     map[team.UserID]float64 `json:"equity,omitempty"`
	Successors []SuccessorTeam         `json:"successors,omitempty"`
}

// Results is the snapshot written once when execution finishes.
type Results struct {
	XPDistributed        map[team.UserID]int64                   `json:"xpDistributed"`
	ResourcesDistributed map[team.UserID]map[resource.Type]int64 `json:"resourcesDistributed"`
	TokensDistributed    map[team.UserID]float64                 `json:"tokensDistributed"`
	NewTeamsCreated      []team.TeamID                           `json:"newTeamsCreated"`
	Errors               []string                                `json:"errors,omitempty"`
}

// NewResults returns an empty snapshot with initialized maps.
func NewResults() Results {
	return Results{
		XPDistributed:        map[team.UserID]int64{},
		ResourcesDistributed: map[team.UserID]map[resource.Type]int64{},
		TokensDistributed:    map[team.UserID]float64{},
		NewTeamsCreated:      []team.TeamID{},
	}
}

// Proposal mirrors the team_separations table.
type Proposal struct {
	ID               string               `json:"id"`
	TeamID           team.TeamID          `json:"teamId"`
	ProposedBy       team.UserID          `json:"proposedBy"`
	Type             Type                 `json:"separationType"`
	Distribution     Distribution         `json:"assetDistribution"`
	TimelineDays     int                  `json:"timeline"`
	Status           Status               `json:"status"`
	VotingDeadline   time.Time            `json:"votingDeadline"`
	TermsAcceptance  map[team.UserID]bool `json:"termsAcceptance"`
	DepartingMembers []team.UserID        `json:"departingMembers,omitempty"`
	SuccessorFounder *team.UserID         `json:"successorFounder,omitempty"`
	CreatedAt        time.Time            `json:"createdAt"`
	ExecutedAt       *time.Time           `json:"executedAt,omitempty"`
	ExecutionResults *Results             `json:"executionResults,omitempty"`
}

// Vote mirrors the separation_votes table.
type Vote struct {
	SeparationID string      `json:"separationId"`
	UserID       team.UserID `json:"userId"`
	Choice       vote.Choice `json:"vote"`
	Comments     string      `json:"comments,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

type ProposeParams struct {
	TeamID           team.TeamID
	ProposedBy       team.UserID
	Type             Type
	Distribution     Distribution
	TimelineDays     int
	VotingDeadline   time.Time
	TermsAcceptance  map[team.UserID]bool
	DepartingMembers []team.UserID
	SuccessorFounder *team.UserID
}

// ExecutionResult reports the outcome of running a separation.
type ExecutionResult struct {
	Success      bool    `json:"success"`
	SeparationID string  `json:"separationId"`
	Status       Status  `json:"status"`
	Results      Results `json:"results"`
}

type ProposeResult struct {
	Success        bool             `json:"success"`
	Proposal       Proposal         `json:"proposal"`
	AutoApproved   bool             `json:"autoApproved"`
	RequiresVoting bool             `json:"requiresVoting"`
	Execution      *ExecutionResult `json:"execution,omitempty"`
}

type VoteResult struct {
	Success   bool             `json:"success"`
	Vote      Vote             `json:"vote"`
	Tally     vote.Tally       `json:"tally"`
	Status    Status           `json:"status"`
	Execution *ExecutionResult `json:"execution,omitempty"`
}

// Detail is a proposal with its current vote tally.
type Detail struct {
	Proposal Proposal   `json:"proposal"`
	Tally    vote.Tally `json:"tally"`
}
