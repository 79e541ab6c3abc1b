package dispute

import (
	"fmt"
	"time"

	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/team"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/vote"
)

// Status represents the lifecycle of a dispute record. OPEN moves to a
// terminal state exactly once.
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

type Type string

const (
	TypeResourceAllocation Type = "RESOURCE_ALLOCATION"
	TypeDecisionMaking     Type = "DECISION_MAKING"
	TypeEquitySplit        Type = "EQUITY_SPLIT"
	TypeTeamSeparation     Type = "TEAM_SEPARATION"
	TypeBreachOfAgreement  Type = "BREACH_OF_AGREEMENT"
)

// ParseType validates raw as a dispute type.
func ParseType(raw string) (Type, error) {
	switch t := Type(raw); t {
	case TypeResourceAllocation, TypeDecisionMaking, TypeEquitySplit, TypeTeamSeparation, TypeBreachOfAgreement:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown dispute type %q", ErrInvalidDispute, raw)
}

// Dispute mirrors the team_disputes table.
type Dispute struct {
	ID                 string        `json:"id"`
	TeamID             team.TeamID   `json:"teamId"`
	InitiatorID        team.UserID   `json:"initiatorId"`
	Type               Type          `json:"disputeType"`
	Description        string        `json:"description"`
	ProposedResolution string        `json:"proposedResolution"`
	Status             Status        `json:"status"`
	EvidenceURLs       []string      `json:"evidenceUrls"`
	AffectedMembers    []team.UserID `json:"affectedMembers"`
	CreatedAt          time.Time     `json:"createdAt"`
	VotingDeadline     time.Time     `json:"votingDeadline"`
	ResolvedAt         *time.Time    `json:"resolvedAt,omitempty"`
}

// Vote mirrors the dispute_votes table. One row per (dispute, user).
type Vote struct {
	DisputeID string      `json:"disputeId"`
	UserID    team.UserID `json:"userId"`
	Choice    vote.Choice `json:"vote"`
	Comments  string      `json:"comments,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

type InitiateParams struct {
	TeamID             team.TeamID
	InitiatorID        team.UserID
	Type               Type
	Description        string
	ProposedResolution string
	EvidenceURLs       []string
	AffectedMembers    []team.UserID
}

type InitiateResult struct {
	Success   bool     `json:"success"`
	Dispute   Dispute  `json:"dispute"`
	NextSteps []string `json:"nextSteps"`
}

type VoteResult struct {
	Success  bool       `json:"success"`
	Vote     Vote       `json:"vote"`
	Tally    vote.Tally `json:"tally"`
	Resolved bool       `json:"resolved"`
	Status   Status     `json:"status"`
}

// Detail is a dispute with its current vote tally.
type Detail struct {
	Dispute Dispute    `json:"dispute"`
	Tally   vote.Tally `json:"tally"`
}
