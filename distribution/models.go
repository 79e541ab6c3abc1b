package distribution

import (
	"time"

	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/resource"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/separation"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/team"
)

type StepKind string

const (
	StepXP       StepKind = "XP"
	StepResource StepKind = "RESOURCE"
	StepToken    StepKind = "TOKEN"
)

type StepStatus string

const (
	StepApplied            StepStatus = "APPLIED"
	StepCompensated        StepStatus = "COMPENSATED"
	StepCompensationFailed StepStatus = "COMPENSATION_FAILED"
)

// Step is one journaled credit in the separation_steps table.
type Step struct {
	SeparationID string
	Attempt      int
	Seq          int
	Kind         StepKind
	UserID       team.UserID
	ResourceType resource.Type
	Units        int64
	Tokens       float64
	// Reference holds the token transaction id for TOKEN steps.
	Reference     string
	Status        StepStatus
	AppliedAt     time.Time
	CompensatedAt *time.Time
}

// Claim is the outcome of trying to move a proposal into EXECUTING.
type Claim struct {
	Proposal separation.Proposal
	Attempt  int
	Claimed  bool
}
