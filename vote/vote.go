// Package vote holds the ballot choices and quorum rules shared by disputes
// and separation proposals.
package vote

import (
	"errors"
	"fmt"
)

// ErrInvalidChoice signals a ballot value other than APPROVE, REJECT or ABSTAIN.
var ErrInvalidChoice = errors.New("vote: invalid choice")

type Choice string

const (
	Approve Choice = "APPROVE"
	Reject  Choice = "REJECT"
	Abstain Choice = "ABSTAIN"
)

// ParseChoice validates raw as a ballot choice.
func ParseChoice(raw string) (Choice, error) {
	switch c := Choice(raw); c {
	case Approve, Reject, Abstain:
		return c, nil
	}
	return "", fmt.Errorf("%w %q", ErrInvalidChoice, raw)
}

// Tally counts ballots cast on one subject.
type Tally struct {
	Approve int `json:"approve"`
	Reject  int `json:"reject"`
	Abstain int `json:"abstain"`
}

func (t Tally) Total() int {
	return t.Approve + t.Reject + t.Abstain
}

// Outcome is the result of applying quorum and majority rules to a tally.
type Outcome string

const (
	Pending  Outcome = "PENDING"
	Approved Outcome = "APPROVED"
	Rejected Outcome = "REJECTED"
)

// Required returns the ballots needed for quorum: half the active members, rounded up.
func Required(activeMembers int) int {
	return (activeMembers + 1) / 2
}

// Decide applies the quorum and simple majority rules. Abstentions count
// toward quorum only and ties reject.
func Decide(t Tally, activeMembers int) Outcome {
	if t.Total() < Required(activeMembers) {
		return Pending
	}
	if t.Approve > t.Reject {
		return Approved
	}
	return Rejected
}
