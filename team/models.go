package team

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UserID identifies a platform user. Values are canonical UUID strings.
type UserID string

// TeamID identifies a team. Values are canonical UUID strings.
type TeamID string

// ParseUserID validates raw and returns it in canonical form.
func ParseUserID(raw string) (UserID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("team: invalid user id %q: %w", raw, err)
	}
	return UserID(id.String()), nil
}

// ParseTeamID validates raw and returns it in canonical form.
func ParseTeamID(raw string) (TeamID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("team: invalid team id %q: %w", raw, err)
	}
	return TeamID(id.String()), nil
}

type Role string

const (
	RoleFounder   Role = "founder"
	RoleCoFounder Role = "co_founder"
	RoleDeveloper Role = "developer"
	RoleDesigner  Role = "designer"
	RoleMarketer  Role = "marketer"
	RoleAdvisor   Role = "advisor"
)

// MemberStatus represents the lifecycle of a team membership row.
type MemberStatus string

const (
	MemberActive  MemberStatus = "ACTIVE"
	MemberRemoved MemberStatus = "REMOVED"
	MemberLeft    MemberStatus = "LEFT"
)

// Member mirrors the team_members table.
type Member struct {
	TeamID   TeamID
	UserID   UserID
	Role     Role
	Status   MemberStatus
	JoinedAt time.Time
}

// Team mirrors the teams table.
type Team struct {
	ID           TeamID
	Name         string
	AgreementID  *string
	ParentTeamID *TeamID
	CreatedAt    time.Time
}

// CreateParams enumerates the writes needed to found a team with its first members.
// The first entry in Members becomes the founder.
type CreateParams struct {
	Name         string
	ParentTeamID *TeamID
	AgreementID  *string
	Members      []UserID
}

// ActiveIDs returns the user ids of members, preserving order.
func ActiveIDs(members []Member) []UserID {
	out := make([]UserID, 0, len(members))
	for _, m := range members {
		if m.Status == MemberActive {
			out = append(out, m.UserID)
		}
	}
	return out
}
