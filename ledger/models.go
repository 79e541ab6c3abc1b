package ledger

import (
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/resource"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/team"
)

// Contribution summarizes what one member brought to the team.
type Contribution struct {
	XPEarned          int64
	Resources         resource.Inventory
	MissionsCompleted int
	TimeInTeamDays    int
	PerformanceScore  float64
}

// TeamAssets is the pooled holdings of a team's active members.
type TeamAssets struct {
	TotalXP        int64
	TotalResources resource.Inventory
	TotalTokens    float64
	Contributions  map[team.UserID]Contribution
}

// Allocation is the per-member split of XP, resources and tokens.
type Allocation struct {
	XP        map[team.UserID]int64                   `json:"xp"`
	Resources map[team.UserID]map[resource.Type]int64 `json:"resources"`
	Tokens    map[team.UserID]float64                 `json:"tokens"`
}

func emptyAssets() TeamAssets {
	return TeamAssets{
		TotalResources: resource.Inventory{},
		Contributions:  map[team.UserID]Contribution{},
	}
}
