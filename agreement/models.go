package agreement

// Type classifies how a template splits assets.
type Type string

const (
	TypeEqualSplit        Type = "EQUAL_SPLIT"
	TypeContributionBased Type = "CONTRIBUTION_BASED"
	TypeTimeWeighted      Type = "TIME_WEIGHTED"
	TypePerformanceBased  Type = "PERFORMANCE_BASED"
	TypeCustom            Type = "CUSTOM"
)

// Mechanism is the dispute resolution procedure an agreement prescribes.
type Mechanism string

const (
	MechanismVoting        Mechanism = "VOTING"
	MechanismArbitration   Mechanism = "ARBITRATION"
	MechanismSmartContract Mechanism = "SMART_CONTRACT"
	MechanismHybrid        Mechanism = "HYBRID"
)

func (m Mechanism) Valid() bool {
	switch m {
	case MechanismVoting, MechanismArbitration, MechanismSmartContract, MechanismHybrid:
		return true
	}
	return false
}

// Template is an immutable catalog entry.
type Template struct {
	ID                         string    `yaml:"id" json:"id"`
	Name                       string    `yaml:"name" json:"name"`
	Type                       Type      `yaml:"type" json:"type"`
	Description                string    `yaml:"description" json:"description"`
	XPFormula                  string    `yaml:"xp_formula" json:"xpFormula"`
	ResourceFormula            string    `yaml:"resource_formula" json:"resourceFormula"`
	TokenFormula               string    `yaml:"token_formula" json:"tokenFormula"`
	DisputeResolutionMechanism Mechanism `yaml:"dispute_resolution_mechanism" json:"disputeResolutionMechanism"`
	AutomaticTriggers          []string  `yaml:"automatic_triggers" json:"automaticTriggers"`
}

// Agreement is the template bound to a specific team, with any per-team mechanism override applied.
type Agreement struct {
	ID        string
	Template  Template
	Mechanism Mechanism
}
