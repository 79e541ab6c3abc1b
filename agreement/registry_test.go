package agreement

import (
	"context"
	"errors"
	"testing"

	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/team"
)

func TestDefaultCatalogHasFourTemplates(t *testing.T) {
	catalog, err := DefaultCatalog()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	want := map[string]Mechanism{
		"equal_split":        MechanismVoting,
		"contribution_based": MechanismHybrid,
		"time_weighted":      MechanismSmartContract,
		"performance_based":  MechanismArbitration,
	}
	templates := catalog.Templates()
	if len(templates) != len(want) {
		t.Fatalf("expected %d templates, got %d", len(want), len(templates))
	}
	if templates[0].ID != "equal_split" {
		t.Fatalf("expected catalog order preserved, first is %q", templates[0].ID)
	}
	for _, tmpl := range templates {
		if want[tmpl.ID] != tmpl.DisputeResolutionMechanism {
			t.Fatalf("template %s: expected %s, got %s", tmpl.ID, want[tmpl.ID], tmpl.DisputeResolutionMechanism)
		}
		if tmpl.XPFormula == "" || len(tmpl.AutomaticTriggers) == 0 {
			t.Fatalf("template %s missing formula or triggers", tmpl.ID)
		}
	}
}

func TestTemplatesReturnsCopies(t *testing.T) {
	catalog, err := DefaultCatalog()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	first := catalog.Templates()
	first[0].AutomaticTriggers[0] = "mutated"

	again := catalog.Templates()
	if again[0].AutomaticTriggers[0] != "unanimous_vote" {
		t.Fatalf("catalog mutated through returned slice")
	}
}

func TestParseCatalogRejectsUnknownMechanism(t *testing.T) {
	_, err := ParseCatalogYAML([]byte("templates:\n  - id: odd\n    dispute_resolution_mechanism: DUEL\n"))
	if err == nil {
		t.Fatalf("expected error for unknown mechanism")
	}
	if _, err := ParseCatalogYAML([]byte("  ")); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}

func TestForTeamAppliesOverride(t *testing.T) {
	catalog, _ := DefaultCatalog()
	arbitration := "ARBITRATION"
	reg := NewRegistry(catalog, fakeLookup{refs: map[team.TeamID]team.AgreementRef{
		"t-1": {AgreementID: "a-1", TemplateID: "equal_split"},
		"t-2": {AgreementID: "a-2", TemplateID: "equal_split", MechanismOverride: &arbitration},
		"t-3": {AgreementID: "a-3", TemplateID: "gone"},
	}})

	got, err := reg.ForTeam(context.Background(), "t-1")
	if err != nil || got.Mechanism != MechanismVoting {
		t.Fatalf("expected VOTING, got %v (%v)", got.Mechanism, err)
	}
	got, err = reg.ForTeam(context.Background(), "t-2")
	if err != nil || got.Mechanism != MechanismArbitration {
		t.Fatalf("expected override ARBITRATION, got %v (%v)", got.Mechanism, err)
	}
	if _, err := reg.ForTeam(context.Background(), "t-3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown template, got %v", err)
	}
	if _, err := reg.ForTeam(context.Background(), "t-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for team without agreement, got %v", err)
	}
}

type fakeLookup struct {
	refs map[team.TeamID]team.AgreementRef
}

func (f fakeLookup) AgreementFor(_ context.Context, teamID team.TeamID) (team.AgreementRef, error) {
	ref, ok := f.refs[teamID]
	if !ok {
		return team.AgreementRef{}, team.ErrNotFound
	}
	return ref, nil
}
