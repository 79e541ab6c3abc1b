package agreement

import (
	"context"
	"errors"
	"fmt"

	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/team"
)

// ErrNotFound signals the team has no agreement or references an unknown template.
var ErrNotFound = errors.New("agreement: not found")

// Lookup resolves a team's agreement link. team.Repository satisfies it.
type Lookup interface {
	AgreementFor(ctx context.Context, teamID team.TeamID) (team.AgreementRef, error)
}

// Registry answers which agreement governs a team.
type Registry struct {
	catalog *Catalog
	lookup  Lookup
}

func NewRegistry(catalog *Catalog, lookup Lookup) *Registry {
	return &Registry{catalog: catalog, lookup: lookup}
}

// Templates lists the catalog.
func (r *Registry) Templates() []Template {
	return r.catalog.Templates()
}

// ForTeam returns the team's agreement. A team without one yields ErrNotFound.
func (r *Registry) ForTeam(ctx context.Context, teamID team.TeamID) (Agreement, error) {
	ref, err := r.lookup.AgreementFor(ctx, teamID)
	if err != nil {
		if errors.Is(err, team.ErrNotFound) {
			return Agreement{}, ErrNotFound
		}
		return Agreement{}, fmt.Errorf("agreement: lookup team agreement: %w", err)
	}

	tmpl, ok := r.catalog.Lookup(ref.TemplateID)
	if !ok {
		return Agreement{}, fmt.Errorf("%w: unknown template %q", ErrNotFound, ref.TemplateID)
	}

	mechanism := tmpl.DisputeResolutionMechanism
	if ref.MechanismOverride != nil {
		override := Mechanism(*ref.MechanismOverride)
		if override.Valid() {
			mechanism = override
		}
	}

	return Agreement{ID: ref.AgreementID, Template: tmpl, Mechanism: mechanism}, nil
}
