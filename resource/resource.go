package resource

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/team"
)

// Type names a kind of team resource. The set is open: any well-formed
// upper snake case name is accepted.
type Type string

const (
	CodePoints         Type = "CODE_POINTS"
	BusinessAcumen     Type = "BUSINESS_ACUMEN"
	DesignCreativity   Type = "DESIGN_CREATIVITY"
	MarketingInfluence Type = "MARKETING_INFLUENCE"
	NetworkConnections Type = "NETWORK_CONNECTIONS"
	ProductVision      Type = "PRODUCT_VISION"
	FundingTokens      Type = "FUNDING_TOKENS"
)

// Known lists the resource kinds the game ships with.
var Known = []Type{
	CodePoints,
	BusinessAcumen,
	DesignCreativity,
	MarketingInfluence,
	NetworkConnections,
	ProductVision,
	FundingTokens,
}

// ErrInvalidType signals a malformed resource type name.
var ErrInvalidType = errors.New("resource: invalid type")

var typePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// ParseType validates raw as a resource type name.
func ParseType(raw string) (Type, error) {
	if !typePattern.MatchString(raw) {
		return "", fmt.Errorf("%w: %q", ErrInvalidType, raw)
	}
	return Type(raw), nil
}

// Inventory maps resource type to amount held.
type Inventory map[Type]int64

// Repository reads and credits the resource_inventory table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Inventory returns every resource row held by user.
func (r *Repository) Inventory(ctx context.Context, user team.UserID) (Inventory, error) {
	const query = `
		SELECT resource_type, amount
		FROM resource_inventory
		WHERE user_id = $1
	`

	rows, err := r.pool.Query(ctx, query, user)
	if err != nil {
		return nil, fmt.Errorf("resource: query inventory: %w", err)
	}
	defer rows.Close()

	inv := Inventory{}
	for rows.Next() {
		var (
			kind   Type
			amount int64
		)
		if err := rows.Scan(&kind, &amount); err != nil {
			return nil, fmt.Errorf("resource: scan inventory: %w", err)
		}
		inv[kind] += amount
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("resource: iterate inventory: %w", err)
	}
	return inv, nil
}

// AwardResource adds amount (which may be negative when reversing a credit) to the user's balance of kind.
func (r *Repository) AwardResource(ctx context.Context, user team.UserID, kind Type, amount int64) error {
	if _, err := ParseType(string(kind)); err != nil {
		return err
	}

	const query = `
		INSERT INTO resource_inventory (user_id, resource_type, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, resource_type)
		DO UPDATE SET amount = resource_inventory.amount + EXCLUDED.amount, updated_at = now()
	`

	if _, err := r.pool.Exec(ctx, query, user, kind, amount); err != nil {
		return fmt.Errorf("resource: award %s: %w", kind, err)
	}
	return nil
}
