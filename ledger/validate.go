package ledger

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/resource"
)

// ErrInvalidDistribution signals an allocation that exceeds what the team holds.
var ErrInvalidDistribution = errors.New("ledger: invalid distribution")

// ValidateDistribution rejects any category whose allocations exceed 110% of the ledger total.
func ValidateDistribution(alloc Allocation, assets TeamAssets) error {
	var xpSum int64
	for _, amount := range alloc.XP {
		next, ok := addUnits(xpSum, amount)
		if !ok {
			return fmt.Errorf("%w: XP allocation %d is negative or overflows the total", ErrInvalidDistribution, amount)
		}
		xpSum = next
	}
	if xpSum > ceiling(assets.TotalXP) {
		return fmt.Errorf("%w: XP distribution exceeds available XP (%d allocated, %d available)", ErrInvalidDistribution, xpSum, assets.TotalXP)
	}

	sums := map[resource.Type]int64{}
	for _, perType := range alloc.Resources {
		for kind, amount := range perType {
			next, ok := addUnits(sums[kind], amount)
			if !ok {
				return fmt.Errorf("%w: %s allocation %d is negative or overflows the total", ErrInvalidDistribution, kind, amount)
			}
			sums[kind] = next
		}
	}
	for kind := range assets.TotalResources {
		if _, ok := sums[kind]; !ok {
			sums[kind] = 0
		}
	}
	kinds := make([]string, 0, len(sums))
	for kind := range sums {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	for _, raw := range kinds {
		kind := resource.Type(raw)
		total := assets.TotalResources[kind]
		if sums[kind] > ceiling(total) {
			return fmt.Errorf("%w: %s distribution exceeds available resources (%d allocated, %d available)", ErrInvalidDistribution, kind, sums[kind], total)
		}
	}

	var tokenSum float64
	for _, amount := range alloc.Tokens {
		if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
			return fmt.Errorf("%w: invalid token amount %g", ErrInvalidDistribution, amount)
		}
		tokenSum += amount
	}
	if tokenSum*10 > assets.TotalTokens*11 {
		return fmt.Errorf("%w: token distribution exceeds available tokens (%g allocated, %g available)", ErrInvalidDistribution, tokenSum, assets.TotalTokens)
	}

	return nil
}

// addUnits adds a non-negative allocation to a running sum, reporting false on
// a negative amount or int64 overflow.
func addUnits(sum, amount int64) (int64, bool) {
	if amount < 0 || amount > math.MaxInt64-sum {
		return 0, false
	}
	return sum + amount, true
}

// ceiling is floor(1.1 × total), the largest allocation a total can back.
func ceiling(total int64) int64 {
	if total <= 0 {
		return 0
	}
	if total > math.MaxInt64-total/10 {
		return math.MaxInt64
	}
	return total + total/10
}
