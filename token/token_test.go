package token

import (
	"context"
	"testing"

	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/team"
)

func TestFixedBalanceReportsConfiguredAmount(t *testing.T) {
	src := FixedBalance(1000)
	for _, user := range []team.UserID{"alice", "bob"} {
		got, err := src.Balance(context.Background(), user)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if got != 1000 {
			t.Fatalf("expected 1000 for %s, got %v", user, got)
		}
	}
}
