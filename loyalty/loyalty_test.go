package loyalty_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pos-ledger/ledger"
	"github.com/warp/pos-ledger/ledger/store"
	"github.com/warp/pos-ledger/loyalty"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var now = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

func newTestLoyalty(t *testing.T, program loyalty.Program) (*loyalty.Ledger, *ledger.Ledger) {
	t.Helper()
	core := ledger.New(store.NewMemory(), ledger.WithClock(func() time.Time { return now }))
	return loyalty.New(core, program), core
}

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func enroll(t *testing.T, l *loyalty.Ledger, customer string) ledger.AccountID {
	t.Helper()
	m, err := l.Enroll(context.Background(), loyalty.EnrollInput{CustomerID: customer})
	require.NoError(t, err)
	return m.ID
}

// =============================================================================
// EARN TESTS
// =============================================================================

func TestLoyalty_EarnUsesPrePurchaseTier(t *testing.T) {
	// GIVEN: A new member (spend 0, bronze) and tiers bronze:0x1, silver:500x1.2, gold:2000x1.5
	// WHEN: Earning on a 600 purchase at 1 point per unit
	// THEN: 600 points (bronze multiplier), lifetime spend 600, tier silver

	l, _ := newTestLoyalty(t, loyalty.DefaultProgram())
	ctx := context.Background()
	id := enroll(t, l, "cust-1")

	res, err := l.Earn(ctx, loyalty.EarnInput{MemberID: id, Purchase: amt("600"), Actor: "pos"})
	require.NoError(t, err)

	assert.True(t, res.Points.Equal(amt("600")))
	assert.Equal(t, "bronze", res.PreviousTier)
	assert.Equal(t, "silver", res.Tier)
	assert.True(t, res.TierChanged())

	m, err := l.Member(ctx, id)
	require.NoError(t, err)
	assert.True(t, m.Points.Equal(amt("600")))
	assert.True(t, m.LifetimeSpend.Equal(amt("600")))
	assert.Equal(t, "silver", m.Tier)

	// The next purchase earns with the silver multiplier.
	res, err = l.Earn(ctx, loyalty.EarnInput{MemberID: id, Purchase: amt("100"), Actor: "pos"})
	require.NoError(t, err)
	assert.True(t, res.Points.Equal(amt("120")))
	assert.False(t, res.TierChanged())
}

func TestLoyalty_EarnFloorsPointsKeepsCashbackExact(t *testing.T) {
	// GIVEN: 1.5 points per unit and a 3% cashback rate
	// WHEN: Earning on 10.99
	// THEN: floor(16.485) = 16 points, cashback 10.99 * 0.03 = 0.3297 unrounded

	program := loyalty.DefaultProgram()
	program.PointsPerUnit = amt("1.5")
	program.CashbackRate = amt("0.03")
	l, _ := newTestLoyalty(t, program)
	id := enroll(t, l, "cust-1")

	res, err := l.Earn(context.Background(), loyalty.EarnInput{MemberID: id, Purchase: amt("10.99"), Actor: "pos"})
	require.NoError(t, err)

	assert.True(t, res.Points.Equal(amt("16")))
	assert.True(t, res.Cashback.Equal(amt("0.3297")), res.Cashback.String())
	assert.True(t, res.Balance(loyalty.BalanceCashback).Equal(amt("0.3297")))
	assert.Len(t, res.Entry.Postings, 3, "earn is one compound entry")
}

func TestProgram_CashbackIsNotRounded(t *testing.T) {
	// GIVEN: A 1.5% cashback rate
	// WHEN: Computing cashback on 33.33
	// THEN: 0.49995 is returned, not 0.50

	program := loyalty.DefaultProgram()
	program.CashbackRate = amt("0.015")

	got := program.Cashback(amt("33.33"))

	assert.True(t, got.Equal(amt("0.49995")), got.String())
}

func TestLoyalty_EarnRecordsExpiry(t *testing.T) {
	l, core := newTestLoyalty(t, loyalty.DefaultProgram())
	ctx := context.Background()
	id := enroll(t, l, "cust-1")

	res, err := l.Earn(ctx, loyalty.EarnInput{MemberID: id, Purchase: amt("10"), Actor: "pos"})
	require.NoError(t, err)
	require.NotNil(t, res.ExpiresAt)
	assert.Equal(t, now.Add(365*24*time.Hour), *res.ExpiresAt)

	entries, err := ledger.Collect(core.EntriesSince(ctx, id, time.Time{}))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].ExpiresAt)
	assert.Equal(t, *res.ExpiresAt, *entries[0].ExpiresAt)
}

// =============================================================================
// REDEEM TESTS
// =============================================================================

func TestLoyalty_RedeemBeyondBalance_Rejected(t *testing.T) {
	// GIVEN: A member with 50 points and 5.00 cashback
	// WHEN: Redeeming 51 points, then 5.01 cashback
	// THEN: Both fail with ErrInsufficientBalance, balances unchanged

	program := loyalty.DefaultProgram()
	program.CashbackRate = amt("0.1")
	l, _ := newTestLoyalty(t, program)
	ctx := context.Background()
	id := enroll(t, l, "cust-1")
	_, err := l.Earn(ctx, loyalty.EarnInput{MemberID: id, Purchase: amt("50"), Actor: "pos"})
	require.NoError(t, err)

	_, err = l.Redeem(ctx, loyalty.Spend{MemberID: id, Amount: amt("51"), Actor: "pos"})
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	_, err = l.RedeemCashback(ctx, loyalty.Spend{MemberID: id, Amount: amt("5.01"), Actor: "pos"})
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	res, err := l.Redeem(ctx, loyalty.Spend{MemberID: id, Amount: amt("50"), Actor: "pos"})
	require.NoError(t, err)
	assert.True(t, res.Balance(loyalty.BalancePoints).IsZero())

	res, err = l.RedeemCashback(ctx, loyalty.Spend{MemberID: id, Amount: amt("5"), Actor: "pos"})
	require.NoError(t, err)
	assert.True(t, res.Balance(loyalty.BalanceCashback).IsZero())
}

func TestLoyalty_RedeemDoesNotLowerTier(t *testing.T) {
	l, _ := newTestLoyalty(t, loyalty.DefaultProgram())
	ctx := context.Background()
	id := enroll(t, l, "cust-1")
	_, err := l.Earn(ctx, loyalty.EarnInput{MemberID: id, Purchase: amt("2500"), Actor: "pos"})
	require.NoError(t, err)

	_, err = l.Redeem(ctx, loyalty.Spend{MemberID: id, Amount: amt("2500"), Actor: "pos"})
	require.NoError(t, err)

	tier, err := l.Tier(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "gold", tier.Name)
}

func TestLoyalty_FractionalPoints_Rejected(t *testing.T) {
	l, _ := newTestLoyalty(t, loyalty.DefaultProgram())
	id := enroll(t, l, "cust-1")

	_, err := l.Redeem(context.Background(), loyalty.Spend{MemberID: id, Amount: amt("0.5"), Actor: "pos"})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestLoyalty_ExpireAdjustAndGrant(t *testing.T) {
	// GIVEN: A member with 100 points
	// WHEN: 30 points expire, cashback is granted, points are adjusted to 10
	// THEN: Each entry lands with the expected balance

	l, core := newTestLoyalty(t, loyalty.DefaultProgram())
	ctx := context.Background()
	id := enroll(t, l, "cust-1")
	_, err := l.Earn(ctx, loyalty.EarnInput{MemberID: id, Purchase: amt("100"), Actor: "pos"})
	require.NoError(t, err)

	res, err := l.Expire(ctx, loyalty.Spend{MemberID: id, Amount: amt("30"), Actor: "expiry-sweep"})
	require.NoError(t, err)
	assert.True(t, res.Balance(loyalty.BalancePoints).Equal(amt("70")))

	res, err = l.GrantCashback(ctx, loyalty.Spend{MemberID: id, Amount: amt("2.50"), Actor: "manager-1", Notes: "cold soup"})
	require.NoError(t, err)
	assert.True(t, res.Balance(loyalty.BalanceCashback).Equal(amt("2.5")))

	res, err = l.Adjust(ctx, id, loyalty.BalancePoints, amt("10"), "migration", "admin")
	require.NoError(t, err)
	assert.True(t, res.Entry.Delta().Equal(amt("-60")))
	assert.True(t, res.Balance(loyalty.BalancePoints).Equal(amt("10")))

	_, err = l.Adjust(ctx, id, loyalty.BalanceLifetimeSpend, amt("0"), "nope", "admin")
	assert.ErrorIs(t, err, ledger.ErrInvalidCommand, "lifetime spend cannot be adjusted")

	report, err := core.VerifyAccount(ctx, id)
	require.NoError(t, err)
	assert.True(t, report.OK(), "%+v", report.Discrepancies)
}

// =============================================================================
// TIER TABLE TESTS
// =============================================================================

func TestTierTable_For(t *testing.T) {
	tiers := loyalty.DefaultTierTable()

	tests := []struct {
		spend string
		want  string
	}{
		{"0", "bronze"},
		{"499.99", "bronze"},
		{"500", "silver"},
		{"1999", "silver"},
		{"2000", "gold"},
		{"1000000", "gold"},
	}
	for _, tt := range tests {
		t.Run(tt.spend, func(t *testing.T) {
			assert.Equal(t, tt.want, tiers.For(amt(tt.spend)).Name)
		})
	}
}

func TestTierTable_BelowLowestThreshold(t *testing.T) {
	tiers := loyalty.TierTable{{Name: "vip", MinSpent: amt("100"), Multiplier: amt("2")}}

	tier := tiers.For(amt("50"))
	assert.Equal(t, "", tier.Name)
	assert.True(t, tier.Multiplier.Equal(amt("1")))
}

func TestParseTierTable(t *testing.T) {
	tiers, err := loyalty.ParseTierTable("bronze:0:1, silver:500:1.2,gold:2000:1.5")
	require.NoError(t, err)
	assert.Equal(t, len(loyalty.DefaultTierTable()), len(tiers))
	assert.Equal(t, "silver", tiers[1].Name)
	assert.True(t, tiers[1].Multiplier.Equal(amt("1.2")))

	_, err = loyalty.ParseTierTable("bronze:0:1,silver:0:1.2")
	assert.Error(t, err, "thresholds must strictly increase")

	_, err = loyalty.ParseTierTable("bronze:0")
	assert.Error(t, err)

	_, err = loyalty.ParseTierTable("bronze:x:1")
	assert.Error(t, err)
}

func TestProgram_Validate(t *testing.T) {
	p := loyalty.DefaultProgram()
	require.NoError(t, p.Validate())

	p.CashbackRate = amt("1.5")
	assert.Error(t, p.Validate())

	assert.Panics(t, func() { loyalty.New(ledger.New(store.NewMemory()), p) })
}
