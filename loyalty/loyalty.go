/*
Package loyalty implements the customer loyalty ledger.

PURPOSE:
  One account per enrolled customer with three balances sharing one log:

    points          whole points, never negative
    cashback        currency, never negative
    lifetime_spend  running total of purchases, never decreases

  The member's tier is derived from lifetime_spend (see program.go).

KINDS:
  earn        +points +cashback +lifetime_spend   compound entry
  redeem      -points or -cashback
  expire      -points                             carries no sweep logic
  cashback    +cashback                           manual credit
  adjustment  =points or =cashback                absolute target

  No kind can lower lifetime_spend, so a member's tier only goes up.

EXAMPLE:
  l := loyalty.New(core, loyalty.DefaultProgram())
  m, _ := l.Enroll(ctx, loyalty.EnrollInput{CustomerID: "cust-1"})
  res, _ := l.Earn(ctx, loyalty.EarnInput{MemberID: m.ID, Purchase: d600, Actor: "pos"})
  // res.Points == 600, res.PreviousTier == "bronze", res.Tier == "silver"
*/
package loyalty

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/pos-ledger/ledger"
)

const (
	AccountType ledger.AccountType = "loyalty"

	BalancePoints        ledger.BalanceKey = "points"
	BalanceCashback      ledger.BalanceKey = "cashback"
	BalanceLifetimeSpend ledger.BalanceKey = "lifetime_spend"

	KindEarn       ledger.Kind = "earn"
	KindRedeem     ledger.Kind = "redeem"
	KindExpire     ledger.Kind = "expire"
	KindAdjustment ledger.Kind = "adjustment"
	KindCashback   ledger.Kind = "cashback"
)

func init() {
	all := []ledger.BalanceKey{BalancePoints, BalanceCashback, BalanceLifetimeSpend}
	spendable := []ledger.BalanceKey{BalancePoints, BalanceCashback}
	ledger.RegisterSchema(ledger.Schema{
		Type:        AccountType,
		Balances:    all,
		NonNegative: all,
		Integral:    []ledger.BalanceKey{BalancePoints},
		Kinds: map[ledger.Kind]ledger.KindRule{
			KindEarn:       {Effect: ledger.EffectCredit, Balances: all},
			KindRedeem:     {Effect: ledger.EffectDebit, Balances: spendable},
			KindExpire:     {Effect: ledger.EffectDebit, Balances: []ledger.BalanceKey{BalancePoints}},
			KindCashback:   {Effect: ledger.EffectCredit, Balances: []ledger.BalanceKey{BalanceCashback}},
			KindAdjustment: {Effect: ledger.EffectSet, Balances: spendable},
		},
		InitialState: ledger.StateActive,
	})
}

// Ledger runs the loyalty program on top of the core ledger.
type Ledger struct {
	ledger  *ledger.Ledger
	program Program
}

// New panics on an invalid program; programs come from configuration that
// is validated at load time.
func New(l *ledger.Ledger, program Program) *Ledger {
	if err := program.Validate(); err != nil {
		panic(fmt.Sprintf("loyalty: %v", err))
	}
	return &Ledger{ledger: l, program: program}
}

func (l *Ledger) Program() Program { return l.program }

// Member is the read view of a loyalty account.
type Member struct {
	ID            ledger.AccountID `json:"id"`
	CustomerID    string           `json:"customer_id"`
	Points        decimal.Decimal  `json:"points"`
	Cashback      decimal.Decimal  `json:"cashback"`
	LifetimeSpend decimal.Decimal  `json:"lifetime_spend"`
	Tier          string           `json:"tier"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func (l *Ledger) MemberOf(acct ledger.Account) Member {
	spend := acct.Balance(BalanceLifetimeSpend)
	return Member{
		ID:            acct.ID,
		CustomerID:    acct.OwnerID,
		Points:        acct.Balance(BalancePoints),
		Cashback:      acct.Balance(BalanceCashback),
		LifetimeSpend: spend,
		Tier:          l.program.Tiers.For(spend).Name,
		UpdatedAt:     acct.UpdatedAt,
	}
}

// EnrollInput creates a member with zero balances.
type EnrollInput struct {
	MemberID   ledger.AccountID // empty = generated
	CustomerID string
	At         time.Time
}

func (l *Ledger) Enroll(ctx context.Context, in EnrollInput) (Member, error) {
	res, err := l.ledger.Open(ctx, ledger.OpenInput{
		ID:      in.MemberID,
		Type:    AccountType,
		OwnerID: in.CustomerID,
		At:      in.At,
	})
	if err != nil {
		return Member{}, err
	}
	return l.MemberOf(res.Account), nil
}

func (l *Ledger) Member(ctx context.Context, id ledger.AccountID) (Member, error) {
	acct, err := l.ledger.Account(ctx, id)
	if err != nil {
		return Member{}, err
	}
	if acct.Type != AccountType {
		return Member{}, fmt.Errorf("%w: %s is not a loyalty member", ledger.ErrAccountNotFound, id)
	}
	return l.MemberOf(acct), nil
}

// Tier derives the member's current tier.
func (l *Ledger) Tier(ctx context.Context, id ledger.AccountID) (Tier, error) {
	m, err := l.Member(ctx, id)
	if err != nil {
		return Tier{}, err
	}
	return l.program.Tiers.For(m.LifetimeSpend), nil
}

// =============================================================================
// EARN
// =============================================================================

type EarnInput struct {
	MemberID       ledger.AccountID
	Purchase       decimal.Decimal
	Actor          string
	Reference      *ledger.Reference
	IdempotencyKey string
	At             time.Time
}

// EarnResult reports what one purchase earned and whether it moved the
// member to another tier.
type EarnResult struct {
	ledger.Result
	Points       decimal.Decimal
	Cashback     decimal.Decimal
	PreviousTier string
	Tier         string
	ExpiresAt    *time.Time
}

func (r EarnResult) TierChanged() bool { return r.PreviousTier != r.Tier }

// Earn credits points, cashback and lifetime spend for a purchase. Points
// use the multiplier of the tier held before this purchase; the tier is
// re-derived afterwards.
func (l *Ledger) Earn(ctx context.Context, in EarnInput) (EarnResult, error) {
	if in.Purchase.IsNegative() {
		return EarnResult{}, fmt.Errorf("%w: purchase %s is negative", ledger.ErrInvalidAmount, in.Purchase)
	}

	var out EarnResult
	res, err := l.ledger.ApplyFunc(ctx, in.MemberID, func(_ context.Context, acct ledger.Account) (ledger.Command, error) {
		if acct.Type != AccountType {
			return ledger.Command{}, fmt.Errorf("%w: %s is not a loyalty member", ledger.ErrAccountNotFound, acct.ID)
		}
		tier := l.program.Tiers.For(acct.Balance(BalanceLifetimeSpend))
		out.PreviousTier = tier.Name
		out.Points = l.program.Points(in.Purchase, tier)
		out.Cashback = l.program.Cashback(in.Purchase)

		at := in.At
		if at.IsZero() {
			at = l.ledger.Now()
		}
		var expires *time.Time
		if l.program.PointsTTL > 0 {
			t := at.Add(l.program.PointsTTL)
			expires = &t
		}
		out.ExpiresAt = expires

		return ledger.Command{
			Kind: KindEarn,
			Amounts: ledger.Balances{
				BalancePoints:        out.Points,
				BalanceCashback:      out.Cashback,
				BalanceLifetimeSpend: in.Purchase,
			},
			Actor:          in.Actor,
			Reference:      in.Reference,
			IdempotencyKey: in.IdempotencyKey,
			Metadata:       map[string]string{"tier": tier.Name},
			ExpiresAt:      expires,
			At:             at,
		}, nil
	})
	if err != nil {
		return EarnResult{}, err
	}
	out.Result = res
	out.Tier = l.program.Tiers.For(res.Balance(BalanceLifetimeSpend)).Name
	return out, nil
}

// =============================================================================
// SPEND, EXPIRE, ADJUST
// =============================================================================

// Spend is a redemption or expiry request.
type Spend struct {
	MemberID       ledger.AccountID
	Amount         decimal.Decimal
	Actor          string
	Reference      *ledger.Reference
	IdempotencyKey string
	Notes          string
	At             time.Time
}

func (s Spend) command(kind ledger.Kind, key ledger.BalanceKey) ledger.Command {
	return ledger.Command{
		AccountID:      s.MemberID,
		Kind:           kind,
		Amounts:        ledger.Single(key, s.Amount),
		Actor:          s.Actor,
		Reference:      s.Reference,
		IdempotencyKey: s.IdempotencyKey,
		Notes:          s.Notes,
		At:             s.At,
	}
}

// Redeem spends points. Fails with ErrInsufficientBalance beyond the balance.
func (l *Ledger) Redeem(ctx context.Context, s Spend) (ledger.Result, error) {
	return l.apply(ctx, s.command(KindRedeem, BalancePoints))
}

// RedeemCashback spends cashback currency.
func (l *Ledger) RedeemCashback(ctx context.Context, s Spend) (ledger.Result, error) {
	return l.apply(ctx, s.command(KindRedeem, BalanceCashback))
}

// Expire removes points whose expires_at has passed. Choosing which points
// expire is the caller's job.
func (l *Ledger) Expire(ctx context.Context, s Spend) (ledger.Result, error) {
	return l.apply(ctx, s.command(KindExpire, BalancePoints))
}

// GrantCashback credits cashback outside a purchase (goodwill, promotions).
func (l *Ledger) GrantCashback(ctx context.Context, s Spend) (ledger.Result, error) {
	return l.apply(ctx, s.command(KindCashback, BalanceCashback))
}

// Adjust sets points or cashback to an absolute value.
func (l *Ledger) Adjust(ctx context.Context, id ledger.AccountID, key ledger.BalanceKey, target decimal.Decimal, reason, actor string) (ledger.Result, error) {
	return l.apply(ctx, ledger.Command{
		AccountID: id,
		Kind:      KindAdjustment,
		Amounts:   ledger.Single(key, target),
		Actor:     actor,
		Notes:     reason,
	})
}

func (l *Ledger) apply(ctx context.Context, cmd ledger.Command) (ledger.Result, error) {
	return l.ledger.ApplyFunc(ctx, cmd.AccountID, func(_ context.Context, acct ledger.Account) (ledger.Command, error) {
		if acct.Type != AccountType {
			return ledger.Command{}, fmt.Errorf("%w: %s is not a loyalty member", ledger.ErrAccountNotFound, acct.ID)
		}
		return cmd, nil
	})
}
