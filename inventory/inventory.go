/*
Package inventory implements the stock ledger: one account per
stock-keeping unit, holding a whole-number quantity that never goes
negative.

KINDS:
  inbound, purchase, production   +quantity
  outbound, sale, waste           -quantity (rejected below zero, never clamped)
  adjustment                      =quantity (physical count, absolute target)

  Adjustment is the only absolute kind. It must never be used in place of
  inbound/outbound: a count of 7 sets the balance to 7 whatever it was.

THRESHOLDS:
  An item may carry a stored min and max quantity. IsLow and IsOverstocked
  are pure reads.

AVAILABILITY:
  CheckAvailability is advisory. Between the check and the sale another
  caller can take the stock; the sale's own non-negativity check is the
  authoritative guard and callers must handle ErrInsufficientBalance from it.
*/
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/pos-ledger/ledger"
)

const (
	AccountType ledger.AccountType = "inventory"
	Balance     ledger.BalanceKey  = "quantity"

	KindInbound    ledger.Kind = "inbound"
	KindOutbound   ledger.Kind = "outbound"
	KindAdjustment ledger.Kind = "adjustment"
	KindSale       ledger.Kind = "sale"
	KindPurchase   ledger.Kind = "purchase"
	KindProduction ledger.Kind = "production"
	KindWaste      ledger.Kind = "waste"

	// Account attributes holding the stored thresholds.
	AttrMinQuantity = "min_quantity"
	AttrMaxQuantity = "max_quantity"
	AttrUnit        = "unit"
)

func init() {
	qty := []ledger.BalanceKey{Balance}
	credit := ledger.KindRule{Effect: ledger.EffectCredit, Balances: qty}
	debit := ledger.KindRule{Effect: ledger.EffectDebit, Balances: qty}
	ledger.RegisterSchema(ledger.Schema{
		Type:        AccountType,
		Balances:    qty,
		NonNegative: qty,
		Integral:    qty,
		Kinds: map[ledger.Kind]ledger.KindRule{
			KindInbound:    credit,
			KindPurchase:   credit,
			KindProduction: credit,
			KindOutbound:   debit,
			KindSale:       debit,
			KindWaste:      debit,
			KindAdjustment: {Effect: ledger.EffectSet, Balances: qty},
		},
		InitialState: ledger.StateActive,
	})
}

// IsIncrease reports whether kind adds stock.
func IsIncrease(kind ledger.Kind) bool {
	return kind == KindInbound || kind == KindPurchase || kind == KindProduction
}

// IsDecrease reports whether kind removes stock.
func IsDecrease(kind ledger.Kind) bool {
	return kind == KindOutbound || kind == KindSale || kind == KindWaste
}

// =============================================================================
// STOCK LEDGER
// =============================================================================

type Ledger struct {
	ledger *ledger.Ledger
}

func New(l *ledger.Ledger) *Ledger {
	return &Ledger{ledger: l}
}

// StockInput creates the account of a product.
type StockInput struct {
	ItemID    ledger.AccountID // empty = generated
	ProductID string
	Unit      string
	Min       *decimal.Decimal
	Max       *decimal.Decimal
	At        time.Time
}

// Stock creates the stock account of a product with a zero quantity.
func (s *Ledger) Stock(ctx context.Context, in StockInput) (ledger.Account, error) {
	attrs := map[string]string{}
	if in.Unit != "" {
		attrs[AttrUnit] = in.Unit
	}
	if in.Min != nil {
		if in.Min.IsNegative() || !in.Min.IsInteger() {
			return ledger.Account{}, fmt.Errorf("%w: min quantity %s", ledger.ErrInvalidAmount, in.Min)
		}
		attrs[AttrMinQuantity] = in.Min.String()
	}
	if in.Max != nil {
		if in.Max.IsNegative() || !in.Max.IsInteger() {
			return ledger.Account{}, fmt.Errorf("%w: max quantity %s", ledger.ErrInvalidAmount, in.Max)
		}
		if in.Min != nil && in.Max.LessThan(*in.Min) {
			return ledger.Account{}, fmt.Errorf("%w: max quantity below min", ledger.ErrInvalidCommand)
		}
		attrs[AttrMaxQuantity] = in.Max.String()
	}

	res, err := s.ledger.Open(ctx, ledger.OpenInput{
		ID:         in.ItemID,
		Type:       AccountType,
		OwnerID:    in.ProductID,
		Attributes: attrs,
		At:         in.At,
	})
	if err != nil {
		return ledger.Account{}, err
	}
	return res.Account, nil
}

// Movement is a relative stock change.
type Movement struct {
	ItemID         ledger.AccountID
	Kind           ledger.Kind
	Quantity       decimal.Decimal
	Actor          string
	Reference      *ledger.Reference
	IdempotencyKey string
	Notes          string
	At             time.Time
}

// Move applies an inbound/outbound style movement. Adjustments go through
// Adjust so a relative quantity is never mistaken for an absolute count.
func (s *Ledger) Move(ctx context.Context, m Movement) (ledger.Result, error) {
	if !IsIncrease(m.Kind) && !IsDecrease(m.Kind) {
		return ledger.Result{}, fmt.Errorf("%w: %s is not a stock movement", ledger.ErrUnknownKind, m.Kind)
	}
	return s.apply(ctx, ledger.Command{
		AccountID:      m.ItemID,
		Kind:           m.Kind,
		Amounts:        ledger.Single(Balance, m.Quantity),
		Actor:          m.Actor,
		Reference:      m.Reference,
		IdempotencyKey: m.IdempotencyKey,
		Notes:          m.Notes,
		At:             m.At,
	})
}

// Adjust sets the quantity to a physical count.
func (s *Ledger) Adjust(ctx context.Context, id ledger.AccountID, counted decimal.Decimal, reason, actor string) (ledger.Result, error) {
	return s.apply(ctx, ledger.Command{
		AccountID: id,
		Kind:      KindAdjustment,
		Amounts:   ledger.Single(Balance, counted),
		Actor:     actor,
		Notes:     reason,
	})
}

func (s *Ledger) apply(ctx context.Context, cmd ledger.Command) (ledger.Result, error) {
	return s.ledger.ApplyFunc(ctx, cmd.AccountID, func(_ context.Context, acct ledger.Account) (ledger.Command, error) {
		if acct.Type != AccountType {
			return ledger.Command{}, fmt.Errorf("%w: %s is not a stock account", ledger.ErrAccountNotFound, acct.ID)
		}
		return cmd, nil
	})
}

// =============================================================================
// READS
// =============================================================================

// Item is the read view of a stock account.
type Item struct {
	ID        ledger.AccountID `json:"id"`
	ProductID string           `json:"product_id"`
	Unit      string           `json:"unit,omitempty"`
	Quantity  decimal.Decimal  `json:"quantity"`
	Min       *decimal.Decimal `json:"min_quantity,omitempty"`
	Max       *decimal.Decimal `json:"max_quantity,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// ItemOf builds the read view of an inventory account.
func ItemOf(acct ledger.Account) Item {
	return Item{
		ID:        acct.ID,
		ProductID: acct.OwnerID,
		Unit:      acct.Attribute(AttrUnit),
		Quantity:  acct.Balance(Balance),
		Min:       threshold(acct, AttrMinQuantity),
		Max:       threshold(acct, AttrMaxQuantity),
		UpdatedAt: acct.UpdatedAt,
	}
}

func threshold(acct ledger.Account, attr string) *decimal.Decimal {
	raw := acct.Attribute(attr)
	if raw == "" {
		return nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	return &v
}

func (s *Ledger) Item(ctx context.Context, id ledger.AccountID) (Item, error) {
	acct, err := s.account(ctx, id)
	if err != nil {
		return Item{}, err
	}
	return ItemOf(acct), nil
}

// Items lists every stock account.
func (s *Ledger) Items(ctx context.Context) ([]Item, error) {
	accts, err := s.ledger.Accounts(ctx, ledger.AccountFilter{Type: AccountType})
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(accts))
	for _, a := range accts {
		out = append(out, ItemOf(a))
	}
	return out, nil
}

func (s *Ledger) account(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	acct, err := s.ledger.Account(ctx, id)
	if err != nil {
		return ledger.Account{}, err
	}
	if acct.Type != AccountType {
		return ledger.Account{}, fmt.Errorf("%w: %s is not a stock account", ledger.ErrAccountNotFound, id)
	}
	return acct, nil
}

// CheckAvailability reports whether requested units are on hand right now.
// Advisory only.
func (s *Ledger) CheckAvailability(ctx context.Context, id ledger.AccountID, requested decimal.Decimal) (bool, error) {
	item, err := s.Item(ctx, id)
	if err != nil {
		return false, err
	}
	return item.Available(requested), nil
}

// IsLow compares against min, or the stored min when min is nil. An item
// with no threshold at all is never low.
func (s *Ledger) IsLow(ctx context.Context, id ledger.AccountID, min *decimal.Decimal) (bool, error) {
	item, err := s.Item(ctx, id)
	if err != nil {
		return false, err
	}
	return item.IsLow(min), nil
}

func (s *Ledger) IsOverstocked(ctx context.Context, id ledger.AccountID) (bool, error) {
	item, err := s.Item(ctx, id)
	if err != nil {
		return false, err
	}
	return item.IsOverstocked(), nil
}

func (i Item) Available(requested decimal.Decimal) bool {
	return !requested.IsNegative() && i.Quantity.GreaterThanOrEqual(requested)
}

// IsLow: quantity <= min. An explicit min wins over the stored one.
func (i Item) IsLow(min *decimal.Decimal) bool {
	if min == nil {
		min = i.Min
	}
	if min == nil {
		return false
	}
	return i.Quantity.LessThanOrEqual(*min)
}

func (i Item) IsOverstocked() bool {
	return i.Max != nil && i.Quantity.GreaterThan(*i.Max)
}
