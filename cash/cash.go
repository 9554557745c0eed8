/*
Package cash implements the cash register ledger.

PURPOSE:
  One ledger account per register session. The session is opened with an
  initial float, receives sales, withdrawals and deposits, and is closed by
  counting the drawer. Closing computes the expected cash from the log,
  reports the variance against the declared count and reconciles the
  balance to what was physically counted.

LIFECYCLE:
  unopened -> open -> closed (terminal)

  Only one session per physical register may be open. A closed session
  accepts no further entries.

KINDS:
  opening     +amount   only at creation, carries the initial float
  sale        +amount   payment method recorded in metadata
  withdrawal  -amount   rejected if it would overdraw the drawer
  deposit     +amount
  closing     =declared sets the balance to the counted cash, terminal

CLOSING MATH:
  expected = initial + sales - withdrawals + deposits
  variance = declared - expected

  expected must equal the running balance. If it does not, the log and the
  balance disagree and Close refuses with ErrInvariantViolation instead of
  hiding the difference in the variance.

SEE ALSO:
  - reconcile/engine.go: CloseRegister wraps Close
  - ledger/ledger.go:    the apply algorithm every operation goes through
*/
package cash

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/pos-ledger/ledger"
)

const (
	AccountType ledger.AccountType = "cash_register"
	Balance     ledger.BalanceKey  = "cash"

	KindOpening    ledger.Kind = "opening"
	KindSale       ledger.Kind = "sale"
	KindWithdrawal ledger.Kind = "withdrawal"
	KindDeposit    ledger.Kind = "deposit"
	KindClosing    ledger.Kind = "closing"

	// MetaPaymentMethod is the entry metadata key holding a sale's method.
	MetaPaymentMethod = "payment_method"
)

func init() {
	cash := []ledger.BalanceKey{Balance}
	ledger.RegisterSchema(ledger.Schema{
		Type:        AccountType,
		Balances:    cash,
		NonNegative: cash,
		Kinds: map[ledger.Kind]ledger.KindRule{
			KindOpening:    {Effect: ledger.EffectCredit, Balances: cash, Opening: true},
			KindSale:       {Effect: ledger.EffectCredit, Balances: cash},
			KindWithdrawal: {Effect: ledger.EffectDebit, Balances: cash},
			KindDeposit:    {Effect: ledger.EffectCredit, Balances: cash},
			KindClosing:    {Effect: ledger.EffectSet, Balances: cash, Terminal: true},
		},
		InitialState: ledger.StateOpen,
	})
}

// =============================================================================
// REGISTER LEDGER
// =============================================================================

// Ledger runs register sessions on top of the core ledger.
type Ledger struct {
	ledger     *ledger.Ledger
	thresholds VarianceThresholds
}

func New(l *ledger.Ledger, thresholds VarianceThresholds) *Ledger {
	return &Ledger{ledger: l, thresholds: thresholds}
}

// OpenInput opens a session for a physical register.
type OpenInput struct {
	SessionID  ledger.AccountID // empty = generated
	RegisterID string
	Initial    decimal.Decimal
	Actor      string
	At         time.Time
}

// Open starts a session with the given float. Fails with ErrAlreadyOpen if
// the register already has an open session.
func (c *Ledger) Open(ctx context.Context, in OpenInput) (ledger.Result, error) {
	return c.ledger.Open(ctx, ledger.OpenInput{
		ID:      in.SessionID,
		Type:    AccountType,
		OwnerID: in.RegisterID,
		Opening: &ledger.Command{
			Kind:    KindOpening,
			Amounts: ledger.Single(Balance, in.Initial),
			Actor:   in.Actor,
		},
		At: in.At,
	})
}

// Sale is a payment taken at the register.
type Sale struct {
	SessionID      ledger.AccountID
	Amount         decimal.Decimal
	PaymentMethod  string
	Reference      *ledger.Reference
	Actor          string
	IdempotencyKey string
	At             time.Time
}

func (c *Ledger) RecordSale(ctx context.Context, s Sale) (ledger.Result, error) {
	if s.PaymentMethod == "" {
		return ledger.Result{}, fmt.Errorf("%w: payment method is required", ledger.ErrInvalidCommand)
	}
	return c.apply(ctx, ledger.Command{
		AccountID:      s.SessionID,
		Kind:           KindSale,
		Amounts:        ledger.Single(Balance, s.Amount),
		Actor:          s.Actor,
		Reference:      s.Reference,
		IdempotencyKey: s.IdempotencyKey,
		Metadata:       map[string]string{MetaPaymentMethod: s.PaymentMethod},
		At:             s.At,
	})
}

// Movement is a manual withdrawal or deposit.
type Movement struct {
	SessionID      ledger.AccountID
	Amount         decimal.Decimal
	Reason         string
	Actor          string
	IdempotencyKey string
	At             time.Time
}

// Withdraw takes cash out of the drawer. The drawer cannot go negative.
func (c *Ledger) Withdraw(ctx context.Context, m Movement) (ledger.Result, error) {
	return c.apply(ctx, m.command(KindWithdrawal))
}

func (c *Ledger) Deposit(ctx context.Context, m Movement) (ledger.Result, error) {
	return c.apply(ctx, m.command(KindDeposit))
}

// apply refuses commands aimed at accounts that are not register sessions.
func (c *Ledger) apply(ctx context.Context, cmd ledger.Command) (ledger.Result, error) {
	return c.ledger.ApplyFunc(ctx, cmd.AccountID, func(_ context.Context, acct ledger.Account) (ledger.Command, error) {
		if acct.Type != AccountType {
			return ledger.Command{}, fmt.Errorf("%w: %s is not a register session", ledger.ErrAccountNotFound, acct.ID)
		}
		return cmd, nil
	})
}

func (m Movement) command(kind ledger.Kind) ledger.Command {
	return ledger.Command{
		AccountID:      m.SessionID,
		Kind:           kind,
		Amounts:        ledger.Single(Balance, m.Amount),
		Actor:          m.Actor,
		IdempotencyKey: m.IdempotencyKey,
		Notes:          m.Reason,
		At:             m.At,
	}
}

// Session returns the session account.
func (c *Ledger) Session(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	acct, err := c.ledger.Account(ctx, id)
	if err != nil {
		return ledger.Account{}, err
	}
	if acct.Type != AccountType {
		return ledger.Account{}, fmt.Errorf("%w: %s is not a register session", ledger.ErrAccountNotFound, id)
	}
	return acct, nil
}

// OpenSession returns the open session of a register, if any.
func (c *Ledger) OpenSession(ctx context.Context, registerID string) (ledger.Account, error) {
	accts, err := c.ledger.Accounts(ctx, ledger.AccountFilter{Type: AccountType, OwnerID: registerID, State: ledger.StateOpen})
	if err != nil {
		return ledger.Account{}, err
	}
	if len(accts) == 0 {
		return ledger.Account{}, fmt.Errorf("%w: no open session for register %s", ledger.ErrAccountNotFound, registerID)
	}
	return accts[0], nil
}

// =============================================================================
// CLOSE
// =============================================================================

// CloseInput is the physical count at the end of a session.
type CloseInput struct {
	SessionID ledger.AccountID
	Declared  decimal.Decimal
	Notes     string
	Actor     string
	At        time.Time
}

// Summary is the closing report of one session.
type Summary struct {
	SessionID        ledger.AccountID           `json:"session_id"`
	RegisterID       string                     `json:"register_id"`
	InitialAmount    decimal.Decimal            `json:"initial_amount"`
	SalesTotal       decimal.Decimal            `json:"sales_total"`
	WithdrawalsTotal decimal.Decimal            `json:"withdrawals_total"`
	DepositsTotal    decimal.Decimal            `json:"deposits_total"`
	SalesByMethod    map[string]decimal.Decimal `json:"sales_by_method"`
	ExpectedAmount   decimal.Decimal            `json:"expected_amount"`
	DeclaredAmount   decimal.Decimal            `json:"declared_amount"`
	Variance         decimal.Decimal            `json:"variance"`
	VarianceClass    VarianceClass              `json:"variance_class"`
	Notes            string                     `json:"notes,omitempty"`
	ClosingEntryID   ledger.EntryID             `json:"closing_entry_id"`
	ClosedAt         time.Time                  `json:"closed_at"`
}

// Methods lists the payment methods in SalesByMethod in lexical order.
func (s Summary) Methods() []string {
	out := make([]string, 0, len(s.SalesByMethod))
	for m := range s.SalesByMethod {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Close folds the session log, appends the closing entry and freezes the
// session. The fold and the closing entry run under the same account lock,
// so no sale can slip in between the count and the close.
func (c *Ledger) Close(ctx context.Context, in CloseInput) (Summary, error) {
	var summary Summary
	res, err := c.ledger.ApplyFunc(ctx, in.SessionID, func(ctx context.Context, acct ledger.Account) (ledger.Command, error) {
		if acct.Type != AccountType {
			return ledger.Command{}, fmt.Errorf("%w: %s is not a register session", ledger.ErrAccountNotFound, acct.ID)
		}
		if acct.IsClosed() {
			return ledger.Command{}, fmt.Errorf("%w: %s", ledger.ErrAccountClosed, acct.ID)
		}
		if in.Declared.IsNegative() {
			return ledger.Command{}, fmt.Errorf("%w: declared amount %s is negative", ledger.ErrInvalidAmount, in.Declared)
		}

		totals, err := c.fold(ctx, acct.ID)
		if err != nil {
			return ledger.Command{}, err
		}
		if !totals.ExpectedAmount.Equal(acct.Balance(Balance)) {
			return ledger.Command{}, fmt.Errorf("%w: session %s expected %s from log, balance is %s",
				ledger.ErrInvariantViolation, acct.ID, totals.ExpectedAmount, acct.Balance(Balance))
		}

		summary = totals
		summary.SessionID = acct.ID
		summary.RegisterID = acct.OwnerID
		summary.DeclaredAmount = in.Declared
		summary.Variance = in.Declared.Sub(totals.ExpectedAmount)
		summary.VarianceClass = c.thresholds.Classify(summary.Variance)
		summary.Notes = in.Notes

		return ledger.Command{
			Kind:    KindClosing,
			Amounts: ledger.Single(Balance, in.Declared),
			Actor:   in.Actor,
			Notes:   in.Notes,
			Metadata: map[string]string{
				"expected": totals.ExpectedAmount.String(),
				"variance": summary.Variance.String(),
			},
			At: in.At,
		}, nil
	})
	if err != nil {
		return Summary{}, err
	}
	summary.ClosingEntryID = res.Entry.ID
	summary.ClosedAt = res.Entry.CreatedAt
	return summary, nil
}

// fold totals the session log by kind.
func (c *Ledger) fold(ctx context.Context, id ledger.AccountID) (Summary, error) {
	s := Summary{
		InitialAmount:    decimal.Zero,
		SalesTotal:       decimal.Zero,
		WithdrawalsTotal: decimal.Zero,
		DepositsTotal:    decimal.Zero,
		SalesByMethod:    make(map[string]decimal.Decimal),
	}
	for e, err := range c.ledger.EntriesSince(ctx, id, time.Time{}) {
		if err != nil {
			return Summary{}, err
		}
		amount := e.Amount()
		switch e.Kind {
		case KindOpening:
			s.InitialAmount = s.InitialAmount.Add(amount)
		case KindSale:
			s.SalesTotal = s.SalesTotal.Add(amount)
			method := e.Metadata[MetaPaymentMethod]
			s.SalesByMethod[method] = s.SalesByMethod[method].Add(amount)
		case KindWithdrawal:
			s.WithdrawalsTotal = s.WithdrawalsTotal.Add(amount)
		case KindDeposit:
			s.DepositsTotal = s.DepositsTotal.Add(amount)
		}
	}
	s.ExpectedAmount = s.InitialAmount.Add(s.SalesTotal).Sub(s.WithdrawalsTotal).Add(s.DepositsTotal)
	return s, nil
}
