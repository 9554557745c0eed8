/*
Package ledger provides the balance-ledger engine shared by the point-of-sale
subsystems.

PURPOSE:
  The cash register, the stock book and the loyalty program all keep a
  mutable running balance next to an append-only transaction log. This
  package owns that pairing: it applies entries atomically, keeps the
  balance equal to the fold of the log, and lets callers replay the log
  for audit and reconciliation.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account:  current balance(s), lifecycle state and a version counter
  - Entry:    an immutable log record, one Posting per balance it touched
  - Posting:  amount as supplied, effective delta, balance before/after
  - Balances: named decimal balances (cash, quantity, points, cashback)

DESIGN PRINCIPLES:
  1. Append-only: entries are never updated or deleted
  2. Precision: decimal.Decimal everywhere, integral balances are validated
  3. Sign by kind: callers supply magnitudes, the account schema decides sign
  4. Chaining: each posting's Before equals the previous posting's After

USAGE:
  l := ledger.New(store.NewMemory())
  res, err := l.Apply(ctx, ledger.Command{
      AccountID: "acct-1",
      Kind:      "inbound",
      Amounts:   ledger.Single("quantity", decimal.NewFromInt(5)),
      Actor:     "user-7",
  })

SEE ALSO:
  - schema.go: per account type kind rules
  - ledger.go: the atomic Apply algorithm
  - store.go:  persistence contract
*/
package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type EntryID int64
type AccountType string
type Kind string
type BalanceKey string

// State is the lifecycle state of an account.
type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
	StateActive State = "active"
)

// Reference points at the external event that caused an entry.
type Reference struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// =============================================================================
// BALANCES
// =============================================================================

// Balances maps a balance name to its value. A missing key reads as zero.
type Balances map[BalanceKey]decimal.Decimal

// Single builds a one-balance map.
func Single(key BalanceKey, v decimal.Decimal) Balances {
	return Balances{key: v}
}

func (b Balances) Get(key BalanceKey) decimal.Decimal {
	if v, ok := b[key]; ok {
		return v
	}
	return decimal.Zero
}

func (b Balances) Clone() Balances {
	out := make(Balances, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Keys returns the balance names in lexical order.
func (b Balances) Keys() []BalanceKey {
	keys := make([]BalanceKey, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// =============================================================================
// ACCOUNT
// =============================================================================

// Account is one ledger account: a register session, a stock-keeping unit or
// a loyalty member.
type Account struct {
	ID      AccountID
	Type    AccountType
	OwnerID string // register id, product id or customer id
	State   State

	// Opening is the balance at creation. Entries fold on top of it.
	Opening  Balances
	Balances Balances

	Attributes map[string]string

	// Version increments on every committed entry (optimistic concurrency).
	Version     int64
	LastEntryID EntryID
	LastEntryAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a Account) Balance(key BalanceKey) decimal.Decimal { return a.Balances.Get(key) }
func (a Account) IsClosed() bool                         { return a.State == StateClosed }

func (a Account) Attribute(name string) string {
	if a.Attributes == nil {
		return ""
	}
	return a.Attributes[name]
}

// Clone returns a deep copy so callers never share maps with a store.
func (a Account) Clone() Account {
	out := a
	out.Opening = a.Opening.Clone()
	out.Balances = a.Balances.Clone()
	if a.Attributes != nil {
		out.Attributes = make(map[string]string, len(a.Attributes))
		for k, v := range a.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

// =============================================================================
// ENTRY - Immutable log record
// =============================================================================

// Posting is the effect of an entry on one balance.
//
// Amount is what the caller supplied: a non-negative magnitude, or the
// absolute target for Set kinds (adjustment, closing). Delta is derived.
type Posting struct {
	Balance BalanceKey      `json:"balance"`
	Amount  decimal.Decimal `json:"amount"`
	Delta   decimal.Decimal `json:"delta"`
	Before  decimal.Decimal `json:"balance_before"`
	After   decimal.Decimal `json:"balance_after"`
}

type Entry struct {
	ID             EntryID
	AccountID      AccountID
	AccountType    AccountType
	Kind           Kind
	Postings       []Posting
	Actor          string
	Reference      *Reference
	IdempotencyKey string
	Notes          string
	Metadata       map[string]string
	ExpiresAt      *time.Time
	CreatedAt      time.Time
}

// Posting returns the posting for the given balance, if the entry touched it.
func (e Entry) Posting(key BalanceKey) (Posting, bool) {
	for _, p := range e.Postings {
		if p.Balance == key {
			return p, true
		}
	}
	return Posting{}, false
}

// Amount, Delta, BalanceBefore and BalanceAfter read the first posting,
// which for single-balance accounts is the only one.
func (e Entry) Amount() decimal.Decimal        { return e.primary().Amount }
func (e Entry) Delta() decimal.Decimal         { return e.primary().Delta }
func (e Entry) BalanceBefore() decimal.Decimal { return e.primary().Before }
func (e Entry) BalanceAfter() decimal.Decimal  { return e.primary().After }

func (e Entry) primary() Posting {
	if len(e.Postings) == 0 {
		return Posting{Amount: decimal.Zero, Delta: decimal.Zero, Before: decimal.Zero, After: decimal.Zero}
	}
	return e.Postings[0]
}

// Clone returns a value copy that shares nothing with the receiver.
func (e Entry) Clone() Entry {
	out := e
	out.Postings = append([]Posting(nil), e.Postings...)
	if e.Reference != nil {
		ref := *e.Reference
		out.Reference = &ref
	}
	if e.Metadata != nil {
		out.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	if e.ExpiresAt != nil {
		t := *e.ExpiresAt
		out.ExpiresAt = &t
	}
	return out
}

// Before reports whether e sorts before other in log order (CreatedAt, ID).
func (e Entry) Before(other Entry) bool {
	if e.CreatedAt.Equal(other.CreatedAt) {
		return e.ID < other.ID
	}
	return e.CreatedAt.Before(other.CreatedAt)
}

// =============================================================================
// RESULT
// =============================================================================

// Result is what a successful Apply returns: the committed entry and the
// account state right after it.
type Result struct {
	Entry   Entry
	Account Account
}

// Balance returns the new value of the given balance.
func (r Result) Balance(key BalanceKey) decimal.Decimal { return r.Account.Balance(key) }
