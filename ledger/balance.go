/*
balance.go - Replaying the log against the stored balance

PURPOSE:
  The core correctness property of every account is

    balance == opening + sum(effective delta of every entry)

  with each posting's Before equal to the previous posting's After. Verify
  replays the log and reports every place this does not hold. It never
  corrects anything: discrepancies are facts for a human to look at.

SEE ALSO:
  - reconcile/engine.go: Engine.Verify runs it over ledger accounts
*/
package ledger

import (
	"context"
	"iter"
	"time"

	"github.com/shopspring/decimal"
)

// DiscrepancyKind names what broke.
type DiscrepancyKind string

const (
	DiscrepancyOrder    DiscrepancyKind = "out_of_order"     // entry sorts before its predecessor
	DiscrepancyChain    DiscrepancyKind = "chain_break"      // Before != previous After
	DiscrepancyDelta    DiscrepancyKind = "delta_mismatch"   // Delta disagrees with kind effect
	DiscrepancyArith    DiscrepancyKind = "after_mismatch"   // After != Before + Delta
	DiscrepancyNegative DiscrepancyKind = "negative_balance" // non-negative balance went below zero
	DiscrepancyBalance  DiscrepancyKind = "balance_mismatch" // stored balance != replayed balance
)

type Discrepancy struct {
	Kind     DiscrepancyKind
	EntryID  EntryID // zero for the final balance comparison
	Balance  BalanceKey
	Expected decimal.Decimal
	Actual   decimal.Decimal
}

// VerifyReport is the outcome of replaying one account.
type VerifyReport struct {
	AccountID     AccountID
	Entries       int
	Replayed      Balances
	Stored        Balances
	Discrepancies []Discrepancy
}

func (r VerifyReport) OK() bool { return len(r.Discrepancies) == 0 }

// Verify replays entries on top of acct.Opening and compares the result
// with acct.Balances.
func Verify(acct Account, entries iter.Seq2[Entry, error]) (VerifyReport, error) {
	schema, err := LookupSchema(acct.Type)
	if err != nil {
		return VerifyReport{}, err
	}

	report := VerifyReport{
		AccountID: acct.ID,
		Replayed:  acct.Opening.Clone(),
		Stored:    acct.Balances.Clone(),
	}
	add := func(d Discrepancy) { report.Discrepancies = append(report.Discrepancies, d) }

	var prev *Entry
	for e, err := range entries {
		if err != nil {
			return VerifyReport{}, err
		}
		report.Entries++
		if prev != nil && e.Before(*prev) {
			add(Discrepancy{Kind: DiscrepancyOrder, EntryID: e.ID})
		}

		rule, known := schema.Rule(e.Kind)
		for _, p := range e.Postings {
			running := report.Replayed.Get(p.Balance)
			if !p.Before.Equal(running) {
				add(Discrepancy{Kind: DiscrepancyChain, EntryID: e.ID, Balance: p.Balance, Expected: running, Actual: p.Before})
			}
			if known {
				if want := effectiveDelta(rule.Effect, p.Amount, p.Before); !p.Delta.Equal(want) {
					add(Discrepancy{Kind: DiscrepancyDelta, EntryID: e.ID, Balance: p.Balance, Expected: want, Actual: p.Delta})
				}
			}
			if want := p.Before.Add(p.Delta); !p.After.Equal(want) {
				add(Discrepancy{Kind: DiscrepancyArith, EntryID: e.ID, Balance: p.Balance, Expected: want, Actual: p.After})
			}
			next := running.Add(p.Delta)
			if schema.IsNonNegative(p.Balance) && next.IsNegative() {
				add(Discrepancy{Kind: DiscrepancyNegative, EntryID: e.ID, Balance: p.Balance, Expected: decimal.Zero, Actual: next})
			}
			report.Replayed[p.Balance] = next
		}
		cur := e
		prev = &cur
	}

	for _, key := range schema.Balances {
		replayed, stored := report.Replayed.Get(key), report.Stored.Get(key)
		if !replayed.Equal(stored) {
			add(Discrepancy{Kind: DiscrepancyBalance, Balance: key, Expected: replayed, Actual: stored})
		}
	}
	return report, nil
}

func effectiveDelta(effect Effect, amount, before decimal.Decimal) decimal.Decimal {
	switch effect {
	case EffectCredit:
		return amount
	case EffectDebit:
		return amount.Neg()
	default:
		return amount.Sub(before)
	}
}

// VerifyAccount replays the full log of one account. It holds the account
// lock while reading so the stored balance and the log come from the same
// point in time.
func (l *Ledger) VerifyAccount(ctx context.Context, id AccountID) (VerifyReport, error) {
	unlock, err := l.locker.Lock(ctx, LockKey(id))
	if err != nil {
		return VerifyReport{}, err
	}
	defer unlock()

	acct, err := l.Account(ctx, id)
	if err != nil {
		return VerifyReport{}, err
	}
	return Verify(acct, l.EntriesSince(ctx, id, time.Time{}))
}

// SumByKind totals the deltas posted to key, grouped by entry kind.
func SumByKind(entries []Entry, key BalanceKey) map[Kind]decimal.Decimal {
	out := make(map[Kind]decimal.Decimal)
	for _, e := range entries {
		p, ok := e.Posting(key)
		if !ok {
			continue
		}
		out[e.Kind] = out[e.Kind].Add(p.Delta)
	}
	return out
}
