/*
schema.go - Account type registry and kind rules

PURPOSE:
  Each ledger specialization (cash register, inventory, loyalty) registers a
  Schema describing its balances and the closed set of entry kinds it
  accepts. The engine has NO knowledge of specific account types: the sign
  and balance effect of a kind come from here, never from the call site.

EFFECTS:
  EffectCredit: delta = +amount
  EffectDebit:  delta = -amount
  EffectSet:    delta = amount - balance (amount is the absolute target)

  A caller can never flip a sign by passing a negative amount: amounts are
  magnitudes and are rejected when negative.

REGISTRATION:
  Domain packages register in init():

    func init() {
        ledger.RegisterSchema(ledger.Schema{Type: "inventory", ...})
    }
*/
package ledger

import (
	"fmt"
	"sync"
)

// Effect decides how an entry amount changes a balance.
type Effect int

const (
	EffectCredit Effect = iota + 1
	EffectDebit
	EffectSet
)

func (e Effect) String() string {
	switch e {
	case EffectCredit:
		return "credit"
	case EffectDebit:
		return "debit"
	case EffectSet:
		return "set"
	default:
		return "unknown"
	}
}

// KindRule describes one entry kind of an account type.
type KindRule struct {
	Effect Effect

	// Balances lists the balances this kind may post to. A command must
	// name at least one of them and nothing else.
	Balances []BalanceKey

	// Terminal kinds close the account once committed.
	Terminal bool

	// Opening kinds are only accepted when the account is created.
	Opening bool
}

func (r KindRule) allows(key BalanceKey) bool {
	for _, b := range r.Balances {
		if b == key {
			return true
		}
	}
	return false
}

// Schema is the full rule set for one account type.
type Schema struct {
	Type AccountType

	// Balances in posting order. The first one is the primary balance.
	Balances []BalanceKey

	// NonNegative balances reject any entry that would drive them below zero.
	NonNegative []BalanceKey

	// Integral balances only accept whole-number amounts.
	Integral []BalanceKey

	Kinds map[Kind]KindRule

	// InitialState is StateOpen for accounts with a closing lifecycle,
	// StateActive for accounts that are never closed.
	InitialState State
}

func (s Schema) Rule(kind Kind) (KindRule, bool) {
	r, ok := s.Kinds[kind]
	return r, ok
}

// Primary returns the first declared balance.
func (s Schema) Primary() BalanceKey {
	if len(s.Balances) == 0 {
		return ""
	}
	return s.Balances[0]
}

func (s Schema) HasBalance(key BalanceKey) bool    { return containsKey(s.Balances, key) }
func (s Schema) IsNonNegative(key BalanceKey) bool { return containsKey(s.NonNegative, key) }
func (s Schema) IsIntegral(key BalanceKey) bool    { return containsKey(s.Integral, key) }

// Closable reports whether accounts of this type have a terminal state.
func (s Schema) Closable() bool { return s.InitialState == StateOpen }

// Validate checks the schema is internally consistent.
func (s Schema) Validate() error {
	if s.Type == "" {
		return fmt.Errorf("schema: empty account type")
	}
	if len(s.Balances) == 0 {
		return fmt.Errorf("schema %s: no balances", s.Type)
	}
	if s.InitialState != StateOpen && s.InitialState != StateActive {
		return fmt.Errorf("schema %s: initial state must be open or active", s.Type)
	}
	for kind, rule := range s.Kinds {
		if rule.Effect < EffectCredit || rule.Effect > EffectSet {
			return fmt.Errorf("schema %s: kind %s has no effect", s.Type, kind)
		}
		if len(rule.Balances) == 0 {
			return fmt.Errorf("schema %s: kind %s posts to no balance", s.Type, kind)
		}
		for _, b := range rule.Balances {
			if !s.HasBalance(b) {
				return fmt.Errorf("schema %s: kind %s posts to undeclared balance %s", s.Type, kind, b)
			}
		}
		if rule.Terminal && !s.Closable() {
			return fmt.Errorf("schema %s: terminal kind %s on a non-closable type", s.Type, kind)
		}
	}
	return nil
}

func containsKey(keys []BalanceKey, key BalanceKey) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// =============================================================================
// REGISTRY
// =============================================================================

var (
	registryMu sync.RWMutex
	registry   = make(map[AccountType]Schema)
)

// RegisterSchema adds or replaces the schema for its account type.
// Panics on an invalid schema: registration happens at init time.
func RegisterSchema(s Schema) {
	if err := s.Validate(); err != nil {
		panic(err)
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[s.Type] = s
}

// LookupSchema returns the schema for t.
func LookupSchema(t AccountType) (Schema, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[t]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %s", ErrUnknownAccountType, t)
	}
	return s, nil
}
