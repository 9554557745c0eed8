package ledger

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// Command asks the ledger to append one entry to an account.
type Command struct {
	AccountID AccountID `validate:"required"`
	Kind      Kind      `validate:"required"`

	// Amounts are non-negative magnitudes keyed by balance, or absolute
	// targets for Set kinds.
	Amounts Balances `validate:"required,min=1"`

	Actor          string `validate:"required,max=128"`
	Reference      *Reference
	IdempotencyKey string `validate:"max=128"`
	Notes          string `validate:"max=2048"`
	Metadata       map[string]string
	ExpiresAt      *time.Time

	// At overrides the entry timestamp. Zero means the ledger clock.
	At time.Time
}

// Validate checks shape only. State preconditions are checked by the ledger.
func (c Command) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if c.Reference != nil && (c.Reference.Type == "" || c.Reference.ID == "") {
		return fmt.Errorf("%w: reference needs type and id", ErrInvalidCommand)
	}
	for key, v := range c.Amounts {
		if v.IsNegative() {
			return fmt.Errorf("%w: %s amount %s is negative", ErrInvalidAmount, key, v)
		}
	}
	return nil
}

// plan computes the entry and the resulting balances for cmd against acct.
// It is pure: nothing is written, and any error leaves acct untouched.
func plan(schema Schema, acct Account, cmd Command, at time.Time, opening bool) (Entry, Balances, error) {
	if acct.IsClosed() {
		return Entry{}, nil, fmt.Errorf("%w: %s", ErrAccountClosed, acct.ID)
	}
	if !acct.LastEntryAt.IsZero() && at.Before(acct.LastEntryAt) {
		return Entry{}, nil, &OutOfOrderError{AccountID: acct.ID, Last: acct.LastEntryAt, Got: at}
	}

	rule, ok := schema.Rule(cmd.Kind)
	if !ok {
		return Entry{}, nil, fmt.Errorf("%w: %s for %s", ErrUnknownKind, cmd.Kind, schema.Type)
	}
	if rule.Opening != opening {
		if rule.Opening {
			return Entry{}, nil, fmt.Errorf("%w: %s only allowed at account creation", ErrInvalidCommand, cmd.Kind)
		}
		return Entry{}, nil, fmt.Errorf("%w: %s not allowed at account creation", ErrInvalidCommand, cmd.Kind)
	}
	for key := range cmd.Amounts {
		if !rule.allows(key) {
			return Entry{}, nil, fmt.Errorf("%w: %s does not post to %s", ErrInvalidCommand, cmd.Kind, key)
		}
	}

	next := acct.Balances.Clone()
	postings := make([]Posting, 0, len(cmd.Amounts))
	for _, key := range schema.Balances {
		amount, ok := cmd.Amounts[key]
		if !ok {
			continue
		}
		if schema.IsIntegral(key) && !amount.IsInteger() {
			return Entry{}, nil, fmt.Errorf("%w: %s must be a whole number, got %s", ErrInvalidAmount, key, amount)
		}

		before := next.Get(key)
		var delta decimal.Decimal
		switch rule.Effect {
		case EffectCredit:
			delta = amount
		case EffectDebit:
			delta = amount.Neg()
		case EffectSet:
			delta = amount.Sub(before)
		}
		after := before.Add(delta)

		if schema.IsNonNegative(key) && after.IsNegative() {
			return Entry{}, nil, &InsufficientBalanceError{
				AccountID: acct.ID,
				Balance:   key,
				Available: before,
				Requested: amount,
			}
		}

		next[key] = after
		postings = append(postings, Posting{
			Balance: key,
			Amount:  amount,
			Delta:   delta,
			Before:  before,
			After:   after,
		})
	}

	entry := Entry{
		AccountID:      acct.ID,
		AccountType:    acct.Type,
		Kind:           cmd.Kind,
		Postings:       postings,
		Actor:          cmd.Actor,
		Reference:      cmd.Reference,
		IdempotencyKey: cmd.IdempotencyKey,
		Notes:          cmd.Notes,
		Metadata:       cmd.Metadata,
		ExpiresAt:      cmd.ExpiresAt,
		CreatedAt:      at,
	}
	return entry.Clone(), next, nil
}
