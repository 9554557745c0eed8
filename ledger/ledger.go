/*
ledger.go - The atomic apply algorithm

PURPOSE:
  Ledger is the only writer of accounts. Every balance change goes through
  Apply (or ApplyFunc), which keeps the balance equal to the fold of the
  log under concurrent callers.

APPLY ALGORITHM:
  1. Take the per-account lock (Locker)
  2. Read account balance, state and version
  3. Reject if closed (ErrAccountClosed)
  4. Compute the effective delta from the kind's Effect
  5. Reject a non-negative balance going below zero (ErrInsufficientBalance)
  6. Commit entry + balance + version+1 in ONE store transaction,
     conditional on the version read in step 2
  7. Notify listeners (metrics, async event dispatch) after the commit

  Steps 3-5 write nothing: a rejection leaves balance and log untouched.
  A lost version race (another process without the shared lock) retries
  from step 2, up to MaxRetries.

LISTENERS:
  Listeners run after the commit and cannot fail it. Anything slow (event
  publishing) must queue and return; see notify.Dispatcher.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	defaultMaxRetries = 3
	defaultPageSize   = 256
)

// =============================================================================
// LISTENERS
// =============================================================================

// Outcome describes one finished Open or Apply, successful or not.
type Outcome struct {
	Op          string // "open" or "apply"
	AccountID   AccountID
	AccountType AccountType
	Kind        Kind
	Account     *Account
	Entry       *Entry
	Err         error
	Duration    time.Duration
}

// Listener observes outcomes after the fact. It must not block.
type Listener interface {
	Observe(ctx context.Context, o Outcome)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, o Outcome)

func (f ListenerFunc) Observe(ctx context.Context, o Outcome) { f(ctx, o) }

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store      Store
	locker     Locker
	listeners  []Listener
	clock      Clock
	logger     zerolog.Logger
	maxRetries int
	pageSize   int
}

type Option func(*Ledger)

func WithLocker(lk Locker) Option         { return func(l *Ledger) { l.locker = lk } }
func WithClock(c Clock) Option            { return func(l *Ledger) { l.clock = c } }
func WithLogger(lg zerolog.Logger) Option { return func(l *Ledger) { l.logger = lg } }
func WithMaxRetries(n int) Option         { return func(l *Ledger) { l.maxRetries = n } }
func WithPageSize(n int) Option           { return func(l *Ledger) { l.pageSize = n } }
func WithListener(ls ...Listener) Option {
	return func(l *Ledger) { l.listeners = append(l.listeners, ls...) }
}

// New creates a ledger over store. Defaults: in-process KeyedMutex, system
// clock, disabled logger.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:      store,
		locker:     NewKeyedMutex(),
		clock:      SystemClock,
		logger:     zerolog.Nop(),
		maxRetries: defaultMaxRetries,
		pageSize:   defaultPageSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns the ledger clock's current time.
func (l *Ledger) Now() time.Time { return l.clock() }

// =============================================================================
// OPEN
// =============================================================================

// OpenInput creates an account, optionally with an opening entry.
type OpenInput struct {
	ID         AccountID // empty = generated
	Type       AccountType
	OwnerID    string
	Attributes map[string]string

	// Opening, if set, is applied against the zero account in the same
	// transaction that creates it. Its AccountID is ignored.
	Opening *Command

	At time.Time
}

// Open creates a new account. Every balance starts at zero; an opening
// amount is recorded as an entry so the balance-sum invariant holds from
// the first entry.
func (l *Ledger) Open(ctx context.Context, in OpenInput) (Result, error) {
	start := time.Now()
	res, err := l.open(ctx, in)

	out := Outcome{Op: "open", AccountID: in.ID, AccountType: in.Type, Err: err, Duration: time.Since(start)}
	if in.Opening != nil {
		out.Kind = in.Opening.Kind
	}
	if err == nil {
		out.AccountID = res.Account.ID
		out.Account = &res.Account
		if res.Entry.ID != 0 {
			out.Entry = &res.Entry
		}
	}
	l.observe(ctx, out)
	return res, err
}

func (l *Ledger) open(ctx context.Context, in OpenInput) (Result, error) {
	schema, err := LookupSchema(in.Type)
	if err != nil {
		return Result{}, err
	}
	if in.OwnerID == "" {
		return Result{}, fmt.Errorf("%w: owner id is required", ErrInvalidCommand)
	}

	id := in.ID
	if id == "" {
		id = AccountID(uuid.NewString())
	}
	at := in.At
	if at.IsZero() {
		at = l.clock()
	}

	zero := make(Balances, len(schema.Balances))
	for _, b := range schema.Balances {
		zero[b] = decimal.Zero
	}
	acct := Account{
		ID:         id,
		Type:       schema.Type,
		OwnerID:    in.OwnerID,
		State:      schema.InitialState,
		Opening:    zero,
		Balances:   zero.Clone(),
		Attributes: in.Attributes,
		CreatedAt:  at,
		UpdatedAt:  at,
	}

	var entries []Entry
	if in.Opening != nil {
		cmd := *in.Opening
		cmd.AccountID = id
		if err := cmd.Validate(); err != nil {
			return Result{}, err
		}
		entry, next, err := plan(schema, acct, cmd, at, true)
		if err != nil {
			return Result{}, err
		}
		acct.Balances = next
		acct.Version = 1
		acct.LastEntryAt = at
		entries = append(entries, entry)
	}

	stored, committed, err := l.store.CreateAccount(ctx, acct.Clone(), entries)
	if err != nil {
		// An owner conflict on a closable type means a session is still
		// open. A taken id stays ErrAccountExists.
		if errors.Is(err, ErrAccountExists) && schema.Closable() && !l.idTaken(ctx, in.ID) {
			return Result{}, fmt.Errorf("%w: %s %s", ErrAlreadyOpen, schema.Type, in.OwnerID)
		}
		return Result{}, err
	}

	res := Result{Account: stored}
	if len(committed) > 0 {
		res.Entry = committed[0]
	}
	l.logger.Debug().
		Str("account_id", string(stored.ID)).
		Str("account_type", string(stored.Type)).
		Str("owner_id", stored.OwnerID).
		Msg("ledger account opened")
	return res, nil
}

func (l *Ledger) idTaken(ctx context.Context, id AccountID) bool {
	if id == "" {
		return false
	}
	_, err := l.store.GetAccount(ctx, id)
	return err == nil
}

// =============================================================================
// APPLY
// =============================================================================

// BuildFunc derives a command from the locked, freshly read account. It runs
// inside the per-account critical section, so whatever it reads (including
// the log) is consistent with the balance it is applied to.
type BuildFunc func(ctx context.Context, acct Account) (Command, error)

// Apply appends one entry to cmd.AccountID and returns the new state.
func (l *Ledger) Apply(ctx context.Context, cmd Command) (Result, error) {
	return l.ApplyFunc(ctx, cmd.AccountID, func(context.Context, Account) (Command, error) {
		return cmd, nil
	})
}

// ApplyFunc runs build under the account lock and applies its command.
func (l *Ledger) ApplyFunc(ctx context.Context, id AccountID, build BuildFunc) (Result, error) {
	start := time.Now()
	out := Outcome{Op: "apply", AccountID: id}

	res, err := l.applyLocked(ctx, id, build, &out)

	out.Err = err
	out.Duration = time.Since(start)
	if err == nil {
		out.Account = &res.Account
		out.Entry = &res.Entry
	}
	l.observe(ctx, out)
	return res, err
}

func (l *Ledger) applyLocked(ctx context.Context, id AccountID, build BuildFunc, out *Outcome) (Result, error) {
	unlock, err := l.locker.Lock(ctx, LockKey(id))
	if err != nil {
		if errors.Is(err, ErrLockNotObtained) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: %v", ErrLockNotObtained, err)
	}
	defer unlock()

	for attempt := 0; ; attempt++ {
		res, err := l.applyOnce(ctx, id, build, out)
		if errors.Is(err, ErrConcurrentModification) && attempt < l.maxRetries {
			l.logger.Warn().
				Str("account_id", string(id)).
				Int("attempt", attempt+1).
				Msg("ledger version conflict, retrying")
			continue
		}
		return res, err
	}
}

func (l *Ledger) applyOnce(ctx context.Context, id AccountID, build BuildFunc, out *Outcome) (Result, error) {
	acct, err := l.store.GetAccount(ctx, id)
	if err != nil {
		return Result{}, err
	}
	out.AccountType = acct.Type

	schema, err := LookupSchema(acct.Type)
	if err != nil {
		return Result{}, err
	}

	cmd, err := build(ctx, acct.Clone())
	if err != nil {
		return Result{}, err
	}
	cmd.AccountID = id
	out.Kind = cmd.Kind
	if err := cmd.Validate(); err != nil {
		return Result{}, err
	}

	if cmd.IdempotencyKey != "" {
		prev, found, err := l.store.EntryByIdempotencyKey(ctx, id, cmd.IdempotencyKey)
		if err != nil {
			return Result{}, err
		}
		if found {
			return Result{}, &DuplicateEntryError{Entry: prev}
		}
	}

	at := cmd.At
	if at.IsZero() {
		at = l.clock()
	}

	entry, balances, err := plan(schema, acct, cmd, at, false)
	if err != nil {
		l.logger.Info().
			Str("account_id", string(id)).
			Str("kind", string(cmd.Kind)).
			Str("reason", Reason(err)).
			Msg("ledger entry rejected")
		return Result{}, err
	}

	rule, _ := schema.Rule(cmd.Kind)
	next := acct.Clone()
	next.Balances = balances
	next.Version = acct.Version + 1
	next.LastEntryAt = at
	next.UpdatedAt = at
	if rule.Terminal {
		next.State = StateClosed
	}

	committed, err := l.store.Commit(ctx, Commit{
		Account:         next,
		ExpectedVersion: acct.Version,
		Entry:           entry,
	})
	if err != nil {
		if !errors.Is(err, ErrConcurrentModification) {
			l.logger.Error().Err(err).
				Str("account_id", string(id)).
				Str("kind", string(cmd.Kind)).
				Msg("ledger commit failed")
		}
		return Result{}, err
	}
	next.LastEntryID = committed.ID

	l.logger.Debug().
		Str("account_id", string(id)).
		Str("kind", string(cmd.Kind)).
		Int64("entry_id", int64(committed.ID)).
		Int64("version", next.Version).
		Msg("ledger entry committed")

	return Result{Entry: committed.Clone(), Account: next}, nil
}

func (l *Ledger) observe(ctx context.Context, o Outcome) {
	for _, ls := range l.listeners {
		ls.Observe(ctx, o)
	}
}

// =============================================================================
// READS
// =============================================================================

// Account returns a copy of the account.
func (l *Ledger) Account(ctx context.Context, id AccountID) (Account, error) {
	acct, err := l.store.GetAccount(ctx, id)
	if err != nil {
		return Account{}, err
	}
	return acct.Clone(), nil
}

// Accounts lists accounts matching filter.
func (l *Ledger) Accounts(ctx context.Context, filter AccountFilter) ([]Account, error) {
	return l.store.ListAccounts(ctx, filter)
}

// EntriesSince yields the account's entries with CreatedAt >= since, in log
// order. The sequence is lazy (pages are fetched as it is consumed) and
// restartable (each range starts a fresh read). A zero since yields all.
func (l *Ledger) EntriesSince(ctx context.Context, id AccountID, since time.Time) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		if _, err := l.store.GetAccount(ctx, id); err != nil {
			yield(Entry{}, err)
			return
		}
		q := EntryQuery{AccountID: id, Since: since, Limit: l.pageSize}
		for {
			page, err := l.store.LoadEntries(ctx, q)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			for _, e := range page {
				if !yield(e.Clone(), nil) {
					return
				}
			}
			if len(page) < q.Limit {
				return
			}
			q.After = CursorOf(page[len(page)-1])
		}
	}
}

// Collect drains an entry sequence into a slice.
func Collect(seq iter.Seq2[Entry, error]) ([]Entry, error) {
	var out []Entry
	for e, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
