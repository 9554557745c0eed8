/*
store.go - Persistence interface for accounts and their transaction logs

PURPOSE:
  Defines the boundary between the ledger algorithm and the database. The
  engine is parameterized over Store rather than holding any process-wide
  connection.

APPEND-ONLY CONTRACT:
  - CreateAccount(): writes the account row and its opening entries
  - Commit():        appends ONE entry and writes the new balance/version
  - NO method updates or deletes an entry

ATOMIC COMMIT:
  Commit() must write the entry and the account row in one transaction and
  only if the stored version still equals ExpectedVersion. On a version
  mismatch it returns ErrConcurrentModification and writes nothing. This is
  the optimistic half of the concurrency model; the per-account Locker is
  the pessimistic half.

ORDERING:
  Entries are totally ordered by (CreatedAt, ID) within an account.
  LoadEntries pages through that order.

IMPLEMENTATIONS:
  - ledger/store/memory.go:     in-memory for tests and development
  - store/sqlstore/sqlstore.go: SQLite and PostgreSQL via sqlx
*/
package ledger

import (
	"context"
	"time"
)

// Store handles persistence of accounts and entries.
type Store interface {
	// CreateAccount persists a new account with its opening entries.
	// Returns ErrAccountExists if the id is taken or another non-closed
	// account of the same type exists for the same owner.
	// The returned account and entries carry store-assigned entry ids.
	CreateAccount(ctx context.Context, acct Account, entries []Entry) (Account, []Entry, error)

	// GetAccount returns ErrAccountNotFound when the id is unknown.
	GetAccount(ctx context.Context, id AccountID) (Account, error)

	ListAccounts(ctx context.Context, filter AccountFilter) ([]Account, error)

	// Commit appends c.Entry and replaces the account row with c.Account,
	// conditional on the stored version equal to c.ExpectedVersion.
	Commit(ctx context.Context, c Commit) (Entry, error)

	// LoadEntries returns one page of entries in (CreatedAt, ID) order.
	LoadEntries(ctx context.Context, q EntryQuery) ([]Entry, error)

	// EntryByIdempotencyKey looks up an entry by its per-account key.
	EntryByIdempotencyKey(ctx context.Context, id AccountID, key string) (Entry, bool, error)
}

// Commit is one atomic write: an entry and the account state after it.
type Commit struct {
	Account         Account
	ExpectedVersion int64
	Entry           Entry
}

// AccountFilter narrows ListAccounts. Zero fields match everything.
type AccountFilter struct {
	Type    AccountType
	OwnerID string
	State   State
	IDs     []AccountID
}

func (f AccountFilter) Matches(a Account) bool {
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.OwnerID != "" && a.OwnerID != f.OwnerID {
		return false
	}
	if f.State != "" && a.State != f.State {
		return false
	}
	if len(f.IDs) > 0 {
		for _, id := range f.IDs {
			if id == a.ID {
				return true
			}
		}
		return false
	}
	return true
}

// EntryQuery selects a page of one account's log.
type EntryQuery struct {
	AccountID AccountID

	// Since keeps entries with CreatedAt >= Since. Zero keeps all.
	Since time.Time

	// After resumes strictly after this position.
	After *Cursor

	Limit int
}

// Cursor is a position in the (CreatedAt, ID) order.
type Cursor struct {
	At time.Time
	ID EntryID
}

// CursorOf returns the position of e.
func CursorOf(e Entry) *Cursor { return &Cursor{At: e.CreatedAt, ID: e.ID} }

// Keeps reports whether e belongs to the page selected by q, ignoring Limit.
func (q EntryQuery) Keeps(e Entry) bool {
	if e.AccountID != q.AccountID {
		return false
	}
	if !q.Since.IsZero() && e.CreatedAt.Before(q.Since) {
		return false
	}
	if q.After != nil {
		if e.CreatedAt.Before(q.After.At) {
			return false
		}
		if e.CreatedAt.Equal(q.After.At) && e.ID <= q.After.ID {
			return false
		}
	}
	return true
}
