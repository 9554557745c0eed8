// Package store provides an in-memory ledger.Store.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/pos-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	seq         ledger.EntryID
	accounts    map[ledger.AccountID]ledger.Account
	entries     map[ledger.AccountID][]ledger.Entry
	idempotency map[idemKey]ledger.EntryID
	byID        map[ledger.EntryID]ledger.Entry
}

type idemKey struct {
	AccountID ledger.AccountID
	Key       string
}

func NewMemory() *Memory {
	return &Memory{
		accounts:    make(map[ledger.AccountID]ledger.Account),
		entries:     make(map[ledger.AccountID][]ledger.Entry),
		idempotency: make(map[idemKey]ledger.EntryID),
		byID:        make(map[ledger.EntryID]ledger.Entry),
	}
}

var _ ledger.Store = (*Memory)(nil)

func (m *Memory) CreateAccount(_ context.Context, acct ledger.Account, entries []ledger.Entry) (ledger.Account, []ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[acct.ID]; ok {
		return ledger.Account{}, nil, fmt.Errorf("%w: %s", ledger.ErrAccountExists, acct.ID)
	}
	for _, other := range m.accounts {
		if other.Type == acct.Type && other.OwnerID == acct.OwnerID && !other.IsClosed() {
			return ledger.Account{}, nil, fmt.Errorf("%w: %s %s has %s", ledger.ErrAccountExists, acct.Type, acct.OwnerID, other.ID)
		}
	}

	// Check all idempotency keys first so the write is all or nothing.
	for _, e := range entries {
		if e.IdempotencyKey == "" {
			continue
		}
		if _, dup := m.idempotency[idemKey{acct.ID, e.IdempotencyKey}]; dup {
			return ledger.Account{}, nil, fmt.Errorf("%w: %s", ledger.ErrDuplicateIdempotencyKey, e.IdempotencyKey)
		}
	}

	committed := make([]ledger.Entry, 0, len(entries))
	for _, e := range entries {
		committed = append(committed, m.appendLocked(e))
		acct.LastEntryID = committed[len(committed)-1].ID
	}
	m.accounts[acct.ID] = acct.Clone()
	return acct.Clone(), committed, nil
}

func (m *Memory) GetAccount(_ context.Context, id ledger.AccountID) (ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[id]
	if !ok {
		return ledger.Account{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, id)
	}
	return acct.Clone(), nil
}

func (m *Memory) ListAccounts(_ context.Context, filter ledger.AccountFilter) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.Account
	for _, acct := range m.accounts {
		if filter.Matches(acct) {
			out = append(out, acct.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Commit appends the entry and swaps the account row if the version matches.
func (m *Memory) Commit(_ context.Context, c ledger.Commit) (ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := c.Account.ID
	current, ok := m.accounts[id]
	if !ok {
		return ledger.Entry{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, id)
	}
	if current.Version != c.ExpectedVersion {
		return ledger.Entry{}, fmt.Errorf("%w: %s at version %d, expected %d",
			ledger.ErrConcurrentModification, id, current.Version, c.ExpectedVersion)
	}
	if key := c.Entry.IdempotencyKey; key != "" {
		if prev, dup := m.idempotency[idemKey{id, key}]; dup {
			return ledger.Entry{}, &ledger.DuplicateEntryError{Entry: m.byID[prev].Clone()}
		}
	}

	entry := m.appendLocked(c.Entry)
	acct := c.Account.Clone()
	acct.LastEntryID = entry.ID
	m.accounts[id] = acct
	return entry, nil
}

// appendLocked assigns the next id and inserts e in (CreatedAt, ID) order.
func (m *Memory) appendLocked(e ledger.Entry) ledger.Entry {
	m.seq++
	e = e.Clone()
	e.ID = m.seq

	txs := m.entries[e.AccountID]
	i := sort.Search(len(txs), func(i int) bool { return e.Before(txs[i]) })
	txs = append(txs, ledger.Entry{})
	copy(txs[i+1:], txs[i:])
	txs[i] = e
	m.entries[e.AccountID] = txs

	m.byID[e.ID] = e
	if e.IdempotencyKey != "" {
		m.idempotency[idemKey{e.AccountID, e.IdempotencyKey}] = e.ID
	}
	return e.Clone()
}

func (m *Memory) LoadEntries(_ context.Context, q ledger.EntryQuery) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.Entry
	for _, e := range m.entries[q.AccountID] {
		if !q.Keeps(e) {
			continue
		}
		out = append(out, e.Clone())
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) EntryByIdempotencyKey(_ context.Context, id ledger.AccountID, key string) (ledger.Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entryID, ok := m.idempotency[idemKey{id, key}]
	if !ok {
		return ledger.Entry{}, false, nil
	}
	return m.byID[entryID].Clone(), true, nil
}

// Len returns the number of entries stored for an account.
func (m *Memory) Len(id ledger.AccountID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries[id])
}
