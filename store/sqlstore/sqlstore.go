/*
Package sqlstore provides a SQL implementation of ledger.Store.

PURPOSE:
  Persists accounts and their transaction logs in SQLite or PostgreSQL
  through sqlx. The two dialects share every statement; only the id column
  of the entry table and the bind style differ.

APPEND-ONLY ENFORCEMENT:
  - ledger_entries rows are INSERTed and never UPDATEd or DELETEd
  - ledger_accounts is the only mutable table (balances, state, version)

KEY TABLES:
  ledger_accounts: one row per account, balances as JSON, version counter
  ledger_entries:  the log, postings as JSON, ordered by (created_at, id)

INDEXES:
  - idx_ledger_accounts_owner:       one non-closed account per (type, owner)
  - idx_ledger_entries_idempotency:  idempotency keys unique per account
  - idx_ledger_entries_account_time: EntriesSince paging (hot path)

ATOMIC COMMIT:
  Commit() inserts the entry and updates the account row in one database
  transaction. The UPDATE is conditional on the version the ledger read:

    UPDATE ledger_accounts SET ..., version = ? WHERE id = ? AND version = ?

  Zero rows affected means another writer won; the transaction is rolled
  back and ErrConcurrentModification returned.

TIMESTAMPS:
  Stored as fixed-width UTC text so that lexical order is time order in both
  dialects.

USAGE:
  s, err := sqlstore.Open(ctx, "sqlite3", ":memory:")
  if err != nil {
      log.Fatal(err)
  }
  defer s.Close()

  l := ledger.New(s)

SEE ALSO:
  - ledger/store.go:        interface definition
  - ledger/store/memory.go: in-memory implementation for tests
*/
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/warp/pos-ledger/ledger"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// Store implements ledger.Store on a sqlx database handle.
type Store struct {
	db     *sqlx.DB
	driver string
	logger zerolog.Logger
}

var _ ledger.Store = (*Store)(nil)

type Option func(*Store)

func WithLogger(logger zerolog.Logger) Option { return func(s *Store) { s.logger = logger } }

// Open connects to the database and migrates the schema.
// For SQLite use ":memory:" or a file path as dsn.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	switch driver {
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// One connection: SQLite has a single writer, and every connection
		// to ":memory:" would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
		db.SetConnMaxIdleTime(1 * time.Minute)
	}

	s, err := New(ctx, db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle and migrates the schema.
func New(ctx context.Context, db *sqlx.DB, opts ...Option) (*Store, error) {
	s := &Store{db: db, driver: db.DriverName(), logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn
	}
	if dsn == ":memory:" {
		return "file::memory:?_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for health checks.
func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) migrate(ctx context.Context) error {
	idColumn := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == DriverPostgres {
		idColumn = "BIGSERIAL PRIMARY KEY"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS ledger_accounts (
			id TEXT PRIMARY KEY,
			account_type TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			state TEXT NOT NULL,
			opening TEXT NOT NULL,
			balances TEXT NOT NULL,
			attributes TEXT,
			version BIGINT NOT NULL DEFAULT 0,
			last_entry_id BIGINT NOT NULL DEFAULT 0,
			last_entry_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,

		// A register may only have one open session at a time.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_accounts_owner
			ON ledger_accounts(account_type, owner_id) WHERE state <> 'closed'`,

		`CREATE INDEX IF NOT EXISTS idx_ledger_accounts_type
			ON ledger_accounts(account_type, state)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS ledger_entries (
			id %s,
			account_id TEXT NOT NULL REFERENCES ledger_accounts(id),
			account_type TEXT NOT NULL,
			kind TEXT NOT NULL,
			postings TEXT NOT NULL,
			actor TEXT NOT NULL,
			reference_type TEXT,
			reference_id TEXT,
			idempotency_key TEXT,
			notes TEXT NOT NULL DEFAULT '',
			metadata TEXT,
			expires_at TEXT,
			created_at TEXT NOT NULL
		)`, idColumn),

		`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_entries_idempotency
			ON ledger_entries(account_id, idempotency_key) WHERE idempotency_key IS NOT NULL`,

		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_account_time
			ON ledger_entries(account_id, created_at, id)`,

		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_reference
			ON ledger_entries(reference_type, reference_id) WHERE reference_id IS NOT NULL`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	s.logger.Debug().Str("driver", s.driver).Msg("ledger schema migrated")
	return nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `id, account_type, owner_id, state, opening, balances, attributes,
	version, last_entry_id, last_entry_at, created_at, updated_at`

func (s *Store) CreateAccount(ctx context.Context, acct ledger.Account, entries []ledger.Entry) (ledger.Account, []ledger.Entry, error) {
	row, err := toAccountRow(acct)
	if err != nil {
		return ledger.Account{}, nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ledger.Account{}, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `INSERT INTO ledger_accounts (`+accountColumns+`)
		VALUES (:id, :account_type, :owner_id, :state, :opening, :balances, :attributes,
			:version, :last_entry_id, :last_entry_at, :created_at, :updated_at)`, row)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.Account{}, nil, fmt.Errorf("%w: %s %s %s", ledger.ErrAccountExists, acct.ID, acct.Type, acct.OwnerID)
		}
		return ledger.Account{}, nil, fmt.Errorf("insert account: %w", err)
	}

	committed := make([]ledger.Entry, 0, len(entries))
	for _, e := range entries {
		stored, err := s.insertEntry(ctx, tx, e)
		if err != nil {
			if isUniqueViolation(err) {
				return ledger.Account{}, nil, fmt.Errorf("%w: %s", ledger.ErrDuplicateIdempotencyKey, e.IdempotencyKey)
			}
			return ledger.Account{}, nil, err
		}
		committed = append(committed, stored)
		acct.LastEntryID = stored.ID
	}

	if acct.LastEntryID != 0 {
		_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE ledger_accounts SET last_entry_id = ? WHERE id = ?`),
			int64(acct.LastEntryID), string(acct.ID))
		if err != nil {
			return ledger.Account{}, nil, fmt.Errorf("update account: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ledger.Account{}, nil, fmt.Errorf("commit tx: %w", err)
	}
	return acct.Clone(), committed, nil
}

func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+accountColumns+` FROM ledger_accounts WHERE id = ?`), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, id)
	}
	if err != nil {
		return ledger.Account{}, fmt.Errorf("get account %s: %w", id, err)
	}
	return row.account()
}

func (s *Store) ListAccounts(ctx context.Context, filter ledger.AccountFilter) ([]ledger.Account, error) {
	var (
		where []string
		args  []any
	)
	if filter.Type != "" {
		where = append(where, "account_type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}
	if len(filter.IDs) > 0 {
		ids := make([]string, len(filter.IDs))
		for i, id := range filter.IDs {
			ids[i] = string(id)
		}
		where = append(where, "id IN (?)")
		args = append(args, ids)
	}

	query := `SELECT ` + accountColumns + ` FROM ledger_accounts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id`

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("expand account query: %w", err)
	}

	var rows []accountRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	out := make([]ledger.Account, 0, len(rows))
	for _, row := range rows {
		acct, err := row.account()
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, nil
}

// =============================================================================
// COMMIT
// =============================================================================

// Commit appends the entry and swaps the account row if the version matches.
func (s *Store) Commit(ctx context.Context, c ledger.Commit) (ledger.Entry, error) {
	id := c.Account.ID
	row, err := toAccountRow(c.Account)
	if err != nil {
		return ledger.Entry{}, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	entry, err := s.insertEntry(ctx, tx, c.Entry)
	if err != nil {
		if isUniqueViolation(err) {
			// The failed statement aborts a postgres transaction, so the
			// original entry is read outside of it.
			tx.Rollback()
			return ledger.Entry{}, s.duplicate(ctx, id, c.Entry.IdempotencyKey)
		}
		if isForeignKeyViolation(err) {
			return ledger.Entry{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, id)
		}
		return ledger.Entry{}, err
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE ledger_accounts
		SET state = ?, balances = ?, attributes = ?, version = ?, last_entry_id = ?, last_entry_at = ?, updated_at = ?
		WHERE id = ? AND version = ?`),
		row.State, row.Balances, row.Attributes, row.Version, int64(entry.ID), row.LastEntryAt, row.UpdatedAt,
		string(id), c.ExpectedVersion)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("update account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		tx.Rollback()
		if _, err := s.GetAccount(ctx, id); err != nil {
			return ledger.Entry{}, err
		}
		return ledger.Entry{}, fmt.Errorf("%w: %s, expected version %d", ledger.ErrConcurrentModification, id, c.ExpectedVersion)
	}

	if err := tx.Commit(); err != nil {
		return ledger.Entry{}, fmt.Errorf("commit tx: %w", err)
	}
	return entry, nil
}

func (s *Store) duplicate(ctx context.Context, id ledger.AccountID, key string) error {
	prev, ok, err := s.EntryByIdempotencyKey(ctx, id, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrDuplicateIdempotencyKey, key)
	}
	return &ledger.DuplicateEntryError{Entry: prev}
}

func (s *Store) insertEntry(ctx context.Context, tx *sqlx.Tx, e ledger.Entry) (ledger.Entry, error) {
	row, err := toEntryRow(e)
	if err != nil {
		return ledger.Entry{}, err
	}

	var id int64
	err = tx.QueryRowxContext(ctx, tx.Rebind(`INSERT INTO ledger_entries
		(account_id, account_type, kind, postings, actor, reference_type, reference_id,
		 idempotency_key, notes, metadata, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		row.AccountID, row.AccountType, row.Kind, row.Postings, row.Actor, row.ReferenceType, row.ReferenceID,
		row.IdempotencyKey, row.Notes, row.Metadata, row.ExpiresAt, row.CreatedAt,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) || isForeignKeyViolation(err) {
			return ledger.Entry{}, err
		}
		return ledger.Entry{}, fmt.Errorf("insert entry: %w", err)
	}

	out := e.Clone()
	out.ID = ledger.EntryID(id)
	return out, nil
}

// =============================================================================
// LOG QUERIES
// =============================================================================

const entryColumns = `id, account_id, account_type, kind, postings, actor, reference_type, reference_id,
	idempotency_key, notes, metadata, expires_at, created_at`

func (s *Store) LoadEntries(ctx context.Context, q ledger.EntryQuery) ([]ledger.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE account_id = ?`
	args := []any{string(q.AccountID)}
	if !q.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, formatTime(q.Since))
	}
	if q.After != nil {
		at := formatTime(q.After.At)
		query += ` AND (created_at > ? OR (created_at = ? AND id > ?))`
		args = append(args, at, at, int64(q.After.ID))
	}
	query += ` ORDER BY created_at, id`
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, q.Limit)
	}

	var rows []entryRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load entries %s: %w", q.AccountID, err)
	}
	out := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		e, err := row.entry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) EntryByIdempotencyKey(ctx context.Context, id ledger.AccountID, key string) (ledger.Entry, bool, error) {
	var row entryRow
	err := s.db.GetContext(ctx, &row,
		s.db.Rebind(`SELECT `+entryColumns+` FROM ledger_entries WHERE account_id = ? AND idempotency_key = ?`),
		string(id), key)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, fmt.Errorf("lookup idempotency key: %w", err)
	}
	e, err := row.entry()
	if err != nil {
		return ledger.Entry{}, false, err
	}
	return e, true, nil
}

// CountEntries returns the number of log rows of an account.
func (s *Store) CountEntries(ctx context.Context, id ledger.AccountID) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM ledger_entries WHERE account_id = ?`), string(id))
	return n, err
}

// =============================================================================
// ROWS
// =============================================================================

type accountRow struct {
	ID          string         `db:"id"`
	AccountType string         `db:"account_type"`
	OwnerID     string         `db:"owner_id"`
	State       string         `db:"state"`
	Opening     string         `db:"opening"`
	Balances    string         `db:"balances"`
	Attributes  sql.NullString `db:"attributes"`
	Version     int64          `db:"version"`
	LastEntryID int64          `db:"last_entry_id"`
	LastEntryAt sql.NullString `db:"last_entry_at"`
	CreatedAt   string         `db:"created_at"`
	UpdatedAt   string         `db:"updated_at"`
}

func toAccountRow(a ledger.Account) (accountRow, error) {
	opening, err := json.Marshal(a.Opening)
	if err != nil {
		return accountRow{}, fmt.Errorf("encode opening: %w", err)
	}
	balances, err := json.Marshal(a.Balances)
	if err != nil {
		return accountRow{}, fmt.Errorf("encode balances: %w", err)
	}
	attrs, err := marshalMap(a.Attributes)
	if err != nil {
		return accountRow{}, fmt.Errorf("encode attributes: %w", err)
	}
	row := accountRow{
		ID:          string(a.ID),
		AccountType: string(a.Type),
		OwnerID:     a.OwnerID,
		State:       string(a.State),
		Opening:     string(opening),
		Balances:    string(balances),
		Attributes:  attrs,
		Version:     a.Version,
		LastEntryID: int64(a.LastEntryID),
		CreatedAt:   formatTime(a.CreatedAt),
		UpdatedAt:   formatTime(a.UpdatedAt),
	}
	if !a.LastEntryAt.IsZero() {
		row.LastEntryAt = nullString(formatTime(a.LastEntryAt))
	}
	return row, nil
}

func (r accountRow) account() (ledger.Account, error) {
	a := ledger.Account{
		ID:          ledger.AccountID(r.ID),
		Type:        ledger.AccountType(r.AccountType),
		OwnerID:     r.OwnerID,
		State:       ledger.State(r.State),
		Version:     r.Version,
		LastEntryID: ledger.EntryID(r.LastEntryID),
	}
	if err := json.Unmarshal([]byte(r.Opening), &a.Opening); err != nil {
		return ledger.Account{}, fmt.Errorf("decode opening of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Balances), &a.Balances); err != nil {
		return ledger.Account{}, fmt.Errorf("decode balances of %s: %w", r.ID, err)
	}
	if r.Attributes.Valid {
		if err := json.Unmarshal([]byte(r.Attributes.String), &a.Attributes); err != nil {
			return ledger.Account{}, fmt.Errorf("decode attributes of %s: %w", r.ID, err)
		}
	}
	var err error
	if a.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return ledger.Account{}, err
	}
	if a.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return ledger.Account{}, err
	}
	if r.LastEntryAt.Valid {
		if a.LastEntryAt, err = parseTime(r.LastEntryAt.String); err != nil {
			return ledger.Account{}, err
		}
	}
	return a, nil
}

type entryRow struct {
	ID             int64          `db:"id"`
	AccountID      string         `db:"account_id"`
	AccountType    string         `db:"account_type"`
	Kind           string         `db:"kind"`
	Postings       string         `db:"postings"`
	Actor          string         `db:"actor"`
	ReferenceType  sql.NullString `db:"reference_type"`
	ReferenceID    sql.NullString `db:"reference_id"`
	IdempotencyKey sql.NullString `db:"idempotency_key"`
	Notes          string         `db:"notes"`
	Metadata       sql.NullString `db:"metadata"`
	ExpiresAt      sql.NullString `db:"expires_at"`
	CreatedAt      string         `db:"created_at"`
}

func toEntryRow(e ledger.Entry) (entryRow, error) {
	postings, err := json.Marshal(e.Postings)
	if err != nil {
		return entryRow{}, fmt.Errorf("encode postings: %w", err)
	}
	meta, err := marshalMap(e.Metadata)
	if err != nil {
		return entryRow{}, fmt.Errorf("encode metadata: %w", err)
	}
	row := entryRow{
		AccountID:      string(e.AccountID),
		AccountType:    string(e.AccountType),
		Kind:           string(e.Kind),
		Postings:       string(postings),
		Actor:          e.Actor,
		IdempotencyKey: nullString(e.IdempotencyKey),
		Notes:          e.Notes,
		Metadata:       meta,
		CreatedAt:      formatTime(e.CreatedAt),
	}
	if e.Reference != nil {
		row.ReferenceType = nullString(e.Reference.Type)
		row.ReferenceID = nullString(e.Reference.ID)
	}
	if e.ExpiresAt != nil {
		row.ExpiresAt = nullString(formatTime(*e.ExpiresAt))
	}
	return row, nil
}

func (r entryRow) entry() (ledger.Entry, error) {
	e := ledger.Entry{
		ID:             ledger.EntryID(r.ID),
		AccountID:      ledger.AccountID(r.AccountID),
		AccountType:    ledger.AccountType(r.AccountType),
		Kind:           ledger.Kind(r.Kind),
		Actor:          r.Actor,
		IdempotencyKey: r.IdempotencyKey.String,
		Notes:          r.Notes,
	}
	if err := json.Unmarshal([]byte(r.Postings), &e.Postings); err != nil {
		return ledger.Entry{}, fmt.Errorf("decode postings of entry %d: %w", r.ID, err)
	}
	if r.Metadata.Valid {
		if err := json.Unmarshal([]byte(r.Metadata.String), &e.Metadata); err != nil {
			return ledger.Entry{}, fmt.Errorf("decode metadata of entry %d: %w", r.ID, err)
		}
	}
	if r.ReferenceType.Valid || r.ReferenceID.Valid {
		e.Reference = &ledger.Reference{Type: r.ReferenceType.String, ID: r.ReferenceID.String}
	}
	var err error
	if e.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return ledger.Entry{}, err
	}
	if r.ExpiresAt.Valid {
		t, err := parseTime(r.ExpiresAt.String)
		if err != nil {
			return ledger.Entry{}, err
		}
		e.ExpiresAt = &t
	}
	return e, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func marshalMap(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	return false
}
