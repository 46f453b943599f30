/*
Package sqlite provides the embedded production implementation of every
persistence contract.

PURPOSE:
  One SQLite database holds the wallet rows, the append-only journal, the
  transfer records, the webhook inbox and the PIX keys. The same schema
  shape applies to PostgreSQL (see store/postgres) - only dialect details
  differ.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statement ever touches ledger_entry or
  webhook_inbox. The only UPDATE in this package is the version-guarded
  transfer status write.

UNIQUE INDEXES AS GUARDS:
  - ledger_entry.idempotency_key  one journal row per key
  - transfer.end_to_end_id        one transfer per correlation id
  - transfer.idempotency_key      one transfer per creation key
  - webhook_inbox.event_id        one inbox row per delivery
  Violations surface as ledger.ErrDuplicateIdempotencyKey so callers can
  take their replay path.

CONCURRENCY:
  Opened in WAL mode; a store-level mutex serializes write transactions
  (SQLite allows one writer at a time anyway), which also closes the
  reserve/withdraw check-then-append race. LockWallet is therefore a
  no-op here; the Postgres store locks the wallet row instead.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/brpix/wallet-engine/ledger"
	"github.com/brpix/wallet-engine/pixkey"
	"github.com/brpix/wallet-engine/transfer"
	"github.com/brpix/wallet-engine/wallet"
)

// Store owns the database handle and exposes the domain sub-stores.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes write transactions

	Ledger    *LedgerStore
	Wallets   *WalletStore
	Transfers *TransferStore
	Inbox     *InboxStore
	PixKeys   *PixKeyStore
}

// New opens (and migrates) a SQLite store. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ":memory:" databases coherent and matches
	// SQLite's one-writer model.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	s.Ledger = &LedgerStore{q: db, root: s}
	s.Wallets = &WalletStore{q: db}
	s.Transfers = &TransferStore{q: db}
	s.Inbox = &InboxStore{q: db}
	s.PixKeys = &PixKeyStore{q: db}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS wallet (
		id         TEXT PRIMARY KEY,
		status     TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Append-only journal. No UPDATE, no DELETE.
	CREATE TABLE IF NOT EXISTS ledger_entry (
		id              TEXT PRIMARY KEY,
		wallet_id       TEXT NOT NULL REFERENCES wallet(id),
		operation       TEXT NOT NULL,
		amount          TEXT NOT NULL,
		currency        TEXT NOT NULL,
		effective_at    TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		transfer_id     TEXT,
		created_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_entry_wallet_effective
		ON ledger_entry(wallet_id, effective_at);
	CREATE INDEX IF NOT EXISTS idx_ledger_entry_transfer
		ON ledger_entry(transfer_id) WHERE transfer_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS transfer (
		id              TEXT PRIMARY KEY,
		end_to_end_id   TEXT NOT NULL UNIQUE,
		from_wallet_id  TEXT NOT NULL REFERENCES wallet(id),
		to_wallet_id    TEXT NOT NULL REFERENCES wallet(id),
		amount          TEXT NOT NULL,
		currency        TEXT NOT NULL,
		status          TEXT NOT NULL,
		version         INTEGER NOT NULL,
		idempotency_key TEXT NOT NULL UNIQUE,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transfer_from ON transfer(from_wallet_id);
	CREATE INDEX IF NOT EXISTS idx_transfer_to   ON transfer(to_wallet_id);

	CREATE TABLE IF NOT EXISTS webhook_inbox (
		id            TEXT PRIMARY KEY,
		event_id      TEXT NOT NULL UNIQUE,
		end_to_end_id TEXT NOT NULL,
		event_type    TEXT NOT NULL,
		occurred_at   TEXT NOT NULL,
		received_at   TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pix_key (
		id         TEXT PRIMARY KEY,
		wallet_id  TEXT NOT NULL REFERENCES wallet(id),
		key_type   TEXT NOT NULL,
		key_value  TEXT NOT NULL UNIQUE,
		status     TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// timeLayout is fixed-width so the TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func parseAmount(value, currency string) (ledger.Amount, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return ledger.Amount{}, fmt.Errorf("corrupt amount %q: %w", value, err)
	}
	return ledger.NewAmount(d, ledger.Currency(currency)), nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt timestamp %q: %w", s, err)
	}
	return t, nil
}

// =============================================================================
// LEDGER STORE - implements ledger.TxStore
// =============================================================================

type LedgerStore struct {
	q    querier
	root *Store // nil inside a transaction
}

func (l *LedgerStore) Append(ctx context.Context, e ledger.Entry) error {
	key := sql.NullString{String: e.IdempotencyKey, Valid: e.IdempotencyKey != ""}
	transferID := sql.NullString{String: e.TransferID, Valid: e.TransferID != ""}

	_, err := l.q.ExecContext(ctx, `
		INSERT INTO ledger_entry
			(id, wallet_id, operation, amount, currency, effective_at, idempotency_key, transfer_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.ID), string(e.WalletID), string(e.Operation),
		e.Amount.Value.String(), string(e.Amount.Currency),
		e.EffectiveAt.UTC().Format(timeLayout), key, transferID,
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if isUniqueViolation(err) {
		return ledger.ErrDuplicateIdempotencyKey
	}
	return err
}

func (l *LedgerStore) Entries(ctx context.Context, walletID ledger.WalletID) ([]ledger.Entry, error) {
	return l.scanEntries(ctx, `
		SELECT id, wallet_id, operation, amount, currency, effective_at, idempotency_key, transfer_id, created_at
		FROM ledger_entry WHERE wallet_id = ? ORDER BY effective_at, created_at`,
		string(walletID))
}

func (l *LedgerStore) EntriesAsOf(ctx context.Context, walletID ledger.WalletID, at time.Time) ([]ledger.Entry, error) {
	return l.scanEntries(ctx, `
		SELECT id, wallet_id, operation, amount, currency, effective_at, idempotency_key, transfer_id, created_at
		FROM ledger_entry WHERE wallet_id = ? AND effective_at <= ? ORDER BY effective_at, created_at`,
		string(walletID), at.UTC().Format(timeLayout))
}

func (l *LedgerStore) scanEntries(ctx context.Context, query string, args ...any) ([]ledger.Entry, error) {
	rows, err := l.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *LedgerStore) ExistsKey(ctx context.Context, key string) (bool, error) {
	var n int
	err := l.q.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM ledger_entry WHERE idempotency_key = ?`, key).Scan(&n)
	return n > 0, err
}

func (l *LedgerStore) EntryByKey(ctx context.Context, key string) (ledger.Entry, bool, error) {
	row := l.q.QueryRowContext(ctx, `
		SELECT id, wallet_id, operation, amount, currency, effective_at, idempotency_key, transfer_id, created_at
		FROM ledger_entry WHERE idempotency_key = ?`, key)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, err
	}
	return e, true, nil
}

// LockWallet is a no-op: the store mutex serializes write transactions.
func (l *LedgerStore) LockWallet(context.Context, ledger.WalletID) error { return nil }

func (l *LedgerStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if l.root == nil {
		// Already transactional; run in place.
		return fn(l)
	}

	l.root.mu.Lock()
	defer l.root.mu.Unlock()

	tx, err := l.root.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&LedgerStore{q: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanEntry(r rowScanner) (ledger.Entry, error) {
	var (
		id, walletID, op       string
		amount, currency       string
		effectiveAt, createdAt string
		idemKey, transferID    sql.NullString
	)
	if err := r.Scan(&id, &walletID, &op, &amount, &currency, &effectiveAt, &idemKey, &transferID, &createdAt); err != nil {
		return ledger.Entry{}, err
	}
	amt, err := parseAmount(amount, currency)
	if err != nil {
		return ledger.Entry{}, err
	}
	eff, err := parseTime(effectiveAt)
	if err != nil {
		return ledger.Entry{}, err
	}
	crt, err := parseTime(createdAt)
	if err != nil {
		return ledger.Entry{}, err
	}
	return ledger.Entry{
		ID:             ledger.EntryID(id),
		WalletID:       ledger.WalletID(walletID),
		Operation:      ledger.Operation(op),
		Amount:         amt,
		EffectiveAt:    eff,
		IdempotencyKey: idemKey.String,
		TransferID:     transferID.String,
		CreatedAt:      crt,
	}, nil
}

// =============================================================================
// WALLET STORE - implements wallet.Store
// =============================================================================

type WalletStore struct {
	q querier
}

func (w *WalletStore) Create(ctx context.Context, wl wallet.Wallet) (wallet.Wallet, error) {
	_, err := w.q.ExecContext(ctx,
		`INSERT INTO wallet (id, status, created_at) VALUES (?, ?, ?)`,
		string(wl.ID), string(wl.Status), wl.CreatedAt.UTC().Format(timeLayout))
	return wl, err
}

func (w *WalletStore) ByID(ctx context.Context, id ledger.WalletID) (wallet.Wallet, error) {
	var status, createdAt string
	err := w.q.QueryRowContext(ctx,
		`SELECT status, created_at FROM wallet WHERE id = ?`, string(id)).
		Scan(&status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return wallet.Wallet{}, ledger.ErrWalletNotFound
	}
	if err != nil {
		return wallet.Wallet{}, err
	}
	crt, err := parseTime(createdAt)
	if err != nil {
		return wallet.Wallet{}, err
	}
	return wallet.Wallet{ID: id, Status: wallet.Status(status), CreatedAt: crt}, nil
}

// =============================================================================
// TRANSFER STORE - implements transfer.Store
// =============================================================================

type TransferStore struct {
	q querier
}

func (t *TransferStore) Create(ctx context.Context, tr transfer.Transfer) (transfer.Transfer, error) {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO transfer
			(id, end_to_end_id, from_wallet_id, to_wallet_id, amount, currency, status, version, idempotency_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.EndToEndID, string(tr.FromWalletID), string(tr.ToWalletID),
		tr.Amount.Value.String(), string(tr.Amount.Currency),
		string(tr.Status), tr.Version, tr.IdempotencyKey,
		tr.CreatedAt.UTC().Format(timeLayout), tr.UpdatedAt.UTC().Format(timeLayout),
	)
	if isUniqueViolation(err) {
		return transfer.Transfer{}, ledger.ErrDuplicateIdempotencyKey
	}
	return tr, err
}

func (t *TransferStore) ByEndToEndID(ctx context.Context, endToEndID string) (transfer.Transfer, error) {
	return t.one(ctx, `WHERE end_to_end_id = ?`, endToEndID)
}

func (t *TransferStore) ByIdempotencyKey(ctx context.Context, key string) (transfer.Transfer, bool, error) {
	tr, err := t.one(ctx, `WHERE idempotency_key = ?`, key)
	if errors.Is(err, transfer.ErrNotFound) {
		return transfer.Transfer{}, false, nil
	}
	if err != nil {
		return transfer.Transfer{}, false, err
	}
	return tr, true, nil
}

func (t *TransferStore) one(ctx context.Context, where string, arg any) (transfer.Transfer, error) {
	var (
		tr                   transfer.Transfer
		from, to, status     string
		amount, currency     string
		createdAt, updatedAt string
	)
	err := t.q.QueryRowContext(ctx, `
		SELECT id, end_to_end_id, from_wallet_id, to_wallet_id, amount, currency, status, version, idempotency_key, created_at, updated_at
		FROM transfer `+where, arg).
		Scan(&tr.ID, &tr.EndToEndID, &from, &to, &amount, &currency, &status, &tr.Version, &tr.IdempotencyKey, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return transfer.Transfer{}, transfer.ErrNotFound
	}
	if err != nil {
		return transfer.Transfer{}, err
	}
	amt, err := parseAmount(amount, currency)
	if err != nil {
		return transfer.Transfer{}, err
	}
	crt, err := parseTime(createdAt)
	if err != nil {
		return transfer.Transfer{}, err
	}
	upd, err := parseTime(updatedAt)
	if err != nil {
		return transfer.Transfer{}, err
	}
	tr.FromWalletID = ledger.WalletID(from)
	tr.ToWalletID = ledger.WalletID(to)
	tr.Amount = amt
	tr.Status = transfer.Status(status)
	tr.CreatedAt = crt
	tr.UpdatedAt = upd
	return tr, nil
}

// UpdateStatus is the single UPDATE in this package: the version check
// and the increment are one atomic statement.
func (t *TransferStore) UpdateStatus(ctx context.Context, endToEndID string, target transfer.Status, expectedVersion int) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE transfer SET status = ?, version = version + 1, updated_at = ?
		WHERE end_to_end_id = ? AND version = ?`,
		string(target), time.Now().UTC().Format(timeLayout), endToEndID, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	// Nothing written: missing transfer or stale version.
	var count int
	if err := t.q.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM transfer WHERE end_to_end_id = ?`, endToEndID).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return transfer.ErrNotFound
	}
	return ledger.ErrConcurrentModification
}

// =============================================================================
// INBOX STORE - implements transfer.InboxStore
// =============================================================================

type InboxStore struct {
	q querier
}

func (i *InboxStore) SeenEvent(ctx context.Context, eventID string) (bool, error) {
	var n int
	err := i.q.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM webhook_inbox WHERE event_id = ?`, eventID).Scan(&n)
	return n > 0, err
}

func (i *InboxStore) Record(ctx context.Context, ev transfer.InboxEvent) error {
	_, err := i.q.ExecContext(ctx, `
		INSERT INTO webhook_inbox (id, event_id, end_to_end_id, event_type, occurred_at, received_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.EventID, ev.EndToEndID, ev.EventType,
		ev.OccurredAt.UTC().Format(timeLayout), ev.ReceivedAt.UTC().Format(timeLayout))
	if isUniqueViolation(err) {
		return ledger.ErrDuplicateIdempotencyKey
	}
	return err
}

// =============================================================================
// PIX KEY STORE - implements pixkey.Store
// =============================================================================

type PixKeyStore struct {
	q querier
}

func (p *PixKeyStore) Create(ctx context.Context, k pixkey.PixKey) (pixkey.PixKey, error) {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO pix_key (id, wallet_id, key_type, key_value, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		k.ID, string(k.WalletID), string(k.Type), k.Value, string(k.Status),
		k.CreatedAt.UTC().Format(timeLayout))
	if isUniqueViolation(err) {
		return pixkey.PixKey{}, pixkey.ErrAlreadyExists
	}
	return k, err
}

func (p *PixKeyStore) ExistsValue(ctx context.Context, value string) (bool, error) {
	var n int
	err := p.q.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM pix_key WHERE key_value = ?`, value).Scan(&n)
	return n > 0, err
}

func (p *PixKeyStore) ActiveByValue(ctx context.Context, value string) (pixkey.PixKey, error) {
	var (
		k                 pixkey.PixKey
		walletID, keyType string
		status, createdAt string
	)
	err := p.q.QueryRowContext(ctx, `
		SELECT id, wallet_id, key_type, status, created_at
		FROM pix_key WHERE key_value = ? AND status = ?`, value, string(pixkey.StatusActive)).
		Scan(&k.ID, &walletID, &keyType, &status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return pixkey.PixKey{}, pixkey.ErrNotFound
	}
	if err != nil {
		return pixkey.PixKey{}, err
	}
	crt, err := parseTime(createdAt)
	if err != nil {
		return pixkey.PixKey{}, err
	}
	k.WalletID = ledger.WalletID(walletID)
	k.Type = pixkey.KeyType(keyType)
	k.Value = value
	k.Status = pixkey.Status(status)
	k.CreatedAt = crt
	return k, nil
}
