/*
Package postgres provides the pgx-backed implementation of every
persistence contract, for server deployments where the engine runs with
more than one process.

CONCURRENCY:
  Unlike the SQLite store, writers are not serialized in-process. The
  reserve/withdraw check-then-append race is closed with row locking:
  LockWallet issues SELECT ... FOR UPDATE on the wallet row inside the
  enclosing transaction, so concurrent holds against one wallet queue up
  while holds against different wallets proceed in parallel.

AMOUNTS:
  Stored as exact decimal TEXT. Balances are derived by folding in Go,
  never by SQL arithmetic, so the column type only needs to round-trip
  the decimal string losslessly.
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/brpix/wallet-engine/ledger"
	"github.com/brpix/wallet-engine/pixkey"
	"github.com/brpix/wallet-engine/transfer"
	"github.com/brpix/wallet-engine/wallet"
)

// Store owns the connection pool and exposes the domain sub-stores.
type Store struct {
	pool *pgxpool.Pool

	Ledger    *LedgerStore
	Wallets   *WalletStore
	Transfers *TransferStore
	Inbox     *InboxStore
	PixKeys   *PixKeyStore
}

// New connects, pings and migrates.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	s.Ledger = &LedgerStore{q: pool, pool: pool}
	s.Wallets = &WalletStore{q: pool}
	s.Transfers = &TransferStore{q: pool}
	s.Inbox = &InboxStore{q: pool}
	s.PixKeys = &PixKeyStore{q: pool}
	return s, nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate creates the schema. Idempotent. Statements run one at a time;
// pgx's extended protocol does not accept multi-statement strings.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS wallet (
			id         TEXT PRIMARY KEY,
			status     TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_entry (
			id              TEXT PRIMARY KEY,
			wallet_id       TEXT NOT NULL REFERENCES wallet(id),
			operation       TEXT NOT NULL,
			amount          TEXT NOT NULL,
			currency        TEXT NOT NULL,
			effective_at    TIMESTAMPTZ NOT NULL,
			idempotency_key TEXT UNIQUE,
			transfer_id     TEXT,
			created_at      TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_entry_wallet_effective
			ON ledger_entry(wallet_id, effective_at)`,
		`CREATE TABLE IF NOT EXISTS transfer (
			id              TEXT PRIMARY KEY,
			end_to_end_id   TEXT NOT NULL UNIQUE,
			from_wallet_id  TEXT NOT NULL REFERENCES wallet(id),
			to_wallet_id    TEXT NOT NULL REFERENCES wallet(id),
			amount          TEXT NOT NULL,
			currency        TEXT NOT NULL,
			status          TEXT NOT NULL,
			version         INTEGER NOT NULL,
			idempotency_key TEXT NOT NULL UNIQUE,
			created_at      TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transfer_from ON transfer(from_wallet_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transfer_to ON transfer(to_wallet_id)`,
		`CREATE TABLE IF NOT EXISTS webhook_inbox (
			id            TEXT PRIMARY KEY,
			event_id      TEXT NOT NULL UNIQUE,
			end_to_end_id TEXT NOT NULL,
			event_type    TEXT NOT NULL,
			occurred_at   TIMESTAMPTZ NOT NULL,
			received_at   TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pix_key (
			id         TEXT PRIMARY KEY,
			wallet_id  TEXT NOT NULL REFERENCES wallet(id),
			key_type   TEXT NOT NULL,
			key_value  TEXT NOT NULL UNIQUE,
			status     TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func parseAmount(value, currency string) (ledger.Amount, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return ledger.Amount{}, fmt.Errorf("corrupt amount %q: %w", value, err)
	}
	return ledger.NewAmount(d, ledger.Currency(currency)), nil
}

// =============================================================================
// LEDGER STORE - implements ledger.TxStore
// =============================================================================

type LedgerStore struct {
	q    querier
	pool *pgxpool.Pool // nil inside a transaction
}

func (l *LedgerStore) Append(ctx context.Context, e ledger.Entry) error {
	var key, transferID *string
	if e.IdempotencyKey != "" {
		key = &e.IdempotencyKey
	}
	if e.TransferID != "" {
		transferID = &e.TransferID
	}

	_, err := l.q.Exec(ctx, `
		INSERT INTO ledger_entry
			(id, wallet_id, operation, amount, currency, effective_at, idempotency_key, transfer_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(e.ID), string(e.WalletID), string(e.Operation),
		e.Amount.Value.String(), string(e.Amount.Currency),
		e.EffectiveAt.UTC(), key, transferID, e.CreatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return ledger.ErrDuplicateIdempotencyKey
	}
	return err
}

func (l *LedgerStore) Entries(ctx context.Context, walletID ledger.WalletID) ([]ledger.Entry, error) {
	return l.scanEntries(ctx, `
		SELECT id, wallet_id, operation, amount, currency, effective_at, idempotency_key, transfer_id, created_at
		FROM ledger_entry WHERE wallet_id = $1 ORDER BY effective_at, created_at`,
		string(walletID))
}

func (l *LedgerStore) EntriesAsOf(ctx context.Context, walletID ledger.WalletID, at time.Time) ([]ledger.Entry, error) {
	return l.scanEntries(ctx, `
		SELECT id, wallet_id, operation, amount, currency, effective_at, idempotency_key, transfer_id, created_at
		FROM ledger_entry WHERE wallet_id = $1 AND effective_at <= $2 ORDER BY effective_at, created_at`,
		string(walletID), at.UTC())
}

func (l *LedgerStore) scanEntries(ctx context.Context, query string, args ...any) ([]ledger.Entry, error) {
	rows, err := l.q.Query(ctx, query, args...)
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
	var exists bool
	err := l.q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM ledger_entry WHERE idempotency_key = $1)`, key).Scan(&exists)
	return exists, err
}

func (l *LedgerStore) EntryByKey(ctx context.Context, key string) (ledger.Entry, bool, error) {
	row := l.q.QueryRow(ctx, `
		SELECT id, wallet_id, operation, amount, currency, effective_at, idempotency_key, transfer_id, created_at
		FROM ledger_entry WHERE idempotency_key = $1`, key)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, err
	}
	return e, true, nil
}

// LockWallet acquires the wallet row lock for the enclosing transaction.
// Outside a transaction it degrades to an existence check.
func (l *LedgerStore) LockWallet(ctx context.Context, walletID ledger.WalletID) error {
	query := `SELECT id FROM wallet WHERE id = $1 FOR UPDATE`
	if l.pool != nil {
		query = `SELECT id FROM wallet WHERE id = $1`
	}
	var id string
	err := l.q.QueryRow(ctx, query, string(walletID)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.ErrWalletNotFound
	}
	return err
}

func (l *LedgerStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if l.pool == nil {
		return fn(l)
	}

	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&LedgerStore{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func scanEntry(r pgx.Row) (ledger.Entry, error) {
	var (
		id, walletID, op    string
		amount, currency    string
		effectiveAt, crt    time.Time
		idemKey, transferID *string
	)
	if err := r.Scan(&id, &walletID, &op, &amount, &currency, &effectiveAt, &idemKey, &transferID, &crt); err != nil {
		return ledger.Entry{}, err
	}
	amt, err := parseAmount(amount, currency)
	if err != nil {
		return ledger.Entry{}, err
	}
	e := ledger.Entry{
		ID:          ledger.EntryID(id),
		WalletID:    ledger.WalletID(walletID),
		Operation:   ledger.Operation(op),
		Amount:      amt,
		EffectiveAt: effectiveAt,
		CreatedAt:   crt,
	}
	if idemKey != nil {
		e.IdempotencyKey = *idemKey
	}
	if transferID != nil {
		e.TransferID = *transferID
	}
	return e, nil
}

// =============================================================================
// WALLET STORE - implements wallet.Store
// =============================================================================

type WalletStore struct {
	q querier
}

func (w *WalletStore) Create(ctx context.Context, wl wallet.Wallet) (wallet.Wallet, error) {
	_, err := w.q.Exec(ctx,
		`INSERT INTO wallet (id, status, created_at) VALUES ($1, $2, $3)`,
		string(wl.ID), string(wl.Status), wl.CreatedAt.UTC())
	return wl, err
}

func (w *WalletStore) ByID(ctx context.Context, id ledger.WalletID) (wallet.Wallet, error) {
	var (
		status    string
		createdAt time.Time
	)
	err := w.q.QueryRow(ctx,
		`SELECT status, created_at FROM wallet WHERE id = $1`, string(id)).
		Scan(&status, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return wallet.Wallet{}, ledger.ErrWalletNotFound
	}
	if err != nil {
		return wallet.Wallet{}, err
	}
	return wallet.Wallet{ID: id, Status: wallet.Status(status), CreatedAt: createdAt}, nil
}

// =============================================================================
// TRANSFER STORE - implements transfer.Store
// =============================================================================

type TransferStore struct {
	q querier
}

func (t *TransferStore) Create(ctx context.Context, tr transfer.Transfer) (transfer.Transfer, error) {
	_, err := t.q.Exec(ctx, `
		INSERT INTO transfer
			(id, end_to_end_id, from_wallet_id, to_wallet_id, amount, currency, status, version, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		tr.ID, tr.EndToEndID, string(tr.FromWalletID), string(tr.ToWalletID),
		tr.Amount.Value.String(), string(tr.Amount.Currency),
		string(tr.Status), tr.Version, tr.IdempotencyKey,
		tr.CreatedAt.UTC(), tr.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return transfer.Transfer{}, ledger.ErrDuplicateIdempotencyKey
	}
	return tr, err
}

func (t *TransferStore) ByEndToEndID(ctx context.Context, endToEndID string) (transfer.Transfer, error) {
	return t.one(ctx, `WHERE end_to_end_id = $1`, endToEndID)
}

func (t *TransferStore) ByIdempotencyKey(ctx context.Context, key string) (transfer.Transfer, bool, error) {
	tr, err := t.one(ctx, `WHERE idempotency_key = $1`, key)
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
		tr               transfer.Transfer
		from, to, status string
		amount, currency string
	)
	err := t.q.QueryRow(ctx, `
		SELECT id, end_to_end_id, from_wallet_id, to_wallet_id, amount, currency, status, version, idempotency_key, created_at, updated_at
		FROM transfer `+where, arg).
		Scan(&tr.ID, &tr.EndToEndID, &from, &to, &amount, &currency, &status, &tr.Version, &tr.IdempotencyKey, &tr.CreatedAt, &tr.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return transfer.Transfer{}, transfer.ErrNotFound
	}
	if err != nil {
		return transfer.Transfer{}, err
	}
	amt, err := parseAmount(amount, currency)
	if err != nil {
		return transfer.Transfer{}, err
	}
	tr.FromWalletID = ledger.WalletID(from)
	tr.ToWalletID = ledger.WalletID(to)
	tr.Amount = amt
	tr.Status = transfer.Status(status)
	return tr, nil
}

func (t *TransferStore) UpdateStatus(ctx context.Context, endToEndID string, target transfer.Status, expectedVersion int) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE transfer SET status = $1, version = version + 1, updated_at = $2
		WHERE end_to_end_id = $3 AND version = $4`,
		string(target), time.Now().UTC(), endToEndID, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := t.q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM transfer WHERE end_to_end_id = $1)`, endToEndID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
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
	var exists bool
	err := i.q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM webhook_inbox WHERE event_id = $1)`, eventID).Scan(&exists)
	return exists, err
}

func (i *InboxStore) Record(ctx context.Context, ev transfer.InboxEvent) error {
	_, err := i.q.Exec(ctx, `
		INSERT INTO webhook_inbox (id, event_id, end_to_end_id, event_type, occurred_at, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.EventID, ev.EndToEndID, ev.EventType, ev.OccurredAt.UTC(), ev.ReceivedAt.UTC())
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
	_, err := p.q.Exec(ctx, `
		INSERT INTO pix_key (id, wallet_id, key_type, key_value, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		k.ID, string(k.WalletID), string(k.Type), k.Value, string(k.Status), k.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return pixkey.PixKey{}, pixkey.ErrAlreadyExists
	}
	return k, err
}

func (p *PixKeyStore) ExistsValue(ctx context.Context, value string) (bool, error) {
	var exists bool
	err := p.q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM pix_key WHERE key_value = $1)`, value).Scan(&exists)
	return exists, err
}

func (p *PixKeyStore) ActiveByValue(ctx context.Context, value string) (pixkey.PixKey, error) {
	var (
		k                 pixkey.PixKey
		walletID, keyType string
		status            string
	)
	err := p.q.QueryRow(ctx, `
		SELECT id, wallet_id, key_type, status, created_at
		FROM pix_key WHERE key_value = $1 AND status = $2`, value, string(pixkey.StatusActive)).
		Scan(&k.ID, &walletID, &keyType, &status, &k.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return pixkey.PixKey{}, pixkey.ErrNotFound
	}
	if err != nil {
		return pixkey.PixKey{}, err
	}
	k.WalletID = ledger.WalletID(walletID)
	k.Type = pixkey.KeyType(keyType)
	k.Value = value
	k.Status = pixkey.Status(status)
	return k, nil
}
