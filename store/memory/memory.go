/*
Package memory provides in-memory implementations of every persistence
contract, for tests and local development.

Sub-stores share one RWMutex so a transactional section sees a consistent
view. WithTx serializes writers with a dedicated mutex instead of
supporting rollback: every core write path performs its checks first and
appends at most one row, so a failed section has written nothing.
*/
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/brpix/wallet-engine/ledger"
	"github.com/brpix/wallet-engine/pixkey"
	"github.com/brpix/wallet-engine/transfer"
	"github.com/brpix/wallet-engine/wallet"
)

// Store bundles the in-memory sub-stores behind the domain interfaces.
type Store struct {
	Ledger    *LedgerStore
	Wallets   *WalletStore
	Transfers *TransferStore
	Inbox     *InboxStore
	PixKeys   *PixKeyStore
}

func New() *Store {
	mu := &sync.RWMutex{}
	return &Store{
		Ledger: &LedgerStore{
			mu:      mu,
			txMu:    &sync.Mutex{},
			entries: make(map[ledger.WalletID][]ledger.Entry),
			byKey:   make(map[string]ledger.Entry),
		},
		Wallets:   &WalletStore{mu: mu, wallets: make(map[ledger.WalletID]wallet.Wallet)},
		Transfers: &TransferStore{mu: mu, byEndToEnd: make(map[string]transfer.Transfer), byKey: make(map[string]string)},
		Inbox:     &InboxStore{mu: mu, events: make(map[string]transfer.InboxEvent)},
		PixKeys:   &PixKeyStore{mu: mu, byValue: make(map[string]pixkey.PixKey)},
	}
}

// =============================================================================
// LEDGER STORE - implements ledger.TxStore
// =============================================================================

type LedgerStore struct {
	mu      *sync.RWMutex
	txMu    *sync.Mutex
	entries map[ledger.WalletID][]ledger.Entry
	byKey   map[string]ledger.Entry
}

func (l *LedgerStore) Append(_ context.Context, e ledger.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.IdempotencyKey != "" {
		if _, dup := l.byKey[e.IdempotencyKey]; dup {
			return ledger.ErrDuplicateIdempotencyKey
		}
	}

	txs := l.entries[e.WalletID]
	// Insert sorted by EffectiveAt so balance folds replay in order.
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].EffectiveAt.After(e.EffectiveAt)
	})
	txs = append(txs, ledger.Entry{})
	copy(txs[i+1:], txs[i:])
	txs[i] = e
	l.entries[e.WalletID] = txs

	if e.IdempotencyKey != "" {
		l.byKey[e.IdempotencyKey] = e
	}
	return nil
}

func (l *LedgerStore) Entries(_ context.Context, walletID ledger.WalletID) ([]ledger.Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]ledger.Entry, len(l.entries[walletID]))
	copy(out, l.entries[walletID])
	return out, nil
}

func (l *LedgerStore) EntriesAsOf(_ context.Context, walletID ledger.WalletID, at time.Time) ([]ledger.Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []ledger.Entry
	for _, e := range l.entries[walletID] {
		if !e.EffectiveAt.After(at) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *LedgerStore) ExistsKey(_ context.Context, key string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.byKey[key]
	return ok, nil
}

func (l *LedgerStore) EntryByKey(_ context.Context, key string) (ledger.Entry, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.byKey[key]
	return e, ok, nil
}

// LockWallet is a no-op: WithTx already serializes all writers.
func (l *LedgerStore) LockWallet(context.Context, ledger.WalletID) error { return nil }

func (l *LedgerStore) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	l.txMu.Lock()
	defer l.txMu.Unlock()
	return fn(l)
}

// =============================================================================
// WALLET STORE - implements wallet.Store
// =============================================================================

type WalletStore struct {
	mu      *sync.RWMutex
	wallets map[ledger.WalletID]wallet.Wallet
}

func (w *WalletStore) Create(_ context.Context, wl wallet.Wallet) (wallet.Wallet, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.wallets[wl.ID] = wl
	return wl, nil
}

func (w *WalletStore) ByID(_ context.Context, id ledger.WalletID) (wallet.Wallet, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	wl, ok := w.wallets[id]
	if !ok {
		return wallet.Wallet{}, ledger.ErrWalletNotFound
	}
	return wl, nil
}

// =============================================================================
// TRANSFER STORE - implements transfer.Store
// =============================================================================

type TransferStore struct {
	mu         *sync.RWMutex
	byEndToEnd map[string]transfer.Transfer
	byKey      map[string]string // idempotency key -> end-to-end id
}

func (t *TransferStore) Create(_ context.Context, tr transfer.Transfer) (transfer.Transfer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, dup := t.byKey[tr.IdempotencyKey]; dup {
		return transfer.Transfer{}, ledger.ErrDuplicateIdempotencyKey
	}
	t.byEndToEnd[tr.EndToEndID] = tr
	t.byKey[tr.IdempotencyKey] = tr.EndToEndID
	return tr, nil
}

func (t *TransferStore) ByEndToEndID(_ context.Context, endToEndID string) (transfer.Transfer, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tr, ok := t.byEndToEnd[endToEndID]
	if !ok {
		return transfer.Transfer{}, transfer.ErrNotFound
	}
	return tr, nil
}

func (t *TransferStore) ByIdempotencyKey(_ context.Context, key string) (transfer.Transfer, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e2e, ok := t.byKey[key]
	if !ok {
		return transfer.Transfer{}, false, nil
	}
	return t.byEndToEnd[e2e], true, nil
}

func (t *TransferStore) UpdateStatus(_ context.Context, endToEndID string, target transfer.Status, expectedVersion int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.byEndToEnd[endToEndID]
	if !ok {
		return transfer.ErrNotFound
	}
	if tr.Version != expectedVersion {
		return ledger.ErrConcurrentModification
	}
	tr.Status = target
	tr.Version++
	tr.UpdatedAt = time.Now().UTC()
	t.byEndToEnd[endToEndID] = tr
	return nil
}

// =============================================================================
// INBOX STORE - implements transfer.InboxStore
// =============================================================================

type InboxStore struct {
	mu     *sync.RWMutex
	events map[string]transfer.InboxEvent
}

func (i *InboxStore) SeenEvent(_ context.Context, eventID string) (bool, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	_, ok := i.events[eventID]
	return ok, nil
}

func (i *InboxStore) Record(_ context.Context, ev transfer.InboxEvent) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, dup := i.events[ev.EventID]; dup {
		return ledger.ErrDuplicateIdempotencyKey
	}
	i.events[ev.EventID] = ev
	return nil
}

// =============================================================================
// PIX KEY STORE - implements pixkey.Store
// =============================================================================

type PixKeyStore struct {
	mu      *sync.RWMutex
	byValue map[string]pixkey.PixKey
}

func (p *PixKeyStore) Create(_ context.Context, k pixkey.PixKey) (pixkey.PixKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, dup := p.byValue[k.Value]; dup {
		return pixkey.PixKey{}, pixkey.ErrAlreadyExists
	}
	p.byValue[k.Value] = k
	return k, nil
}

func (p *PixKeyStore) ExistsValue(_ context.Context, value string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	_, ok := p.byValue[value]
	return ok, nil
}

func (p *PixKeyStore) ActiveByValue(_ context.Context, value string) (pixkey.PixKey, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	k, ok := p.byValue[value]
	if !ok || k.Status != pixkey.StatusActive {
		return pixkey.PixKey{}, pixkey.ErrNotFound
	}
	return k, nil
}
