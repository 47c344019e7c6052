package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/holiman/uint256"
)

// txn stages one operation's reads and writes over the committed state.
// Staged markets and accounts are private clones; nothing reaches the
// committed state until commit. Custody transfers cannot be staged, so each
// successful transfer registers its reversal in undo.
type txn struct {
	base *state
	now  time.Time

	markets  map[Address]*Market
	accounts map[accountKey]*Account
	listed   []Address
	prices   map[Address]*uint256.Int
	events   []Event
	undo     []func(ctx context.Context) error
}

func newTxn(base *state, now time.Time) *txn {
	return &txn{
		base:     base,
		now:      now,
		markets:  make(map[Address]*Market),
		accounts: make(map[accountKey]*Account),
		prices:   make(map[Address]*uint256.Int),
	}
}

// unix is the operation's timestamp in seconds; pre-epoch clocks read as 0.
func (tx *txn) unix() uint64 {
	s := tx.now.Unix()
	if s < 0 {
		return 0
	}
	return uint64(s)
}

func (tx *txn) assets() []Address {
	out := make([]Address, 0, len(tx.base.assets)+len(tx.listed))
	out = append(out, tx.base.assets...)
	return append(out, tx.listed...)
}

// viewMarket returns the current market without staging it. Callers must
// not modify the result.
func (tx *txn) viewMarket(asset Address) (*Market, bool) {
	if m, ok := tx.markets[asset]; ok {
		return m, true
	}
	m, ok := tx.base.markets[asset]
	return m, ok
}

// market returns a staged, writable market.
func (tx *txn) market(asset Address) (*Market, error) {
	if m, ok := tx.markets[asset]; ok {
		return m, nil
	}
	m, ok := tx.base.markets[asset]
	if !ok {
		return nil, ErrMarketNotListed
	}
	staged := m.clone()
	tx.markets[asset] = staged
	return staged, nil
}

// viewAccount returns the current account, or an empty one that is not
// stored. Callers must not modify the result.
func (tx *txn) viewAccount(user, asset Address) *Account {
	key := accountKey{user: user, asset: asset}
	if a, ok := tx.accounts[key]; ok {
		return a
	}
	if a, ok := tx.base.accounts[key]; ok {
		return a
	}
	return newAccount(user, asset)
}

// account returns a staged, writable account, creating it if needed.
func (tx *txn) account(user, asset Address) *Account {
	key := accountKey{user: user, asset: asset}
	if a, ok := tx.accounts[key]; ok {
		return a
	}
	var staged *Account
	if a, ok := tx.base.accounts[key]; ok {
		staged = a.clone()
	} else {
		staged = newAccount(user, asset)
	}
	tx.accounts[key] = staged
	return staged
}

func (tx *txn) addMarket(m *Market) {
	tx.markets[m.Asset] = m
	tx.listed = append(tx.listed, m.Asset)
}

func (tx *txn) emit(e Event) {
	e.Time = tx.now
	tx.events = append(tx.events, e)
}

func (tx *txn) onRollback(fn func(ctx context.Context) error) {
	tx.undo = append(tx.undo, fn)
}

func (tx *txn) commit() {
	tx.base.assets = append(tx.base.assets, tx.listed...)
	for asset, m := range tx.markets {
		tx.base.markets[asset] = m
	}
	for key, a := range tx.accounts {
		tx.base.accounts[key] = a
	}
}

// rollback drops staged state and runs the undo log newest first. Every
// reversal is attempted; their failures are joined.
func (tx *txn) rollback(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(tx.undo) - 1; i >= 0; i-- {
		if err := tx.undo[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	tx.markets = nil
	tx.accounts = nil
	tx.listed = nil
	tx.events = nil
	tx.undo = nil
	return errors.Join(errs...)
}
