// Package custody provides an in-memory asset vault that the ledger moves
// funds through. Holders have wallets; the ledger's funds sit in one pool per
// asset.
package custody

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/leafsii/leafsii-lending/internal/fixedpoint"
	"github.com/leafsii/leafsii-lending/internal/ledger"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

type walletKey struct {
	asset  ledger.Address
	holder ledger.Address
}

// Vault implements ledger.Custody.
type Vault struct {
	mu      sync.Mutex
	wallets map[walletKey]*uint256.Int
	pools   map[ledger.Address]*uint256.Int
	logger  *zap.SugaredLogger
}

var _ ledger.Custody = (*Vault)(nil)

func NewVault(logger *zap.SugaredLogger) *Vault {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Vault{
		wallets: make(map[walletKey]*uint256.Int),
		pools:   make(map[ledger.Address]*uint256.Int),
		logger:  logger,
	}
}

// Credit mints amount of asset into holder's wallet.
func (v *Vault) Credit(asset, holder ledger.Address, amount *uint256.Int) error {
	if !asset.Valid() || !holder.Valid() {
		return fmt.Errorf("credit: %w", ledger.ErrInvalidAmount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	key := walletKey{asset: asset, holder: holder}
	next, err := fixedpoint.Add(v.balance(key), amount)
	if err != nil {
		return fmt.Errorf("credit %s to %s: %w", asset, holder, err)
	}
	v.wallets[key] = next
	v.logger.Debugw("wallet credited", "asset", asset, "holder", holder, "amount", amount.Dec())
	return nil
}

func (v *Vault) balance(key walletKey) *uint256.Int {
	if b, ok := v.wallets[key]; ok {
		return b
	}
	return fixedpoint.Zero()
}

// Balance returns holder's wallet balance of asset.
func (v *Vault) Balance(asset, holder ledger.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balance(walletKey{asset: asset, holder: holder}).Clone()
}

// Pool returns the vault's pooled balance of asset.
func (v *Vault) Pool(asset ledger.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return fixedpoint.Clone(v.pools[asset])
}

// Holdings returns holder's non-zero wallets keyed by asset.
func (v *Vault) Holdings(holder ledger.Address) map[ledger.Address]*uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[ledger.Address]*uint256.Int)
	for key, bal := range v.wallets {
		if key.holder == holder && !bal.IsZero() {
			out[key.asset] = bal.Clone()
		}
	}
	return out
}

// Assets returns the assets the vault has seen, sorted.
func (v *Vault) Assets() []ledger.Address {
	v.mu.Lock()
	defer v.mu.Unlock()
	seen := make(map[ledger.Address]struct{})
	for key := range v.wallets {
		seen[key.asset] = struct{}{}
	}
	for asset := range v.pools {
		seen[asset] = struct{}{}
	}
	out := make([]ledger.Address, 0, len(seen))
	for asset := range seen {
		out = append(out, asset)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TransferIn moves amount from from's wallet into the pool.
func (v *Vault) TransferIn(ctx context.Context, asset, from ledger.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	key := walletKey{asset: asset, holder: from}
	remaining, err := fixedpoint.Sub(v.balance(key), amount)
	if err != nil {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientFunds, from, v.balance(key).Dec(), asset, amount.Dec())
	}
	pool, err := fixedpoint.Add(fixedpoint.Clone(v.pools[asset]), amount)
	if err != nil {
		return err
	}
	v.wallets[key] = remaining
	v.pools[asset] = pool
	return nil
}

// TransferOut moves amount from the pool to to's wallet.
func (v *Vault) TransferOut(ctx context.Context, asset, to ledger.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	pool, err := fixedpoint.Sub(fixedpoint.Clone(v.pools[asset]), amount)
	if err != nil {
		return fmt.Errorf("%w: pool holds %s %s, needs %s", ErrInsufficientFunds, fixedpoint.Clone(v.pools[asset]).Dec(), asset, amount.Dec())
	}
	key := walletKey{asset: asset, holder: to}
	wallet, err := fixedpoint.Add(v.balance(key), amount)
	if err != nil {
		return err
	}
	v.pools[asset] = pool
	v.wallets[key] = wallet
	return nil
}
