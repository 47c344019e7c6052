package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/holiman/uint256"

	"github.com/leafsii/leafsii-lending/internal/fixedpoint"
)

// Snapshot is a serializable copy of the committed ledger state.
type Snapshot struct {
	Assets   []Address       `json:"assets"`
	Markets  []MarketRecord  `json:"markets"`
	Accounts []AccountRecord `json:"accounts"`
	TakenAt  time.Time       `json:"takenAt"`
}

type MarketRecord struct {
	Asset           Address `json:"asset"`
	TotalDeposits   string  `json:"totalDeposits"`
	TotalBorrows    string  `json:"totalBorrows"`
	LastAccrualTime uint64  `json:"lastAccrualTime"`
	BorrowIndex     string  `json:"borrowIndex"`
}

type AccountRecord struct {
	User        Address `json:"user"`
	Asset       Address `json:"asset"`
	Deposited   string  `json:"deposited"`
	Borrowed    string  `json:"borrowed"`
	BorrowIndex string  `json:"borrowIndex"`
}

// Snapshot captures the committed state. Accounts are ordered by user, then
// asset.
func (l *Ledger) Snapshot(ctx context.Context) (*Snapshot, error) {
	var out *Snapshot
	err := l.view(ctx, func(_ context.Context, tx *txn) error {
		snap := &Snapshot{TakenAt: tx.now.UTC(), Assets: tx.assets()}
		for _, asset := range snap.Assets {
			m, _ := tx.viewMarket(asset)
			snap.Markets = append(snap.Markets, MarketRecord{
				Asset:           asset,
				TotalDeposits:   m.TotalDeposits.Dec(),
				TotalBorrows:    m.TotalBorrows.Dec(),
				LastAccrualTime: m.LastAccrualTime,
				BorrowIndex:     m.BorrowIndex.Dec(),
			})
		}
		for _, a := range tx.base.accounts {
			snap.Accounts = append(snap.Accounts, AccountRecord{
				User:        a.User,
				Asset:       a.Asset,
				Deposited:   a.Deposited.Dec(),
				Borrowed:    a.Borrowed.Dec(),
				BorrowIndex: a.BorrowIndex.Dec(),
			})
		}
		sort.Slice(snap.Accounts, func(i, j int) bool {
			if snap.Accounts[i].User != snap.Accounts[j].User {
				return snap.Accounts[i].User < snap.Accounts[j].User
			}
			return snap.Accounts[i].Asset < snap.Accounts[j].Asset
		})
		out = snap
		return nil
	})
	return out, err
}

// Restore replaces the ledger's state with snap after validating it. No
// events are emitted.
func (l *Ledger) Restore(ctx context.Context, snap *Snapshot) error {
	st, err := decodeSnapshot(snap)
	if err != nil {
		return err
	}
	if _, err := l.enter(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	l.st = st
	l.mu.Unlock()

	l.logger.Infow("ledger restored",
		"markets", len(st.markets),
		"accounts", len(st.accounts),
		"taken_at", snap.TakenAt)
	return nil
}

func decodeSnapshot(snap *Snapshot) (*state, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: nil", ErrInvalidSnapshot)
	}
	st := newState()
	records := make(map[Address]MarketRecord, len(snap.Markets))
	for _, r := range snap.Markets {
		records[r.Asset] = r
	}

	for _, asset := range snap.Assets {
		if !asset.Valid() {
			return nil, fmt.Errorf("%w: empty asset", ErrInvalidSnapshot)
		}
		if _, dup := st.markets[asset]; dup {
			return nil, fmt.Errorf("%w: duplicate asset %s", ErrInvalidSnapshot, asset)
		}
		r, ok := records[asset]
		if !ok {
			return nil, fmt.Errorf("%w: no market for %s", ErrInvalidSnapshot, asset)
		}
		m := &Market{Asset: asset, Listed: true, LastAccrualTime: r.LastAccrualTime}
		var err error
		if m.TotalDeposits, err = parseField(asset, "totalDeposits", r.TotalDeposits); err != nil {
			return nil, err
		}
		if m.TotalBorrows, err = parseField(asset, "totalBorrows", r.TotalBorrows); err != nil {
			return nil, err
		}
		if m.BorrowIndex, err = parseField(asset, "borrowIndex", r.BorrowIndex); err != nil {
			return nil, err
		}
		if m.BorrowIndex.Lt(fixedpoint.Scale()) {
			return nil, fmt.Errorf("%w: %s borrow index below 1.0", ErrInvalidSnapshot, asset)
		}
		st.assets = append(st.assets, asset)
		st.markets[asset] = m
	}
	if len(records) != len(st.markets) {
		return nil, fmt.Errorf("%w: market records without listed asset", ErrInvalidSnapshot)
	}

	deposits := make(map[Address]*uint256.Int)
	for _, r := range snap.Accounts {
		if !r.User.Valid() {
			return nil, fmt.Errorf("%w: empty user", ErrInvalidSnapshot)
		}
		if _, ok := st.markets[r.Asset]; !ok {
			return nil, fmt.Errorf("%w: account %s in unlisted market %s", ErrInvalidSnapshot, r.User, r.Asset)
		}
		key := accountKey{user: r.User, asset: r.Asset}
		if _, dup := st.accounts[key]; dup {
			return nil, fmt.Errorf("%w: duplicate account %s/%s", ErrInvalidSnapshot, r.User, r.Asset)
		}
		a := &Account{User: r.User, Asset: r.Asset}
		var err error
		if a.Deposited, err = parseField(r.Asset, "deposited", r.Deposited); err != nil {
			return nil, err
		}
		if a.Borrowed, err = parseField(r.Asset, "borrowed", r.Borrowed); err != nil {
			return nil, err
		}
		if a.BorrowIndex, err = parseField(r.Asset, "borrowIndex", r.BorrowIndex); err != nil {
			return nil, err
		}
		if !a.Borrowed.IsZero() && a.BorrowIndex.IsZero() {
			return nil, fmt.Errorf("%w: %s/%s", ErrCorruptAccount, r.User, r.Asset)
		}
		sum := deposits[r.Asset]
		if sum == nil {
			sum = fixedpoint.Zero()
		}
		if deposits[r.Asset], err = fixedpoint.Add(sum, a.Deposited); err != nil {
			return nil, fmt.Errorf("%w: %s deposits: %v", ErrInvalidSnapshot, r.Asset, err)
		}
		st.accounts[key] = a
	}
	for asset, sum := range deposits {
		if st.markets[asset].TotalDeposits.Lt(sum) {
			return nil, fmt.Errorf("%w: %s account deposits exceed market total", ErrInvalidSnapshot, asset)
		}
	}
	return st, nil
}

func parseField(asset Address, field, v string) (*uint256.Int, error) {
	out, err := fixedpoint.Parse(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrInvalidSnapshot, asset, field, err)
	}
	return out, nil
}
