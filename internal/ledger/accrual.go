package ledger

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/leafsii/leafsii-lending/internal/fixedpoint"
)

// resolve returns the account's current debt against the market's index,
// truncating. Zero principal resolves to zero for any index.
func resolve(a *Account, m *Market) (*uint256.Int, error) {
	if a.Borrowed.IsZero() {
		return fixedpoint.Zero(), nil
	}
	if a.BorrowIndex.IsZero() {
		return nil, fmt.Errorf("%w: %s/%s", ErrCorruptAccount, a.User, a.Asset)
	}
	return fixedpoint.MulDiv(a.Borrowed, m.BorrowIndex, a.BorrowIndex)
}

// accrue advances the market's borrow index to the transaction's time. The
// rate is sampled once from pre-accrual utilization and applied linearly over
// the interval; repeated calls compound. A clock at or behind the last
// accrual is a no-op.
func (l *Ledger) accrue(tx *txn, asset Address) error {
	current, ok := tx.viewMarket(asset)
	if !ok {
		return ErrMarketNotListed
	}
	now := tx.unix()
	if now <= current.LastAccrualTime {
		return nil
	}
	elapsed := now - current.LastAccrualTime

	rate, err := l.rates.BorrowRate(current)
	if err != nil {
		return fmt.Errorf("accrue %s: borrow rate: %w", asset, err)
	}
	scaledRate, err := fixedpoint.Mul(rate, fixedpoint.New(elapsed))
	if err != nil {
		return fmt.Errorf("accrue %s: %w", asset, err)
	}
	factor, err := fixedpoint.MulDiv(scaledRate, fixedpoint.Scale(), yearBasisPoints())
	if err != nil {
		return fmt.Errorf("accrue %s: %w", asset, err)
	}
	growth, err := fixedpoint.Add(fixedpoint.Scale(), factor)
	if err != nil {
		return fmt.Errorf("accrue %s: %w", asset, err)
	}
	newIndex, err := fixedpoint.MulDiv(current.BorrowIndex, growth, fixedpoint.Scale())
	if err != nil {
		return fmt.Errorf("accrue %s: %w", asset, err)
	}
	totalBorrows, err := fixedpoint.MulDiv(current.TotalBorrows, newIndex, current.BorrowIndex)
	if err != nil {
		return fmt.Errorf("accrue %s: %w", asset, err)
	}

	m, err := tx.market(asset)
	if err != nil {
		return err
	}
	m.BorrowIndex = newIndex
	m.TotalBorrows = totalBorrows
	m.LastAccrualTime = now

	tx.emit(Event{Kind: EventInterestAccrued, Asset: asset, BorrowIndex: newIndex.Clone()})
	l.logger.Debugw("interest accrued",
		"asset", asset,
		"elapsed", elapsed,
		"rate_bps", rate.Dec(),
		"borrow_index", newIndex.Dec())
	return nil
}

func yearBasisPoints() *uint256.Int {
	return new(uint256.Int).Mul(fixedpoint.New(BasisPoints), fixedpoint.New(SecondsPerYear))
}

// Accrue brings asset's borrow index up to date and returns the new index.
func (l *Ledger) Accrue(ctx context.Context, asset Address) (*uint256.Int, error) {
	var index *uint256.Int
	err := l.mutate(ctx, "accrue", func(ctx context.Context, tx *txn) error {
		if err := l.accrue(tx, asset); err != nil {
			return err
		}
		m, _ := tx.viewMarket(asset)
		index = m.BorrowIndex.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return index, nil
}
