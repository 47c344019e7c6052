package ledger

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/leafsii/leafsii-lending/internal/fixedpoint"
)

// checkMarketOp validates the arguments shared by deposit, withdraw, borrow
// and repay.
func checkMarketOp(tx *txn, user, asset Address, amount *uint256.Int) error {
	if _, ok := tx.viewMarket(asset); !ok {
		return ErrMarketNotListed
	}
	if !user.Valid() || amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	return nil
}

// value returns amount * price / 1e18.
func (l *Ledger) value(ctx context.Context, tx *txn, asset Address, amount *uint256.Int) (*uint256.Int, error) {
	p, err := l.price(ctx, tx, asset)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDiv(amount, p, fixedpoint.Scale())
}

// Deposit credits amount of asset to user and pulls it into custody.
func (l *Ledger) Deposit(ctx context.Context, user, asset Address, amount *uint256.Int) error {
	return l.mutate(ctx, "deposit", func(ctx context.Context, tx *txn) error {
		if err := checkMarketOp(tx, user, asset, amount); err != nil {
			return err
		}
		if err := l.accrue(tx, asset); err != nil {
			return err
		}

		m, err := tx.market(asset)
		if err != nil {
			return err
		}
		a := tx.account(user, asset)
		if m.TotalDeposits, err = fixedpoint.Add(m.TotalDeposits, amount); err != nil {
			return fmt.Errorf("deposit %s: %w", asset, err)
		}
		if a.Deposited, err = fixedpoint.Add(a.Deposited, amount); err != nil {
			return fmt.Errorf("deposit %s: %w", asset, err)
		}

		if err := l.transferIn(ctx, tx, asset, user, amount); err != nil {
			return err
		}
		tx.emit(Event{Kind: EventDeposit, User: user, Asset: asset, Amount: amount.Clone()})
		return nil
	})
}

// Withdraw releases amount of user's deposit. The withdrawal's full value
// must fit within the user's current liquidity, measured before the
// balances change.
func (l *Ledger) Withdraw(ctx context.Context, user, asset Address, amount *uint256.Int) error {
	return l.mutate(ctx, "withdraw", func(ctx context.Context, tx *txn) error {
		if err := checkMarketOp(tx, user, asset, amount); err != nil {
			return err
		}
		if tx.viewAccount(user, asset).Deposited.Lt(amount) {
			return ErrInsufficientBalance
		}
		if err := l.accrue(tx, asset); err != nil {
			return err
		}

		withdrawValue, err := l.value(ctx, tx, asset, amount)
		if err != nil {
			return err
		}
		status, err := l.status(ctx, tx, user)
		if err != nil {
			return err
		}
		if status.Liquidity.Lt(withdrawValue) {
			return ErrInsufficientCollateral
		}

		m, err := tx.market(asset)
		if err != nil {
			return err
		}
		a := tx.account(user, asset)
		if a.Deposited, err = fixedpoint.Sub(a.Deposited, amount); err != nil {
			return fmt.Errorf("withdraw %s: %w", asset, err)
		}
		if m.TotalDeposits, err = fixedpoint.Sub(m.TotalDeposits, amount); err != nil {
			return fmt.Errorf("withdraw %s: total deposits: %w", asset, err)
		}

		if err := l.transferOut(ctx, tx, asset, user, amount); err != nil {
			return err
		}
		tx.emit(Event{Kind: EventWithdraw, User: user, Asset: asset, Amount: amount.Clone()})
		return nil
	})
}

// Borrow lends amount of asset to user against their collateral.
func (l *Ledger) Borrow(ctx context.Context, user, asset Address, amount *uint256.Int) error {
	return l.mutate(ctx, "borrow", func(ctx context.Context, tx *txn) error {
		if err := checkMarketOp(tx, user, asset, amount); err != nil {
			return err
		}
		if err := l.accrue(tx, asset); err != nil {
			return err
		}

		borrowValue, err := l.value(ctx, tx, asset, amount)
		if err != nil {
			return err
		}
		status, err := l.status(ctx, tx, user)
		if err != nil {
			return err
		}
		if status.Liquidity.Lt(borrowValue) {
			return ErrInsufficientCollateral
		}

		m, err := tx.market(asset)
		if err != nil {
			return err
		}
		a := tx.account(user, asset)
		if !a.Borrowed.IsZero() {
			// Fold accrued interest into principal. The pool total already
			// carries it from accrual.
			debt, err := resolve(a, m)
			if err != nil {
				return err
			}
			a.Borrowed = debt
		}
		a.BorrowIndex = m.BorrowIndex.Clone()
		if a.Borrowed, err = fixedpoint.Add(a.Borrowed, amount); err != nil {
			return fmt.Errorf("borrow %s: %w", asset, err)
		}
		if m.TotalBorrows, err = fixedpoint.Add(m.TotalBorrows, amount); err != nil {
			return fmt.Errorf("borrow %s: total borrows: %w", asset, err)
		}

		if err := l.transferOut(ctx, tx, asset, user, amount); err != nil {
			return err
		}
		tx.emit(Event{Kind: EventBorrow, User: user, Asset: asset, Amount: amount.Clone()})
		return nil
	})
}

// Repay pays down user's debt in asset. Requests above the debt are clamped
// and only the clamped amount is pulled from the user. It returns the amount
// actually repaid, which is zero when there was no debt.
func (l *Ledger) Repay(ctx context.Context, user, asset Address, amount *uint256.Int) (*uint256.Int, error) {
	var repaid *uint256.Int
	err := l.mutate(ctx, "repay", func(ctx context.Context, tx *txn) error {
		if err := checkMarketOp(tx, user, asset, amount); err != nil {
			return err
		}
		if err := l.accrue(tx, asset); err != nil {
			return err
		}

		current, _ := tx.viewMarket(asset)
		debt, err := resolve(tx.viewAccount(user, asset), current)
		if err != nil {
			return err
		}
		if debt.IsZero() {
			repaid = fixedpoint.Zero()
			return nil
		}
		effective := fixedpoint.Min(amount, debt)

		m, err := tx.market(asset)
		if err != nil {
			return err
		}
		a := tx.account(user, asset)
		m.TotalBorrows = fixedpoint.SaturatingSub(m.TotalBorrows, effective)
		a.Borrowed = new(uint256.Int).Sub(debt, effective)
		a.BorrowIndex = m.BorrowIndex.Clone()

		if err := l.transferIn(ctx, tx, asset, user, effective); err != nil {
			return err
		}
		tx.emit(Event{Kind: EventRepay, User: user, Asset: asset, Amount: effective.Clone()})
		repaid = effective
		return nil
	})
	if err != nil {
		return nil, err
	}
	return repaid, nil
}
