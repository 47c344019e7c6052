package ledger

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/leafsii/leafsii-lending/internal/fixedpoint"
)

// Position is one asset's contribution to an account's health.
type Position struct {
	Asset     Address
	Deposited *uint256.Int
	Debt      *uint256.Int
	Price     *uint256.Int
	// CollateralValue is undiscounted; BorrowValue is the resolved debt's value.
	CollateralValue *uint256.Int
	BorrowValue     *uint256.Int
}

// AccountStatus aggregates a user's positions across all listed markets.
// Values are amount * price / 1e18.
type AccountStatus struct {
	User      Address
	Positions []Position

	CollateralValue      *uint256.Int
	DiscountedCollateral *uint256.Int
	BorrowValue          *uint256.Int
	// Liquidity is DiscountedCollateral - BorrowValue, floored at zero.
	Liquidity *uint256.Int
	// Health is CollateralValue * 10000 / BorrowValue, or the maximum
	// 256-bit value when nothing is borrowed.
	Health       *uint256.Int
	Liquidatable bool
}

// status walks the listed markets once, pricing only the assets where the
// user holds a deposit or principal. Markets use their stored index.
func (l *Ledger) status(ctx context.Context, tx *txn, user Address) (*AccountStatus, error) {
	s := &AccountStatus{
		User:                 user,
		CollateralValue:      fixedpoint.Zero(),
		DiscountedCollateral: fixedpoint.Zero(),
		BorrowValue:          fixedpoint.Zero(),
	}
	discount, err := fixedpoint.Mul(fixedpoint.Scale(), fixedpoint.New(BasisPoints))
	if err != nil {
		return nil, err
	}

	for _, asset := range tx.assets() {
		a := tx.viewAccount(user, asset)
		if a.empty() {
			continue
		}
		m, _ := tx.viewMarket(asset)
		debt, err := resolve(a, m)
		if err != nil {
			return nil, err
		}
		p, err := l.price(ctx, tx, asset)
		if err != nil {
			return nil, err
		}

		pos := Position{
			Asset:     asset,
			Deposited: a.Deposited.Clone(),
			Debt:      debt,
			Price:     p.Clone(),
		}
		if pos.CollateralValue, err = fixedpoint.MulDiv(a.Deposited, p, fixedpoint.Scale()); err != nil {
			return nil, fmt.Errorf("collateral value %s: %w", asset, err)
		}
		discountedPrice, err := fixedpoint.Mul(p, fixedpoint.New(CollateralFactor))
		if err != nil {
			return nil, fmt.Errorf("collateral value %s: %w", asset, err)
		}
		discounted, err := fixedpoint.MulDiv(a.Deposited, discountedPrice, discount)
		if err != nil {
			return nil, fmt.Errorf("collateral value %s: %w", asset, err)
		}
		if pos.BorrowValue, err = fixedpoint.MulDiv(debt, p, fixedpoint.Scale()); err != nil {
			return nil, fmt.Errorf("borrow value %s: %w", asset, err)
		}

		if s.CollateralValue, err = fixedpoint.Add(s.CollateralValue, pos.CollateralValue); err != nil {
			return nil, err
		}
		if s.DiscountedCollateral, err = fixedpoint.Add(s.DiscountedCollateral, discounted); err != nil {
			return nil, err
		}
		if s.BorrowValue, err = fixedpoint.Add(s.BorrowValue, pos.BorrowValue); err != nil {
			return nil, err
		}
		s.Positions = append(s.Positions, pos)
	}

	s.Liquidity = fixedpoint.SaturatingSub(s.DiscountedCollateral, s.BorrowValue)
	if s.BorrowValue.IsZero() {
		s.Health = fixedpoint.Max()
	} else {
		if s.Health, err = fixedpoint.MulDiv(s.CollateralValue, fixedpoint.BasisPoints(), s.BorrowValue); err != nil {
			return nil, err
		}
	}
	s.Liquidatable = s.Health.Lt(fixedpoint.New(LiquidationThreshold))
	return s, nil
}

// AccountLiquidity returns the user's discounted collateral value minus
// borrow value, floored at zero.
func (l *Ledger) AccountLiquidity(ctx context.Context, user Address) (*uint256.Int, error) {
	s, err := l.AccountStatus(ctx, user)
	if err != nil {
		return nil, err
	}
	return s.Liquidity, nil
}

// AccountHealth returns the user's health factor in basis points.
func (l *Ledger) AccountHealth(ctx context.Context, user Address) (*uint256.Int, error) {
	s, err := l.AccountStatus(ctx, user)
	if err != nil {
		return nil, err
	}
	return s.Health, nil
}

// AccountStatus returns positions, values, liquidity and health in one pass.
func (l *Ledger) AccountStatus(ctx context.Context, user Address) (*AccountStatus, error) {
	var out *AccountStatus
	err := l.view(ctx, func(ctx context.Context, tx *txn) error {
		s, err := l.status(ctx, tx, user)
		out = s
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
