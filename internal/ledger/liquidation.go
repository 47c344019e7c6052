package ledger

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/leafsii/leafsii-lending/internal/fixedpoint"
)

// LiquidationResult reports a completed liquidation.
type LiquidationResult struct {
	Repaid       *uint256.Int
	Seized       *uint256.Int
	HealthBefore *uint256.Int
}

// Liquidate repays part of borrower's debt in borrowAsset on their behalf and
// pays the caller borrower's collateralAsset worth the repaid value plus the
// liquidation bonus. The borrower must be below the liquidation threshold and
// repayAmount may not exceed half of the debt in borrowAsset.
func (l *Ledger) Liquidate(ctx context.Context, caller, borrower, borrowAsset, collateralAsset Address, repayAmount *uint256.Int) (*LiquidationResult, error) {
	var res *LiquidationResult
	err := l.mutate(ctx, "liquidate", func(ctx context.Context, tx *txn) error {
		if _, ok := tx.viewMarket(borrowAsset); !ok {
			return fmt.Errorf("borrow asset %s: %w", borrowAsset, ErrMarketNotListed)
		}
		if _, ok := tx.viewMarket(collateralAsset); !ok {
			return fmt.Errorf("collateral asset %s: %w", collateralAsset, ErrMarketNotListed)
		}
		if !caller.Valid() || !borrower.Valid() || repayAmount == nil || repayAmount.IsZero() {
			return ErrInvalidAmount
		}
		if err := l.accrue(tx, borrowAsset); err != nil {
			return err
		}
		if err := l.accrue(tx, collateralAsset); err != nil {
			return err
		}

		status, err := l.status(ctx, tx, borrower)
		if err != nil {
			return err
		}
		if !status.Liquidatable {
			return ErrAccountNotLiquidatable
		}

		current, _ := tx.viewMarket(borrowAsset)
		debt, err := resolve(tx.viewAccount(borrower, borrowAsset), current)
		if err != nil {
			return err
		}
		maxRepay, err := fixedpoint.MulBps(debt, CloseFactor)
		if err != nil {
			return err
		}
		if repayAmount.Gt(maxRepay) {
			return ErrRepayAmountTooHigh
		}

		repayValue, err := l.value(ctx, tx, borrowAsset, repayAmount)
		if err != nil {
			return err
		}
		seizeValue, err := fixedpoint.MulBps(repayValue, BasisPoints+LiquidationBonus)
		if err != nil {
			return err
		}
		collateralPrice, err := l.price(ctx, tx, collateralAsset)
		if err != nil {
			return err
		}
		seized, err := fixedpoint.MulDiv(seizeValue, fixedpoint.Scale(), collateralPrice)
		if err != nil {
			return err
		}
		if tx.viewAccount(borrower, collateralAsset).Deposited.Lt(seized) {
			return ErrInsufficientBalance
		}

		bm, err := tx.market(borrowAsset)
		if err != nil {
			return err
		}
		debtor := tx.account(borrower, borrowAsset)
		debtor.Borrowed = new(uint256.Int).Sub(debt, repayAmount)
		debtor.BorrowIndex = bm.BorrowIndex.Clone()
		bm.TotalBorrows = fixedpoint.SaturatingSub(bm.TotalBorrows, repayAmount)

		cm, err := tx.market(collateralAsset)
		if err != nil {
			return err
		}
		pledger := tx.account(borrower, collateralAsset)
		if pledger.Deposited, err = fixedpoint.Sub(pledger.Deposited, seized); err != nil {
			return err
		}
		if cm.TotalDeposits, err = fixedpoint.Sub(cm.TotalDeposits, seized); err != nil {
			return fmt.Errorf("seize %s: total deposits: %w", collateralAsset, err)
		}

		if err := l.transferIn(ctx, tx, borrowAsset, caller, repayAmount); err != nil {
			return err
		}
		if err := l.transferOut(ctx, tx, collateralAsset, caller, seized); err != nil {
			return err
		}

		tx.emit(Event{
			Kind:             EventLiquidate,
			Caller:           caller,
			Borrower:         borrower,
			BorrowAsset:      borrowAsset,
			CollateralAsset:  collateralAsset,
			RepayAmount:      repayAmount.Clone(),
			CollateralSeized: seized.Clone(),
		})
		l.logger.Infow("account liquidated",
			"caller", caller,
			"borrower", borrower,
			"borrow_asset", borrowAsset,
			"collateral_asset", collateralAsset,
			"repaid", repayAmount.Dec(),
			"seized", seized.Dec(),
			"health_before", status.Health.Dec())

		res = &LiquidationResult{
			Repaid:       repayAmount.Clone(),
			Seized:       seized,
			HealthBefore: status.Health,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
