package ledger

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafsii/leafsii-lending/internal/fixedpoint"
)

func TestBorrowAgainstCollateral(t *testing.T) {
	tests := []struct {
		name    string
		amount  *uint256.Int
		wantErr error
	}{
		{name: "borrow up to headroom", amount: units(15000)},
		{name: "borrow past headroom", amount: units(15001), wantErr: ErrInsufficientCollateral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.deposit(t, "lender", assetD, units(100000))
			f.deposit(t, "alice", assetC, units(10))

			liquidity, err := f.ledger.AccountLiquidity(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, uint64(15000), liquidity.Uint64())

			err = f.ledger.Borrow(ctx, "alice", assetD, tt.amount)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, f.account(t, "alice", assetD).Borrowed.IsZero())
				assert.True(t, f.custody.wallet(assetD, "alice").IsZero())
				return
			}
			require.NoError(t, err)

			a := f.account(t, "alice", assetD)
			assert.Equal(t, tt.amount.Dec(), a.Borrowed.Dec())
			assert.Equal(t, fixedpoint.Scale().Dec(), a.BorrowIndex.Dec())
			assert.Equal(t, tt.amount.Dec(), f.market(t, assetD).TotalBorrows.Dec())
			assert.Equal(t, tt.amount.Dec(), f.custody.wallet(assetD, "alice").Dec())

			liquidity, err = f.ledger.AccountLiquidity(ctx, "alice")
			require.NoError(t, err)
			assert.True(t, liquidity.IsZero())
		})
	}
}

func TestOperationValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", assetC, units(1))

	tests := []struct {
		name    string
		op      func() error
		wantErr error
	}{
		{
			name:    "deposit unlisted",
			op:      func() error { return f.ledger.Deposit(ctx, "alice", "nope", units(1)) },
			wantErr: ErrMarketNotListed,
		},
		{
			name:    "deposit zero",
			op:      func() error { return f.ledger.Deposit(ctx, "alice", assetC, fixedpoint.Zero()) },
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "deposit empty user",
			op:      func() error { return f.ledger.Deposit(ctx, "", assetC, units(1)) },
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "withdraw more than deposited",
			op:      func() error { return f.ledger.Withdraw(ctx, "alice", assetC, units(2)) },
			wantErr: ErrInsufficientBalance,
		},
		{
			name:    "withdraw zero",
			op:      func() error { return f.ledger.Withdraw(ctx, "alice", assetC, fixedpoint.Zero()) },
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "borrow unlisted",
			op:      func() error { return f.ledger.Borrow(ctx, "alice", "nope", units(1)) },
			wantErr: ErrMarketNotListed,
		},
		{
			name:    "borrow nil amount",
			op:      func() error { return f.ledger.Borrow(ctx, "alice", assetD, nil) },
			wantErr: ErrInvalidAmount,
		},
		{
			name: "repay zero",
			op: func() error {
				_, err := f.ledger.Repay(ctx, "alice", assetD, fixedpoint.Zero())
				return err
			},
			wantErr: ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.op(), tt.wantErr)
		})
	}
}

func TestDepositAndWithdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", assetC, units(10))

	assert.Equal(t, units(10).Dec(), f.market(t, assetC).TotalDeposits.Dec())
	assert.Equal(t, units(10).Dec(), f.account(t, "alice", assetC).Deposited.Dec())
	assert.Equal(t, units(10).Dec(), f.custody.poolBalance(assetC).Dec())
	assert.Equal(t, []EventKind{EventDeposit}, f.sink.kinds())

	// Withdrawal value (15000) equals current liquidity.
	require.NoError(t, f.ledger.Withdraw(ctx, "alice", assetC, milli(7500)))
	assert.Equal(t, milli(2500).Dec(), f.account(t, "alice", assetC).Deposited.Dec())
	assert.Equal(t, milli(2500).Dec(), f.market(t, assetC).TotalDeposits.Dec())
	assert.Equal(t, milli(7500).Dec(), f.custody.wallet(assetC, "alice").Dec())

	e, ok := f.sink.last(EventWithdraw)
	require.True(t, ok)
	assert.Equal(t, Address("alice"), e.User)
	assert.Equal(t, milli(7500).Dec(), e.Amount.Dec())
}

func TestWithdrawChecksPresentLiquidity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", assetC, units(10))

	err := f.ledger.Withdraw(ctx, "alice", assetC, units(8))
	assert.ErrorIs(t, err, ErrInsufficientCollateral)
	assert.Equal(t, units(10).Dec(), f.account(t, "alice", assetC).Deposited.Dec())

	f.deposit(t, "lender", assetD, units(20000))
	require.NoError(t, f.ledger.Borrow(ctx, "alice", assetD, units(10000)))
	// 5000 of headroom left; 3 C is worth 6000.
	err = f.ledger.Withdraw(ctx, "alice", assetC, units(3))
	assert.ErrorIs(t, err, ErrInsufficientCollateral)
	require.NoError(t, f.ledger.Withdraw(ctx, "alice", assetC, units(2)))
}

func TestDepositCustodyFailure(t *testing.T) {
	f := newFixture(t)
	err := f.ledger.Deposit(context.Background(), "alice", assetC, units(1))
	assert.ErrorIs(t, err, errNoFunds)
	assert.True(t, f.market(t, assetC).TotalDeposits.IsZero())
	assert.True(t, f.account(t, "alice", assetC).Deposited.IsZero())
	assert.Empty(t, f.sink.kinds())
}

func TestBorrowFoldsInterest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setupHalfUtilized(t, f)

	f.clock.advance(year)
	require.NoError(t, f.ledger.Borrow(ctx, "borrower", assetD, units(10)))

	a := f.account(t, "borrower", assetD)
	m := f.market(t, assetD)
	assert.Equal(t, milli(63500).Dec(), a.Borrowed.Dec())
	assert.Equal(t, m.BorrowIndex.Dec(), a.BorrowIndex.Dec())
	// Accrued interest is already in the pool total; folding does not add it again.
	assert.Equal(t, milli(63500).Dec(), m.TotalBorrows.Dec())
}

func TestRepay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setupHalfUtilized(t, f)
	f.clock.advance(year)
	f.custody.fund(assetD, "borrower", units(10))
	walletBefore := f.custody.wallet(assetD, "borrower")

	repaid, err := f.ledger.Repay(ctx, "borrower", assetD, units(20))
	require.NoError(t, err)
	assert.Equal(t, units(20).Dec(), repaid.Dec())
	assert.Equal(t, milli(33500).Dec(), f.account(t, "borrower", assetD).Borrowed.Dec())

	// Excess is clamped to the outstanding debt and only that is pulled.
	repaid, err = f.ledger.Repay(ctx, "borrower", assetD, units(1000))
	require.NoError(t, err)
	assert.Equal(t, milli(33500).Dec(), repaid.Dec())

	a := f.account(t, "borrower", assetD)
	assert.True(t, a.Borrowed.IsZero())
	assert.True(t, f.market(t, assetD).TotalBorrows.IsZero())

	spent := new(uint256.Int).Sub(walletBefore, f.custody.wallet(assetD, "borrower"))
	assert.Equal(t, milli(53500).Dec(), spent.Dec())

	e, ok := f.sink.last(EventRepay)
	require.True(t, ok)
	assert.Equal(t, milli(33500).Dec(), e.Amount.Dec())
}

func TestRepayWithoutDebt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.custody.fund(assetD, "alice", units(5))

	repaid, err := f.ledger.Repay(ctx, "alice", assetD, units(5))
	require.NoError(t, err)
	assert.True(t, repaid.IsZero())
	assert.Equal(t, units(5).Dec(), f.custody.wallet(assetD, "alice").Dec())
	assert.Empty(t, f.sink.kinds())
}

func TestOracleFailureAborts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "lender", assetD, units(100))
	f.deposit(t, "alice", assetC, units(1))
	f.oracle.fail(assetC, ErrStalePrice)

	err := f.ledger.Borrow(ctx, "alice", assetD, units(1))
	assert.ErrorIs(t, err, ErrStalePrice)
	assert.True(t, f.market(t, assetD).TotalBorrows.IsZero())

	f.oracle.fail(assetC, nil)
	f.oracle.set(assetC, 0)
	err = f.ledger.Borrow(ctx, "alice", assetD, units(1))
	assert.ErrorIs(t, err, ErrInvalidPriceFromFeed)
}

func TestUnpricedUntouchedMarketDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.ListMarket(ctx, admin, "UNPRICED"))
	f.deposit(t, "lender", assetD, units(100))
	f.deposit(t, "alice", assetC, units(1))

	require.NoError(t, f.ledger.Borrow(ctx, "alice", assetD, units(100)))
	assert.Zero(t, f.oracle.calls["UNPRICED"])
}

func TestAccountHealthWithoutBorrows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", assetC, units(1))

	health, err := f.ledger.AccountHealth(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, fixedpoint.Max().Dec(), health.Dec())

	health, err = f.ledger.AccountHealth(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, fixedpoint.Max().Dec(), health.Dec())
}

func TestAccountStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "lender", assetD, units(10000))
	f.deposit(t, "alice", assetC, units(2))
	require.NoError(t, f.ledger.Borrow(ctx, "alice", assetD, units(1000)))

	s, err := f.ledger.AccountStatus(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, s.Positions, 2)
	assert.Equal(t, assetC, s.Positions[0].Asset)
	assert.Equal(t, assetD, s.Positions[1].Asset)
	assert.Equal(t, uint64(4000), s.CollateralValue.Uint64())
	assert.Equal(t, uint64(3000), s.DiscountedCollateral.Uint64())
	assert.Equal(t, uint64(1000), s.BorrowValue.Uint64())
	assert.Equal(t, uint64(2000), s.Liquidity.Uint64())
	assert.Equal(t, uint64(40000), s.Health.Uint64())
	assert.False(t, s.Liquidatable)
}
