package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafsii/leafsii-lending/internal/fixedpoint"
)

const year = time.Duration(SecondsPerYear) * time.Second

func TestResolveZeroPrincipal(t *testing.T) {
	indices := []*uint256.Int{
		fixedpoint.Scale(),
		units(3),
		fixedpoint.Max(),
	}
	for _, idx := range indices {
		m := newMarket("X", 0)
		m.BorrowIndex = idx
		debt, err := resolve(newAccount("u", "X"), m)
		require.NoError(t, err)
		assert.True(t, debt.IsZero(), "index %s", idx.Dec())
	}
}

func TestResolveCorruptAccount(t *testing.T) {
	a := newAccount("u", "X")
	a.Borrowed = units(1)
	_, err := resolve(a, newMarket("X", 0))
	assert.ErrorIs(t, err, ErrCorruptAccount)
}

// setupHalfUtilized leaves D with 100 deposited and 50 borrowed.
func setupHalfUtilized(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	f.deposit(t, "lender", assetD, units(100))
	f.deposit(t, "borrower", assetC, units(10))
	require.NoError(t, f.ledger.Borrow(ctx, "borrower", assetD, units(50)))
}

func TestAccrueOneYear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setupHalfUtilized(t, f)

	rate, err := f.ledger.BorrowRate(ctx, assetD)
	require.NoError(t, err)
	assert.Equal(t, uint64(700), rate.Uint64())

	f.clock.advance(year)
	f.sink.reset()
	index, err := f.ledger.Accrue(ctx, assetD)
	require.NoError(t, err)

	expected, err := fixedpoint.Parse("1070000000000000000")
	require.NoError(t, err)
	assert.Equal(t, expected.Dec(), index.Dec())

	m := f.market(t, assetD)
	assert.Equal(t, expected.Dec(), m.BorrowIndex.Dec())
	assert.Equal(t, milli(53500).Dec(), m.TotalBorrows.Dec())
	assert.Equal(t, uint64(f.clock.Now().Unix()), m.LastAccrualTime)

	debt, err := f.ledger.Debt(ctx, "borrower", assetD)
	require.NoError(t, err)
	assert.Equal(t, milli(53500).Dec(), debt.Dec())

	e, ok := f.sink.last(EventInterestAccrued)
	require.True(t, ok)
	assert.Equal(t, assetD, e.Asset)
	assert.Equal(t, expected.Dec(), e.BorrowIndex.Dec())
}

func TestAccrueZeroElapsedIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setupHalfUtilized(t, f)

	before := f.market(t, assetD)
	f.sink.reset()
	for i := 0; i < 3; i++ {
		_, err := f.ledger.Accrue(ctx, assetD)
		require.NoError(t, err)
	}
	after := f.market(t, assetD)

	assert.Equal(t, before.BorrowIndex.Dec(), after.BorrowIndex.Dec())
	assert.Equal(t, before.LastAccrualTime, after.LastAccrualTime)
	assert.Empty(t, f.sink.kinds())
}

func TestAccrueClockBackwards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setupHalfUtilized(t, f)

	f.clock.advance(time.Hour)
	_, err := f.ledger.Accrue(ctx, assetD)
	require.NoError(t, err)
	before := f.market(t, assetD)

	f.clock.advance(-30 * time.Minute)
	_, err = f.ledger.Accrue(ctx, assetD)
	require.NoError(t, err)
	after := f.market(t, assetD)

	assert.Equal(t, before.BorrowIndex.Dec(), after.BorrowIndex.Dec())
	assert.Equal(t, before.LastAccrualTime, after.LastAccrualTime)
}

func TestBorrowIndexNonDecreasing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setupHalfUtilized(t, f)

	steps := []time.Duration{0, time.Second, time.Minute, -time.Hour, 0, 24 * time.Hour, year, 2 * time.Hour}
	prev := f.market(t, assetD).BorrowIndex
	for i, step := range steps {
		f.clock.advance(step)
		if i%2 == 0 {
			f.deposit(t, "lender", assetD, units(uint64(i+1)))
		}
		idx, err := f.ledger.Accrue(ctx, assetD)
		require.NoError(t, err)
		assert.False(t, idx.Lt(prev), "step %d: %s < %s", i, idx.Dec(), prev.Dec())
		prev = idx
	}
}

func TestAccrueCompoundsAcrossCalls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setupHalfUtilized(t, f)

	// Two half-year accruals compound, so they land above one full-year
	// accrual at the same starting rate.
	f.clock.advance(year / 2)
	_, err := f.ledger.Accrue(ctx, assetD)
	require.NoError(t, err)
	f.clock.advance(year / 2)
	idx, err := f.ledger.Accrue(ctx, assetD)
	require.NoError(t, err)

	single, err := fixedpoint.Parse("1070000000000000000")
	require.NoError(t, err)
	assert.True(t, idx.Gt(single), "got %s", idx.Dec())
}

func TestAccrueUnlistedMarket(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Accrue(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrMarketNotListed)
}
