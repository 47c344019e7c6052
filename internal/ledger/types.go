package ledger

import (
	"github.com/holiman/uint256"

	"github.com/leafsii/leafsii-lending/internal/fixedpoint"
)

// Risk parameters, in basis points unless noted.
const (
	CollateralFactor     uint64 = 7500
	LiquidationThreshold uint64 = 8000
	LiquidationBonus     uint64 = 500
	BasisPoints          uint64 = fixedpoint.BasisPointsUnit
	// CloseFactor caps a single liquidation at this share of the borrower's
	// debt in the repaid asset.
	CloseFactor uint64 = 5000

	SecondsPerYear uint64 = 31_536_000
)

// Address identifies a user or an asset.
type Address string

// Valid reports whether a is usable as a user or asset identifier.
func (a Address) Valid() bool { return a != "" }

func (a Address) String() string { return string(a) }

// Market is the per-asset aggregate ledger record. Amounts are in the asset's
// smallest unit; BorrowIndex is 1e18-scaled.
type Market struct {
	Asset           Address
	Listed          bool
	TotalDeposits   *uint256.Int
	TotalBorrows    *uint256.Int
	LastAccrualTime uint64
	BorrowIndex     *uint256.Int
}

func newMarket(asset Address, now uint64) *Market {
	return &Market{
		Asset:           asset,
		Listed:          true,
		TotalDeposits:   fixedpoint.Zero(),
		TotalBorrows:    fixedpoint.Zero(),
		LastAccrualTime: now,
		BorrowIndex:     fixedpoint.Scale(),
	}
}

func (m *Market) clone() *Market {
	return &Market{
		Asset:           m.Asset,
		Listed:          m.Listed,
		TotalDeposits:   fixedpoint.Clone(m.TotalDeposits),
		TotalBorrows:    fixedpoint.Clone(m.TotalBorrows),
		LastAccrualTime: m.LastAccrualTime,
		BorrowIndex:     fixedpoint.Clone(m.BorrowIndex),
	}
}

// Account is one user's position in one market. Deposited does not bear
// interest; Borrowed is principal as of the BorrowIndex snapshot.
type Account struct {
	User        Address
	Asset       Address
	Deposited   *uint256.Int
	Borrowed    *uint256.Int
	BorrowIndex *uint256.Int
}

func newAccount(user, asset Address) *Account {
	return &Account{
		User:        user,
		Asset:       asset,
		Deposited:   fixedpoint.Zero(),
		Borrowed:    fixedpoint.Zero(),
		BorrowIndex: fixedpoint.Zero(),
	}
}

func (a *Account) clone() *Account {
	return &Account{
		User:        a.User,
		Asset:       a.Asset,
		Deposited:   fixedpoint.Clone(a.Deposited),
		Borrowed:    fixedpoint.Clone(a.Borrowed),
		BorrowIndex: fixedpoint.Clone(a.BorrowIndex),
	}
}

func (a *Account) empty() bool {
	return a.Deposited.IsZero() && a.Borrowed.IsZero()
}

type accountKey struct {
	user  Address
	asset Address
}

// state is the committed ledger. It is only replaced field by field in
// txn.commit while the write lock is held.
type state struct {
	assets   []Address
	markets  map[Address]*Market
	accounts map[accountKey]*Account
}

func newState() *state {
	return &state{
		markets:  make(map[Address]*Market),
		accounts: make(map[accountKey]*Account),
	}
}
