package ledger

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/leafsii/leafsii-lending/internal/fixedpoint"
)

// RateModel is a two-segment utilization curve. All fields are basis points.
type RateModel struct {
	BaseRate       uint64 `json:"baseRate"`
	Multiplier     uint64 `json:"multiplier"`
	Kink           uint64 `json:"kink"`
	JumpMultiplier uint64 `json:"jumpMultiplier"`
}

// DefaultRateModel returns 2% base, 10% at the 80% kink and 20% at full
// utilization.
func DefaultRateModel() RateModel {
	return RateModel{BaseRate: 200, Multiplier: 1000, Kink: 8000, JumpMultiplier: 5000}
}

// NewRateModel returns a validated model.
func NewRateModel(baseRate, multiplier, kink, jumpMultiplier uint64) (RateModel, error) {
	m := RateModel{BaseRate: baseRate, Multiplier: multiplier, Kink: kink, JumpMultiplier: jumpMultiplier}
	if err := m.Validate(); err != nil {
		return RateModel{}, err
	}
	return m, nil
}

func (r RateModel) Validate() error {
	if r.Kink > BasisPoints {
		return fmt.Errorf("%w: kink %d exceeds %d", ErrInvalidRateModel, r.Kink, BasisPoints)
	}
	if r.JumpMultiplier <= r.Multiplier {
		return fmt.Errorf("%w: jump multiplier %d must exceed multiplier %d", ErrInvalidRateModel, r.JumpMultiplier, r.Multiplier)
	}
	return nil
}

// Utilization returns totalBorrows / totalDeposits in basis points, or zero
// for an empty market. It may exceed 10000 once interest outgrows deposits.
func (r RateModel) Utilization(m *Market) (*uint256.Int, error) {
	if m.TotalDeposits.IsZero() {
		return fixedpoint.Zero(), nil
	}
	return fixedpoint.MulDiv(m.TotalBorrows, fixedpoint.BasisPoints(), m.TotalDeposits)
}

// BorrowRate returns the annual borrow rate in basis points for m.
func (r RateModel) BorrowRate(m *Market) (*uint256.Int, error) {
	util, err := r.Utilization(m)
	if err != nil {
		return nil, err
	}
	return r.rateAt(util)
}

func (r RateModel) rateAt(util *uint256.Int) (*uint256.Int, error) {
	base := fixedpoint.New(r.BaseRate)
	kink := fixedpoint.New(r.Kink)

	if !util.Gt(kink) {
		slope, err := fixedpoint.MulBps(util, r.Multiplier)
		if err != nil {
			return nil, err
		}
		return fixedpoint.Add(base, slope)
	}

	normal, err := fixedpoint.MulBps(kink, r.Multiplier)
	if err != nil {
		return nil, err
	}
	excess := new(uint256.Int).Sub(util, kink)
	jump, err := fixedpoint.MulBps(excess, r.JumpMultiplier)
	if err != nil {
		return nil, err
	}
	rate, err := fixedpoint.Add(base, normal)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Add(rate, jump)
}
