package ledger

import "errors"

var (
	ErrMarketNotListed        = errors.New("market not listed")
	ErrMarketAlreadyListed    = errors.New("market already listed")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrAccountNotLiquidatable = errors.New("account not liquidatable")
	ErrRepayAmountTooHigh     = errors.New("repay amount too high")

	// Price collaborator failures. Oracles return these (optionally wrapped)
	// so callers can match them with errors.Is.
	ErrNoPriceAvailable     = errors.New("no price available")
	ErrStalePrice           = errors.New("stale price")
	ErrInvalidPriceFromFeed = errors.New("invalid price from feed")

	ErrReentrantCall    = errors.New("reentrant ledger call")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrCorruptAccount   = errors.New("corrupt account: principal without index snapshot")
	ErrInvalidRateModel = errors.New("invalid rate model")
	ErrInvalidSnapshot  = errors.New("invalid snapshot")
)
