package api

import (
	"errors"
	"net/http"

	"github.com/leafsii/leafsii-lending/internal/custody"
	"github.com/leafsii/leafsii-lending/internal/fixedpoint"
	"github.com/leafsii/leafsii-lending/internal/ledger"
)

var errorTable = []struct {
	err    error
	status int
	code   string
}{
	{ledger.ErrMarketNotListed, http.StatusNotFound, "MARKET_NOT_LISTED"},
	{ledger.ErrMarketAlreadyListed, http.StatusConflict, "MARKET_ALREADY_LISTED"},
	{ledger.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
	{ledger.ErrUnauthorized, http.StatusForbidden, "UNAUTHORIZED"},
	{ledger.ErrInsufficientBalance, http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE"},
	{ledger.ErrInsufficientCollateral, http.StatusUnprocessableEntity, "INSUFFICIENT_COLLATERAL"},
	{ledger.ErrAccountNotLiquidatable, http.StatusUnprocessableEntity, "ACCOUNT_NOT_LIQUIDATABLE"},
	{ledger.ErrRepayAmountTooHigh, http.StatusUnprocessableEntity, "REPAY_AMOUNT_TOO_HIGH"},
	{custody.ErrInsufficientFunds, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS"},
	{fixedpoint.ErrOverflow, http.StatusUnprocessableEntity, "ARITHMETIC_OVERFLOW"},
	{ledger.ErrNoPriceAvailable, http.StatusServiceUnavailable, "NO_PRICE"},
	{ledger.ErrStalePrice, http.StatusServiceUnavailable, "STALE_PRICE"},
	{ledger.ErrInvalidPriceFromFeed, http.StatusServiceUnavailable, "INVALID_PRICE"},
}

// classify maps a ledger error to an HTTP status and error code.
func classify(err error) (int, string) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL"
}
