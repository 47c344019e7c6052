package api

import (
	"time"

	"github.com/leafsii/leafsii-lending/internal/ledger"
)

// Amounts are reported twice: Raw in the asset's smallest unit and a human
// decimal string in whole tokens.

type MarketDTO struct {
	Asset            ledger.Address `json:"asset"`
	Symbol           string         `json:"symbol,omitempty"`
	Decimals         int32          `json:"decimals"`
	TotalDeposits    string         `json:"totalDeposits"`
	TotalBorrows     string         `json:"totalBorrows"`
	TotalDepositsRaw string         `json:"totalDepositsRaw"`
	TotalBorrowsRaw  string         `json:"totalBorrowsRaw"`
	BorrowIndex      string         `json:"borrowIndex"`
	LastAccrualTime  uint64         `json:"lastAccrualTime"`
	Utilization      string         `json:"utilization"`
	BorrowAPR        string         `json:"borrowApr"`
	PriceUSD         string         `json:"priceUsd,omitempty"`
	PriceSource      string         `json:"priceSource,omitempty"`
	PriceError       string         `json:"priceError,omitempty"`
}

type PositionDTO struct {
	Asset           ledger.Address `json:"asset"`
	Deposited       string         `json:"deposited"`
	Debt            string         `json:"debt"`
	DepositedRaw    string         `json:"depositedRaw"`
	DebtRaw         string         `json:"debtRaw"`
	CollateralValue string         `json:"collateralValueUsd"`
	BorrowValue     string         `json:"borrowValueUsd"`
}

type AccountDTO struct {
	User                 ledger.Address `json:"user"`
	Positions            []PositionDTO  `json:"positions"`
	CollateralValue      string         `json:"collateralValueUsd"`
	DiscountedCollateral string         `json:"discountedCollateralUsd"`
	BorrowValue          string         `json:"borrowValueUsd"`
	Liquidity            string         `json:"liquidityUsd"`
	// Health is omitted when nothing is borrowed.
	Health       string            `json:"health,omitempty"`
	Liquidatable bool              `json:"liquidatable"`
	Wallet       map[string]string `json:"wallet"`
	AsOf         int64             `json:"asOf"`
}

type QuoteDTO struct {
	Asset     ledger.Address `json:"asset"`
	Symbol    string         `json:"symbol,omitempty"`
	USD       string         `json:"usd"`
	Source    string         `json:"source"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

type ListMarketRequest struct {
	Asset string `json:"asset"`
}

// AmountRequest carries a human amount, e.g. "1.5".
type AmountRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type OperationDTO struct {
	Operation string         `json:"operation"`
	User      ledger.Address `json:"user"`
	Asset     ledger.Address `json:"asset"`
	Amount    string         `json:"amount"`
	AmountRaw string         `json:"amountRaw"`
	AsOf      int64          `json:"asOf"`
}

type LiquidationRequest struct {
	Borrower        string `json:"borrower"`
	BorrowAsset     string `json:"borrowAsset"`
	CollateralAsset string `json:"collateralAsset"`
	RepayAmount     string `json:"repayAmount"`
}

type LiquidationDTO struct {
	Caller          ledger.Address `json:"caller"`
	Borrower        ledger.Address `json:"borrower"`
	BorrowAsset     ledger.Address `json:"borrowAsset"`
	CollateralAsset ledger.Address `json:"collateralAsset"`
	Repaid          string         `json:"repaid"`
	Seized          string         `json:"seized"`
	HealthBefore    string         `json:"healthBefore"`
	AsOf            int64          `json:"asOf"`
}

type AccrueDTO struct {
	Asset       ledger.Address `json:"asset"`
	BorrowIndex string         `json:"borrowIndex"`
	AsOf        int64          `json:"asOf"`
}

type FaucetRequest struct {
	Asset  string `json:"asset"`
	Holder string `json:"holder"`
	Amount string `json:"amount"`
}

type PaginatedResponse struct {
	Data    interface{} `json:"data"`
	HasMore bool        `json:"hasMore"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type ReadinessDTO struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
