// Package scenario replays scripted ledger sessions from YAML against an
// in-memory ledger with a simulated clock.
package scenario

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/leafsii/leafsii-lending/internal/calc"
	"github.com/leafsii/leafsii-lending/internal/custody"
	"github.com/leafsii/leafsii-lending/internal/ledger"
)

// Step operations.
const (
	OpList      = "list"
	OpFund      = "fund"
	OpDeposit   = "deposit"
	OpWithdraw  = "withdraw"
	OpBorrow    = "borrow"
	OpRepay     = "repay"
	OpLiquidate = "liquidate"
	OpAccrue    = "accrue"
	OpAdvance   = "advance"
	OpPrice     = "price"
	OpExpect    = "expect"
)

var defaultStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Scenario is a named script of ledger steps.
type Scenario struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description,omitempty"`
	Start       time.Time     `yaml:"start,omitempty"`
	Admins      []string      `yaml:"admins,omitempty"`
	MaxPriceAge string        `yaml:"maxPriceAge,omitempty"`
	Assets      []AssetConfig `yaml:"assets"`
	Steps       []Step        `yaml:"steps"`
}

// AssetConfig declares a priceable asset. Price is the USD fallback per whole
// token; leave it empty to require a price step first.
type AssetConfig struct {
	Asset    string `yaml:"asset"`
	Decimals int32  `yaml:"decimals"`
	Price    string `yaml:"price,omitempty"`
}

// Step is one scripted action. Amounts are human decimals in the asset's
// whole tokens.
type Step struct {
	Op     string `yaml:"op"`
	Caller string `yaml:"caller,omitempty"`
	User   string `yaml:"user,omitempty"`
	Asset  string `yaml:"asset,omitempty"`
	Amount string `yaml:"amount,omitempty"`
	// Collateral is the seized asset of a liquidate step.
	Collateral string `yaml:"collateral,omitempty"`
	// Duration of an advance step, e.g. "90m", "30d".
	Duration string `yaml:"duration,omitempty"`
	// Price of a price step in USD per whole token; "invalid" reports a
	// zero price.
	Price string `yaml:"price,omitempty"`
	// Error names the failure the step must produce, e.g.
	// InsufficientCollateral.
	Error  string       `yaml:"error,omitempty"`
	Expect *Expectation `yaml:"expect,omitempty"`
}

// Expectation lists values checked by an expect step. Empty fields are not
// checked.
type Expectation struct {
	User          string `yaml:"user,omitempty"`
	Asset         string `yaml:"asset,omitempty"`
	Deposited     string `yaml:"deposited,omitempty"`
	Debt          string `yaml:"debt,omitempty"`
	Wallet        string `yaml:"wallet,omitempty"`
	TotalDeposits string `yaml:"totalDeposits,omitempty"`
	TotalBorrows  string `yaml:"totalBorrows,omitempty"`
	BorrowIndex   string `yaml:"borrowIndex,omitempty"`
	Utilization   string `yaml:"utilization,omitempty"`
	BorrowRate    string `yaml:"borrowRate,omitempty"`
	// Health is a ratio such as "1.25", or "none" when nothing is borrowed.
	Health       string `yaml:"health,omitempty"`
	Liquidity    string `yaml:"liquidity,omitempty"`
	Liquidatable *bool  `yaml:"liquidatable,omitempty"`
	// Tolerance is the absolute difference allowed on decimal checks.
	Tolerance string `yaml:"tolerance,omitempty"`
}

var errorKinds = []struct {
	name string
	err  error
}{
	{"MarketNotListed", ledger.ErrMarketNotListed},
	{"MarketAlreadyListed", ledger.ErrMarketAlreadyListed},
	{"InvalidAmount", ledger.ErrInvalidAmount},
	{"InsufficientBalance", ledger.ErrInsufficientBalance},
	{"InsufficientCollateral", ledger.ErrInsufficientCollateral},
	{"AccountNotLiquidatable", ledger.ErrAccountNotLiquidatable},
	{"RepayAmountTooHigh", ledger.ErrRepayAmountTooHigh},
	{"NoPriceAvailable", ledger.ErrNoPriceAvailable},
	{"StalePrice", ledger.ErrStalePrice},
	{"InvalidPriceFromFeed", ledger.ErrInvalidPriceFromFeed},
	{"Unauthorized", ledger.ErrUnauthorized},
	{"InsufficientFunds", custody.ErrInsufficientFunds},
}

func lookupErrorKind(name string) (error, bool) {
	for _, k := range errorKinds {
		if k.name == name {
			return k.err, true
		}
	}
	return nil, false
}

// ErrorKind returns the name of the first known error err wraps.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Unknown"
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// Validate checks the static shape of the scenario.
func (s *Scenario) Validate() error {
	if s.MaxPriceAge != "" {
		if _, err := parseDuration(s.MaxPriceAge); err != nil {
			return fmt.Errorf("maxPriceAge: %w", err)
		}
	}

	decimals := make(map[string]int32, len(s.Assets))
	for i, a := range s.Assets {
		if a.Asset == "" {
			return fmt.Errorf("assets[%d]: asset is required", i)
		}
		if _, dup := decimals[a.Asset]; dup {
			return fmt.Errorf("assets[%d]: %s declared twice", i, a.Asset)
		}
		if a.Decimals < 0 || a.Decimals > calc.MaxDecimals {
			return fmt.Errorf("assets[%d]: decimals %d outside 0..%d", i, a.Decimals, calc.MaxDecimals)
		}
		if a.Price != "" {
			if _, err := positive(a.Price); err != nil {
				return fmt.Errorf("assets[%d]: price: %w", i, err)
			}
		}
		decimals[a.Asset] = a.Decimals
	}

	if len(s.Steps) == 0 {
		return errors.New("no steps")
	}
	for i, st := range s.Steps {
		if err := st.validate(decimals); err != nil {
			return fmt.Errorf("steps[%d] (%s): %w", i, st.Op, err)
		}
	}
	return nil
}

func (st Step) validate(decimals map[string]int32) error {
	if st.Error != "" {
		if _, ok := lookupErrorKind(st.Error); !ok {
			return fmt.Errorf("unknown error kind %q", st.Error)
		}
	}

	needAsset := func() error {
		if st.Asset == "" {
			return errors.New("asset is required")
		}
		return nil
	}
	needAmount := func() error {
		if err := needAsset(); err != nil {
			return err
		}
		if _, ok := decimals[st.Asset]; !ok {
			// Unknown assets are allowed so scripts can exercise MarketNotListed.
			if st.Error == "" {
				return fmt.Errorf("asset %s is not declared", st.Asset)
			}
		}
		if _, err := decimal.NewFromString(st.Amount); err != nil {
			return fmt.Errorf("amount %q: %w", st.Amount, err)
		}
		return nil
	}

	switch st.Op {
	case OpList, OpAccrue:
		return needAsset()
	case OpFund, OpDeposit, OpWithdraw, OpBorrow, OpRepay:
		if st.User == "" {
			return errors.New("user is required")
		}
		return needAmount()
	case OpLiquidate:
		if st.Caller == "" || st.User == "" || st.Collateral == "" {
			return errors.New("caller, user and collateral are required")
		}
		return needAmount()
	case OpAdvance:
		d, err := parseDuration(st.Duration)
		if err != nil {
			return err
		}
		if d <= 0 {
			return errors.New("duration must be positive")
		}
		return nil
	case OpPrice:
		if err := needAsset(); err != nil {
			return err
		}
		if st.Price == "invalid" {
			return nil
		}
		_, err := positive(st.Price)
		return err
	case OpExpect:
		if st.Expect == nil {
			return errors.New("expect block is required")
		}
		return nil
	case "":
		return errors.New("op is required")
	}
	return fmt.Errorf("unknown op %q", st.Op)
}

func positive(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s is not positive", s)
	}
	return d, nil
}

// parseDuration accepts time.ParseDuration input plus whole days ("30d").
func parseDuration(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.ParseInt(days, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("duration %q: %w", s, err)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("duration %q: %w", s, err)
	}
	return d, nil
}
