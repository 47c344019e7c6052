package scenario

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/leafsii/leafsii-lending/internal/access"
	"github.com/leafsii/leafsii-lending/internal/calc"
	"github.com/leafsii/leafsii-lending/internal/custody"
	"github.com/leafsii/leafsii-lending/internal/ledger"
	"github.com/leafsii/leafsii-lending/internal/prices"
)

// StepResult records the outcome of one step.
type StepResult struct {
	Index  int    `json:"index"`
	Op     string `json:"op"`
	Detail string `json:"detail,omitempty"`
	// Error is the ledger error the step produced, expected or not.
	Error string `json:"error,omitempty"`
	Time  int64  `json:"time"`
}

// Report is the outcome of a run.
type Report struct {
	Name   string               `json:"name"`
	Steps  []StepResult         `json:"steps"`
	Events []ledger.EventRecord `json:"events"`
	Passed bool                 `json:"passed"`
}

// StepError is returned when a step fails or its expectations do not hold.
type StepError struct {
	Index int
	Op    string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Op, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

type simClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *simClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *simClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type runner struct {
	s        *Scenario
	clock    *simClock
	oracle   *prices.Oracle
	vault    *custody.Vault
	ledger   *ledger.Ledger
	decimals map[ledger.Address]int32
	logger   *zap.SugaredLogger

	mu     sync.Mutex
	events []ledger.EventRecord
}

// Run executes the scenario on a fresh ledger. It stops at the first failing
// step; the report covers every step attempted.
func (s *Scenario) Run(ctx context.Context, logger *zap.SugaredLogger) (*Report, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	r, err := s.newRunner(logger)
	if err != nil {
		return nil, err
	}

	report := &Report{Name: s.Name}
	for i, st := range s.Steps {
		res := StepResult{Index: i, Op: st.Op}
		detail, err := r.step(ctx, st)
		res.Detail = detail
		res.Error = ErrorKind(err)
		res.Time = r.clock.Now().Unix()

		err = r.check(st, err)
		report.Steps = append(report.Steps, res)
		if err != nil {
			report.Events = r.recorded()
			logger.Warnw("Scenario step failed", "scenario", s.Name, "step", i, "op", st.Op, "error", err)
			return report, &StepError{Index: i, Op: st.Op, Err: err}
		}
		logger.Debugw("Scenario step", "scenario", s.Name, "step", i, "op", st.Op, "detail", detail, "error", res.Error)
	}

	report.Events = r.recorded()
	report.Passed = true
	return report, nil
}

func (s *Scenario) newRunner(logger *zap.SugaredLogger) (*runner, error) {
	start := s.Start
	if start.IsZero() {
		start = defaultStart
	}
	clock := &simClock{now: start}

	var maxAge time.Duration
	if s.MaxPriceAge != "" {
		d, err := parseDuration(s.MaxPriceAge)
		if err != nil {
			return nil, err
		}
		maxAge = d
	}

	reg := prices.NewRegistry()
	decimals := make(map[ledger.Address]int32, len(s.Assets))
	for _, a := range s.Assets {
		feed := prices.Feed{Asset: ledger.Address(a.Asset), Symbol: a.Asset, Decimals: a.Decimals}
		if a.Price != "" {
			usd, err := decimal.NewFromString(a.Price)
			if err != nil {
				return nil, fmt.Errorf("asset %s price: %w", a.Asset, err)
			}
			feed.Fallback = decimal.NewNullDecimal(usd)
		}
		if err := reg.AddFeed(feed); err != nil {
			return nil, err
		}
		decimals[feed.Asset] = a.Decimals
	}

	admins := s.Admins
	if len(admins) == 0 {
		admins = []string{"admin"}
	}

	r := &runner{
		s:        s,
		clock:    clock,
		oracle:   prices.NewOracle(reg, maxAge, logger, prices.WithClock(clock.Now)),
		vault:    custody.NewVault(logger),
		decimals: decimals,
		logger:   logger,
	}
	l, err := ledger.New(ledger.Config{
		Oracle:     r.oracle,
		Custody:    r.vault,
		Authorizer: access.NewAdminList(admins...),
		Sink:       ledger.SinkFunc(r.record),
		Clock:      clock.Now,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	r.ledger = l
	return r, nil
}

func (r *runner) record(_ context.Context, e ledger.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e.Record())
}

func (r *runner) recorded() []ledger.EventRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ledger.EventRecord(nil), r.events...)
}

// check compares a step's outcome with its declared error.
func (r *runner) check(st Step, err error) error {
	if st.Error == "" {
		return err
	}
	want, _ := lookupErrorKind(st.Error)
	if err == nil {
		return fmt.Errorf("expected %s, step succeeded", st.Error)
	}
	if !errors.Is(err, want) {
		return fmt.Errorf("expected %s, got: %w", st.Error, err)
	}
	return nil
}

// amount parses a human amount of asset. Undeclared assets are treated as 18
// decimals so calls still reach the ledger.
func (r *runner) amount(asset ledger.Address, s string) (*uint256.Int, error) {
	decimals, ok := r.decimals[asset]
	if !ok {
		decimals = calc.MaxDecimals
	}
	return calc.ParseAmount(s, decimals)
}

func (r *runner) human(asset ledger.Address, v *uint256.Int) string {
	return calc.ToDecimal(v, r.decimals[asset]).String()
}

func (r *runner) step(ctx context.Context, st Step) (string, error) {
	user := ledger.Address(st.User)
	asset := ledger.Address(st.Asset)

	switch st.Op {
	case OpList:
		caller := st.Caller
		if caller == "" {
			caller = "admin"
		}
		return fmt.Sprintf("%s lists %s", caller, asset), r.ledger.ListMarket(ctx, ledger.Address(caller), asset)

	case OpFund:
		amt, err := r.amount(asset, st.Amount)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("fund %s with %s %s", user, st.Amount, asset), r.vault.Credit(asset, user, amt)

	case OpDeposit, OpWithdraw, OpBorrow, OpRepay:
		amt, err := r.amount(asset, st.Amount)
		if err != nil {
			return "", err
		}
		detail := fmt.Sprintf("%s %s %s %s", user, st.Op, st.Amount, asset)
		switch st.Op {
		case OpDeposit:
			err = r.ledger.Deposit(ctx, user, asset, amt)
		case OpWithdraw:
			err = r.ledger.Withdraw(ctx, user, asset, amt)
		case OpBorrow:
			err = r.ledger.Borrow(ctx, user, asset, amt)
		case OpRepay:
			var repaid *uint256.Int
			repaid, err = r.ledger.Repay(ctx, user, asset, amt)
			if err == nil {
				detail = fmt.Sprintf("%s repays %s %s", user, r.human(asset, repaid), asset)
			}
		}
		return detail, err

	case OpLiquidate:
		amt, err := r.amount(asset, st.Amount)
		if err != nil {
			return "", err
		}
		collateral := ledger.Address(st.Collateral)
		res, err := r.ledger.Liquidate(ctx, ledger.Address(st.Caller), user, asset, collateral, amt)
		if err != nil {
			return fmt.Sprintf("%s liquidates %s", st.Caller, user), err
		}
		return fmt.Sprintf("%s repays %s %s for %s, seizes %s %s",
			st.Caller, r.human(asset, res.Repaid), asset, user, r.human(collateral, res.Seized), collateral), nil

	case OpAccrue:
		idx, err := r.ledger.Accrue(ctx, asset)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s index %s", asset, calc.IndexToDecimal(idx)), nil

	case OpAdvance:
		d, err := parseDuration(st.Duration)
		if err != nil {
			return "", err
		}
		r.clock.Advance(d)
		return fmt.Sprintf("clock +%s", st.Duration), nil

	case OpPrice:
		usd := decimal.Zero
		if st.Price != "invalid" {
			var err error
			if usd, err = decimal.NewFromString(st.Price); err != nil {
				return "", err
			}
		}
		return fmt.Sprintf("%s = $%s", asset, st.Price), r.oracle.Observe(ctx, asset, usd, r.clock.Now())

	case OpExpect:
		return "", r.expect(ctx, st.Expect)
	}
	return "", fmt.Errorf("unknown op %q", st.Op)
}

func (r *runner) expect(ctx context.Context, e *Expectation) error {
	tol := decimal.Zero
	if e.Tolerance != "" {
		var err error
		if tol, err = decimal.NewFromString(e.Tolerance); err != nil {
			return fmt.Errorf("tolerance: %w", err)
		}
	}
	user := ledger.Address(e.User)
	asset := ledger.Address(e.Asset)

	var failures []error
	cmp := func(field, want string, got decimal.Decimal) {
		if want == "" {
			return
		}
		w, err := decimal.NewFromString(want)
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", field, err))
			return
		}
		if got.Sub(w).Abs().GreaterThan(tol) {
			failures = append(failures, fmt.Errorf("%s: want %s, got %s", field, want, got))
		}
	}

	if e.Deposited != "" {
		a, err := r.ledger.Account(ctx, user, asset)
		if err != nil {
			return err
		}
		cmp("deposited", e.Deposited, calc.ToDecimal(a.Deposited, r.decimals[asset]))
	}
	if e.Debt != "" {
		debt, err := r.ledger.Debt(ctx, user, asset)
		if err != nil {
			return err
		}
		cmp("debt", e.Debt, calc.ToDecimal(debt, r.decimals[asset]))
	}
	if e.Wallet != "" {
		cmp("wallet", e.Wallet, calc.ToDecimal(r.vault.Balance(asset, user), r.decimals[asset]))
	}

	if e.TotalDeposits != "" || e.TotalBorrows != "" || e.BorrowIndex != "" {
		m, err := r.ledger.Market(ctx, asset)
		if err != nil {
			return err
		}
		cmp("totalDeposits", e.TotalDeposits, calc.ToDecimal(m.TotalDeposits, r.decimals[asset]))
		cmp("totalBorrows", e.TotalBorrows, calc.ToDecimal(m.TotalBorrows, r.decimals[asset]))
		cmp("borrowIndex", e.BorrowIndex, calc.IndexToDecimal(m.BorrowIndex))
	}
	if e.Utilization != "" {
		util, err := r.ledger.Utilization(ctx, asset)
		if err != nil {
			return err
		}
		cmp("utilization", e.Utilization, calc.BpsToRatio(util))
	}
	if e.BorrowRate != "" {
		rate, err := r.ledger.BorrowRate(ctx, asset)
		if err != nil {
			return err
		}
		cmp("borrowRate", e.BorrowRate, calc.BpsToRatio(rate))
	}

	if e.Health != "" || e.Liquidity != "" || e.Liquidatable != nil {
		s, err := r.ledger.AccountStatus(ctx, user)
		if err != nil {
			return err
		}
		if e.Health != "" {
			ratio, ok := calc.HealthRatio(s.Health)
			switch {
			case e.Health == "none" && ok:
				failures = append(failures, fmt.Errorf("health: want none, got %s", ratio))
			case e.Health != "none" && !ok:
				failures = append(failures, fmt.Errorf("health: want %s, got none", e.Health))
			case ok:
				cmp("health", e.Health, ratio)
			}
		}
		cmp("liquidity", e.Liquidity, calc.ToDecimal(s.Liquidity, 0))
		if e.Liquidatable != nil && *e.Liquidatable != s.Liquidatable {
			failures = append(failures, fmt.Errorf("liquidatable: want %t, got %t", *e.Liquidatable, s.Liquidatable))
		}
	}

	return errors.Join(failures...)
}
