// Package ledger implements a collateralized lending ledger: per-asset
// markets, per-user positions, index-based interest accrual, health checks
// and partial liquidation.
//
// Every operation runs serialized under one lock inside a staging
// transaction and commits only when all validations and custody transfers
// succeed. Events are delivered after commit, outside the lock.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/leafsii/leafsii-lending/internal/id"
)

// Config wires a Ledger to its collaborators. Oracle, Custody and Authorizer
// are required.
type Config struct {
	Oracle     PriceOracle
	Custody    Custody
	Authorizer Authorizer
	// RateModel defaults to DefaultRateModel when zero.
	RateModel RateModel
	Sink      EventSink
	Metrics   Metrics
	Clock     func() time.Time
	Logger    *zap.SugaredLogger
}

type Ledger struct {
	mu sync.RWMutex
	st *state

	rates   RateModel
	oracle  PriceOracle
	custody Custody
	auth    Authorizer
	sink    EventSink
	metrics Metrics
	clock   func() time.Time
	ids     *id.Generator
	logger  *zap.SugaredLogger

	// Commits take a ticket under mu; delivery runs in ticket order.
	tickets   uint64
	pubMu     sync.Mutex
	pubCond   *sync.Cond
	delivered uint64
}

func New(cfg Config) (*Ledger, error) {
	if cfg.Oracle == nil {
		return nil, errors.New("ledger: price oracle is required")
	}
	if cfg.Custody == nil {
		return nil, errors.New("ledger: custody is required")
	}
	if cfg.Authorizer == nil {
		return nil, errors.New("ledger: authorizer is required")
	}

	rates := cfg.RateModel
	if rates == (RateModel{}) {
		rates = DefaultRateModel()
	}
	if err := rates.Validate(); err != nil {
		return nil, err
	}

	l := &Ledger{
		st:      newState(),
		rates:   rates,
		oracle:  cfg.Oracle,
		custody: cfg.Custody,
		auth:    cfg.Authorizer,
		sink:    cfg.Sink,
		metrics: cfg.Metrics,
		clock:   cfg.Clock,
		ids:     id.NewGenerator(),
		logger:  cfg.Logger,
	}
	l.pubCond = sync.NewCond(&l.pubMu)
	if l.clock == nil {
		l.clock = time.Now
	}
	if l.logger == nil {
		l.logger = zap.NewNop().Sugar()
	}
	return l, nil
}

// RateModel returns the model the ledger was built with.
func (l *Ledger) RateModel() RateModel { return l.rates }

type opKey struct{}

// opMarker tags a context handed to collaborators during an operation.
type opMarker struct {
	ledger *Ledger
	parent *opMarker
}

// enter rejects contexts that already carry an operation of this ledger.
// It runs before any locking, so a collaborator calling back in gets an
// error instead of a deadlock.
func (l *Ledger) enter(ctx context.Context) (context.Context, error) {
	parent, _ := ctx.Value(opKey{}).(*opMarker)
	for m := parent; m != nil; m = m.parent {
		if m.ledger == l {
			return nil, ErrReentrantCall
		}
	}
	return context.WithValue(ctx, opKey{}, &opMarker{ledger: l, parent: parent}), nil
}

// mutate runs fn as one atomic operation.
func (l *Ledger) mutate(ctx context.Context, op string, fn func(ctx context.Context, tx *txn) error) error {
	start := time.Now()
	opCtx, err := l.enter(ctx)
	if err != nil {
		l.record(ctx, op, err, start)
		return err
	}

	events, ticket, err := l.apply(opCtx, op, fn)
	if err == nil {
		l.publish(ctx, ticket, events)
	}
	l.record(ctx, op, err, start)
	return err
}

// apply stages and commits fn under the write lock. Committed events get
// their IDs and a delivery ticket before the lock is released.
func (l *Ledger) apply(ctx context.Context, op string, fn func(ctx context.Context, tx *txn) error) ([]Event, uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := newTxn(l.st, l.clock())
	if err := fn(ctx, tx); err != nil {
		reversals := len(tx.undo)
		if rbErr := tx.rollback(ctx); rbErr != nil {
			l.logger.Errorw("custody compensation failed", "op", op, "error", rbErr)
			return nil, 0, errors.Join(err, fmt.Errorf("compensation: %w", rbErr))
		}
		if reversals > 0 {
			l.logger.Warnw("operation rolled back", "op", op, "reversed_transfers", reversals, "error", err)
		}
		return nil, 0, err
	}
	tx.commit()
	if l.sink == nil {
		return nil, 0, nil
	}
	for i := range tx.events {
		tx.events[i].ID = l.ids.At(tx.events[i].Time)
	}
	l.tickets++
	return tx.events, l.tickets, nil
}

// view runs fn under the read lock against committed state.
func (l *Ledger) view(ctx context.Context, fn func(ctx context.Context, tx *txn) error) error {
	opCtx, err := l.enter(ctx)
	if err != nil {
		return err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fn(opCtx, newTxn(l.st, l.clock()))
}

// publish waits for every earlier ticket to be delivered, then hands the
// events to the sink. The ledger lock is not held, so sinks may read.
func (l *Ledger) publish(ctx context.Context, ticket uint64, events []Event) {
	if ticket == 0 {
		return
	}
	l.pubMu.Lock()
	for l.delivered != ticket-1 {
		l.pubCond.Wait()
	}
	l.pubMu.Unlock()

	defer func() {
		l.pubMu.Lock()
		l.delivered = ticket
		l.pubMu.Unlock()
		l.pubCond.Broadcast()
	}()
	for _, e := range events {
		l.sink.Emit(ctx, e)
	}
}

func (l *Ledger) record(ctx context.Context, op string, err error, start time.Time) {
	if l.metrics != nil {
		l.metrics.RecordOperation(ctx, op, err, time.Since(start))
	}
}

// price looks an asset up once per transaction. A zero price is rejected.
func (l *Ledger) price(ctx context.Context, tx *txn, asset Address) (*uint256.Int, error) {
	if p, ok := tx.prices[asset]; ok {
		return p, nil
	}
	p, err := l.oracle.Price(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("price %s: %w", asset, err)
	}
	if p == nil || p.IsZero() {
		return nil, fmt.Errorf("price %s: %w", asset, ErrInvalidPriceFromFeed)
	}
	tx.prices[asset] = p.Clone()
	return tx.prices[asset], nil
}

func (l *Ledger) transferIn(ctx context.Context, tx *txn, asset, from Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	amount = amount.Clone()
	if err := l.custody.TransferIn(ctx, asset, from, amount); err != nil {
		return fmt.Errorf("transfer in %s from %s: %w", asset, from, err)
	}
	tx.onRollback(func(ctx context.Context) error {
		if err := l.custody.TransferOut(ctx, asset, from, amount); err != nil {
			return fmt.Errorf("return %s %s to %s: %w", amount.Dec(), asset, from, err)
		}
		return nil
	})
	return nil
}

func (l *Ledger) transferOut(ctx context.Context, tx *txn, asset, to Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	amount = amount.Clone()
	if err := l.custody.TransferOut(ctx, asset, to, amount); err != nil {
		return fmt.Errorf("transfer out %s to %s: %w", asset, to, err)
	}
	tx.onRollback(func(ctx context.Context) error {
		if err := l.custody.TransferIn(ctx, asset, to, amount); err != nil {
			return fmt.Errorf("reclaim %s %s from %s: %w", amount.Dec(), asset, to, err)
		}
		return nil
	})
	return nil
}

// ListMarket opens a market for asset. Only callers accepted by the
// Authorizer may list.
func (l *Ledger) ListMarket(ctx context.Context, caller, asset Address) error {
	return l.mutate(ctx, "list_market", func(ctx context.Context, tx *txn) error {
		if err := l.auth.Authorize(ctx, caller); err != nil {
			return fmt.Errorf("list %s: %w", asset, err)
		}
		if !asset.Valid() {
			return ErrInvalidAmount
		}
		if _, ok := tx.viewMarket(asset); ok {
			return ErrMarketAlreadyListed
		}
		tx.addMarket(newMarket(asset, tx.unix()))
		tx.emit(Event{Kind: EventMarketListed, Asset: asset})
		l.logger.Infow("market listed", "asset", asset, "caller", caller)
		return nil
	})
}

// Market returns a copy of asset's market.
func (l *Ledger) Market(ctx context.Context, asset Address) (*Market, error) {
	var out *Market
	err := l.view(ctx, func(_ context.Context, tx *txn) error {
		m, ok := tx.viewMarket(asset)
		if !ok {
			return ErrMarketNotListed
		}
		out = m.clone()
		return nil
	})
	return out, err
}

// Markets returns copies of every market in listing order.
func (l *Ledger) Markets(ctx context.Context) ([]*Market, error) {
	var out []*Market
	err := l.view(ctx, func(_ context.Context, tx *txn) error {
		for _, asset := range tx.assets() {
			m, _ := tx.viewMarket(asset)
			out = append(out, m.clone())
		}
		return nil
	})
	return out, err
}

// SupportedAssets returns the listed assets in listing order.
func (l *Ledger) SupportedAssets(ctx context.Context) ([]Address, error) {
	var out []Address
	err := l.view(ctx, func(_ context.Context, tx *txn) error {
		out = tx.assets()
		return nil
	})
	return out, err
}

// Account returns a copy of user's position in asset. Untouched positions
// come back empty.
func (l *Ledger) Account(ctx context.Context, user, asset Address) (*Account, error) {
	var out *Account
	err := l.view(ctx, func(_ context.Context, tx *txn) error {
		if _, ok := tx.viewMarket(asset); !ok {
			return ErrMarketNotListed
		}
		out = tx.viewAccount(user, asset).clone()
		return nil
	})
	return out, err
}

// Debt returns user's resolved debt in asset at the market's stored index.
func (l *Ledger) Debt(ctx context.Context, user, asset Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := l.view(ctx, func(_ context.Context, tx *txn) error {
		m, ok := tx.viewMarket(asset)
		if !ok {
			return ErrMarketNotListed
		}
		debt, err := resolve(tx.viewAccount(user, asset), m)
		out = debt
		return err
	})
	return out, err
}

// BorrowRate returns asset's current annual borrow rate in basis points.
func (l *Ledger) BorrowRate(ctx context.Context, asset Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := l.view(ctx, func(_ context.Context, tx *txn) error {
		m, ok := tx.viewMarket(asset)
		if !ok {
			return ErrMarketNotListed
		}
		rate, err := l.rates.BorrowRate(m)
		out = rate
		return err
	})
	return out, err
}

// Utilization returns asset's utilization in basis points.
func (l *Ledger) Utilization(ctx context.Context, asset Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := l.view(ctx, func(_ context.Context, tx *txn) error {
		m, ok := tx.viewMarket(asset)
		if !ok {
			return ErrMarketNotListed
		}
		util, err := l.rates.Utilization(m)
		out = util
		return err
	})
	return out, err
}
