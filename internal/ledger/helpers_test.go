package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/leafsii/leafsii-lending/internal/fixedpoint"
)

const (
	admin  Address = "0xadmin"
	assetC Address = "C"
	assetD Address = "D"
	assetE Address = "E"
)

var errNoFunds = errors.New("insufficient funds")

// units returns n whole 18-decimal tokens.
func units(n uint64) *uint256.Int { return fixedpoint.Units(n, 18) }

// milli returns n thousandths of an 18-decimal token.
func milli(n uint64) *uint256.Int { return fixedpoint.Units(n, 15) }

type fakeOracle struct {
	mu     sync.Mutex
	prices map[Address]*uint256.Int
	errs   map[Address]error
	calls  map[Address]int
	hook   func(ctx context.Context)
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		prices: make(map[Address]*uint256.Int),
		errs:   make(map[Address]error),
		calls:  make(map[Address]int),
	}
}

func (o *fakeOracle) set(asset Address, price uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[asset] = uint256.NewInt(price)
}

func (o *fakeOracle) fail(asset Address, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs[asset] = err
}

func (o *fakeOracle) Price(ctx context.Context, asset Address) (*uint256.Int, error) {
	if o.hook != nil {
		o.hook(ctx)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls[asset]++
	if err := o.errs[asset]; err != nil {
		return nil, err
	}
	p, ok := o.prices[asset]
	if !ok {
		return nil, ErrNoPriceAvailable
	}
	return p.Clone(), nil
}

// fakeCustody keeps wallets per holder and one pool per asset.
type fakeCustody struct {
	mu      sync.Mutex
	wallets map[accountKey]*uint256.Int
	pool    map[Address]*uint256.Int

	failIn  func(asset, from Address) error
	failOut func(asset, to Address) error
	hook    func(ctx context.Context)
}

func newFakeCustody() *fakeCustody {
	return &fakeCustody{
		wallets: make(map[accountKey]*uint256.Int),
		pool:    make(map[Address]*uint256.Int),
	}
}

func (c *fakeCustody) fund(asset, holder Address, amount *uint256.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := accountKey{user: holder, asset: asset}
	c.wallets[key] = new(uint256.Int).Add(c.get(c.wallets, key), amount)
}

func (c *fakeCustody) get(m map[accountKey]*uint256.Int, key accountKey) *uint256.Int {
	if v, ok := m[key]; ok {
		return v
	}
	return fixedpoint.Zero()
}

func (c *fakeCustody) wallet(asset, holder Address) *uint256.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(c.wallets, accountKey{user: holder, asset: asset}).Clone()
}

func (c *fakeCustody) poolBalance(asset Address) *uint256.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fixedpoint.Clone(c.pool[asset])
}

func (c *fakeCustody) TransferIn(ctx context.Context, asset, from Address, amount *uint256.Int) error {
	if c.hook != nil {
		c.hook(ctx)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failIn != nil {
		if err := c.failIn(asset, from); err != nil {
			return err
		}
	}
	key := accountKey{user: from, asset: asset}
	bal := c.get(c.wallets, key)
	if bal.Lt(amount) {
		return errNoFunds
	}
	c.wallets[key] = new(uint256.Int).Sub(bal, amount)
	c.pool[asset] = new(uint256.Int).Add(fixedpoint.Clone(c.pool[asset]), amount)
	return nil
}

func (c *fakeCustody) TransferOut(ctx context.Context, asset, to Address, amount *uint256.Int) error {
	if c.hook != nil {
		c.hook(ctx)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failOut != nil {
		if err := c.failOut(asset, to); err != nil {
			return err
		}
	}
	pool := fixedpoint.Clone(c.pool[asset])
	if pool.Lt(amount) {
		return errNoFunds
	}
	c.pool[asset] = new(uint256.Int).Sub(pool, amount)
	key := accountKey{user: to, asset: asset}
	c.wallets[key] = new(uint256.Int).Add(c.get(c.wallets, key), amount)
	return nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(_ context.Context, e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) kinds() []EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventKind, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}

func (s *recordingSink) last(kind EventKind) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Kind == kind {
			return s.events[i], true
		}
	}
	return Event{}, false
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

type MockMetrics struct {
	mock.Mock
}

func (m *MockMetrics) RecordOperation(ctx context.Context, op string, err error, d time.Duration) {
	m.Called(ctx, op, err, d)
}

type fixture struct {
	ledger  *Ledger
	oracle  *fakeOracle
	custody *fakeCustody
	clock   *testClock
	sink    *recordingSink
}

func allowAdmin(_ context.Context, caller Address) error {
	if caller != admin {
		return ErrUnauthorized
	}
	return nil
}

// newFixture lists C, D and E priced at 2000, 1 and 1 per smallest unit.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		oracle:  newFakeOracle(),
		custody: newFakeCustody(),
		clock:   &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		sink:    &recordingSink{},
	}
	l, err := New(Config{
		Oracle:     f.oracle,
		Custody:    f.custody,
		Authorizer: AuthorizerFunc(allowAdmin),
		Sink:       f.sink,
		Clock:      f.clock.Now,
		Logger:     zaptest.NewLogger(t).Sugar(),
	})
	require.NoError(t, err)
	f.ledger = l

	ctx := context.Background()
	for _, asset := range []Address{assetC, assetD, assetE} {
		require.NoError(t, l.ListMarket(ctx, admin, asset))
	}
	f.oracle.set(assetC, 2000)
	f.oracle.set(assetD, 1)
	f.oracle.set(assetE, 1)
	f.sink.reset()
	return f
}

func (f *fixture) deposit(t *testing.T, user, asset Address, amount *uint256.Int) {
	t.Helper()
	f.custody.fund(asset, user, amount)
	require.NoError(t, f.ledger.Deposit(context.Background(), user, asset, amount))
}

func (f *fixture) market(t *testing.T, asset Address) *Market {
	t.Helper()
	m, err := f.ledger.Market(context.Background(), asset)
	require.NoError(t, err)
	return m
}

func (f *fixture) account(t *testing.T, user, asset Address) *Account {
	t.Helper()
	a, err := f.ledger.Account(context.Background(), user, asset)
	require.NoError(t, err)
	return a
}
