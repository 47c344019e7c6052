package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/leafsii/leafsii-lending/internal/access"
	"github.com/leafsii/leafsii-lending/internal/custody"
	"github.com/leafsii/leafsii-lending/internal/fixedpoint"
	"github.com/leafsii/leafsii-lending/internal/ledger"
	"github.com/leafsii/leafsii-lending/internal/prices"
	"github.com/leafsii/leafsii-lending/pkg/kv/memory"
)

type fixture struct {
	cache  *Cache
	vault  *custody.Vault
	oracle *prices.Oracle
	ledger *ledger.Ledger
}

func newFixture(t *testing.T, sink func(l *ledger.Ledger, c *Cache) ledger.EventSink) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()

	store := memory.New(0)
	t.Cleanup(func() { store.Close() })
	cache := NewCache(store, logger)

	reg := prices.NewRegistry()
	require.NoError(t, reg.AddFeed(prices.Feed{Asset: "ETH", Symbol: "ETHUSDT", Decimals: 18}))
	oracle := prices.NewOracle(reg, 0, logger)
	oracle.SetStaticPrice("ETH", uint256.NewInt(2000))

	vault := custody.NewVault(logger)
	f := &fixture{cache: cache, vault: vault, oracle: oracle}

	var target ledger.EventSink = ledger.Fanout{}
	cfg := ledger.Config{
		Oracle:     oracle,
		Custody:    vault,
		Authorizer: access.NewAdminList("admin"),
		Logger:     logger,
		Clock:      func() time.Time { return time.Unix(1_700_000_000, 0) },
	}
	cfg.Sink = ledger.SinkFunc(func(ctx context.Context, e ledger.Event) { target.Emit(ctx, e) })

	l, err := ledger.New(cfg)
	require.NoError(t, err)
	f.ledger = l
	if sink != nil {
		target = sink(l, cache)
	}
	return f
}

func (f *fixture) deposit(t *testing.T, user ledger.Address, whole uint64) {
	t.Helper()
	amount := fixedpoint.Units(whole, 18)
	require.NoError(t, f.vault.Credit("ETH", user, amount))
	require.NoError(t, f.ledger.Deposit(context.Background(), user, "ETH", amount))
}

func TestCacheRoundTrip(t *testing.T) {
	cache := NewCache(memory.New(0), nil)
	defer cache.Close()
	ctx := context.Background()

	var out map[string]int
	assert.ErrorIs(t, cache.Get(ctx, "missing", &out), ErrCacheMiss)

	require.NoError(t, cache.Set(ctx, "k", map[string]int{"a": 1}, 0))
	require.NoError(t, cache.Get(ctx, "k", &out))
	assert.Equal(t, 1, out["a"])

	require.NoError(t, cache.Delete(ctx, "k"))
	assert.ErrorIs(t, cache.Get(ctx, "k", &out), ErrCacheMiss)

	all, err := cache.HGetAll(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSnapshotStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	snaps := NewSnapshotStore(f.cache, zaptest.NewLogger(t).Sugar())

	_, err := snaps.Load(ctx)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	require.NoError(t, f.ledger.ListMarket(ctx, "admin", "ETH"))
	f.deposit(t, "alice", 10)
	require.NoError(t, snaps.Checkpoint(ctx, f.ledger))

	restored := newFixture(t, nil)
	ok, err := snaps.RestoreInto(ctx, restored.ledger)
	require.NoError(t, err)
	assert.True(t, ok)

	m, err := restored.ledger.Market(ctx, "ETH")
	require.NoError(t, err)
	assert.Equal(t, fixedpoint.Units(10, 18).Dec(), m.TotalDeposits.Dec())

	acct, err := restored.ledger.Account(ctx, "alice", "ETH")
	require.NoError(t, err)
	assert.Equal(t, fixedpoint.Units(10, 18).Dec(), acct.Deposited.Dec())
}

func TestSnapshotStoreRejectsCorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	snaps := NewSnapshotStore(f.cache, nil)

	require.NoError(t, snaps.Save(ctx, &ledger.Snapshot{
		Assets:  []ledger.Address{"ETH"},
		Markets: []ledger.MarketRecord{{Asset: "ETH", TotalDeposits: "0", TotalBorrows: "0", BorrowIndex: "1"}},
	}))

	ok, err := snaps.RestoreInto(ctx, f.ledger)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ledger.ErrInvalidSnapshot))
}

func TestSnapshotStoreRunSavesOnShutdown(t *testing.T) {
	f := newFixture(t, nil)
	snaps := NewSnapshotStore(f.cache, nil)
	require.NoError(t, f.ledger.ListMarket(context.Background(), "admin", "ETH"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- snaps.Run(ctx, f.ledger, time.Hour) }()
	cancel()
	require.NoError(t, <-done)

	snap, err := snaps.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ledger.Address{"ETH"}, snap.Assets)
}

func TestPublisherEmit(t *testing.T) {
	ctx := context.Background()
	var pub *Publisher
	f := newFixture(t, func(l *ledger.Ledger, c *Cache) ledger.EventSink {
		pub = NewPublisher(c, l, zaptest.NewLogger(t).Sugar())
		return pub
	})

	sub, err := f.cache.Subscribe(ctx, ChannelEvents)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, f.ledger.ListMarket(ctx, "admin", "ETH"))
	f.deposit(t, "alice", 4)

	kinds := []ledger.EventKind{}
	for len(kinds) < 2 {
		select {
		case msg := <-sub.Messages():
			var rec ledger.EventRecord
			require.NoError(t, json.Unmarshal(msg.Payload, &rec))
			kinds = append(kinds, rec.Kind)
			if rec.Kind == ledger.EventDeposit {
				assert.Equal(t, ledger.Address("alice"), rec.User)
				assert.Equal(t, fixedpoint.Units(4, 18).Dec(), rec.Amount)
				assert.NotEmpty(t, rec.ID)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	assert.Equal(t, []ledger.EventKind{ledger.EventMarketListed, ledger.EventDeposit}, kinds)

	summaries, err := pub.MarketSummaries(ctx)
	require.NoError(t, err)
	require.Contains(t, summaries, ledger.Address("ETH"))
	assert.Equal(t, fixedpoint.Units(4, 18).Dec(), summaries["ETH"].TotalDeposits)
	assert.Equal(t, "0", summaries["ETH"].UtilizationBps)
	assert.Equal(t, "200", summaries["ETH"].BorrowRateBps)
}

func TestPublisherPublishPrice(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(memory.New(0), nil)
	defer cache.Close()
	pub := NewPublisher(cache, nil, nil)

	sub, err := cache.Subscribe(ctx, ChannelPrices)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, pub.PublishPrice(ctx, prices.Quote{
		Asset:  "ETH",
		Symbol: "ETHUSDT",
		USD:    decimal.NewFromInt(2000),
		Price:  uint256.NewInt(2000),
		Source: prices.SourceFeed,
	}))

	msg := <-sub.Messages()
	var got PriceMessage
	require.NoError(t, json.Unmarshal(msg.Payload, &got))
	assert.Equal(t, "2000", got.USD)
	assert.Equal(t, "2000", got.Price)

	var stored PriceMessage
	require.NoError(t, cache.HGet(ctx, KeyPrices, "ETH", &stored))
	assert.Equal(t, got, stored)
}

func TestTouchedMarkets(t *testing.T) {
	tests := []struct {
		name     string
		event    ledger.Event
		expected []ledger.Address
	}{
		{"deposit", ledger.Event{Kind: ledger.EventDeposit, Asset: "ETH"}, []ledger.Address{"ETH"}},
		{"liquidation", ledger.Event{Kind: ledger.EventLiquidate, BorrowAsset: "USDC", CollateralAsset: "ETH"}, []ledger.Address{"USDC", "ETH"}},
		{"same asset liquidation", ledger.Event{Kind: ledger.EventLiquidate, BorrowAsset: "ETH", CollateralAsset: "ETH"}, []ledger.Address{"ETH"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, touchedMarkets(tt.event))
		})
	}
}
