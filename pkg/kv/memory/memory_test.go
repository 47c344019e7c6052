package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/leafsii/leafsii-lending/pkg/kv"
	"github.com/leafsii/leafsii-lending/pkg/kv/kvtest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMemoryStore(t *testing.T) {
	factory := func(t *testing.T) kv.Store {
		return New(0) // Disable janitor for deterministic tests
	}

	kvtest.RunConformanceTests(t, factory)
}

func TestMemoryStoreWithJanitor(t *testing.T) {
	store := New(10 * time.Millisecond)
	defer store.Close()

	ctx := context.Background()
	key := "test:janitor"

	if err := store.Set(ctx, key, []byte("test"), 20*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	store.mu.RLock()
	_, present := store.strings[key]
	store.mu.RUnlock()
	if present {
		t.Fatalf("Expected key to be evicted by janitor")
	}
}

func TestMemoryStoreCloseEndsSubscriptions(t *testing.T) {
	store := New(time.Second)
	sub, err := store.Subscribe(context.Background(), "ledger:events")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	store.Close()

	if _, ok := <-sub.Messages(); ok {
		t.Fatalf("Expected subscription to be closed")
	}
	if err := store.Set(context.Background(), "k", []byte("v")); !errors.Is(err, kv.ErrClosed) {
		t.Fatalf("Expected ErrClosed, got %v", err)
	}
	if _, err := store.Publish(context.Background(), "ledger:events", nil); !errors.Is(err, kv.ErrClosed) {
		t.Fatalf("Expected ErrClosed, got %v", err)
	}
}

func TestMemoryStoreSlowSubscriberDrops(t *testing.T) {
	store := New(0)
	defer store.Close()

	ctx := context.Background()
	sub, err := store.Subscribe(ctx, "ledger:prices")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	var delivered int64
	for i := 0; i < subscriberBuffer+10; i++ {
		n, err := store.Publish(ctx, "ledger:prices", []byte("tick"))
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
		delivered += n
	}
	if delivered != subscriberBuffer {
		t.Fatalf("Expected %d delivered, got %d", subscriberBuffer, delivered)
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	store := New(0)
	defer store.Close()

	ctx := context.Background()
	value := []byte("abc")
	store.Set(ctx, "k", value)
	value[0] = 'z'

	got, _ := store.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("Expected stored copy, got %s", got)
	}
}
