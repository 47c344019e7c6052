// Package kvtest provides conformance tests for kv.Store implementations
package kvtest

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/leafsii/leafsii-lending/pkg/kv"
)

// StoreFactory creates a fresh Store instance for testing
type StoreFactory func(t *testing.T) kv.Store

type storeTest struct {
	name string
	test func(t *testing.T, store kv.Store)
}

// RunConformanceTests runs all conformance tests against a Store implementation
func RunConformanceTests(t *testing.T, factory StoreFactory) {
	groups := []struct {
		name  string
		tests []storeTest
	}{
		{"StringOperations", []storeTest{
			{"SetGet", testSetGet},
			{"GetNonExistent", testGetNonExistent},
			{"Overwrite", testOverwrite},
		}},
		{"KeyOperations", []storeTest{
			{"Del", testDel},
			{"Exists", testExists},
		}},
		{"TTLOperations", []storeTest{
			{"SetWithTTL", testSetWithTTL},
			{"Expire", testExpire},
			{"TTL", testTTL},
		}},
		{"HashOperations", []storeTest{
			{"HSetGet", testHSetGet},
			{"HGetAll", testHGetAll},
			{"HDel", testHDel},
		}},
		{"PubSub", []storeTest{
			{"PublishSubscribe", testPublishSubscribe},
			{"PublishWithoutSubscribers", testPublishWithoutSubscribers},
			{"CloseSubscription", testCloseSubscription},
		}},
		{"HealthCheck", []storeTest{
			{"Ping", testPing},
		}},
	}

	for _, g := range groups {
		t.Run(g.name, func(t *testing.T) {
			for _, tt := range g.tests {
				t.Run(tt.name, func(t *testing.T) {
					store := factory(t)
					defer store.Close()
					tt.test(t, store)
				})
			}
		})
	}
}

func testSetGet(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:snapshot"
	value := []byte(`{"assets":["ETH"]}`)

	if err := store.Set(ctx, key, value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	result, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !reflect.DeepEqual(result, value) {
		t.Fatalf("Expected %s, got %s", value, result)
	}
}

func testGetNonExistent(t *testing.T, store kv.Store) {
	_, err := store.Get(context.Background(), "test:nonexistent")
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func testOverwrite(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:overwrite"

	store.Set(ctx, key, []byte("v1"), time.Minute)
	store.Set(ctx, key, []byte("v2"))

	result, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(result) != "v2" {
		t.Fatalf("Expected v2, got %s", result)
	}

	// A plain Set clears the previous TTL
	ttl, err := store.TTL(ctx, key)
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl != -1 {
		t.Fatalf("Expected -1 after overwrite without TTL, got %v", ttl)
	}
}

func testDel(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key1, key2 := "test:del1", "test:del2"

	store.Set(ctx, key1, []byte("a"))
	store.Set(ctx, key2, []byte("b"))

	deleted, err := store.Del(ctx, key1, "test:del-missing")
	if err != nil {
		t.Fatalf("Del failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("Expected 1 deleted, got %d", deleted)
	}

	if _, err := store.Get(ctx, key1); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for deleted key, got %v", err)
	}
	if _, err := store.Get(ctx, key2); err != nil {
		t.Fatalf("Expected key2 to still exist, got %v", err)
	}
}

func testExists(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:exists"

	count, err := store.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("Expected 0 for non-existent key, got %d", count)
	}

	store.Set(ctx, key, []byte("x"))
	store.HSet(ctx, "test:exists-hash", "f", []byte("y"))

	count, err = store.Exists(ctx, key, "test:exists-hash")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("Expected 2 existing keys, got %d", count)
	}
}

func testSetWithTTL(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:ttl"

	if err := store.Set(ctx, key, []byte("expires"), 100*time.Millisecond); err != nil {
		t.Fatalf("Set with TTL failed: %v", err)
	}
	if _, err := store.Get(ctx, key); err != nil {
		t.Fatalf("Expected key to exist initially, got %v", err)
	}

	time.Sleep(150 * time.Millisecond)

	if _, err := store.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected key to be expired, got %v", err)
	}
}

func testExpire(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:expire"

	ok, err := store.Expire(ctx, key, time.Second)
	if err != nil {
		t.Fatalf("Expire failed: %v", err)
	}
	if ok {
		t.Fatalf("Expected Expire to return false for missing key")
	}

	store.Set(ctx, key, []byte("x"))
	ok, err = store.Expire(ctx, key, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Expire failed: %v", err)
	}
	if !ok {
		t.Fatalf("Expected Expire to return true for existing key")
	}

	time.Sleep(150 * time.Millisecond)

	if _, err := store.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected key to be expired, got %v", err)
	}
}

func testTTL(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:ttl-check"

	if _, err := store.TTL(ctx, key); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for non-existent key, got %v", err)
	}

	store.Set(ctx, key, []byte("x"))
	ttl, err := store.TTL(ctx, key)
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl != -1 {
		t.Fatalf("Expected -1 for key without TTL, got %v", ttl)
	}

	store.Set(ctx, key, []byte("x"), 5*time.Second)
	ttl, err = store.TTL(ctx, key)
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > 5*time.Second {
		t.Fatalf("Expected TTL between 0 and 5s, got %v", ttl)
	}
}

func testHSetGet(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:markets"

	if err := store.HSet(ctx, key, "ETH", []byte(`{"utilization":"0.5"}`)); err != nil {
		t.Fatalf("HSet failed: %v", err)
	}

	result, err := store.HGet(ctx, key, "ETH")
	if err != nil {
		t.Fatalf("HGet failed: %v", err)
	}
	if string(result) != `{"utilization":"0.5"}` {
		t.Fatalf("Unexpected value %s", result)
	}

	if _, err := store.HGet(ctx, key, "BTC"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for non-existent field, got %v", err)
	}
	if _, err := store.HGet(ctx, "test:no-hash", "ETH"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for non-existent key, got %v", err)
	}
}

func testHGetAll(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:hash-all"

	store.HSet(ctx, key, "field1", []byte("value1"))
	store.HSet(ctx, key, "field2", []byte("value2"))
	store.HSet(ctx, key, "field2", []byte("value3"))

	result, err := store.HGetAll(ctx, key)
	if err != nil {
		t.Fatalf("HGetAll failed: %v", err)
	}

	expected := map[string][]byte{
		"field1": []byte("value1"),
		"field2": []byte("value3"),
	}
	if !reflect.DeepEqual(result, expected) {
		t.Fatalf("Expected %v, got %v", expected, result)
	}

	if _, err := store.HGetAll(ctx, "test:nonexistent"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for non-existent key, got %v", err)
	}
}

func testHDel(t *testing.T, store kv.Store) {
	ctx := context.Background()
	key := "test:hash-del"

	store.HSet(ctx, key, "field1", []byte("value1"))
	store.HSet(ctx, key, "field2", []byte("value2"))

	deleted, err := store.HDel(ctx, key, "field1", "missing")
	if err != nil {
		t.Fatalf("HDel failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("Expected 1 deleted, got %d", deleted)
	}

	if _, err := store.HGet(ctx, key, "field1"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected field1 to be deleted")
	}
	if _, err := store.HGet(ctx, key, "field2"); err != nil {
		t.Fatalf("Expected field2 to remain: %v", err)
	}

	// Removing the last field removes the key
	store.HDel(ctx, key, "field2")
	if n, _ := store.Exists(ctx, key); n != 0 {
		t.Fatalf("Expected empty hash to be removed")
	}
}

func receive(t *testing.T, sub kv.Subscription) kv.Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		if !ok {
			t.Fatalf("Subscription closed unexpectedly")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for message")
	}
	return kv.Message{}
}

func testPublishSubscribe(t *testing.T, store kv.Store) {
	ctx := context.Background()

	events, err := store.Subscribe(ctx, "test:events")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer events.Close()

	both, err := store.Subscribe(ctx, "test:events", "test:prices")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer both.Close()

	n, err := store.Publish(ctx, "test:events", []byte("deposit"))
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("Expected 2 receivers, got %d", n)
	}
	if _, err := store.Publish(ctx, "test:prices", []byte("ETH=2000")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	msg := receive(t, events)
	if msg.Channel != "test:events" || string(msg.Payload) != "deposit" {
		t.Fatalf("Unexpected message %s %s", msg.Channel, msg.Payload)
	}

	first, second := receive(t, both), receive(t, both)
	if first.Channel != "test:events" || second.Channel != "test:prices" {
		t.Fatalf("Unexpected order %s, %s", first.Channel, second.Channel)
	}
	if string(second.Payload) != "ETH=2000" {
		t.Fatalf("Unexpected payload %s", second.Payload)
	}
}

func testPublishWithoutSubscribers(t *testing.T, store kv.Store) {
	n, err := store.Publish(context.Background(), "test:nobody", []byte("x"))
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("Expected 0 receivers, got %d", n)
	}
}

func testCloseSubscription(t *testing.T, store kv.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := store.Subscribe(ctx, "test:close")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case _, ok := <-sub.Messages():
		if ok {
			t.Fatalf("Expected closed message channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Message channel not closed")
	}

	// Cancelling the context also ends a subscription
	sub, err = store.Subscribe(ctx, "test:close")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	cancel()
	select {
	case <-sub.Messages():
	case <-time.After(2 * time.Second):
		t.Fatalf("Subscription did not end on cancel")
	}
}

func testPing(t *testing.T, store kv.Store) {
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed for healthy store: %v", err)
	}
}
