package redis

import (
	"context"
	"os"
	"testing"

	"github.com/leafsii/leafsii-lending/pkg/kv"
	"github.com/leafsii/leafsii-lending/pkg/kv/kvtest"
)

func TestRedisStore(t *testing.T) {
	redisURL := os.Getenv("LDG_TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("LDG_TEST_REDIS_URL not set, skipping Redis tests")
	}

	factory := func(t *testing.T) kv.Store {
		store, err := New(redisURL)
		if err != nil {
			t.Fatalf("Failed to create Redis store: %v", err)
		}

		ctx := context.Background()
		keys, err := store.client.Keys(ctx, "test:*").Result()
		if err != nil {
			t.Fatalf("Failed to list test keys: %v", err)
		}
		if len(keys) > 0 {
			store.client.Del(ctx, keys...)
		}
		return store
	}

	kvtest.RunConformanceTests(t, factory)
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"refused", errString("dial tcp 127.0.0.1:6379: connect: connection refused"), true},
		{"wrong type", errString("WRONGTYPE Operation against a key holding the wrong kind of value"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConnectionError(tt.err); got != tt.want {
				t.Fatalf("IsConnectionError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

type errString string

func (e errString) Error() string { return string(e) }
