// Package kv provides a Redis-like key-value store abstraction with in-memory
// and Redis-backed implementations.
//
// The Store interface covers strings, hashes and pub/sub with TTL support,
// which is what the ledger daemon needs for snapshots, market summaries and
// its event stream.
//
// Example usage:
//
//	store, err := kv.NewStoreFromConfig(kv.Config{Backend: kv.BackendMemory})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	sub, err := store.Subscribe(ctx, "ledger:events")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer sub.Close()
//
//	for msg := range sub.Messages() {
//		fmt.Println(msg.Channel, string(msg.Payload))
//	}
//
// Backends register themselves on import:
//
//	import _ "github.com/leafsii/leafsii-lending/pkg/kv/memory"
package kv
