package memory

import (
	"context"
	"sync"

	"github.com/leafsii/leafsii-lending/pkg/kv"
)

type subscription struct {
	store    *Store
	channels []string
	out      chan kv.Message

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func (sub *subscription) Messages() <-chan kv.Message {
	return sub.out
}

// deliver queues msg without blocking. It reports whether msg was queued.
func (sub *subscription) deliver(msg kv.Message) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return false
	}
	select {
	case sub.out <- msg:
		return true
	default:
		return false
	}
}

func (sub *subscription) Close() error {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return nil
	}
	sub.closed = true
	close(sub.done)
	close(sub.out)
	sub.mu.Unlock()

	sub.store.unsubscribe(sub)
	return nil
}

// Publish fans payload out to the channel's current subscribers.
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	if err := s.Ping(ctx); err != nil {
		return 0, err
	}

	s.subMu.RLock()
	targets := make([]*subscription, 0, len(s.subs[channel]))
	for sub := range s.subs[channel] {
		targets = append(targets, sub)
	}
	s.subMu.RUnlock()

	var reached int64
	for _, sub := range targets {
		msg := kv.Message{Channel: channel, Payload: append([]byte(nil), payload...)}
		if sub.deliver(msg) {
			reached++
		}
	}
	return reached, nil
}

// Subscribe listens on channels until the subscription is closed or ctx ends.
func (s *Store) Subscribe(ctx context.Context, channels ...string) (kv.Subscription, error) {
	if err := s.Ping(ctx); err != nil {
		return nil, err
	}

	sub := &subscription{
		store:    s,
		channels: channels,
		out:      make(chan kv.Message, subscriberBuffer),
		done:     make(chan struct{}),
	}

	s.subMu.Lock()
	for _, ch := range channels {
		if s.subs[ch] == nil {
			s.subs[ch] = make(map[*subscription]struct{})
		}
		s.subs[ch][sub] = struct{}{}
	}
	s.subMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub, nil
}

func (s *Store) unsubscribe(sub *subscription) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range sub.channels {
		delete(s.subs[ch], sub)
		if len(s.subs[ch]) == 0 {
			delete(s.subs, ch)
		}
	}
}
