package ws

import (
	"encoding/json"
	"strings"

	"github.com/leafsii/leafsii-lending/internal/ledger"
	"github.com/leafsii/leafsii-lending/internal/store"
)

// Client-facing topics.
const (
	TopicEvents        = "events"
	TopicPrices        = "prices"
	AccountTopicPrefix = "account:"
)

// AccountTopic is the topic carrying events that concern addr.
func AccountTopic(addr string) string {
	return AccountTopicPrefix + addr
}

// routed is a kv message resolved to the topics it is delivered on.
type routed struct {
	topics  []string
	kind    string
	id      string
	payload json.RawMessage
}

// route maps a kv channel message to client topics. Events go to TopicEvents
// and to the account topic of every address they concern.
func route(channel string, payload []byte) (routed, bool) {
	if !json.Valid(payload) {
		return routed{}, false
	}
	switch channel {
	case store.ChannelEvents:
		var rec ledger.EventRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return routed{}, false
		}
		topics := []string{TopicEvents}
		seen := map[ledger.Address]bool{}
		for _, a := range []ledger.Address{rec.User, rec.Caller, rec.Borrower} {
			if a.Valid() && !seen[a] {
				seen[a] = true
				topics = append(topics, AccountTopic(string(a)))
			}
		}
		return routed{topics: topics, kind: string(rec.Kind), id: rec.ID, payload: payload}, true
	case store.ChannelPrices:
		return routed{topics: []string{TopicPrices}, kind: "price", payload: payload}, true
	}
	return routed{}, false
}

// parseTopics splits a comma list, dropping blanks.
func parseTopics(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// originAllowed reports whether origin may connect. An empty allow list
// admits only same-origin requests; "*" admits everyone.
func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}
