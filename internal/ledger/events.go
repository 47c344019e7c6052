package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/holiman/uint256"
)

// EventKind names a ledger notification.
type EventKind string

const (
	EventMarketListed    EventKind = "market_listed"
	EventDeposit         EventKind = "deposit"
	EventWithdraw        EventKind = "withdraw"
	EventBorrow          EventKind = "borrow"
	EventRepay           EventKind = "repay"
	EventLiquidate       EventKind = "liquidate"
	EventInterestAccrued EventKind = "interest_accrued"
)

// Event is a committed state change. Only the fields relevant to Kind are set.
type Event struct {
	ID   string
	Kind EventKind
	Time time.Time

	Asset  Address
	User   Address
	Amount *uint256.Int

	Caller           Address
	Borrower         Address
	BorrowAsset      Address
	CollateralAsset  Address
	RepayAmount      *uint256.Int
	CollateralSeized *uint256.Int

	BorrowIndex *uint256.Int
}

// EventRecord is the wire form of an Event with amounts as decimal strings.
type EventRecord struct {
	ID               string    `json:"id"`
	Kind             EventKind `json:"kind"`
	Time             time.Time `json:"time"`
	Asset            Address   `json:"asset,omitempty"`
	User             Address   `json:"user,omitempty"`
	Amount           string    `json:"amount,omitempty"`
	Caller           Address   `json:"caller,omitempty"`
	Borrower         Address   `json:"borrower,omitempty"`
	BorrowAsset      Address   `json:"borrowAsset,omitempty"`
	CollateralAsset  Address   `json:"collateralAsset,omitempty"`
	RepayAmount      string    `json:"repayAmount,omitempty"`
	CollateralSeized string    `json:"collateralSeized,omitempty"`
	BorrowIndex      string    `json:"borrowIndex,omitempty"`
}

func dec(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return v.Dec()
}

// Record converts e to its wire form.
func (e Event) Record() EventRecord {
	return EventRecord{
		ID:               e.ID,
		Kind:             e.Kind,
		Time:             e.Time,
		Asset:            e.Asset,
		User:             e.User,
		Amount:           dec(e.Amount),
		Caller:           e.Caller,
		Borrower:         e.Borrower,
		BorrowAsset:      e.BorrowAsset,
		CollateralAsset:  e.CollateralAsset,
		RepayAmount:      dec(e.RepayAmount),
		CollateralSeized: dec(e.CollateralSeized),
		BorrowIndex:      dec(e.BorrowIndex),
	}
}

// Subjects lists every address the event concerns: the user, or for a
// liquidation both the caller and the borrower.
func (e Event) Subjects() []Address {
	var out []Address
	for _, a := range []Address{e.User, e.Caller, e.Borrower} {
		if a.Valid() {
			out = append(out, a)
		}
	}
	return out
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Record())
}

// EventSink receives events after they are committed, in commit order.
// Emit is called without the ledger lock held and may read the ledger.
// Deliveries of later commits wait for it to return, so it must not mutate
// the ledger.
type EventSink interface {
	Emit(ctx context.Context, e Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, e Event)

func (f SinkFunc) Emit(ctx context.Context, e Event) { f(ctx, e) }

// Fanout delivers every event to each sink in order.
type Fanout []EventSink

func (f Fanout) Emit(ctx context.Context, e Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(ctx, e)
		}
	}
}
