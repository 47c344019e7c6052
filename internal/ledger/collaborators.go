package ledger

import (
	"context"
	"time"

	"github.com/holiman/uint256"
)

// PriceOracle returns the 1e18-scaled USD value of one smallest unit of asset.
// Failures should wrap ErrNoPriceAvailable, ErrStalePrice or
// ErrInvalidPriceFromFeed. Price runs under the ledger lock; anything that
// calls back into the ledger must be given ctx.
type PriceOracle interface {
	Price(ctx context.Context, asset Address) (*uint256.Int, error)
}

// Custody moves exact amounts of an asset between holders and the ledger's
// pool. Implementations must pass ctx through to anything that may call back
// into the ledger. A callback made with a fresh context blocks on the ledger
// lock for good.
type Custody interface {
	TransferIn(ctx context.Context, asset, from Address, amount *uint256.Int) error
	TransferOut(ctx context.Context, asset, to Address, amount *uint256.Int) error
}

// Authorizer gates market listing.
type Authorizer interface {
	Authorize(ctx context.Context, caller Address) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, caller Address) error

func (f AuthorizerFunc) Authorize(ctx context.Context, caller Address) error {
	return f(ctx, caller)
}

// Metrics observes completed ledger operations.
type Metrics interface {
	RecordOperation(ctx context.Context, op string, err error, d time.Duration)
}
