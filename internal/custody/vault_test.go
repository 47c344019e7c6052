package custody

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/leafsii/leafsii-lending/internal/fixedpoint"
	"github.com/leafsii/leafsii-lending/internal/ledger"
)

func TestVaultTransfers(t *testing.T) {
	v := NewVault(zaptest.NewLogger(t).Sugar())
	ctx := context.Background()
	require.NoError(t, v.Credit("USDC", "alice", fixedpoint.New(100)))

	tests := []struct {
		name    string
		op      func() error
		wantErr error
		wallet  uint64
		pool    uint64
	}{
		{
			name:   "transfer in",
			op:     func() error { return v.TransferIn(ctx, "USDC", "alice", fixedpoint.New(60)) },
			wallet: 40,
			pool:   60,
		},
		{
			name:    "transfer in beyond wallet",
			op:      func() error { return v.TransferIn(ctx, "USDC", "alice", fixedpoint.New(41)) },
			wantErr: ErrInsufficientFunds,
			wallet:  40,
			pool:    60,
		},
		{
			name:   "transfer out",
			op:     func() error { return v.TransferOut(ctx, "USDC", "alice", fixedpoint.New(10)) },
			wallet: 50,
			pool:   50,
		},
		{
			name:    "transfer out beyond pool",
			op:      func() error { return v.TransferOut(ctx, "USDC", "alice", fixedpoint.New(51)) },
			wantErr: ErrInsufficientFunds,
			wallet:  50,
			pool:    50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wallet, v.Balance("USDC", "alice").Uint64())
			assert.Equal(t, tt.pool, v.Pool("USDC").Uint64())
		})
	}
}

func TestVaultCancelledContext(t *testing.T) {
	v := NewVault(nil)
	require.NoError(t, v.Credit("USDC", "alice", fixedpoint.New(5)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	assert.Error(t, v.TransferIn(ctx, "USDC", "alice", fixedpoint.New(1)))
	assert.Equal(t, uint64(5), v.Balance("USDC", "alice").Uint64())
}

func TestVaultHoldings(t *testing.T) {
	v := NewVault(nil)
	require.NoError(t, v.Credit("B", "alice", fixedpoint.New(1)))
	require.NoError(t, v.Credit("A", "alice", fixedpoint.New(2)))
	require.NoError(t, v.Credit("A", "bob", fixedpoint.New(3)))

	h := v.Holdings("alice")
	assert.Len(t, h, 2)
	assert.Equal(t, uint64(2), h["A"].Uint64())
	assert.Equal(t, []ledger.Address{"A", "B"}, v.Assets())

	assert.ErrorIs(t, v.Credit("", "alice", fixedpoint.New(1)), ledger.ErrInvalidAmount)
}
