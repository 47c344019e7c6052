package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leafsii/leafsii-lending/internal/ledger"
)

func TestAdminList(t *testing.T) {
	admins := NewAdminList(" 0xABC ", "", "ops")

	tests := []struct {
		name    string
		caller  ledger.Address
		allowed bool
	}{
		{name: "exact", caller: "ops", allowed: true},
		{name: "case insensitive", caller: "0xabc", allowed: true},
		{name: "unknown", caller: "mallory"},
		{name: "empty", caller: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := admins.Authorize(context.Background(), tt.caller)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ledger.ErrUnauthorized)
		})
	}
	assert.Equal(t, 2, admins.Len())
}
