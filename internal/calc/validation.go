package calc

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidateAmount checks that a human amount is positive and within bounds.
func ValidateAmount(amount decimal.Decimal, operation string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("invalid %s amount: must be positive", operation)
	}

	maxAmount := decimal.New(1, 60)
	if amount.GreaterThan(maxAmount) {
		return fmt.Errorf("invalid %s amount: too large", operation)
	}

	return nil
}
