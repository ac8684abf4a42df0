package utils

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ParsePrice parses a non-negative decimal price.
func ParsePrice(s string) (decimal.Decimal, error) {
	p, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "bad price %q", s)
	}
	if p.IsNegative() {
		return decimal.Zero, errors.Errorf("price must be positive, got %s", s)
	}
	return p, nil
}
