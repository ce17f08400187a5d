// Package demand is the boundary to whatever knows about committed
// orders for a product on a date.
package demand

import (
	"context"

	"github.com/shopspring/decimal"

	"craftline/internal/domain"
)

type Backend interface {
	// Committed returns the quantity of an item already promised for a
	// date (YYYY-MM-DD).
	Committed(ctx context.Context, item domain.ItemRef, date string) (decimal.Decimal, error)
}

// Zero reports no committed demand. It is the default when no order
// system is wired in.
type Zero struct{}

func (Zero) Committed(context.Context, domain.ItemRef, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

// Fixed serves a static demand table, for tests.
type Fixed map[string]decimal.Decimal

func (f Fixed) Committed(_ context.Context, item domain.ItemRef, date string) (decimal.Decimal, error) {
	return f[item.ID+"@"+date], nil
}
