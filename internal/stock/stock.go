// Package stock is the boundary to whatever tracks material balances.
// The engine only checks availability and places holds; the actual
// ledger lives behind Backend.
package stock

import (
	"context"

	"github.com/shopspring/decimal"

	"craftline/internal/domain"
)

type Backend interface {
	// Available returns the on-hand quantity of an item at a location
	// net of existing holds.
	Available(ctx context.Context, item domain.ItemRef, location string) (decimal.Decimal, error)
	// Reserve places a hold and returns a reference for releasing it.
	Reserve(ctx context.Context, item domain.ItemRef, qty decimal.Decimal, location, ref string) error
	// Release gives a hold back. An unknown or already settled ref is
	// a no-op.
	Release(ctx context.Context, ref string) error
	// ConsumeHold settles a hold: the held quantity leaves the balance
	// and the hold closes in one move.
	ConsumeHold(ctx context.Context, ref string) error
	// Consume draws down an unheld balance. Used when scheduling ran
	// without reservation.
	Consume(ctx context.Context, item domain.ItemRef, qty decimal.Decimal, location string) error
	// Receive adds finished output to the balance.
	Receive(ctx context.Context, item domain.ItemRef, qty decimal.Decimal, location string) error
}
