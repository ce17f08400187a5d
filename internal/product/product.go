// Package product resolves external product identifiers to item refs.
package product

import (
	"context"
	"fmt"

	"craftline/internal/domain"
)

type Resolver interface {
	// Resolve maps a SKU to the item it denotes.
	Resolve(ctx context.Context, sku string) (domain.ItemRef, error)
}

// RecipeSource is the slice of the repository Codes needs.
type RecipeSource interface {
	GetRecipeByCode(ctx context.Context, code string) (domain.Recipe, error)
}

// Codes resolves a SKU as the code of the recipe that produces the
// item. The catalog of sellable items is the recipe table itself, so
// a SKU is valid exactly when a recipe carries it.
type Codes struct {
	Recipes RecipeSource
}

func (c Codes) Resolve(ctx context.Context, sku string) (domain.ItemRef, error) {
	rec, err := c.Recipes.GetRecipeByCode(ctx, sku)
	if err != nil {
		return domain.ItemRef{}, fmt.Errorf("product: unknown sku %q", sku)
	}
	return domain.ItemRef{Kind: rec.OutputKind, ID: rec.OutputID}, nil
}
