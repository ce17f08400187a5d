package product_test

import (
	"context"
	"testing"

	"craftline/internal/domain"
	"craftline/internal/product"
	"craftline/internal/repo"
)

type fakeRecipes map[string]domain.Recipe

func (f fakeRecipes) GetRecipeByCode(_ context.Context, code string) (domain.Recipe, error) {
	rec, ok := f[code]
	if !ok {
		return domain.Recipe{}, repo.ErrNotFound
	}
	return rec, nil
}

func TestCodesResolvesRecipeOutput(t *testing.T) {
	codes := product.Codes{Recipes: fakeRecipes{
		"CROISSANT": {Code: "CROISSANT", OutputKind: domain.ItemProduct, OutputID: "croissant"},
	}}
	item, err := codes.Resolve(context.Background(), "CROISSANT")
	if err != nil {
		t.Fatal(err)
	}
	want := domain.ItemRef{Kind: domain.ItemProduct, ID: "croissant"}
	if item != want {
		t.Fatalf("resolved %+v, want %+v", item, want)
	}
}

func TestCodesRejectsUnknownSKU(t *testing.T) {
	codes := product.Codes{Recipes: fakeRecipes{}}
	if _, err := codes.Resolve(context.Background(), "NOPE"); err == nil {
		t.Fatal("expected error for unknown sku")
	}
}
