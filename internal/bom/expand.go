// Package bom flattens recipes into terminal material requirements.
package bom

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"craftline/internal/domain"
	"craftline/internal/repo"
)

// RecipeLookup resolves the recipe that produces an item. Lookups that
// find no recipe mean the item is terminal and must return
// repo.ErrNotFound.
type RecipeLookup interface {
	RecipeForItem(ctx context.Context, item domain.ItemRef) (*domain.Recipe, error)
}

// Expander walks recipe trees. Quantities scale linearly with the
// requested output: a line consuming Q per recipe batch of output O
// contributes requested*Q/O.
type Expander struct {
	Lookup   RecipeLookup
	MaxDepth int
	Log      *zap.Logger
}

// ErrNoActiveLines marks a recipe that produces output from nothing.
var ErrNoActiveLines = errors.New("recipe has no active lines")

// Expand returns the aggregated terminal requirements for producing
// the requested quantity of the recipe's output. Requirements for the
// same item at the same location merge into one line. The result is
// ordered by item kind, item id then location so callers see a stable
// report.
func (e *Expander) Expand(ctx context.Context, rec *domain.Recipe, requested decimal.Decimal) ([]domain.Requirement, error) {
	if rec == nil {
		return nil, fmt.Errorf("bom: nil recipe")
	}
	if requested.Sign() <= 0 {
		return nil, fmt.Errorf("bom: requested quantity must be positive, got %s", requested)
	}
	maxDepth := e.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 5
	}
	acc := map[reqKey]*domain.Requirement{}
	if err := e.walk(ctx, rec, requested, 1, maxDepth, acc); err != nil {
		return nil, err
	}
	res := make([]domain.Requirement, 0, len(acc))
	for _, req := range acc {
		res = append(res, *req)
	}
	sort.Slice(res, func(i, j int) bool {
		a, b := res[i], res[j]
		if a.Item.Kind != b.Item.Kind {
			return a.Item.Kind < b.Item.Kind
		}
		if a.Item.ID != b.Item.ID {
			return a.Item.ID < b.Item.ID
		}
		return a.Location < b.Location
	})
	return res, nil
}

type reqKey struct {
	kind     string
	id       string
	location string
}

func (e *Expander) walk(ctx context.Context, rec *domain.Recipe, requested decimal.Decimal, depth, maxDepth int, acc map[reqKey]*domain.Requirement) error {
	if rec.OutputQuantity.Sign() <= 0 {
		return fmt.Errorf("bom: recipe %s has non-positive output quantity %s", rec.Code, rec.OutputQuantity)
	}
	lines := activeLines(rec)
	if len(lines) == 0 {
		return fmt.Errorf("bom: recipe %s: %w", rec.Code, ErrNoActiveLines)
	}
	for _, line := range lines {
		lineQty := requested.Mul(line.Quantity).Div(rec.OutputQuantity)
		sub, err := e.lookupSub(ctx, line.Item, depth, maxDepth, rec.Code)
		if err != nil {
			return err
		}
		if sub == nil {
			add(acc, line, lineQty)
			continue
		}
		if err := e.walk(ctx, sub, lineQty, depth+1, maxDepth, acc); err != nil {
			return err
		}
	}
	return nil
}

// lookupSub returns the sub-recipe for an item, or nil when the item
// is terminal. Hitting the depth cap also makes the item terminal: the
// intermediate is counted at its scaled quantity instead of silently
// disappearing from the requirements.
func (e *Expander) lookupSub(ctx context.Context, item domain.ItemRef, depth, maxDepth int, parentCode string) (*domain.Recipe, error) {
	sub, err := e.Lookup.RecipeForItem(ctx, item)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if depth >= maxDepth {
		if e.Log != nil {
			e.Log.Warn("bom depth cap reached, treating intermediate as terminal",
				zap.String("recipe", parentCode),
				zap.String("item_kind", item.Kind),
				zap.String("item_id", item.ID),
				zap.Int("max_depth", maxDepth))
		}
		return nil, nil
	}
	return sub, nil
}

func activeLines(rec *domain.Recipe) []domain.RecipeItem {
	var res []domain.RecipeItem
	for _, it := range rec.Items {
		if it.Active {
			res = append(res, it)
		}
	}
	return res
}

func add(acc map[reqKey]*domain.Requirement, line domain.RecipeItem, qty decimal.Decimal) {
	key := reqKey{kind: line.Item.Kind, id: line.Item.ID, location: line.Location}
	if existing, ok := acc[key]; ok {
		existing.Quantity = existing.Quantity.Add(qty)
		return
	}
	acc[key] = &domain.Requirement{
		Item:     line.Item,
		Quantity: qty,
		Unit:     line.Unit,
		Location: line.Location,
	}
}
