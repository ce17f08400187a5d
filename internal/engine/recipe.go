package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"craftline/internal/domain"
	"craftline/internal/events"
)

type RecipeLine struct {
	Item     domain.ItemRef
	Quantity decimal.Decimal
	Unit     string
	Location string
}

type RecipeCreateOptions struct {
	Code           string
	Name           string
	Output         domain.ItemRef
	OutputQuantity decimal.Decimal
	Steps          []string
	LeadTimeDays   int
	WorkCenter     string
	Lines          []RecipeLine
	ActorID        string
}

func validateRecipe(opts RecipeCreateOptions) error {
	if opts.Code == "" {
		return validationf("recipe code is required")
	}
	if opts.Name == "" {
		return validationf("recipe name is required")
	}
	if err := validateItemRef(opts.Output); err != nil {
		return err
	}
	if opts.OutputQuantity.Sign() <= 0 {
		return validationf("output quantity must be positive, got %s", opts.OutputQuantity)
	}
	if opts.LeadTimeDays < 0 {
		return validationf("lead time must not be negative")
	}
	for i, step := range opts.Steps {
		if strings.TrimSpace(step) == "" {
			return validationf("step %d must have a name", i+1)
		}
	}
	if len(opts.Lines) == 0 {
		return validationf("recipe needs at least one line")
	}
	seen := map[domain.ItemRef]bool{}
	for _, line := range opts.Lines {
		if err := validateItemRef(line.Item); err != nil {
			return err
		}
		if line.Quantity.Sign() <= 0 {
			return validationf("line %s/%s: quantity must be positive, got %s", line.Item.Kind, line.Item.ID, line.Quantity)
		}
		if seen[line.Item] {
			return validationf("line %s/%s appears twice", line.Item.Kind, line.Item.ID)
		}
		seen[line.Item] = true
		if line.Item.Kind == opts.Output.Kind && line.Item.ID == opts.Output.ID {
			return validationf("recipe cannot consume its own output %s/%s", line.Item.Kind, line.Item.ID)
		}
	}
	return nil
}

func validateItemRef(item domain.ItemRef) error {
	if item.ID == "" {
		return validationf("item id is required")
	}
	if item.Kind != domain.ItemMaterial && item.Kind != domain.ItemProduct {
		return validationf("item kind must be material or product, got %q", item.Kind)
	}
	return nil
}

func (e Engine) CreateRecipe(ctx context.Context, opts RecipeCreateOptions) (domain.Recipe, error) {
	if err := validateRecipe(opts); err != nil {
		return domain.Recipe{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	rec := domain.Recipe{
		ID:             uuid.NewString(),
		Code:           opts.Code,
		Name:           opts.Name,
		OutputKind:     opts.Output.Kind,
		OutputID:       opts.Output.ID,
		OutputQuantity: opts.OutputQuantity,
		Steps:          opts.Steps,
		LeadTimeDays:   opts.LeadTimeDays,
		WorkCenter:     opts.WorkCenter,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, line := range opts.Lines {
		rec.Items = append(rec.Items, domain.RecipeItem{
			ID:       uuid.NewString(),
			RecipeID: rec.ID,
			Item:     line.Item,
			Quantity: line.Quantity,
			Unit:     line.Unit,
			Location: line.Location,
			Active:   true,
		})
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Recipe{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertRecipeTx(ctx, tx, rec); err != nil {
		return domain.Recipe{}, err
	}
	if err := e.Repo.ReplaceRecipeItemsTx(ctx, tx, rec.ID, rec.Items); err != nil {
		return domain.Recipe{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeRecipeCreated, "recipe", rec.ID, opts.ActorID, events.EventPayload{
		"code":   rec.Code,
		"output": rec.OutputKind + "/" + rec.OutputID,
	}); err != nil {
		return domain.Recipe{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Recipe{}, err
	}
	return rec, nil
}

type RecipeUpdateOptions struct {
	ID             string
	Name           string
	OutputQuantity *decimal.Decimal
	Steps          []string
	LeadTimeDays   *int
	WorkCenter     *string
	Lines          []RecipeLine
	Active         *bool
	ActorID        string
}

func (e Engine) UpdateRecipe(ctx context.Context, opts RecipeUpdateOptions) (domain.Recipe, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Recipe{}, err
	}
	defer tx.Rollback()

	rec, err := e.Repo.GetRecipeTx(ctx, tx, opts.ID)
	if err != nil {
		return domain.Recipe{}, err
	}
	if opts.Name != "" {
		rec.Name = opts.Name
	}
	if opts.OutputQuantity != nil {
		if opts.OutputQuantity.Sign() <= 0 {
			return domain.Recipe{}, validationf("output quantity must be positive, got %s", opts.OutputQuantity)
		}
		rec.OutputQuantity = *opts.OutputQuantity
	}
	if opts.Steps != nil {
		for i, step := range opts.Steps {
			if strings.TrimSpace(step) == "" {
				return domain.Recipe{}, validationf("step %d must have a name", i+1)
			}
		}
		rec.Steps = opts.Steps
	}
	if opts.LeadTimeDays != nil {
		if *opts.LeadTimeDays < 0 {
			return domain.Recipe{}, validationf("lead time must not be negative")
		}
		rec.LeadTimeDays = *opts.LeadTimeDays
	}
	if opts.WorkCenter != nil {
		rec.WorkCenter = *opts.WorkCenter
	}
	if opts.Active != nil {
		rec.Active = *opts.Active
	}
	rec.UpdatedAt = e.ts()

	if opts.Lines != nil {
		check := RecipeCreateOptions{
			Code:           rec.Code,
			Name:           rec.Name,
			Output:         domain.ItemRef{Kind: rec.OutputKind, ID: rec.OutputID},
			OutputQuantity: rec.OutputQuantity,
			Lines:          opts.Lines,
		}
		if err := validateRecipe(check); err != nil {
			return domain.Recipe{}, err
		}
		rec.Items = nil
		for _, line := range opts.Lines {
			rec.Items = append(rec.Items, domain.RecipeItem{
				ID:       uuid.NewString(),
				RecipeID: rec.ID,
				Item:     line.Item,
				Quantity: line.Quantity,
				Unit:     line.Unit,
				Location: line.Location,
				Active:   true,
			})
		}
		if err := e.Repo.ReplaceRecipeItemsTx(ctx, tx, rec.ID, rec.Items); err != nil {
			return domain.Recipe{}, err
		}
	}
	if err := e.Repo.UpdateRecipeTx(ctx, tx, rec); err != nil {
		return domain.Recipe{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeRecipeUpdated, "recipe", rec.ID, opts.ActorID, events.EventPayload{
		"code": rec.Code,
	}); err != nil {
		return domain.Recipe{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Recipe{}, err
	}
	return rec, nil
}
