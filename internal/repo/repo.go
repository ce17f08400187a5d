package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"

	"craftline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableDecimalPtr(v *decimal.Decimal) any {
	if v == nil {
		return nil
	}
	return v.String()
}

func decimalFromNull(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// querier lets the same scan helpers serve both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const recipeCols = `id,code,name,output_kind,output_id,output_quantity,steps_json,lead_time_days,COALESCE(work_center,'') AS work_center,active,created_at,updated_at`

func scanRecipe(row *sql.Row) (domain.Recipe, error) {
	var rec domain.Recipe
	var outputQty, stepsJSON string
	var active int
	err := row.Scan(&rec.ID, &rec.Code, &rec.Name, &rec.OutputKind, &rec.OutputID, &outputQty, &stepsJSON,
		&rec.LeadTimeDays, &rec.WorkCenter, &active, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	if rec.OutputQuantity, err = decimal.NewFromString(outputQty); err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(stepsJSON), &rec.Steps); err != nil {
		return rec, err
	}
	rec.Active = active != 0
	return rec, nil
}

func (r Repo) InsertRecipeTx(ctx context.Context, tx *sql.Tx, rec domain.Recipe) error {
	steps, err := json.Marshal(rec.Steps)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO recipes(id,code,name,output_kind,output_id,output_quantity,steps_json,lead_time_days,work_center,active,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.Code, rec.Name, rec.OutputKind, rec.OutputID, rec.OutputQuantity.String(), string(steps),
		rec.LeadTimeDays, nullable(rec.WorkCenter), boolInt(rec.Active), rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (r Repo) UpdateRecipeTx(ctx context.Context, tx *sql.Tx, rec domain.Recipe) error {
	steps, err := json.Marshal(rec.Steps)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE recipes SET name=?, output_kind=?, output_id=?, output_quantity=?, steps_json=?, lead_time_days=?, work_center=?, active=?, updated_at=? WHERE id=?`,
		rec.Name, rec.OutputKind, rec.OutputID, rec.OutputQuantity.String(), string(steps),
		rec.LeadTimeDays, nullable(rec.WorkCenter), boolInt(rec.Active), rec.UpdatedAt, rec.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRecipe(ctx context.Context, id string) (domain.Recipe, error) {
	rec, err := scanRecipe(r.DB.QueryRowContext(ctx, `SELECT `+recipeCols+` FROM recipes WHERE id=?`, id))
	if err != nil {
		return rec, err
	}
	rec.Items, err = r.listRecipeItems(ctx, r.DB, rec.ID, false)
	return rec, err
}

func (r Repo) GetRecipeByCode(ctx context.Context, code string) (domain.Recipe, error) {
	rec, err := scanRecipe(r.DB.QueryRowContext(ctx, `SELECT `+recipeCols+` FROM recipes WHERE code=?`, code))
	if err != nil {
		return rec, err
	}
	rec.Items, err = r.listRecipeItems(ctx, r.DB, rec.ID, false)
	return rec, err
}

func (r Repo) GetRecipeTx(ctx context.Context, tx *sql.Tx, id string) (domain.Recipe, error) {
	rec, err := scanRecipe(tx.QueryRowContext(ctx, `SELECT `+recipeCols+` FROM recipes WHERE id=?`, id))
	if err != nil {
		return rec, err
	}
	rec.Items, err = r.listRecipeItems(ctx, tx, rec.ID, false)
	return rec, err
}

func (r Repo) ListRecipes(ctx context.Context, activeOnly bool) ([]domain.Recipe, error) {
	query := `SELECT ` + recipeCols + ` FROM recipes`
	if activeOnly {
		query += ` WHERE active=1`
	}
	query += ` ORDER BY code ASC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Recipe
	for rows.Next() {
		var rec domain.Recipe
		var outputQty, stepsJSON string
		var active int
		if err := rows.Scan(&rec.ID, &rec.Code, &rec.Name, &rec.OutputKind, &rec.OutputID, &outputQty, &stepsJSON,
			&rec.LeadTimeDays, &rec.WorkCenter, &active, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		if rec.OutputQuantity, err = decimal.NewFromString(outputQty); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(stepsJSON), &rec.Steps); err != nil {
			return nil, err
		}
		rec.Active = active != 0
		res = append(res, rec)
	}
	return res, nil
}

// ReplaceRecipeItemsTx swaps the full line set of a recipe.
func (r Repo) ReplaceRecipeItemsTx(ctx context.Context, tx *sql.Tx, recipeID string, items []domain.RecipeItem) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM recipe_items WHERE recipe_id=?`, recipeID); err != nil {
		return err
	}
	for _, it := range items {
		_, err := tx.ExecContext(ctx, `INSERT INTO recipe_items(id,recipe_id,item_kind,item_id,quantity,unit,location,active) VALUES (?,?,?,?,?,?,?,?)`,
			it.ID, recipeID, it.Item.Kind, it.Item.ID, it.Quantity.String(), nullable(it.Unit), nullable(it.Location), boolInt(it.Active))
		if err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListRecipeItems(ctx context.Context, recipeID string, activeOnly bool) ([]domain.RecipeItem, error) {
	return r.listRecipeItems(ctx, r.DB, recipeID, activeOnly)
}

func (r Repo) listRecipeItems(ctx context.Context, q querier, recipeID string, activeOnly bool) ([]domain.RecipeItem, error) {
	query := `SELECT id,recipe_id,item_kind,item_id,quantity,COALESCE(unit,'') AS unit,COALESCE(location,'') AS location,active FROM recipe_items WHERE recipe_id=?`
	if activeOnly {
		query += ` AND active=1`
	}
	query += ` ORDER BY item_kind, item_id`
	rows, err := q.QueryContext(ctx, query, recipeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RecipeItem
	for rows.Next() {
		var it domain.RecipeItem
		var qty string
		var active int
		if err := rows.Scan(&it.ID, &it.RecipeID, &it.Item.Kind, &it.Item.ID, &qty, &it.Unit, &it.Location, &active); err != nil {
			return nil, err
		}
		if it.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		it.Active = active != 0
		res = append(res, it)
	}
	return res, nil
}

// RecipeForItem returns the active recipe whose output is the given
// item, or ErrNotFound when the item is bought rather than made.
func (r Repo) RecipeForItem(ctx context.Context, item domain.ItemRef) (*domain.Recipe, error) {
	rec, err := scanRecipe(r.DB.QueryRowContext(ctx,
		`SELECT `+recipeCols+` FROM recipes WHERE output_kind=? AND output_id=? AND active=1 ORDER BY updated_at DESC LIMIT 1`,
		item.Kind, item.ID))
	if err != nil {
		return nil, err
	}
	rec.Items, err = r.listRecipeItems(ctx, r.DB, rec.ID, true)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
