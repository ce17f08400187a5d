package repo

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	"craftline/internal/domain"
)

const planCols = `id,date,status,COALESCE(notes,'') AS notes,created_at,approved_at,scheduled_at,completed_at`

func scanPlan(row *sql.Row) (domain.Plan, error) {
	var p domain.Plan
	var approvedAt, scheduledAt, completedAt sql.NullString
	err := row.Scan(&p.ID, &p.Date, &p.Status, &p.Notes, &p.CreatedAt, &approvedAt, &scheduledAt, &completedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if approvedAt.Valid {
		p.ApprovedAt = &approvedAt.String
	}
	if scheduledAt.Valid {
		p.ScheduledAt = &scheduledAt.String
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.String
	}
	return p, nil
}

func (r Repo) InsertPlanTx(ctx context.Context, tx *sql.Tx, p domain.Plan) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO plans(id,date,status,notes,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Date, p.Status, nullable(p.Notes), p.CreatedAt)
	return err
}

func (r Repo) GetPlan(ctx context.Context, id string) (domain.Plan, error) {
	p, err := scanPlan(r.DB.QueryRowContext(ctx, `SELECT `+planCols+` FROM plans WHERE id=?`, id))
	if err != nil {
		return p, err
	}
	p.Items, err = r.listPlanItems(ctx, r.DB, p.ID)
	return p, err
}

func (r Repo) GetPlanByDate(ctx context.Context, date string) (domain.Plan, error) {
	p, err := scanPlan(r.DB.QueryRowContext(ctx, `SELECT `+planCols+` FROM plans WHERE date=?`, date))
	if err != nil {
		return p, err
	}
	p.Items, err = r.listPlanItems(ctx, r.DB, p.ID)
	return p, err
}

func (r Repo) GetPlanByDateTx(ctx context.Context, tx *sql.Tx, date string) (domain.Plan, error) {
	p, err := scanPlan(tx.QueryRowContext(ctx, `SELECT `+planCols+` FROM plans WHERE date=?`, date))
	if err != nil {
		return p, err
	}
	p.Items, err = r.listPlanItems(ctx, tx, p.ID)
	return p, err
}

func (r Repo) ListPlans(ctx context.Context, status string, limit int) ([]domain.Plan, error) {
	query := `SELECT ` + planCols + ` FROM plans`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY date DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Plan
	for rows.Next() {
		var p domain.Plan
		var approvedAt, scheduledAt, completedAt sql.NullString
		if err := rows.Scan(&p.ID, &p.Date, &p.Status, &p.Notes, &p.CreatedAt, &approvedAt, &scheduledAt, &completedAt); err != nil {
			return nil, err
		}
		if approvedAt.Valid {
			p.ApprovedAt = &approvedAt.String
		}
		if scheduledAt.Valid {
			p.ScheduledAt = &scheduledAt.String
		}
		if completedAt.Valid {
			p.CompletedAt = &completedAt.String
		}
		res = append(res, p)
	}
	return res, nil
}

// TransitionPlanTx moves a plan between statuses only when it still
// sits in the expected one. Returns ErrNotFound when the guard misses,
// which callers read as a concurrent transition.
func (r Repo) TransitionPlanTx(ctx context.Context, tx *sql.Tx, id, from, to, tsColumn, ts string) error {
	query := `UPDATE plans SET status=?`
	args := []any{to}
	if tsColumn != "" {
		query += `, ` + tsColumn + `=?`
		args = append(args, ts)
	}
	query += ` WHERE id=? AND status=?`
	args = append(args, id, from)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpsertPlanItemTx(ctx context.Context, tx *sql.Tx, it domain.PlanItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO plan_items(id,plan_id,recipe_id,quantity,destination,priority) VALUES (?,?,?,?,?,?)
ON CONFLICT(plan_id,recipe_id) DO UPDATE SET quantity=excluded.quantity, destination=excluded.destination, priority=excluded.priority`,
		it.ID, it.PlanID, it.RecipeID, it.Quantity.String(), nullable(it.Destination), it.Priority)
	return err
}

func (r Repo) ListPlanItems(ctx context.Context, planID string) ([]domain.PlanItem, error) {
	return r.listPlanItems(ctx, r.DB, planID)
}

func (r Repo) listPlanItems(ctx context.Context, q querier, planID string) ([]domain.PlanItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id,plan_id,recipe_id,quantity,COALESCE(destination,'') AS destination,priority FROM plan_items WHERE plan_id=? ORDER BY priority ASC, recipe_id ASC`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PlanItem
	for rows.Next() {
		var it domain.PlanItem
		var qty string
		if err := rows.Scan(&it.ID, &it.PlanID, &it.RecipeID, &qty, &it.Destination, &it.Priority); err != nil {
			return nil, err
		}
		if it.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, nil
}
