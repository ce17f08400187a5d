package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"craftline/internal/domain"
)

const workOrderCols = `id,code,plan_item_id,recipe_id,planned_quantity,process_quantity,output_quantity,actual_quantity,status,COALESCE(destination,'') AS destination,COALESCE(location,'') AS location,scheduled_start,started_at,completed_at,COALESCE(created_by,'') AS created_by,COALESCE(notes,'') AS notes,metadata_json,created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkOrder(row scanner) (domain.WorkOrder, error) {
	var wo domain.WorkOrder
	var planItemID, processQty, outputQty, actualQty, scheduledStart, startedAt, completedAt, metadata sql.NullString
	var plannedQty string
	err := row.Scan(&wo.ID, &wo.Code, &planItemID, &wo.RecipeID, &plannedQty, &processQty, &outputQty, &actualQty,
		&wo.Status, &wo.Destination, &wo.Location, &scheduledStart, &startedAt, &completedAt,
		&wo.CreatedBy, &wo.Notes, &metadata, &wo.CreatedAt, &wo.UpdatedAt)
	if err == sql.ErrNoRows {
		return wo, ErrNotFound
	}
	if err != nil {
		return wo, err
	}
	if wo.PlannedQuantity, err = decimal.NewFromString(plannedQty); err != nil {
		return wo, err
	}
	if wo.ProcessQuantity, err = decimalFromNull(processQty); err != nil {
		return wo, err
	}
	if wo.OutputQuantity, err = decimalFromNull(outputQty); err != nil {
		return wo, err
	}
	if wo.ActualQuantity, err = decimalFromNull(actualQty); err != nil {
		return wo, err
	}
	if planItemID.Valid {
		wo.PlanItemID = &planItemID.String
	}
	if scheduledStart.Valid {
		wo.ScheduledStart = &scheduledStart.String
	}
	if startedAt.Valid {
		wo.StartedAt = &startedAt.String
	}
	if completedAt.Valid {
		wo.CompletedAt = &completedAt.String
	}
	if metadata.Valid && metadata.String != "" {
		var md domain.WorkOrderMetadata
		if err := json.Unmarshal([]byte(metadata.String), &md); err != nil {
			return wo, err
		}
		wo.Metadata = &md
	}
	return wo, nil
}

func marshalMetadata(md *domain.WorkOrderMetadata) (any, error) {
	if md == nil {
		return nil, nil
	}
	data, err := json.Marshal(md)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (r Repo) InsertWorkOrderTx(ctx context.Context, tx *sql.Tx, wo domain.WorkOrder) error {
	metadata, err := marshalMetadata(wo.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO work_orders(id,code,plan_item_id,recipe_id,planned_quantity,process_quantity,output_quantity,actual_quantity,status,destination,location,scheduled_start,started_at,completed_at,created_by,notes,metadata_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		wo.ID, wo.Code, nullableStringPtr(wo.PlanItemID), wo.RecipeID, wo.PlannedQuantity.String(),
		nullableDecimalPtr(wo.ProcessQuantity), nullableDecimalPtr(wo.OutputQuantity), nullableDecimalPtr(wo.ActualQuantity),
		wo.Status, nullable(wo.Destination), nullable(wo.Location), nullableStringPtr(wo.ScheduledStart),
		nullableStringPtr(wo.StartedAt), nullableStringPtr(wo.CompletedAt), nullable(wo.CreatedBy), nullable(wo.Notes),
		metadata, wo.CreatedAt, wo.UpdatedAt)
	return err
}

func (r Repo) UpdateWorkOrderTx(ctx context.Context, tx *sql.Tx, wo domain.WorkOrder) error {
	metadata, err := marshalMetadata(wo.Metadata)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE work_orders SET process_quantity=?, output_quantity=?, actual_quantity=?, status=?, destination=?, location=?, scheduled_start=?, started_at=?, completed_at=?, notes=?, metadata_json=?, updated_at=? WHERE id=?`,
		nullableDecimalPtr(wo.ProcessQuantity), nullableDecimalPtr(wo.OutputQuantity), nullableDecimalPtr(wo.ActualQuantity),
		wo.Status, nullable(wo.Destination), nullable(wo.Location), nullableStringPtr(wo.ScheduledStart),
		nullableStringPtr(wo.StartedAt), nullableStringPtr(wo.CompletedAt), nullable(wo.Notes),
		metadata, wo.UpdatedAt, wo.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetWorkOrder(ctx context.Context, id string) (domain.WorkOrder, error) {
	return scanWorkOrder(r.DB.QueryRowContext(ctx, `SELECT `+workOrderCols+` FROM work_orders WHERE id=?`, id))
}

func (r Repo) GetWorkOrderTx(ctx context.Context, tx *sql.Tx, id string) (domain.WorkOrder, error) {
	return scanWorkOrder(tx.QueryRowContext(ctx, `SELECT `+workOrderCols+` FROM work_orders WHERE id=?`, id))
}

func (r Repo) GetWorkOrderByCode(ctx context.Context, code string) (domain.WorkOrder, error) {
	return scanWorkOrder(r.DB.QueryRowContext(ctx, `SELECT `+workOrderCols+` FROM work_orders WHERE code=?`, code))
}

type WorkOrderFilters struct {
	Status   string
	RecipeID string
	PlanID   string
	Limit    int
}

func (r Repo) ListWorkOrders(ctx context.Context, f WorkOrderFilters) ([]domain.WorkOrder, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.RecipeID != "" {
		clauses = append(clauses, "recipe_id=?")
		args = append(args, f.RecipeID)
	}
	if f.PlanID != "" {
		clauses = append(clauses, "plan_item_id IN (SELECT id FROM plan_items WHERE plan_id=?)")
		args = append(args, f.PlanID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + workOrderCols + ` FROM work_orders ` + where + ` ORDER BY created_at DESC, code DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkOrder
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, wo)
	}
	return res, nil
}

// AverageActualQuantity averages completed output for a recipe over a
// trailing window, optionally restricted to one weekday. Weekday uses
// Go's time.Weekday numbering. Returns ok=false when no history exists.
func (r Repo) AverageActualQuantity(ctx context.Context, recipeID string, since time.Time, weekday *time.Weekday) (decimal.Decimal, bool, error) {
	clauses := []string{"recipe_id=?", "status=?", "actual_quantity IS NOT NULL", "completed_at>=?"}
	args := []any{recipeID, domain.WorkOrderCompleted, since.UTC().Format(time.RFC3339)}
	if weekday != nil {
		// SQLite strftime %w is 0=Sunday, same as time.Weekday.
		clauses = append(clauses, "CAST(strftime('%w', completed_at) AS INTEGER)=?")
		args = append(args, int(*weekday))
	}
	query := fmt.Sprintf(`SELECT actual_quantity FROM work_orders WHERE %s`, strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, false, err
	}
	defer rows.Close()
	sum := decimal.Zero
	n := 0
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, false, err
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, false, err
		}
		sum = sum.Add(d)
		n++
	}
	if n == 0 {
		return decimal.Zero, false, nil
	}
	return sum.Div(decimal.NewFromInt(int64(n))), true, nil
}
