package repo

import (
	"context"
	"database/sql"
	"strings"

	"khata/internal/domain"
)

func (r Repo) InsertSaleTx(ctx context.Context, tx *sql.Tx, s domain.Sale) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO sales(id,date,customer_id,product_id,sell_price,buy_price,quantity,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		s.ID, formatDate(s.Date), nullableStringPtr(s.CustomerID), nullableStringPtr(s.ProductID),
		s.SellPrice, s.BuyPrice, s.Quantity, formatTime(s.CreatedAt))
	return err
}

func (r Repo) SoftDeleteSaleTx(ctx context.Context, tx *sql.Tx, id, deletedAt string) error {
	return softDelete(ctx, tx, "sales", id, deletedAt)
}

// QueryTransactions returns live sales dated within the inclusive range.
func (r Repo) QueryTransactions(ctx context.Context, rng domain.DateRange, f domain.SaleFilter) ([]domain.Sale, error) {
	clauses := []string{"deleted_at IS NULL", "date>=?", "date<=?"}
	args := []any{formatDate(rng.Start), formatDate(rng.End)}
	if f.ProductID != "" {
		clauses = append(clauses, "product_id=?")
		args = append(args, f.ProductID)
	}
	if f.CustomerID != "" {
		clauses = append(clauses, "customer_id=?")
		args = append(args, f.CustomerID)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,date,customer_id,product_id,sell_price,buy_price,quantity,created_at FROM sales WHERE `+
		strings.Join(clauses, " AND ")+` ORDER BY date, created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Sale
	for rows.Next() {
		var s domain.Sale
		var date, createdAt string
		var customer, product sql.NullString
		if err := rows.Scan(&s.ID, &date, &customer, &product, &s.SellPrice, &s.BuyPrice, &s.Quantity, &createdAt); err != nil {
			return nil, err
		}
		if s.Date, err = domain.ParseDate(date); err != nil {
			return nil, err
		}
		if s.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		s.CustomerID = optionalString(customer)
		s.ProductID = optionalString(product)
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) InsertExpenseTx(ctx context.Context, tx *sql.Tx, e domain.Expense) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO expenses(id,date,amount,category,description,created_at) VALUES (?,?,?,?,?,?)`,
		e.ID, formatDate(e.Date), e.Amount, nullable(e.Category), nullable(e.Description), formatTime(e.CreatedAt))
	return err
}

func (r Repo) SoftDeleteExpenseTx(ctx context.Context, tx *sql.Tx, id, deletedAt string) error {
	return softDelete(ctx, tx, "expenses", id, deletedAt)
}

// QueryExpenses returns live expenses dated within the inclusive range.
func (r Repo) QueryExpenses(ctx context.Context, rng domain.DateRange) ([]domain.Expense, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,date,amount,COALESCE(category,''),COALESCE(description,''),created_at FROM expenses
WHERE deleted_at IS NULL AND date>=? AND date<=? ORDER BY date, created_at`, formatDate(rng.Start), formatDate(rng.End))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Expense
	for rows.Next() {
		var e domain.Expense
		var date, createdAt string
		if err := rows.Scan(&e.ID, &date, &e.Amount, &e.Category, &e.Description, &createdAt); err != nil {
			return nil, err
		}
		if e.Date, err = domain.ParseDate(date); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func softDelete(ctx context.Context, tx *sql.Tx, table, id, deletedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE `+table+` SET deleted_at=? WHERE id=? AND deleted_at IS NULL`, deletedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
