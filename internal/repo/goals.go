package repo

import (
	"context"
	"database/sql"

	"khata/internal/domain"
)

const goalColumns = `id,title,description,goal_type,metric_type,target_amount,current_amount,status,start_tracking_date,deadline,product_id,is_recurring,recurrence_type,previous_goal_id,completed_at,created_at,updated_at`

func (r Repo) InsertGoalTx(ctx context.Context, tx *sql.Tx, g domain.Goal) error {
	var recurrence any
	if g.RecurrenceType != nil {
		recurrence = string(*g.RecurrenceType)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO goals(`+goalColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		g.ID, g.Title, nullable(g.Description), nullable(g.GoalType), string(g.MetricType), g.TargetAmount, g.CurrentAmount,
		string(g.Status), formatDate(g.StartTrackingDate), nullableDate(g.Deadline), nullableStringPtr(g.ProductID),
		g.IsRecurring, recurrence, nullableStringPtr(g.PreviousGoalID), nullableTime(g.CompletedAt),
		formatTime(g.CreatedAt), formatTime(g.UpdatedAt))
	return err
}

// UpdateGoalTx writes every mutable column of g.
func (r Repo) UpdateGoalTx(ctx context.Context, tx *sql.Tx, g domain.Goal) error {
	res, err := tx.ExecContext(ctx, `UPDATE goals SET title=?, description=?, target_amount=?, current_amount=?, status=?, deadline=?, completed_at=?, updated_at=? WHERE id=?`,
		g.Title, nullable(g.Description), g.TargetAmount, g.CurrentAmount, string(g.Status), nullableDate(g.Deadline),
		nullableTime(g.CompletedAt), formatTime(g.UpdatedAt), g.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateGoalProgressTx writes only the fields an evaluation may change.
func (r Repo) UpdateGoalProgressTx(ctx context.Context, tx *sql.Tx, g domain.Goal) error {
	res, err := tx.ExecContext(ctx, `UPDATE goals SET current_amount=?, status=?, completed_at=?, updated_at=? WHERE id=?`,
		g.CurrentAmount, string(g.Status), nullableTime(g.CompletedAt), formatTime(g.UpdatedAt), g.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetGoal(ctx context.Context, id string) (domain.Goal, error) {
	return r.getGoal(ctx, r.DB, id)
}

func (r Repo) GetGoalTx(ctx context.Context, tx *sql.Tx, id string) (domain.Goal, error) {
	return r.getGoal(ctx, tx, id)
}

func (r Repo) getGoal(ctx context.Context, q querier, id string) (domain.Goal, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id=?`, id)
	if err != nil {
		return domain.Goal{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return domain.Goal{}, err
		}
		return domain.Goal{}, ErrNotFound
	}
	return scanGoal(rows)
}

// FindGoalByTitle returns the most recently created non-archived goal with the given title.
func (r Repo) FindGoalByTitle(ctx context.Context, title string) (domain.Goal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE lower(title)=lower(?) AND status!='archived' ORDER BY created_at DESC LIMIT 1`, title)
	if err != nil {
		return domain.Goal{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return domain.Goal{}, err
		}
		return domain.Goal{}, ErrNotFound
	}
	return scanGoal(rows)
}

// ListGoals returns goals in the given status (all when empty), earliest deadline first.
func (r Repo) ListGoals(ctx context.Context, status domain.GoalStatus) ([]domain.Goal, error) {
	query := `SELECT ` + goalColumns + ` FROM goals`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, string(status))
	}
	query += ` ORDER BY deadline IS NULL, deadline, created_at`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

// HasSuccessor reports whether a goal was already renewed.
func (r Repo) HasSuccessor(ctx context.Context, goalID string) (bool, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM goals WHERE previous_goal_id=?`, goalID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanGoal(rows *sql.Rows) (domain.Goal, error) {
	var g domain.Goal
	var description, goalType, deadline, productID, recurrence, previous, completedAt sql.NullString
	var metric, status, start, createdAt, updatedAt string
	if err := rows.Scan(&g.ID, &g.Title, &description, &goalType, &metric, &g.TargetAmount, &g.CurrentAmount, &status,
		&start, &deadline, &productID, &g.IsRecurring, &recurrence, &previous, &completedAt, &createdAt, &updatedAt); err != nil {
		return g, err
	}
	g.Description = description.String
	g.GoalType = goalType.String
	g.MetricType = domain.MetricType(metric)
	g.Status = domain.GoalStatus(status)
	g.ProductID = optionalString(productID)
	g.PreviousGoalID = optionalString(previous)
	if recurrence.Valid && recurrence.String != "" {
		rt := domain.RecurrenceType(recurrence.String)
		g.RecurrenceType = &rt
	}
	var err error
	if g.StartTrackingDate, err = domain.ParseDate(start); err != nil {
		return g, err
	}
	if g.Deadline, err = optionalDate(deadline); err != nil {
		return g, err
	}
	if g.CompletedAt, err = optionalTime(completedAt); err != nil {
		return g, err
	}
	if g.CreatedAt, err = parseTime(createdAt); err != nil {
		return g, err
	}
	if g.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return g, err
	}
	return g, nil
}
