package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/xaenox/expense-bot/internal/models"
	"github.com/xaenox/expense-bot/internal/money"
)

type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage connects to dsn and brings the schema up to date.
func NewPostgresStorage(ctx context.Context, dsn string, maxOpenConns int) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return &PostgresStorage{db: db}, nil
}

// User methods
func (s *PostgresStorage) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT id, telegram_id, created_at FROM users WHERE id = $1`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStorage) GetUserByTelegramID(ctx context.Context, telegramID string) (*models.User, error) {
	query := `SELECT id, telegram_id, created_at FROM users WHERE telegram_id = $1`
	return s.scanUser(s.db.QueryRowContext(ctx, query, telegramID))
}

func (s *PostgresStorage) EnsureUser(ctx context.Context, telegramID string) (*models.User, error) {
	// The no-op update makes RETURNING yield the existing row on conflict.
	query := `
		INSERT INTO users (telegram_id)
		VALUES ($1)
		ON CONFLICT (telegram_id) DO UPDATE SET telegram_id = EXCLUDED.telegram_id
		RETURNING id, telegram_id, created_at`
	return s.scanUser(s.db.QueryRowContext(ctx, query, telegramID))
}

func (s *PostgresStorage) scanUser(row *sql.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.TelegramID, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning user: %w", err)
	}
	return &user, nil
}

// Expense methods
func (s *PostgresStorage) CreateExpense(ctx context.Context, expense *models.Expense) error {
	if expense.AddedAt.IsZero() {
		expense.AddedAt = time.Now().UTC()
	}
	expense.Amount = money.Round(expense.Amount)

	query := `
		INSERT INTO expenses (user_id, description, amount, category, added_at)
		SELECT $1, $2, $3, $4, $5
		WHERE EXISTS (SELECT 1 FROM users WHERE id = $1)
		RETURNING id`

	err := s.db.QueryRowContext(ctx, query,
		expense.UserID,
		expense.Description,
		expense.Amount,
		expense.Category,
		expense.AddedAt,
	).Scan(&expense.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("error creating expense: %w", err)
	}
	return nil
}

const expenseColumns = `id, user_id, description, amount, category, added_at`

func (s *PostgresStorage) GetExpense(ctx context.Context, id int64) (*models.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE id = $1`

	expense, err := scanExpense(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting expense: %w", err)
	}
	return expense, nil
}

func (s *PostgresStorage) ListExpenses(ctx context.Context, filter models.ExpenseFilter) ([]*models.Expense, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.UserID != 0 {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}

	query := `SELECT ` + expenseColumns + ` FROM expenses`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY added_at DESC, id DESC"

	args = append(args, filter.Skip)
	query += fmt.Sprintf(" OFFSET $%d", len(args))
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing expenses: %w", err)
	}
	defer rows.Close()

	expenses := []*models.Expense{}
	for rows.Next() {
		expense, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning expense: %w", err)
		}
		expenses = append(expenses, expense)
	}
	return expenses, rows.Err()
}

func (s *PostgresStorage) CountExpenses(ctx context.Context, userID int64) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM expenses WHERE ($1::BIGINT = 0 OR user_id = $1)`
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("error counting expenses: %w", err)
	}
	return count, nil
}

func (s *PostgresStorage) UpdateExpense(ctx context.Context, id int64, patch models.ExpensePatch) (*models.Expense, error) {
	var amount interface{}
	if patch.Amount != nil {
		amount = money.Round(*patch.Amount)
	}

	query := `
		UPDATE expenses SET
			description = COALESCE($2, description),
			amount = COALESCE($3::NUMERIC, amount),
			category = COALESCE($4, category)
		WHERE id = $1
		RETURNING ` + expenseColumns

	expense, err := scanExpense(s.db.QueryRowContext(ctx, query,
		id,
		nullString(patch.Description),
		amount,
		nullString(patch.Category),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error updating expense: %w", err)
	}
	return expense, nil
}

func (s *PostgresStorage) DeleteExpense(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error deleting expense: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking deleted rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Analytics methods
func rangeQuery(userID int64, r models.TimeRange) (string, []interface{}) {
	args := []interface{}{userID}
	where := []string{"user_id = $1"}
	if !r.From.IsZero() {
		args = append(args, r.From)
		where = append(where, fmt.Sprintf("added_at >= $%d", len(args)))
	}
	if !r.To.IsZero() {
		args = append(args, r.To)
		where = append(where, fmt.Sprintf("added_at < $%d", len(args)))
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func (s *PostgresStorage) TotalAmount(ctx context.Context, userID int64, r models.TimeRange) (decimal.Decimal, error) {
	where, args := rangeQuery(userID, r)

	var total decimal.Decimal
	query := `SELECT COALESCE(SUM(amount), 0) FROM expenses` + where
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("error summing expenses: %w", err)
	}
	return total, nil
}

func (s *PostgresStorage) CategoryTotals(ctx context.Context, userID int64, r models.TimeRange) ([]models.CategoryBreakdown, error) {
	where, args := rangeQuery(userID, r)
	query := `SELECT category, SUM(amount) AS total FROM expenses` + where +
		` GROUP BY category ORDER BY total DESC, category ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error summing categories: %w", err)
	}
	defer rows.Close()

	breakdown := []models.CategoryBreakdown{}
	for rows.Next() {
		var item models.CategoryBreakdown
		if err := rows.Scan(&item.Category, &item.Total); err != nil {
			return nil, fmt.Errorf("error scanning category total: %w", err)
		}
		breakdown = append(breakdown, item)
	}
	return breakdown, rows.Err()
}

func (s *PostgresStorage) CategoryAverages(ctx context.Context, userID int64, r models.TimeRange) ([]models.CategoryAverage, error) {
	where, args := rangeQuery(userID, r)
	query := `SELECT category, ROUND(AVG(amount), 2) FROM expenses` + where +
		` GROUP BY category ORDER BY category ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error averaging categories: %w", err)
	}
	defer rows.Close()

	averages := []models.CategoryAverage{}
	for rows.Next() {
		var item models.CategoryAverage
		if err := rows.Scan(&item.Category, &item.Average); err != nil {
			return nil, fmt.Errorf("error scanning category average: %w", err)
		}
		averages = append(averages, item)
	}
	return averages, rows.Err()
}

// Task methods
func (s *PostgresStorage) CreateTask(ctx context.Context, task *models.Task) error {
	request, result, err := marshalTask(task)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO analytics_tasks (id, state, request, result, error, attempts)
		VALUES ($1, $2, $3::JSONB, $4::JSONB, $5, $6)
		RETURNING created_at, updated_at`

	err = s.db.QueryRowContext(ctx, query,
		task.ID, string(task.State), request, result, task.Error, task.Attempts,
	).Scan(&task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating task: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetTask(ctx context.Context, id string) (*models.Task, error) {
	query := `
		SELECT id, state, request, result, error, attempts, created_at, updated_at
		FROM analytics_tasks WHERE id::text = $1`

	var (
		task    models.Task
		request []byte
		result  []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&task.ID, &task.State, &request, &result,
		&task.Error, &task.Attempts, &task.CreatedAt, &task.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting task: %w", err)
	}

	if err := json.Unmarshal(request, &task.Request); err != nil {
		return nil, fmt.Errorf("error decoding task request: %w", err)
	}
	if len(result) > 0 {
		task.Result = &models.AnalyticsResult{}
		if err := json.Unmarshal(result, task.Result); err != nil {
			return nil, fmt.Errorf("error decoding task result: %w", err)
		}
	}
	return &task, nil
}

func (s *PostgresStorage) UpdateTask(ctx context.Context, task *models.Task) error {
	request, result, err := marshalTask(task)
	if err != nil {
		return err
	}

	query := `
		UPDATE analytics_tasks
		SET state = $2, request = $3::JSONB, result = $4::JSONB, error = $5, attempts = $6, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING created_at, updated_at`

	err = s.db.QueryRowContext(ctx, query,
		task.ID, string(task.State), request, result, task.Error, task.Attempts,
	).Scan(&task.CreatedAt, &task.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("error updating task: %w", err)
	}
	return nil
}

// marshalTask encodes the JSONB columns as text; lib/pq would send []byte as bytea.
func marshalTask(task *models.Task) (string, sql.NullString, error) {
	request, err := json.Marshal(task.Request)
	if err != nil {
		return "", sql.NullString{}, fmt.Errorf("error encoding task request: %w", err)
	}
	var result sql.NullString
	if task.Result != nil {
		encoded, err := json.Marshal(task.Result)
		if err != nil {
			return "", sql.NullString{}, fmt.Errorf("error encoding task result: %w", err)
		}
		result = sql.NullString{String: string(encoded), Valid: true}
	}
	return string(request), result, nil
}

func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExpense(row rowScanner) (*models.Expense, error) {
	var expense models.Expense
	err := row.Scan(
		&expense.ID,
		&expense.UserID,
		&expense.Description,
		&expense.Amount,
		&expense.Category,
		&expense.AddedAt,
	)
	if err != nil {
		return nil, err
	}
	expense.AddedAt = expense.AddedAt.UTC()
	return &expense, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
