package storage

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/xaenox/expense-bot/internal/models"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

type Storage interface {
	UserStorage
	ExpenseStorage
	AnalyticsStorage
	TaskStorage

	Ping(ctx context.Context) error
	Close() error
}

type UserStorage interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByTelegramID(ctx context.Context, telegramID string) (*models.User, error)
	// EnsureUser returns the user with the given telegram id, creating it on first contact.
	EnsureUser(ctx context.Context, telegramID string) (*models.User, error)
}

type ExpenseStorage interface {
	CreateExpense(ctx context.Context, expense *models.Expense) error
	GetExpense(ctx context.Context, id int64) (*models.Expense, error)
	ListExpenses(ctx context.Context, filter models.ExpenseFilter) ([]*models.Expense, error)
	CountExpenses(ctx context.Context, userID int64) (int, error)
	UpdateExpense(ctx context.Context, id int64, patch models.ExpensePatch) (*models.Expense, error)
	DeleteExpense(ctx context.Context, id int64) error
}

// AnalyticsStorage aggregates the expenses of one user inside a time range.
type AnalyticsStorage interface {
	TotalAmount(ctx context.Context, userID int64, r models.TimeRange) (decimal.Decimal, error)
	CategoryTotals(ctx context.Context, userID int64, r models.TimeRange) ([]models.CategoryBreakdown, error)
	CategoryAverages(ctx context.Context, userID int64, r models.TimeRange) ([]models.CategoryAverage, error)
}

type TaskStorage interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
}
