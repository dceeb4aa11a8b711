package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xaenox/expense-bot/internal/models"
	"github.com/xaenox/expense-bot/internal/money"
)

type MemoryStorage struct {
	mu            sync.RWMutex
	users         map[int64]*models.User
	usersTelegram map[string]int64
	expenses      map[int64]*models.Expense
	tasks         map[string]*models.Task
	nextUserID    int64
	nextExpenseID int64
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users:         make(map[int64]*models.User),
		usersTelegram: make(map[string]int64),
		expenses:      make(map[int64]*models.Expense),
		tasks:         make(map[string]*models.Task),
	}
}

// User methods
func (s *MemoryStorage) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if user, exists := s.users[id]; exists {
		u := *user
		return &u, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) GetUserByTelegramID(ctx context.Context, telegramID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, exists := s.usersTelegram[telegramID]; exists {
		u := *s.users[id]
		return &u, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) EnsureUser(ctx context.Context, telegramID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, exists := s.usersTelegram[telegramID]; exists {
		u := *s.users[id]
		return &u, nil
	}

	s.nextUserID++
	user := &models.User{
		ID:         s.nextUserID,
		TelegramID: telegramID,
		CreatedAt:  time.Now().UTC(),
	}
	s.users[user.ID] = user
	s.usersTelegram[telegramID] = user.ID

	u := *user
	return &u, nil
}

// Expense methods
func (s *MemoryStorage) CreateExpense(ctx context.Context, expense *models.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[expense.UserID]; !exists {
		return ErrNotFound
	}

	s.nextExpenseID++
	expense.ID = s.nextExpenseID
	expense.Amount = money.Round(expense.Amount)
	if expense.AddedAt.IsZero() {
		expense.AddedAt = time.Now().UTC()
	}

	stored := *expense
	s.expenses[stored.ID] = &stored
	return nil
}

func (s *MemoryStorage) GetExpense(ctx context.Context, id int64) (*models.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if expense, exists := s.expenses[id]; exists {
		e := *expense
		return &e, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) ListExpenses(ctx context.Context, filter models.ExpenseFilter) ([]*models.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*models.Expense, 0, len(s.expenses))
	for _, expense := range s.expenses {
		if filter.UserID != 0 && expense.UserID != filter.UserID {
			continue
		}
		e := *expense
		matched = append(matched, &e)
	}

	// Newest first, as the SQL implementation orders them.
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].AddedAt.Equal(matched[j].AddedAt) {
			return matched[i].AddedAt.After(matched[j].AddedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	if filter.Skip >= len(matched) {
		return []*models.Expense{}, nil
	}
	matched = matched[filter.Skip:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (s *MemoryStorage) CountExpenses(ctx context.Context, userID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if userID == 0 {
		return len(s.expenses), nil
	}
	count := 0
	for _, expense := range s.expenses {
		if expense.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStorage) UpdateExpense(ctx context.Context, id int64, patch models.ExpensePatch) (*models.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expense, exists := s.expenses[id]
	if !exists {
		return nil, ErrNotFound
	}

	if patch.Description != nil {
		expense.Description = *patch.Description
	}
	if patch.Amount != nil {
		expense.Amount = money.Round(*patch.Amount)
	}
	if patch.Category != nil {
		expense.Category = *patch.Category
	}

	e := *expense
	return &e, nil
}

func (s *MemoryStorage) DeleteExpense(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.expenses[id]; !exists {
		return ErrNotFound
	}
	delete(s.expenses, id)
	return nil
}

// Analytics methods
func (s *MemoryStorage) inRange(userID int64, r models.TimeRange) []*models.Expense {
	var matched []*models.Expense
	for _, expense := range s.expenses {
		if expense.UserID == userID && r.Contains(expense.AddedAt) {
			matched = append(matched, expense)
		}
	}
	return matched
}

func (s *MemoryStorage) TotalAmount(ctx context.Context, userID int64, r models.TimeRange) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, expense := range s.inRange(userID, r) {
		total = total.Add(expense.Amount)
	}
	return total, nil
}

func (s *MemoryStorage) CategoryTotals(ctx context.Context, userID int64, r models.TimeRange) ([]models.CategoryBreakdown, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[string]decimal.Decimal)
	for _, expense := range s.inRange(userID, r) {
		totals[expense.Category] = totals[expense.Category].Add(expense.Amount)
	}

	breakdown := make([]models.CategoryBreakdown, 0, len(totals))
	for category, total := range totals {
		breakdown = append(breakdown, models.CategoryBreakdown{Category: category, Total: total})
	}
	SortBreakdown(breakdown)
	return breakdown, nil
}

func (s *MemoryStorage) CategoryAverages(ctx context.Context, userID int64, r models.TimeRange) ([]models.CategoryAverage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sums := make(map[string]decimal.Decimal)
	counts := make(map[string]int64)
	for _, expense := range s.inRange(userID, r) {
		sums[expense.Category] = sums[expense.Category].Add(expense.Amount)
		counts[expense.Category]++
	}

	averages := make([]models.CategoryAverage, 0, len(sums))
	for category, sum := range sums {
		averages = append(averages, models.CategoryAverage{
			Category: category,
			Average:  sum.DivRound(decimal.NewFromInt(counts[category]), money.Places),
		})
	}
	sort.Slice(averages, func(i, j int) bool { return averages[i].Category < averages[j].Category })
	return averages, nil
}

// Task methods
func (s *MemoryStorage) CreateTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	t := *task
	s.tasks[task.ID] = &t
	return nil
}

func (s *MemoryStorage) GetTask(ctx context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if task, exists := s.tasks[id]; exists {
		t := *task
		return &t, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) UpdateTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.tasks[task.ID]
	if !exists {
		return ErrNotFound
	}
	task.CreatedAt = existing.CreatedAt
	task.UpdatedAt = time.Now().UTC()
	t := *task
	s.tasks[task.ID] = &t
	return nil
}

func (s *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

// SortBreakdown orders categories by total, largest first, then by name.
func SortBreakdown(breakdown []models.CategoryBreakdown) {
	sort.Slice(breakdown, func(i, j int) bool {
		if c := breakdown[i].Total.Cmp(breakdown[j].Total); c != 0 {
			return c > 0
		}
		return breakdown[i].Category < breakdown[j].Category
	})
}
