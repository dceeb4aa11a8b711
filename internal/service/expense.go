package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xaenox/expense-bot/internal/classifier"
	"github.com/xaenox/expense-bot/internal/models"
	"github.com/xaenox/expense-bot/internal/money"
	"github.com/xaenox/expense-bot/internal/storage"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// CreateExpenseInput is either structured fields, free text, or a mix of both.
// Structured fields win over whatever the classifier extracts from Text.
type CreateExpenseInput struct {
	UserID      int64
	TelegramID  string
	Description string
	Amount      *decimal.Decimal
	Category    string
	Text        string
	AddedAt     time.Time
}

type ListExpensesInput struct {
	UserID     int64
	TelegramID string
	Skip       int
	Limit      int
}

type ExpensePage struct {
	Expenses []*models.Expense
	Total    int
	Skip     int
	Limit    int
}

type UpdateExpenseInput struct {
	Description *string
	Amount      *decimal.Decimal
	Category    *string
}

type ExpenseService struct {
	store      storage.Storage
	classifier classifier.Classifier
	logger     *zap.Logger
	now        func() time.Time
}

func NewExpenseService(store storage.Storage, cls classifier.Classifier, logger *zap.Logger) *ExpenseService {
	return &ExpenseService{
		store:      store,
		classifier: cls,
		logger:     logger.Named("expenses"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *ExpenseService) Create(ctx context.Context, in CreateExpenseInput) (*models.Expense, error) {
	telegramID := strings.TrimSpace(in.TelegramID)
	if in.UserID < 0 {
		return nil, validationError("user_id must be positive")
	}
	if in.UserID == 0 && telegramID == "" {
		return nil, validationError("user_id or telegram_id is required")
	}

	description := strings.TrimSpace(in.Description)
	category := strings.TrimSpace(in.Category)
	amount := in.Amount
	text := strings.TrimSpace(in.Text)

	if text != "" && (amount == nil || category == "" || description == "") {
		textOnly := amount == nil && category == "" && description == ""
		result := s.classifier.Classify(ctx, text)

		if textOnly && result.Amount.IsZero() {
			s.logger.Debug("Ignoring message without an amount", zap.String("text", text))
			return nil, ErrNotAnExpense
		}

		if amount == nil {
			classified := result.Amount
			amount = &classified
		}
		if category == "" {
			category = result.Category
		}
		if description == "" {
			description = result.Description
		}
	}

	if err := validateFields(description, amount, category); err != nil {
		return nil, err
	}

	user, err := s.resolveCreator(ctx, in.UserID, telegramID)
	if err != nil {
		return nil, err
	}

	addedAt := in.AddedAt
	if addedAt.IsZero() {
		addedAt = s.now()
	}

	expense := &models.Expense{
		UserID:      user.ID,
		Description: description,
		Amount:      *amount,
		Category:    category,
		AddedAt:     addedAt.UTC(),
	}
	if err := s.store.CreateExpense(ctx, expense); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("create expense: %w", err)
	}

	s.logger.Info("Expense created",
		zap.Int64("expense_id", expense.ID),
		zap.Int64("user_id", expense.UserID),
		zap.String("category", expense.Category),
		zap.String("amount", money.Format(expense.Amount)))

	return expense, nil
}

// resolveCreator accepts an existing user id or registers a telegram id on first contact.
func (s *ExpenseService) resolveCreator(ctx context.Context, userID int64, telegramID string) (*models.User, error) {
	if userID > 0 {
		return lookupUser(ctx, s.store, userID, "")
	}
	user, err := s.store.EnsureUser(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return user, nil
}

func (s *ExpenseService) List(ctx context.Context, in ListExpensesInput) (*ExpensePage, error) {
	if in.Skip < 0 {
		return nil, validationError("skip must not be negative")
	}
	switch {
	case in.Limit < 0:
		return nil, validationError("limit must not be negative")
	case in.Limit == 0:
		in.Limit = DefaultPageLimit
	case in.Limit > MaxPageLimit:
		in.Limit = MaxPageLimit
	}

	filter := models.ExpenseFilter{Skip: in.Skip, Limit: in.Limit}
	if in.UserID != 0 || strings.TrimSpace(in.TelegramID) != "" {
		user, err := lookupUser(ctx, s.store, in.UserID, in.TelegramID)
		if errors.Is(err, ErrUserNotFound) && in.UserID == 0 {
			// A chat that never recorded anything simply has no expenses yet.
			return &ExpensePage{Expenses: []*models.Expense{}, Skip: in.Skip, Limit: in.Limit}, nil
		}
		if err != nil {
			return nil, err
		}
		filter.UserID = user.ID
	}

	expenses, err := s.store.ListExpenses(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	total, err := s.store.CountExpenses(ctx, filter.UserID)
	if err != nil {
		return nil, fmt.Errorf("count expenses: %w", err)
	}

	return &ExpensePage{Expenses: expenses, Total: total, Skip: in.Skip, Limit: in.Limit}, nil
}

func (s *ExpenseService) Get(ctx context.Context, id int64) (*models.Expense, error) {
	expense, err := s.store.GetExpense(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrExpenseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get expense: %w", err)
	}
	return expense, nil
}

func (s *ExpenseService) Update(ctx context.Context, id int64, in UpdateExpenseInput) (*models.Expense, error) {
	if in.Description == nil && in.Amount == nil && in.Category == nil {
		return nil, validationError("nothing to update")
	}

	var patch models.ExpensePatch
	if in.Description != nil {
		description := strings.TrimSpace(*in.Description)
		if description == "" {
			return nil, validationError("description must not be empty")
		}
		patch.Description = &description
	}
	if in.Category != nil {
		category := strings.TrimSpace(*in.Category)
		if category == "" {
			return nil, validationError("category must not be empty")
		}
		patch.Category = &category
	}
	if in.Amount != nil {
		if err := validateAmount(*in.Amount); err != nil {
			return nil, err
		}
		patch.Amount = in.Amount
	}

	expense, err := s.store.UpdateExpense(ctx, id, patch)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrExpenseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update expense: %w", err)
	}

	s.logger.Info("Expense updated", zap.Int64("expense_id", id))
	return expense, nil
}

func (s *ExpenseService) Delete(ctx context.Context, id int64) error {
	err := s.store.DeleteExpense(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrExpenseNotFound
	}
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}

	s.logger.Info("Expense deleted", zap.Int64("expense_id", id))
	return nil
}

func validateFields(description string, amount *decimal.Decimal, category string) error {
	if description == "" {
		return validationError("description is required")
	}
	if category == "" {
		return validationError("category is required")
	}
	if amount == nil {
		return validationError("amount is required")
	}
	return validateAmount(*amount)
}

func validateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return validationError("amount must not be negative")
	}
	if !amount.Equal(money.Round(amount)) {
		return validationError("amount must have at most %d decimal places", money.Places)
	}
	if amount.GreaterThan(money.MaxAmount) {
		return validationError("amount must not exceed %s", money.Format(money.MaxAmount))
	}
	return nil
}
