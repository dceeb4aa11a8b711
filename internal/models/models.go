package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a person writing to the bot from an external messaging channel.
type User struct {
	ID         int64     `json:"id"`
	TelegramID string    `json:"telegram_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Expense is a single recorded monetary outflow.
type Expense struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	AddedAt     time.Time       `json:"added_at"`
}

type ClassificationSource string

const (
	SourceModel    ClassificationSource = "model"
	SourceFallback ClassificationSource = "fallback"
)

// Classification is what could be extracted from a free-text message.
type Classification struct {
	Category    string               `json:"category"`
	Amount      decimal.Decimal      `json:"amount"`
	Description string               `json:"description"`
	Source      ClassificationSource `json:"source"`
}

// ExpenseFilter selects a page of expenses. A zero UserID means all users.
type ExpenseFilter struct {
	UserID int64
	Skip   int
	Limit  int
}

// ExpensePatch holds the fields of a partial update; nil fields are left alone.
type ExpensePatch struct {
	Description *string
	Amount      *decimal.Decimal
	Category    *string
}

// TimeRange is half-open: From <= t < To. Zero bounds are unbounded.
type TimeRange struct {
	From time.Time
	To   time.Time
}

func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}
