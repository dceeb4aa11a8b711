package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xaenox/expense-bot/internal/models"
	"github.com/xaenox/expense-bot/internal/money"
)

// externalID accepts a chat id sent either as a JSON string or a number.
type externalID string

func (id *externalID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = externalID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("telegram_id must be a string or a number")
	}
	*id = externalID(n.String())
	return nil
}

type createExpenseRequest struct {
	UserID      int64           `json:"user_id"`
	TelegramID  externalID      `json:"telegram_id"`
	Description string          `json:"description"`
	Amount      json.RawMessage `json:"amount"`
	Category    string          `json:"category"`
	Message     string          `json:"message"`
	Text        string          `json:"text"`
	AddedAt     string          `json:"added_at"`
}

type updateExpenseRequest struct {
	Description *string         `json:"description"`
	Amount      json.RawMessage `json:"amount"`
	Category    *string         `json:"category"`
}

type analyticsRequest struct {
	UserID     int64        `json:"user_id"`
	TelegramID externalID   `json:"telegram_id"`
	StartDate  *models.Date `json:"start_date"`
	EndDate    *models.Date `json:"end_date"`
}

func (r analyticsRequest) toModel() models.AnalyticsRequest {
	return models.AnalyticsRequest{
		UserID:     r.UserID,
		TelegramID: string(r.TelegramID),
		StartDate:  r.StartDate,
		EndDate:    r.EndDate,
	}
}

type expenseResponse struct {
	ID          int64       `json:"id"`
	UserID      int64       `json:"user_id"`
	Description string      `json:"description"`
	Amount      json.Number `json:"amount"`
	Category    string      `json:"category"`
	AddedAt     time.Time   `json:"added_at"`
}

type createExpenseResponse struct {
	expenseResponse
	Message string `json:"message"`
}

type listExpensesResponse struct {
	Expenses []expenseResponse `json:"expenses"`
	Total    int               `json:"total"`
	Skip     int               `json:"skip"`
	Limit    int               `json:"limit"`
}

type categoryTotalResponse struct {
	Category string      `json:"category"`
	Total    json.Number `json:"total"`
}

type analyticsResponse struct {
	UserID                     int64                   `json:"user_id"`
	TotalExpenses              json.Number             `json:"total_expenses"`
	StartDate                  *models.Date            `json:"start_date"`
	EndDate                    *models.Date            `json:"end_date"`
	CategoryBreakdown          []categoryTotalResponse `json:"category_breakdown"`
	AverageByCategory          map[string]json.Number  `json:"average_by_category"`
	MonthlyVariationPercentage float64                 `json:"monthly_variation_percentage"`
}

type taskSubmittedResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

type taskStatusResponse struct {
	TaskID string             `json:"task_id"`
	Status string             `json:"status"`
	Result *analyticsResponse `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func amountJSON(d decimal.Decimal) json.Number {
	return json.Number(money.Format(d))
}

func newExpenseResponse(e *models.Expense) expenseResponse {
	return expenseResponse{
		ID:          e.ID,
		UserID:      e.UserID,
		Description: e.Description,
		Amount:      amountJSON(e.Amount),
		Category:    e.Category,
		AddedAt:     e.AddedAt,
	}
}

func newAnalyticsResponse(r *models.AnalyticsResult) *analyticsResponse {
	breakdown := make([]categoryTotalResponse, 0, len(r.CategoryBreakdown))
	for _, item := range r.CategoryBreakdown {
		breakdown = append(breakdown, categoryTotalResponse{Category: item.Category, Total: amountJSON(item.Total)})
	}

	averages := make(map[string]json.Number, len(r.AverageByCategory))
	for category, avg := range r.AverageByCategory {
		averages[category] = amountJSON(avg)
	}

	return &analyticsResponse{
		UserID:                     r.UserID,
		TotalExpenses:              amountJSON(r.TotalExpenses),
		StartDate:                  r.StartDate,
		EndDate:                    r.EndDate,
		CategoryBreakdown:          breakdown,
		AverageByCategory:          averages,
		MonthlyVariationPercentage: r.MonthlyVariationPercentage,
	}
}

func newTaskStatusResponse(task *models.Task) taskStatusResponse {
	resp := taskStatusResponse{
		TaskID: task.ID,
		Status: task.State.Label(),
		Error:  task.Error,
	}
	if task.Result != nil {
		resp.Result = newAnalyticsResponse(task.Result)
	}
	return resp
}
