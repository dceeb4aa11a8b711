package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xaenox/expense-bot/internal/models"
)

var (
	ErrNotAnExpense = errors.New("message is not an expense")
	ErrUnauthorized = errors.New("user not authorized")
	ErrNotFound     = errors.New("not found")
)

type Expense struct {
	ID          int64           `json:"id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	AddedAt     time.Time       `json:"added_at"`
}

type CategoryTotal struct {
	Category string          `json:"category"`
	Total    decimal.Decimal `json:"total"`
}

type Summary struct {
	TotalExpenses              decimal.Decimal `json:"total_expenses"`
	CategoryBreakdown          []CategoryTotal `json:"category_breakdown"`
	MonthlyVariationPercentage float64         `json:"monthly_variation_percentage"`
}

// ExpenseAPI is the part of the HTTP API the connector talks to.
type ExpenseAPI interface {
	Health(ctx context.Context) error
	AddExpense(ctx context.Context, telegramID, message string) (*Expense, error)
	RecentExpenses(ctx context.Context, telegramID string, limit int) ([]Expense, error)
	Summary(ctx context.Context, telegramID string, start, end models.Date) (*Summary, error)
}

type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *APIClient) Health(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil); err != nil {
		return fmt.Errorf("expense service health check failed: %w", err)
	}
	return nil
}

func (c *APIClient) AddExpense(ctx context.Context, telegramID, message string) (*Expense, error) {
	body := map[string]string{"telegram_id": telegramID, "message": message}

	var expense Expense
	if err := c.do(ctx, http.MethodPost, "/api/expenses", body, &expense); err != nil {
		return nil, err
	}
	return &expense, nil
}

func (c *APIClient) RecentExpenses(ctx context.Context, telegramID string, limit int) ([]Expense, error) {
	query := url.Values{}
	query.Set("telegram_id", telegramID)
	query.Set("limit", strconv.Itoa(limit))

	var page struct {
		Expenses []Expense `json:"expenses"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/expenses?"+query.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return page.Expenses, nil
}

func (c *APIClient) Summary(ctx context.Context, telegramID string, start, end models.Date) (*Summary, error) {
	query := url.Values{}
	query.Set("telegram_id", telegramID)
	query.Set("start_date", start.String())
	query.Set("end_date", end.String())

	var summary Summary
	if err := c.do(ctx, http.MethodGet, "/api/analytics/sync?"+query.Encode(), nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest && method == http.MethodPost:
		return ErrNotAnExpense
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= http.StatusBadRequest:
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Message == "" {
			apiErr.Message = "unknown error"
		}
		return fmt.Errorf("expense service error %d: %s", resp.StatusCode, apiErr.Message)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
