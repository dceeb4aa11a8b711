package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DateLayout = "2006-01-02"

// Date is a calendar day encoded as YYYY-MM-DD.
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// AnalyticsRequest asks for the statistics of one user, optionally bounded by
// whole days. The user is identified by UserID or TelegramID.
type AnalyticsRequest struct {
	UserID     int64  `json:"user_id,omitempty"`
	TelegramID string `json:"telegram_id,omitempty"`
	StartDate  *Date  `json:"start_date,omitempty"`
	EndDate    *Date  `json:"end_date,omitempty"`
}

// Range converts the inclusive day bounds into a half-open time range.
func (r AnalyticsRequest) Range() TimeRange {
	var tr TimeRange
	if r.StartDate != nil {
		tr.From = r.StartDate.Time
	}
	if r.EndDate != nil {
		tr.To = r.EndDate.AddDate(0, 0, 1)
	}
	return tr
}

type CategoryBreakdown struct {
	Category string          `json:"category"`
	Total    decimal.Decimal `json:"total"`
}

type CategoryAverage struct {
	Category string
	Average  decimal.Decimal
}

type AnalyticsResult struct {
	UserID                     int64                      `json:"user_id"`
	TotalExpenses              decimal.Decimal            `json:"total_expenses"`
	StartDate                  *Date                      `json:"start_date"`
	EndDate                    *Date                      `json:"end_date"`
	CategoryBreakdown          []CategoryBreakdown        `json:"category_breakdown"`
	AverageByCategory          map[string]decimal.Decimal `json:"average_by_category"`
	MonthlyVariationPercentage float64                    `json:"monthly_variation_percentage"`
}
