package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xaenox/expense-bot/internal/models"
	"github.com/xaenox/expense-bot/internal/money"
	"github.com/xaenox/expense-bot/internal/storage"
)

type AnalyticsStore interface {
	storage.UserStorage
	storage.AnalyticsStorage
}

type AnalyticsService struct {
	store  AnalyticsStore
	logger *zap.Logger
}

func NewAnalyticsService(store AnalyticsStore, logger *zap.Logger) *AnalyticsService {
	return &AnalyticsService{
		store:  store,
		logger: logger.Named("analytics"),
	}
}

// Validate checks a request without touching storage.
func (s *AnalyticsService) Validate(req models.AnalyticsRequest) error {
	if req.UserID < 0 {
		return validationError("user_id must be positive")
	}
	if req.UserID == 0 && req.TelegramID == "" {
		return validationError("user_id or telegram_id is required")
	}
	if req.StartDate != nil && req.EndDate != nil && req.StartDate.After(req.EndDate.Time) {
		return validationError("start_date %s is after end_date %s", req.StartDate, req.EndDate)
	}
	return nil
}

// Compute aggregates the expenses of one user. Failing aggregates degrade to
// zero or empty values; only validation and user lookup errors are returned.
func (s *AnalyticsService) Compute(ctx context.Context, req models.AnalyticsRequest) (*models.AnalyticsResult, error) {
	if err := s.Validate(req); err != nil {
		return nil, err
	}

	user, err := lookupUser(ctx, s.store, req.UserID, req.TelegramID)
	if err != nil {
		return nil, err
	}

	r := req.Range()
	logger := s.logger.With(zap.Int64("user_id", user.ID))

	total, err := s.store.TotalAmount(ctx, user.ID, r)
	if err != nil {
		logger.Warn("Could not calculate total expenses", zap.Error(err))
		total = decimal.Zero
	}

	breakdown, err := s.store.CategoryTotals(ctx, user.ID, r)
	if err != nil {
		logger.Warn("Could not calculate category breakdown", zap.Error(err))
		breakdown = nil
	}
	if breakdown == nil {
		breakdown = []models.CategoryBreakdown{}
	}
	storage.SortBreakdown(breakdown)

	averages := make(map[string]decimal.Decimal)
	categoryAverages, err := s.store.CategoryAverages(ctx, user.ID, r)
	if err != nil {
		logger.Warn("Could not calculate category averages", zap.Error(err))
	}
	for _, avg := range categoryAverages {
		averages[avg.Category] = money.Round(avg.Average)
	}

	// Only a bounded range has a month to compare against.
	var variation float64
	if req.StartDate != nil && req.EndDate != nil {
		variation, err = s.monthlyVariation(ctx, user.ID, req.EndDate.Time)
		if err != nil {
			logger.Warn("Could not calculate monthly variation", zap.Error(err))
			variation = 0
		}
	}

	result := &models.AnalyticsResult{
		UserID:                     user.ID,
		TotalExpenses:              money.Round(total),
		StartDate:                  req.StartDate,
		EndDate:                    req.EndDate,
		CategoryBreakdown:          breakdown,
		AverageByCategory:          averages,
		MonthlyVariationPercentage: variation,
	}

	logger.Info("Analytics computed",
		zap.String("total", money.Format(result.TotalExpenses)),
		zap.Int("categories", len(breakdown)),
		zap.Float64("monthly_variation", variation))

	return result, nil
}

// monthlyVariation compares the calendar month containing end with the month before it.
func (s *AnalyticsService) monthlyVariation(ctx context.Context, userID int64, end time.Time) (float64, error) {
	current := MonthRange(end)
	previous := MonthRange(current.From.AddDate(0, -1, 0))

	currentTotal, err := s.store.TotalAmount(ctx, userID, current)
	if err != nil {
		return 0, err
	}
	previousTotal, err := s.store.TotalAmount(ctx, userID, previous)
	if err != nil {
		return 0, err
	}
	return Variation(currentTotal, previousTotal), nil
}

// MonthRange returns the calendar month containing t.
func MonthRange(t time.Time) models.TimeRange {
	t = t.UTC()
	from := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return models.TimeRange{From: from, To: from.AddDate(0, 1, 0)}
}

// Variation is the percentage change from previous to current, rounded to two
// places. It is zero when there is nothing to compare against.
func Variation(current, previous decimal.Decimal) float64 {
	if previous.IsZero() {
		return 0
	}
	return current.Sub(previous).
		Div(previous).
		Mul(decimal.NewFromInt(100)).
		Round(2).
		InexactFloat64()
}
