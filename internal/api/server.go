// Package api exposes expenses and analytics over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/expense-bot/internal/models"
	"github.com/xaenox/expense-bot/internal/service"
	"github.com/xaenox/expense-bot/pkg/config"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 30 * time.Second
)

type ExpenseService interface {
	Create(ctx context.Context, in service.CreateExpenseInput) (*models.Expense, error)
	List(ctx context.Context, in service.ListExpensesInput) (*service.ExpensePage, error)
	Get(ctx context.Context, id int64) (*models.Expense, error)
	Update(ctx context.Context, id int64, in service.UpdateExpenseInput) (*models.Expense, error)
	Delete(ctx context.Context, id int64) error
}

type AnalyticsService interface {
	Compute(ctx context.Context, req models.AnalyticsRequest) (*models.AnalyticsResult, error)
}

type TaskQueue interface {
	Submit(ctx context.Context, req models.AnalyticsRequest) (*models.Task, error)
	Status(ctx context.Context, id string) (*models.Task, error)
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Dependencies struct {
	Expenses  ExpenseService
	Analytics AnalyticsService
	Tasks     TaskQueue
	Checks    []ReadinessCheck
}

type Server struct {
	http.Server
	expenses  ExpenseService
	analytics AnalyticsService
	tasks     TaskQueue
	checks    []ReadinessCheck
	logger    *zap.Logger
}

func NewServer(cfg config.ServerConfig, deps Dependencies, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:         cfg.Addr(),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		expenses:  deps.Expenses,
		analytics: deps.Analytics,
		tasks:     deps.Tasks,
		checks:    deps.Checks,
		logger:    logger.Named("api"),
	}

	mux.HandleFunc("POST /api/expenses", s.handleCreateExpense)
	mux.HandleFunc("GET /api/expenses", s.handleListExpenses)
	mux.HandleFunc("GET /api/expenses/{id}", s.handleGetExpense)
	mux.HandleFunc("PUT /api/expenses/{id}", s.handleUpdateExpense)
	mux.HandleFunc("DELETE /api/expenses/{id}", s.handleDeleteExpense)

	mux.HandleFunc("POST /api/analytics", s.handleSubmitAnalytics)
	mux.HandleFunc("GET /api/analytics/status/{task_id}", s.handleAnalyticsStatus)
	mux.HandleFunc("GET /api/analytics/sync", s.handleAnalyticsSync)

	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /health/live", handleLive)
	mux.HandleFunc("GET /health/ready", s.handleReady)

	s.Handler = s.withRequestID(s.withAccessLog(s.withRecovery(mux)))

	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", s.Addr))
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
