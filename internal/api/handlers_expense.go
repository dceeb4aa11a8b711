package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/xaenox/expense-bot/internal/service"
)

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var req createExpenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	amount, err := parseAmountField(req.Amount)
	if err != nil {
		writeMessage(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	addedAt, err := parseTimestamp(req.AddedAt)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	text := req.Message
	if strings.TrimSpace(text) == "" {
		text = req.Text
	}

	expense, err := s.expenses.Create(r.Context(), service.CreateExpenseInput{
		UserID:      req.UserID,
		TelegramID:  string(req.TelegramID),
		Description: req.Description,
		Amount:      amount,
		Category:    req.Category,
		Text:        text,
		AddedAt:     addedAt,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createExpenseResponse{
		expenseResponse: newExpenseResponse(expense),
		Message:         expense.Category + " expense added",
	})
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip")
	if err == nil && skip < 0 {
		err = errors.New("skip must not be negative")
	}
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	userID, err := queryInt64(r, "user_id")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := s.expenses.List(r.Context(), service.ListExpensesInput{
		UserID:     userID,
		TelegramID: r.URL.Query().Get("telegram_id"),
		Skip:       skip,
		Limit:      limit,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	resp := listExpensesResponse{
		Expenses: make([]expenseResponse, 0, len(page.Expenses)),
		Total:    page.Total,
		Skip:     page.Skip,
		Limit:    page.Limit,
	}
	for _, expense := range page.Expenses {
		resp.Expenses = append(resp.Expenses, newExpenseResponse(expense))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	expense, err := s.expenses.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newExpenseResponse(expense))
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	var req updateExpenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmountField(req.Amount)
	if err != nil {
		writeMessage(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	expense, err := s.expenses.Update(r.Context(), id, service.UpdateExpenseInput{
		Description: req.Description,
		Amount:      amount,
		Category:    req.Category,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newExpenseResponse(expense))
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.expenses.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Expense deleted successfully")
}
