package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xaenox/expense-bot/internal/models"
	"github.com/xaenox/expense-bot/internal/service"
	"github.com/xaenox/expense-bot/internal/tasks"
)

var errMalformedAmount = errors.New("amount must be a number")

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, messageResponse{Message: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// parseAmountField accepts a JSON number or a numeric string. Absent or null gives nil.
func parseAmountField(raw json.RawMessage) (*decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil, nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return nil, errMalformedAmount
		}
		s = strings.TrimSpace(str)
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return nil, errMalformedAmount
	}
	return &amount, nil
}

// parseTimestamp accepts RFC 3339 timestamps and plain YYYY-MM-DD dates.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if d, err := models.ParseDate(s); err == nil {
		return d.Time, nil
	}
	return time.Time{}, fmt.Errorf("added_at %q must be RFC 3339 or YYYY-MM-DD", s)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid expense id %q", r.PathValue("id"))
	}
	return id, nil
}

func queryInt(r *http.Request, key string) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

func queryInt64(r *http.Request, key string) (int64, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

func queryDate(r *http.Request, key string) (*models.Date, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return nil, nil
	}
	d, err := models.ParseDate(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return &d, nil
}

// writeServiceError maps domain errors onto status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrNotAnExpense):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUserNotFound):
		writeMessage(w, http.StatusNotFound, "User not found")
	case errors.Is(err, service.ErrExpenseNotFound):
		writeMessage(w, http.StatusNotFound, "Expense not found")
	case errors.Is(err, tasks.ErrTaskNotFound):
		writeMessage(w, http.StatusNotFound, "Task not found")
	default:
		s.logger.Error("Request failed",
			zap.Error(err),
			zap.String("request_id", RequestID(r.Context())),
			zap.String("path", r.URL.Path))
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}
