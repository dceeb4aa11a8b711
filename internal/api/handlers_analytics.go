package api

import (
	"net/http"

	"github.com/xaenox/expense-bot/internal/models"
)

func (s *Server) handleSubmitAnalytics(w http.ResponseWriter, r *http.Request) {
	var req analyticsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	task, err := s.tasks.Submit(r.Context(), req.toModel())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, taskSubmittedResponse{
		TaskID: task.ID,
		Status: task.State.Label(),
	})
}

func (s *Server) handleAnalyticsStatus(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Status(r.Context(), r.PathValue("task_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTaskStatusResponse(task))
}

func (s *Server) handleAnalyticsSync(w http.ResponseWriter, r *http.Request) {
	userID, err := queryInt64(r, "user_id")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	start, err := queryDate(r, "start_date")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := queryDate(r, "end_date")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.analytics.Compute(r.Context(), models.AnalyticsRequest{
		UserID:     userID,
		TelegramID: r.URL.Query().Get("telegram_id"),
		StartDate:  start,
		EndDate:    end,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAnalyticsResponse(result))
}
