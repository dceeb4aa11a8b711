package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const readinessTimeout = 2 * time.Second

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "alive"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	resp := healthResponse{Status: "ready", Checks: make(map[string]string, len(s.checks))}
	status := http.StatusOK

	for _, check := range s.checks {
		if err := check.Check(ctx); err != nil {
			s.logger.Warn("Readiness check failed", zap.String("check", check.Name), zap.Error(err))
			resp.Checks[check.Name] = err.Error()
			resp.Status = "not ready"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[check.Name] = "ok"
	}

	writeJSON(w, status, resp)
}
