package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"jobrelay/internal/models"
	"jobrelay/internal/store"
	"jobrelay/internal/telemetry"
)

const maxCallbackBytes = 1 << 20

// callbackRequest is the worker-to-store completion report.
type callbackRequest struct {
	JobID      string  `json:"job_id"`
	Status     string  `json:"status"`
	ResultData any     `json:"result_data"`
	Error      *string `json:"error"`
}

// handleWebhookCallback applies a worker-reported transition. The audit row
// is written first and unconditionally; the job mutation that follows is
// conditional on the job existing and the transition being applicable, and
// only its success flips the row to processed.
func (s *Server) handleWebhookCallback(w http.ResponseWriter, r *http.Request) {
	telemetry.WebhookReceived.Inc()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, kindValidation, "unreadable body")
		return
	}

	var req callbackRequest
	parseErr := json.Unmarshal(body, &req)

	// Audit every inbound callback, malformed or not. If the referenced
	// job is unknown the row stays processed=false forever, which is the
	// forensic record of an invalid or late callback.
	logID, err := s.store.AppendWebhookLog(r.Context(), req.JobID, body, r.Header)
	if err != nil {
		s.log.Error("append webhook log", "err", err)
		writeError(w, http.StatusInternalServerError, kindStore, "audit write failed")
		return
	}

	if parseErr != nil {
		telemetry.WebhookUnprocessed.Inc()
		writeError(w, http.StatusBadRequest, kindValidation, "invalid json")
		return
	}
	if req.JobID == "" {
		telemetry.WebhookUnprocessed.Inc()
		writeError(w, http.StatusBadRequest, kindValidation, "job_id is required")
		return
	}
	if req.Status != models.StatusRunning && !models.IsTerminal(req.Status) {
		telemetry.WebhookUnprocessed.Inc()
		writeError(w, http.StatusBadRequest, kindValidation, "status must be running, completed or failed")
		return
	}

	if _, err := s.store.GetJob(r.Context(), req.JobID); err != nil {
		telemetry.WebhookUnprocessed.Inc()
		s.writeStoreError(w, err, "lookup failed")
		return
	}

	status := req.Status
	_, err = s.store.UpdateJob(r.Context(), req.JobID, store.UpdateJobParams{
		Status:     &status,
		ResultData: req.ResultData,
		Error:      req.Error,
	})
	if err != nil {
		telemetry.WebhookUnprocessed.Inc()
		if errors.Is(err, store.ErrTerminalState) {
			s.log.Warn("callback for terminal job rejected", "job_id", req.JobID, "status", req.Status)
		}
		s.writeStoreError(w, err, "apply failed")
		return
	}

	if err := s.store.MarkWebhookLogProcessed(r.Context(), logID); err != nil {
		s.log.Error("mark webhook log processed", "err", err, "log_id", logID)
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": req.JobID})
}

func (s *Server) handleWebhookLogs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", 50)
	logs, err := s.store.ListWebhookLogs(r.Context(), limit)
	if err != nil {
		s.log.Error("list webhook logs", "err", err)
		writeError(w, http.StatusInternalServerError, kindStore, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) handleWebhookLogsForJob(w http.ResponseWriter, r *http.Request) {
	logs, err := s.store.WebhookLogsForJob(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.log.Error("webhook logs for job", "err", err)
		writeError(w, http.StatusInternalServerError, kindStore, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}
