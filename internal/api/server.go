// Package api exposes the job lifecycle HTTP surface: job CRUD for clients,
// the claim route for workers, and the webhook callback receiver.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"jobrelay/internal/config"
	"jobrelay/internal/models"
	"jobrelay/internal/ratelimit"
	"jobrelay/internal/store"
	"jobrelay/internal/telemetry"
)

// Server wires HTTP handlers over the job store.
type Server struct {
	cfg     config.Config
	store   store.Store
	limiter *ratelimit.TokenBucket
	log     *slog.Logger
}

// New constructs the API server. limiter may be nil to disable rate limiting.
func New(cfg config.Config, st store.Store, limiter *ratelimit.TokenBucket, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{cfg: cfg, store: st, limiter: limiter, log: log}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.handleCreateJob)
		r.Get("/", s.handleListJobs)
		r.Get("/{id}", s.handleGetJob)
		r.Put("/{id}", s.handleUpdateJob)
		r.Delete("/{id}", s.handleDeleteJob)
		r.Post("/{id}/claim", s.handleClaimJob)
	})

	r.Post("/webhook/callback", s.handleWebhookCallback)
	r.Get("/webhook/logs", s.handleWebhookLogs)
	r.Get("/webhook/logs/{job_id}", s.handleWebhookLogsForJob)

	return r
}

type createJobRequest struct {
	Type      string         `json:"type"`
	InputData map[string]any `json:"input_data"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, kindValidation, "invalid json")
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, kindValidation, "type is required")
		return
	}

	if s.limiter != nil {
		key := fmt.Sprintf("rl:%s", clientIP(r))
		allowed, _, err := s.limiter.Allow(r.Context(), key)
		if err != nil {
			writeError(w, http.StatusInternalServerError, kindStore, "rate limit error")
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, kindRateLimited, "rate limited")
			return
		}
	}

	job, err := s.store.CreateJob(r.Context(), req.Type, req.InputData)
	if err != nil {
		s.log.Error("create job", "err", err)
		writeError(w, http.StatusInternalServerError, kindStore, "create failed")
		return
	}
	telemetry.JobsCreated.Inc()
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && !models.ValidStatus(status) {
		writeError(w, http.StatusBadRequest, kindValidation, "unknown status "+strconv.Quote(status))
		return
	}
	limit := parseIntQuery(r, "limit", 50)

	jobs, err := s.store.ListJobs(r.Context(), status, limit)
	if err != nil {
		s.log.Error("list jobs", "err", err)
		writeError(w, http.StatusInternalServerError, kindStore, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err, "get failed")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type updateJobRequest struct {
	Status     *string `json:"status"`
	ResultData any     `json:"result_data"`
	Error      *string `json:"error"`
}

// handleUpdateJob is the manual-correction path; the worker protocol itself
// goes through claim and the webhook callback.
func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	var req updateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, kindValidation, "invalid json")
		return
	}
	if req.Status != nil && !models.ValidStatus(*req.Status) {
		writeError(w, http.StatusBadRequest, kindValidation, "unknown status "+strconv.Quote(*req.Status))
		return
	}

	job, err := s.store.UpdateJob(r.Context(), chi.URLParam(r, "id"), store.UpdateJobParams{
		Status:     req.Status,
		ResultData: req.ResultData,
		Error:      req.Error,
	})
	if err != nil {
		s.writeStoreError(w, err, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteJob(r.Context(), id); err != nil {
		s.writeStoreError(w, err, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleClaimJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.ClaimJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err, "claim failed")
		return
	}
	telemetry.JobsClaimed.Inc()
	writeJSON(w, http.StatusOK, job)
}

// Error kinds carried in response bodies alongside the human-readable message.
const (
	kindValidation  = "validation_error"
	kindNotFound    = "not_found"
	kindConflict    = "conflict"
	kindRateLimited = "rate_limited"
	kindStore       = "store_error"
)

func (s *Server) writeStoreError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, kindNotFound, "job not found")
	case errors.Is(err, store.ErrAlreadyClaimed):
		writeError(w, http.StatusConflict, kindConflict, "job already claimed")
	case errors.Is(err, store.ErrTerminalState):
		writeError(w, http.StatusConflict, kindConflict, "job already in a terminal state")
	default:
		s.log.Error("store error", "err", err)
		writeError(w, http.StatusInternalServerError, kindStore, fallback)
	}
}

func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return def
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, code int, kind, message string) {
	writeJSON(w, code, errorBody{Error: kind, Message: message})
}
