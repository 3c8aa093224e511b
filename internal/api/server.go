package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"enforcement-engine/internal/config"
	"enforcement-engine/internal/enforce"
	"enforcement-engine/internal/models"
	"enforcement-engine/internal/ratelimit"
	"enforcement-engine/internal/telemetry"
)

// Server wires the HTTP handlers over the enforcement engine.
type Server struct {
	cfg     config.Config
	engine  *enforce.Engine
	limiter *ratelimit.TokenBucket
}

// New constructs the API server.
func New(cfg config.Config, eng *enforce.Engine, limiter *ratelimit.TokenBucket) *Server {
	return &Server{cfg: cfg, engine: eng, limiter: limiter}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleEnqueue)
	r.Post("/jobs/{kind}/dequeue", s.handleDequeue)
	r.Post("/jobs/{id}/ack", s.handleAck)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Get("/dlq", s.handleDLQ)

	r.Post("/cases/{judgmentID}/stage", s.handleSetStage)
	r.Get("/cases/{judgmentID}/stage/history", s.handleStageHistory)
	r.Post("/cases/{caseID}/tasks/generate", s.handleGenerateTasks)
	r.Post("/cases/{caseID}/rescore", s.handleRescore)
	r.Post("/calls/outcome", s.handleCallOutcome)

	r.Get("/views/pipeline", s.handlePipeline)
	r.Get("/views/call-queue", s.handleCallQueue)
	r.Get("/views/snapshot", s.handleSnapshot)
	return r
}

type enqueueRequest struct {
	Kind           string         `json:"kind"`
	IdempotencyKey string         `json:"idempotency_key"`
	Payload        map[string]any `json:"payload"`
}

type enqueueResponse struct {
	Job    models.Job `json:"job"`
	Reused bool       `json:"reused"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if !s.allow(w, r) {
		return
	}

	job, reused, err := s.engine.EnqueueJob(r.Context(), req.Kind, req.IdempotencyKey, req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{Job: job, Reused: reused})
}

func (s *Server) handleDequeue(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	job, err := s.engine.DequeueJob(r.Context(), kind)
	if err != nil {
		writeError(w, err)
		return
	}
	if job == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.AcknowledgeJob(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.engine.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	items, err := s.engine.DeadLetters(r.Context(), 100)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type setStageRequest struct {
	Stage     string `json:"stage"`
	Note      string `json:"note"`
	ChangedBy string `json:"changed_by"`
}

func (s *Server) handleSetStage(w http.ResponseWriter, r *http.Request) {
	var req setStageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	c, err := s.engine.SetStage(r.Context(), chi.URLParam(r, "judgmentID"), req.Stage, req.Note, req.ChangedBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleStageHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.StageHistory(r.Context(), chi.URLParam(r, "judgmentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type generatedTask struct {
	TaskID   string     `json:"task_id"`
	TaskCode string     `json:"task_code"`
	DueAt    *time.Time `json:"due_at"`
	Severity string     `json:"severity"`
}

func (s *Server) handleGenerateTasks(w http.ResponseWriter, r *http.Request) {
	created, err := s.engine.GenerateTasks(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]generatedTask, 0, len(created))
	for _, t := range created {
		out = append(out, generatedTask{TaskID: t.ID, TaskCode: t.TaskCode, DueAt: t.DueAt, Severity: t.Severity})
	}
	writeJSON(w, http.StatusOK, map[string]any{"created": out})
}

type rescoreRequest struct {
	Force       bool   `json:"force"`
	RequestedBy string `json:"requested_by"`
}

func (s *Server) handleRescore(w http.ResponseWriter, r *http.Request) {
	var req rescoreRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}
	if !s.allow(w, r) {
		return
	}

	job, err := s.engine.RequestRescore(r.Context(), chi.URLParam(r, "caseID"), req.Force, req.RequestedBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

type callOutcomeRequest struct {
	PlaintiffID   string     `json:"plaintiff_id"`
	TaskID        string     `json:"task_id"`
	Outcome       string     `json:"outcome"`
	InterestLevel string     `json:"interest_level"`
	Notes         string     `json:"notes"`
	FollowUpAt    *time.Time `json:"follow_up_at"`
}

func (s *Server) handleCallOutcome(w http.ResponseWriter, r *http.Request) {
	var req callOutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.PlaintiffID == "" || req.TaskID == "" {
		http.Error(w, "plaintiff_id and task_id are required", http.StatusBadRequest)
		return
	}

	res, err := s.engine.LogCallOutcome(r.Context(), req.PlaintiffID, req.TaskID, req.Outcome, req.InterestLevel, req.Notes, req.FollowUpAt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	rows, err := s.engine.Pipeline(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (s *Server) handleCallQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.CallQueue(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// allow applies the per-operator token bucket. A limiter error fails open;
// a drained bucket rejects with 429.
func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	allowed, _, err := s.limiter.AllowOperator(r.Context(), operatorFromRequest(r))
	if err != nil {
		return true
	}
	if !allowed {
		telemetry.RateLimitRejects.Inc()
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return false
	}
	return true
}

func operatorFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Operator-ID"); v != "" {
		return v
	}
	return "default"
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidKind),
		errors.Is(err, models.ErrMissingIdempotencyKey),
		errors.Is(err, models.ErrInvalidStage),
		errors.Is(err, models.ErrInvalidOutcome),
		errors.Is(err, models.ErrMissingPlaintiff):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, models.ErrCaseNotFound),
		errors.Is(err, models.ErrJobNotFound),
		errors.Is(err, models.ErrTaskNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
